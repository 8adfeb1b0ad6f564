// Package filestore shares the activity marker through a file, for guardian
// processes on one machine without Redis. Writes are atomic renames; readers
// learn about changes through fsnotify.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/sixcolors/gofiber-react-session-csrf-example/internal/crosstab"
	"github.com/sixcolors/gofiber-react-session-csrf-example/internal/models"
)

// Store is a file-backed crosstab.Channel.
type Store struct {
	path   string
	dir    string
	logger *logrus.Logger

	mu sync.Mutex
}

// New creates a store at path, creating its directory if needed.
func New(path string, logger *logrus.Logger) (*Store, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve marker path: %w", err)
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create marker directory: %w", err)
	}

	return &Store{path: abs, dir: dir, logger: logger}, nil
}

// Path returns the absolute marker file path.
func (s *Store) Path() string {
	return s.path
}

// Publish atomically replaces the marker file.
func (s *Store) Publish(_ context.Context, marker models.ActivityMarker) error {
	data, err := json.Marshal(marker)
	if err != nil {
		return fmt.Errorf("failed to marshal activity marker: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, ".marker-*")
	if err != nil {
		return fmt.Errorf("failed to create temp marker: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write temp marker: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp marker: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace marker file: %w", err)
	}
	return nil
}

// Ping checks that the marker directory is still usable.
func (s *Store) Ping(_ context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("marker directory unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("marker directory %s is not a directory", s.dir)
	}
	return nil
}

// Close is a no-op; subscriptions end with their context.
func (s *Store) Close() error {
	return nil
}

// Latest reads the marker file.
func (s *Store) Latest(_ context.Context) (models.ActivityMarker, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return models.ActivityMarker{}, fmt.Errorf("marker file %s: %w", s.path, crosstab.ErrNoMarker)
	}
	if err != nil {
		return models.ActivityMarker{}, fmt.Errorf("failed to read marker file: %w", err)
	}

	var marker models.ActivityMarker
	if err := json.Unmarshal(data, &marker); err != nil {
		return models.ActivityMarker{}, fmt.Errorf("failed to unmarshal marker file: %w", err)
	}
	return marker, nil
}

// Subscribe watches the marker directory and emits the marker each time the
// file is replaced. Repeated events for the same marker are collapsed.
func (s *Store) Subscribe(ctx context.Context) (<-chan models.ActivityMarker, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	// the directory is watched because rename replaces the file's inode
	if err := watcher.Add(s.dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", s.dir, err)
	}

	out := make(chan models.ActivityMarker)
	go s.watch(ctx, watcher, out)
	return out, nil
}

func (s *Store) watch(ctx context.Context, watcher *fsnotify.Watcher, out chan<- models.ActivityMarker) {
	defer close(out)
	defer watcher.Close()

	var last models.ActivityMarker
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}

			marker, err := s.Latest(ctx)
			if err != nil {
				s.logger.WithError(err).Debug("Marker file changed but could not be read")
				continue
			}
			if marker == last {
				continue
			}
			last = marker

			select {
			case out <- marker:
			case <-ctx.Done():
				return
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.WithError(err).Warn("Marker file watcher error")
		}
	}
}
