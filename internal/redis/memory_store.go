// This file implements an in-memory channel with the same behavior as the Redis
// client, so that several tabs in one process can share activity without Redis.
package redis

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/sixcolors/gofiber-react-session-csrf-example/internal/models"
)

// subscriberBuffer bounds how far a slow subscriber may fall behind. Markers
// are last-write-wins, so an overflowing subscriber only loses stale ones.
const subscriberBuffer = 16

// MemoryStore is an in-process hub: it keeps the latest marker and fans every
// published marker out to all current subscribers, the publisher included.
type MemoryStore struct {
	mu          sync.RWMutex
	latest      *models.ActivityMarker
	subscribers map[uint64]chan models.ActivityMarker
	nextID      uint64
	closed      bool
	logger      *logrus.Logger
}

// NewMemoryStore creates an empty hub.
func NewMemoryStore(logger *logrus.Logger) *MemoryStore {
	logger.Info("In-memory activity channel initialized")
	return &MemoryStore{
		subscribers: make(map[uint64]chan models.ActivityMarker),
		logger:      logger,
	}
}

// Publish replaces the latest marker and delivers it to every subscriber.
func (m *MemoryStore) Publish(_ context.Context, marker models.ActivityMarker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	latest := marker
	m.latest = &latest

	for id, ch := range m.subscribers {
		select {
		case ch <- marker:
		default:
			// drop the oldest queued marker to make room for the newest
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- marker:
			default:
			}
			m.logger.WithField("subscriber", id).Debug("Activity subscriber lagging, dropped a stale marker")
		}
	}
	return nil
}

// Subscribe returns a feed of markers that closes when ctx is done or the
// store is closed.
func (m *MemoryStore) Subscribe(ctx context.Context) (<-chan models.ActivityMarker, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	m.nextID++
	id := m.nextID
	ch := make(chan models.ActivityMarker, subscriberBuffer)
	m.subscribers[id] = ch
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.unsubscribe(id)
	}()

	return ch, nil
}

// Latest returns the most recently published marker.
func (m *MemoryStore) Latest(_ context.Context) (models.ActivityMarker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.latest == nil {
		return models.ActivityMarker{}, fmt.Errorf("memory channel: %w", ErrNoMarker)
	}
	return *m.latest, nil
}

// Ping reports whether the hub is still open.
func (m *MemoryStore) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close ends every subscription.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	for id, ch := range m.subscribers {
		close(ch)
		delete(m.subscribers, id)
	}
	m.logger.Info("In-memory activity channel closed")
	return nil
}

func (m *MemoryStore) unsubscribe(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ch, ok := m.subscribers[id]; ok {
		close(ch)
		delete(m.subscribers, id)
	}
}
