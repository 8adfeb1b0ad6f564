// Package crosstab keeps expiry prediction consistent across tabs that share
// one server session. Every successful request publishes an activity marker;
// peers treat a fresh marker as activity of their own.
//
// A tab runs two single-shot timers: the scheduler's warning timer, re-anchored
// through the session store, and the lapse check armed here at remaining+grace.
package crosstab

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/sixcolors/gofiber-react-session-csrf-example/internal/metrics"
	"github.com/sixcolors/gofiber-react-session-csrf-example/internal/models"
)

// ErrNoMarker is returned by Channel.Latest when nothing was published yet.
var ErrNoMarker = errors.New("no activity marker")

// Channel is the shared, last-write-wins activity marker plus its change feed.
type Channel interface {
	// Publish replaces the shared marker and notifies subscribers.
	Publish(ctx context.Context, marker models.ActivityMarker) error
	// Subscribe streams markers until ctx is done, then closes the channel.
	Subscribe(ctx context.Context) (<-chan models.ActivityMarker, error)
	// Latest returns the current marker or an error wrapping ErrNoMarker.
	Latest(ctx context.Context) (models.ActivityMarker, error)
}

// SessionStore is the part of session.Store the synchronizer uses.
type SessionStore interface {
	Snapshot() models.SessionState
	TouchActivity(at time.Time)
}

// Rechecker starts a background authentication check. *session.Handle satisfies it.
type Rechecker interface {
	InvokeAsync(ctx context.Context)
}

// Config holds synchronizer settings.
type Config struct {
	// Origin identifies this tab's markers. A random UUID when empty.
	Origin string
	// LapseGrace is added to the peer-derived remaining lifetime before the
	// lapse check runs.
	LapseGrace time.Duration
}

// Synchronizer publishes local activity and applies peer activity.
type Synchronizer struct {
	channel Channel
	store   SessionStore
	recheck Rechecker
	clock   clockwork.Clock
	origin  string
	grace   time.Duration
	metrics *metrics.Metrics
	logger  *logrus.Entry

	mu    sync.Mutex
	gen   uint64
	timer clockwork.Timer
}

// New creates a synchronizer for one tab.
func New(
	channel Channel,
	store SessionStore,
	recheck Rechecker,
	clock clockwork.Clock,
	cfg Config,
	m *metrics.Metrics,
	logger *logrus.Logger,
) *Synchronizer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if m == nil {
		m = metrics.NewUnregistered()
	}
	origin := cfg.Origin
	if origin == "" {
		origin = uuid.NewString()
	}

	return &Synchronizer{
		channel: channel,
		store:   store,
		recheck: recheck,
		clock:   clock,
		origin:  origin,
		grace:   cfg.LapseGrace,
		metrics: m,
		logger:  logger.WithField("tab", origin),
	}
}

// Origin returns the identifier stamped on this tab's markers.
func (s *Synchronizer) Origin() string {
	return s.origin
}

// Record notes local activity and shares it. Publish failures are logged only;
// local activity tracking does not depend on the channel.
func (s *Synchronizer) Record(ctx context.Context, at time.Time) {
	s.store.TouchActivity(at)

	marker := models.NewActivityMarker(at, s.origin)
	if err := s.channel.Publish(ctx, marker); err != nil {
		s.logger.WithError(err).Warn("Failed to publish activity marker")
	}
}

// Run subscribes to the channel and applies peer markers until ctx is done.
func (s *Synchronizer) Run(ctx context.Context) error {
	markers, err := s.channel.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to activity channel: %w", err)
	}
	s.Consume(ctx, markers)
	return nil
}

// Consume applies markers from an existing subscription until ctx is done or
// the feed closes.
func (s *Synchronizer) Consume(ctx context.Context, markers <-chan models.ActivityMarker) {
	for {
		select {
		case <-ctx.Done():
			return
		case marker, ok := <-markers:
			if !ok {
				return
			}
			s.Apply(marker)
		}
	}
}

// CatchUp applies whatever marker is already shared, for a tab joining late.
func (s *Synchronizer) CatchUp(ctx context.Context) error {
	marker, err := s.channel.Latest(ctx)
	if errors.Is(err, ErrNoMarker) {
		return nil
	}
	if err != nil {
		return err
	}
	s.Apply(marker)
	return nil
}

// Apply handles one marker. Own markers are dropped. A peer marker younger
// than the session timeout counts as activity at the marker's instant and
// schedules a lapse check for when that activity would have expired.
func (s *Synchronizer) Apply(marker models.ActivityMarker) {
	if marker.Origin == s.origin {
		return
	}

	snap := s.store.Snapshot()
	if !snap.TracksExpiry() {
		s.metrics.PeerMarkers.WithLabelValues(metrics.PeerIgnored).Inc()
		return
	}

	at := marker.Time()
	timeout := snap.TimeoutDuration()
	elapsed := s.clock.Now().Sub(at)
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed >= timeout {
		s.metrics.PeerMarkers.WithLabelValues(metrics.PeerExpired).Inc()
		s.logger.WithField("elapsed", elapsed.String()).Debug("Peer marker already expired")
		return
	}

	remaining := timeout - elapsed
	s.armLapseCheck(remaining + s.grace)
	s.store.TouchActivity(at)

	s.metrics.PeerMarkers.WithLabelValues(metrics.PeerRearmed).Inc()
	s.logger.WithFields(logrus.Fields{
		"peer":      marker.Origin,
		"remaining": remaining.String(),
	}).Debug("Applied peer activity")
}

// Observe cancels the lapse check once the tab is logged out. It has the
// session.Listener signature.
func (s *Synchronizer) Observe(_, next models.SessionState) {
	if next.LoggedIn {
		return
	}
	s.Stop()
}

// Stop cancels any pending lapse check.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
}

// LapseCheckPending reports whether a lapse check is scheduled.
func (s *Synchronizer) LapseCheckPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

func (s *Synchronizer) armLapseCheck(after time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked()
	gen := s.gen
	s.timer = s.clock.AfterFunc(after, func() { s.lapse(gen) })
}

func (s *Synchronizer) cancelLocked() {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Synchronizer) lapse(gen uint64) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.mu.Unlock()

	s.logger.Debug("Peer-derived lifetime elapsed, rechecking authentication")
	s.recheck.InvokeAsync(context.Background())
}
