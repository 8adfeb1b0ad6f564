// Package scheduler predicts when the session will expire and raises the
// expiry alert shortly before that instant.
package scheduler

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/sixcolors/gofiber-react-session-csrf-example/internal/metrics"
	"github.com/sixcolors/gofiber-react-session-csrf-example/internal/models"
)

// State is the scheduler's lifecycle state.
type State int

const (
	Idle State = iota
	Armed
	Fired
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Fired:
		return "fired"
	default:
		return "unknown"
	}
}

// Presenter shows and hides the expiry warning. *alert.Alert satisfies it.
type Presenter interface {
	Show(seconds int)
	Hide()
}

// Config holds the timing parameters.
type Config struct {
	// WarningThreshold is how long before expiry the warning appears.
	WarningThreshold time.Duration
	// MinimalDelay is the shortest timer ever armed.
	MinimalDelay time.Duration
}

// Scheduler owns the single warning timer of one tab.
type Scheduler struct {
	clock   clockwork.Clock
	alert   Presenter
	cfg     Config
	metrics *metrics.Metrics
	logger  *logrus.Logger

	mu      sync.Mutex
	state   State
	anchor  time.Time
	fireAt  time.Time
	timeout time.Duration
	gen     uint64
	timer   clockwork.Timer
}

// New creates an idle scheduler.
func New(clock clockwork.Clock, alert Presenter, cfg Config, m *metrics.Metrics, logger *logrus.Logger) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if m == nil {
		m = metrics.NewUnregistered()
	}
	return &Scheduler{
		clock:   clock,
		alert:   alert,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
	}
}

// Observe reacts to a session mutation. It has the session.Listener signature
// and is meant to be subscribed to the tab's store.
func (s *Scheduler) Observe(prev, next models.SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !next.TracksExpiry() {
		if s.state != Idle {
			s.logger.Debug("Expiry tracking stopped")
		}
		s.cancelLocked()
		s.alert.Hide()
		s.state = Idle
		s.anchor = time.Time{}
		return
	}

	timeout := next.TimeoutDuration()
	switch {
	case !prev.LoggedIn:
		s.armLocked(s.clock.Now(), timeout)
	case next.ActivityCounter != prev.ActivityCounter:
		anchor := next.LastActivity
		if anchor.IsZero() {
			anchor = s.clock.Now()
		}
		s.armLocked(anchor, timeout)
	case s.state == Idle || timeout != s.timeout:
		anchor := s.anchor
		if anchor.IsZero() {
			anchor = s.clock.Now()
		}
		s.armLocked(anchor, timeout)
	}
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// FireAt returns when the armed timer fires, or the zero time when not armed.
func (s *Scheduler) FireAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Armed {
		return time.Time{}
	}
	return s.fireAt
}

// Stop cancels the timer and returns to Idle.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
	s.state = Idle
}

// armLocked replaces any timer with one firing threshold before anchor+timeout.
// Any visible warning is withdrawn: the session was just confirmed active.
func (s *Scheduler) armLocked(anchor time.Time, timeout time.Duration) {
	s.cancelLocked()
	s.alert.Hide()

	lead := timeout - s.cfg.WarningThreshold
	if lead < s.cfg.MinimalDelay {
		lead = s.cfg.MinimalDelay
	}

	now := s.clock.Now()
	fireAt := anchor.Add(lead)
	wait := fireAt.Sub(now)
	if wait < s.cfg.MinimalDelay {
		wait = s.cfg.MinimalDelay
		fireAt = now.Add(wait)
	}

	gen := s.gen
	s.timer = s.clock.AfterFunc(wait, func() { s.fire(gen) })
	s.state = Armed
	s.anchor = anchor
	s.fireAt = fireAt
	s.timeout = timeout

	s.logger.WithFields(logrus.Fields{
		"fire_at": fireAt.Format(time.RFC3339),
		"wait":    wait.String(),
	}).Debug("Expiry warning armed")
}

func (s *Scheduler) cancelLocked() {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen || s.state != Armed {
		return
	}
	s.state = Fired
	s.timer = nil

	seconds := int(s.cfg.WarningThreshold / time.Second)
	if t := int(s.timeout / time.Second); t < seconds {
		seconds = t
	}

	s.metrics.ExpiryWarnings.Inc()
	s.alert.Show(seconds)
}
