// Package alert implements the session expiry warning: a countdown shown
// shortly before the predicted expiry.
package alert

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/sixcolors/gofiber-react-session-csrf-example/internal/models"
)

const tick = time.Second

// Invoker runs an authentication check. *session.Handle satisfies it.
type Invoker interface {
	Invoke(ctx context.Context) error
}

// LogoutFunc ends the session.
type LogoutFunc func(ctx context.Context) error

// ChangeFunc observes alert transitions.
type ChangeFunc func(models.AlertState)

type observer struct {
	id uint64
	fn ChangeFunc
}

// Alert is either hidden or visible with a number of seconds remaining.
// Only one countdown runs at a time.
type Alert struct {
	clock     clockwork.Clock
	threshold int
	extend    Invoker
	logout    LogoutFunc
	logger    *logrus.Logger

	notifyMu sync.Mutex

	mu        sync.Mutex
	state     models.AlertState
	gen       uint64
	timer     clockwork.Timer
	observers []observer
	nextID    uint64
}

// New creates a hidden alert. threshold caps the seconds shown.
func New(clock clockwork.Clock, threshold time.Duration, extend Invoker, logout LogoutFunc, logger *logrus.Logger) *Alert {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Alert{
		clock:     clock,
		threshold: int(threshold / time.Second),
		extend:    extend,
		logout:    logout,
		logger:    logger,
	}
}

// Show makes the alert visible with n seconds remaining and restarts the
// countdown. n is clamped to [0, threshold]; zero hides the alert.
func (a *Alert) Show(seconds int) {
	if seconds > a.threshold {
		seconds = a.threshold
	}
	if seconds <= 0 {
		a.Hide()
		return
	}

	a.transition(func() bool {
		a.stopLocked()
		a.state = models.AlertState{Visible: true, SecondsRemaining: seconds}
		a.scheduleLocked()
		return true
	})
	a.logger.WithField("seconds_remaining", seconds).Info("Session expiry warning shown")
}

// Hide stops the countdown. Hiding a hidden alert does nothing.
func (a *Alert) Hide() {
	a.transition(func() bool {
		a.stopLocked()
		if !a.state.Visible {
			return false
		}
		a.state = models.AlertState{}
		return true
	})
}

// Extend hides the alert and rechecks authentication; a successful check is
// itself activity and pushes the expiry back.
func (a *Alert) Extend(ctx context.Context) error {
	a.Hide()
	if a.extend == nil {
		return nil
	}
	return a.extend.Invoke(ctx)
}

// Logout hides the alert and ends the session.
func (a *Alert) Logout(ctx context.Context) error {
	a.Hide()
	if a.logout == nil {
		return nil
	}
	return a.logout(ctx)
}

// DismissOutside hides the alert without touching the session, like a click
// outside the dialog.
func (a *Alert) DismissOutside() {
	a.Hide()
}

// State returns the current alert state.
func (a *Alert) State() models.AlertState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// OnChange registers fn for every transition and returns a function that
// removes it. fn must not call back into the alert.
func (a *Alert) OnChange(fn ChangeFunc) (cancel func()) {
	a.mu.Lock()
	a.nextID++
	id := a.nextID
	a.observers = append(a.observers, observer{id: id, fn: fn})
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		for i, o := range a.observers {
			if o.id == id {
				a.observers = append(a.observers[:i:i], a.observers[i+1:]...)
				return
			}
		}
	}
}

// Stop cancels the countdown without notifying observers.
func (a *Alert) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked()
	a.state = models.AlertState{}
}

func (a *Alert) transition(apply func() bool) {
	a.notifyMu.Lock()
	defer a.notifyMu.Unlock()

	a.mu.Lock()
	changed := apply()
	state := a.state
	observers := make([]observer, len(a.observers))
	copy(observers, a.observers)
	a.mu.Unlock()

	if !changed {
		return
	}
	for _, o := range observers {
		o.fn(state)
	}
}

func (a *Alert) stopLocked() {
	a.gen++
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

func (a *Alert) scheduleLocked() {
	gen := a.gen
	a.timer = a.clock.AfterFunc(tick, func() { a.onTick(gen) })
}

func (a *Alert) onTick(gen uint64) {
	a.transition(func() bool {
		if gen != a.gen || !a.state.Visible {
			return false
		}
		a.state.SecondsRemaining--
		if a.state.SecondsRemaining <= 0 {
			// the countdown ending is only a warning; the session is left alone
			a.state = models.AlertState{}
			a.timer = nil
			return true
		}
		a.scheduleLocked()
		return true
	})
}
