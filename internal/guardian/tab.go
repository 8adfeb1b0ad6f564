// Package guardian assembles one tab: the cookie jar, CSRF store, gateway,
// session store and tracker, expiry scheduler, alert and cross-tab
// synchronizer, wired without cycles.
package guardian

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/sixcolors/gofiber-react-session-csrf-example/internal/alert"
	"github.com/sixcolors/gofiber-react-session-csrf-example/internal/client"
	"github.com/sixcolors/gofiber-react-session-csrf-example/internal/config"
	"github.com/sixcolors/gofiber-react-session-csrf-example/internal/crosstab"
	"github.com/sixcolors/gofiber-react-session-csrf-example/internal/csrf"
	"github.com/sixcolors/gofiber-react-session-csrf-example/internal/metrics"
	"github.com/sixcolors/gofiber-react-session-csrf-example/internal/models"
	"github.com/sixcolors/gofiber-react-session-csrf-example/internal/scheduler"
	"github.com/sixcolors/gofiber-react-session-csrf-example/internal/session"
)

// ErrAlreadyStarted is returned by a second Start.
var ErrAlreadyStarted = errors.New("tab already started")

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("tab closed")

// Options carries optional collaborators. Zero values select the defaults.
type Options struct {
	// Clock drives every timer of the tab.
	Clock clockwork.Clock
	// Metrics receives the tab's counters.
	Metrics *metrics.Metrics
	// Origin names the tab on the activity channel.
	Origin string
	// Jar is shared by tabs of one process that share a server session, the
	// way browser tabs share cookies. A private jar is created when nil.
	Jar http.CookieJar
}

// Status is a point-in-time view of the tab.
type Status struct {
	Origin    string              `json:"origin"`
	Session   models.SessionState `json:"session"`
	Alert     models.AlertState   `json:"alert"`
	Scheduler string              `json:"scheduler"`
	WarnAt    *time.Time          `json:"warn_at,omitempty"`
}

// Tab is one guardian instance sharing a server session with its peers.
type Tab struct {
	Tokens    *csrf.Store
	Gateway   *client.Gateway
	Store     *session.Store
	Tracker   *session.Tracker
	Handle    *session.Handle
	Scheduler *scheduler.Scheduler
	Alert     *alert.Alert
	Sync      *crosstab.Synchronizer

	channel crosstab.Channel
	logger  *logrus.Logger

	mu          sync.Mutex
	started     bool
	closed      bool
	cancel      context.CancelFunc
	done        chan struct{}
	unsubscribe []func()
}

// New builds a tab from configuration. It performs no I/O.
func New(cfg *config.Config, channel crosstab.Channel, logger *logrus.Logger, opts Options) (*Tab, error) {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.NewUnregistered()
	}

	jar := opts.Jar
	if jar == nil {
		var err error
		if jar, err = csrf.NewJar(); err != nil {
			return nil, err
		}
	}

	base := client.NewBaseClient(cfg.API.BaseURL, cfg.API.Timeout, jar, logger)
	endpoints := cfg.GetEndpoints()

	tokens, err := csrf.NewStore(jar, endpoints.Bootstrap, base.HTTPClient(), logger,
		cfg.CSRF.CookieName, cfg.CSRF.LegacyCookieName)
	if err != nil {
		return nil, fmt.Errorf("failed to create CSRF store: %w", err)
	}

	store := session.NewStoreWithTimeout(cfg.Session.DefaultTimeout)
	handle := session.NewHandle(logger)

	synchronizer := crosstab.New(channel, store, handle, clock, crosstab.Config{
		Origin:     opts.Origin,
		LapseGrace: cfg.Session.LapseGrace,
	}, m, logger)

	gateway := client.NewGateway(base, client.GatewayConfig{
		StatusPath: cfg.API.StatusPath,
		CSRFHeader: cfg.CSRF.HeaderName,
		Tokens:     tokens,
		Recheck:    handle,
		Activity:   synchronizer,
		Clock:      clock,
		Metrics:    m,
	})

	tracker := session.NewTracker(gateway, store, session.Paths{
		Login:  cfg.API.LoginPath,
		Logout: cfg.API.LogoutPath,
		Status: cfg.API.StatusPath,
	}, logger)
	handle.Set(tracker.CheckAuthentication)

	expiryAlert := alert.New(clock, cfg.Session.WarningThreshold, handle, tracker.Logout, logger)
	sched := scheduler.New(clock, expiryAlert, scheduler.Config{
		WarningThreshold: cfg.Session.WarningThreshold,
		MinimalDelay:     cfg.Session.MinimalDelay,
	}, m, logger)

	return &Tab{
		Tokens:    tokens,
		Gateway:   gateway,
		Store:     store,
		Tracker:   tracker,
		Handle:    handle,
		Scheduler: sched,
		Alert:     expiryAlert,
		Sync:      synchronizer,
		channel:   channel,
		logger:    logger,
	}, nil
}

// Start subscribes the tab's components, begins consuming peer activity and
// performs the initial authentication check. A failed check leaves the tab
// logged out; it does not fail Start.
func (t *Tab) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.started {
		t.mu.Unlock()
		return ErrAlreadyStarted
	}
	t.started = true

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	markers, err := t.channel.Subscribe(runCtx)
	if err != nil {
		cancel()
		t.started = false
		t.mu.Unlock()
		return fmt.Errorf("failed to subscribe to activity channel: %w", err)
	}

	t.cancel = cancel
	t.done = make(chan struct{})
	t.unsubscribe = []func(){
		t.Store.Subscribe(t.Scheduler.Observe),
		t.Store.Subscribe(t.Sync.Observe),
	}
	done := t.done
	t.mu.Unlock()

	go func() {
		defer close(done)
		t.Sync.Consume(runCtx, markers)
	}()

	if err := t.Handle.Invoke(ctx); err != nil {
		t.logger.WithError(err).Warn("Initial authentication check failed")
	}
	if err := t.Sync.CatchUp(ctx); err != nil {
		t.logger.WithError(err).Debug("Could not read shared activity marker")
	}

	t.logger.WithFields(logrus.Fields{
		"tab":       t.Sync.Origin(),
		"logged_in": t.Store.Snapshot().LoggedIn,
	}).Info("Tab started")
	return nil
}

// Close stops every timer and the marker loop and waits for background checks.
func (t *Tab) Close() error {
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return nil
	}
	t.started = false
	t.closed = true
	cancel, done, unsubscribe := t.cancel, t.done, t.unsubscribe
	t.unsubscribe = nil
	t.mu.Unlock()

	cancel()
	<-done
	for _, u := range unsubscribe {
		u()
	}

	t.Scheduler.Stop()
	t.Sync.Stop()
	t.Alert.Stop()
	t.Handle.Close()
	return nil
}

// Login submits credentials through the tracker.
func (t *Tab) Login(ctx context.Context, username, password string) error {
	return t.Tracker.Login(ctx, models.Credentials{Username: username, Password: password})
}

// Logout ends the session.
func (t *Tab) Logout(ctx context.Context) error {
	return t.Tracker.Logout(ctx)
}

// Extend answers the expiry alert by rechecking the session, which re-arms
// the warning when the server still knows it.
func (t *Tab) Extend(ctx context.Context) error {
	return t.Alert.Extend(ctx)
}

// Dismiss closes the alert without extending the session.
func (t *Tab) Dismiss() {
	t.Alert.DismissOutside()
}

// Request performs an arbitrary API call through the gateway.
func (t *Tab) Request(ctx context.Context, target string, opts client.RequestOptions) (json.RawMessage, error) {
	return t.Gateway.Request(ctx, target, opts)
}

// Status reports the tab's current state.
func (t *Tab) Status() Status {
	st := Status{
		Origin:    t.Sync.Origin(),
		Session:   t.Store.Snapshot(),
		Alert:     t.Alert.State(),
		Scheduler: t.Scheduler.State().String(),
	}
	if at := t.Scheduler.FireAt(); !at.IsZero() {
		st.WarnAt = &at
	}
	return st
}

// StatusJSON renders Status as indented JSON.
func (t *Tab) StatusJSON() ([]byte, error) {
	return json.MarshalIndent(t.Status(), "", "  ")
}

// OnAlertChange registers fn for alert transitions.
func (t *Tab) OnAlertChange(fn func(models.AlertState)) func() {
	return t.Alert.OnChange(fn)
}
