package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/sixcolors/gofiber-react-session-csrf-example/internal/constants"
	"github.com/sixcolors/gofiber-react-session-csrf-example/internal/models"
)

// API is the subset of the gateway the tracker needs. *client.Gateway satisfies it.
type API interface {
	Get(ctx context.Context, target string) (json.RawMessage, error)
	Post(ctx context.Context, target string, body interface{}) (json.RawMessage, error)
}

// Paths names the authentication endpoints.
type Paths struct {
	Login  string
	Logout string
	Status string
}

// DefaultPaths returns the standard endpoint layout.
func DefaultPaths() Paths {
	return Paths{
		Login:  constants.PathLogin,
		Logout: constants.PathLogout,
		Status: constants.PathStatus,
	}
}

// Tracker keeps the Store in line with what the server says about the session.
type Tracker struct {
	api    API
	store  *Store
	paths  Paths
	logger *logrus.Logger

	mu       sync.Mutex
	loginErr error
}

// NewTracker creates a tracker writing into store.
func NewTracker(api API, store *Store, paths Paths, logger *logrus.Logger) *Tracker {
	return &Tracker{
		api:    api,
		store:  store,
		paths:  paths,
		logger: logger,
	}
}

// CheckAuthentication asks the server who we are. Anything other than a
// logged-in answer resets the session to its defaults.
func (t *Tracker) CheckAuthentication(ctx context.Context) error {
	raw, err := t.api.Get(ctx, t.paths.Status)
	if err != nil {
		t.store.Reset()
		return fmt.Errorf("authentication check failed: %w", err)
	}
	if raw == nil {
		t.logger.Debug("Authentication check returned no status, resetting session")
		t.store.Reset()
		return nil
	}

	var status models.AuthStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		t.store.Reset()
		return fmt.Errorf("failed to decode authentication status: %w", err)
	}
	if !status.LoggedIn {
		t.store.Reset()
		return nil
	}

	t.store.SetAuthenticated(status)
	t.logger.WithFields(logrus.Fields{
		"username":        status.Username,
		"session_timeout": status.Timeout(),
	}).Debug("Authentication confirmed")
	return nil
}

// Login submits credentials. On failure the error is recorded for LoginError
// and the current login state is left as it was.
func (t *Tracker) Login(ctx context.Context, creds models.Credentials) error {
	if err := creds.Validate(); err != nil {
		return t.loginFailed(err)
	}

	raw, err := t.api.Post(ctx, t.paths.Login, creds)
	if err != nil {
		return t.loginFailed(err)
	}
	if raw == nil {
		return t.loginFailed(nil)
	}

	var status models.AuthStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return t.loginFailed(fmt.Errorf("failed to decode login response: %w", err))
	}
	if !status.LoggedIn {
		return t.loginFailed(nil)
	}

	t.mu.Lock()
	t.loginErr = nil
	t.mu.Unlock()

	t.store.SetAuthenticated(status)
	t.logger.WithField("username", status.Username).Info("Logged in")
	return nil
}

// Logout ends the session on the server and always resets local state. The
// returned error is informational.
func (t *Tracker) Logout(ctx context.Context) error {
	_, err := t.api.Post(ctx, t.paths.Logout, nil)
	t.store.Reset()

	if err != nil {
		t.logger.WithError(err).Warn("Logout request failed, session reset locally")
		return fmt.Errorf("logout request failed: %w", err)
	}
	t.logger.Info("Logged out")
	return nil
}

// LoginError returns the error of the last failed login, or nil after a
// successful one.
func (t *Tracker) LoginError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loginErr
}

func (t *Tracker) loginFailed(cause error) error {
	err := models.ErrLoginFailed
	if cause != nil {
		err = fmt.Errorf("%w: %w", models.ErrLoginFailed, cause)
	}

	t.mu.Lock()
	t.loginErr = err
	t.mu.Unlock()

	t.logger.WithError(err).Warn("Login failed")
	return err
}
