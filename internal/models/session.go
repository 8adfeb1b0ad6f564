package models

import (
	"strings"
	"time"
)

const (
	// DefaultSessionTimeout is the session timeout in seconds assumed when the
	// server does not declare one.
	DefaultSessionTimeout = 3600
	// MaxUsernameLength bounds the username accepted by Credentials.Validate.
	MaxUsernameLength = 50
)

// SessionState is the authenticated identity of one tab. It is owned by the
// session store; everybody else works on snapshots.
type SessionState struct {
	Username        string    `json:"username"`
	LoggedIn        bool      `json:"logged_in"`
	Roles           []string  `json:"roles"`
	SessionTimeout  int       `json:"session_timeout"`
	ActivityCounter uint64    `json:"activity_counter"`
	LastActivity    time.Time `json:"last_activity,omitempty"`
}

// DefaultSessionState returns the logged-out state a tab starts with.
func DefaultSessionState() SessionState {
	return SessionState{
		Roles:          []string{},
		SessionTimeout: DefaultSessionTimeout,
	}
}

// Clone returns a copy whose Roles slice does not alias the receiver's.
func (s SessionState) Clone() SessionState {
	roles := make([]string, len(s.Roles))
	copy(roles, s.Roles)
	s.Roles = roles
	return s
}

// HasRole reports whether the session carries the given role.
func (s SessionState) HasRole(role string) bool {
	for _, r := range s.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// TimeoutDuration returns the session timeout as a time.Duration.
func (s SessionState) TimeoutDuration() time.Duration {
	return time.Duration(s.SessionTimeout) * time.Second
}

// TracksExpiry reports whether expiry tracking applies. A non-positive
// timeout is an explicit opt-out.
func (s SessionState) TracksExpiry() bool {
	return s.LoggedIn && s.SessionTimeout > 0
}

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"` // pragma: allowlist secret
}

// Validate checks that both fields are present and the username is sane.
func (c Credentials) Validate() error {
	var errs ValidationErrors
	if strings.TrimSpace(c.Username) == "" {
		errs = append(errs, ValidationError{Field: "username", Message: "is required"})
	} else if len(c.Username) > MaxUsernameLength {
		errs = append(errs, ValidationError{Field: "username", Message: "is too long"})
	}
	if c.Password == "" {
		errs = append(errs, ValidationError{Field: "password", Message: "is required"})
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// AuthStatus is the body returned by the login and status endpoints.
// SessionTimeout is a pointer so that an omitted value can be told apart from
// an explicit zero (which disables expiry tracking).
type AuthStatus struct {
	LoggedIn       bool     `json:"loggedIn"`
	Username       string   `json:"username"`
	Roles          []string `json:"roles"`
	SessionTimeout *int     `json:"sessionTimeout,omitempty"`
}

// Timeout returns the declared timeout or DefaultSessionTimeout when omitted.
func (a AuthStatus) Timeout() int {
	if a.SessionTimeout == nil {
		return DefaultSessionTimeout
	}
	return *a.SessionTimeout
}

// ActivityMarker is the shared "a request succeeded" signal. Origin names the
// tab that wrote it.
type ActivityMarker struct {
	TimestampMillis int64  `json:"ts"`
	Origin          string `json:"origin"`
}

// NewActivityMarker builds a marker for the given instant.
func NewActivityMarker(at time.Time, origin string) ActivityMarker {
	return ActivityMarker{TimestampMillis: at.UnixMilli(), Origin: origin}
}

// Time returns the marker timestamp as a time.Time.
func (m ActivityMarker) Time() time.Time {
	return time.UnixMilli(m.TimestampMillis)
}

type AlertState struct {
	Visible          bool `json:"visible"`
	SecondsRemaining int  `json:"seconds_remaining"`
}
