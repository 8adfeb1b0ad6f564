// Package csrf reads and bootstraps the API's anti-forgery token. The token
// lives in the cookie jar only; it is looked up again on every call so that
// server-side rotation is picked up immediately.
package csrf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/publicsuffix"

	"github.com/sixcolors/gofiber-react-session-csrf-example/internal/constants"
)

// ErrBootstrapStatus is wrapped when the bootstrap endpoint answers with a
// non-2xx status. The transport worked; the token may still be missing.
var ErrBootstrapStatus = errors.New("csrf bootstrap rejected")

// Doer executes HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Store exposes the CSRF token held in a cookie jar.
type Store struct {
	jar          http.CookieJar
	origin       *url.URL
	bootstrapURL string
	cookieNames  []string
	doer         Doer
	logger       *logrus.Logger
}

// NewJar creates a cookie jar using the public suffix list, the same way a
// browser scopes cookies to a registrable domain.
func NewJar() (http.CookieJar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	return jar, nil
}

// NewStore creates a token store.
//
// Parameters:
//   - jar: Cookie jar shared with the HTTP client that talks to the API
//   - bootstrapURL: Absolute URL of the side-effect-free endpoint that sets the cookie
//   - doer: HTTP client used for the bootstrap call (must use the same jar)
//   - logger: Structured logger
//   - cookieNames: Cookie names to consult, in order of preference
func NewStore(
	jar http.CookieJar,
	bootstrapURL string,
	doer Doer,
	logger *logrus.Logger,
	cookieNames ...string,
) (*Store, error) {
	u, err := url.Parse(bootstrapURL)
	if err != nil {
		return nil, fmt.Errorf("invalid bootstrap URL: %w", err)
	}
	if len(cookieNames) == 0 {
		cookieNames = []string{constants.CookieCSRF, constants.CookieCSRFLegacy}
	}

	return &Store{
		jar:          jar,
		origin:       &url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"},
		bootstrapURL: bootstrapURL,
		cookieNames:  cookieNames,
		doer:         doer,
		logger:       logger,
	}, nil
}

// Token returns the current token, or "" when the jar holds none.
func (s *Store) Token() string {
	cookies := s.jar.Cookies(s.origin)
	for _, name := range s.cookieNames {
		for _, c := range cookies {
			if c.Name == name && c.Value != "" {
				return c.Value
			}
		}
	}
	return ""
}

// SetToken writes a token under the preferred cookie name.
func (s *Store) SetToken(token string) {
	s.jar.SetCookies(s.origin, []*http.Cookie{{
		Name:  s.cookieNames[0],
		Value: token,
		Path:  "/",
	}})
}

// Bootstrap performs the no-op GET that makes the server set or rotate the
// token cookie. The response body is discarded.
func (s *Store) Bootstrap(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.bootstrapURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create bootstrap request: %w", err)
	}
	req.Header.Set(constants.HeaderUserAgent, constants.UserAgent)

	resp, err := s.doer.Do(req)
	if err != nil {
		return fmt.Errorf("csrf bootstrap failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%w: status %d", ErrBootstrapStatus, resp.StatusCode)
	}

	s.logger.WithFields(logrus.Fields{
		"url":       s.bootstrapURL,
		"has_token": s.Token() != "",
	}).Debug("CSRF token bootstrapped")

	return nil
}
