// Package client provides the API gateway: the only path by which the guardian
// talks to the server. It attaches the CSRF token, refreshes it once on a 403,
// and turns a 401 into a background authentication recheck.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/sixcolors/gofiber-react-session-csrf-example/internal/constants"
	"github.com/sixcolors/gofiber-react-session-csrf-example/internal/csrf"
	"github.com/sixcolors/gofiber-react-session-csrf-example/internal/metrics"
	"github.com/sixcolors/gofiber-react-session-csrf-example/internal/models"
	"github.com/sixcolors/gofiber-react-session-csrf-example/pkg/logger"
)

// ErrInvalidJSON is returned when a 2xx response carries a body that is not JSON.
var ErrInvalidJSON = errors.New("response body is not valid JSON")

// TokenSource supplies the CSRF token. *csrf.Store satisfies it.
type TokenSource interface {
	Token() string
	Bootstrap(ctx context.Context) error
}

// Rechecker starts a background authentication recheck.
type Rechecker interface {
	InvokeAsync(ctx context.Context)
}

// ActivityRecorder is told about every successful request.
type ActivityRecorder interface {
	Record(ctx context.Context, at time.Time)
}

// RequestOptions describes one API call. Body may be nil, []byte,
// json.RawMessage, or any value encodable as JSON.
type RequestOptions struct {
	Method  string
	Headers http.Header
	Body    interface{}
}

// pendingRequest lives for one logical Request call, retry included.
type pendingRequest struct {
	url         string
	method      string
	headers     http.Header
	body        []byte
	csrfRetried bool
}

// Gateway wraps BaseClient with CSRF handling and 401/403 recovery.
type Gateway struct {
	*BaseClient

	tokens     TokenSource
	recheck    Rechecker
	activity   ActivityRecorder
	statusPath string
	csrfHeader string
	clock      clockwork.Clock
	metrics    *metrics.Metrics
}

// GatewayConfig carries the gateway's collaborators.
type GatewayConfig struct {
	// StatusPath is the authentication status endpoint, exempt from 401 rechecks.
	StatusPath string
	// CSRFHeader is the header the token is sent in.
	CSRFHeader string
	// Tokens supplies and bootstraps the CSRF token.
	Tokens TokenSource
	// Recheck runs authentication rechecks. It should be the session handle so
	// the latest check logic is always used.
	Recheck Rechecker
	// Activity is told about every success.
	Activity ActivityRecorder
	// Clock stamps activity. Defaults to the real clock.
	Clock clockwork.Clock
	// Metrics receives request counters.
	Metrics *metrics.Metrics
}

// NewGateway creates a Gateway on top of an existing BaseClient.
func NewGateway(base *BaseClient, cfg GatewayConfig) *Gateway {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	header := cfg.CSRFHeader
	if header == "" {
		header = constants.HeaderCSRFToken
	}
	statusPath := cfg.StatusPath
	if statusPath == "" {
		statusPath = constants.PathStatus
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.NewUnregistered()
	}

	return &Gateway{
		BaseClient: base,
		tokens:     cfg.Tokens,
		recheck:    cfg.Recheck,
		activity:   cfg.Activity,
		statusPath: resolvedPath(base.ResolveURL(statusPath)),
		csrfHeader: header,
		clock:      clock,
		metrics:    m,
	}
}

// Request performs one API call.
//
// It returns the JSON body on success, or nil for a no-content response.
// A nil body with a nil error also means the request hit a 401 and the
// session state is already being repaired in the background. Any other
// terminal failure is a *models.RequestError.
func (g *Gateway) Request(ctx context.Context, target string, opts RequestOptions) (json.RawMessage, error) {
	pending, err := g.newPendingRequest(target, opts)
	if err != nil {
		return nil, err
	}

	requestID := uuid.NewString()
	ctx = logger.SetCorrelationID(ctx, requestID)
	log := logger.WithCorrelationID(ctx, g.logger).WithFields(logrus.Fields{
		"method": pending.method,
		"url":    pending.url,
	})

	if g.tokens.Token() == "" {
		log.Debug("No CSRF token present, bootstrapping")
		if bootErr := g.bootstrap(ctx, pending, log); bootErr != nil {
			return nil, bootErr
		}
	}

	for {
		resp, sendErr := g.send(ctx, pending, requestID)
		if sendErr != nil {
			g.metrics.Requests.WithLabelValues(metrics.OutcomeNetwork).Inc()
			return nil, &models.RequestError{
				Kind:   models.KindNetwork,
				Method: pending.method,
				URL:    pending.url,
				Err:    sendErr,
			}
		}

		switch {
		case resp.StatusCode == http.StatusForbidden && !pending.csrfRetried:
			drain(resp)
			log.Debug("Received 403 Forbidden, refreshing CSRF token and retrying once")
			g.metrics.CSRFRefreshes.Inc()
			if bootErr := g.bootstrap(ctx, pending, log); bootErr != nil {
				return nil, bootErr
			}
			pending.csrfRetried = true
			continue

		case resp.StatusCode == http.StatusForbidden:
			g.metrics.Requests.WithLabelValues(metrics.OutcomeCSRFInvalid).Inc()
			reqErr := g.requestError(models.KindCSRFInvalid, pending, resp)
			log.WithField("status", resp.StatusCode).Warn("Request still forbidden after CSRF refresh")
			return nil, reqErr

		case resp.StatusCode == http.StatusUnauthorized:
			drain(resp)
			g.metrics.Requests.WithLabelValues(metrics.OutcomeAuthExpired).Inc()
			if g.isStatusEndpoint(pending.url) {
				log.Debug("Status endpoint answered 401, not rechecking")
				return nil, nil
			}
			log.Info("Received 401 Unauthorized, rechecking authentication in background")
			g.metrics.AuthRechecks.Inc()
			if g.recheck != nil {
				g.recheck.InvokeAsync(ctx)
			}
			return nil, nil

		case resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices:
			g.metrics.Requests.WithLabelValues(metrics.OutcomeServerError).Inc()
			reqErr := g.requestError(models.KindServer, pending, resp)
			log.WithFields(logrus.Fields{
				"status":  reqErr.StatusCode,
				"message": reqErr.Message,
			}).Warn("Request failed")
			return nil, reqErr
		}

		return g.complete(ctx, resp)
	}
}

// Get is shorthand for a GET Request.
func (g *Gateway) Get(ctx context.Context, target string) (json.RawMessage, error) {
	return g.Request(ctx, target, RequestOptions{Method: http.MethodGet})
}

// Post is shorthand for a POST Request with a JSON body.
func (g *Gateway) Post(ctx context.Context, target string, body interface{}) (json.RawMessage, error) {
	return g.Request(ctx, target, RequestOptions{Method: http.MethodPost, Body: body})
}

// Delete is shorthand for a DELETE Request.
func (g *Gateway) Delete(ctx context.Context, target string) (json.RawMessage, error) {
	return g.Request(ctx, target, RequestOptions{Method: http.MethodDelete})
}

// Decode performs a Request and decodes a non-null result into T.
// It returns (nil, nil) when the gateway returned no body.
func Decode[T any](ctx context.Context, g *Gateway, target string, opts RequestOptions) (*T, error) {
	raw, err := g.Request(ctx, target, opts)
	if err != nil || raw == nil {
		return nil, err
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode response from %s: %w", target, err)
	}
	return &out, nil
}

func (g *Gateway) newPendingRequest(target string, opts RequestOptions) (*pendingRequest, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	var body []byte
	switch b := opts.Body.(type) {
	case nil:
	case []byte:
		body = b
	case json.RawMessage:
		body = b
	default:
		encoded, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = encoded
	}

	headers := opts.Headers.Clone()
	if headers == nil {
		headers = http.Header{}
	}

	return &pendingRequest{
		url:     g.ResolveURL(target),
		method:  method,
		headers: headers,
		body:    body,
	}, nil
}

// send issues the request with the token read fresh from the jar.
func (g *Gateway) send(ctx context.Context, pending *pendingRequest, requestID string) (*http.Response, error) {
	headers := pending.headers.Clone()
	if token := g.tokens.Token(); token != "" {
		headers.Set(g.csrfHeader, token)
	}
	headers.Set(constants.HeaderXRequestID, requestID)

	return g.Do(ctx, pending.method, pending.url, pending.body, headers)
}

// bootstrap refreshes the CSRF cookie. A rejected bootstrap is logged and
// tolerated; the request itself will tell whether a token was required.
func (g *Gateway) bootstrap(ctx context.Context, pending *pendingRequest, log *logrus.Entry) error {
	err := g.tokens.Bootstrap(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, csrf.ErrBootstrapStatus):
		log.WithError(err).Warn("CSRF bootstrap rejected, continuing without a fresh token")
		return nil
	default:
		g.metrics.Requests.WithLabelValues(metrics.OutcomeNetwork).Inc()
		return &models.RequestError{
			Kind:   models.KindNetwork,
			Method: pending.method,
			URL:    pending.url,
			Err:    err,
		}
	}
}

// complete records the activity and returns the body.
func (g *Gateway) complete(ctx context.Context, resp *http.Response) (json.RawMessage, error) {
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(resp.Body)

	g.metrics.Requests.WithLabelValues(metrics.OutcomeSuccess).Inc()
	if g.activity != nil {
		g.activity.Record(ctx, g.clock.Now())
	}

	if readErr != nil {
		return nil, fmt.Errorf("failed to read response body: %w", readErr)
	}

	trimmed := bytes.TrimSpace(raw)
	if resp.StatusCode == http.StatusNoContent || len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if !json.Valid(trimmed) {
		return nil, ErrInvalidJSON
	}
	return json.RawMessage(trimmed), nil
}

func (g *Gateway) requestError(kind models.ErrorKind, pending *pendingRequest, resp *http.Response) *models.RequestError {
	return &models.RequestError{
		Kind:       kind,
		Method:     pending.method,
		URL:        pending.url,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Message:    ParseErrorMessage(resp),
	}
}

// isStatusEndpoint compares resolved paths, so a base URL with a path prefix
// still matches its own status endpoint.
func (g *Gateway) isStatusEndpoint(target string) bool {
	p := resolvedPath(target)
	return p != "" && p == g.statusPath
}

func resolvedPath(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return ""
	}
	return strings.TrimRight(u.Path, "/")
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
