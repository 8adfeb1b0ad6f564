package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sixcolors/gofiber-react-session-csrf-example/internal/constants"
)

// maxErrorBodyBytes caps how much of an error body is read for its message.
const maxErrorBodyBytes = 64 << 10

// BaseClient provides core HTTP client functionality for calling the API.
// It owns the cookie-carrying http.Client and handles URL resolution and logging.
type BaseClient struct {
	httpClient *http.Client
	baseURL    string
	logger     *logrus.Logger
}

// NewBaseClient creates a new BaseClient for HTTP operations.
//
// Parameters:
//   - baseURL: Base URL for the API (e.g., "http://localhost:3001")
//   - timeout: HTTP request timeout duration
//   - jar: Cookie jar holding the session and CSRF cookies (may be nil)
//   - logger: Structured logger for HTTP operations
func NewBaseClient(
	baseURL string,
	timeout time.Duration,
	jar http.CookieJar,
	logger *logrus.Logger,
) *BaseClient {
	return &BaseClient{
		httpClient: &http.Client{
			Timeout: timeout,
			Jar:     jar,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// Do executes one HTTP exchange.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - method: HTTP method (GET, POST, PUT, DELETE, etc.)
//   - target: Path relative to baseURL, or an absolute URL
//   - body: Encoded JSON body (nil for none)
//   - header: Extra request headers (may be nil)
//
// Returns the HTTP response. Caller is responsible for closing response body.
func (c *BaseClient) Do(
	ctx context.Context,
	method string,
	target string,
	body []byte,
	header http.Header,
) (*http.Response, error) {
	url := c.ResolveURL(target)

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if body != nil && req.Header.Get(constants.HeaderContentType) == "" {
		req.Header.Set(constants.HeaderContentType, constants.ContentTypeJSON)
	}
	req.Header.Set(constants.HeaderAccept, constants.ContentTypeJSON)
	req.Header.Set(constants.HeaderUserAgent, constants.UserAgent)

	c.logger.WithFields(logrus.Fields{
		"method": method,
		"url":    url,
	}).Debug("Sending HTTP request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"method": method,
			"url":    url,
			"error":  err,
		}).Error("HTTP request failed")
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"method": method,
		"url":    url,
		"status": resp.StatusCode,
	}).Debug("Received HTTP response")

	return resp, nil
}

// BaseURL returns the configured base URL for this client.
func (c *BaseClient) BaseURL() string {
	return c.baseURL
}

// HTTPClient returns the underlying http.Client, cookie jar included.
func (c *BaseClient) HTTPClient() *http.Client {
	return c.httpClient
}

// ResolveURL joins target onto the base URL unless it is already absolute.
func (c *BaseClient) ResolveURL(target string) string {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return target
	}
	if !strings.HasPrefix(target, "/") {
		target = "/" + target
	}
	return c.baseURL + target
}

// ParseErrorMessage extracts a human-readable message from an error body and
// closes it. It understands {"message": ...} and {"error": ...} bodies and
// falls back to a trimmed plain-text body.
func ParseErrorMessage(resp *http.Response) string {
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err != nil || len(raw) == 0 {
		return ""
	}

	var errResp struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Detail  string `json:"detail,omitempty"`
	}
	if json.Unmarshal(raw, &errResp) == nil {
		msg := errResp.Message
		if msg == "" {
			msg = errResp.Error
		}
		if errResp.Detail != "" {
			msg += " - " + errResp.Detail
		}
		return msg
	}

	if strings.HasPrefix(resp.Header.Get(constants.HeaderContentType), "text/plain") {
		return strings.TrimSpace(string(raw))
	}
	return ""
}
