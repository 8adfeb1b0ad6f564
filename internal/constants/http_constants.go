// Package constants contains shared HTTP header names, cookie names and
// common content type strings used across the guardian.
package constants

// Header names commonly used across the application.
const (
	// HeaderAccept is the HTTP "Accept" header name.
	HeaderAccept = "Accept"

	// HeaderContentType is the HTTP "Content-Type" header name.
	HeaderContentType = "Content-Type"

	// HeaderCSRFToken is the anti-forgery token header expected by the API.
	HeaderCSRFToken = "X-CSRF-Token"

	// HeaderUserAgent is the HTTP "User-Agent" header name.
	HeaderUserAgent = "User-Agent"

	// HeaderXRequestID is the custom request ID header name.
	HeaderXRequestID = "X-Request-ID"
)

// Cookie names set by the API's CSRF middleware.
const (
	// CookieCSRF is the current CSRF cookie name.
	CookieCSRF = "csrf"

	// CookieCSRFLegacy is the older cookie name still issued by some deployments.
	CookieCSRFLegacy = "csrf_"
)

// Default API paths.
const (
	PathBootstrap = "/api"
	PathLogin     = "/api/auth/login"
	PathLogout    = "/api/auth/logout"
	PathStatus    = "/api/auth/status"
)

// Common media / content types used in requests and responses.
const (
	// ContentTypeJSON represents "application/json".
	ContentTypeJSON = "application/json"

	// ContentTypePlainUTF8 represents "text/plain; charset=utf-8".
	ContentTypePlainUTF8 = "text/plain; charset=utf-8"
)

// UserAgent identifies the guardian to the API.
const UserAgent = "session-guardian/1.0"
