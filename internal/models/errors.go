package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed gateway request.
type ErrorKind int

const (
	// KindNetwork is a transport-level failure: the server was never reached
	// or the connection broke before a status line arrived.
	KindNetwork ErrorKind = iota
	// KindCSRFInvalid is a 403 that survived the single token refresh.
	KindCSRFInvalid
	// KindServer is any other terminal non-2xx response.
	KindServer
)

// String returns a short, log-friendly name for the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network_failure"
	case KindCSRFInvalid:
		return "csrf_invalid"
	case KindServer:
		return "server_error"
	default:
		return "unknown"
	}
}

// RequestError is returned by the gateway for any request that could not be
// completed and was not recovered silently. Callers decide how to present it.
type RequestError struct {
	// Kind classifies the failure.
	Kind ErrorKind
	// Method and URL identify the request.
	Method string
	URL    string
	// StatusCode is the HTTP status code, zero for network failures.
	StatusCode int
	// Status is the HTTP status text as sent by the server (e.g. "500 Internal Server Error").
	Status string
	// Message is the server-provided error message, if the body carried one.
	Message string
	// Err is the underlying transport error for KindNetwork.
	Err error
}

// Error returns a string representation of the request error.
// It implements the error interface.
func (e *RequestError) Error() string {
	switch {
	case e.Kind == KindNetwork:
		return fmt.Sprintf("%s %s %s: %v", e.Kind, e.Method, e.URL, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s %s %s: %s - %s", e.Kind, e.Method, e.URL, e.Status, e.Message)
	default:
		return fmt.Sprintf("%s %s %s: %s", e.Kind, e.Method, e.URL, e.Status)
	}
}

// Unwrap returns the underlying transport error, if any.
func (e *RequestError) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a RequestError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var reqErr *RequestError
	return errors.As(err, &reqErr) && reqErr.Kind == kind
}

// ErrLoginFailed is returned by a login attempt the server did not accept.
var ErrLoginFailed = errors.New("login failed")

// ValidationError represents a single field validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error returns a string representation of the validation error in the format
// "field: message". It implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a slice of ValidationError that represents multiple
// field validation errors.
type ValidationErrors []ValidationError

// Error returns a string representation of the validation errors.
// If there are no errors, it returns "validation failed".
// If there is one error, it returns that error's message.
// If there are multiple errors, it returns a summary with the count.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	return fmt.Sprintf("validation failed with %d errors", len(e))
}

// HasErrors returns true if there are one or more validation errors in the collection.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}
