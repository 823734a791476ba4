// Package domain provides the canonical types and error taxonomy for the call bridge.
package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind represents the category of a bridge error.
type ErrorKind string

const (
	// ErrorKindAuth indicates the analytics token endpoint rejected the credentials.
	ErrorKindAuth ErrorKind = "auth"

	// ErrorKindConnect indicates an analytics websocket could not be established.
	ErrorKindConnect ErrorKind = "connect"

	// ErrorKindRelayConnect indicates the monitor stream could not be reached after retries.
	ErrorKindRelayConnect ErrorKind = "relay_connect"

	// ErrorKindInvalidInput indicates a malformed audio buffer or request.
	ErrorKindInvalidInput ErrorKind = "invalid_input"

	// ErrorKindDuplicateSession indicates a session id is already registered.
	ErrorKindDuplicateSession ErrorKind = "duplicate_session"

	// ErrorKindDuplicateConnection indicates a role already has a live leg in its session.
	ErrorKindDuplicateConnection ErrorKind = "duplicate_connection"

	// ErrorKindSessionNotFound indicates a session id is not registered.
	ErrorKindSessionNotFound ErrorKind = "session_not_found"

	// ErrorKindConnectionClosed indicates a send on a connection that is not streaming.
	ErrorKindConnectionClosed ErrorKind = "connection_closed"

	// ErrorKindCallFailed indicates the call reached the failed state while being set up.
	ErrorKindCallFailed ErrorKind = "call_failed"

	// ErrorKindCallCompletedPrematurely indicates the call ended before it was ever in progress.
	ErrorKindCallCompletedPrematurely ErrorKind = "call_completed_prematurely"

	// ErrorKindCallTimeout indicates the call did not become active within the polling deadline.
	ErrorKindCallTimeout ErrorKind = "call_timeout"

	// ErrorKindCallControl indicates the telephony API returned an error.
	ErrorKindCallControl ErrorKind = "call_control"

	// ErrorKindBackendProtocol indicates a malformed or error-typed analytics message.
	ErrorKindBackendProtocol ErrorKind = "backend_protocol"
)

// Error is the canonical bridge error. Errors compare equal under errors.Is
// when their kinds match, so callers can test against the exported sentinels.
type Error struct {
	// Kind is the category of error
	Kind ErrorKind `json:"kind"`

	// Message is the human-readable error message
	Message string `json:"message"`

	// StatusCode is the upstream HTTP status, when one was involved
	StatusCode int `json:"status_code,omitempty"`

	// Err is the underlying cause
	Err error `json:"-"`
}

// Sentinels for errors.Is checks.
var (
	ErrAuth                     = &Error{Kind: ErrorKindAuth}
	ErrConnect                  = &Error{Kind: ErrorKindConnect}
	ErrRelayConnect             = &Error{Kind: ErrorKindRelayConnect}
	ErrInvalidInput             = &Error{Kind: ErrorKindInvalidInput}
	ErrDuplicateSession         = &Error{Kind: ErrorKindDuplicateSession}
	ErrDuplicateConnection      = &Error{Kind: ErrorKindDuplicateConnection}
	ErrSessionNotFound          = &Error{Kind: ErrorKindSessionNotFound}
	ErrConnectionClosed         = &Error{Kind: ErrorKindConnectionClosed}
	ErrCallFailed               = &Error{Kind: ErrorKindCallFailed}
	ErrCallCompletedPrematurely = &Error{Kind: ErrorKindCallCompletedPrematurely}
	ErrCallTimeout              = &Error{Kind: ErrorKindCallTimeout}
	ErrCallControl              = &Error{Kind: ErrorKindCallControl}
	ErrBackendProtocol          = &Error{Kind: ErrorKindBackendProtocol}
)

// NewError creates a new error of the given kind.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Errorf creates a new error of the given kind with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a bridge error of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// WithCause attaches an underlying cause to the error.
func (e *Error) WithCause(err error) *Error {
	e.Err = err
	return e
}

// WithStatusCode records the upstream HTTP status code.
func (e *Error) WithStatusCode(code int) *Error {
	e.StatusCode = code
	return e
}

// HTTPStatusCode returns the status the inbound HTTP surface should answer with.
// Setup failures are reported as 500s regardless of the upstream status.
func (e *Error) HTTPStatusCode() int {
	switch e.Kind {
	case ErrorKindInvalidInput:
		return http.StatusBadRequest
	case ErrorKindSessionNotFound:
		return http.StatusNotFound
	case ErrorKindDuplicateSession:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// AsError extracts a bridge error from err, if there is one in its chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
