// Package apperr defines the error kinds used across the platform and their
// mapping to HTTP status codes at the edge.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for propagation policy decisions.
type Kind string

const (
	AuthFailure        Kind = "auth_failure"
	NotFound           Kind = "not_found"
	Forbidden          Kind = "forbidden"
	Validation         Kind = "validation"
	Conflict           Kind = "conflict"
	ToolNotFound       Kind = "tool_not_found"
	ToolTransientError Kind = "tool_transient"
	ToolFatalError     Kind = "tool_fatal"
	ModelError         Kind = "model_error"
	StoreError         Kind = "store_error"
	SubscriberGone     Kind = "subscriber_gone"
	Cancelled          Kind = "cancelled"
)

// Error carries a kind, a human-readable message, and an optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an error of the given kind.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an existing error.
func Wrap(kind Kind, msg string, err error) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the kind of err, unwrapping as needed.
// Errors without a kind report StoreError-adjacent "" and should be treated
// as internal by callers.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// statusCancelled is the nginx-style "client closed request" status.
const statusCancelled = 499

// HTTPStatus maps an error kind to the HTTP status the edge returns.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case AuthFailure:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case Validation:
		return http.StatusBadRequest
	case Conflict:
		return http.StatusConflict
	case Cancelled:
		return statusCancelled
	case ModelError, StoreError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
