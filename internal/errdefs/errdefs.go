// Package errdefs defines the error taxonomy shared by the engine components.
// Every error that crosses a service boundary carries a Kind so the API layer
// can map it to a status code without string matching.
package errdefs

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindConflict
	KindForbidden
	KindNotFound
	KindAlreadyInProgress
	KindInvalidTransition
	KindUnavailable
	KindTimeout
	KindRoutingSync
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindAlreadyInProgress:
		return "already_in_progress"
	case KindInvalidTransition:
		return "invalid_state_transition"
	case KindUnavailable:
		return "engine_unavailable"
	case KindTimeout:
		return "timeout"
	case KindRoutingSync:
		return "routing_sync_failed"
	default:
		return "unknown"
	}
}

// Error is a classified engine error. Fields carries per-field validation
// messages for structured 422 responses.
type Error struct {
	Knd    Kind
	Msg    string
	Fields map[string]string
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Msg + ": " + e.cause.Error()
	}
	return e.Msg
}

// Unwrap exposes the cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.cause }

// Kind returns the classification of the error.
func (e *Error) Kind() Kind { return e.Knd }

func newError(kind Kind, msg string) *Error {
	return &Error{Knd: kind, Msg: msg}
}

func wrap(kind Kind, err error, msg string) *Error {
	return &Error{Knd: kind, Msg: msg, cause: err}
}

// Validation returns a validation error with a single message.
func Validation(format string, args ...any) *Error {
	return newError(KindValidation, fmt.Sprintf(format, args...))
}

// ValidationFields returns a validation error enumerating per-field messages.
func ValidationFields(msg string, fields map[string]string) *Error {
	e := newError(KindValidation, msg)
	e.Fields = fields
	return e
}

// Conflict returns a conflict error.
func Conflict(format string, args ...any) *Error {
	return newError(KindConflict, fmt.Sprintf(format, args...))
}

// Forbidden returns an authorization error.
func Forbidden(format string, args ...any) *Error {
	return newError(KindForbidden, fmt.Sprintf(format, args...))
}

// NotFound returns a missing-entity error.
func NotFound(format string, args ...any) *Error {
	return newError(KindNotFound, fmt.Sprintf(format, args...))
}

// AlreadyInProgress returns a concurrent-transition rejection.
func AlreadyInProgress(format string, args ...any) *Error {
	return newError(KindAlreadyInProgress, fmt.Sprintf(format, args...))
}

// InvalidTransition returns a state-machine rejection.
func InvalidTransition(format string, args ...any) *Error {
	return newError(KindInvalidTransition, fmt.Sprintf(format, args...))
}

// Unavailable wraps a container engine connectivity failure.
func Unavailable(err error, format string, args ...any) *Error {
	return wrap(KindUnavailable, err, fmt.Sprintf(format, args...))
}

// Timeout wraps an engine call that exceeded its deadline.
func Timeout(err error, format string, args ...any) *Error {
	return wrap(KindTimeout, err, fmt.Sprintf(format, args...))
}

// RoutingSync wraps a proxy configuration failure scoped to one project.
func RoutingSync(err error, format string, args ...any) *Error {
	return wrap(KindRoutingSync, err, fmt.Sprintf(format, args...))
}

// GetKind extracts the Kind from an error chain, KindUnknown when untyped.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Knd
	}
	return KindUnknown
}

// IsKind reports whether the error chain contains the given kind.
func IsKind(err error, kind Kind) bool {
	return GetKind(err) == kind
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return IsKind(err, KindNotFound) }

// IsConflict reports whether err is a conflict error.
func IsConflict(err error) bool { return IsKind(err, KindConflict) }

// IsUnavailable reports whether err is an engine availability error.
func IsUnavailable(err error) bool { return IsKind(err, KindUnavailable) }

// FieldsOf returns per-field validation messages, nil when absent.
func FieldsOf(err error) map[string]string {
	var e *Error
	if errors.As(err, &e) {
		return e.Fields
	}
	return nil
}
