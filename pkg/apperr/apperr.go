// Package apperr defines the typed error taxonomy shared by every pipeline
// step. Each failure carries a Kind so callers can branch on the class of
// failure without string matching.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an application error.
type Kind int

const (
	// KindUnknown is the zero value; errors from outside the taxonomy.
	KindUnknown Kind = iota
	// KindValidation marks malformed input rejected before any side effect.
	KindValidation
	// KindUnauthorized marks a failed authentication.
	KindUnauthorized
	// KindForbidden marks a denied authorization decision.
	KindForbidden
	// KindNotFound marks a missing aggregate or resource.
	KindNotFound
	// KindConflict marks an optimistic-concurrency or state conflict; the
	// caller may retry.
	KindConflict
	// KindRateLimited marks a request denied by a rate-limit rule.
	KindRateLimited
	// KindDependencyFailure marks an unreachable downstream store or service.
	KindDependencyFailure
	// KindSerialization marks a value that cannot be canonicalized.
	KindSerialization
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "ValidationError"
	case KindUnauthorized:
		return "Unauthorized"
	case KindForbidden:
		return "Forbidden"
	case KindNotFound:
		return "NotFound"
	case KindConflict:
		return "Conflict"
	case KindRateLimited:
		return "RateLimited"
	case KindDependencyFailure:
		return "DependencyFailure"
	case KindSerialization:
		return "SerializationError"
	default:
		return "Unknown"
	}
}

// Error is a classified application error.
type Error struct {
	ErrKind Kind
	Msg     string
	Wrapped error
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.ErrKind, e.Msg, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.ErrKind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// New constructs a classified error.
func New(kind Kind, msg string) *Error {
	return &Error{ErrKind: kind, Msg: msg}
}

// Wrap constructs a classified error wrapping a cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{ErrKind: kind, Msg: msg, Wrapped: cause}
}

// Validationf builds a KindValidation error.
func Validationf(format string, args ...any) *Error {
	return &Error{ErrKind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// Unauthorizedf builds a KindUnauthorized error.
func Unauthorizedf(format string, args ...any) *Error {
	return &Error{ErrKind: KindUnauthorized, Msg: fmt.Sprintf(format, args...)}
}

// Forbiddenf builds a KindForbidden error.
func Forbiddenf(format string, args ...any) *Error {
	return &Error{ErrKind: KindForbidden, Msg: fmt.Sprintf(format, args...)}
}

// NotFoundf builds a KindNotFound error.
func NotFoundf(format string, args ...any) *Error {
	return &Error{ErrKind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

// Conflictf builds a KindConflict error.
func Conflictf(format string, args ...any) *Error {
	return &Error{ErrKind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

// RateLimitedf builds a KindRateLimited error.
func RateLimitedf(format string, args ...any) *Error {
	return &Error{ErrKind: KindRateLimited, Msg: fmt.Sprintf(format, args...)}
}

// Dependencyf builds a KindDependencyFailure error.
func Dependencyf(format string, args ...any) *Error {
	return &Error{ErrKind: KindDependencyFailure, Msg: fmt.Sprintf(format, args...)}
}

// Serializationf builds a KindSerialization error.
func Serializationf(format string, args ...any) *Error {
	return &Error{ErrKind: KindSerialization, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from err, or KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.ErrKind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
