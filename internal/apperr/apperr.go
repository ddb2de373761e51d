// Package apperr defines the application-level error taxonomy shared by
// every governed operation in agentco: validation failures, policy
// denials, secret detection, not-found, and conflict. JSON-RPC handlers
// use errors.As against these types to pick the right wire error code.
package apperr

import (
	"errors"
	"fmt"
)

// Kind discriminates the error taxonomy used across the control plane.
type Kind string

const (
	KindValidation Kind = "validation"
	KindPolicy     Kind = "policy_denied"
	KindSecret     Kind = "secret_detected"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindTransient  Kind = "transient"
	KindFatal      Kind = "fatal"
)

// Error is a classified application error carrying a stable Kind so
// callers can branch without string matching.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func Validation(format string, args ...any) *Error {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, fmt.Sprintf(format, args...))
}

func Conflict(format string, args ...any) *Error {
	return New(KindConflict, fmt.Sprintf(format, args...))
}

func Transient(cause error, format string, args ...any) *Error {
	return Wrap(KindTransient, fmt.Sprintf(format, args...), cause)
}

func Fatal(cause error, format string, args ...any) *Error {
	return Wrap(KindFatal, fmt.Sprintf(format, args...), cause)
}

// Is reports whether err (or something it wraps) is an *Error of kind k.
func Is(err error, k Kind) bool {
	var ae *Error
	if !errors.As(err, &ae) {
		return false
	}
	return ae.Kind == k
}
