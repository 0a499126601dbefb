// Package bridgeerr defines the bridge's error-kind taxonomy (spec §7).
//
// Components never let raw errors cross their boundary; they wrap the
// underlying cause in an *Error carrying a Kind, so callers can decide how
// to react (log-and-continue, open a circuit breaker, surface an alert)
// without string-matching messages.
package bridgeerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the purposes of propagation policy.
type Kind string

const (
	// Protocol covers malformed frames, unknown message types, oversize frames.
	Protocol Kind = "protocol"
	// Validation covers MarketFrame/Trade invariant violations.
	Validation Kind = "validation"
	// Dependency covers predictor timeouts/errors, cache or store unavailability.
	Dependency Kind = "dependency"
	// RemoteLoss covers Host disconnects and other loss of an external peer.
	RemoteLoss Kind = "remote_loss"
	// Fatal covers unrecoverable internal invariant violations.
	Fatal Kind = "fatal"
)

// Error is the bridge's wrapped error type: a Kind plus an underlying cause.
type Error struct {
	Kind    Kind
	Op      string // component/operation that produced the error, e.g. "hostsession.dispatch"
	Cause   error
	Context map[string]any // optional structured detail (instrument, trade id, ...)
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s [%s]", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s [%s]: %v", e.Op, e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error of the given Kind.
func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Cause: cause}
}

// WithContext attaches structured detail and returns the same *Error for chaining.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any, 1)
	}
	e.Context[key] = value
	return e
}

// Protocolf builds a Protocol-kind error with a formatted cause.
func Protocolf(op, format string, args ...any) *Error {
	return New(Protocol, op, fmt.Errorf(format, args...))
}

// Validationf builds a Validation-kind error with a formatted cause.
func Validationf(op, format string, args ...any) *Error {
	return New(Validation, op, fmt.Errorf(format, args...))
}

// Dependencyf builds a Dependency-kind error with a formatted cause.
func Dependencyf(op, format string, args ...any) *Error {
	return New(Dependency, op, fmt.Errorf(format, args...))
}

// Is reports whether err is a *Error of the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
