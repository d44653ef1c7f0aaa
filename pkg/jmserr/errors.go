// Package jmserr defines the typed error taxonomy that every synchronous
// boundary of pkg/jms translates provider and precondition failures into.
package jmserr

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error categories a core operation can fail
// with. Kinds are not Go types themselves (there is one Error type); code
// should branch on Kind via KindOf, not on the concrete error value.
type Kind int

const (
	// Unknown is the zero Kind and should never be constructed directly.
	Unknown Kind = iota
	IllegalState
	InvalidClientID
	InvalidDestination
	InvalidSelector
	ConnectionFailed
	NotSupported
	Timeout
	ProviderClosed
)

func (k Kind) String() string {
	switch k {
	case IllegalState:
		return "IllegalState"
	case InvalidClientID:
		return "InvalidClientId"
	case InvalidDestination:
		return "InvalidDestination"
	case InvalidSelector:
		return "InvalidSelector"
	case ConnectionFailed:
		return "ConnectionFailed"
	case NotSupported:
		return "NotSupported"
	case Timeout:
		return "Timeout"
	case ProviderClosed:
		return "ProviderClosed"
	default:
		return "Unknown"
	}
}

// Error is the concrete type behind every kind this package produces.
// Retriable lets callers that want to decide "is it worth trying again"
// branch on this rather than the Kind.
type Error struct {
	Kind      Kind
	Message   string
	Retriable bool
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(k Kind, msg string) *Error {
	return &Error{Kind: k, Message: msg}
}

// New constructs an Error of kind k with no cause.
func New(k Kind, msg string) *Error { return newErr(k, msg) }

// Newf is New with fmt.Sprintf-style formatting.
func Newf(k Kind, format string, args ...any) *Error {
	return newErr(k, fmt.Sprintf(format, args...))
}

// Wrap constructs an Error of kind k wrapping cause.
func Wrap(k Kind, msg string, cause error) *Error {
	e := newErr(k, msg)
	e.Cause = cause
	return e
}

// NewIllegalState, NewInvalidDestination, etc. are one-constructor-per-kind
// convenience wrappers used throughout pkg/jms, so callers never spell out
// New(SomeKind, ...) directly.
func NewIllegalState(format string, args ...any) *Error {
	return Newf(IllegalState, format, args...)
}

func NewInvalidClientID(format string, args ...any) *Error {
	return Newf(InvalidClientID, format, args...)
}

func NewInvalidDestination(format string, args ...any) *Error {
	return Newf(InvalidDestination, format, args...)
}

func NewInvalidSelector(format string, args ...any) *Error {
	return Newf(InvalidSelector, format, args...)
}

// NewConnectionFailed wraps the cause of the first failure a connection
// observed.
func NewConnectionFailed(cause error) *Error {
	e := newErr(ConnectionFailed, "connection failed")
	e.Cause = cause
	return e
}

func NewNotSupported(format string, args ...any) *Error {
	return Newf(NotSupported, format, args...)
}

func NewTimeout(format string, args ...any) *Error {
	e := Newf(Timeout, format, args...)
	e.Retriable = true
	return e
}

func NewProviderClosed(cause error) *Error {
	e := newErr(ProviderClosed, "provider closed")
	e.Cause = cause
	return e
}

// KindOf reports the Kind of err if it is (or wraps) a *Error, and
// Unknown, false otherwise. Built on errors.As so callers never
// type-assert directly.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return Unknown, false
}

// Is reports whether err is (or wraps) an *Error of kind k.
func Is(err error, k Kind) bool {
	kind, ok := KindOf(err)
	return ok && kind == k
}

// IsRetriable reports false for anything that is not one of our own
// *Error values, since only this package's own errors carry an opinion
// about retriability.
func IsRetriable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retriable
	}
	return false
}
