// Package apperr defines the error kinds the core packages raise and the
// mapping from each kind to an HTTP status. Core packages return *Error;
// only the httpapi package translates a Kind into a response.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies the failure mode of a request, independent of transport.
type Kind string

const (
	BadRequest         Kind = "BadRequest"
	BadSignature       Kind = "BadSignature"
	NonceConsumed      Kind = "NonceConsumed"
	NotAllowed         Kind = "NotAllowed"
	InvariantViolation Kind = "InvariantViolation"
	NotFound           Kind = "NotFound"
	Internal           Kind = "Internal"
)

// Error is the typed error carried across core package boundaries.
type Error struct {
	Kind Kind
	Msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.err }

// New constructs an *Error of the given kind with a message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf constructs an *Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a kind and message while preserving it for errors.Is/As.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, err: err}
}

// KindOf extracts the Kind from err, defaulting to Internal when err is not
// an *Error (or nil).
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return Internal
}
