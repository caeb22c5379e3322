// Package insterr defines the single error kind surfaced by an installation.
package insterr

import (
	"errors"
	"fmt"
)

// Error carries a message meant to be shown to the operator verbatim.
type Error struct {
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

func New(format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error whose message is formatted and whose cause is err.
func Wrap(err error, format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...), Err: err}
}

// From returns err unchanged when it already is an *Error, otherwise it wraps
// it as "<prefix>: <err>".
func From(err error, prefix string) *Error {
	if err == nil {
		return nil
	}
	var ie *Error
	if errors.As(err, &ie) {
		return ie
	}
	return &Error{Message: prefix + ": " + err.Error(), Err: err}
}
