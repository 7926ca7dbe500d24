// Package apperr defines the error taxonomy of the scan pipeline. Every
// error that reaches a user-facing boundary is converted to a status string
// with StatusText; none propagate as panics.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies where an error originated.
type Kind string

const (
	KindTransport     Kind = "transport"
	KindDecode        Kind = "decode"
	KindEmptyResult   Kind = "empty_result"
	KindDirectoryLoad Kind = "directory_load"
	KindConfig        Kind = "config"
	KindInternal      Kind = "internal"
)

// Error is a typed pipeline error.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches any *Error of the same kind, so callers can write
// errors.Is(err, apperr.ErrTransport).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is matching.
var (
	ErrTransport     = &Error{Kind: KindTransport}
	ErrDecode        = &Error{Kind: KindDecode}
	ErrEmptyResult   = &Error{Kind: KindEmptyResult}
	ErrDirectoryLoad = &Error{Kind: KindDirectoryLoad}
	ErrConfig        = &Error{Kind: KindConfig}
)

func Transport(err error, message string) *Error {
	return &Error{Kind: KindTransport, Message: message, Err: err}
}

func Decode(err error, message string) *Error {
	return &Error{Kind: KindDecode, Message: message, Err: err}
}

func EmptyResult(message string) *Error {
	return &Error{Kind: KindEmptyResult, Message: message}
}

func DirectoryLoad(err error, message string) *Error {
	return &Error{Kind: KindDirectoryLoad, Message: message, Err: err}
}

func Config(err error, message string) *Error {
	return &Error{Kind: KindConfig, Message: message, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// StatusText renders err as the short status line shown to the user.
func StatusText(err error) string {
	if err == nil {
		return ""
	}
	switch KindOf(err) {
	case KindTransport:
		return "Failed to reach the parsing service"
	case KindDecode:
		return "Received malformed data from the parsing service"
	case KindEmptyResult:
		return "No text found on the page"
	case KindDirectoryLoad:
		return "Failed to load contacts"
	case KindConfig:
		return "Invalid configuration"
	default:
		return "Unexpected error"
	}
}
