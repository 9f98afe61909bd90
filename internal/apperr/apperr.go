// Package apperr defines the error classes surfaced to API callers.
// Each error carries a localization key for the user-facing message.
package apperr

import "errors"

// Error classes. Handlers map them to HTTP status codes with errors.Is.
var (
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
)

// Error is a classified error with a message key.
type Error struct {
	Kind error
	Key  string
}

func (e *Error) Error() string { return e.Kind.Error() + ": " + e.Key }

func (e *Error) Unwrap() error { return e.Kind }

func Validation(key string) *Error   { return &Error{Kind: ErrValidation, Key: key} }
func Unauthorized(key string) *Error { return &Error{Kind: ErrUnauthorized, Key: key} }
func Forbidden(key string) *Error    { return &Error{Kind: ErrForbidden, Key: key} }
func NotFound(key string) *Error     { return &Error{Kind: ErrNotFound, Key: key} }

// KeyOf returns the message key carried by err, or "".
func KeyOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Key
	}
	return ""
}
