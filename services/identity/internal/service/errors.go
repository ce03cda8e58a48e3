package service

import (
	"errors"
	"time"
)

// Kind classifies a domain failure. Kinds are comparable with errors.Is.
type Kind string

func (k Kind) Error() string { return string(k) }

const (
	ErrConflict     Kind = "conflict"
	ErrNotFound     Kind = "not found"
	ErrUnauthorized Kind = "unauthorized"
	ErrForbidden    Kind = "forbidden"
	ErrBadRequest   Kind = "bad request"
	ErrInternal     Kind = "internal"
)

// Error carries a client-facing message. Err, when set, is the underlying
// cause and is never shown to clients.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func internalError(message string, err error) *Error {
	return &Error{Kind: ErrInternal, Message: message, Err: err}
}

// KindOf returns the kind of err, or ErrInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrInternal
}
