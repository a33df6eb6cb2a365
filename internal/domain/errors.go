package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the domain layer. Callers check them with errors.Is;
// the concrete value returned by stores and services is usually an *Error.
var (
	ErrValidation       = errors.New("validation failed")
	ErrNotFound         = errors.New("requested resource not found")
	ErrConflict         = errors.New("resource already exists")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrDeliveryFailed   = errors.New("delivery failed")
	ErrConnectionClosed = errors.New("connection closed")
)

// Error carries the failing operation and a human readable message alongside
// one of the sentinel kinds above.
type Error struct {
	Op      string
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the kind of this error.
func (e *Error) Is(target error) bool {
	return e.Kind == target
}

// Validationf builds a validation error for op.
func Validationf(op, format string, args ...any) error {
	return &Error{Op: op, Kind: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFoundf builds a not-found error for op.
func NotFoundf(op, format string, args ...any) error {
	return &Error{Op: op, Kind: ErrNotFound, Message: fmt.Sprintf(format, args...)}
}

// Unavailable wraps a persistence failure.
func Unavailable(op string, err error) error {
	return &Error{Op: op, Kind: ErrStoreUnavailable, Err: err}
}

// IsClientError reports whether err is caused by the caller's input rather
// than by the system.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict)
}
