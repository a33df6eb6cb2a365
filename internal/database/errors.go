package database

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nfrund/duochat/internal/domain"
)

// Common database errors that can be checked using errors.Is()
var (
	// ErrNotConnected is returned when no healthy connection is available.
	ErrNotConnected = errors.New("database not connected")

	// ErrAlreadyExists is returned when a unique index rejects a record.
	ErrAlreadyExists = errors.New("record already exists")

	// ErrQueryFailed is returned when a query execution fails.
	ErrQueryFailed = errors.New("query execution failed")
)

// DBError represents a database error with additional context.
type DBError struct {
	// The underlying error that was returned by the database driver.
	err error

	// Additional context about where the error occurred.
	context string

	// The query that was being executed when the error occurred.
	query string
}

// NewDBError creates a new DBError with the given error and context.
// The context should describe what operation was being performed when the error occurred.
func NewDBError(err error, context string) *DBError {
	return &DBError{
		err:     err,
		context: context,
	}
}

// WithQuery adds query information to the error.
func (e *DBError) WithQuery(query string) *DBError {
	e.query = query
	return e
}

// Error returns the error message.
func (e *DBError) Error() string {
	msg := e.context
	if e.query != "" {
		msg = fmt.Sprintf("%s\nQuery: %s", msg, e.query)
	}
	if e.err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.err)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *DBError) Unwrap() error {
	return e.err
}

// Is matches the package sentinels carried by the wrapped error.
func (e *DBError) Is(target error) bool {
	switch target {
	case ErrNotConnected, ErrAlreadyExists, ErrQueryFailed:
		return errors.Is(e.err, target)
	}
	return false
}

// isUniqueViolation recognizes the driver error for a duplicate index entry.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already contains") || strings.Contains(msg, "already exists")
}

// toDomain maps driver failures onto the domain taxonomy. Anything that is
// not already a domain error is a store outage.
func toDomain(op string, err error) error {
	if err == nil {
		return nil
	}
	var derr *domain.Error
	if errors.As(err, &derr) {
		return err
	}
	if errors.Is(err, ErrAlreadyExists) || isUniqueViolation(err) {
		return &domain.Error{Op: op, Kind: domain.ErrConflict, Err: err}
	}
	return domain.Unavailable(op, err)
}
