// Package errs holds the error kinds shared by the store, the services, the
// HTTP layer and the client: validation failures, missing rows and
// transient store failures.
package errs

import (
	"errors"
	"fmt"
)

// ErrNotFound means the addressed row does not exist (or belongs to someone else).
var ErrNotFound = errors.New("not found")

// ValidationError rejects input before it reaches the store.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Retryable() bool { return false }

func Invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// TransientError wraps a store or transport failure that may succeed on retry.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	if e.Err == nil {
		return e.Op + ": temporarily unavailable"
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *TransientError) Unwrap() error   { return e.Err }
func (e *TransientError) Retryable() bool { return true }

func Transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}
