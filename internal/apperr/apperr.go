// Package apperr defines the error kinds the reminder engine surfaces to its
// callers. Handlers and batch jobs branch on them with errors.As.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a user or goal the caller asked about does not exist
// or is not visible to them.
var ErrNotFound = errors.New("not found")

// FieldError is one rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError rejects user input before anything is written.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add records a field problem.
func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// OrNil returns e when it holds at least one field problem.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

// InsufficientDataError is the normal terminal state of a pattern calculation
// with too little history. It is not a failure.
type InsufficientDataError struct {
	SampleSize int
	Required   int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: %d of %d samples", e.SampleSize, e.Required)
}

// Needed is how many more samples would make the pattern usable.
func (e *InsufficientDataError) Needed() int {
	if n := e.Required - e.SampleSize; n > 0 {
		return n
	}
	return 0
}

// DispatchError wraps a notification transport failure. The next tick is the
// only retry.
type DispatchError struct {
	Err error
}

func (e *DispatchError) Error() string { return "dispatch: " + e.Err.Error() }
func (e *DispatchError) Unwrap() error { return e.Err }

// DataAccessError wraps a collaborator store failure. It aborts only the pair
// being evaluated.
type DataAccessError struct {
	Op  string
	Err error
}

func (e *DataAccessError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *DataAccessError) Unwrap() error { return e.Err }

// DataAccess wraps err as a DataAccessError, passing nil through.
func DataAccess(op string, err error) error {
	if err == nil {
		return nil
	}
	return &DataAccessError{Op: op, Err: err}
}
