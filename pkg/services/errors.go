package services

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a case, hypothesis, or report id is unknown.
	ErrNotFound = errors.New("entity not found")

	// ErrUnauthorized is returned when a (case_id, user_id) ownership check
	// fails. Callers must never elevate this into more detail.
	ErrUnauthorized = errors.New("not authorized for this case")

	// ErrAlreadyInitialized is returned when initialize is called on a case
	// that already has investigation state.
	ErrAlreadyInitialized = errors.New("investigation already initialized")

	// ErrNotTerminal is returned when an operation requires the case to be
	// in a terminal status (RESOLVED or CLOSED) and it is not.
	ErrNotTerminal = errors.New("case is not in a terminal status")

	// ErrLinkedToClosure is returned when deletion of a report is attempted
	// after it has been linked to case closure.
	ErrLinkedToClosure = errors.New("report is linked to closure and cannot be deleted")
)

// ValidationError wraps field-specific input validation failures.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError reports whether err is a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
