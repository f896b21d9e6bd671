package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrExecutionNotFound indicates an execution was not found by the given identifier.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrProviderNotFound indicates a provider was not found or is not healthy.
	ErrProviderNotFound = errors.New("provider not found")

	// ErrTaskNotFound indicates a task was not found by the given identifier.
	ErrTaskNotFound = errors.New("task not found")

	// ErrAttemptNotFound indicates a webhook attempt was not found.
	ErrAttemptNotFound = errors.New("webhook attempt not found")
)

// NotFoundError wraps lookup failures with the operation and identifier.
type NotFoundError struct {
	Op      string // Operation being performed (e.g., "GetByID", "Save")
	ID      string // Identifier looked up
	Err     error  // Underlying sentinel
	Message string // Additional context message
}

func (e *NotFoundError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s operation failed for %s: %s (%v)", e.Op, e.ID, e.Message, e.Err)
	}

	return fmt.Sprintf("%s operation failed for %s: %v", e.Op, e.ID, e.Err)
}

func (e *NotFoundError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for not-found errors.
func (e *NotFoundError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewNotFoundError creates a new not-found error with context.
func NewNotFoundError(op string, id any, err error) *NotFoundError {
	return &NotFoundError{
		Op:  op,
		ID:  fmt.Sprint(id),
		Err: err,
	}
}

// IsExecutionNotFound checks if an error indicates an execution was not found.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsProviderNotFound checks if an error indicates a provider was not found.
func IsProviderNotFound(err error) bool {
	return errors.Is(err, ErrProviderNotFound)
}

// IsTaskNotFound checks if an error indicates a task was not found.
func IsTaskNotFound(err error) bool {
	return errors.Is(err, ErrTaskNotFound)
}

// IsAttemptNotFound checks if an error indicates a webhook attempt was not found.
func IsAttemptNotFound(err error) bool {
	return errors.Is(err, ErrAttemptNotFound)
}

// IsNotFound checks if an error is any of the not-found sentinels.
func IsNotFound(err error) bool {
	return IsExecutionNotFound(err) || IsProviderNotFound(err) || IsTaskNotFound(err) || IsAttemptNotFound(err)
}
