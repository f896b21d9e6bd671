// Package services provides standardized error types for service layer operations.
package services

import (
	"errors"
	"fmt"

	"github.com/troneras/workflow-orchestrator/pkg/persistence"
	"github.com/troneras/workflow-orchestrator/pkg/webhook"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400/422).
	ErrInvalidRequest  = errors.New("invalid request")
	ErrInvalidInputs   = errors.New("inputs do not match the task input schema")
	ErrInvalidStatus   = errors.New("invalid execution status")
	ErrWorkflowMissing = errors.New("workflow reference is required")

	// Lookup Errors (404 Not Found).
	ErrWorkflowUnavailable = errors.New("workflow not found or not healthy")
	ErrExecutionNotFound   = persistence.ErrExecutionNotFound
	ErrTaskNotFound        = persistence.ErrTaskNotFound

	// Precondition Errors (400 Bad Request).
	ErrNoWorkflowForTask   = errors.New("no workflow associated with this task")
	ErrWorkflowNotRunnable = errors.New("workflow is not available for execution")
	ErrWorkflowUnhealthy   = errors.New("workflow is not healthy")
	ErrNoWebhookURL        = webhook.ErrNoWebhookURL
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string   // Operation name
	Code    string   // Error code for API responses
	Message string   // Human-readable message
	Details []string // Individual validation failures, if any
	Err     error    // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 422.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidInputs) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrWorkflowMissing)
}

// IsNotFoundError checks if an error should return HTTP 404.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrWorkflowUnavailable) ||
		errors.Is(err, ErrExecutionNotFound) ||
		errors.Is(err, ErrTaskNotFound) ||
		errors.Is(err, persistence.ErrProviderNotFound)
}

// IsPreconditionError checks if an error is a failed precondition that should return HTTP 400.
func IsPreconditionError(err error) bool {
	return errors.Is(err, ErrNoWorkflowForTask) ||
		errors.Is(err, ErrWorkflowNotRunnable) ||
		errors.Is(err, ErrWorkflowUnhealthy) ||
		errors.Is(err, ErrNoWebhookURL)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// AsServiceError extracts a *ServiceError from err.
func AsServiceError(err error) (*ServiceError, bool) {
	var serviceErr *ServiceError
	ok := errors.As(err, &serviceErr)

	return serviceErr, ok
}
