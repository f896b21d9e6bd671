package runner

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRunning is returned when another runner holds the execution lock.
	ErrAlreadyRunning = errors.New("execution is already running")
	// ErrExecutionFinished is returned for a request about a terminal execution.
	ErrExecutionFinished = errors.New("execution already finished")
	// ErrStreamTimeout is returned when the stream or job deadline cut the provider stream.
	ErrStreamTimeout = errors.New("provider stream timed out")
)

// PreconditionError reports a run that was refused before the provider was called.
type PreconditionError struct {
	ExecutionID int64
	Reason      string
}

func (e *PreconditionError) Error() string {
	return e.Reason
}

// NewPreconditionError creates a precondition error for an execution.
func NewPreconditionError(executionID int64, format string, args ...any) *PreconditionError {
	return &PreconditionError{ExecutionID: executionID, Reason: fmt.Sprintf(format, args...)}
}

// IsPreconditionError reports whether err is a *PreconditionError.
func IsPreconditionError(err error) bool {
	var precondition *PreconditionError

	return errors.As(err, &precondition)
}
