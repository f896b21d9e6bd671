package persistence_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/troneras/workflow-orchestrator/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("error checking functions work correctly", func(t *testing.T) {
		executionErr := persistence.NewNotFoundError("GetByID", int64(42), persistence.ErrExecutionNotFound)
		providerErr := persistence.NewNotFoundError("FindHealthyByName", "summarize", persistence.ErrProviderNotFound)

		assert.True(t, persistence.IsExecutionNotFound(executionErr))
		assert.False(t, persistence.IsExecutionNotFound(providerErr))
		assert.True(t, persistence.IsProviderNotFound(providerErr))
		assert.True(t, persistence.IsNotFound(providerErr))

		assert.True(t, errors.Is(executionErr, persistence.ErrExecutionNotFound))
	})

	t.Run("wrapped errors are still recognised", func(t *testing.T) {
		err := fmt.Errorf("loading task: %w", persistence.NewNotFoundError("GetByID", 7, persistence.ErrTaskNotFound))

		assert.True(t, persistence.IsTaskNotFound(err))
		assert.False(t, persistence.IsAttemptNotFound(err))
	})

	t.Run("error contains context", func(t *testing.T) {
		err := persistence.NewNotFoundError("GetByExecutionID", "run-123", persistence.ErrExecutionNotFound)

		assert.Contains(t, err.Error(), "GetByExecutionID")
		assert.Contains(t, err.Error(), "run-123")
		assert.Contains(t, err.Error(), "execution not found")
	})

	t.Run("message is included when present", func(t *testing.T) {
		err := persistence.NewNotFoundError("GetByID", 3, persistence.ErrProviderNotFound)
		err.Message = "provider is disabled"

		assert.Contains(t, err.Error(), "provider is disabled")
	})
}
