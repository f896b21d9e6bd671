// Package events defines the messages exchanged between the API and the workers.
package events

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/troneras/workflow-orchestrator/pkg/models"
)

type EventType string

// Kafka topics.
const Topic = "orchestrator.executions"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// ExecutionRequestedEvent asks a worker to run a pending execution.
	ExecutionRequestedEvent EventType = "execution.requested"
	// ExecutionFinishedEvent announces that a run reached a terminal status.
	ExecutionFinishedEvent EventType = "execution.finished"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	WorkerID  string         `json:"worker_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type ExecutionRequested struct {
	BaseEvent

	ExecutionID   int64  `json:"execution_id"`
	CorrelationID string `json:"task_execution_id"`
	TaskID        int64  `json:"task_id"`
	ProviderID    int64  `json:"provider_id"`
}

func (e ExecutionRequested) GetType() EventType {
	return ExecutionRequestedEvent
}

// Validate performs basic validation on a received request.
func (e *ExecutionRequested) Validate() error {
	if e.ExecutionID <= 0 {
		return errors.New("execution_id is required")
	}

	if e.CorrelationID == "" {
		return errors.New("task_execution_id is required")
	}

	return nil
}

type ExecutionFinished struct {
	BaseEvent

	ExecutionID   int64                  `json:"execution_id"`
	CorrelationID string                 `json:"task_execution_id"`
	Status        models.ExecutionStatus `json:"status"`
	Duration      *int                   `json:"duration,omitempty"`
	Error         string                 `json:"error,omitempty"`
}

func (e ExecutionFinished) GetType() EventType {
	return ExecutionFinishedEvent
}

func NewBaseEvent(eventType EventType) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Metadata:  make(map[string]any),
	}
}

// NewExecutionRequested builds the request message for a stored execution.
func NewExecutionRequested(execution *models.Execution, providerID int64) ExecutionRequested {
	return ExecutionRequested{
		BaseEvent:     NewBaseEvent(ExecutionRequestedEvent),
		ExecutionID:   execution.ID,
		CorrelationID: execution.ExecutionID,
		TaskID:        execution.TaskID,
		ProviderID:    providerID,
	}
}

// NewExecutionFinished builds the completion message for a terminal execution.
func NewExecutionFinished(execution *models.Execution, runErr error) ExecutionFinished {
	event := ExecutionFinished{
		BaseEvent:     NewBaseEvent(ExecutionFinishedEvent),
		ExecutionID:   execution.ID,
		CorrelationID: execution.ExecutionID,
		Status:        execution.Status,
		Duration:      execution.Duration,
	}

	if runErr != nil {
		event.Error = runErr.Error()
	}

	return event
}
