// Package models defines the domain models for streamed remote workflow executions.
package models

import "time"

// ExecutionStatus represents the lifecycle state of an execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed out of the status.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed
}

// IsValid reports whether s is one of the known execution statuses.
func (s ExecutionStatus) IsValid() bool {
	switch s {
	case ExecutionStatusPending, ExecutionStatusRunning, ExecutionStatusCompleted, ExecutionStatusFailed:
		return true
	default:
		return false
	}
}

// ExecutionMetadata carries the caller-supplied correlation fields of an execution.
// Only this fixed set of keys is ever read, so it is not an open map.
type ExecutionMetadata struct {
	APIExecution bool   `json:"api_execution,omitempty"`
	CreatedVia   string `json:"created_via,omitempty"`
	WebhookURL   string `json:"webhook_url,omitempty"`
	ServiceName  string `json:"service_name,omitempty"`
	Operation    string `json:"operation,omitempty"`
	ReferenceID  string `json:"reference_id,omitempty"`
}

// Execution is one run of a remote workflow against specific input.
type Execution struct {
	ID int64 `json:"id"`

	// ExecutionID is the externally visible correlation id. It is assigned at
	// creation and replaced once by the provider's run id when the stream starts.
	ExecutionID  string `json:"task_execution_id"`
	RunIDAdopted bool   `json:"run_id_adopted,omitempty"`

	TaskID    int64             `json:"task_id"`
	Status    ExecutionStatus   `json:"status"`
	StartTime *time.Time        `json:"start_time,omitempty"`
	EndTime   *time.Time        `json:"end_time,omitempty"`
	Duration  *int              `json:"duration,omitempty"`
	Tokens    *int              `json:"tokens,omitempty"`
	Input     map[string]any    `json:"input"`
	Output    map[string]any    `json:"output,omitempty"`
	Track     []StreamEvent     `json:"track,omitempty"`
	Metadata  ExecutionMetadata `json:"metadata"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// IsAPIExecution reports whether the execution was initiated through the external API.
func (e *Execution) IsAPIExecution() bool {
	return e.Metadata.APIExecution
}

// HasWebhookURL reports whether a completion webhook was requested.
func (e *Execution) HasWebhookURL() bool {
	return e.Metadata.WebhookURL != ""
}

// IsComplete reports whether the execution has reached a terminal status.
func (e *Execution) IsComplete() bool {
	return e.Status.IsTerminal()
}
