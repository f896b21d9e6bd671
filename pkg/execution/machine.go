// Package execution derives an execution's lifecycle state from its stream events.
package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/troneras/workflow-orchestrator/pkg/models"
	"github.com/troneras/workflow-orchestrator/pkg/persistence"
)

// ErrStreamIncomplete is the failure recorded when a stream closes before workflow_finished.
var ErrStreamIncomplete = errors.New("stream ended before workflow finished")

// Machine applies stream events to executions. Only workflow_started and
// workflow_finished change state; every other event is audit-only.
type Machine struct {
	events persistence.StreamEventRepository
	clock  func() time.Time
}

// NewMachine creates a state machine reading the audit trail from events.
func NewMachine(events persistence.StreamEventRepository, clock func() time.Time) *Machine {
	if clock == nil {
		clock = time.Now
	}

	return &Machine{events: events, clock: clock}
}

// Apply folds one stored event into the execution. It reports whether the
// execution changed and must be saved. Events arriving after a terminal
// transition never change the execution.
func (m *Machine) Apply(ctx context.Context, execution *models.Execution, event *models.StreamEvent) (bool, error) {
	if execution.Status.IsTerminal() {
		return false, nil
	}

	switch event.Type.Kind {
	case models.EventWorkflowStarted:
		return m.start(execution, event), nil
	case models.EventWorkflowFinished:
		return m.finish(ctx, execution, event)
	default:
		return false, nil
	}
}

func (m *Machine) start(execution *models.Execution, event *models.StreamEvent) bool {
	now := m.clock().UTC()

	execution.Status = models.ExecutionStatusRunning
	execution.StartTime = &now

	if !execution.RunIDAdopted && event.WorkflowRunID != "" {
		execution.ExecutionID = event.WorkflowRunID
		execution.RunIDAdopted = true
	}

	return true
}

func (m *Machine) finish(ctx context.Context, execution *models.Execution, event *models.StreamEvent) (bool, error) {
	track, err := m.events.ListByExecution(ctx, execution.ID)
	if err != nil {
		return false, fmt.Errorf("failed to load audit trail of execution %d: %w", execution.ID, err)
	}

	payload := event.Payload()
	now := m.clock().UTC()

	status, _ := payload["status"].(string)
	execution.Status = MapProviderStatus(status)
	execution.EndTime = &now

	duration := 0
	if elapsed, ok := number(payload["elapsed_time"]); ok {
		duration = int(math.Round(elapsed))
	} else {
		duration = int(now.Sub(m.startMarker(execution, now)).Seconds())
	}

	duration = max(duration, 0)
	execution.Duration = &duration

	if outputs, ok := payload["outputs"].(map[string]any); ok {
		execution.Output = outputs
	} else {
		execution.Output = map[string]any{}
	}

	tokens := 0
	if total, ok := number(payload["total_tokens"]); ok {
		tokens = int(total)
	}

	execution.Tokens = &tokens
	execution.Track = track

	return true, nil
}

// Fail forces the execution into failed with the message as output. It reports
// false and changes nothing when the execution is already terminal.
func (m *Machine) Fail(execution *models.Execution, message string) bool {
	if execution.Status.IsTerminal() {
		return false
	}

	now := m.clock().UTC()
	duration := max(int(now.Sub(m.startMarker(execution, now)).Seconds()), 0)

	execution.Status = models.ExecutionStatusFailed
	execution.EndTime = &now
	execution.Duration = &duration
	execution.Output = map[string]any{"error": message}

	return true
}

// Start marks the execution running before the provider is called.
func (m *Machine) Start(execution *models.Execution) bool {
	if execution.Status.IsTerminal() {
		return false
	}

	now := m.clock().UTC()
	execution.Status = models.ExecutionStatusRunning
	execution.StartTime = &now

	return true
}

// startMarker is the execution's start time, or now when it never started.
func (m *Machine) startMarker(execution *models.Execution, now time.Time) time.Time {
	if execution.StartTime == nil {
		execution.StartTime = &now

		return now
	}

	return *execution.StartTime
}

// MapProviderStatus maps a provider terminal status onto an execution status.
// Unknown or missing values count as completed.
func MapProviderStatus(status string) models.ExecutionStatus {
	switch status {
	case "failed", "stopped":
		return models.ExecutionStatusFailed
	default:
		return models.ExecutionStatusCompleted
	}
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
