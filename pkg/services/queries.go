package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/troneras/workflow-orchestrator/pkg/execution"
	"github.com/troneras/workflow-orchestrator/pkg/models"
	"github.com/troneras/workflow-orchestrator/pkg/persistence"
	"github.com/troneras/workflow-orchestrator/pkg/webhook"
)

const (
	latestEventsLimit = 5
	defaultListLimit  = 20
	maxListLimit      = 100
)

// progressEventTypes are the events shown in a status report.
var progressEventTypes = []models.EventType{
	models.WorkflowStarted,
	models.NodeStarted,
	models.NodeFinished,
	models.WorkflowFinished,
}

// EventProgress is one recent event of a status report.
type EventProgress struct {
	EventType      string    `json:"event_type"`
	EventTimestamp time.Time `json:"event_timestamp"`
	NodeID         *string   `json:"node_id"`
	Summary        string    `json:"summary"`
}

// Progress describes how far a run has come.
type Progress struct {
	TotalEvents  int             `json:"total_events"`
	LatestEvents []EventProgress `json:"latest_events"`
	IsComplete   bool            `json:"is_complete"`
}

// ExecutionView is the externally visible state of an execution.
type ExecutionView struct {
	ID              int64                    `json:"id"`
	TaskExecutionID string                   `json:"task_execution_id"`
	TaskName        *string                  `json:"task_name"`
	Status          models.ExecutionStatus   `json:"status"`
	StartTime       *time.Time               `json:"start_time"`
	EndTime         *time.Time               `json:"end_time"`
	Duration        *int                     `json:"duration"`
	Tokens          *int                     `json:"tokens"`
	Output          map[string]any           `json:"output"`
	Metadata        models.ExecutionMetadata `json:"metadata"`
	UpdatedAt       time.Time                `json:"updated_at"`
}

// StatusReport answers a status query.
type StatusReport struct {
	Execution ExecutionView `json:"execution"`
	Progress  Progress      `json:"progress"`
}

// FindExecution loads an execution by internal id.
func (o *Orchestrator) FindExecution(ctx context.Context, id int64) (*models.Execution, error) {
	exec, err := o.persistence.ExecutionRepository().GetByID(ctx, id)
	if err != nil {
		if persistence.IsExecutionNotFound(err) {
			return nil, &ServiceError{Op: "FindExecution", Code: "EXECUTION_NOT_FOUND", Message: fmt.Sprintf("execution %d not found", id), Err: ErrExecutionNotFound}
		}

		return nil, fmt.Errorf("failed to load execution: %w", err)
	}

	return exec, nil
}

// Status reports an execution with its latest progress events, newest first.
func (o *Orchestrator) Status(ctx context.Context, id int64) (*StatusReport, error) {
	exec, err := o.FindExecution(ctx, id)
	if err != nil {
		return nil, err
	}

	streamEvents := o.persistence.StreamEventRepository()

	total, err := streamEvents.Count(ctx, exec.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count stream events: %w", err)
	}

	latest, err := streamEvents.Latest(ctx, exec.ID, latestEventsLimit, progressEventTypes...)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest stream events: %w", err)
	}

	progress := Progress{
		TotalEvents:  total,
		LatestEvents: make([]EventProgress, 0, len(latest)),
		IsComplete:   exec.IsComplete(),
	}

	for i := range latest {
		event := &latest[i]
		progress.LatestEvents = append(progress.LatestEvents, EventProgress{
			EventType:      event.Type.String(),
			EventTimestamp: event.Timestamp,
			NodeID:         optional(event.NodeID),
			Summary:        execution.Summarize(event),
		})
	}

	view := ExecutionView{
		ID:              exec.ID,
		TaskExecutionID: exec.ExecutionID,
		Status:          exec.Status,
		StartTime:       exec.StartTime,
		EndTime:         exec.EndTime,
		Duration:        exec.Duration,
		Tokens:          exec.Tokens,
		Output:          exec.Output,
		Metadata:        exec.Metadata,
		UpdatedAt:       exec.UpdatedAt,
	}

	if task, err := o.persistence.TaskRepository().GetByID(ctx, exec.TaskID); err == nil {
		view.TaskName = &task.Name
	}

	return &StatusReport{Execution: view, Progress: progress}, nil
}

// ListExecutionsRequest filters API executions.
type ListExecutionsRequest struct {
	TaskGroup   string
	Service     string
	Operation   string
	ReferenceID string
	Status      models.ExecutionStatus
	Limit       int
	Offset      int
}

// ExecutionSummary is one row of an execution listing.
type ExecutionSummary struct {
	ExecutionID     int64                  `json:"execution_id"`
	TaskExecutionID string                 `json:"task_execution_id"`
	WorkflowName    *string                `json:"workflow_name"`
	TaskName        *string                `json:"task_name"`
	Status          models.ExecutionStatus `json:"status"`
	Service         *string                `json:"service"`
	Operation       *string                `json:"operation"`
	ReferenceID     *string                `json:"reference_id"`
	StartTime       *time.Time             `json:"start_time"`
	EndTime         *time.Time             `json:"end_time"`
	Duration        *int                   `json:"duration"`
	Tokens          *int                   `json:"tokens"`
	CreatedAt       time.Time              `json:"created_at"`
}

// Pagination describes the page of a listing.
type Pagination struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// ListExecutionsResponse contains the result of listing executions.
type ListExecutionsResponse struct {
	Executions []ExecutionSummary `json:"executions"`
	Pagination Pagination         `json:"pagination"`
}

// ListExecutions returns API executions newest first.
func (o *Orchestrator) ListExecutions(ctx context.Context, req ListExecutionsRequest) (*ListExecutionsResponse, error) {
	if err := validateListExecutionsRequest(&req); err != nil {
		return nil, err
	}

	filter := persistence.ExecutionFilter{
		ServiceName: req.Service,
		Operation:   req.Operation,
		ReferenceID: req.ReferenceID,
		Status:      req.Status,
		APIOnly:     true,
		Limit:       req.Limit,
		Offset:      req.Offset,
	}

	if req.TaskGroup != "" {
		tasks, err := o.persistence.TaskRepository().ListByName(ctx, req.TaskGroup)
		if err != nil {
			return nil, fmt.Errorf("failed to list tasks: %w", err)
		}

		filter.TaskIDs = make([]int64, 0, len(tasks))
		for _, task := range tasks {
			filter.TaskIDs = append(filter.TaskIDs, task.ID)
		}
	}

	executions, total, err := o.persistence.ExecutionRepository().List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	names := newNameCache(o.persistence)
	summaries := make([]ExecutionSummary, 0, len(executions))

	for _, exec := range executions {
		taskName, workflowName := names.lookup(ctx, exec.TaskID)

		summaries = append(summaries, ExecutionSummary{
			ExecutionID:     exec.ID,
			TaskExecutionID: exec.ExecutionID,
			WorkflowName:    workflowName,
			TaskName:        taskName,
			Status:          exec.Status,
			Service:         optional(exec.Metadata.ServiceName),
			Operation:       optional(exec.Metadata.Operation),
			ReferenceID:     optional(exec.Metadata.ReferenceID),
			StartTime:       exec.StartTime,
			EndTime:         exec.EndTime,
			Duration:        exec.Duration,
			Tokens:          exec.Tokens,
			CreatedAt:       exec.CreatedAt,
		})
	}

	return &ListExecutionsResponse{
		Executions: summaries,
		Pagination: Pagination{
			Total:   total,
			Limit:   req.Limit,
			Offset:  req.Offset,
			HasMore: req.Offset+req.Limit < total,
		},
	}, nil
}

func validateListExecutionsRequest(req *ListExecutionsRequest) error {
	if req.Limit == 0 {
		req.Limit = defaultListLimit
	}

	if req.Limit < 1 || req.Limit > maxListLimit {
		return NewValidationError("ListExecutions", "INVALID_LIMIT",
			fmt.Sprintf("limit must be between 1 and %d", maxListLimit), ErrInvalidRequest)
	}

	if req.Offset < 0 {
		return NewValidationError("ListExecutions", "INVALID_OFFSET", "offset must not be negative", ErrInvalidRequest)
	}

	if req.Status != "" && !req.Status.IsValid() {
		return NewValidationError("ListExecutions", "INVALID_STATUS",
			fmt.Sprintf("invalid status '%s', allowed: pending, running, completed, failed", req.Status), ErrInvalidStatus)
	}

	return nil
}

// nameCache resolves task and workflow names once per listing.
type nameCache struct {
	persistence persistence.Persistence
	tasks       map[int64]*models.Task
	providers   map[int64]*models.Provider
}

func newNameCache(p persistence.Persistence) *nameCache {
	return &nameCache{
		persistence: p,
		tasks:       map[int64]*models.Task{},
		providers:   map[int64]*models.Provider{},
	}
}

func (c *nameCache) lookup(ctx context.Context, taskID int64) (taskName, workflowName *string) {
	task, ok := c.tasks[taskID]
	if !ok {
		task, _ = c.persistence.TaskRepository().GetByID(ctx, taskID)
		c.tasks[taskID] = task
	}

	if task == nil {
		return nil, nil
	}

	target, ok := c.providers[task.ProviderID]
	if !ok {
		target, _ = c.persistence.ProviderRepository().GetByID(ctx, task.ProviderID)
		c.providers[task.ProviderID] = target
	}

	if target == nil {
		return &task.Name, nil
	}

	return &task.Name, &target.Name
}

// WorkflowSummary describes a workflow available for execution.
type WorkflowSummary struct {
	ID            int64                 `json:"id"`
	Name          string                `json:"name"`
	Description   string                `json:"description"`
	WorkflowID    string                `json:"workflow_id"`
	Status        models.ProviderStatus `json:"status"`
	CreatedAt     time.Time             `json:"created_at"`
	ExampleInputs map[string]any        `json:"example_inputs,omitempty"`
}

// TaskSummary describes a task of a workflow.
type TaskSummary struct {
	ID          int64          `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
	CreatedAt   time.Time      `json:"created_at"`
}

// WorkflowDetail is a workflow with its tasks.
type WorkflowDetail struct {
	Workflow WorkflowSummary `json:"workflow"`
	Tasks    []TaskSummary   `json:"tasks"`
}

// Workflows lists the healthy workflows, each with the input schema of its
// first task that has one as example inputs.
func (o *Orchestrator) Workflows(ctx context.Context) ([]WorkflowSummary, error) {
	providers, err := o.persistence.ProviderRepository().ListHealthy(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	summaries := make([]WorkflowSummary, 0, len(providers))

	for _, target := range providers {
		tasks, err := o.persistence.TaskRepository().ListByProvider(ctx, target.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list tasks of workflow %d: %w", target.ID, err)
		}

		summary := newWorkflowSummary(target)
		summary.ExampleInputs = map[string]any{}

		for _, task := range tasks {
			if len(task.InputSchema) > 0 {
				summary.ExampleInputs = task.InputSchema

				break
			}
		}

		summaries = append(summaries, summary)
	}

	return summaries, nil
}

// Workflow returns a healthy workflow with its tasks.
func (o *Orchestrator) Workflow(ctx context.Context, id int64) (*WorkflowDetail, error) {
	target, err := o.persistence.ProviderRepository().GetByID(ctx, id)
	if err != nil {
		if persistence.IsProviderNotFound(err) {
			return nil, &ServiceError{Op: "Workflow", Code: "WORKFLOW_NOT_FOUND", Message: fmt.Sprintf("workflow %d not found", id), Err: err}
		}

		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}

	if !target.IsHealthy() {
		return nil, &ServiceError{
			Op:      "Workflow",
			Code:    "WORKFLOW_UNHEALTHY",
			Message: fmt.Sprintf("workflow is not healthy (status: %s): %s", target.Status, target.StatusMessage),
			Err:     ErrWorkflowUnhealthy,
		}
	}

	tasks, err := o.persistence.TaskRepository().ListByProvider(ctx, target.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks of workflow %d: %w", target.ID, err)
	}

	detail := &WorkflowDetail{
		Workflow: newWorkflowSummary(target),
		Tasks:    make([]TaskSummary, 0, len(tasks)),
	}

	for _, task := range tasks {
		detail.Tasks = append(detail.Tasks, TaskSummary{
			ID:          task.ID,
			Name:        task.Name,
			Description: task.Description,
			InputSchema: task.InputSchema,
			CreatedAt:   task.CreatedAt,
		})
	}

	return detail, nil
}

func newWorkflowSummary(target *models.Provider) WorkflowSummary {
	return WorkflowSummary{
		ID:          target.ID,
		Name:        target.Name,
		Description: target.Description,
		WorkflowID:  target.WorkflowID,
		Status:      target.Status,
		CreatedAt:   target.CreatedAt,
	}
}

// ResendWebhook sends a new webhook attempt for an execution.
func (o *Orchestrator) ResendWebhook(ctx context.Context, id int64) (*models.WebhookAttempt, error) {
	exec, err := o.FindExecution(ctx, id)
	if err != nil {
		return nil, err
	}

	attempt, err := o.webhooks.Retry(ctx, exec)
	if err != nil {
		if errors.Is(err, ErrNoWebhookURL) {
			return nil, &ServiceError{Op: "ResendWebhook", Code: "NO_WEBHOOK_URL", Message: "execution does not have a webhook URL", Err: err}
		}

		return nil, fmt.Errorf("failed to resend webhook: %w", err)
	}

	o.logger.InfoContext(ctx, "Webhook resent",
		"execution_id", exec.ID,
		"attempt_number", attempt.AttemptNumber,
		"status", attempt.Status)

	return attempt, nil
}

// WebhookStatusReport is the webhook delivery state of an execution.
type WebhookStatusReport struct {
	ExecutionID     int64                  `json:"execution_id"`
	TaskExecutionID string                 `json:"task_execution_id"`
	Status          models.ExecutionStatus `json:"status"`
	Webhook         webhook.Summary        `json:"webhook"`
}

// WebhookStatus summarizes the webhook attempts of an execution.
func (o *Orchestrator) WebhookStatus(ctx context.Context, id int64) (*WebhookStatusReport, error) {
	exec, err := o.FindExecution(ctx, id)
	if err != nil {
		return nil, err
	}

	summary, err := o.webhooks.Status(ctx, exec)
	if err != nil {
		return nil, fmt.Errorf("failed to load webhook status: %w", err)
	}

	return &WebhookStatusReport{
		ExecutionID:     exec.ID,
		TaskExecutionID: exec.ExecutionID,
		Status:          exec.Status,
		Webhook:         summary,
	}, nil
}
