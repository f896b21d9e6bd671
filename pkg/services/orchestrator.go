package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/troneras/workflow-orchestrator/pkg/eventbus"
	"github.com/troneras/workflow-orchestrator/pkg/events"
	"github.com/troneras/workflow-orchestrator/pkg/execution"
	"github.com/troneras/workflow-orchestrator/pkg/models"
	"github.com/troneras/workflow-orchestrator/pkg/persistence"
	"github.com/troneras/workflow-orchestrator/pkg/webhook"
	"github.com/xeipuuv/gojsonschema"
)

const defaultTaskName = "api-task"

// Webhooks is the part of the webhook dispatcher the API exposes.
type Webhooks interface {
	Retry(ctx context.Context, execution *models.Execution) (*models.WebhookAttempt, error)
	Status(ctx context.Context, execution *models.Execution) (webhook.Summary, error)
}

// Orchestrator accepts execution requests and answers status queries. Runs
// themselves happen in workers that receive the published requests.
type Orchestrator struct {
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	webhooks    Webhooks
	machine     *execution.Machine
	logger      *slog.Logger
}

// NewOrchestrator creates a new orchestrator service.
func NewOrchestrator(
	persistence persistence.Persistence,
	publisher eventbus.EventPublisher,
	webhooks Webhooks,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		persistence: persistence,
		publisher:   publisher,
		webhooks:    webhooks,
		machine:     execution.NewMachine(persistence.StreamEventRepository(), nil),
		logger:      logger.With("module", "orchestrator"),
	}
}

// HealthCheck checks the health of the persistence layer.
func (o *Orchestrator) HealthCheck(ctx context.Context) (string, bool) {
	if o.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := o.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// ExecutionContext identifies the calling system of an API execution.
type ExecutionContext struct {
	Service     string
	Operation   string
	ReferenceID string
}

// ExecuteRequest starts a workflow by name or provider workflow id.
type ExecuteRequest struct {
	Workflow   string
	TaskGroup  string
	Inputs     map[string]any
	Context    ExecutionContext
	WebhookURL string
}

// ExecuteTaskRequest starts an execution of a known task.
type ExecuteTaskRequest struct {
	TaskID      int64
	Inputs      map[string]any
	WebhookURL  string
	ServiceName string
	ReferenceID string
}

// ExecuteResult identifies an accepted execution.
type ExecuteResult struct {
	ExecutionID     int64                  `json:"execution_id"`
	TaskExecutionID string                 `json:"task_execution_id"`
	WorkflowName    string                 `json:"workflow_name,omitempty"`
	TaskName        string                 `json:"task_name,omitempty"`
	Status          models.ExecutionStatus `json:"status"`
	WebhookURL      *string                `json:"webhook_url"`
	CreatedAt       time.Time              `json:"created_at"`
}

// Execute creates a pending API execution and hands it to the workers.
func (o *Orchestrator) Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResult, error) {
	ref := strings.TrimSpace(req.Workflow)
	if ref == "" {
		return nil, NewValidationError("Execute", "WORKFLOW_REQUIRED", "workflow reference is required", ErrWorkflowMissing)
	}

	target, err := o.resolveWorkflow(ctx, ref)
	if err != nil {
		return nil, err
	}

	task, err := o.findOrCreateTask(ctx, target, TaskName(req.TaskGroup, req.Context))
	if err != nil {
		return nil, err
	}

	if err := o.validateInputs(task, req.Inputs); err != nil {
		return nil, err
	}

	exec := newAPIExecution(task, req.Inputs, models.ExecutionMetadata{
		WebhookURL:  req.WebhookURL,
		ServiceName: req.Context.Service,
		Operation:   req.Context.Operation,
		ReferenceID: req.Context.ReferenceID,
	})

	if err := o.submit(ctx, exec, target); err != nil {
		return nil, err
	}

	o.logger.InfoContext(ctx, "API workflow execution initiated",
		"execution_id", exec.ID,
		"workflow_name", target.Name,
		"task_name", task.Name,
		"task_group", req.TaskGroup,
		"service", req.Context.Service,
		"operation", req.Context.Operation,
		"webhook_url", req.WebhookURL)

	result := newExecuteResult(exec)
	result.WorkflowName = target.Name
	result.TaskName = task.Name

	return result, nil
}

// ExecuteTask creates a pending API execution of an existing task. The task's
// provider must be able to execute.
func (o *Orchestrator) ExecuteTask(ctx context.Context, req ExecuteTaskRequest) (*ExecuteResult, error) {
	task, err := o.persistence.TaskRepository().GetByID(ctx, req.TaskID)
	if err != nil {
		if persistence.IsTaskNotFound(err) {
			return nil, &ServiceError{Op: "ExecuteTask", Code: "TASK_NOT_FOUND", Message: fmt.Sprintf("task %d not found", req.TaskID), Err: ErrTaskNotFound}
		}

		return nil, fmt.Errorf("failed to load task: %w", err)
	}

	target, err := o.persistence.ProviderRepository().GetByID(ctx, task.ProviderID)
	if err != nil {
		if persistence.IsProviderNotFound(err) {
			return nil, &ServiceError{Op: "ExecuteTask", Code: "NO_WORKFLOW", Err: ErrNoWorkflowForTask}
		}

		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}

	if !target.CanExecute() {
		return nil, &ServiceError{
			Op:      "ExecuteTask",
			Code:    "WORKFLOW_NOT_AVAILABLE",
			Message: notRunnableMessage(target),
			Err:     ErrWorkflowNotRunnable,
		}
	}

	if err := o.validateInputs(task, req.Inputs); err != nil {
		return nil, err
	}

	exec := newAPIExecution(task, req.Inputs, models.ExecutionMetadata{
		WebhookURL:  req.WebhookURL,
		ServiceName: req.ServiceName,
		ReferenceID: req.ReferenceID,
	})

	if err := o.submit(ctx, exec, target); err != nil {
		return nil, err
	}

	o.logger.InfoContext(ctx, "API workflow execution initiated (task)",
		"execution_id", exec.ID,
		"task_id", task.ID,
		"task_name", task.Name,
		"service_name", req.ServiceName,
		"reference_id", req.ReferenceID,
		"webhook_url", req.WebhookURL)

	return newExecuteResult(exec), nil
}

// TaskName picks the task an API execution is grouped under: the explicit
// group, else "<service>-<operation>" or "<service>", else "api-task".
func TaskName(taskGroup string, execCtx ExecutionContext) string {
	if taskGroup != "" {
		return taskGroup
	}

	if execCtx.Service == "" {
		return defaultTaskName
	}

	if execCtx.Operation == "" {
		return execCtx.Service
	}

	return execCtx.Service + "-" + execCtx.Operation
}

// resolveWorkflow finds a healthy provider by workflow id when ref is a UUID
// and by name otherwise.
func (o *Orchestrator) resolveWorkflow(ctx context.Context, ref string) (*models.Provider, error) {
	providers := o.persistence.ProviderRepository()

	var (
		target *models.Provider
		err    error
	)

	if _, parseErr := uuid.Parse(ref); parseErr == nil {
		target, err = providers.FindHealthyByWorkflowID(ctx, ref)
	} else {
		target, err = providers.FindHealthyByName(ctx, ref)
	}

	if err != nil {
		if persistence.IsProviderNotFound(err) {
			return nil, &ServiceError{
				Op:      "Execute",
				Code:    "WORKFLOW_UNAVAILABLE",
				Message: fmt.Sprintf("workflow %q not found or not healthy", ref),
				Err:     ErrWorkflowUnavailable,
			}
		}

		return nil, fmt.Errorf("failed to resolve workflow: %w", err)
	}

	return target, nil
}

func (o *Orchestrator) findOrCreateTask(ctx context.Context, target *models.Provider, name string) (*models.Task, error) {
	tasks := o.persistence.TaskRepository()

	task, err := tasks.FindByName(ctx, target.ID, name)
	if err == nil {
		return task, nil
	}

	if !persistence.IsTaskNotFound(err) {
		return nil, fmt.Errorf("failed to find task: %w", err)
	}

	description := "Auto-created task for API execution"
	if name != defaultTaskName {
		description += " group: " + name
	}

	task = &models.Task{
		Name:        name,
		Description: description,
		ProviderID:  target.ID,
		IsActive:    true,
	}

	if err := tasks.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	o.logger.InfoContext(ctx, "Created new task for API execution", "workflow_id", target.ID, "task_name", name)

	return task, nil
}

// validateInputs checks inputs against the task's input schema when the
// schema is a JSON schema. Free-form hints are not enforced.
func (o *Orchestrator) validateInputs(task *models.Task, inputs map[string]any) error {
	if !isJSONSchema(task.InputSchema) {
		return nil
	}

	if inputs == nil {
		inputs = map[string]any{}
	}

	schemaLoader := gojsonschema.NewGoLoader(task.InputSchema)
	dataLoader := gojsonschema.NewGoLoader(inputs)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		o.logger.Warn("Ignoring unusable task input schema", "task_id", task.ID, "error", err)

		return nil
	}

	if result.Valid() {
		return nil
	}

	details := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}

	return &ServiceError{
		Op:      "validateInputs",
		Code:    "INVALID_INPUTS",
		Message: "validation errors: " + strings.Join(details, "; "),
		Details: details,
		Err:     ErrInvalidInputs,
	}
}

func isJSONSchema(schema map[string]any) bool {
	for _, key := range []string{"$schema", "type", "properties", "required"} {
		if _, ok := schema[key]; ok {
			return true
		}
	}

	return false
}

// submit stores the execution and publishes the run request. An execution
// whose request cannot be published is failed at once.
func (o *Orchestrator) submit(ctx context.Context, exec *models.Execution, target *models.Provider) error {
	if err := o.persistence.ExecutionRepository().Create(ctx, exec); err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}

	event := events.NewExecutionRequested(exec, target.ID)

	if err := o.publisher.Publish(ctx, strconv.FormatInt(exec.ID, 10), event); err != nil {
		o.logger.ErrorContext(ctx, "Failed to publish execution request", "execution_id", exec.ID, "error", err)

		if o.machine.Fail(exec, "Failed to dispatch execution: "+err.Error()) {
			if saveErr := o.persistence.ExecutionRepository().Save(context.WithoutCancel(ctx), exec); saveErr != nil {
				o.logger.ErrorContext(ctx, "Failed to save execution", "execution_id", exec.ID, "error", saveErr)
			}
		}

		return fmt.Errorf("failed to dispatch execution %d: %w", exec.ID, err)
	}

	return nil
}

func newAPIExecution(task *models.Task, inputs map[string]any, metadata models.ExecutionMetadata) *models.Execution {
	if inputs == nil {
		inputs = map[string]any{}
	}

	metadata.APIExecution = true
	metadata.CreatedVia = "api"

	return &models.Execution{
		ExecutionID: uuid.NewString(),
		TaskID:      task.ID,
		Status:      models.ExecutionStatusPending,
		Input:       inputs,
		Metadata:    metadata,
	}
}

func newExecuteResult(exec *models.Execution) *ExecuteResult {
	return &ExecuteResult{
		ExecutionID:     exec.ID,
		TaskExecutionID: exec.ExecutionID,
		Status:          exec.Status,
		WebhookURL:      optional(exec.Metadata.WebhookURL),
		CreatedAt:       exec.CreatedAt,
	}
}

func notRunnableMessage(target *models.Provider) string {
	if target.StatusMessage == "" {
		return fmt.Sprintf("workflow is not available for execution (status: %s)", target.Status)
	}

	return fmt.Sprintf("workflow is not available for execution (status: %s): %s", target.Status, target.StatusMessage)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}

	return &s
}
