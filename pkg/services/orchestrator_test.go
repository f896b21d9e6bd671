package services

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/troneras/workflow-orchestrator/pkg/eventbus"
	"github.com/troneras/workflow-orchestrator/pkg/events"
	"github.com/troneras/workflow-orchestrator/pkg/mocks"
	"github.com/troneras/workflow-orchestrator/pkg/models"
	"github.com/troneras/workflow-orchestrator/pkg/persistence"
	"github.com/troneras/workflow-orchestrator/pkg/persistence/file"
	"github.com/troneras/workflow-orchestrator/pkg/webhook"
)

const workflowUUID = "0b6f7c1e-8a55-4a57-9a0c-5f3c1e2d9b11"

type harness struct {
	service  *Orchestrator
	store    persistence.Persistence
	bus      *mocks.MockEventBus
	webhooks *mocks.MockWebhooks
	provider *models.Provider
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		store:    file.NewPersistence(t.TempDir()),
		bus:      &mocks.MockEventBus{},
		webhooks: &mocks.MockWebhooks{},
	}

	h.provider = &models.Provider{Name: "summarize", WorkflowID: workflowUUID, APIKey: "secret", IsActive: true}
	require.NoError(t, h.store.ProviderRepository().Create(t.Context(), h.provider))

	h.service = NewOrchestrator(h.store, h.bus, h.webhooks, slog.New(slog.NewTextHandler(io.Discard, nil)))

	return h
}

func (h *harness) expectPublish() {
	h.bus.On("Publish", mock.Anything, mock.AnythingOfType("string"), mock.AnythingOfType("events.ExecutionRequested")).Return(nil)
}

func TestTaskName(t *testing.T) {
	tests := []struct {
		name      string
		taskGroup string
		context   ExecutionContext
		expected  string
	}{
		{"explicit group wins", "nightly-digest", ExecutionContext{Service: "billing", Operation: "summarize"}, "nightly-digest"},
		{"service and operation", "", ExecutionContext{Service: "billing", Operation: "summarize"}, "billing-summarize"},
		{"service only", "", ExecutionContext{Service: "billing"}, "billing"},
		{"operation without service", "", ExecutionContext{Operation: "summarize"}, "api-task"},
		{"nothing", "", ExecutionContext{}, "api-task"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, TaskName(tt.taskGroup, tt.context))
		})
	}
}

func TestOrchestrator_ExecuteByName(t *testing.T) {
	h := newHarness(t)

	var published events.ExecutionRequested

	h.bus.On("Publish", mock.Anything, "1", mock.MatchedBy(func(e eventbus.Event) bool {
		published, _ = e.(events.ExecutionRequested)

		return e.GetType() == events.ExecutionRequestedEvent
	})).Return(nil).Once()

	result, err := h.service.Execute(t.Context(), ExecuteRequest{
		Workflow:   "summarize",
		Inputs:     map[string]any{"text": "hello"},
		Context:    ExecutionContext{Service: "billing", Operation: "summarize", ReferenceID: "inv-42"},
		WebhookURL: "https://hooks.example.com/done",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), result.ExecutionID)
	assert.Equal(t, "summarize", result.WorkflowName)
	assert.Equal(t, "billing-summarize", result.TaskName)
	assert.Equal(t, models.ExecutionStatusPending, result.Status)
	assert.Len(t, result.TaskExecutionID, 36)
	require.NotNil(t, result.WebhookURL)
	assert.Equal(t, "https://hooks.example.com/done", *result.WebhookURL)

	h.bus.AssertExpectations(t)
	assert.Equal(t, int64(1), published.ExecutionID)
	assert.Equal(t, result.TaskExecutionID, published.CorrelationID)
	assert.Equal(t, h.provider.ID, published.ProviderID)

	exec, err := h.store.ExecutionRepository().GetByID(t.Context(), result.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPending, exec.Status)
	assert.Equal(t, map[string]any{"text": "hello"}, exec.Input)
	assert.Equal(t, models.ExecutionMetadata{
		APIExecution: true,
		CreatedVia:   "api",
		WebhookURL:   "https://hooks.example.com/done",
		ServiceName:  "billing",
		Operation:    "summarize",
		ReferenceID:  "inv-42",
	}, exec.Metadata)
	assert.Nil(t, exec.StartTime)

	task, err := h.store.TaskRepository().GetByID(t.Context(), exec.TaskID)
	require.NoError(t, err)
	assert.Equal(t, "billing-summarize", task.Name)
	assert.Equal(t, h.provider.ID, task.ProviderID)
}

func TestOrchestrator_ExecuteByWorkflowIDReusesTask(t *testing.T) {
	h := newHarness(t)
	h.expectPublish()

	first, err := h.service.Execute(t.Context(), ExecuteRequest{Workflow: workflowUUID, TaskGroup: "digest", Inputs: map[string]any{}})
	require.NoError(t, err)

	second, err := h.service.Execute(t.Context(), ExecuteRequest{Workflow: workflowUUID, TaskGroup: "digest", Inputs: map[string]any{}})
	require.NoError(t, err)

	assert.Equal(t, "digest", second.TaskName)

	tasks, err := h.store.TaskRepository().ListByName(t.Context(), "digest")
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
	assert.Equal(t, "Auto-created task for API execution group: digest", tasks[0].Description)

	assert.NotEqual(t, first.TaskExecutionID, second.TaskExecutionID)
	assert.Nil(t, first.WebhookURL)
}

func TestOrchestrator_ExecuteUnavailableWorkflow(t *testing.T) {
	h := newHarness(t)

	h.provider.MarkAsError("Invalid API credentials", h.provider.CreatedAt)
	require.NoError(t, h.store.ProviderRepository().UpdateStatus(t.Context(), h.provider))

	tests := []string{"summarize", workflowUUID, "missing", "1d7e2c56-0000-4000-8000-000000000000"}

	for _, ref := range tests {
		t.Run(ref, func(t *testing.T) {
			_, err := h.service.Execute(t.Context(), ExecuteRequest{Workflow: ref, Inputs: map[string]any{}})
			require.ErrorIs(t, err, ErrWorkflowUnavailable)
			assert.True(t, IsNotFoundError(err))
		})
	}

	_, err := h.service.Execute(t.Context(), ExecuteRequest{Workflow: "  "})
	assert.True(t, IsValidationError(err))

	h.bus.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestOrchestrator_ExecuteValidatesInputSchema(t *testing.T) {
	h := newHarness(t)
	h.expectPublish()

	task := &models.Task{
		Name:       "strict",
		ProviderID: h.provider.ID,
		IsActive:   true,
		InputSchema: map[string]any{
			"type":     "object",
			"required": []any{"text"},
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
		},
	}
	require.NoError(t, h.store.TaskRepository().Create(t.Context(), task))

	_, err := h.service.Execute(t.Context(), ExecuteRequest{Workflow: "summarize", TaskGroup: "strict", Inputs: map[string]any{"text": 12}})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	serviceErr, ok := AsServiceError(err)
	require.True(t, ok)
	assert.Equal(t, "INVALID_INPUTS", serviceErr.Code)
	assert.NotEmpty(t, serviceErr.Details)

	_, total, err := h.store.ExecutionRepository().List(t.Context(), persistence.ExecutionFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)

	_, err = h.service.Execute(t.Context(), ExecuteRequest{Workflow: "summarize", TaskGroup: "strict", Inputs: map[string]any{"text": "ok"}})
	require.NoError(t, err)
}

func TestOrchestrator_ExecuteIgnoresFreeFormSchema(t *testing.T) {
	h := newHarness(t)
	h.expectPublish()

	task := &models.Task{Name: "hinted", ProviderID: h.provider.ID, IsActive: true, InputSchema: map[string]any{"text": "the text to summarize"}}
	require.NoError(t, h.store.TaskRepository().Create(t.Context(), task))

	_, err := h.service.Execute(t.Context(), ExecuteRequest{Workflow: "summarize", TaskGroup: "hinted", Inputs: map[string]any{"other": true}})
	require.NoError(t, err)
}

func TestOrchestrator_ExecutePublishFailureFailsExecution(t *testing.T) {
	h := newHarness(t)
	h.bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down"))

	_, err := h.service.Execute(t.Context(), ExecuteRequest{Workflow: "summarize", Inputs: map[string]any{}})
	require.Error(t, err)

	exec, err := h.store.ExecutionRepository().GetByID(t.Context(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, exec.Status)
	assert.Equal(t, "Failed to dispatch execution: broker down", exec.Output["error"])
}

func TestOrchestrator_ExecuteTask(t *testing.T) {
	h := newHarness(t)
	h.expectPublish()

	task := &models.Task{Name: "legacy", ProviderID: h.provider.ID, IsActive: true}
	require.NoError(t, h.store.TaskRepository().Create(t.Context(), task))

	result, err := h.service.ExecuteTask(t.Context(), ExecuteTaskRequest{
		TaskID:      task.ID,
		Inputs:      map[string]any{"text": "hi"},
		ServiceName: "crm",
		ReferenceID: "lead-7",
	})
	require.NoError(t, err)
	assert.Empty(t, result.TaskName)

	exec, err := h.store.ExecutionRepository().GetByID(t.Context(), result.ExecutionID)
	require.NoError(t, err)
	assert.True(t, exec.IsAPIExecution())
	assert.Equal(t, "crm", exec.Metadata.ServiceName)
	assert.Equal(t, "lead-7", exec.Metadata.ReferenceID)

	_, err = h.service.ExecuteTask(t.Context(), ExecuteTaskRequest{TaskID: 999})
	assert.True(t, IsNotFoundError(err))

	orphan := &models.Task{Name: "orphan", ProviderID: 404, IsActive: true}
	require.NoError(t, h.store.TaskRepository().Create(t.Context(), orphan))

	_, err = h.service.ExecuteTask(t.Context(), ExecuteTaskRequest{TaskID: orphan.ID})
	require.ErrorIs(t, err, ErrNoWorkflowForTask)
	assert.True(t, IsPreconditionError(err))

	h.provider.MarkAsError("Workflow not found", h.provider.CreatedAt)
	require.NoError(t, h.store.ProviderRepository().UpdateStatus(t.Context(), h.provider))

	_, err = h.service.ExecuteTask(t.Context(), ExecuteTaskRequest{TaskID: task.ID})
	require.ErrorIs(t, err, ErrWorkflowNotRunnable)
	assert.Contains(t, err.Error(), "status: error")
}

func TestOrchestrator_HealthCheck(t *testing.T) {
	store := &mocks.MockPersistence{}
	store.On("StreamEventRepository").Return(file.NewPersistence(t.TempDir()).StreamEventRepository())
	store.On("HealthCheck", mock.Anything).Return(errors.New("connection refused")).Once()
	store.On("HealthCheck", mock.Anything).Return(nil).Once()

	service := NewOrchestrator(store, &mocks.MockEventBus{}, &mocks.MockWebhooks{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	message, ok := service.HealthCheck(t.Context())
	assert.False(t, ok)
	assert.Equal(t, "Persistence layer is unhealthy: connection refused", message)

	message, ok = service.HealthCheck(t.Context())
	assert.True(t, ok)
	assert.Equal(t, "Persistence layer is healthy", message)

	store.AssertExpectations(t)
}

func TestOrchestrator_FindExecutionStorageError(t *testing.T) {
	executions := &mocks.MockExecutionRepository{}
	executions.On("GetByID", mock.Anything, int64(7)).Return(nil, errors.New("disk on fire"))

	store := &mocks.MockPersistence{}
	store.On("StreamEventRepository").Return(file.NewPersistence(t.TempDir()).StreamEventRepository())
	store.On("ExecutionRepository").Return(executions)

	service := NewOrchestrator(store, &mocks.MockEventBus{}, &mocks.MockWebhooks{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := service.FindExecution(t.Context(), 7)
	require.Error(t, err)
	assert.False(t, IsNotFoundError(err))
	assert.Contains(t, err.Error(), "disk on fire")
}

func TestOrchestrator_ResendWebhook(t *testing.T) {
	h := newHarness(t)
	h.expectPublish()

	result, err := h.service.Execute(t.Context(), ExecuteRequest{Workflow: "summarize", Inputs: map[string]any{}, WebhookURL: "https://hooks.example.com"})
	require.NoError(t, err)

	attempt := &models.WebhookAttempt{ID: 3, AttemptNumber: 2, Status: models.AttemptStatusSuccess}
	h.webhooks.On("Retry", mock.Anything, mock.MatchedBy(func(e *models.Execution) bool {
		return e.ID == result.ExecutionID
	})).Return(attempt, nil).Once()

	got, err := h.service.ResendWebhook(t.Context(), result.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, attempt, got)

	h.webhooks.On("Retry", mock.Anything, mock.Anything).Return(nil, webhook.ErrNoWebhookURL).Once()

	_, err = h.service.ResendWebhook(t.Context(), result.ExecutionID)
	require.ErrorIs(t, err, ErrNoWebhookURL)
	assert.True(t, IsPreconditionError(err))

	_, err = h.service.ResendWebhook(t.Context(), 999)
	assert.True(t, IsNotFoundError(err))

	h.webhooks.AssertExpectations(t)
}

func TestOrchestrator_WebhookStatus(t *testing.T) {
	h := newHarness(t)
	h.expectPublish()

	result, err := h.service.Execute(t.Context(), ExecuteRequest{Workflow: "summarize", Inputs: map[string]any{}, WebhookURL: "https://hooks.example.com"})
	require.NoError(t, err)

	url := "https://hooks.example.com"
	h.webhooks.On("Status", mock.Anything, mock.Anything).Return(webhook.Summary{HasWebhook: true, WebhookURL: &url, TotalAttempts: 2, FailedAttempts: 2, IsRetryable: true}, nil)

	report, err := h.service.WebhookStatus(t.Context(), result.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, result.TaskExecutionID, report.TaskExecutionID)
	assert.Equal(t, models.ExecutionStatusPending, report.Status)
	assert.Equal(t, 2, report.Webhook.TotalAttempts)
	assert.True(t, report.Webhook.IsRetryable)
}
