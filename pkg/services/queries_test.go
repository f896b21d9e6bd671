package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/troneras/workflow-orchestrator/pkg/models"
)

func appendEvent(t *testing.T, h *harness, executionID int64, eventType models.EventType, nodeID string, data map[string]any) {
	t.Helper()

	event := &models.StreamEvent{
		Type:      eventType,
		NodeID:    nodeID,
		Data:      map[string]any{"event": eventType.String(), "data": data},
		Timestamp: time.Now().UTC(),
	}
	require.NoError(t, h.store.StreamEventRepository().Append(t.Context(), executionID, event))
}

func TestOrchestrator_Status(t *testing.T) {
	h := newHarness(t)
	h.expectPublish()

	result, err := h.service.Execute(t.Context(), ExecuteRequest{Workflow: "summarize", TaskGroup: "digest", Inputs: map[string]any{}})
	require.NoError(t, err)

	id := result.ExecutionID

	appendEvent(t, h, id, models.WorkflowStarted, "", map[string]any{})
	appendEvent(t, h, id, models.NodeStarted, "start", map[string]any{"title": "Start"})
	appendEvent(t, h, id, models.NodeFinished, "start", map[string]any{"title": "Start", "status": "succeeded"})
	appendEvent(t, h, id, models.NodeStarted, "llm", map[string]any{"title": "LLM"})
	appendEvent(t, h, id, models.TextChunk, "", map[string]any{"text": "partial"})
	appendEvent(t, h, id, models.ParseEventType("tts_message"), "", map[string]any{})
	appendEvent(t, h, id, models.NodeFinished, "llm", map[string]any{"title": "LLM", "status": "succeeded"})
	appendEvent(t, h, id, models.WorkflowFinished, "", map[string]any{"status": "succeeded"})

	report, err := h.service.Status(t.Context(), id)
	require.NoError(t, err)

	assert.Equal(t, 8, report.Progress.TotalEvents)
	assert.False(t, report.Progress.IsComplete)
	require.NotNil(t, report.Execution.TaskName)
	assert.Equal(t, "digest", *report.Execution.TaskName)
	assert.Equal(t, result.TaskExecutionID, report.Execution.TaskExecutionID)

	summaries := make([]string, 0, len(report.Progress.LatestEvents))
	for _, event := range report.Progress.LatestEvents {
		summaries = append(summaries, event.Summary)
	}

	assert.Equal(t, []string{
		"Workflow completed: succeeded",
		"Finished: LLM (succeeded)",
		"Started: LLM",
		"Finished: Start (succeeded)",
		"Started: Start",
	}, summaries)

	assert.Nil(t, report.Progress.LatestEvents[0].NodeID)
	require.NotNil(t, report.Progress.LatestEvents[1].NodeID)
	assert.Equal(t, "llm", *report.Progress.LatestEvents[1].NodeID)

	exec, err := h.store.ExecutionRepository().GetByID(t.Context(), id)
	require.NoError(t, err)

	exec.Status = models.ExecutionStatusCompleted
	require.NoError(t, h.store.ExecutionRepository().Save(t.Context(), exec))

	report, err = h.service.Status(t.Context(), id)
	require.NoError(t, err)
	assert.True(t, report.Progress.IsComplete)

	_, err = h.service.Status(t.Context(), 404)
	assert.True(t, IsNotFoundError(err))
}

func TestOrchestrator_StatusWithoutEvents(t *testing.T) {
	h := newHarness(t)
	h.expectPublish()

	result, err := h.service.Execute(t.Context(), ExecuteRequest{Workflow: "summarize", Inputs: map[string]any{}})
	require.NoError(t, err)

	report, err := h.service.Status(t.Context(), result.ExecutionID)
	require.NoError(t, err)
	assert.Zero(t, report.Progress.TotalEvents)
	assert.NotNil(t, report.Progress.LatestEvents)
	assert.Empty(t, report.Progress.LatestEvents)
}

func TestOrchestrator_ListExecutions(t *testing.T) {
	h := newHarness(t)
	h.expectPublish()

	for i := range 3 {
		_, err := h.service.Execute(t.Context(), ExecuteRequest{
			Workflow: "summarize",
			Inputs:   map[string]any{"n": i},
			Context:  ExecutionContext{Service: "billing", Operation: "summarize", ReferenceID: "inv"},
		})
		require.NoError(t, err)
	}

	_, err := h.service.Execute(t.Context(), ExecuteRequest{Workflow: "summarize", TaskGroup: "digest", Inputs: map[string]any{}})
	require.NoError(t, err)

	internal := &models.Execution{ExecutionID: "ui", TaskID: 1, Status: models.ExecutionStatusPending}
	require.NoError(t, h.store.ExecutionRepository().Create(t.Context(), internal))

	all, err := h.service.ListExecutions(t.Context(), ListExecutionsRequest{})
	require.NoError(t, err)
	assert.Equal(t, 4, all.Pagination.Total)
	assert.Equal(t, 20, all.Pagination.Limit)
	assert.False(t, all.Pagination.HasMore)
	require.Len(t, all.Executions, 4)
	assert.Equal(t, int64(4), all.Executions[0].ExecutionID)
	require.NotNil(t, all.Executions[0].WorkflowName)
	assert.Equal(t, "summarize", *all.Executions[0].WorkflowName)
	assert.Equal(t, "digest", *all.Executions[0].TaskName)
	assert.Nil(t, all.Executions[0].Service)

	page, err := h.service.ListExecutions(t.Context(), ListExecutionsRequest{Service: "billing", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Pagination.Total)
	assert.True(t, page.Pagination.HasMore)
	require.Len(t, page.Executions, 2)
	assert.Equal(t, "billing", *page.Executions[0].Service)
	assert.Equal(t, "inv", *page.Executions[0].ReferenceID)

	last, err := h.service.ListExecutions(t.Context(), ListExecutionsRequest{Service: "billing", Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, last.Executions, 1)
	assert.False(t, last.Pagination.HasMore)

	grouped, err := h.service.ListExecutions(t.Context(), ListExecutionsRequest{TaskGroup: "billing-summarize"})
	require.NoError(t, err)
	assert.Equal(t, 3, grouped.Pagination.Total)

	none, err := h.service.ListExecutions(t.Context(), ListExecutionsRequest{TaskGroup: "unknown"})
	require.NoError(t, err)
	assert.Zero(t, none.Pagination.Total)
	assert.Empty(t, none.Executions)

	failed, err := h.service.ListExecutions(t.Context(), ListExecutionsRequest{Status: models.ExecutionStatusFailed})
	require.NoError(t, err)
	assert.Zero(t, failed.Pagination.Total)
}

func TestOrchestrator_ListExecutionsValidation(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name string
		req  ListExecutionsRequest
	}{
		{"limit too large", ListExecutionsRequest{Limit: 101}},
		{"negative limit", ListExecutionsRequest{Limit: -1}},
		{"negative offset", ListExecutionsRequest{Offset: -5}},
		{"unknown status", ListExecutionsRequest{Status: "cancelled"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.service.ListExecutions(t.Context(), tt.req)
			require.Error(t, err)
			assert.True(t, IsValidationError(err))
		})
	}
}

func TestOrchestrator_Workflows(t *testing.T) {
	h := newHarness(t)

	broken := &models.Provider{Name: "translate", WorkflowID: "wf-2", IsActive: true, Status: models.ProviderStatusError}
	require.NoError(t, h.store.ProviderRepository().Create(t.Context(), broken))

	schema := map[string]any{"text": "string"}
	require.NoError(t, h.store.TaskRepository().Create(t.Context(), &models.Task{Name: "plain", ProviderID: h.provider.ID, IsActive: true}))
	require.NoError(t, h.store.TaskRepository().Create(t.Context(), &models.Task{Name: "typed", ProviderID: h.provider.ID, IsActive: true, InputSchema: schema}))

	workflows, err := h.service.Workflows(t.Context())
	require.NoError(t, err)
	require.Len(t, workflows, 1)
	assert.Equal(t, "summarize", workflows[0].Name)
	assert.Equal(t, workflowUUID, workflows[0].WorkflowID)
	assert.Equal(t, schema, workflows[0].ExampleInputs)

	detail, err := h.service.Workflow(t.Context(), h.provider.ID)
	require.NoError(t, err)
	assert.Equal(t, "summarize", detail.Workflow.Name)
	assert.Len(t, detail.Tasks, 2)

	_, err = h.service.Workflow(t.Context(), broken.ID)
	require.ErrorIs(t, err, ErrWorkflowUnhealthy)
	assert.True(t, IsPreconditionError(err))

	_, err = h.service.Workflow(t.Context(), 404)
	assert.True(t, IsNotFoundError(err))
}
