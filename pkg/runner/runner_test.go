package runner_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/troneras/workflow-orchestrator/pkg/config"
	"github.com/troneras/workflow-orchestrator/pkg/execution"
	"github.com/troneras/workflow-orchestrator/pkg/lock"
	"github.com/troneras/workflow-orchestrator/pkg/models"
	"github.com/troneras/workflow-orchestrator/pkg/persistence"
	"github.com/troneras/workflow-orchestrator/pkg/persistence/file"
	"github.com/troneras/workflow-orchestrator/pkg/provider"
	"github.com/troneras/workflow-orchestrator/pkg/runner"
	"github.com/troneras/workflow-orchestrator/pkg/stream"
	"github.com/troneras/workflow-orchestrator/pkg/webhook"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

const happyStream = `data: {"event":"workflow_started","task_id":"t-1","workflow_run_id":"run-abc","data":{"id":"run-abc","created_at":1740830400}}

data: {"event":"node_started","task_id":"t-1","workflow_run_id":"run-abc","data":{"node_id":"n1","title":"LLM"}}

: keep-alive

data: {"event":"text_chunk","task_id":"t-1","workflow_run_id":"run-abc","data":{"text":"Hel"}}

data: {"event":"node_finished","task_id":"t-1","workflow_run_id":"run-abc","data":{"node_id":"n1","title":"LLM","status":"succeeded"}}

data: {"event":"workflow_finished","task_id":"t-1","workflow_run_id":"run-abc","data":{"status":"succeeded","elapsed_time":3.4,"total_tokens":120,"outputs":{"answer":"Hello"}}}

data: [DONE]
`

type recordingWebhooks struct {
	mu       sync.Mutex
	statuses []models.ExecutionStatus
	err      error
	panics   bool
}

func (w *recordingWebhooks) Deliver(_ context.Context, exec *models.Execution, isRetry bool) (*models.WebhookAttempt, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.panics {
		panic("webhook exploded")
	}

	if isRetry {
		return nil, errors.New("runner must never retry")
	}

	w.statuses = append(w.statuses, exec.Status)

	return &models.WebhookAttempt{AttemptNumber: 1}, w.err
}

func (w *recordingWebhooks) delivered() []models.ExecutionStatus {
	w.mu.Lock()
	defer w.mu.Unlock()

	return append([]models.ExecutionStatus(nil), w.statuses...)
}

type fixture struct {
	store    persistence.Persistence
	provider *models.Provider
	task     *models.Task
	webhooks *recordingWebhooks
	locker   lock.Locker
	url      string
	hits     atomic.Int32
}

func newFixture(t *testing.T, handler http.HandlerFunc) (*fixture, *runner.Runner) {
	t.Helper()

	f := &fixture{
		store:    file.NewPersistence(t.TempDir()),
		webhooks: &recordingWebhooks{},
		locker:   lock.NewLocal(nil),
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)
	f.url = server.URL

	f.provider = &models.Provider{Name: "summarize", WorkflowID: "wf-1", APIKey: "app-key", IsActive: true, Status: models.ProviderStatusActive}
	require.NoError(t, f.store.ProviderRepository().Create(t.Context(), f.provider))

	f.task = &models.Task{Name: "billing-summarize", ProviderID: f.provider.ID, IsActive: true}
	require.NoError(t, f.store.TaskRepository().Create(t.Context(), f.task))

	return f, f.newRunner(server.URL)
}

func (f *fixture) newRunner(baseURL string) *runner.Runner {
	return f.runnerWith(baseURL, config.Default().Runner, func(*runner.Deps) {})
}

func (f *fixture) runnerWith(baseURL string, cfg config.RunnerConfig, customize func(*runner.Deps)) *runner.Runner {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := func() time.Time { return fixedNow }

	deps := runner.Deps{
		Executions: f.store.ExecutionRepository(),
		Events:     f.store.StreamEventRepository(),
		Providers:  f.store.ProviderRepository(),
		Tasks:      f.store.TaskRepository(),
		Client:     provider.NewClient(baseURL, nil),
		Parser:     stream.NewParser(logger),
		Machine:    execution.NewMachine(f.store.StreamEventRepository(), clock),
		Webhooks:   f.webhooks,
		Locker:     f.locker,
		Logger:     logger,
		Clock:      clock,
	}
	customize(&deps)

	return runner.NewRunner(deps, cfg)
}

// ctxExecutions and ctxEvents refuse writes on a done context, like a SQL
// backend does.
type ctxExecutions struct {
	persistence.ExecutionRepository
}

func (c ctxExecutions) Save(ctx context.Context, exec *models.Execution) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return c.ExecutionRepository.Save(ctx, exec)
}

type ctxEvents struct {
	persistence.StreamEventRepository
}

func (c ctxEvents) Append(ctx context.Context, executionID int64, event *models.StreamEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return c.StreamEventRepository.Append(ctx, executionID, event)
}

func (f *fixture) createExecution(t *testing.T, apiExecution bool) *models.Execution {
	t.Helper()

	exec := &models.Execution{
		ExecutionID: "corr-1",
		TaskID:      f.task.ID,
		Status:      models.ExecutionStatusPending,
		Input:       map[string]any{"text": "hello"},
		Metadata: models.ExecutionMetadata{
			APIExecution: apiExecution,
			CreatedVia:   "api",
			WebhookURL:   "https://hooks.example.com/done",
		},
	}
	require.NoError(t, f.store.ExecutionRepository().Create(t.Context(), exec))

	return exec
}

func (f *fixture) reload(t *testing.T, id int64) (*models.Execution, *models.Provider) {
	t.Helper()

	exec, err := f.store.ExecutionRepository().GetByID(t.Context(), id)
	require.NoError(t, err)

	p, err := f.store.ProviderRepository().GetByID(t.Context(), f.provider.ID)
	require.NoError(t, err)

	return exec, p
}

func streamHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, body)
	}
}

func errorHandler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func TestRunner_HappyPath(t *testing.T) {
	var request string

	f, r := newFixture(t, func(w http.ResponseWriter, req *http.Request) {
		raw, _ := io.ReadAll(req.Body)
		request = string(raw)
		streamHandler(happyStream)(w, req)
	})

	created := f.createExecution(t, true)

	outcome := r.Run(t.Context(), created.ID)
	require.NoError(t, outcome.Err)
	assert.Equal(t, models.ExecutionStatusCompleted, outcome.Status)
	assert.Equal(t, 5, outcome.Events)

	assert.Contains(t, request, `"user":"task-`)
	assert.Contains(t, request, `"response_mode":"streaming"`)
	assert.Contains(t, request, `"text":"hello"`)

	exec, p := f.reload(t, created.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, "run-abc", exec.ExecutionID)
	assert.Equal(t, 3, *exec.Duration)
	assert.Equal(t, 120, *exec.Tokens)
	assert.Equal(t, "Hello", exec.Output["answer"])
	require.Len(t, exec.Track, 5)
	assert.Equal(t, models.WorkflowStarted, exec.Track[0].Type)
	assert.Equal(t, models.WorkflowFinished, exec.Track[4].Type)
	assert.Equal(t, "n1", exec.Track[1].NodeID)
	assert.True(t, exec.Track[0].Timestamp.Equal(time.Unix(1740830400, 0)))

	count, err := f.store.StreamEventRepository().Count(t.Context(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	assert.Equal(t, models.ProviderStatusActive, p.Status)
	assert.Equal(t, "Workflow executed successfully via streaming", p.StatusMessage)

	assert.Equal(t, []models.ExecutionStatus{models.ExecutionStatusCompleted}, f.webhooks.delivered())
}

func TestRunner_ProviderReportsFailure(t *testing.T) {
	body := `data: {"event":"workflow_started","workflow_run_id":"run-x","data":{}}
data: {"event":"workflow_finished","workflow_run_id":"run-x","data":{"status":"stopped"}}
`
	f, r := newFixture(t, streamHandler(body))
	created := f.createExecution(t, true)

	outcome := r.Run(t.Context(), created.ID)
	require.NoError(t, outcome.Err)
	assert.Equal(t, models.ExecutionStatusFailed, outcome.Status)

	exec, _ := f.reload(t, created.ID)
	assert.Equal(t, 0, *exec.Tokens)
	assert.Empty(t, exec.Output)
}

func TestRunner_InvalidCredentialsMarksProviderError(t *testing.T) {
	f, r := newFixture(t, errorHandler(http.StatusUnauthorized, `{"code":"unauthorized","message":"Access token is invalid"}`))
	created := f.createExecution(t, true)

	outcome := r.Run(t.Context(), created.ID)
	require.Error(t, outcome.Err)
	assert.Equal(t, models.ExecutionStatusFailed, outcome.Status)

	exec, p := f.reload(t, created.ID)
	assert.Equal(t, models.ExecutionStatusFailed, exec.Status)
	assert.Equal(t, map[string]any{"error": "Failed to run streaming workflow. HTTP 401"}, exec.Output)
	assert.NotNil(t, exec.EndTime)
	assert.Equal(t, 0, *exec.Duration)

	assert.Equal(t, models.ProviderStatusError, p.Status)
	assert.Equal(t, "Failed to run streaming workflow. HTTP 401: Access token is invalid", p.StatusMessage)

	assert.Equal(t, []models.ExecutionStatus{models.ExecutionStatusFailed}, f.webhooks.delivered())
}

func TestRunner_InputValidationKeepsProviderHealthy(t *testing.T) {
	f, r := newFixture(t, errorHandler(http.StatusBadRequest, `{"code":"invalid_param","message":"text is required in input form"}`))
	created := f.createExecution(t, true)

	outcome := r.Run(t.Context(), created.ID)
	apiErr, ok := provider.AsAPIError(outcome.Err)
	require.True(t, ok)
	assert.True(t, apiErr.IsInputValidation())

	exec, p := f.reload(t, created.ID)
	assert.Equal(t, models.ExecutionStatusFailed, exec.Status)
	assert.Equal(t, "Failed to run streaming workflow. HTTP 400", exec.Output["error"])

	assert.Equal(t, models.ProviderStatusActive, p.Status)
	assert.Nil(t, p.LastStatusCheck)
}

func TestRunner_ServerErrorKeepsProviderHealthy(t *testing.T) {
	f, r := newFixture(t, errorHandler(http.StatusInternalServerError, `oops`))
	created := f.createExecution(t, false)

	outcome := r.Run(t.Context(), created.ID)
	require.Error(t, outcome.Err)

	_, p := f.reload(t, created.ID)
	assert.Equal(t, models.ProviderStatusActive, p.Status)
	assert.Empty(t, f.webhooks.delivered())
}

func TestRunner_PreconditionSkipsProviderCall(t *testing.T) {
	f, r := newFixture(t, streamHandler(happyStream))

	f.provider.MarkAsError("Invalid API credentials", fixedNow.Add(-time.Hour))
	require.NoError(t, f.store.ProviderRepository().UpdateStatus(t.Context(), f.provider))

	created := f.createExecution(t, true)

	outcome := r.Run(t.Context(), created.ID)
	require.True(t, runner.IsPreconditionError(outcome.Err))
	assert.Equal(t, models.ExecutionStatusFailed, outcome.Status)
	assert.Zero(t, f.hits.Load())

	exec, p := f.reload(t, created.ID)
	assert.Equal(t, "Workflow is not available for execution. Status: error", exec.Output["error"])
	assert.Equal(t, "Invalid API credentials", p.StatusMessage)

	assert.Equal(t, []models.ExecutionStatus{models.ExecutionStatusFailed}, f.webhooks.delivered())
}

func TestRunner_MissingTask(t *testing.T) {
	f, r := newFixture(t, streamHandler(happyStream))

	exec := &models.Execution{ExecutionID: "orphan", TaskID: 999, Status: models.ExecutionStatusPending}
	require.NoError(t, f.store.ExecutionRepository().Create(t.Context(), exec))

	outcome := r.Run(t.Context(), exec.ID)
	require.True(t, runner.IsPreconditionError(outcome.Err))
	assert.Equal(t, models.ExecutionStatusFailed, outcome.Status)
	assert.Zero(t, f.hits.Load())
}

func TestRunner_UnknownExecution(t *testing.T) {
	f, r := newFixture(t, streamHandler(happyStream))

	outcome := r.Run(t.Context(), 404)
	require.True(t, runner.IsPreconditionError(outcome.Err))
	assert.Zero(t, f.hits.Load())
	assert.Empty(t, f.webhooks.delivered())
}

func TestRunner_StreamEndsWithoutFinish(t *testing.T) {
	body := `data: {"event":"workflow_started","workflow_run_id":"run-1","data":{}}
data: {"event":"node_started","data":{"node_id":"n1"}}
data: not json
`
	f, r := newFixture(t, streamHandler(body))
	created := f.createExecution(t, true)

	outcome := r.Run(t.Context(), created.ID)
	require.ErrorIs(t, outcome.Err, execution.ErrStreamIncomplete)
	assert.Equal(t, 2, outcome.Events)

	exec, p := f.reload(t, created.ID)
	assert.Equal(t, models.ExecutionStatusFailed, exec.Status)
	assert.Equal(t, "stream ended before workflow finished", exec.Output["error"])
	assert.Equal(t, "run-1", exec.ExecutionID)
	assert.Equal(t, models.ProviderStatusActive, p.Status)
}

func TestRunner_LockedExecutionIsSkipped(t *testing.T) {
	f, r := newFixture(t, streamHandler(happyStream))
	created := f.createExecution(t, true)

	held, err := f.locker.Obtain(t.Context(), "execution:"+strconv.FormatInt(created.ID, 10), time.Minute)
	require.NoError(t, err)

	defer func() { _ = held.Release(t.Context()) }()

	outcome := r.Run(t.Context(), created.ID)
	require.ErrorIs(t, outcome.Err, runner.ErrAlreadyRunning)
	assert.Zero(t, f.hits.Load())

	exec, _ := f.reload(t, created.ID)
	assert.Equal(t, models.ExecutionStatusPending, exec.Status)
}

func TestRunner_TerminalExecutionIsNotRerun(t *testing.T) {
	f, r := newFixture(t, streamHandler(happyStream))
	created := f.createExecution(t, true)

	first := r.Run(t.Context(), created.ID)
	require.NoError(t, first.Err)

	second := r.Run(t.Context(), created.ID)
	require.ErrorIs(t, second.Err, runner.ErrExecutionFinished)
	assert.Equal(t, models.ExecutionStatusCompleted, second.Status)
	assert.Equal(t, int32(1), f.hits.Load())
	assert.Len(t, f.webhooks.delivered(), 1)
}

func TestRunner_WebhookFailuresAreSwallowed(t *testing.T) {
	f, r := newFixture(t, streamHandler(happyStream))
	f.webhooks.panics = true

	created := f.createExecution(t, true)

	outcome := r.Run(t.Context(), created.ID)
	require.NoError(t, outcome.Err)
	assert.Equal(t, models.ExecutionStatusCompleted, outcome.Status)

	f.webhooks.panics = false
	f.webhooks.err = errors.New("attempt log unavailable")

	second := f.createExecution(t, true)
	outcome = r.Run(t.Context(), second.ID)
	require.NoError(t, outcome.Err)
}

func TestRunner_DeliversWebhookWithDispatcher(t *testing.T) {
	var payload atomic.Value

	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		raw, _ := io.ReadAll(req.Body)
		payload.Store(string(raw))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	upstream := httptest.NewServer(streamHandler(happyStream))
	defer upstream.Close()

	f, _ := newFixture(t, streamHandler(happyStream))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dispatcher := webhook.NewDispatcher(f.store.WebhookAttemptRepository(), nil, config.Default().Webhook, logger)

	r := runner.NewRunner(runner.Deps{
		Executions: f.store.ExecutionRepository(),
		Events:     f.store.StreamEventRepository(),
		Providers:  f.store.ProviderRepository(),
		Tasks:      f.store.TaskRepository(),
		Client:     provider.NewClient(upstream.URL, nil),
		Parser:     stream.NewParser(logger),
		Machine:    execution.NewMachine(f.store.StreamEventRepository(), nil),
		Webhooks:   dispatcher,
		Logger:     logger,
	}, config.Default().Runner)

	exec := &models.Execution{
		ExecutionID: "corr-hook",
		TaskID:      f.task.ID,
		Status:      models.ExecutionStatusPending,
		Metadata:    models.ExecutionMetadata{APIExecution: true, WebhookURL: hook.URL, ServiceName: "billing"},
	}
	require.NoError(t, f.store.ExecutionRepository().Create(t.Context(), exec))

	outcome := r.Run(t.Context(), exec.ID)
	require.NoError(t, outcome.Err)

	attempts, err := f.store.WebhookAttemptRepository().ListByExecution(t.Context(), exec.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, models.AttemptStatusSuccess, attempts[0].Status)
	assert.Equal(t, "run-abc", attempts[0].Payload.TaskExecutionID)

	body, _ := payload.Load().(string)
	assert.True(t, strings.Contains(body, `"status":"completed"`))
	assert.True(t, strings.Contains(body, `"service_name":"billing"`))
}

func TestRunner_JobTimeoutCutsStreamAndRecordsFailure(t *testing.T) {
	f, _ := newFixture(t, func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"event\":\"workflow_started\",\"workflow_run_id\":\"run-slow\",\"data\":{}}\n\n")
		w.(http.Flusher).Flush()

		select {
		case <-time.After(300 * time.Millisecond):
		case <-req.Context().Done():
			return
		}

		_, _ = io.WriteString(w, "data: {\"event\":\"workflow_finished\",\"data\":{\"status\":\"succeeded\"}}\n\n")
	})

	cfg := config.Default().Runner
	cfg.JobTimeout = 100 * time.Millisecond
	cfg.StreamTimeout = 5 * time.Second

	r := f.runnerWith(f.url, cfg, func(deps *runner.Deps) {
		deps.Executions = ctxExecutions{f.store.ExecutionRepository()}
		deps.Events = ctxEvents{f.store.StreamEventRepository()}
	})

	created := f.createExecution(t, true)

	started := time.Now()
	outcome := r.Run(t.Context(), created.ID)
	assert.Less(t, time.Since(started), 2*time.Second)

	require.Error(t, outcome.Err)
	assert.Equal(t, models.ExecutionStatusFailed, outcome.Status)

	exec, p := f.reload(t, created.ID)
	assert.Equal(t, models.ExecutionStatusFailed, exec.Status)
	assert.Equal(t, "run-slow", exec.ExecutionID)
	assert.Equal(t, models.ProviderStatusActive, p.Status)

	count, err := f.store.StreamEventRepository().Count(t.Context(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	assert.Equal(t, []models.ExecutionStatus{models.ExecutionStatusFailed}, f.webhooks.delivered())
}

func TestRunner_OversizedLineIsSkipped(t *testing.T) {
	body := strings.Join([]string{
		`data: {"event":"workflow_started","workflow_run_id":"run-big","data":{}}`,
		`data: {"event":"text_chunk","data":{"text":"` + strings.Repeat("x", 200*1024) + `"}}`,
		`data: {"event":"workflow_finished","data":{"status":"succeeded","outputs":{"answer":"ok"}}}`,
		``,
	}, "\n")

	f, _ := newFixture(t, streamHandler(body))

	cfg := config.Default().Runner
	cfg.MaxLineBytes = 100 * 1024

	parser := stream.NewParser(slog.New(slog.NewTextHandler(io.Discard, nil)), stream.WithMaxLineBytes(cfg.MaxLineBytes))
	r := f.runnerWith(f.url, cfg, func(deps *runner.Deps) { deps.Parser = parser })

	created := f.createExecution(t, false)

	outcome := r.Run(t.Context(), created.ID)
	require.NoError(t, outcome.Err)
	assert.Equal(t, 2, outcome.Events)
	assert.Equal(t, int64(1), parser.Malformed())

	exec, p := f.reload(t, created.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, "ok", exec.Output["answer"])
	assert.Equal(t, models.ProviderStatusActive, p.Status)
}

func TestRunner_LocalDecodeFailureKeepsProviderHealthy(t *testing.T) {
	body := "data: {\"event\":\"workflow_started\",\"data\":{}}\n" +
		"data: {\"event\":\"text_chunk\",\"data\":{\"text\":\"\xff\xfe\"}}\n"

	f, r := newFixture(t, streamHandler(body))
	created := f.createExecution(t, false)

	outcome := r.Run(t.Context(), created.ID)
	require.ErrorIs(t, outcome.Err, stream.ErrInvalidEncoding)

	exec, p := f.reload(t, created.ID)
	assert.Equal(t, models.ExecutionStatusFailed, exec.Status)
	assert.Equal(t, models.ProviderStatusActive, p.Status)
}

func TestRunner_BrokenStreamMarksProviderError(t *testing.T) {
	f, r := newFixture(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Length", "4096")
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"event\":\"workflow_started\",\"data\":{}}\n")
	})
	created := f.createExecution(t, false)

	outcome := r.Run(t.Context(), created.ID)
	require.ErrorIs(t, outcome.Err, stream.ErrRead)

	exec, p := f.reload(t, created.ID)
	assert.Equal(t, models.ExecutionStatusFailed, exec.Status)
	assert.Equal(t, models.ProviderStatusError, p.Status)
	assert.Contains(t, p.StatusMessage, "Exception during streaming workflow execution")
}
