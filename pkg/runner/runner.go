// Package runner drives one execution end to end: it calls the provider,
// stores and applies every stream event, records failures and fires the
// completion webhook.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/troneras/workflow-orchestrator/pkg/config"
	"github.com/troneras/workflow-orchestrator/pkg/execution"
	"github.com/troneras/workflow-orchestrator/pkg/lock"
	"github.com/troneras/workflow-orchestrator/pkg/models"
	"github.com/troneras/workflow-orchestrator/pkg/otelhelper"
	"github.com/troneras/workflow-orchestrator/pkg/persistence"
	"github.com/troneras/workflow-orchestrator/pkg/provider"
	"github.com/troneras/workflow-orchestrator/pkg/stream"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// StreamClient starts a streaming provider run.
type StreamClient interface {
	RunStreaming(ctx context.Context, provider *models.Provider, request provider.RunRequest) (io.ReadCloser, error)
}

// Webhooks delivers the completion webhook.
type Webhooks interface {
	Deliver(ctx context.Context, execution *models.Execution, isRetry bool) (*models.WebhookAttempt, error)
}

// Deps are the collaborators of a Runner. Locker and Tracer are optional.
type Deps struct {
	Executions persistence.ExecutionRepository
	Events     persistence.StreamEventRepository
	Providers  persistence.ProviderRepository
	Tasks      persistence.TaskRepository
	Client     StreamClient
	Parser     *stream.Parser
	Machine    *execution.Machine
	Webhooks   Webhooks
	Locker     lock.Locker
	Tracer     trace.Tracer
	Logger     *slog.Logger
	Clock      func() time.Time
}

// Outcome is the result of one Run. Err is nil when the provider reported a
// result, even a failed one.
type Outcome struct {
	ExecutionID int64
	Status      models.ExecutionStatus
	Events      int
	Err         error
}

// Runner executes pending executions. It is safe for concurrent use; each Run
// works on its own execution.
type Runner struct {
	deps   Deps
	config config.RunnerConfig
	logger *slog.Logger
}

// NewRunner creates a runner.
func NewRunner(deps Deps, cfg config.RunnerConfig) *Runner {
	if deps.Tracer == nil {
		deps.Tracer = otelhelper.NoopTracer()
	}

	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	return &Runner{
		deps:   deps,
		config: cfg,
		logger: deps.Logger.With("module", "runner"),
	}
}

// Run executes the execution with the given internal id. Failures never
// escape: they are recorded on the execution and returned in the Outcome.
// The webhook hook runs after every run that loaded its execution, whatever
// the result.
func (r *Runner) Run(ctx context.Context, executionID int64) (outcome Outcome) {
	ctx, span := otelhelper.StartSpan(ctx, r.deps.Tracer, "runner.Run",
		attribute.Int64(otelhelper.ExecutionIDKey, executionID))
	defer span.End()

	outcome.ExecutionID = executionID
	logger := r.logger.With("execution_id", executionID)

	if r.deps.Locker != nil {
		held, err := r.deps.Locker.Obtain(ctx, "execution:"+strconv.FormatInt(executionID, 10), r.config.LockTTL)
		if err != nil {
			if errors.Is(err, lock.ErrNotAcquired) {
				err = ErrAlreadyRunning
			}

			logger.WarnContext(ctx, "Skipping execution run", "error", err)
			otelhelper.SetError(span, err)
			outcome.Err = err

			return outcome
		}

		defer func() {
			if err := held.Release(context.WithoutCancel(ctx)); err != nil {
				logger.ErrorContext(ctx, "Failed to release execution lock", "error", err)
			}
		}()
	}

	exec, err := r.deps.Executions.GetByID(ctx, executionID)
	if err != nil {
		if persistence.IsExecutionNotFound(err) {
			err = NewPreconditionError(executionID, "execution %d not found", executionID)
		}

		logger.ErrorContext(ctx, "Failed to load execution", "error", err)
		otelhelper.SetError(span, err)
		outcome.Err = err

		return outcome
	}

	if exec.Status.IsTerminal() {
		outcome.Status = exec.Status
		outcome.Err = ErrExecutionFinished

		return outcome
	}

	span.SetAttributes(
		attribute.String(otelhelper.CorrelationIDKey, exec.ExecutionID),
		attribute.Int64(otelhelper.TaskIDKey, exec.TaskID),
	)

	// The hook and the failure bookkeeping must outlive the job deadline.
	detached := context.WithoutCancel(ctx)

	defer r.afterRun(detached, exec, &outcome, span, logger)

	defer func() {
		if recovered := recover(); recovered != nil {
			err := fmt.Errorf("runner panic: %v", recovered)
			logger.ErrorContext(ctx, "Execution run panicked", "error", err)
			r.fail(detached, exec, err.Error(), logger)
			outcome.Err = err
		}
	}()

	jobCtx, cancel := context.WithTimeout(ctx, r.config.JobTimeout)
	defer cancel()

	outcome.Events, outcome.Err = r.execute(jobCtx, exec, span, logger)

	return outcome
}

// execute runs the provider call under the job deadline. Storage writes use a
// detached context so a run cut short by the deadline is still recorded.
func (r *Runner) execute(ctx context.Context, exec *models.Execution, span trace.Span, logger *slog.Logger) (int, error) {
	store := context.WithoutCancel(ctx)

	if r.deps.Machine.Start(exec) {
		r.save(store, exec, logger)
	}

	task, target, err := r.resolve(ctx, exec)
	if err != nil {
		logger.ErrorContext(ctx, "Execution precondition failed", "error", err)
		r.fail(store, exec, err.Error(), logger)

		return 0, err
	}

	logger = logger.With("task_id", task.ID, "provider_id", target.ID, "workflow_id", target.WorkflowID)
	span.SetAttributes(
		attribute.Int64(otelhelper.ProviderIDKey, target.ID),
		attribute.String(otelhelper.ProviderNameKey, target.Name),
	)

	inputs := exec.Input
	if inputs == nil {
		inputs = map[string]any{}
	}

	streamCtx, cancel := r.streamContext(ctx)
	defer cancel()

	body, err := r.deps.Client.RunStreaming(streamCtx, target, provider.RunRequest{
		Inputs: inputs,
		User:   "task-" + strconv.FormatInt(task.ID, 10),
	})
	if err != nil {
		return 0, r.providerFailure(store, exec, target, err, logger)
	}

	defer func() { _ = body.Close() }()

	count, err := r.consume(store, exec, body, logger)
	span.SetAttributes(attribute.Int(otelhelper.EventCountKey, count))

	if err != nil {
		switch {
		case streamCtx.Err() != nil:
			err = fmt.Errorf("%w: %w", ErrStreamTimeout, err)
		case errors.Is(err, stream.ErrRead):
			r.markProvider(store, target, false, "Exception during streaming workflow execution: "+err.Error(), logger)
		}

		logger.ErrorContext(ctx, "Provider stream failed", "error", err, "events", count)
		r.fail(store, exec, err.Error(), logger)

		return count, err
	}

	r.markProvider(store, target, true, "Workflow executed successfully via streaming", logger)

	if !exec.Status.IsTerminal() {
		logger.ErrorContext(ctx, "Provider stream ended early", "events", count)
		r.fail(store, exec, execution.ErrStreamIncomplete.Error(), logger)

		return count, execution.ErrStreamIncomplete
	}

	logger.InfoContext(ctx, "Streaming workflow execution completed",
		"final_status", exec.Status,
		"duration_seconds", deref(exec.Duration),
		"tokens_used", deref(exec.Tokens),
		"stream_events_count", count)

	return count, nil
}

// streamContext bounds the provider stream by the stream timeout and by what
// is left of the job deadline. Cancelling the job itself does not abort an
// open stream.
func (r *Runner) streamContext(jobCtx context.Context) (context.Context, context.CancelFunc) {
	deadline := time.Now().Add(r.config.StreamTimeout)
	if jobDeadline, ok := jobCtx.Deadline(); ok && jobDeadline.Before(deadline) {
		deadline = jobDeadline
	}

	return context.WithDeadline(context.WithoutCancel(jobCtx), deadline)
}

// resolve loads the task and provider and checks the provider may run.
func (r *Runner) resolve(ctx context.Context, exec *models.Execution) (*models.Task, *models.Provider, error) {
	task, err := r.deps.Tasks.GetByID(ctx, exec.TaskID)
	if err != nil {
		if persistence.IsTaskNotFound(err) {
			return nil, nil, NewPreconditionError(exec.ID, "Task not found for execution")
		}

		return nil, nil, err
	}

	target, err := r.deps.Providers.GetByID(ctx, task.ProviderID)
	if err != nil {
		if persistence.IsProviderNotFound(err) {
			return nil, nil, NewPreconditionError(exec.ID, "Workflow not found or inactive")
		}

		return nil, nil, err
	}

	if !target.IsActive {
		return nil, nil, NewPreconditionError(exec.ID, "Workflow not found or inactive")
	}

	if !target.CanExecute() {
		return nil, nil, NewPreconditionError(exec.ID, "Workflow is not available for execution. Status: %s", target.Status)
	}

	return task, target, nil
}

// consume stores and applies every record in arrival order. Storage failures
// of a single event are logged and skipped.
func (r *Runner) consume(ctx context.Context, exec *models.Execution, body io.Reader, logger *slog.Logger) (int, error) {
	count := 0

	for record, err := range r.deps.Parser.Parse(body) {
		if err != nil {
			return count, err
		}

		event := r.newStreamEvent(exec, record)

		if err := r.deps.Events.Append(ctx, exec.ID, event); err != nil {
			logger.ErrorContext(ctx, "Failed to store stream event", "event_type", event.Type, "error", err)

			continue
		}

		count++

		changed, err := r.deps.Machine.Apply(ctx, exec, event)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to apply stream event", "event_type", event.Type, "error", err)

			continue
		}

		if changed {
			r.save(ctx, exec, logger)
		}
	}

	return count, nil
}

func (r *Runner) newStreamEvent(exec *models.Execution, record stream.Record) *models.StreamEvent {
	timestamp := r.deps.Clock().UTC()
	if record.CreatedAt != nil {
		timestamp = record.CreatedAt.UTC()
	}

	return &models.StreamEvent{
		ExecutionID:   exec.ID,
		Type:          record.Event,
		TaskID:        record.TaskID,
		WorkflowRunID: record.WorkflowRunID,
		NodeID:        record.NodeID,
		Data:          record.Data,
		Timestamp:     timestamp,
	}
}

// providerFailure records a failed provider call. Only configuration problems
// and transport failures change the provider health; input errors do not.
func (r *Runner) providerFailure(ctx context.Context, exec *models.Execution, target *models.Provider, err error, logger *slog.Logger) error {
	apiErr, ok := provider.AsAPIError(err)
	if !ok {
		r.markProvider(ctx, target, false, "Exception during streaming workflow execution: "+err.Error(), logger)
		logger.ErrorContext(ctx, "Provider streaming call failed", "error", err)
		r.fail(ctx, exec, err.Error(), logger)

		return err
	}

	message := fmt.Sprintf("Failed to run streaming workflow. HTTP %d", apiErr.StatusCode)

	if apiErr.AffectsHealth() {
		r.markProvider(ctx, target, false, message+": "+apiErr.Details(), logger)
	}

	logger.ErrorContext(ctx, "Provider streaming call rejected",
		"http_status", apiErr.StatusCode,
		"error_code", apiErr.Code,
		"is_input_validation_error", apiErr.IsInputValidation(),
		"workflow_marked_unhealthy", apiErr.AffectsHealth(),
		"error_details", apiErr.Message)

	r.fail(ctx, exec, message, logger)

	return err
}

func (r *Runner) markProvider(ctx context.Context, target *models.Provider, healthy bool, message string, logger *slog.Logger) {
	now := r.deps.Clock().UTC()

	if healthy {
		target.MarkAsActive(message, now)
	} else {
		target.MarkAsError(message, now)
	}

	if err := r.deps.Providers.UpdateStatus(ctx, target); err != nil {
		logger.ErrorContext(ctx, "Failed to update provider status", "error", err)
	}
}

func (r *Runner) fail(ctx context.Context, exec *models.Execution, message string, logger *slog.Logger) {
	if r.deps.Machine.Fail(exec, message) {
		r.save(ctx, exec, logger)
	}
}

func (r *Runner) save(ctx context.Context, exec *models.Execution, logger *slog.Logger) {
	if err := r.deps.Executions.Save(ctx, exec); err != nil {
		logger.ErrorContext(ctx, "Failed to save execution", "status", exec.Status, "error", err)
	}
}

// afterRun fills the outcome and fires the webhook of API executions. Webhook
// errors and panics are logged only.
func (r *Runner) afterRun(ctx context.Context, exec *models.Execution, outcome *Outcome, span trace.Span, logger *slog.Logger) {
	outcome.Status = exec.Status

	span.SetAttributes(attribute.String(otelhelper.ExecutionStatusKey, string(exec.Status)))

	if outcome.Err != nil {
		otelhelper.SetError(span, outcome.Err)
	}

	if !exec.IsAPIExecution() || r.deps.Webhooks == nil {
		return
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			logger.ErrorContext(ctx, "Failed to send webhook after execution completion", "error", fmt.Sprint(recovered))
		}
	}()

	if _, err := r.deps.Webhooks.Deliver(ctx, exec, false); err != nil {
		logger.ErrorContext(ctx, "Failed to send webhook after execution completion", "error", err)
	}
}

func deref(v *int) int {
	if v == nil {
		return 0
	}

	return *v
}
