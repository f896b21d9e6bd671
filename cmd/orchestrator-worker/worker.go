package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/troneras/workflow-orchestrator/pkg/eventbus"
	"github.com/troneras/workflow-orchestrator/pkg/events"
	"github.com/troneras/workflow-orchestrator/pkg/persistence"
	"github.com/troneras/workflow-orchestrator/pkg/runner"
)

// Runner executes one stored execution.
type Runner interface {
	Run(ctx context.Context, executionID int64) runner.Outcome
}

type Worker struct {
	id         string
	logger     *slog.Logger
	runner     Runner
	executions persistence.ExecutionRepository
	eventBus   eventbus.EventBus
}

func NewWorker(
	id string,
	runner Runner,
	executions persistence.ExecutionRepository,
	eventBus eventbus.EventBus,
	logger *slog.Logger,
) *Worker {
	return &Worker{
		id:         id,
		logger:     logger.With("module", "orchestrator-worker", "worker_id", id),
		runner:     runner,
		executions: executions,
		eventBus:   eventBus,
	}
}

// Listen registers the handlers and starts consuming execution requests.
func (w *Worker) Listen(ctx context.Context) error {
	err := w.eventBus.Handle(events.ExecutionRequestedEvent, w.handleExecutionRequested)
	if err != nil {
		return err
	}

	err = w.eventBus.Subscribe(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	return nil
}

// Start listens until SIGINT or SIGTERM.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := w.Listen(ctx); err != nil {
		return err
	}

	w.logger.InfoContext(ctx, "Worker started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	w.logger.InfoContext(ctx, "Shutting down worker...")

	return nil
}

// handleExecutionRequested runs the execution and announces its terminal
// status. Run failures are recorded on the execution, so the message is
// always acked.
func (w *Worker) handleExecutionRequested(ctx context.Context, event any) error {
	requested, ok := event.(*events.ExecutionRequested)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for ExecutionRequested")

		return nil
	}

	if err := requested.Validate(); err != nil {
		w.logger.ErrorContext(ctx, "Dropping invalid execution request", "error", err, "event_id", requested.ID)

		return nil
	}

	logger := w.logger.With(
		"execution_id", requested.ExecutionID,
		"task_execution_id", requested.CorrelationID,
		"event_id", requested.ID,
	)
	logger.InfoContext(ctx, "Processing execution requested event")

	outcome := w.runner.Run(ctx, requested.ExecutionID)

	if errors.Is(outcome.Err, runner.ErrAlreadyRunning) || errors.Is(outcome.Err, runner.ErrExecutionFinished) {
		logger.InfoContext(ctx, "Execution request ignored", "reason", outcome.Err)

		return nil
	}

	exec, err := w.executions.GetByID(ctx, requested.ExecutionID)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to reload execution", "error", err)

		return nil
	}

	if !exec.Status.IsTerminal() {
		logger.WarnContext(ctx, "Execution is not terminal after run", "status", exec.Status)

		return nil
	}

	finished := events.NewExecutionFinished(exec, outcome.Err)
	finished.WorkerID = w.id

	err = w.eventBus.Publish(ctx, strconv.FormatInt(exec.ID, 10), finished)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to publish execution finished event", "error", err)
	}

	logger.InfoContext(ctx, "Execution processed", "status", exec.Status, "events", outcome.Events)

	return nil
}
