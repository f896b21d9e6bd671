package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/troneras/workflow-orchestrator/pkg/config"
	"github.com/troneras/workflow-orchestrator/pkg/models"
	"github.com/troneras/workflow-orchestrator/pkg/otelhelper"
	"github.com/troneras/workflow-orchestrator/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// batchTimeout bounds one scheduled CheckAll. Providers not reached in time
// wait for the next run.
const batchTimeout = 5 * time.Minute

// ErrAlreadyStarted is returned by Start on a running checker.
var ErrAlreadyStarted = errors.New("health checker already started")

// Report is the result of checking one provider.
type Report struct {
	ProviderID int64  `json:"provider_id"`
	Name       string `json:"name"`
	WorkflowID string `json:"workflow_id"`
	Result
}

// Checker probes providers in bulk, on demand or on a cron schedule.
type Checker struct {
	prober    *Prober
	providers persistence.ProviderRepository
	config    config.HealthConfig
	logger    *slog.Logger
	tracer    trace.Tracer
	clock     func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// NewChecker creates a checker. A nil tracer records nothing.
func NewChecker(
	prober *Prober,
	providers persistence.ProviderRepository,
	cfg config.HealthConfig,
	logger *slog.Logger,
	tracer trace.Tracer,
) *Checker {
	if tracer == nil {
		tracer = otelhelper.NoopTracer()
	}

	return &Checker{
		prober:    prober,
		providers: providers,
		config:    cfg,
		logger:    logger.With("module", "health_checker"),
		tracer:    tracer,
		clock:     prober.clock,
	}
}

// CheckAll probes every active provider whose last check is missing or older
// than the staleness window, or every active provider when force is set.
func (c *Checker) CheckAll(ctx context.Context, force bool) ([]Report, error) {
	ctx, span := otelhelper.StartSpan(ctx, c.tracer, "health.CheckAll",
		attribute.Bool(otelhelper.HealthCheckForceKey, force))
	defer span.End()

	var (
		targets []*models.Provider
		err     error
	)

	if force {
		targets, err = c.providers.ListActive(ctx)
	} else {
		targets, err = c.providers.ListStale(ctx, c.clock().UTC().Add(-c.config.StaleAfter))
	}

	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to list providers to check: %w", err)
	}

	c.logger.InfoContext(ctx, "Found providers to check", "count", len(targets), "force", force)

	reports := make([]Report, 0, len(targets))

	for i, target := range targets {
		if err := ctx.Err(); err != nil {
			c.logger.WarnContext(ctx, "Health check batch interrupted", "checked", i, "skipped", len(targets)-i)
			otelhelper.SetError(span, err)

			return reports, fmt.Errorf("health check batch interrupted: %w", err)
		}

		reports = append(reports, c.check(ctx, target))
	}

	return reports, nil
}

// CheckOne probes the provider of a single workflow regardless of staleness.
func (c *Checker) CheckOne(ctx context.Context, workflowID string) (Report, error) {
	target, err := c.providers.GetByWorkflowID(ctx, workflowID)
	if err != nil {
		return Report{}, err
	}

	return c.check(ctx, target), nil
}

// check never lets a panicking probe stop the batch; the provider is marked
// as errored instead. Each probe gets its own timeout, unaffected by the
// batch deadline.
func (c *Checker) check(ctx context.Context, target *models.Provider) (report Report) {
	logger := c.logger.With("provider_id", target.ID, "workflow_id", target.WorkflowID, "name", target.Name)

	report = Report{ProviderID: target.ID, Name: target.Name, WorkflowID: target.WorkflowID}

	defer func() {
		if r := recover(); r != nil {
			message := fmt.Sprint(r)
			logger.ErrorContext(ctx, "Workflow health check failed", "error", message)

			target.MarkAsError("Health check failed: "+message, c.clock().UTC())
			c.prober.save(ctx, target)

			report.Result = Result{Status: models.ProviderStatusError, Message: message}
		}
	}()

	logger.InfoContext(ctx, "Checking workflow health")

	probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.ProbeTimeout)
	defer cancel()

	report.Result = c.prober.Probe(probeCtx, target)

	if report.Healthy {
		logger.InfoContext(ctx, "Workflow health check completed successfully", "message", report.Message)
	} else {
		logger.WarnContext(ctx, "Workflow health check failed",
			"error_message", report.Message,
			"workflow_status", target.Status,
			"workflow_status_message", target.StatusMessage)
	}

	return report
}

// Start schedules CheckAll on the configured cron expression.
func (c *Checker) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cron != nil {
		return ErrAlreadyStarted
	}

	scheduler := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err := scheduler.AddFunc(c.config.Schedule, func() {
		checkCtx, cancel := context.WithTimeout(ctx, batchTimeout)
		defer cancel()

		if _, err := c.CheckAll(checkCtx, false); err != nil {
			c.logger.ErrorContext(checkCtx, "Scheduled health check failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid health check schedule %q: %w", c.config.Schedule, err)
	}

	scheduler.Start()
	c.cron = scheduler

	c.logger.InfoContext(ctx, "Health checker started", "schedule", c.config.Schedule)

	return nil
}

// Stop halts the schedule and waits for a running check to finish.
func (c *Checker) Stop() {
	c.mu.Lock()
	scheduler := c.cron
	c.cron = nil
	c.mu.Unlock()

	if scheduler == nil {
		return
	}

	<-scheduler.Stop().Done()

	c.logger.Info("Health checker stopped")
}
