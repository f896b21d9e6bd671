// Package webhook delivers execution outcomes to caller-supplied URLs and keeps
// a log of every attempt.
package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/troneras/workflow-orchestrator/pkg/config"
	"github.com/troneras/workflow-orchestrator/pkg/models"
	"github.com/troneras/workflow-orchestrator/pkg/otelhelper"
	"github.com/troneras/workflow-orchestrator/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const maxResponseBody = 1 << 20

// ErrNoWebhookURL is returned when a retry is requested for an execution that
// never asked for a webhook.
var ErrNoWebhookURL = errors.New("execution does not have a webhook URL")

// Dispatcher sends webhook deliveries. Delivery failures are recorded on the
// attempt and never returned as errors; only storage failures are.
type Dispatcher struct {
	attempts persistence.WebhookAttemptRepository
	client   *http.Client
	config   config.WebhookConfig
	logger   *slog.Logger
	tracer   trace.Tracer
	clock    func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock replaces the wall clock used for attempt and payload timestamps.
func WithClock(clock func() time.Time) Option {
	return func(d *Dispatcher) { d.clock = clock }
}

// WithTracer records a span per delivery.
func WithTracer(tracer trace.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = tracer }
}

// NewDispatcher creates a dispatcher. A nil client gets the configured timeout.
func NewDispatcher(
	attempts persistence.WebhookAttemptRepository,
	client *http.Client,
	cfg config.WebhookConfig,
	logger *slog.Logger,
	opts ...Option,
) *Dispatcher {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	d := &Dispatcher{
		attempts: attempts,
		client:   client,
		config:   cfg,
		logger:   logger.With("module", "webhook_dispatcher"),
		tracer:   otelhelper.NoopTracer(),
		clock:    time.Now,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Deliver posts the execution outcome to its webhook URL. It returns nil and no
// error when the execution has no URL. The first delivery is attempt 1; retries
// continue after the highest recorded attempt number.
func (d *Dispatcher) Deliver(ctx context.Context, execution *models.Execution, isRetry bool) (*models.WebhookAttempt, error) {
	if !execution.HasWebhookURL() {
		return nil, nil
	}

	attemptNumber := 1

	if isRetry {
		latest, err := d.attempts.MaxAttemptNumber(ctx, execution.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to number webhook attempt: %w", err)
		}

		attemptNumber = latest + 1
	}

	ctx, span := otelhelper.StartSpan(ctx, d.tracer, "webhook.Deliver",
		attribute.Int64(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.CorrelationIDKey, execution.ExecutionID),
		attribute.String(otelhelper.WebhookURLKey, execution.Metadata.WebhookURL),
		attribute.Int(otelhelper.WebhookAttemptKey, attemptNumber),
	)
	defer span.End()

	now := d.clock().UTC()

	attempt := &models.WebhookAttempt{
		ExecutionID:   execution.ID,
		AttemptNumber: attemptNumber,
		Status:        models.AttemptStatusPending,
		WebhookURL:    execution.Metadata.WebhookURL,
		Payload:       BuildPayload(execution, now),
		AttemptedAt:   now,
	}

	if err := d.attempts.Create(ctx, attempt); err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to record webhook attempt: %w", err)
	}

	logger := d.logger.With(
		"execution_id", execution.ID,
		"webhook_url", attempt.WebhookURL,
		"attempt_number", attemptNumber,
	)

	d.send(ctx, attempt, execution.ExecutionID)

	if attempt.HTTPStatus != nil {
		span.SetAttributes(attribute.Int(otelhelper.WebhookHTTPStatus, *attempt.HTTPStatus))
	}

	switch {
	case attempt.Status == models.AttemptStatusSuccess:
		logger.InfoContext(ctx, "Webhook sent successfully",
			"response_status", *attempt.HTTPStatus,
			"response_time_ms", attempt.ResponseTimeMs)
	case attempt.HTTPStatus != nil:
		logger.WarnContext(ctx, "Webhook failed with HTTP error",
			"response_status", *attempt.HTTPStatus,
			"response_body", attempt.ResponseBody)
	default:
		logger.ErrorContext(ctx, "Webhook failed with exception", "error", attempt.ErrorMessage)
	}

	if err := d.attempts.Update(ctx, attempt); err != nil {
		otelhelper.SetError(span, err)

		return attempt, fmt.Errorf("failed to update webhook attempt %d: %w", attempt.ID, err)
	}

	return attempt, nil
}

// Retry sends a new attempt for an execution that has a webhook URL.
func (d *Dispatcher) Retry(ctx context.Context, execution *models.Execution) (*models.WebhookAttempt, error) {
	if !execution.HasWebhookURL() {
		return nil, ErrNoWebhookURL
	}

	return d.Deliver(ctx, execution, true)
}

// send performs the HTTP call and fills the attempt outcome in place.
func (d *Dispatcher) send(ctx context.Context, attempt *models.WebhookAttempt, correlationID string) {
	started := time.Now()

	defer func() {
		attempt.ResponseTimeMs = float64(time.Since(started).Microseconds()) / 1000
	}()

	fail := func(err error) {
		attempt.Status = models.AttemptStatusFailed
		attempt.ErrorMessage = err.Error()
	}

	body, err := json.Marshal(attempt.Payload)
	if err != nil {
		fail(err)

		return
	}

	ctx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, attempt.WebhookURL, bytes.NewReader(body))
	if err != nil {
		fail(err)

		return
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", d.config.UserAgent)
	req.Header.Set("X-Webhook-Attempt", strconv.Itoa(attempt.AttemptNumber))
	req.Header.Set("X-Execution-ID", correlationID)

	resp, err := d.client.Do(req)
	if err != nil {
		fail(err)

		return
	}

	defer func() { _ = resp.Body.Close() }()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))

	status := resp.StatusCode
	attempt.HTTPStatus = &status
	attempt.ResponseBody = responseText(raw)

	if status >= 200 && status < 300 {
		attempt.Status = models.AttemptStatusSuccess
	} else {
		attempt.Status = models.AttemptStatusFailed
	}
}

// responseText makes a response body storable as text: invalid UTF-8 becomes
// U+FFFD and NUL bytes are dropped.
func responseText(raw []byte) string {
	return strings.ReplaceAll(strings.ToValidUTF8(string(raw), "\uFFFD"), "\x00", "")
}

// BuildPayload snapshots the execution as sent to the webhook.
func BuildPayload(execution *models.Execution, sentAt time.Time) models.WebhookPayload {
	return models.WebhookPayload{
		ExecutionID:     execution.ID,
		TaskExecutionID: execution.ExecutionID,
		Status:          execution.Status,
		Output:          execution.Output,
		Duration:        execution.Duration,
		Tokens:          execution.Tokens,
		ServiceName:     optional(execution.Metadata.ServiceName),
		Operation:       optional(execution.Metadata.Operation),
		ReferenceID:     optional(execution.Metadata.ReferenceID),
		StartedAt:       formatTime(execution.StartTime),
		CompletedAt:     formatTime(execution.EndTime),
		CreatedAt:       execution.CreatedAt.UTC().Format(time.RFC3339),
		WebhookSentAt:   sentAt.UTC().Format(time.RFC3339),
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}

	return &s
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}

	formatted := t.UTC().Format(time.RFC3339)

	return &formatted
}
