package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/troneras/workflow-orchestrator/pkg/models"
)

// AttemptSummary is the last attempt as shown in a Summary.
type AttemptSummary struct {
	ID             int64                `json:"id"`
	AttemptNumber  int                  `json:"attempt_number"`
	Status         models.AttemptStatus `json:"status"`
	HTTPStatus     *int                 `json:"http_status"`
	ResponseTimeMs float64              `json:"response_time_ms"`
	AttemptedAt    time.Time            `json:"attempted_at"`
	ErrorMessage   string               `json:"error_message,omitempty"`
}

// Summary describes the webhook delivery state of one execution.
type Summary struct {
	HasWebhook         bool                  `json:"has_webhook"`
	WebhookURL         *string               `json:"webhook_url"`
	TotalAttempts      int                   `json:"total_attempts"`
	SuccessfulAttempts int                   `json:"successful_attempts"`
	FailedAttempts     int                   `json:"failed_attempts"`
	LastAttempt        *AttemptSummary       `json:"last_attempt"`
	LastStatus         *models.AttemptStatus `json:"last_status"`
	IsRetryable        bool                  `json:"is_retryable"`
}

// Status summarizes the recorded attempts of an execution.
func (d *Dispatcher) Status(ctx context.Context, execution *models.Execution) (Summary, error) {
	if !execution.HasWebhookURL() {
		return Summary{}, nil
	}

	attempts, err := d.attempts.ListByExecution(ctx, execution.ID)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to list webhook attempts: %w", err)
	}

	url := execution.Metadata.WebhookURL
	summary := Summary{
		HasWebhook:    true,
		WebhookURL:    &url,
		TotalAttempts: len(attempts),
	}

	for _, attempt := range attempts {
		switch attempt.Status {
		case models.AttemptStatusSuccess:
			summary.SuccessfulAttempts++
		case models.AttemptStatusFailed:
			summary.FailedAttempts++
		}
	}

	if len(attempts) == 0 {
		return summary, nil
	}

	last := attempts[0]
	summary.LastAttempt = &AttemptSummary{
		ID:             last.ID,
		AttemptNumber:  last.AttemptNumber,
		Status:         last.Status,
		HTTPStatus:     last.HTTPStatus,
		ResponseTimeMs: last.ResponseTimeMs,
		AttemptedAt:    last.AttemptedAt,
		ErrorMessage:   last.ErrorMessage,
	}
	summary.LastStatus = &last.Status
	summary.IsRetryable = last.IsRetryable()

	return summary, nil
}
