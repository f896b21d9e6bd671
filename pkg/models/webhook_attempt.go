package models

import "time"

// AttemptStatus is the outcome of one webhook delivery try.
type AttemptStatus string

const (
	AttemptStatusPending AttemptStatus = "pending"
	AttemptStatusSuccess AttemptStatus = "success"
	AttemptStatusFailed  AttemptStatus = "failed"
)

// WebhookPayload is the body sent to a caller's webhook. It is captured at send
// time and stored with the attempt.
type WebhookPayload struct {
	ExecutionID     int64           `json:"execution_id"`
	TaskExecutionID string          `json:"task_execution_id"`
	Status          ExecutionStatus `json:"status"`
	Output          map[string]any  `json:"output"`
	Duration        *int            `json:"duration"`
	Tokens          *int            `json:"tokens"`
	ServiceName     *string         `json:"service_name"`
	Operation       *string         `json:"operation"`
	ReferenceID     *string         `json:"reference_id"`
	StartedAt       *string         `json:"started_at"`
	CompletedAt     *string         `json:"completed_at"`
	CreatedAt       string          `json:"created_at"`
	WebhookSentAt   string          `json:"webhook_sent_at"`
}

// WebhookAttempt records one delivery of an execution's outcome to its webhook URL.
type WebhookAttempt struct {
	ID             int64          `json:"id"`
	ExecutionID    int64          `json:"task_execution_id"`
	AttemptNumber  int            `json:"attempt_number"`
	Status         AttemptStatus  `json:"status"`
	WebhookURL     string         `json:"webhook_url"`
	Payload        WebhookPayload `json:"payload"`
	HTTPStatus     *int           `json:"http_status"`
	ResponseBody   string         `json:"response_body,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	ResponseTimeMs float64        `json:"response_time_ms"`
	AttemptedAt    time.Time      `json:"attempted_at"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// IsSuccessful reports whether the attempt was acknowledged with a 2xx response.
func (a *WebhookAttempt) IsSuccessful() bool {
	return a.Status == AttemptStatusSuccess &&
		a.HTTPStatus != nil && *a.HTTPStatus >= 200 && *a.HTTPStatus < 300
}

// IsRetryable reports whether a failed attempt qualifies for automatic retry:
// transport failures and 5xx responses do, 4xx responses do not.
func (a *WebhookAttempt) IsRetryable() bool {
	if a.Status != AttemptStatusFailed {
		return false
	}

	return a.HTTPStatus == nil || *a.HTTPStatus >= 500
}
