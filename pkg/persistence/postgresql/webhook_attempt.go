package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/troneras/workflow-orchestrator/pkg/models"
	"github.com/troneras/workflow-orchestrator/pkg/persistence"
)

// WebhookAttemptRepository handles webhook attempt database operations.
type WebhookAttemptRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *WebhookAttemptRepository) Create(ctx context.Context, attempt *models.WebhookAttempt) error {
	payload, err := jsonColumn(attempt.Payload)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO webhook_attempts (task_execution_id, webhook_url, payload, http_status, response_body,
			error_message, response_time_ms, attempt_number, status, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at
	`

	err = r.db.QueryRowContext(ctx, query,
		attempt.ExecutionID,
		attempt.WebhookURL,
		payload,
		nullInt(attempt.HTTPStatus),
		attempt.ResponseBody,
		attempt.ErrorMessage,
		attempt.ResponseTimeMs,
		attempt.AttemptNumber,
		string(attempt.Status),
		attempt.AttemptedAt,
	).Scan(&attempt.ID, &attempt.CreatedAt, &attempt.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert webhook attempt: %w", err)
	}

	return nil
}

func (r *WebhookAttemptRepository) Update(ctx context.Context, attempt *models.WebhookAttempt) error {
	query := `
		UPDATE webhook_attempts SET
			http_status = $1,
			response_body = $2,
			error_message = $3,
			response_time_ms = $4,
			status = $5,
			updated_at = NOW()
		WHERE id = $6
		RETURNING updated_at
	`

	err := r.db.QueryRowContext(ctx, query,
		nullInt(attempt.HTTPStatus),
		attempt.ResponseBody,
		attempt.ErrorMessage,
		attempt.ResponseTimeMs,
		string(attempt.Status),
		attempt.ID,
	).Scan(&attempt.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.NewNotFoundError("Update", attempt.ID, persistence.ErrAttemptNotFound)
	}

	if err != nil {
		return fmt.Errorf("failed to update webhook attempt %d: %w", attempt.ID, err)
	}

	return nil
}

func (r *WebhookAttemptRepository) ListByExecution(ctx context.Context, executionID int64) ([]*models.WebhookAttempt, error) {
	query := `
		SELECT id, task_execution_id, webhook_url, payload, http_status, response_body, error_message,
			response_time_ms, attempt_number, status, attempted_at, created_at, updated_at
		FROM webhook_attempts
		WHERE task_execution_id = $1
		ORDER BY attempt_number DESC, id DESC
	`

	rows, err := r.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query webhook attempts: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	attempts := make([]*models.WebhookAttempt, 0)

	for rows.Next() {
		var (
			attempt    models.WebhookAttempt
			payload    []byte
			httpStatus sql.NullInt64
			status     string
		)

		err := rows.Scan(
			&attempt.ID,
			&attempt.ExecutionID,
			&attempt.WebhookURL,
			&payload,
			&httpStatus,
			&attempt.ResponseBody,
			&attempt.ErrorMessage,
			&attempt.ResponseTimeMs,
			&attempt.AttemptNumber,
			&status,
			&attempt.AttemptedAt,
			&attempt.CreatedAt,
			&attempt.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook attempt: %w", err)
		}

		attempt.HTTPStatus = intFromNull(httpStatus)
		attempt.Status = models.AttemptStatus(status)

		if err := decodeJSONColumn(payload, &attempt.Payload); err != nil {
			return nil, err
		}

		attempts = append(attempts, &attempt)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating webhook attempts: %w", err)
	}

	return attempts, nil
}

func (r *WebhookAttemptRepository) MaxAttemptNumber(ctx context.Context, executionID int64) (int, error) {
	var maxNumber int

	err := r.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(attempt_number), 0) FROM webhook_attempts WHERE task_execution_id = $1", executionID,
	).Scan(&maxNumber)
	if err != nil {
		return 0, fmt.Errorf("failed to query max attempt number: %w", err)
	}

	return maxNumber, nil
}
