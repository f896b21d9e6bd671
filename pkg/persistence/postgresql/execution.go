package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/troneras/workflow-orchestrator/pkg/models"
	"github.com/troneras/workflow-orchestrator/pkg/persistence"
)

const executionColumns = `
	id
  , execution_id
  , run_id_adopted
  , task_id
  , status
  , start_time
  , end_time
  , duration
  , tokens
  , input
  , output
  , track
  , metadata
  , created_at
  , updated_at
`

// ExecutionRepository handles execution-related database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *ExecutionRepository) Create(ctx context.Context, execution *models.Execution) error {
	if execution.Input == nil {
		execution.Input = map[string]any{}
	}

	args, err := executionArgs(execution)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO task_executions (execution_id, run_id_adopted, task_id, status, start_time, end_time,
			duration, tokens, input, output, track, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at
	`

	err = r.db.QueryRowContext(ctx, query, args...).Scan(&execution.ID, &execution.CreatedAt, &execution.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert execution: %w", err)
	}

	return nil
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id int64) (*models.Execution, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+executionColumns+" FROM task_executions WHERE id = $1", id)

	execution, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewNotFoundError("GetByID", id, persistence.ErrExecutionNotFound)
	}

	return execution, err
}

func (r *ExecutionRepository) GetByExecutionID(ctx context.Context, executionID string) (*models.Execution, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+executionColumns+" FROM task_executions WHERE execution_id = $1", executionID)

	execution, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewNotFoundError("GetByExecutionID", executionID, persistence.ErrExecutionNotFound)
	}

	return execution, err
}

// Save writes all mutable fields with one UPDATE statement.
func (r *ExecutionRepository) Save(ctx context.Context, execution *models.Execution) error {
	args, err := executionArgs(execution)
	if err != nil {
		return err
	}

	query := `
		UPDATE task_executions SET
			execution_id = $1,
			run_id_adopted = $2,
			task_id = $3,
			status = $4,
			start_time = $5,
			end_time = $6,
			duration = $7,
			tokens = $8,
			input = $9,
			output = $10,
			track = $11,
			metadata = $12,
			updated_at = NOW()
		WHERE id = $13
		RETURNING updated_at
	`

	err = r.db.QueryRowContext(ctx, query, append(args, execution.ID)...).Scan(&execution.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.NewNotFoundError("Save", execution.ID, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return fmt.Errorf("failed to update execution %d: %w", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) List(ctx context.Context, filter persistence.ExecutionFilter) ([]*models.Execution, int, error) {
	conditions := make([]string, 0)
	args := make([]any, 0)

	add := func(condition string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(condition, len(args)))
	}

	if filter.APIOnly {
		conditions = append(conditions, "(metadata->>'api_execution')::boolean IS TRUE")
	}

	if filter.TaskIDs != nil {
		add("task_id = ANY($%d)", pq.Array(filter.TaskIDs))
	}

	if filter.ServiceName != "" {
		add("metadata->>'service_name' = $%d", filter.ServiceName)
	}

	if filter.Operation != "" {
		add("metadata->>'operation' = $%d", filter.Operation)
	}

	if filter.ReferenceID != "" {
		add("metadata->>'reference_id' = $%d", filter.ReferenceID)
	}

	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int

	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM task_executions"+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count executions: %w", err)
	}

	query := "SELECT " + executionColumns + " FROM task_executions" + where + " ORDER BY created_at DESC, id DESC"

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	args = append(args, filter.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query executions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	executions := make([]*models.Execution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, 0, err
		}

		executions = append(executions, execution)
	}

	err = rows.Err()
	if err != nil {
		return nil, 0, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, total, nil
}

func executionArgs(execution *models.Execution) ([]any, error) {
	input, err := jsonColumn(execution.Input)
	if err != nil {
		return nil, err
	}

	output, err := jsonColumn(execution.Output)
	if err != nil {
		return nil, err
	}

	var track any
	if execution.Track != nil {
		track, err = jsonColumn(execution.Track)
		if err != nil {
			return nil, err
		}
	}

	metadata, err := jsonColumn(execution.Metadata)
	if err != nil {
		return nil, err
	}

	return []any{
		execution.ExecutionID,
		execution.RunIDAdopted,
		execution.TaskID,
		string(execution.Status),
		nullTime(execution.StartTime),
		nullTime(execution.EndTime),
		nullInt(execution.Duration),
		nullInt(execution.Tokens),
		input,
		output,
		track,
		metadata,
	}, nil
}

func scanExecution(row scanner) (*models.Execution, error) {
	var (
		execution                      models.Execution
		status                         string
		startTime, endTime             sql.NullTime
		duration, tokens               sql.NullInt64
		input, output, track, metadata []byte
	)

	err := row.Scan(
		&execution.ID,
		&execution.ExecutionID,
		&execution.RunIDAdopted,
		&execution.TaskID,
		&status,
		&startTime,
		&endTime,
		&duration,
		&tokens,
		&input,
		&output,
		&track,
		&metadata,
		&execution.CreatedAt,
		&execution.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	execution.Status = models.ExecutionStatus(status)
	execution.StartTime = timeFromNull(startTime)
	execution.EndTime = timeFromNull(endTime)
	execution.Duration = intFromNull(duration)
	execution.Tokens = intFromNull(tokens)

	for _, column := range []struct {
		data []byte
		dest any
	}{
		{input, &execution.Input},
		{output, &execution.Output},
		{track, &execution.Track},
		{metadata, &execution.Metadata},
	} {
		if err := decodeJSONColumn(column.data, column.dest); err != nil {
			return nil, err
		}
	}

	return &execution, nil
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}

	return sql.NullTime{Time: *v, Valid: true}
}

func timeFromNull(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}

	t := v.Time.UTC()

	return &t
}
