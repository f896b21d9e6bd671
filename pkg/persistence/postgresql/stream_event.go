package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/lib/pq"
	"github.com/troneras/workflow-orchestrator/pkg/models"
)

const streamEventColumns = `
	id
  , task_execution_id
  , sequence
  , event_type
  , task_id
  , workflow_run_id
  , node_id
  , event_data
  , event_timestamp
  , created_at
`

// StreamEventRepository is the append-only event store.
type StreamEventRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// Append inserts the event with the next per-execution sequence number. The
// unique (task_execution_id, sequence) constraint rejects concurrent writers
// racing for the same slot.
func (r *StreamEventRepository) Append(ctx context.Context, executionID int64, event *models.StreamEvent) error {
	data, err := jsonColumn(event.Data)
	if err != nil {
		return err
	}

	if data == nil {
		data = []byte("{}")
	}

	query := `
		INSERT INTO workflow_stream_events (task_execution_id, sequence, event_type, task_id,
			workflow_run_id, node_id, event_data, event_timestamp)
		VALUES (
			$1,
			(SELECT COALESCE(MAX(sequence), 0) + 1 FROM workflow_stream_events WHERE task_execution_id = $1),
			$2, $3, $4, $5, $6, $7
		)
		RETURNING id, sequence, created_at
	`

	err = r.db.QueryRowContext(ctx, query,
		executionID,
		event.Type.String(),
		nullString(event.TaskID),
		nullString(event.WorkflowRunID),
		nullString(event.NodeID),
		data,
		event.Timestamp,
	).Scan(&event.ID, &event.Sequence, &event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append stream event for execution %d: %w", executionID, err)
	}

	event.ExecutionID = executionID

	return nil
}

func (r *StreamEventRepository) ListByExecution(ctx context.Context, executionID int64) ([]models.StreamEvent, error) {
	return r.query(ctx,
		"SELECT "+streamEventColumns+" FROM workflow_stream_events WHERE task_execution_id = $1 ORDER BY sequence ASC",
		executionID,
	)
}

func (r *StreamEventRepository) ListByType(ctx context.Context, executionID int64, types ...models.EventType) ([]models.StreamEvent, error) {
	if len(types) == 0 {
		return r.ListByExecution(ctx, executionID)
	}

	return r.query(ctx,
		"SELECT "+streamEventColumns+` FROM workflow_stream_events
		WHERE task_execution_id = $1 AND event_type = ANY($2) ORDER BY sequence ASC`,
		executionID, pq.Array(typeNames(types)),
	)
}

func (r *StreamEventRepository) Latest(ctx context.Context, executionID int64, limit int, types ...models.EventType) ([]models.StreamEvent, error) {
	if len(types) == 0 {
		return r.query(ctx,
			"SELECT "+streamEventColumns+` FROM workflow_stream_events
			WHERE task_execution_id = $1 ORDER BY sequence DESC LIMIT $2`,
			executionID, limit,
		)
	}

	return r.query(ctx,
		"SELECT "+streamEventColumns+` FROM workflow_stream_events
		WHERE task_execution_id = $1 AND event_type = ANY($2) ORDER BY sequence DESC LIMIT $3`,
		executionID, pq.Array(typeNames(types)), limit,
	)
}

func (r *StreamEventRepository) Count(ctx context.Context, executionID int64) (int, error) {
	var count int

	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM workflow_stream_events WHERE task_execution_id = $1", executionID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count stream events: %w", err)
	}

	return count, nil
}

func (r *StreamEventRepository) query(ctx context.Context, query string, args ...any) ([]models.StreamEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query stream events: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	events := make([]models.StreamEvent, 0)

	for rows.Next() {
		var (
			event                         models.StreamEvent
			taskID, workflowRunID, nodeID sql.NullString
			data                          []byte
		)

		err := rows.Scan(
			&event.ID,
			&event.ExecutionID,
			&event.Sequence,
			&event.Type,
			&taskID,
			&workflowRunID,
			&nodeID,
			&data,
			&event.Timestamp,
			&event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stream event: %w", err)
		}

		event.TaskID = taskID.String
		event.WorkflowRunID = workflowRunID.String
		event.NodeID = nodeID.String
		event.Timestamp = event.Timestamp.UTC()

		if err := decodeJSONColumn(data, &event.Data); err != nil {
			return nil, err
		}

		events = append(events, event)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating stream events: %w", err)
	}

	return events, nil
}

func typeNames(types []models.EventType) []string {
	names := make([]string, 0, len(types))
	for _, t := range types {
		names = append(names, t.String())
	}

	return names
}
