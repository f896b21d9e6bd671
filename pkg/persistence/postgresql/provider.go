package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/troneras/workflow-orchestrator/pkg/models"
	"github.com/troneras/workflow-orchestrator/pkg/persistence"
)

const (
	providerColumns = `
		id
	  , name
	  , description
	  , workflow_id
	  , api_key
	  , is_active
	  , status
	  , status_message
	  , last_status_check
	  , created_at
	  , updated_at
	`

	healthyCondition = "is_active AND status = 'active'"
)

// ProviderRepository handles provider-related database operations.
type ProviderRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *ProviderRepository) Create(ctx context.Context, provider *models.Provider) error {
	if provider.Status == "" {
		provider.Status = models.ProviderStatusActive
	}

	query := `
		INSERT INTO providers (name, description, workflow_id, api_key, is_active, status, status_message, last_status_check)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRowContext(ctx, query,
		provider.Name,
		provider.Description,
		provider.WorkflowID,
		provider.APIKey,
		provider.IsActive,
		string(provider.Status),
		provider.StatusMessage,
		nullTime(provider.LastStatusCheck),
	).Scan(&provider.ID, &provider.CreatedAt, &provider.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert provider: %w", err)
	}

	return nil
}

func (r *ProviderRepository) GetByID(ctx context.Context, id int64) (*models.Provider, error) {
	return r.one(ctx, "GetByID", id, "id = $1", id)
}

func (r *ProviderRepository) GetByWorkflowID(ctx context.Context, workflowID string) (*models.Provider, error) {
	return r.one(ctx, "GetByWorkflowID", workflowID, "workflow_id = $1", workflowID)
}

func (r *ProviderRepository) FindHealthyByName(ctx context.Context, name string) (*models.Provider, error) {
	return r.one(ctx, "FindHealthyByName", name, healthyCondition+" AND name = $1", name)
}

func (r *ProviderRepository) FindHealthyByWorkflowID(ctx context.Context, workflowID string) (*models.Provider, error) {
	return r.one(ctx, "FindHealthyByWorkflowID", workflowID, healthyCondition+" AND workflow_id = $1", workflowID)
}

func (r *ProviderRepository) ListHealthy(ctx context.Context) ([]*models.Provider, error) {
	return r.many(ctx, healthyCondition)
}

func (r *ProviderRepository) ListActive(ctx context.Context) ([]*models.Provider, error) {
	return r.many(ctx, "is_active")
}

func (r *ProviderRepository) ListStale(ctx context.Context, olderThan time.Time) ([]*models.Provider, error) {
	return r.many(ctx, "is_active AND (last_status_check IS NULL OR last_status_check < $1)", olderThan)
}

func (r *ProviderRepository) UpdateStatus(ctx context.Context, provider *models.Provider) error {
	query := `
		UPDATE providers SET
			status = $1,
			status_message = $2,
			last_status_check = $3,
			updated_at = NOW()
		WHERE id = $4
		RETURNING updated_at
	`

	err := r.db.QueryRowContext(ctx, query,
		string(provider.Status),
		provider.StatusMessage,
		nullTime(provider.LastStatusCheck),
		provider.ID,
	).Scan(&provider.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.NewNotFoundError("UpdateStatus", provider.ID, persistence.ErrProviderNotFound)
	}

	if err != nil {
		return fmt.Errorf("failed to update provider status %d: %w", provider.ID, err)
	}

	return nil
}

func (r *ProviderRepository) one(ctx context.Context, op string, key any, condition string, args ...any) (*models.Provider, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+providerColumns+" FROM providers WHERE "+condition+" ORDER BY id LIMIT 1", args...)

	provider, err := scanProvider(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewNotFoundError(op, key, persistence.ErrProviderNotFound)
	}

	return provider, err
}

func (r *ProviderRepository) many(ctx context.Context, condition string, args ...any) ([]*models.Provider, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+providerColumns+" FROM providers WHERE "+condition+" ORDER BY id", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query providers: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	providers := make([]*models.Provider, 0)

	for rows.Next() {
		provider, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}

		providers = append(providers, provider)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating providers: %w", err)
	}

	return providers, nil
}

func scanProvider(row scanner) (*models.Provider, error) {
	var (
		provider  models.Provider
		status    string
		lastCheck sql.NullTime
	)

	err := row.Scan(
		&provider.ID,
		&provider.Name,
		&provider.Description,
		&provider.WorkflowID,
		&provider.APIKey,
		&provider.IsActive,
		&status,
		&provider.StatusMessage,
		&lastCheck,
		&provider.CreatedAt,
		&provider.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("failed to scan provider: %w", err)
	}

	provider.Status = models.ProviderStatus(status)
	provider.LastStatusCheck = timeFromNull(lastCheck)

	return &provider, nil
}

// TaskRepository handles task-related database operations.
type TaskRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const taskColumns = "id, name, description, provider_id, input_schema, is_active, created_at, updated_at"

func (r *TaskRepository) Create(ctx context.Context, task *models.Task) error {
	schema, err := jsonColumn(task.InputSchema)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO tasks (name, description, provider_id, input_schema, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`

	err = r.db.QueryRowContext(ctx, query,
		task.Name,
		task.Description,
		task.ProviderID,
		schema,
		task.IsActive,
	).Scan(&task.ID, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}

	return nil
}

func (r *TaskRepository) GetByID(ctx context.Context, id int64) (*models.Task, error) {
	tasks, err := r.many(ctx, "id = $1", id)
	if err != nil {
		return nil, err
	}

	if len(tasks) == 0 {
		return nil, persistence.NewNotFoundError("GetByID", id, persistence.ErrTaskNotFound)
	}

	return tasks[0], nil
}

func (r *TaskRepository) FindByName(ctx context.Context, providerID int64, name string) (*models.Task, error) {
	tasks, err := r.many(ctx, "provider_id = $1 AND name = $2", providerID, name)
	if err != nil {
		return nil, err
	}

	if len(tasks) == 0 {
		return nil, persistence.NewNotFoundError("FindByName", name, persistence.ErrTaskNotFound)
	}

	return tasks[0], nil
}

func (r *TaskRepository) ListByProvider(ctx context.Context, providerID int64) ([]*models.Task, error) {
	return r.many(ctx, "provider_id = $1", providerID)
}

func (r *TaskRepository) ListByName(ctx context.Context, name string) ([]*models.Task, error) {
	return r.many(ctx, "name = $1", name)
}

func (r *TaskRepository) many(ctx context.Context, condition string, args ...any) ([]*models.Task, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE "+condition+" ORDER BY id", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	tasks := make([]*models.Task, 0)

	for rows.Next() {
		var (
			task   models.Task
			schema []byte
		)

		err := rows.Scan(
			&task.ID,
			&task.Name,
			&task.Description,
			&task.ProviderID,
			&schema,
			&task.IsActive,
			&task.CreatedAt,
			&task.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}

		if err := decodeJSONColumn(schema, &task.InputSchema); err != nil {
			return nil, err
		}

		tasks = append(tasks, &task)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	return tasks, nil
}
