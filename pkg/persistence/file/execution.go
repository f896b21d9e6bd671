package file

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/troneras/workflow-orchestrator/pkg/models"
	"github.com/troneras/workflow-orchestrator/pkg/persistence"
)

const executionsDir = "executions"

// ExecutionRepository handles execution-related file operations.
type ExecutionRepository struct {
	store *store
}

func (r *ExecutionRepository) Create(_ context.Context, execution *models.Execution) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	id, err := r.store.nextID(executionsDir)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	execution.ID = id
	execution.CreatedAt = now
	execution.UpdatedAt = now

	return r.store.write(recordPath(executionsDir, id), execution)
}

func (r *ExecutionRepository) GetByID(_ context.Context, id int64) (*models.Execution, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.load(id)
}

func (r *ExecutionRepository) GetByExecutionID(_ context.Context, executionID string) (*models.Execution, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	executions, err := r.loadAll()
	if err != nil {
		return nil, err
	}

	for _, execution := range executions {
		if execution.ExecutionID == executionID {
			return execution, nil
		}
	}

	return nil, persistence.NewNotFoundError("GetByExecutionID", executionID, persistence.ErrExecutionNotFound)
}

func (r *ExecutionRepository) Save(_ context.Context, execution *models.Execution) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	existing, err := r.load(execution.ID)
	if err != nil {
		return err
	}

	execution.CreatedAt = existing.CreatedAt
	execution.UpdatedAt = time.Now().UTC()

	return r.store.write(recordPath(executionsDir, execution.ID), execution)
}

func (r *ExecutionRepository) List(_ context.Context, filter persistence.ExecutionFilter) ([]*models.Execution, int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	executions, err := r.loadAll()
	if err != nil {
		return nil, 0, err
	}

	filtered := make([]*models.Execution, 0, len(executions))

	for _, execution := range executions {
		if matchesFilter(execution, filter) {
			filtered = append(filtered, execution)
		}
	}

	slices.SortFunc(filtered, func(a, b *models.Execution) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}

		return cmp.Compare(b.ID, a.ID)
	})

	total := len(filtered)

	if filter.Offset >= total {
		return make([]*models.Execution, 0), total, nil
	}

	end := total
	if filter.Limit > 0 && filter.Offset+filter.Limit < total {
		end = filter.Offset + filter.Limit
	}

	return filtered[filter.Offset:end], total, nil
}

func matchesFilter(execution *models.Execution, filter persistence.ExecutionFilter) bool {
	if filter.APIOnly && !execution.Metadata.APIExecution {
		return false
	}

	if filter.TaskIDs != nil && !slices.Contains(filter.TaskIDs, execution.TaskID) {
		return false
	}

	if filter.ServiceName != "" && execution.Metadata.ServiceName != filter.ServiceName {
		return false
	}

	if filter.Operation != "" && execution.Metadata.Operation != filter.Operation {
		return false
	}

	if filter.ReferenceID != "" && execution.Metadata.ReferenceID != filter.ReferenceID {
		return false
	}

	if filter.Status != "" && execution.Status != filter.Status {
		return false
	}

	return true
}

func (r *ExecutionRepository) load(id int64) (*models.Execution, error) {
	var execution models.Execution

	found, err := r.store.read(recordPath(executionsDir, id), &execution)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, persistence.NewNotFoundError("GetByID", id, persistence.ErrExecutionNotFound)
	}

	return &execution, nil
}

func (r *ExecutionRepository) loadAll() ([]*models.Execution, error) {
	ids, err := r.store.listIDs(executionsDir)
	if err != nil {
		return nil, err
	}

	executions := make([]*models.Execution, 0, len(ids))

	for _, id := range ids {
		execution, err := r.load(id)
		if err != nil {
			return nil, err
		}

		executions = append(executions, execution)
	}

	return executions, nil
}
