package file

import (
	"context"
	"time"

	"github.com/troneras/workflow-orchestrator/pkg/models"
	"github.com/troneras/workflow-orchestrator/pkg/persistence"
)

const (
	providersDir = "providers"
	tasksDir     = "tasks"
)

// ProviderRepository handles provider-related file operations.
type ProviderRepository struct {
	store *store
}

func (r *ProviderRepository) Create(_ context.Context, provider *models.Provider) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	id, err := r.store.nextID(providersDir)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	provider.ID = id
	provider.CreatedAt = now
	provider.UpdatedAt = now

	if provider.Status == "" {
		provider.Status = models.ProviderStatusActive
	}

	return r.store.write(recordPath(providersDir, id), provider)
}

func (r *ProviderRepository) GetByID(_ context.Context, id int64) (*models.Provider, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.load(id)
}

func (r *ProviderRepository) GetByWorkflowID(_ context.Context, workflowID string) (*models.Provider, error) {
	return r.find("GetByWorkflowID", workflowID, func(p *models.Provider) bool {
		return p.WorkflowID == workflowID
	})
}

func (r *ProviderRepository) FindHealthyByName(_ context.Context, name string) (*models.Provider, error) {
	return r.find("FindHealthyByName", name, func(p *models.Provider) bool {
		return p.IsHealthy() && p.Name == name
	})
}

func (r *ProviderRepository) FindHealthyByWorkflowID(_ context.Context, workflowID string) (*models.Provider, error) {
	return r.find("FindHealthyByWorkflowID", workflowID, func(p *models.Provider) bool {
		return p.IsHealthy() && p.WorkflowID == workflowID
	})
}

func (r *ProviderRepository) ListHealthy(_ context.Context) ([]*models.Provider, error) {
	return r.filter(func(p *models.Provider) bool { return p.IsHealthy() })
}

func (r *ProviderRepository) ListActive(_ context.Context) ([]*models.Provider, error) {
	return r.filter(func(p *models.Provider) bool { return p.IsActive })
}

func (r *ProviderRepository) ListStale(_ context.Context, olderThan time.Time) ([]*models.Provider, error) {
	return r.filter(func(p *models.Provider) bool {
		return p.IsActive && (p.LastStatusCheck == nil || p.LastStatusCheck.Before(olderThan))
	})
}

func (r *ProviderRepository) UpdateStatus(_ context.Context, provider *models.Provider) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	existing, err := r.load(provider.ID)
	if err != nil {
		return err
	}

	existing.Status = provider.Status
	existing.StatusMessage = provider.StatusMessage
	existing.LastStatusCheck = provider.LastStatusCheck
	existing.UpdatedAt = time.Now().UTC()

	provider.UpdatedAt = existing.UpdatedAt

	return r.store.write(recordPath(providersDir, provider.ID), existing)
}

func (r *ProviderRepository) find(op, key string, match func(*models.Provider) bool) (*models.Provider, error) {
	providers, err := r.filter(match)
	if err != nil {
		return nil, err
	}

	if len(providers) == 0 {
		return nil, persistence.NewNotFoundError(op, key, persistence.ErrProviderNotFound)
	}

	return providers[0], nil
}

func (r *ProviderRepository) filter(match func(*models.Provider) bool) ([]*models.Provider, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	ids, err := r.store.listIDs(providersDir)
	if err != nil {
		return nil, err
	}

	providers := make([]*models.Provider, 0, len(ids))

	for _, id := range ids {
		provider, err := r.load(id)
		if err != nil {
			return nil, err
		}

		if match(provider) {
			providers = append(providers, provider)
		}
	}

	return providers, nil
}

func (r *ProviderRepository) load(id int64) (*models.Provider, error) {
	var provider models.Provider

	found, err := r.store.read(recordPath(providersDir, id), &provider)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, persistence.NewNotFoundError("GetByID", id, persistence.ErrProviderNotFound)
	}

	return &provider, nil
}

// TaskRepository handles task-related file operations.
type TaskRepository struct {
	store *store
}

func (r *TaskRepository) Create(_ context.Context, task *models.Task) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	id, err := r.store.nextID(tasksDir)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	task.ID = id
	task.CreatedAt = now
	task.UpdatedAt = now

	return r.store.write(recordPath(tasksDir, id), task)
}

func (r *TaskRepository) GetByID(_ context.Context, id int64) (*models.Task, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.load(id)
}

func (r *TaskRepository) FindByName(_ context.Context, providerID int64, name string) (*models.Task, error) {
	tasks, err := r.filter(func(t *models.Task) bool {
		return t.ProviderID == providerID && t.Name == name
	})
	if err != nil {
		return nil, err
	}

	if len(tasks) == 0 {
		return nil, persistence.NewNotFoundError("FindByName", name, persistence.ErrTaskNotFound)
	}

	return tasks[0], nil
}

func (r *TaskRepository) ListByProvider(_ context.Context, providerID int64) ([]*models.Task, error) {
	return r.filter(func(t *models.Task) bool { return t.ProviderID == providerID })
}

func (r *TaskRepository) ListByName(_ context.Context, name string) ([]*models.Task, error) {
	return r.filter(func(t *models.Task) bool { return t.Name == name })
}

func (r *TaskRepository) filter(match func(*models.Task) bool) ([]*models.Task, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	ids, err := r.store.listIDs(tasksDir)
	if err != nil {
		return nil, err
	}

	tasks := make([]*models.Task, 0, len(ids))

	for _, id := range ids {
		task, err := r.load(id)
		if err != nil {
			return nil, err
		}

		if match(task) {
			tasks = append(tasks, task)
		}
	}

	return tasks, nil
}

func (r *TaskRepository) load(id int64) (*models.Task, error) {
	var task models.Task

	found, err := r.store.read(recordPath(tasksDir, id), &task)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, persistence.NewNotFoundError("GetByID", id, persistence.ErrTaskNotFound)
	}

	return &task, nil
}
