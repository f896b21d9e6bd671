// Package persistence provides the storage abstraction for executions, their
// stream events, webhook attempts, providers and tasks.
package persistence

import (
	"context"
	"time"

	"github.com/troneras/workflow-orchestrator/pkg/models"
)

// Persistence groups the repositories of one storage backend.
type Persistence interface {
	ExecutionRepository() ExecutionRepository
	StreamEventRepository() StreamEventRepository
	WebhookAttemptRepository() WebhookAttemptRepository
	ProviderRepository() ProviderRepository
	TaskRepository() TaskRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// ExecutionFilter narrows ListExecutions results.
type ExecutionFilter struct {
	TaskIDs     []int64
	ServiceName string
	Operation   string
	ReferenceID string
	Status      models.ExecutionStatus
	APIOnly     bool
	Limit       int
	Offset      int
}

// ExecutionRepository stores executions.
type ExecutionRepository interface {
	// Create assigns ID and timestamps.
	Create(ctx context.Context, execution *models.Execution) error
	GetByID(ctx context.Context, id int64) (*models.Execution, error)
	GetByExecutionID(ctx context.Context, executionID string) (*models.Execution, error)
	// Save writes every mutable field of the execution in a single write.
	Save(ctx context.Context, execution *models.Execution) error
	// List returns one page, newest first, plus the total matching count.
	List(ctx context.Context, filter ExecutionFilter) ([]*models.Execution, int, error)
}

// StreamEventRepository is the append-only event store. Events of one execution
// are always returned in arrival order unless stated otherwise.
type StreamEventRepository interface {
	// Append assigns ID, Sequence and CreatedAt.
	Append(ctx context.Context, executionID int64, event *models.StreamEvent) error
	ListByExecution(ctx context.Context, executionID int64) ([]models.StreamEvent, error)
	ListByType(ctx context.Context, executionID int64, types ...models.EventType) ([]models.StreamEvent, error)
	// Latest returns up to limit events of the given types, newest first.
	Latest(ctx context.Context, executionID int64, limit int, types ...models.EventType) ([]models.StreamEvent, error)
	Count(ctx context.Context, executionID int64) (int, error)
}

// WebhookAttemptRepository is the append-and-update log of webhook deliveries.
type WebhookAttemptRepository interface {
	Create(ctx context.Context, attempt *models.WebhookAttempt) error
	Update(ctx context.Context, attempt *models.WebhookAttempt) error
	// ListByExecution returns attempts newest first.
	ListByExecution(ctx context.Context, executionID int64) ([]*models.WebhookAttempt, error)
	MaxAttemptNumber(ctx context.Context, executionID int64) (int, error)
}

// ProviderRepository stores provider configurations.
type ProviderRepository interface {
	Create(ctx context.Context, provider *models.Provider) error
	GetByID(ctx context.Context, id int64) (*models.Provider, error)
	GetByWorkflowID(ctx context.Context, workflowID string) (*models.Provider, error)
	FindHealthyByName(ctx context.Context, name string) (*models.Provider, error)
	FindHealthyByWorkflowID(ctx context.Context, workflowID string) (*models.Provider, error)
	ListHealthy(ctx context.Context) ([]*models.Provider, error)
	ListActive(ctx context.Context) ([]*models.Provider, error)
	// ListStale returns active providers never checked or last checked before olderThan.
	ListStale(ctx context.Context, olderThan time.Time) ([]*models.Provider, error)
	// UpdateStatus writes status, status message and last check time in one write.
	UpdateStatus(ctx context.Context, provider *models.Provider) error
}

// TaskRepository stores tasks.
type TaskRepository interface {
	Create(ctx context.Context, task *models.Task) error
	GetByID(ctx context.Context, id int64) (*models.Task, error)
	FindByName(ctx context.Context, providerID int64, name string) (*models.Task, error)
	ListByProvider(ctx context.Context, providerID int64) ([]*models.Task, error)
	ListByName(ctx context.Context, name string) ([]*models.Task, error)
}
