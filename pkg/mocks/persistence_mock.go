package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/troneras/workflow-orchestrator/pkg/models"
	"github.com/troneras/workflow-orchestrator/pkg/persistence"
)

// MockPersistence is a mock implementation of persistence.Persistence interface.
type MockPersistence struct {
	mock.Mock
}

func (m *MockPersistence) ExecutionRepository() persistence.ExecutionRepository {
	args := m.Called()

	return args.Get(0).(persistence.ExecutionRepository)
}

func (m *MockPersistence) StreamEventRepository() persistence.StreamEventRepository {
	args := m.Called()

	return args.Get(0).(persistence.StreamEventRepository)
}

func (m *MockPersistence) WebhookAttemptRepository() persistence.WebhookAttemptRepository {
	args := m.Called()

	return args.Get(0).(persistence.WebhookAttemptRepository)
}

func (m *MockPersistence) ProviderRepository() persistence.ProviderRepository {
	args := m.Called()

	return args.Get(0).(persistence.ProviderRepository)
}

func (m *MockPersistence) TaskRepository() persistence.TaskRepository {
	args := m.Called()

	return args.Get(0).(persistence.TaskRepository)
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

// MockExecutionRepository is a mock implementation of persistence.ExecutionRepository interface.
type MockExecutionRepository struct {
	mock.Mock
}

func (m *MockExecutionRepository) Create(ctx context.Context, execution *models.Execution) error {
	args := m.Called(ctx, execution)

	return args.Error(0)
}

func (m *MockExecutionRepository) GetByID(ctx context.Context, id int64) (*models.Execution, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Execution), args.Error(1)
}

func (m *MockExecutionRepository) GetByExecutionID(ctx context.Context, executionID string) (*models.Execution, error) {
	args := m.Called(ctx, executionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Execution), args.Error(1)
}

func (m *MockExecutionRepository) Save(ctx context.Context, execution *models.Execution) error {
	args := m.Called(ctx, execution)

	return args.Error(0)
}

func (m *MockExecutionRepository) List(ctx context.Context, filter persistence.ExecutionFilter) ([]*models.Execution, int, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}

	return args.Get(0).([]*models.Execution), args.Int(1), args.Error(2)
}
