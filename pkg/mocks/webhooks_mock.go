package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/troneras/workflow-orchestrator/pkg/models"
	"github.com/troneras/workflow-orchestrator/pkg/webhook"
)

// MockWebhooks is a mock implementation of services.Webhooks interface.
type MockWebhooks struct {
	mock.Mock
}

func (m *MockWebhooks) Retry(ctx context.Context, execution *models.Execution) (*models.WebhookAttempt, error) {
	args := m.Called(ctx, execution)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WebhookAttempt), args.Error(1)
}

func (m *MockWebhooks) Status(ctx context.Context, execution *models.Execution) (webhook.Summary, error) {
	args := m.Called(ctx, execution)

	return args.Get(0).(webhook.Summary), args.Error(1)
}
