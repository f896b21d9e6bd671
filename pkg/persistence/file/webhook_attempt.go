package file

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/troneras/workflow-orchestrator/pkg/models"
	"github.com/troneras/workflow-orchestrator/pkg/persistence"
)

const webhookAttemptsDir = "webhook_attempts"

// WebhookAttemptRepository keeps one JSON array of attempts per execution.
type WebhookAttemptRepository struct {
	store *store
}

func (r *WebhookAttemptRepository) Create(_ context.Context, attempt *models.WebhookAttempt) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	attempts, err := r.load(attempt.ExecutionID)
	if err != nil {
		return err
	}

	id, err := r.store.nextID(webhookAttemptsDir)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	attempt.ID = id
	attempt.CreatedAt = now
	attempt.UpdatedAt = now

	attempts = append(attempts, *attempt)

	return r.store.write(recordPath(webhookAttemptsDir, attempt.ExecutionID), attempts)
}

func (r *WebhookAttemptRepository) Update(_ context.Context, attempt *models.WebhookAttempt) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	attempts, err := r.load(attempt.ExecutionID)
	if err != nil {
		return err
	}

	index := slices.IndexFunc(attempts, func(a models.WebhookAttempt) bool { return a.ID == attempt.ID })
	if index < 0 {
		return persistence.NewNotFoundError("Update", attempt.ID, persistence.ErrAttemptNotFound)
	}

	attempt.CreatedAt = attempts[index].CreatedAt
	attempt.UpdatedAt = time.Now().UTC()
	attempts[index] = *attempt

	return r.store.write(recordPath(webhookAttemptsDir, attempt.ExecutionID), attempts)
}

func (r *WebhookAttemptRepository) ListByExecution(_ context.Context, executionID int64) ([]*models.WebhookAttempt, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	attempts, err := r.load(executionID)
	if err != nil {
		return nil, err
	}

	result := make([]*models.WebhookAttempt, 0, len(attempts))
	for i := range attempts {
		result = append(result, &attempts[i])
	}

	slices.SortStableFunc(result, func(a, b *models.WebhookAttempt) int {
		if c := cmp.Compare(b.AttemptNumber, a.AttemptNumber); c != 0 {
			return c
		}

		return cmp.Compare(b.ID, a.ID)
	})

	return result, nil
}

func (r *WebhookAttemptRepository) MaxAttemptNumber(_ context.Context, executionID int64) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	attempts, err := r.load(executionID)
	if err != nil {
		return 0, err
	}

	maxNumber := 0
	for _, attempt := range attempts {
		maxNumber = max(maxNumber, attempt.AttemptNumber)
	}

	return maxNumber, nil
}

func (r *WebhookAttemptRepository) load(executionID int64) ([]models.WebhookAttempt, error) {
	attempts := make([]models.WebhookAttempt, 0)

	if _, err := r.store.read(recordPath(webhookAttemptsDir, executionID), &attempts); err != nil {
		return nil, fmt.Errorf("failed to load webhook attempts of execution %d: %w", executionID, err)
	}

	return attempts, nil
}
