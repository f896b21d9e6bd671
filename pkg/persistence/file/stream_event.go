package file

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/troneras/workflow-orchestrator/pkg/models"
)

const streamEventsDir = "stream_events"

// StreamEventRepository keeps one JSON array per execution, in arrival order.
type StreamEventRepository struct {
	store *store
}

func (r *StreamEventRepository) Append(_ context.Context, executionID int64, event *models.StreamEvent) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	events, err := r.load(executionID)
	if err != nil {
		return err
	}

	id, err := r.store.nextID(streamEventsDir)
	if err != nil {
		return err
	}

	event.ID = id
	event.ExecutionID = executionID
	event.Sequence = len(events) + 1
	event.CreatedAt = time.Now().UTC()

	events = append(events, *event)

	return r.store.write(recordPath(streamEventsDir, executionID), events)
}

func (r *StreamEventRepository) ListByExecution(_ context.Context, executionID int64) ([]models.StreamEvent, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.load(executionID)
}

func (r *StreamEventRepository) ListByType(_ context.Context, executionID int64, types ...models.EventType) ([]models.StreamEvent, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	events, err := r.load(executionID)
	if err != nil {
		return nil, err
	}

	return filterTypes(events, types), nil
}

func (r *StreamEventRepository) Latest(_ context.Context, executionID int64, limit int, types ...models.EventType) ([]models.StreamEvent, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	events, err := r.load(executionID)
	if err != nil {
		return nil, err
	}

	events = filterTypes(events, types)
	slices.Reverse(events)

	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}

	return events, nil
}

func (r *StreamEventRepository) Count(_ context.Context, executionID int64) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	events, err := r.load(executionID)
	if err != nil {
		return 0, err
	}

	return len(events), nil
}

func (r *StreamEventRepository) load(executionID int64) ([]models.StreamEvent, error) {
	events := make([]models.StreamEvent, 0)

	if _, err := r.store.read(recordPath(streamEventsDir, executionID), &events); err != nil {
		return nil, fmt.Errorf("failed to load stream events of execution %d: %w", executionID, err)
	}

	return events, nil
}

func filterTypes(events []models.StreamEvent, types []models.EventType) []models.StreamEvent {
	if len(types) == 0 {
		return events
	}

	filtered := make([]models.StreamEvent, 0, len(events))

	for _, event := range events {
		if slices.Contains(types, event.Type) {
			filtered = append(filtered, event)
		}
	}

	return filtered
}
