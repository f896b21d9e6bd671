package eventbus_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/troneras/workflow-orchestrator/pkg/channels/gochannel"
	"github.com/troneras/workflow-orchestrator/pkg/eventbus"
	"github.com/troneras/workflow-orchestrator/pkg/events"
	"github.com/troneras/workflow-orchestrator/pkg/models"
)

func newTestBus(t *testing.T) eventbus.EventBus {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	pub, sub, err := gochannel.CreateTestChannel(watermill.NewSlogLogger(logger))
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub, logger)
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestWatermillEventBus_RoundTrip(t *testing.T) {
	bus := newTestBus(t)

	received := make(chan *events.ExecutionRequested, 1)

	require.NoError(t, bus.Handle(events.ExecutionRequestedEvent, func(_ context.Context, event any) error {
		requested, ok := event.(*events.ExecutionRequested)
		if !ok {
			return errors.New("unexpected event")
		}

		received <- requested

		return nil
	}))

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	execution := &models.Execution{ID: 11, ExecutionID: "corr-11", TaskID: 4}
	require.NoError(t, bus.Publish(ctx, execution.ExecutionID, events.NewExecutionRequested(execution, 2)))

	select {
	case got := <-received:
		assert.Equal(t, int64(11), got.ExecutionID)
		assert.Equal(t, "corr-11", got.CorrelationID)
		assert.Equal(t, int64(4), got.TaskID)
		assert.Equal(t, int64(2), got.ProviderID)
	case <-time.After(5 * time.Second):
		t.Fatal("execution request was not delivered")
	}
}

func TestWatermillEventBus_SkipsUnhandledTypes(t *testing.T) {
	bus := newTestBus(t)

	var calls atomic.Int32

	done := make(chan struct{}, 1)

	require.NoError(t, bus.Handle(events.ExecutionRequestedEvent, func(context.Context, any) error {
		calls.Add(1)
		done <- struct{}{}

		return nil
	}))

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	execution := &models.Execution{ID: 5, ExecutionID: "corr-5", Status: models.ExecutionStatusCompleted}
	require.NoError(t, bus.Publish(ctx, "corr-5", events.NewExecutionFinished(execution, nil)))
	require.NoError(t, bus.Publish(ctx, "corr-5", events.NewExecutionRequested(execution, 1)))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("execution request was not delivered")
	}

	assert.Equal(t, int32(1), calls.Load())
}
