package lock_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/troneras/workflow-orchestrator/pkg/lock"
)

func TestLocal_ObtainAndRelease(t *testing.T) {
	locker := lock.NewLocal(nil)
	ctx := t.Context()

	held, err := locker.Obtain(ctx, "execution:1", time.Minute)
	require.NoError(t, err)

	_, err = locker.Obtain(ctx, "execution:1", time.Minute)
	require.ErrorIs(t, err, lock.ErrNotAcquired)

	other, err := locker.Obtain(ctx, "execution:2", time.Minute)
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, held.Release(ctx))
	require.NoError(t, held.Release(ctx))

	again, err := locker.Obtain(ctx, "execution:1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestLocal_ExpiredLockCanBeTaken(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	locker := lock.NewLocal(func() time.Time { return now })
	ctx := t.Context()

	stale, err := locker.Obtain(ctx, "execution:1", time.Minute)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)

	fresh, err := locker.Obtain(ctx, "execution:1", time.Minute)
	require.NoError(t, err)

	// Releasing the stale lock must not free the new holder's key.
	require.NoError(t, stale.Release(ctx))

	_, err = locker.Obtain(ctx, "execution:1", time.Minute)
	require.ErrorIs(t, err, lock.ErrNotAcquired)

	require.NoError(t, fresh.Release(ctx))
}

func TestRedis_ObtainAndRelease(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	locker, err := lock.NewRedis(ctx, fmt.Sprintf("redis://%s/0", endpoint), "orchestrator-test")
	require.NoError(t, err)

	t.Cleanup(func() { _ = locker.Close() })

	held, err := locker.Obtain(ctx, "execution:1", time.Minute)
	require.NoError(t, err)

	_, err = locker.Obtain(ctx, "execution:1", time.Minute)
	require.ErrorIs(t, err, lock.ErrNotAcquired)

	require.NoError(t, held.Release(ctx))

	again, err := locker.Obtain(ctx, "execution:1", time.Minute)
	require.NoError(t, err)
	assert.NoError(t, again.Release(ctx))
}

func TestNewRedis_RejectsEmptyURL(t *testing.T) {
	_, err := lock.NewRedis(t.Context(), " ", "")
	require.Error(t, err)
}
