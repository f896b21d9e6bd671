// Package lock guards an execution against concurrent runs when a request is
// delivered more than once.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotAcquired is returned when another holder owns the key.
var ErrNotAcquired = errors.New("lock is held by another runner")

// Lock is a held key. Release is safe to call more than once.
type Lock interface {
	Release(ctx context.Context) error
}

// Locker obtains keyed locks that expire after ttl. Obtain never waits: it
// fails with ErrNotAcquired when the key is taken.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// Local is an in-process Locker for single-process deployments and tests.
type Local struct {
	mu    sync.Mutex
	clock func() time.Time
	held  map[string]localEntry
	seq   uint64
}

type localEntry struct {
	token     uint64
	expiresAt time.Time
}

// NewLocal creates an in-process locker.
func NewLocal(clock func() time.Time) *Local {
	if clock == nil {
		clock = time.Now
	}

	return &Local{clock: clock, held: make(map[string]localEntry)}
}

func (l *Local) Obtain(_ context.Context, key string, ttl time.Duration) (Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()

	if entry, ok := l.held[key]; ok && now.Before(entry.expiresAt) {
		return nil, ErrNotAcquired
	}

	l.seq++
	l.held[key] = localEntry{token: l.seq, expiresAt: now.Add(ttl)}

	return &localLock{owner: l, key: key, token: l.seq}, nil
}

type localLock struct {
	owner *Local
	key   string
	token uint64
}

func (l *localLock) Release(context.Context) error {
	l.owner.mu.Lock()
	defer l.owner.mu.Unlock()

	// An expired lock may already belong to someone else.
	if entry, ok := l.owner.held[l.key]; ok && entry.token == l.token {
		delete(l.owner.held, l.key)
	}

	return nil
}
