package shared

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapLocker struct {
	mu         sync.Mutex
	held       map[string]string
	next       int
	released   []string
	refreshes  int
	refreshErr error
}

func newMapLocker() *mapLocker {
	return &mapLocker{held: map[string]string{}}
}

func (l *mapLocker) TryAcquire(_ context.Context, key string, _ time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return "", nil
	}
	l.next++
	token := strconv.Itoa(l.next)
	l.held[key] = token
	return token, nil
}

func (l *mapLocker) Refresh(_ context.Context, key, token string, _ time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refreshes++
	if l.refreshErr != nil {
		return l.refreshErr
	}
	if l.held[key] != token {
		return ErrLockNotHeld
	}
	return nil
}

func (l *mapLocker) Release(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
	}
	l.released = append(l.released, key)
	return nil
}

func (l *mapLocker) refreshCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refreshes
}

func TestWithLock(t *testing.T) {
	locker := newMapLocker()
	key := ProductLockKey("X-1")

	t.Run("Runs and releases", func(t *testing.T) {
		called := false
		err := WithLock(context.Background(), locker, key, time.Second, func(ctx context.Context) error {
			called = true
			return nil
		})
		require.NoError(t, err)
		assert.True(t, called)
		assert.Equal(t, []string{key}, locker.released)
	})

	t.Run("Releases on error", func(t *testing.T) {
		boom := errors.New("boom")
		err := WithLock(context.Background(), locker, key, time.Second, func(ctx context.Context) error {
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.NotContains(t, locker.held, key)
	})

	t.Run("Contention skips fn", func(t *testing.T) {
		locker.held[key] = "someone-else"
		defer delete(locker.held, key)

		err := WithLock(context.Background(), locker, key, time.Second, func(ctx context.Context) error {
			t.Fatal("must not run")
			return nil
		})
		assert.ErrorIs(t, err, ErrLockContention)
	})
}

func TestWithLock_RefreshesWhileRunning(t *testing.T) {
	locker := newMapLocker()
	key := ProductLockKey("X-2")

	err := WithLock(context.Background(), locker, key, 20*time.Millisecond, func(ctx context.Context) error {
		time.Sleep(70 * time.Millisecond)
		return ctx.Err()
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, locker.refreshCount(), 2)
	assert.NotContains(t, locker.held, key)
}

func TestWithLock_LostLockCancelsWork(t *testing.T) {
	tests := []struct {
		name       string
		refreshErr error
	}{
		{"taken over", ErrLockNotHeld},
		{"store unreachable", errors.New("connection refused")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			locker := newMapLocker()
			locker.refreshErr = tt.refreshErr
			key := ProductLockKey("X-3")

			err := WithLock(context.Background(), locker, key, 10*time.Millisecond, func(ctx context.Context) error {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(time.Second):
					return errors.New("work was not cancelled")
				}
			})
			assert.ErrorIs(t, err, ErrLockNotHeld)
			assert.ErrorIs(t, err, context.Canceled)
		})
	}
}

func TestWithLock_StaleTokenCannotRelease(t *testing.T) {
	locker := newMapLocker()
	key := ProductLockKey("X-4")

	stale, err := locker.TryAcquire(context.Background(), key, time.Second)
	require.NoError(t, err)
	// the lock expired and another worker took it
	locker.held[key] = "current"

	require.NoError(t, locker.Release(context.Background(), key, stale))
	assert.Equal(t, "current", locker.held[key])
}
