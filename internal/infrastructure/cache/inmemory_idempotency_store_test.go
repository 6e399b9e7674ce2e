package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIdempotencyStore(t *testing.T) (*InMemoryIdempotencyStore, *time.Time) {
	t.Helper()
	store := NewInMemoryIdempotencyStore(time.Hour)
	t.Cleanup(func() { _ = store.Close() })
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	store.mu.Lock()
	store.now = func() time.Time { return now }
	store.mu.Unlock()
	return store, &now
}

func TestInMemoryIdempotencyStore_MarkProcessed(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		advance time.Duration
		want    bool
	}{
		{name: "redelivery inside ttl is a duplicate", advance: 59 * time.Minute, want: false},
		{name: "redelivery after ttl is new", advance: time.Hour, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, now := newTestIdempotencyStore(t)

			isNew, err := store.MarkProcessed(ctx, "evt-1", time.Hour)
			require.NoError(t, err)
			require.True(t, isNew)

			*now = now.Add(tt.advance)
			isNew, err = store.MarkProcessed(ctx, "evt-1", time.Hour)
			require.NoError(t, err)
			assert.Equal(t, tt.want, isNew)
		})
	}
}

func TestInMemoryIdempotencyStore_Forget(t *testing.T) {
	store, _ := newTestIdempotencyStore(t)
	ctx := context.Background()

	_, err := store.MarkProcessed(ctx, "evt-1", time.Hour)
	require.NoError(t, err)
	require.NoError(t, store.Forget(ctx, "evt-1"))

	isNew, err := store.MarkProcessed(ctx, "evt-1", time.Hour)
	require.NoError(t, err)
	assert.True(t, isNew)
}

func TestInMemoryIdempotencyStore_Sweep(t *testing.T) {
	store, now := newTestIdempotencyStore(t)
	ctx := context.Background()

	_, _ = store.MarkProcessed(ctx, "short", time.Minute)
	_, _ = store.MarkProcessed(ctx, "long", time.Hour)
	require.Equal(t, 2, store.Size())

	*now = now.Add(2 * time.Minute)
	store.sweep()
	assert.Equal(t, 1, store.Size())
}

func TestInMemoryIdempotencyStore_Concurrent(t *testing.T) {
	store, _ := newTestIdempotencyStore(t)
	ctx := context.Background()

	var (
		wg    sync.WaitGroup
		fresh atomic.Int32
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := store.MarkProcessed(ctx, "evt-shared", time.Hour); ok {
				fresh.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), fresh.Load())
}

func TestInMemoryIdempotencyStore_CloseTwice(t *testing.T) {
	store := NewInMemoryIdempotencyStore(0)
	assert.NoError(t, store.Close())
	assert.NoError(t, store.Close())
}
