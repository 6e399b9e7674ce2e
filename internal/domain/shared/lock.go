package shared

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrLockNotHeld is returned when the token no longer owns the key, because
// the lock expired or another holder took it
var ErrLockNotHeld = errors.New("shared: lock not held")

// Locker provides single-flight mutual exclusion keyed by an identifier.
// Acquisition never blocks: the caller either owns the key or gets no token.
// Every acquisition gets its own token, and only that token can refresh or
// release the lock.
type Locker interface {
	// TryAcquire atomically takes the lock for key if no unexpired lock exists.
	// It returns the owner token, or "" when another holder owns the key.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (string, error)

	// Refresh extends the lock to ttl from now, or returns ErrLockNotHeld
	Refresh(ctx context.Context, key, token string, ttl time.Duration) error

	// Release frees the lock if token still owns it. Releasing a lock that
	// was already lost is not an error.
	Release(ctx context.Context, key, token string) error
}

// ProductLockKey is the lock key guarding all sync work on one SKU
func ProductLockKey(sku string) string {
	return "lock:product:" + sku
}

// WithLock runs fn while holding key. It returns ErrLockContention without
// calling fn when another holder owns the key. The lock is refreshed every
// half TTL while fn runs; if a refresh fails, fn's context is cancelled and
// the error wraps ErrLockNotHeld. The lock is released even if ctx is
// cancelled while fn runs.
func WithLock(ctx context.Context, locker Locker, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	token, err := locker.TryAcquire(ctx, key, ttl)
	if err != nil {
		return err
	}
	if token == "" {
		return ErrLockContention
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		keepAlive(runCtx, locker, key, token, ttl, done, cancel)
	}()

	err = fn(runCtx)

	close(done)
	wg.Wait()
	lost := context.Cause(runCtx)
	cancel(nil)
	// a failed release is bounded by the TTL
	_ = locker.Release(context.WithoutCancel(ctx), key, token)

	if errors.Is(lost, ErrLockNotHeld) {
		if err != nil {
			return fmt.Errorf("%w: %w", lost, err)
		}
		return lost
	}
	return err
}

func keepAlive(ctx context.Context, locker Locker, key, token string, ttl time.Duration, done <-chan struct{}, cancel context.CancelCauseFunc) {
	ticker := time.NewTicker(max(ttl/2, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := locker.Refresh(ctx, key, token, ttl); err != nil {
				if !errors.Is(err, ErrLockNotHeld) {
					err = fmt.Errorf("%w: %w", ErrLockNotHeld, err)
				}
				cancel(fmt.Errorf("%s: %w", key, err))
				return
			}
		}
	}
}
