package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/erp/channelsync/internal/domain/shared"
)

type lease struct {
	token     string
	expiresAt time.Time
}

// InMemoryLocker implements shared.Locker for a single process.
// WARNING: locks are not shared across instances.
type InMemoryLocker struct {
	mu    sync.Mutex
	locks map[string]lease
	now   func() time.Time
}

var _ shared.Locker = (*InMemoryLocker)(nil)

// NewInMemoryLocker creates an in-process locker
func NewInMemoryLocker() *InMemoryLocker {
	return &InMemoryLocker{
		locks: make(map[string]lease),
		now:   time.Now,
	}
}

// TryAcquire takes key unless an unexpired lock exists
func (l *InMemoryLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("lock: ttl must be positive, got %s", ttl)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if held, ok := l.locks[key]; ok && now.Before(held.expiresAt) {
		return "", nil
	}
	token := uuid.NewString()
	l.locks[key] = lease{token: token, expiresAt: now.Add(ttl)}
	return token, nil
}

// Refresh extends an unexpired lock owned by token
func (l *InMemoryLocker) Refresh(_ context.Context, key, token string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	held, ok := l.locks[key]
	if !ok || held.token != token || !now.Before(held.expiresAt) {
		return shared.ErrLockNotHeld
	}
	held.expiresAt = now.Add(ttl)
	l.locks[key] = held
	return nil
}

// Release frees key if token still owns it
func (l *InMemoryLocker) Release(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if held, ok := l.locks[key]; ok && held.token == token {
		delete(l.locks, key)
	}
	return nil
}
