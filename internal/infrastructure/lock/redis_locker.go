package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/erp/channelsync/internal/domain/shared"
)

// RedisLocker implements shared.Locker with Redis SET NX locks, so two
// instances never sync the same product at once.
type RedisLocker struct {
	client *redislock.Client
	logger *zap.Logger

	mu sync.Mutex
	// handles by token; a token is unique to one acquisition
	held map[string]*redislock.Lock
}

var _ shared.Locker = (*RedisLocker)(nil)

// NewRedisLocker creates a locker over an existing client.
// The caller retains ownership of the client.
func NewRedisLocker(client redis.UniversalClient, logger *zap.Logger) *RedisLocker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLocker{
		client: redislock.New(client),
		logger: logger,
		held:   make(map[string]*redislock.Lock),
	}
}

// TryAcquire obtains key for ttl without retrying. Redis decides ownership;
// the returned token is the redislock value stored under the key.
func (l *RedisLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("lock: ttl must be positive, got %s", ttl)
	}

	lk, err := l.client.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lock: obtain %s: %w", key, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.held[lk.Token()] = lk
	return lk.Token(), nil
}

// Refresh extends the lock if Redis still stores token under key
func (l *RedisLocker) Refresh(ctx context.Context, key, token string, ttl time.Duration) error {
	lk := l.handle(key, token)
	if lk == nil {
		return shared.ErrLockNotHeld
	}

	err := lk.Refresh(ctx, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		l.forget(token)
		return shared.ErrLockNotHeld
	}
	if err != nil {
		return fmt.Errorf("lock: refresh %s: %w", key, err)
	}
	return nil
}

// Release frees key if token still owns it. Releasing a lock that already
// expired is not an error.
func (l *RedisLocker) Release(ctx context.Context, key, token string) error {
	lk := l.handle(key, token)
	if lk == nil {
		return nil
	}
	l.forget(token)

	// redislock deletes the key only while it still holds this token
	err := lk.Release(ctx)
	if errors.Is(err, redislock.ErrLockNotHeld) {
		l.logger.Warn("Lock expired before release", zap.String("key", key))
		return nil
	}
	if err != nil {
		return fmt.Errorf("lock: release %s: %w", key, err)
	}
	return nil
}

func (l *RedisLocker) handle(key, token string) *redislock.Lock {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk, ok := l.held[token]
	if !ok || lk.Key() != key {
		return nil
	}
	return lk
}

func (l *RedisLocker) forget(token string) {
	l.mu.Lock()
	delete(l.held, token)
	l.mu.Unlock()
}
