package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/erp/channelsync/internal/domain/shared"
	"github.com/erp/channelsync/internal/infrastructure/config"
)

// Factory creates caches based on configuration
type Factory struct {
	redisConfig           config.RedisConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
	maxEntries            int
}

// FactoryOption is a functional option for configuring the factory
type FactoryOption func(*Factory)

// WithFactoryLogger sets the logger for the factory and the caches it creates
func WithFactoryLogger(logger *zap.Logger) FactoryOption {
	return func(f *Factory) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithInMemoryFallback controls whether an unreachable Redis degrades to
// in-process state. Default is true.
func WithInMemoryFallback(allow bool) FactoryOption {
	return func(f *Factory) {
		f.allowInMemoryFallback = allow
	}
}

// WithFactoryMaxEntries bounds in-memory caches created by the factory
func WithFactoryMaxEntries(n int) FactoryOption {
	return func(f *Factory) {
		f.maxEntries = n
	}
}

// NewFactory creates a new factory
func NewFactory(cfg config.RedisConfig, opts ...FactoryOption) *Factory {
	f := &Factory{
		redisConfig:           cfg,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
		maxEntries:            defaultMaxEntries,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Connect opens a verified Redis client. It returns a nil client and no error
// when Redis is disabled, or unreachable with fallback allowed; callers then
// keep cache and lock state in process.
// WARNING: in-process state is not shared across instances, so two
// instances may sync the same product concurrently.
func (f *Factory) Connect(ctx context.Context) (*redis.Client, error) {
	if !f.redisConfig.Enabled {
		f.logger.Info("Redis disabled, using in-memory cache and locks")
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     f.redisConfig.Addr(),
		Password: f.redisConfig.Password,
		DB:       f.redisConfig.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := client.Ping(pingCtx).Err()
	if err == nil {
		f.logger.Info("Connected to Redis", zap.String("addr", f.redisConfig.Addr()))
		return client, nil
	}
	_ = client.Close()

	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("Redis required but unavailable: %w", err)
	}
	f.logger.Warn("Redis unavailable, falling back to in-memory cache and locks. "+
		"Product locks will not be shared across instances.",
		zap.String("addr", f.redisConfig.Addr()),
		zap.Error(err),
	)
	return nil, nil
}

// CreateCache returns a Redis cache over client, or an in-memory cache when
// client is nil. The caller keeps ownership of client.
func (f *Factory) CreateCache(client *redis.Client) shared.Cache {
	if client == nil {
		return NewInMemoryCache(WithLogger(f.logger), WithMaxEntries(f.maxEntries))
	}
	return NewRedisCacheWithClient(client, WithLogger(f.logger))
}

// CreateIdempotencyStore returns a Redis store over client, or an in-memory
// store when client is nil
func (f *Factory) CreateIdempotencyStore(client *redis.Client) shared.IdempotencyStore {
	if client == nil {
		return NewInMemoryIdempotencyStore(5 * time.Minute)
	}
	return NewRedisIdempotencyStore(client, "")
}
