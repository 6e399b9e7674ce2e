package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/erp/channelsync/internal/domain/shared"
)

const (
	defaultScanBatchSize = 100
	tagKeyPrefix         = "cache:tag:"
)

// RedisCache implements shared.Cache on Redis. Values are stored as JSON;
// tags are Redis sets holding the keys written with them.
type RedisCache struct {
	client     *redis.Client
	ownsClient bool // true if we created the client and should close it
	logger     *zap.Logger
	group      singleflight.Group
}

var _ shared.Cache = (*RedisCache)(nil)

// Option configures a cache implementation
type Option func(*options)

type options struct {
	logger     *zap.Logger
	maxEntries int
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMaxEntries bounds the in-memory cache size
func WithMaxEntries(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxEntries = n
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop(), maxEntries: defaultMaxEntries}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewRedisCache opens a client and verifies the connection
func NewRedisCache(ctx context.Context, redisOpts *redis.Options, opts ...Option) (*RedisCache, error) {
	client := redis.NewClient(redisOpts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	c := NewRedisCacheWithClient(client, opts...)
	c.ownsClient = true
	return c, nil
}

// NewRedisCacheWithClient creates a cache over an existing client.
// The caller retains ownership of the client and is responsible for closing it.
func NewRedisCacheWithClient(client *redis.Client, opts ...Option) *RedisCache {
	o := buildOptions(opts)
	return &RedisCache{
		client: client,
		logger: o.logger,
	}
}

func tagKey(tag string) string {
	return tagKeyPrefix + tag
}

// Get loads key into dest
func (c *RedisCache) Get(ctx context.Context, key string, dest any) error {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return shared.ErrCacheMiss
	}
	if err != nil {
		return fmt.Errorf("cache: get %s: %w", key, err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Warn("Dropping undecodable cache entry", zap.String("key", key), zap.Error(err))
		_ = c.client.Del(ctx, key)
		return shared.ErrCacheMiss
	}
	return nil
}

// Set stores value under key. A ttl <= 0 keeps the key until it is deleted.
func (c *RedisCache) Set(ctx context.Context, key string, value any, ttl time.Duration, tags ...string) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}
	if ttl < 0 {
		ttl = 0
	}

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, ttl)
		for _, tag := range tags {
			tk := tagKey(tag)
			pipe.SAdd(ctx, tk, key)
			// a tag set lives as long as the longest-lived key written with it
			if ttl == 0 {
				pipe.Persist(ctx, tk)
			} else {
				pipe.ExpireNX(ctx, tk, ttl)
				pipe.ExpireGT(ctx, tk, ttl)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache: set %s: %w", key, err)
	}
	return nil
}

// GetOrSet loads key into dest, calling fetch once per key on a miss even
// when several goroutines miss together
func (c *RedisCache) GetOrSet(ctx context.Context, key string, dest any, ttl time.Duration, fetch func(ctx context.Context) (any, error)) error {
	return getOrSet(ctx, c, &c.group, c.logger, key, dest, ttl, fetch)
}

// Delete removes key
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cache: delete %s: %w", key, err)
	}
	return nil
}

// DeletePattern scans for keys matching pattern and removes them in batches
func (c *RedisCache) DeletePattern(ctx context.Context, pattern string) (int, error) {
	var (
		cursor  uint64
		deleted int
	)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, defaultScanBatchSize).Result()
		if err != nil {
			return deleted, fmt.Errorf("cache: scan %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			n, err := c.client.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, fmt.Errorf("cache: delete %s: %w", pattern, err)
			}
			deleted += int(n)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	c.logger.Debug("Deleted cache keys by pattern", zap.String("pattern", pattern), zap.Int("count", deleted))
	return deleted, nil
}

// InvalidateTag removes every key stored with tag and the tag set itself
func (c *RedisCache) InvalidateTag(ctx context.Context, tag string) (int, error) {
	keys, err := c.client.SMembers(ctx, tagKey(tag)).Result()
	if err != nil {
		return 0, fmt.Errorf("cache: read tag %s: %w", tag, err)
	}

	deleted := 0
	if len(keys) > 0 {
		n, err := c.client.Del(ctx, keys...).Result()
		if err != nil {
			return 0, fmt.Errorf("cache: invalidate tag %s: %w", tag, err)
		}
		deleted = int(n)
	}
	if err := c.client.Del(ctx, tagKey(tag)).Err(); err != nil {
		return deleted, fmt.Errorf("cache: drop tag %s: %w", tag, err)
	}

	c.logger.Debug("Invalidated cache tag", zap.String("tag", tag), zap.Int("count", deleted))
	return deleted, nil
}

// Close closes the client when the cache created it
func (c *RedisCache) Close() error {
	if c.ownsClient {
		return c.client.Close()
	}
	return nil
}
