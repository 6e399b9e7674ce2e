package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/erp/channelsync/internal/domain/shared"
)

const defaultMaxEntries = 10000

// item is a JSON payload with its own deadline. A zero expiresAt never expires.
type item struct {
	data      []byte
	expiresAt time.Time
}

func (i item) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && !now.Before(i.expiresAt)
}

// InMemoryCache implements shared.Cache over a size-bounded LRU.
// It is suitable for single-instance deployments and testing.
type InMemoryCache struct {
	lru    *expirable.LRU[string, item]
	logger *zap.Logger
	group  singleflight.Group

	mu   sync.Mutex
	tags map[string]map[string]struct{}
	now  func() time.Time
}

var _ shared.Cache = (*InMemoryCache)(nil)

// NewInMemoryCache creates an in-process cache
func NewInMemoryCache(opts ...Option) *InMemoryCache {
	o := buildOptions(opts)
	return &InMemoryCache{
		// entries carry their own TTL, so the LRU itself never expires them
		lru:    expirable.NewLRU[string, item](o.maxEntries, nil, 0),
		logger: o.logger,
		tags:   make(map[string]map[string]struct{}),
		now:    time.Now,
	}
}

// Get loads key into dest
func (c *InMemoryCache) Get(_ context.Context, key string, dest any) error {
	it, ok := c.lru.Get(key)
	if !ok {
		return shared.ErrCacheMiss
	}
	if it.expired(c.now()) {
		c.lru.Remove(key)
		return shared.ErrCacheMiss
	}
	if err := json.Unmarshal(it.data, dest); err != nil {
		return fmt.Errorf("cache: decode %s: %w", key, err)
	}
	return nil
}

// Set stores value under key. A ttl <= 0 keeps the key until it is evicted or deleted.
func (c *InMemoryCache) Set(_ context.Context, key string, value any, ttl time.Duration, tags ...string) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}

	it := item{data: data}
	if ttl > 0 {
		it.expiresAt = c.now().Add(ttl)
	}
	c.lru.Add(key, it)

	if len(tags) > 0 {
		c.mu.Lock()
		for _, tag := range tags {
			keys, ok := c.tags[tag]
			if !ok {
				keys = make(map[string]struct{})
				c.tags[tag] = keys
			}
			keys[key] = struct{}{}
		}
		c.mu.Unlock()
	}
	return nil
}

// GetOrSet loads key into dest, calling fetch once per key on a miss
func (c *InMemoryCache) GetOrSet(ctx context.Context, key string, dest any, ttl time.Duration, fetch func(ctx context.Context) (any, error)) error {
	return getOrSet(ctx, c, &c.group, c.logger, key, dest, ttl, fetch)
}

// Delete removes key
func (c *InMemoryCache) Delete(_ context.Context, key string) error {
	c.lru.Remove(key)
	return nil
}

// DeletePattern removes every live key matching a glob pattern
func (c *InMemoryCache) DeletePattern(_ context.Context, pattern string) (int, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return 0, fmt.Errorf("cache: bad pattern %q: %w", pattern, err)
	}

	now := c.now()
	deleted := 0
	for _, key := range c.lru.Keys() {
		if ok, _ := path.Match(pattern, key); !ok {
			continue
		}
		it, found := c.lru.Peek(key)
		if c.lru.Remove(key) && found && !it.expired(now) {
			deleted++
		}
	}

	c.logger.Debug("Deleted cache keys by pattern", zap.String("pattern", pattern), zap.Int("count", deleted))
	return deleted, nil
}

// InvalidateTag removes every key stored with tag
func (c *InMemoryCache) InvalidateTag(_ context.Context, tag string) (int, error) {
	c.mu.Lock()
	keys := c.tags[tag]
	delete(c.tags, tag)
	c.mu.Unlock()

	now := c.now()
	deleted := 0
	for key := range keys {
		it, found := c.lru.Peek(key)
		if c.lru.Remove(key) && found && !it.expired(now) {
			deleted++
		}
	}

	c.logger.Debug("Invalidated cache tag", zap.String("tag", tag), zap.Int("count", deleted))
	return deleted, nil
}

// Len reports the number of stored entries, expired ones included
func (c *InMemoryCache) Len() int {
	return c.lru.Len()
}

// Close drops all entries
func (c *InMemoryCache) Close() error {
	c.lru.Purge()
	c.mu.Lock()
	c.tags = make(map[string]map[string]struct{})
	c.mu.Unlock()
	return nil
}
