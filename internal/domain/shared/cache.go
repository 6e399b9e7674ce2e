package shared

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned by Cache.Get when the key is absent or expired
var ErrCacheMiss = errors.New("cache: miss")

// Cache is a TTL key/value cache with bulk invalidation.
// It accelerates reads and is never the system of record.
type Cache interface {
	// Get loads the value stored under key into dest
	Get(ctx context.Context, key string, dest any) error

	// Set stores value under key for ttl and attaches the optional tags
	Set(ctx context.Context, key string, value any, ttl time.Duration, tags ...string) error

	// GetOrSet loads key into dest, calling fetch on a miss and writing
	// the fetched value back before returning
	GetOrSet(ctx context.Context, key string, dest any, ttl time.Duration, fetch func(ctx context.Context) (any, error)) error

	// Delete removes a single key
	Delete(ctx context.Context, key string) error

	// DeletePattern removes every key matching a glob pattern (e.g. "rate:*")
	DeletePattern(ctx context.Context, pattern string) (int, error)

	// InvalidateTag removes every key that was stored with the tag
	InvalidateTag(ctx context.Context, tag string) (int, error)

	// Close releases resources held by the cache
	Close() error
}
