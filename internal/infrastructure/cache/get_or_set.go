package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/erp/channelsync/internal/domain/shared"
)

// getOrSet implements Cache.GetOrSet on top of Get and Set. Concurrent misses
// on one key share a single fetch; each caller decodes the shared payload.
func getOrSet(
	ctx context.Context,
	c shared.Cache,
	group *singleflight.Group,
	logger *zap.Logger,
	key string,
	dest any,
	ttl time.Duration,
	fetch func(ctx context.Context) (any, error),
) error {
	err := c.Get(ctx, key, dest)
	if err == nil {
		return nil
	}
	if !errors.Is(err, shared.ErrCacheMiss) {
		return err
	}

	v, err, _ := group.Do(key, func() (any, error) {
		value, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("cache: encode %s: %w", key, err)
		}
		// the fetched value is returned even when the write-back fails
		if err := c.Set(ctx, key, json.RawMessage(data), ttl); err != nil {
			logger.Warn("Cache write-back failed", zap.String("key", key), zap.Error(err))
		}
		return data, nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(v.([]byte), dest)
}
