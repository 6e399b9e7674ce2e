// Package lock provides the per-product mutual exclusion used by sync work.
package lock

import (
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/erp/channelsync/internal/domain/shared"
)

// New returns a Redis locker over client, or an in-process locker when
// client is nil
func New(client *redis.Client, logger *zap.Logger) shared.Locker {
	if client == nil {
		return NewInMemoryLocker()
	}
	return NewRedisLocker(client, logger)
}
