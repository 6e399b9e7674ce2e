package shared

import (
	"context"
	"time"
)

// IdempotencyStore remembers delivered event IDs so at-least-once delivery
// is handled once
type IdempotencyStore interface {
	// MarkProcessed records eventID for ttl. It returns false when the ID
	// was already recorded and has not expired.
	MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error)

	// Forget drops eventID so a redelivery is handled again
	Forget(ctx context.Context, eventID string) error

	// Close releases resources held by the store
	Close() error
}

// DefaultIdempotencyTTL is how long a delivered event ID is remembered
const DefaultIdempotencyTTL = 24 * time.Hour
