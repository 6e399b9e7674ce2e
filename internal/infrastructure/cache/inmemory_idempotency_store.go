package cache

import (
	"context"
	"sync"
	"time"

	"github.com/erp/channelsync/internal/domain/shared"
)

// InMemoryIdempotencyStore implements shared.IdempotencyStore for a single
// process. Expired IDs are swept by a background goroutine until Close.
type InMemoryIdempotencyStore struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	now     func() time.Time
	stop    chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

var _ shared.IdempotencyStore = (*InMemoryIdempotencyStore)(nil)

// NewInMemoryIdempotencyStore creates a store sweeping every interval
func NewInMemoryIdempotencyStore(sweepInterval time.Duration) *InMemoryIdempotencyStore {
	if sweepInterval <= 0 {
		sweepInterval = 5 * time.Minute
	}
	s := &InMemoryIdempotencyStore{
		seen: make(map[string]time.Time),
		now:  time.Now,
		stop: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.sweepLoop(sweepInterval)
	return s
}

// MarkProcessed records eventID unless an unexpired record exists
func (s *InMemoryIdempotencyStore) MarkProcessed(_ context.Context, eventID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if expiresAt, ok := s.seen[eventID]; ok && now.Before(expiresAt) {
		return false, nil
	}
	s.seen[eventID] = now.Add(ttl)
	return true, nil
}

// Forget drops eventID
func (s *InMemoryIdempotencyStore) Forget(_ context.Context, eventID string) error {
	s.mu.Lock()
	delete(s.seen, eventID)
	s.mu.Unlock()
	return nil
}

// Size returns the number of remembered IDs, expired ones included
func (s *InMemoryIdempotencyStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// Close stops the sweeper. Safe to call more than once.
func (s *InMemoryIdempotencyStore) Close() error {
	s.stopped.Do(func() {
		close(s.stop)
		s.wg.Wait()
	})
	return nil
}

func (s *InMemoryIdempotencyStore) sweepLoop(interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *InMemoryIdempotencyStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, expiresAt := range s.seen {
		if !now.Before(expiresAt) {
			delete(s.seen, id)
		}
	}
}
