package inventory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/erp/channelsync/internal/domain/conflict"
	"github.com/erp/channelsync/internal/domain/integration"
	"github.com/erp/channelsync/internal/domain/inventory"
	"github.com/erp/channelsync/internal/domain/shared"
)

type write struct {
	platform integration.Platform
	qty      int
}

// fakePlatforms keeps one quantity per platform and records writes
type fakePlatforms struct {
	mu      sync.Mutex
	qty     map[integration.Platform]int
	writes   []write
	readErr  error
	writeErr error
}

func newFakePlatforms(a, b int) *fakePlatforms {
	return &fakePlatforms{qty: map[integration.Platform]int{integration.PlatformA: a, integration.PlatformB: b}}
}

func (f *fakePlatforms) GetQuantity(_ context.Context, p integration.Platform, _ integration.ProductRef) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return 0, f.readErr
	}
	return f.qty[p], nil
}

func (f *fakePlatforms) SetQuantity(_ context.Context, p integration.Platform, _ integration.ProductRef, qty int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.qty[p] = qty
	f.writes = append(f.writes, write{platform: p, qty: qty})
	return nil
}

// fakeLedger is an in-memory TransactionLedger enforcing the idempotency key
type fakeLedger struct {
	mu      sync.Mutex
	entries []inventory.InventoryTransaction
}

func (l *fakeLedger) Record(_ context.Context, tx *inventory.InventoryTransaction) (*inventory.InventoryTransaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if key, ok := tx.IdempotencyKey(); ok {
		for _, e := range l.entries {
			if k, ok := e.IdempotencyKey(); ok && k == key {
				return nil, inventory.ErrDuplicateTransaction
			}
		}
	}
	l.entries = append(l.entries, *tx)
	return tx, nil
}

func (l *fakeLedger) History(_ context.Context, sku string, limit int) ([]inventory.InventoryTransaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []inventory.InventoryTransaction
	for _, e := range l.entries {
		if e.SKU == sku {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *fakeLedger) LatestSince(ctx context.Context, sku string, since time.Time) (*inventory.InventoryTransaction, error) {
	history, _ := l.History(ctx, sku, 1000)
	for _, e := range history {
		if e.CreatedAt.After(since) && e.Status == inventory.TransactionStatusApplied {
			return &e, nil
		}
	}
	return nil, inventory.ErrTransactionNotFound
}

func (l *fakeLedger) ExistsByKey(_ context.Context, key inventory.IdempotencyKey) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if k, ok := e.IdempotencyKey(); ok && k == key {
			return true, nil
		}
	}
	return false, nil
}

func (l *fakeLedger) ConfirmPending(_ context.Context, id uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.entries {
		if l.entries[i].ID == id && l.entries[i].Status == inventory.TransactionStatusPending {
			l.entries[i].Status = inventory.TransactionStatusApplied
			return nil
		}
	}
	return inventory.ErrTransactionNotFound
}

func (l *fakeLedger) DiscardPending(_ context.Context, id uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.entries {
		if l.entries[i].ID == id && l.entries[i].Status == inventory.TransactionStatusPending {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return nil
		}
	}
	return nil
}

// flakyLedger fails the first recordFailures Record calls and the first
// confirmFailures ConfirmPending calls
type flakyLedger struct {
	*fakeLedger
	recordFailures  int
	confirmFailures int
}

func (l *flakyLedger) Record(ctx context.Context, tx *inventory.InventoryTransaction) (*inventory.InventoryTransaction, error) {
	if l.recordFailures > 0 {
		l.recordFailures--
		return nil, errors.New("db: connection reset")
	}
	return l.fakeLedger.Record(ctx, tx)
}

func (l *flakyLedger) ConfirmPending(ctx context.Context, id uuid.UUID) error {
	if l.confirmFailures > 0 {
		l.confirmFailures--
		return errors.New("db: connection reset")
	}
	return l.fakeLedger.ConfirmPending(ctx, id)
}

// fakeMappings stores mappings by SKU
type fakeMappings struct {
	mu          sync.Mutex
	bySKU       map[string]*integration.ProductMapping
	saves       int
	syncUpdates int
}

func (m *fakeMappings) Save(_ context.Context, mapping *integration.ProductMapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bySKU[mapping.SKU] = mapping
	m.saves++
	return nil
}

func (m *fakeMappings) UpdateSyncState(_ context.Context, sku string, state integration.SyncState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.bySKU[sku]
	if !ok {
		return integration.ErrMappingNotFound
	}
	stored.SyncStatus = state.Status
	stored.LastSyncAt = state.LastSyncAt
	stored.Discrepancy = state.Discrepancy
	stored.LastSyncError = state.LastError
	m.syncUpdates++
	return nil
}

func (m *fakeMappings) stored(sku string) integration.ProductMapping {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.bySKU[sku]
}

func (m *fakeMappings) FindByID(_ context.Context, id uuid.UUID) (*integration.ProductMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.bySKU {
		if v.ID == id {
			return v, nil
		}
	}
	return nil, integration.ErrMappingNotFound
}

func (m *fakeMappings) FindBySKU(_ context.Context, sku string) (*integration.ProductMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.bySKU[sku]; ok {
		return v, nil
	}
	return nil, integration.ErrMappingNotFound
}

// recordingResolver applies the pure resolver and remembers its inputs
type recordingResolver struct {
	calls []conflict.InventoryConflict
}

func (r *recordingResolver) ResolveInventory(_ context.Context, c conflict.InventoryConflict, _ *uuid.UUID) conflict.InventoryResolution {
	r.calls = append(r.calls, c)
	return conflict.ResolveInventory(c)
}

// fakeLocker grants each key to one holder at a time
type fakeLocker struct {
	mu   sync.Mutex
	held map[string]string
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: map[string]string{}}
}

func (l *fakeLocker) TryAcquire(_ context.Context, key string, _ time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return "", nil
	}
	token := uuid.NewString()
	l.held[key] = token
	return token, nil
}

func (l *fakeLocker) Refresh(_ context.Context, key, token string, _ time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] != token {
		return shared.ErrLockNotHeld
	}
	return nil
}

func (l *fakeLocker) Release(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
	}
	return nil
}

// capturePublisher remembers published events
type capturePublisher struct {
	mu     sync.Mutex
	events []shared.DomainEvent
}

func (p *capturePublisher) Publish(_ context.Context, events ...shared.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}
