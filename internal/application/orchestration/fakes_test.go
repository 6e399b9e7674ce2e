package orchestration

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	inventoryapp "github.com/erp/channelsync/internal/application/inventory"
	pricingapp "github.com/erp/channelsync/internal/application/pricing"
	"github.com/erp/channelsync/internal/domain/conflict"
	"github.com/erp/channelsync/internal/domain/integration"
	"github.com/erp/channelsync/internal/domain/inventory"
	"github.com/erp/channelsync/internal/domain/shared"
	"github.com/erp/channelsync/internal/domain/syncjob"
)

// memoryJobs is a SyncJobRepository over a map, with the progress guard of the real store
type memoryJobs struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]syncjob.SyncJob
	// processed counts in write order, per job
	written map[uuid.UUID][]int
}

func newMemoryJobs() *memoryJobs {
	return &memoryJobs{
		jobs:    make(map[uuid.UUID]syncjob.SyncJob),
		written: make(map[uuid.UUID][]int),
	}
}

func (r *memoryJobs) Save(_ context.Context, job *syncjob.SyncJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if stored, ok := r.jobs[job.ID]; ok && stored.ProcessedItems > job.ProcessedItems {
		return syncjob.ErrProgressRegression
	}
	r.jobs[job.ID] = *cloneJob(job)
	r.written[job.ID] = append(r.written[job.ID], job.ProcessedItems)
	return nil
}

func (r *memoryJobs) FindByID(_ context.Context, id uuid.UUID) (*syncjob.SyncJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, syncjob.ErrJobNotFound
	}
	return cloneJob(&job), nil
}

func (r *memoryJobs) FindRecent(_ context.Context, limit int) ([]syncjob.SyncJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]syncjob.SyncJob, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryJobs) FindByStatus(_ context.Context, status syncjob.Status, limit int) ([]syncjob.SyncJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []syncjob.SyncJob
	for _, j := range r.jobs {
		if j.Status == status {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryJobs) UpdateProgress(_ context.Context, job *syncjob.SyncJob) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.jobs[job.ID]
	if !ok {
		return false, syncjob.ErrJobNotFound
	}
	if stored.ProcessedItems > job.ProcessedItems {
		return false, nil
	}
	stored.ProcessedItems = job.ProcessedItems
	stored.SuccessItems = job.SuccessItems
	stored.FailedItems = job.FailedItems
	stored.SkippedItems = job.SkippedItems
	stored.Discrepancies = job.Discrepancies
	stored.ProcessedSKUs = job.ProcessedSKUs
	stored.Errors = job.Errors
	r.jobs[job.ID] = stored
	r.written[job.ID] = append(r.written[job.ID], job.ProcessedItems)
	return true, nil
}

func (r *memoryJobs) history(id uuid.UUID) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.written[id]...)
}

func (r *memoryJobs) get(id uuid.UUID) syncjob.SyncJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs[id]
}

// memoryMappings serves mappings by SKU and keeps the sync state written back
type memoryMappings struct {
	mu       sync.Mutex
	mappings []integration.ProductMapping
}

func newMemoryMappings(skus ...string) *memoryMappings {
	m := &memoryMappings{}
	for _, sku := range skus {
		m.mappings = append(m.mappings, integration.ProductMapping{
			ID:        uuid.New(),
			SKU:       sku,
			PlatformA: integration.ProductRef{ProductID: "a-" + sku},
			PlatformB: integration.ProductRef{ProductID: "b-" + sku},
			Direction: integration.SyncDirectionBidirectional,
			IsActive:  true,
		})
	}
	return m
}

func (m *memoryMappings) FindByID(_ context.Context, id uuid.UUID) (*integration.ProductMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.mappings {
		if m.mappings[i].ID == id {
			c := m.mappings[i]
			return &c, nil
		}
	}
	return nil, integration.ErrMappingNotFound
}

func (m *memoryMappings) FindBySKU(_ context.Context, sku string) (*integration.ProductMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.mappings {
		if m.mappings[i].SKU == sku {
			c := m.mappings[i]
			return &c, nil
		}
	}
	return nil, integration.ErrMappingNotFound
}

func (m *memoryMappings) FindActive(_ context.Context) ([]integration.ProductMapping, error) {
	return m.filter(func(mp integration.ProductMapping) bool { return mp.IsActive }), nil
}

func (m *memoryMappings) FindActiveBySKUs(_ context.Context, skus []string) ([]integration.ProductMapping, error) {
	want := make(map[string]bool, len(skus))
	for _, s := range skus {
		want[s] = true
	}
	return m.filter(func(mp integration.ProductMapping) bool { return mp.IsActive && want[mp.SKU] }), nil
}

func (m *memoryMappings) FindWithDiscrepancy(_ context.Context, minDiscrepancy int) ([]integration.ProductMapping, error) {
	return m.filter(func(mp integration.ProductMapping) bool { return mp.Discrepancy >= minDiscrepancy }), nil
}

func (m *memoryMappings) Save(_ context.Context, mapping *integration.ProductMapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.mappings {
		if m.mappings[i].SKU == mapping.SKU {
			m.mappings[i] = *mapping
			return nil
		}
	}
	m.mappings = append(m.mappings, *mapping)
	return nil
}

func (m *memoryMappings) UpdateSyncState(_ context.Context, sku string, state integration.SyncState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.mappings {
		if m.mappings[i].SKU == sku {
			m.mappings[i].SyncStatus = state.Status
			m.mappings[i].LastSyncAt = state.LastSyncAt
			m.mappings[i].Discrepancy = state.Discrepancy
			m.mappings[i].LastSyncError = state.LastError
			return nil
		}
	}
	return integration.ErrMappingNotFound
}

func (m *memoryMappings) filter(keep func(integration.ProductMapping) bool) []integration.ProductMapping {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []integration.ProductMapping
	for _, mp := range m.mappings {
		if keep(mp) {
			out = append(out, mp)
		}
	}
	return out
}

// funcReconciler delegates to fn, defaulting to an in-sync result
type funcReconciler struct {
	fn func(ctx context.Context, m *integration.ProductMapping) (*inventoryapp.ReconcileResult, error)
}

func (r *funcReconciler) Reconcile(ctx context.Context, m *integration.ProductMapping, _ *uuid.UUID) (*inventoryapp.ReconcileResult, error) {
	if r.fn == nil {
		return &inventoryapp.ReconcileResult{SKU: m.SKU}, nil
	}
	return r.fn(ctx, m)
}

type funcPricer struct {
	fn func(ctx context.Context, m *integration.ProductMapping) (*pricingapp.SyncResult, error)
}

func (p *funcPricer) SyncPrice(ctx context.Context, m *integration.ProductMapping, _ *uuid.UUID) (*pricingapp.SyncResult, error) {
	if p.fn == nil {
		return &pricingapp.SyncResult{}, nil
	}
	return p.fn(ctx, m)
}

// capturePublisher records event types in order
type capturePublisher struct {
	mu    sync.Mutex
	types []string
}

func (p *capturePublisher) Publish(_ context.Context, events ...shared.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range events {
		p.types = append(p.types, e.EventType())
	}
	return nil
}

func (p *capturePublisher) eventTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.types...)
}

type quantityWrite struct {
	platform integration.Platform
	ref      integration.ProductRef
	qty      int
}

// memoryPlatforms holds one stock level per platform
type memoryPlatforms struct {
	mu     sync.Mutex
	qty    map[integration.Platform]int
	writes []quantityWrite
}

func newMemoryPlatforms(a, b int) *memoryPlatforms {
	return &memoryPlatforms{qty: map[integration.Platform]int{integration.PlatformA: a, integration.PlatformB: b}}
}

func (p *memoryPlatforms) GetQuantity(_ context.Context, platform integration.Platform, _ integration.ProductRef) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.qty[platform], nil
}

func (p *memoryPlatforms) SetQuantity(_ context.Context, platform integration.Platform, ref integration.ProductRef, qty int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.qty[platform] = qty
	p.writes = append(p.writes, quantityWrite{platform: platform, ref: ref, qty: qty})
	return nil
}

func (p *memoryPlatforms) recorded() []quantityWrite {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]quantityWrite(nil), p.writes...)
}

// memoryLedger is an append-only TransactionLedger
type memoryLedger struct {
	mu      sync.Mutex
	entries []inventory.InventoryTransaction
}

func (l *memoryLedger) Record(_ context.Context, tx *inventory.InventoryTransaction) (*inventory.InventoryTransaction, error) {
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

func (l *memoryLedger) History(_ context.Context, sku string, limit int) ([]inventory.InventoryTransaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []inventory.InventoryTransaction
	for i := len(l.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if l.entries[i].SKU == sku {
			out = append(out, l.entries[i])
		}
	}
	return out, nil
}

func (l *memoryLedger) LatestSince(_ context.Context, sku string, since time.Time) (*inventory.InventoryTransaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		if e.SKU == sku && e.Status == inventory.TransactionStatusApplied && e.CreatedAt.After(since) {
			return &e, nil
		}
	}
	return nil, inventory.ErrTransactionNotFound
}

func (l *memoryLedger) ExistsByKey(_ context.Context, key inventory.IdempotencyKey) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if k, ok := e.IdempotencyKey(); ok && k == key {
			return true, nil
		}
	}
	return false, nil
}

func (l *memoryLedger) ConfirmPending(context.Context, uuid.UUID) error {
	return inventory.ErrTransactionNotFound
}

func (l *memoryLedger) DiscardPending(context.Context, uuid.UUID) error { return nil }

func (l *memoryLedger) all() []inventory.InventoryTransaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]inventory.InventoryTransaction(nil), l.entries...)
}

// pureResolver applies the domain resolver without an audit trail
type pureResolver struct{}

func (pureResolver) ResolveInventory(_ context.Context, c conflict.InventoryConflict, _ *uuid.UUID) conflict.InventoryResolution {
	return conflict.ResolveInventory(c)
}
