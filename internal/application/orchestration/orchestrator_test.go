package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	inventoryapp "github.com/erp/channelsync/internal/application/inventory"
	pricingapp "github.com/erp/channelsync/internal/application/pricing"
	"github.com/erp/channelsync/internal/domain/integration"
	"github.com/erp/channelsync/internal/domain/inventory"
	"github.com/erp/channelsync/internal/domain/shared"
	"github.com/erp/channelsync/internal/domain/syncjob"
	"github.com/erp/channelsync/internal/infrastructure/lock"
)

type harness struct {
	orch       *Orchestrator
	jobs       *memoryJobs
	mappings   *memoryMappings
	reconciler *funcReconciler
	pricer     *funcPricer
	events     *capturePublisher
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	cfg.WaitTimeout = 5 * time.Second
	cfg.MaxRetries = 0
	return cfg
}

func newHarness(t *testing.T, cfg Config, skus ...string) *harness {
	t.Helper()
	h := &harness{
		jobs:       newMemoryJobs(),
		mappings:   newMemoryMappings(skus...),
		reconciler: &funcReconciler{},
		pricer:     &funcPricer{},
		events:     &capturePublisher{},
	}
	orch, err := NewOrchestrator(cfg, h.jobs, h.mappings, h.reconciler, h.pricer, WithEventPublisher(h.events))
	require.NoError(t, err)
	h.orch = orch
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.orch.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.orch.Stop(ctx)
	})
}

func (h *harness) submitAndWait(t *testing.T, opts syncjob.SubmitOptions) *JobStatus {
	t.Helper()
	id, err := h.orch.Submit(context.Background(), opts)
	require.NoError(t, err)
	status, err := h.orch.Wait(context.Background(), id)
	require.NoError(t, err)
	return status
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"zero workers", func(c *Config) { c.Workers = 0 }, true},
		{"zero queue", func(c *Config) { c.QueueSize = 0 }, true},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }, true},
		{"zero wait timeout", func(c *Config) { c.WaitTimeout = 0 }, true},
		{"retry cap below base", func(c *Config) { c.Retry.Cap = time.Second }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOrchestrator_Submit(t *testing.T) {
	t.Run("rejects when not running", func(t *testing.T) {
		h := newHarness(t, testConfig())
		_, err := h.orch.Submit(context.Background(), syncjob.SubmitOptions{Type: syncjob.JobTypeFull})
		assert.ErrorIs(t, err, ErrNotRunning)
	})

	t.Run("rejects unknown type", func(t *testing.T) {
		h := newHarness(t, testConfig())
		h.start(t)
		_, err := h.orch.Submit(context.Background(), syncjob.SubmitOptions{Type: "EVERYTHING"})
		assert.ErrorIs(t, err, shared.ErrInvalidInput)
	})

	t.Run("rejects oversized batch", func(t *testing.T) {
		cfg := testConfig()
		cfg.MaxBatchSize = 2
		h := newHarness(t, cfg)
		h.start(t)
		_, err := h.orch.Submit(context.Background(), syncjob.SubmitOptions{
			Type: syncjob.JobTypeInventory,
			SKUs: []string{"A", "B", "C"},
		})
		assert.ErrorIs(t, err, ErrBatchTooLarge)
	})

	t.Run("duplicate SKUs count once", func(t *testing.T) {
		cfg := testConfig()
		cfg.MaxBatchSize = 2
		h := newHarness(t, cfg, "A", "B")
		h.start(t)
		status := h.submitAndWait(t, syncjob.SubmitOptions{
			Type: syncjob.JobTypeInventory,
			SKUs: []string{"A", "B", "A"},
		})
		assert.Equal(t, syncjob.StatusCompleted, status.Status)
		assert.Equal(t, 2, status.Summary.Total)
	})
}

func TestOrchestrator_CompletesJob(t *testing.T) {
	h := newHarness(t, testConfig(), "SKU-1", "SKU-2", "SKU-3")
	h.reconciler.fn = func(_ context.Context, m *integration.ProductMapping) (*inventoryapp.ReconcileResult, error) {
		if m.SKU == "SKU-2" {
			return &inventoryapp.ReconcileResult{SKU: m.SKU, QuantityA: 20, QuantityB: 8, Quantity: 20, Discrepancy: 12}, nil
		}
		return &inventoryapp.ReconcileResult{SKU: m.SKU}, nil
	}
	var priced atomic.Int32
	h.pricer.fn = func(context.Context, *integration.ProductMapping) (*pricingapp.SyncResult, error) {
		priced.Add(1)
		return &pricingapp.SyncResult{Applied: true}, nil
	}
	h.start(t)

	status := h.submitAndWait(t, syncjob.SubmitOptions{Type: syncjob.JobTypeFull})

	assert.Equal(t, syncjob.StatusCompleted, status.Status)
	assert.Equal(t, 100, status.Progress)
	assert.Equal(t, syncjob.Summary{Total: 3, Synced: 3, Discrepancies: 1}, status.Summary)
	assert.Equal(t, int32(3), priced.Load())

	events := h.events.eventTypes()
	require.NotEmpty(t, events)
	assert.Equal(t, syncjob.EventTypeSyncStarted, events[0])
	assert.Equal(t, syncjob.EventTypeSyncCompleted, events[len(events)-1])
	assert.Contains(t, events, syncjob.EventTypeSyncProgress)

	history := h.orch.History(10)
	require.Len(t, history, 1)
	assert.Equal(t, status.ID, history[0].ID)
}

func TestOrchestrator_ReconcilesThroughInventoryService(t *testing.T) {
	mappings := newMemoryMappings("SKU-1")
	platforms := newMemoryPlatforms(20, 8)
	ledger := &memoryLedger{}
	reconciler := inventoryapp.NewReconciliationService(platforms, mappings, ledger, pureResolver{},
		lock.NewInMemoryLocker(), nil, inventoryapp.DefaultReconcileConfig(), zap.NewNop())

	orch, err := NewOrchestrator(testConfig(), newMemoryJobs(), mappings, reconciler, &funcPricer{}, WithLogger(zap.NewNop()))
	require.NoError(t, err)
	require.NoError(t, orch.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = orch.Stop(ctx)
	})

	id, err := orch.Submit(context.Background(), syncjob.SubmitOptions{Type: syncjob.JobTypeInventory})
	require.NoError(t, err)
	status, err := orch.Wait(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, syncjob.StatusCompleted, status.Status)
	assert.Equal(t, 1, status.Summary.Synced)
	assert.Equal(t, syncjob.Summary{Total: 1, Synced: 1, Discrepancies: 1}, status.Summary)

	writes := platforms.recorded()
	require.Len(t, writes, 1)
	assert.Equal(t, integration.PlatformB, writes[0].platform)
	assert.Equal(t, "b-SKU-1", writes[0].ref.ProductID)
	assert.Equal(t, 20, writes[0].qty)

	entries := ledger.all()
	require.Len(t, entries, 1)
	assert.Equal(t, inventory.TransactionTypeSync, entries[0].Type)
	assert.Equal(t, integration.PlatformB, entries[0].Platform)
	assert.Equal(t, 20, entries[0].NewQuantity)
	require.NotNil(t, entries[0].JobID)
	assert.Equal(t, id, *entries[0].JobID)

	stored, err := mappings.FindBySKU(context.Background(), "SKU-1")
	require.NoError(t, err)
	assert.Equal(t, integration.SyncStatusSynced, stored.SyncStatus)
	assert.Equal(t, 12, stored.Discrepancy)
}

func TestOrchestrator_ItemOutcomes(t *testing.T) {
	h := newHarness(t, testConfig(), "OK", "LOCKED", "BROKEN")
	h.reconciler.fn = func(_ context.Context, m *integration.ProductMapping) (*inventoryapp.ReconcileResult, error) {
		switch m.SKU {
		case "LOCKED":
			return nil, shared.ErrLockContention
		case "BROKEN":
			return nil, integration.NewTransientError("get quantity", errors.New("platform B unavailable"))
		}
		return &inventoryapp.ReconcileResult{SKU: m.SKU}, nil
	}
	h.start(t)

	status := h.submitAndWait(t, syncjob.SubmitOptions{Type: syncjob.JobTypeInventory})

	assert.Equal(t, syncjob.StatusCompleted, status.Status)
	assert.Equal(t, syncjob.Summary{Total: 3, Synced: 1, Failed: 1, Skipped: 1}, status.Summary)
	require.Len(t, status.Errors, 1)
	assert.Equal(t, "BROKEN", status.Errors[0].SKU)
}

func TestOrchestrator_RateUnavailableFailsJob(t *testing.T) {
	h := newHarness(t, testConfig(), "SKU-1", "SKU-2")
	h.pricer.fn = func(context.Context, *integration.ProductMapping) (*pricingapp.SyncResult, error) {
		return nil, fmt.Errorf("%w: no provider answered", pricingapp.ErrRateUnavailable)
	}
	h.start(t)

	status := h.submitAndWait(t, syncjob.SubmitOptions{Type: syncjob.JobTypePrice})

	assert.Equal(t, syncjob.StatusFailed, status.Status)
	assert.Contains(t, status.LastError, "exchange rate unavailable")
	assert.Contains(t, h.events.eventTypes(), syncjob.EventTypeSyncFailed)
}

func TestOrchestrator_AbortedBatchDispatchesNothingMore(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 1
	h := newHarness(t, cfg, "SKU-1", "SKU-2", "SKU-3")

	var calls atomic.Int32
	h.pricer.fn = func(context.Context, *integration.ProductMapping) (*pricingapp.SyncResult, error) {
		calls.Add(1)
		return nil, pricingapp.ErrRateUnavailable
	}
	h.start(t)

	status := h.submitAndWait(t, syncjob.SubmitOptions{Type: syncjob.JobTypePrice})

	assert.Equal(t, syncjob.StatusFailed, status.Status)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, syncjob.Summary{Total: 3}, status.Summary)
	assert.Empty(t, status.Errors)
}

func TestOrchestrator_FailedJobIsRetried(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 1
	cfg.Retry = syncjob.RetryPolicy{Base: 20 * time.Millisecond, Multiplier: 2, Cap: time.Second}
	h := newHarness(t, cfg, "SKU-1")

	var calls atomic.Int32
	h.pricer.fn = func(context.Context, *integration.ProductMapping) (*pricingapp.SyncResult, error) {
		if calls.Add(1) == 1 {
			return nil, pricingapp.ErrRateUnavailable
		}
		return &pricingapp.SyncResult{}, nil
	}
	h.start(t)

	status := h.submitAndWait(t, syncjob.SubmitOptions{Type: syncjob.JobTypePrice})

	assert.Equal(t, syncjob.StatusCompleted, status.Status)
	assert.Equal(t, 1, status.RetryCount)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOrchestrator_RetryResumesWithoutLosingProgress(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 1
	cfg.MaxRetries = 1
	cfg.Retry = syncjob.RetryPolicy{Base: 20 * time.Millisecond, Multiplier: 2, Cap: time.Second}
	h := newHarness(t, cfg, "SKU-1", "SKU-2", "SKU-3")

	var calls atomic.Int32
	var mu sync.Mutex
	var priced []string
	h.pricer.fn = func(_ context.Context, m *integration.ProductMapping) (*pricingapp.SyncResult, error) {
		if calls.Add(1) == 2 {
			return nil, pricingapp.ErrRateUnavailable
		}
		mu.Lock()
		priced = append(priced, m.SKU)
		mu.Unlock()
		return &pricingapp.SyncResult{Applied: true}, nil
	}
	h.start(t)

	status := h.submitAndWait(t, syncjob.SubmitOptions{Type: syncjob.JobTypePrice})

	assert.Equal(t, syncjob.StatusCompleted, status.Status)
	assert.Equal(t, 1, status.RetryCount)
	assert.Equal(t, syncjob.Summary{Total: 3, Synced: 3}, status.Summary)
	assert.Equal(t, []string{"SKU-1", "SKU-2", "SKU-3"}, priced)
	assert.Equal(t, int32(4), calls.Load())

	written := h.jobs.history(status.ID)
	require.NotEmpty(t, written)
	assert.IsNonDecreasing(t, written)
	assert.Equal(t, 3, written[len(written)-1])
	assert.Equal(t, 3, h.jobs.get(status.ID).ProcessedItems)
}

func TestOrchestrator_ZeroProductJobCompletes(t *testing.T) {
	h := newHarness(t, testConfig())
	h.start(t)

	status := h.submitAndWait(t, syncjob.SubmitOptions{Type: syncjob.JobTypeFull})

	assert.Equal(t, syncjob.StatusCompleted, status.Status)
	assert.Equal(t, 100, status.Progress)
	assert.Equal(t, 0, status.Summary.Total)
}

func TestOrchestrator_CancelProcessingDiscardsResults(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 1
	h := newHarness(t, cfg, "SKU-1", "SKU-2", "SKU-3")

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	h.reconciler.fn = func(_ context.Context, m *integration.ProductMapping) (*inventoryapp.ReconcileResult, error) {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
		}
		return &inventoryapp.ReconcileResult{SKU: m.SKU}, nil
	}
	h.start(t)

	id, err := h.orch.Submit(context.Background(), syncjob.SubmitOptions{Type: syncjob.JobTypeInventory})
	require.NoError(t, err)
	<-entered

	require.NoError(t, h.orch.Cancel(context.Background(), id))
	close(release)

	status, err := h.orch.Wait(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, syncjob.StatusCancelled, status.Status)
	assert.Equal(t, 0, h.jobs.get(id).ProcessedItems)
	assert.Equal(t, int32(1), calls.Load())
}

func TestOrchestrator_CancelQueuedJob(t *testing.T) {
	h := newHarness(t, testConfig(), "SKU-1")
	h.orch.running = true

	job, err := syncjob.NewSyncJob(syncjob.JobTypeFull, syncjob.PriorityLow, nil, 0, "test")
	require.NoError(t, err)
	require.NoError(t, h.jobs.Save(context.Background(), job))
	h.orch.enqueue(newJobState(job))

	require.NoError(t, h.orch.Cancel(context.Background(), job.ID))

	assert.Equal(t, 0, h.orch.QueueDepth())
	assert.Equal(t, syncjob.StatusCancelled, h.jobs.get(job.ID).Status)

	status, err := h.orch.Wait(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, syncjob.StatusCancelled, status.Status)

	assert.ErrorIs(t, h.orch.Cancel(context.Background(), job.ID), syncjob.ErrInvalidTransition)
}

func TestOrchestrator_DequeueOrder(t *testing.T) {
	h := newHarness(t, testConfig())

	mk := func(p syncjob.Priority, created time.Time) *syncjob.SyncJob {
		job, err := syncjob.NewSyncJob(syncjob.JobTypeInventory, p, nil, 0, "test")
		require.NoError(t, err)
		job.CreatedAt = created
		return job
	}
	base := time.Now()
	low := mk(syncjob.PriorityLow, base)
	normalOld := mk(syncjob.PriorityNormal, base.Add(time.Second))
	normalNew := mk(syncjob.PriorityNormal, base.Add(2*time.Second))
	urgent := mk(syncjob.PriorityUrgent, base.Add(3*time.Second))
	notDue := mk(syncjob.PriorityUrgent, base)
	later := base.Add(time.Hour)
	notDue.NextRetryAt = &later

	for _, j := range []*syncjob.SyncJob{low, normalNew, notDue, urgent, normalOld} {
		h.orch.enqueue(newJobState(j))
	}

	var order []*syncjob.SyncJob
	for s := h.orch.dequeue(base); s != nil; s = h.orch.dequeue(base) {
		order = append(order, s.job)
	}
	assert.Equal(t, []*syncjob.SyncJob{urgent, normalOld, normalNew, low}, order)
	assert.Equal(t, 1, h.orch.QueueDepth())
}

func TestOrchestrator_TriggerManualSync(t *testing.T) {
	h := newHarness(t, testConfig(), "SKU-1", "SKU-2")
	h.mappings.mappings[1].IsActive = false
	h.start(t)

	t.Run("single sku runs with high priority", func(t *testing.T) {
		sku := "SKU-1"
		id, err := h.orch.TriggerManualSync(context.Background(), &sku)
		require.NoError(t, err)
		status, err := h.orch.Wait(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, syncjob.PriorityHigh, status.Priority)
		assert.Equal(t, syncjob.JobTypeFull, status.Type)
		assert.Equal(t, 1, status.Summary.Total)
		assert.Equal(t, "manual", status.TriggeredBy)
	})

	t.Run("inactive sku is rejected", func(t *testing.T) {
		sku := "SKU-2"
		_, err := h.orch.TriggerManualSync(context.Background(), &sku)
		assert.ErrorIs(t, err, integration.ErrMappingInactive)
	})

	t.Run("unknown sku is rejected", func(t *testing.T) {
		sku := "NOPE"
		_, err := h.orch.TriggerManualSync(context.Background(), &sku)
		assert.ErrorIs(t, err, integration.ErrMappingNotFound)
	})

	t.Run("all products", func(t *testing.T) {
		id, err := h.orch.TriggerManualSync(context.Background(), nil)
		require.NoError(t, err)
		status, err := h.orch.Wait(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, syncjob.PriorityNormal, status.Priority)
		assert.Equal(t, 1, status.Summary.Total)
	})
}

func TestOrchestrator_WaitTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.WaitTimeout = 50 * time.Millisecond
	h := newHarness(t, cfg, "SKU-1")

	release := make(chan struct{})
	h.reconciler.fn = func(_ context.Context, m *integration.ProductMapping) (*inventoryapp.ReconcileResult, error) {
		<-release
		return &inventoryapp.ReconcileResult{SKU: m.SKU}, nil
	}
	h.start(t)
	defer close(release)

	id, err := h.orch.Submit(context.Background(), syncjob.SubmitOptions{Type: syncjob.JobTypeInventory})
	require.NoError(t, err)

	_, err = h.orch.Wait(context.Background(), id)
	assert.ErrorIs(t, err, ErrWaitTimeout)
}

func TestOrchestrator_RecoversJobsOnStart(t *testing.T) {
	cfg := testConfig()
	cfg.Retry = syncjob.RetryPolicy{Base: time.Millisecond, Multiplier: 1, Cap: time.Millisecond}
	h := newHarness(t, cfg, "SKU-1")
	ctx := context.Background()

	interrupted, err := syncjob.NewSyncJob(syncjob.JobTypeInventory, syncjob.PriorityNormal, nil, 2, "interval")
	require.NoError(t, err)
	require.NoError(t, interrupted.Start(1))
	require.NoError(t, h.jobs.Save(ctx, interrupted))

	pending, err := syncjob.NewSyncJob(syncjob.JobTypeInventory, syncjob.PriorityNormal, nil, 0, "interval")
	require.NoError(t, err)
	require.NoError(t, h.jobs.Save(ctx, pending))

	h.start(t)

	for _, id := range []uuid.UUID{interrupted.ID, pending.ID} {
		t.Run(id.String(), func(t *testing.T) {
			status, err := h.orch.Wait(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, syncjob.StatusCompleted, status.Status)
		})
	}
	assert.Equal(t, 1, h.jobs.get(interrupted.ID).RetryCount)
}

func TestOrchestrator_StopIsIdempotent(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.orch.Start(context.Background()))
	assert.True(t, h.orch.IsRunning())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.orch.Stop(ctx))
	require.NoError(t, h.orch.Stop(ctx))
	assert.False(t, h.orch.IsRunning())
}
