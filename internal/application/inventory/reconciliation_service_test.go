package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/channelsync/internal/domain/conflict"
	"github.com/erp/channelsync/internal/domain/integration"
	"github.com/erp/channelsync/internal/domain/inventory"
	"github.com/erp/channelsync/internal/domain/shared"
)

type reconcileFixture struct {
	platforms *fakePlatforms
	ledger    *fakeLedger
	mappings  *fakeMappings
	resolver  *recordingResolver
	locker    *fakeLocker
	events    *capturePublisher
	svc       *ReconciliationService
}

func newReconcileFixture(a, b int, policy BidirectionalPolicy) *reconcileFixture {
	f := &reconcileFixture{
		platforms: newFakePlatforms(a, b),
		ledger:    &fakeLedger{},
		mappings:  &fakeMappings{bySKU: map[string]*integration.ProductMapping{}},
		resolver:  &recordingResolver{},
		locker:    newFakeLocker(),
		events:    &capturePublisher{},
	}
	cfg := DefaultReconcileConfig()
	cfg.BidirectionalPolicy = policy
	f.svc = NewReconciliationService(f.platforms, f.mappings, f.ledger, f.resolver, f.locker, f.events, cfg, nil)
	return f
}

// newMapping returns a job's snapshot of a mapping whose stored copy lives in f.mappings
func (f *reconcileFixture) newMapping(t *testing.T, direction integration.SyncDirection) *integration.ProductMapping {
	t.Helper()
	m := newTestMapping(t, direction)
	stored := *m
	require.NoError(t, f.mappings.Save(context.Background(), &stored))
	return m
}

func newTestMapping(t *testing.T, direction integration.SyncDirection) *integration.ProductMapping {
	t.Helper()
	m, err := integration.NewProductMapping("X-1",
		integration.ProductRef{ProductID: "A-1"}, integration.ProductRef{ProductID: "B-1"},
		decimal.RequireFromString("1.15"), direction)
	require.NoError(t, err)
	return m
}

func TestReconcile_EqualQuantitiesWriteNothing(t *testing.T) {
	f := newReconcileFixture(20, 20, BidirectionalMax)
	m := f.newMapping(t, integration.SyncDirectionBidirectional)

	res, err := f.svc.Reconcile(context.Background(), m, nil)
	require.NoError(t, err)
	assert.True(t, res.InSync())
	assert.Empty(t, f.platforms.writes)
	assert.Empty(t, f.ledger.entries)
	assert.Equal(t, integration.SyncStatusSynced, m.SyncStatus)
	assert.NotNil(t, m.LastSyncAt)
}

func TestReconcile_BidirectionalRaisesLowerSide(t *testing.T) {
	f := newReconcileFixture(20, 8, BidirectionalMax)
	m := f.newMapping(t, integration.SyncDirectionBidirectional)

	res, err := f.svc.Reconcile(context.Background(), m, nil)
	require.NoError(t, err)

	assert.Equal(t, 20, res.Quantity)
	assert.Equal(t, conflict.StrategyBidirectionalMaximum, res.Strategy)
	assert.Equal(t, []write{{platform: integration.PlatformB, qty: 20}}, f.platforms.writes)
	require.Len(t, f.ledger.entries, 1)
	tx := f.ledger.entries[0]
	assert.Equal(t, inventory.TransactionTypeSync, tx.Type)
	assert.Equal(t, 20, tx.NewQuantity)
	assert.Equal(t, 12, tx.Delta)
	assert.Equal(t, integration.SyncStatusSynced, m.SyncStatus)
	assert.Equal(t, 12, m.Discrepancy)
	assert.Equal(t, 12, f.mappings.stored("X-1").Discrepancy)
	assert.True(t, res.Critical)
	require.Len(t, f.events.events, 1)
	assert.Equal(t, integration.EventTypeInventoryDiscrepancy, f.events.events[0].EventType())
}

func TestReconcile_Directions(t *testing.T) {
	tests := []struct {
		name      string
		direction integration.SyncDirection
		policy    BidirectionalPolicy
		wantQty   int
		wantWrite integration.Platform
	}{
		{"A to B copies A", integration.SyncDirectionAToB, BidirectionalMax, 12, integration.PlatformB},
		{"B to A copies B", integration.SyncDirectionBToA, BidirectionalMax, 5, integration.PlatformA},
		{"Conservative bidirectional lowers A", integration.SyncDirectionBidirectional, BidirectionalConservative, 5, integration.PlatformA},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newReconcileFixture(12, 5, tt.policy)
			m := f.newMapping(t, tt.direction)

			res, err := f.svc.Reconcile(context.Background(), m, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.wantQty, res.Quantity)
			assert.Equal(t, []write{{platform: tt.wantWrite, qty: tt.wantQty}}, f.platforms.writes)
			assert.False(t, res.Critical)
		})
	}
}

func TestReconcile_LatestTransactionWins(t *testing.T) {
	f := newReconcileFixture(12, 5, BidirectionalMax)
	m := f.newMapping(t, integration.SyncDirectionBidirectional)
	lastSync := time.Now().Add(-time.Hour)
	m.LastSyncAt = &lastSync

	sale, err := inventory.NewInventoryTransaction("X-1", integration.PlatformB, inventory.TransactionTypeSale, 6, 5, "sale")
	require.NoError(t, err)
	_, err = f.ledger.Record(context.Background(), sale)
	require.NoError(t, err)

	res, err := f.svc.Reconcile(context.Background(), m, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Quantity)
	assert.Equal(t, conflict.StrategyLatestTransaction, res.Strategy)
	require.Len(t, f.resolver.calls, 1)
	assert.Equal(t, 5, *f.resolver.calls[0].LatestQuantity)
}

func TestReconcile_LockContentionSkips(t *testing.T) {
	f := newReconcileFixture(12, 5, BidirectionalMax)
	m := f.newMapping(t, integration.SyncDirectionAToB)
	f.locker.held[shared.ProductLockKey("X-1")] = "other-worker"

	_, err := f.svc.Reconcile(context.Background(), m, nil)
	assert.ErrorIs(t, err, shared.ErrLockContention)
	assert.Empty(t, f.platforms.writes)
	assert.Equal(t, integration.SyncStatusPending, m.SyncStatus)
}

func TestReconcile_ReadFailureMarksMapping(t *testing.T) {
	f := newReconcileFixture(12, 5, BidirectionalMax)
	f.platforms.readErr = integration.ErrProductNotFound
	m := f.newMapping(t, integration.SyncDirectionAToB)

	_, err := f.svc.Reconcile(context.Background(), m, nil)
	assert.ErrorIs(t, err, integration.ErrProductNotFound)
	assert.Equal(t, integration.SyncStatusFailed, m.SyncStatus)
	assert.Equal(t, integration.SyncStatusFailed, f.mappings.stored("X-1").SyncStatus)
	assert.Equal(t, 1, f.mappings.syncUpdates)
	assert.NotContains(t, f.locker.held, shared.ProductLockKey("X-1"), "lock released after failure")
}

func TestReconcile_InactiveMapping(t *testing.T) {
	f := newReconcileFixture(1, 2, BidirectionalMax)
	m := f.newMapping(t, integration.SyncDirectionAToB)
	m.Deactivate()

	_, err := f.svc.Reconcile(context.Background(), m, nil)
	assert.True(t, errors.Is(err, integration.ErrMappingInactive))
}

func TestReconcile_KeepsOperatorEditsMadeDuringTheRun(t *testing.T) {
	f := newReconcileFixture(20, 8, BidirectionalMax)
	snapshot := f.newMapping(t, integration.SyncDirectionBidirectional)

	// an operator edits the mapping after the job loaded it
	f.mappings.mu.Lock()
	edited := f.mappings.bySKU["X-1"]
	edited.Deactivate()
	require.NoError(t, edited.UpdateMargin(decimal.RequireFromString("1.40")))
	require.NoError(t, edited.ChangeDirection(integration.SyncDirectionAToB))
	f.mappings.mu.Unlock()

	res, err := f.svc.Reconcile(context.Background(), snapshot, nil)
	require.NoError(t, err)
	assert.Equal(t, 20, res.Quantity)

	stored := f.mappings.stored("X-1")
	assert.False(t, stored.IsActive)
	assert.True(t, stored.MarginRate.Equal(decimal.RequireFromString("1.40")))
	assert.Equal(t, integration.SyncDirectionAToB, stored.Direction)
	assert.Equal(t, integration.SyncStatusSynced, stored.SyncStatus)
	assert.Equal(t, 12, stored.Discrepancy)
	assert.NotNil(t, stored.LastSyncAt)
	assert.Equal(t, 1, f.mappings.saves)
}
