package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erp/channelsync/internal/domain/conflict"
	"github.com/erp/channelsync/internal/domain/integration"
	"github.com/erp/channelsync/internal/domain/inventory"
	"github.com/erp/channelsync/internal/domain/shared"
)

// QuantityGateway reads and writes quantities on either platform
type QuantityGateway interface {
	GetQuantity(ctx context.Context, p integration.Platform, ref integration.ProductRef) (int, error)
	SetQuantity(ctx context.Context, p integration.Platform, ref integration.ProductRef, qty int) error
}

// InventoryConflictResolver decides between two disagreeing quantities
type InventoryConflictResolver interface {
	ResolveInventory(ctx context.Context, c conflict.InventoryConflict, jobID *uuid.UUID) conflict.InventoryResolution
}

// BidirectionalPolicy decides bidirectional disagreements that no newer
// transaction explains
type BidirectionalPolicy string

const (
	// BidirectionalMax adopts max(A, B) and raises the lower side
	BidirectionalMax BidirectionalPolicy = "max"
	// BidirectionalConservative adopts min(A, B) through the conflict resolver
	BidirectionalConservative BidirectionalPolicy = "conservative"
)

// IsValid returns true if the policy is valid
func (p BidirectionalPolicy) IsValid() bool {
	return p == BidirectionalMax || p == BidirectionalConservative
}

// ReconcileConfig configures the reconciliation engine
type ReconcileConfig struct {
	LockTTL time.Duration
	// CriticalThreshold raises an inventory.discrepancy event at or above this many units
	CriticalThreshold   int
	BidirectionalPolicy BidirectionalPolicy
}

// DefaultReconcileConfig returns a 30s lock, critical at 10 units, max policy
func DefaultReconcileConfig() ReconcileConfig {
	return ReconcileConfig{
		LockTTL:             30 * time.Second,
		CriticalThreshold:   10,
		BidirectionalPolicy: BidirectionalMax,
	}
}

// ReconcileResult is the outcome of reconciling one product
type ReconcileResult struct {
	SKU         string
	QuantityA   int
	QuantityB   int
	Quantity    int
	Strategy    conflict.Strategy
	Written     []integration.Platform
	Discrepancy int
	Critical    bool
}

// InSync returns true if both platforms already agreed
func (r *ReconcileResult) InSync() bool {
	return r.Discrepancy == 0
}

// ReconciliationService compares and corrects stock levels between platforms
type ReconciliationService struct {
	gateway   QuantityGateway
	mappings  integration.ProductMappingWriter
	ledger    inventory.TransactionLedger
	conflicts InventoryConflictResolver
	locker    shared.Locker
	events    shared.EventPublisher
	config    ReconcileConfig
	logger    *zap.Logger
}

// NewReconciliationService creates a ReconciliationService
func NewReconciliationService(
	gateway QuantityGateway,
	mappings integration.ProductMappingWriter,
	ledger inventory.TransactionLedger,
	conflicts InventoryConflictResolver,
	locker shared.Locker,
	events shared.EventPublisher,
	config ReconcileConfig,
	logger *zap.Logger,
) *ReconciliationService {
	defaults := DefaultReconcileConfig()
	if config.LockTTL <= 0 {
		config.LockTTL = defaults.LockTTL
	}
	if config.CriticalThreshold <= 0 {
		config.CriticalThreshold = defaults.CriticalThreshold
	}
	if !config.BidirectionalPolicy.IsValid() {
		config.BidirectionalPolicy = defaults.BidirectionalPolicy
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconciliationService{
		gateway:   gateway,
		mappings:  mappings,
		ledger:    ledger,
		conflicts: conflicts,
		locker:    locker,
		events:    events,
		config:    config,
		logger:    logger,
	}
}

// Reconcile brings both platforms to one authoritative quantity under the
// product lock. It returns shared.ErrLockContention if another worker holds it.
func (s *ReconciliationService) Reconcile(ctx context.Context, mapping *integration.ProductMapping, jobID *uuid.UUID) (*ReconcileResult, error) {
	if !mapping.IsActive {
		return nil, integration.ErrMappingInactive
	}

	var result *ReconcileResult
	err := shared.WithLock(ctx, s.locker, shared.ProductLockKey(mapping.SKU), s.config.LockTTL, func(ctx context.Context) error {
		var err error
		result, err = s.reconcileLocked(ctx, mapping, jobID)
		return err
	})
	if err != nil && !errors.Is(err, shared.ErrLockContention) && ctx.Err() == nil {
		mapping.RecordSyncFailure(err.Error())
		if saveErr := s.saveSyncState(ctx, mapping); saveErr != nil {
			s.logger.Error("Failed to save mapping failure", zap.String("sku", mapping.SKU), zap.Error(saveErr))
		}
	}
	return result, err
}

func (s *ReconciliationService) reconcileLocked(ctx context.Context, mapping *integration.ProductMapping, jobID *uuid.UUID) (*ReconcileResult, error) {
	qtyA, err := s.gateway.GetQuantity(ctx, integration.PlatformA, mapping.PlatformA)
	if err != nil {
		return nil, fmt.Errorf("read %s quantity: %w", integration.PlatformA, err)
	}
	qtyB, err := s.gateway.GetQuantity(ctx, integration.PlatformB, mapping.PlatformB)
	if err != nil {
		return nil, fmt.Errorf("read %s quantity: %w", integration.PlatformB, err)
	}

	result := &ReconcileResult{SKU: mapping.SKU, QuantityA: qtyA, QuantityB: qtyB, Quantity: qtyA}
	if qtyA == qtyB {
		mapping.RecordSyncSuccess(0)
		return result, s.saveSyncState(ctx, mapping)
	}
	result.Discrepancy = abs(qtyA - qtyB)

	quantity, strategy, err := s.authoritativeQuantity(ctx, mapping, qtyA, qtyB, jobID)
	if err != nil {
		return nil, err
	}
	result.Quantity = quantity
	result.Strategy = strategy

	current := map[integration.Platform]int{integration.PlatformA: qtyA, integration.PlatformB: qtyB}
	for _, p := range []integration.Platform{integration.PlatformA, integration.PlatformB} {
		if current[p] == quantity {
			continue
		}
		if err := s.gateway.SetQuantity(ctx, p, mapping.RefFor(p), quantity); err != nil {
			return nil, fmt.Errorf("write %s quantity: %w", p, err)
		}
		result.Written = append(result.Written, p)
		s.recordSync(ctx, mapping.SKU, p, current[p], quantity, strategy, jobID)
	}

	mapping.RecordSyncSuccess(result.Discrepancy)
	if err := s.saveSyncState(ctx, mapping); err != nil {
		return nil, err
	}

	if result.Discrepancy >= s.config.CriticalThreshold {
		result.Critical = true
		s.logger.Warn("Critical inventory discrepancy",
			zap.String("sku", mapping.SKU),
			zap.Int("quantity_a", qtyA),
			zap.Int("quantity_b", qtyB),
		)
		if s.events != nil {
			if err := s.events.Publish(ctx, integration.NewInventoryDiscrepancyEvent(mapping.SKU, qtyA, qtyB)); err != nil {
				s.logger.Error("Failed to publish discrepancy event", zap.String("sku", mapping.SKU), zap.Error(err))
			}
		}
	}
	return result, nil
}

// saveSyncState persists the run outcome only; mapping is a snapshot taken
// when the job started and may be stale by now.
func (s *ReconciliationService) saveSyncState(ctx context.Context, mapping *integration.ProductMapping) error {
	return s.mappings.UpdateSyncState(ctx, mapping.SKU, mapping.SyncState())
}

// authoritativeQuantity applies the mapping's sync direction
func (s *ReconciliationService) authoritativeQuantity(ctx context.Context, mapping *integration.ProductMapping, qtyA, qtyB int, jobID *uuid.UUID) (int, conflict.Strategy, error) {
	switch mapping.Direction {
	case integration.SyncDirectionAToB:
		return qtyA, "", nil
	case integration.SyncDirectionBToA:
		return qtyB, "", nil
	}

	c := conflict.InventoryConflict{SKU: mapping.SKU, QuantityA: qtyA, QuantityB: qtyB, LastSyncAt: mapping.LastSyncAt}
	if mapping.LastSyncAt != nil {
		latest, err := s.ledger.LatestSince(ctx, mapping.SKU, *mapping.LastSyncAt)
		switch {
		case err == nil:
			c.LatestQuantity = &latest.NewQuantity
		case !errors.Is(err, inventory.ErrTransactionNotFound):
			return 0, "", err
		}
	}

	if c.LatestQuantity == nil && s.config.BidirectionalPolicy == BidirectionalMax {
		return max(qtyA, qtyB), conflict.StrategyBidirectionalMaximum, nil
	}
	res := s.conflicts.ResolveInventory(ctx, c, jobID)
	return res.Quantity, res.Strategy, nil
}

func (s *ReconciliationService) recordSync(ctx context.Context, sku string, p integration.Platform, previous, next int, strategy conflict.Strategy, jobID *uuid.UUID) {
	reason := "reconcile"
	if strategy != "" {
		reason += ": " + strategy.String()
	}
	tx, err := inventory.NewInventoryTransaction(sku, p, inventory.TransactionTypeSync, previous, next, reason)
	if err == nil {
		if jobID != nil {
			tx.WithJob(*jobID)
		}
		_, err = s.ledger.Record(ctx, tx)
	}
	if err != nil && !errors.Is(err, inventory.ErrDuplicateTransaction) {
		// the platform write already happened; the gap shows up in the next run
		s.logger.Error("Failed to record sync transaction",
			zap.String("sku", sku),
			zap.String("platform", p.String()),
			zap.Error(err),
		)
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
