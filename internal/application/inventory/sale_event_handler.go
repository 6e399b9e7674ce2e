package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/erp/channelsync/internal/domain/integration"
	"github.com/erp/channelsync/internal/domain/inventory"
	"github.com/erp/channelsync/internal/domain/shared"
)

// SaleEvent is a sold line item reported by one platform
type SaleEvent struct {
	SKU        string               `json:"sku" validate:"required,max=100"`
	Platform   integration.Platform `json:"platform" validate:"required,oneof=PLATFORM_A PLATFORM_B"`
	OrderID    string               `json:"order_id" validate:"required,max=100"`
	LineItemID string               `json:"line_item_id" validate:"required,max=100"`
	Quantity   int                  `json:"quantity" validate:"required,min=1"`
}

// SaleResult reports what applying a sale did
type SaleResult struct {
	// Duplicate is true when the sale had already been applied
	Duplicate   bool
	Transaction *inventory.InventoryTransaction
}

// SaleEventHandler deducts a sale made on one platform from the other one,
// at most once per (orderId, lineItemId)
type SaleEventHandler struct {
	gateway  QuantityGateway
	mappings integration.ProductMappingReader
	ledger   inventory.TransactionLedger
	locker   shared.Locker
	lockTTL  time.Duration
	validate *validator.Validate
	logger   *zap.Logger
}

// NewSaleEventHandler creates a SaleEventHandler
func NewSaleEventHandler(
	gateway QuantityGateway,
	mappings integration.ProductMappingReader,
	ledger inventory.TransactionLedger,
	locker shared.Locker,
	lockTTL time.Duration,
	logger *zap.Logger,
) *SaleEventHandler {
	if lockTTL <= 0 {
		lockTTL = DefaultReconcileConfig().LockTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SaleEventHandler{
		gateway:  gateway,
		mappings: mappings,
		ledger:   ledger,
		locker:   locker,
		lockTTL:  lockTTL,
		validate: validator.New(),
		logger:   logger,
	}
}

// ApplySale deducts the sold quantity on the other platform. Replays of an
// already applied sale are reported as duplicates and change nothing.
func (h *SaleEventHandler) ApplySale(ctx context.Context, sale SaleEvent) (*SaleResult, error) {
	if err := h.validate.Struct(sale); err != nil {
		return nil, shared.NewValidationError(err.Error())
	}

	mapping, err := h.mappings.FindBySKU(ctx, sale.SKU)
	if err != nil {
		return nil, err
	}
	if !mapping.IsActive {
		return nil, integration.ErrMappingInactive
	}

	var result *SaleResult
	err = shared.WithLock(ctx, h.locker, shared.ProductLockKey(sale.SKU), h.lockTTL, func(ctx context.Context) error {
		var err error
		result, err = h.applyLocked(ctx, mapping, sale)
		return err
	})
	return result, err
}

func (h *SaleEventHandler) applyLocked(ctx context.Context, mapping *integration.ProductMapping, sale SaleEvent) (*SaleResult, error) {
	key := inventory.IdempotencyKey{OrderID: sale.OrderID, LineItemID: sale.LineItemID, Type: inventory.TransactionTypeSale}
	exists, err := h.ledger.ExistsByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if exists {
		h.logger.Info("Sale already applied",
			zap.String("sku", sale.SKU),
			zap.String("order_id", sale.OrderID),
			zap.String("line_item_id", sale.LineItemID),
		)
		return &SaleResult{Duplicate: true}, nil
	}

	target := sale.Platform.Other()
	ref := mapping.RefFor(target)
	current, err := h.gateway.GetQuantity(ctx, target, ref)
	if err != nil {
		return nil, fmt.Errorf("read %s quantity: %w", target, err)
	}
	next := max(current-sale.Quantity, 0)

	tx, err := inventory.NewInventoryTransaction(sale.SKU, target, inventory.TransactionTypeSale, current, next,
		fmt.Sprintf("sale on %s", sale.Platform))
	if err != nil {
		return nil, err
	}
	if err := tx.WithOrderContext(sale.OrderID, sale.LineItemID); err != nil {
		return nil, err
	}

	// The claim takes the idempotency key before the platform is touched, so a
	// redelivery after any later failure cannot deduct twice.
	claim, err := h.ledger.Record(ctx, tx.WithStatus(inventory.TransactionStatusPending))
	if errors.Is(err, inventory.ErrDuplicateTransaction) {
		return &SaleResult{Duplicate: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim sale: %w", err)
	}

	fields := []zap.Field{
		zap.String("sku", sale.SKU),
		zap.String("order_id", sale.OrderID),
		zap.String("line_item_id", sale.LineItemID),
		zap.String("transaction_id", claim.ID.String()),
	}
	persistCtx := context.WithoutCancel(ctx)

	if err := h.gateway.SetQuantity(ctx, target, ref, next); err != nil {
		if derr := h.ledger.DiscardPending(persistCtx, claim.ID); derr != nil {
			h.logger.Error("Sale claim kept after failed write; the sale needs manual review",
				append(fields, zap.Error(derr))...)
		}
		return nil, fmt.Errorf("write %s quantity: %w", target, err)
	}

	if err := h.ledger.ConfirmPending(persistCtx, claim.ID); err != nil {
		// the write went through and the pending claim still blocks replays
		h.logger.Error("Sale applied but ledger entry left pending", append(fields, zap.Error(err))...)
		return &SaleResult{Transaction: claim}, nil
	}
	claim.Status = inventory.TransactionStatusApplied
	return &SaleResult{Transaction: claim}, nil
}

// Handle applies SaleRecordedEvent events delivered by the event bus
func (h *SaleEventHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	e, ok := event.(*inventory.SaleRecordedEvent)
	if !ok {
		return nil
	}
	_, err := h.ApplySale(ctx, SaleEvent{
		SKU:        e.SKU,
		Platform:   e.Platform,
		OrderID:    e.OrderID,
		LineItemID: e.LineItemID,
		Quantity:   e.Quantity,
	})
	return err
}

// EventTypes returns the event types this handler is interested in
func (h *SaleEventHandler) EventTypes() []string {
	return []string{inventory.EventTypeSaleRecorded}
}

var _ shared.EventHandler = (*SaleEventHandler)(nil)
