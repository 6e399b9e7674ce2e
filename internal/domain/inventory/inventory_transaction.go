// Package inventory contains the inventory ledger: an append-only record of
// every quantity mutation applied to either platform.
package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/erp/channelsync/internal/domain/integration"
	"github.com/erp/channelsync/internal/domain/shared"
	"github.com/google/uuid"
)

var (
	// ErrDuplicateTransaction is returned when an entry with the same
	// (orderId, lineItemId, type) was already recorded. Callers treat it as
	// "already applied".
	ErrDuplicateTransaction = errors.New("inventory: duplicate transaction")
	// ErrTransactionNotFound is returned when no ledger entry matches
	ErrTransactionNotFound = errors.New("inventory: transaction not found")
)

// TransactionType represents the real-world cause of a quantity change
type TransactionType string

const (
	TransactionTypeSale       TransactionType = "SALE"
	TransactionTypeRestock    TransactionType = "RESTOCK"
	TransactionTypeAdjustment TransactionType = "ADJUSTMENT"
	TransactionTypeSync       TransactionType = "SYNC"
)

// String returns the string representation of TransactionType
func (t TransactionType) String() string {
	return string(t)
}

// IsValid returns true if the transaction type is valid
func (t TransactionType) IsValid() bool {
	switch t {
	case TransactionTypeSale, TransactionTypeRestock, TransactionTypeAdjustment, TransactionTypeSync:
		return true
	}
	return false
}

// TransactionStatus is the outcome of applying the mutation to the platform
type TransactionStatus string

const (
	// TransactionStatusPending claims an idempotency key before the platform
	// write. It becomes APPLIED once the write succeeds, or is discarded.
	TransactionStatusPending TransactionStatus = "PENDING"
	TransactionStatusApplied TransactionStatus = "APPLIED"
	TransactionStatusFailed  TransactionStatus = "FAILED"
	TransactionStatusSkipped TransactionStatus = "SKIPPED"
)

// IsValid returns true if the status is valid
func (s TransactionStatus) IsValid() bool {
	switch s {
	case TransactionStatusPending, TransactionStatusApplied, TransactionStatusFailed, TransactionStatusSkipped:
		return true
	}
	return false
}

// IdempotencyKey identifies one real-world event applied to the ledger
type IdempotencyKey struct {
	OrderID    string
	LineItemID string
	Type       TransactionType
}

// InventoryTransaction is a ledger entry. Entries other than PENDING claims
// are immutable; corrections are made with new entries.
type InventoryTransaction struct {
	ID               uuid.UUID
	SKU              string
	Platform         integration.Platform
	Type             TransactionType
	Delta            int
	PreviousQuantity int
	NewQuantity      int
	OrderID          *string
	LineItemID       *string
	Status           TransactionStatus
	Reason           string
	JobID            *uuid.UUID
	CreatedAt        time.Time
}

// NewInventoryTransaction creates an applied ledger entry moving a platform's
// quantity from previous to next
func NewInventoryTransaction(
	sku string,
	platform integration.Platform,
	txType TransactionType,
	previous, next int,
	reason string,
) (*InventoryTransaction, error) {
	if sku == "" {
		return nil, shared.NewValidationError("SKU cannot be empty")
	}
	if !platform.IsValid() {
		return nil, shared.NewValidationError("Invalid platform")
	}
	if !txType.IsValid() {
		return nil, shared.NewValidationError("Invalid transaction type")
	}
	if previous < 0 || next < 0 {
		return nil, shared.NewValidationError("Quantities cannot be negative")
	}

	return &InventoryTransaction{
		ID:               uuid.New(),
		SKU:              sku,
		Platform:         platform,
		Type:             txType,
		Delta:            next - previous,
		PreviousQuantity: previous,
		NewQuantity:      next,
		Status:           TransactionStatusApplied,
		Reason:           reason,
		CreatedAt:        time.Now(),
	}, nil
}

// WithOrderContext attaches the (orderId, lineItemId) idempotency key
func (t *InventoryTransaction) WithOrderContext(orderID, lineItemID string) error {
	if orderID == "" || lineItemID == "" {
		return shared.NewValidationError("Order ID and line item ID are both required")
	}
	t.OrderID = &orderID
	t.LineItemID = &lineItemID
	return nil
}

// WithJob links the entry to the sync job that produced it
func (t *InventoryTransaction) WithJob(jobID uuid.UUID) *InventoryTransaction {
	t.JobID = &jobID
	return t
}

// WithStatus overrides the outcome status
func (t *InventoryTransaction) WithStatus(status TransactionStatus) *InventoryTransaction {
	if status.IsValid() {
		t.Status = status
	}
	return t
}

// IdempotencyKey returns the deduplication key when an order context is present
func (t *InventoryTransaction) IdempotencyKey() (IdempotencyKey, bool) {
	if t.OrderID == nil || t.LineItemID == nil {
		return IdempotencyKey{}, false
	}
	return IdempotencyKey{OrderID: *t.OrderID, LineItemID: *t.LineItemID, Type: t.Type}, true
}

// Validate checks the entry invariants before it is recorded
func (t *InventoryTransaction) Validate() error {
	if t.SKU == "" {
		return shared.NewValidationError("SKU cannot be empty")
	}
	if !t.Type.IsValid() || !t.Status.IsValid() || !t.Platform.IsValid() {
		return shared.NewValidationError("Invalid transaction type, status or platform")
	}
	if t.NewQuantity-t.PreviousQuantity != t.Delta {
		return shared.NewValidationError("Delta must equal new minus previous quantity")
	}
	if (t.OrderID == nil) != (t.LineItemID == nil) {
		return shared.NewValidationError("Order ID and line item ID must be set together")
	}
	return nil
}

// TransactionLedger is the append-only store of inventory transactions
type TransactionLedger interface {
	// Record appends the entry. If it carries an idempotency key that already
	// exists, nothing is written and ErrDuplicateTransaction is returned.
	Record(ctx context.Context, tx *InventoryTransaction) (*InventoryTransaction, error)

	// History returns the newest entries for a SKU, newest first
	History(ctx context.Context, sku string, limit int) ([]InventoryTransaction, error)

	// LatestSince returns the newest applied entry for a SKU created after since,
	// or ErrTransactionNotFound
	LatestSince(ctx context.Context, sku string, since time.Time) (*InventoryTransaction, error)

	// ExistsByKey reports whether an entry with the idempotency key exists
	ExistsByKey(ctx context.Context, key IdempotencyKey) (bool, error)

	// ConfirmPending turns a PENDING entry into APPLIED, or returns
	// ErrTransactionNotFound when no pending entry has the id
	ConfirmPending(ctx context.Context, id uuid.UUID) error

	// DiscardPending removes a PENDING entry so its idempotency key can be
	// claimed again. Entries in any other status are never removed.
	DiscardPending(ctx context.Context, id uuid.UUID) error
}
