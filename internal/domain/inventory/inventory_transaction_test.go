package inventory

import (
	"testing"

	"github.com/erp/channelsync/internal/domain/integration"
	"github.com/erp/channelsync/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInventoryTransaction(t *testing.T) {
	t.Run("computes delta from quantities", func(t *testing.T) {
		tx, err := NewInventoryTransaction("X-1", integration.PlatformB, TransactionTypeSync, 8, 20, "reconcile")
		require.NoError(t, err)
		assert.Equal(t, 12, tx.Delta)
		assert.Equal(t, TransactionStatusApplied, tx.Status)
		assert.NoError(t, tx.Validate())

		_, ok := tx.IdempotencyKey()
		assert.False(t, ok, "entries without order context carry no key")
	})

	tests := []struct {
		name     string
		sku      string
		platform integration.Platform
		txType   TransactionType
		prev     int
		next     int
	}{
		{"empty SKU", "", integration.PlatformA, TransactionTypeSale, 1, 0},
		{"invalid platform", "X-1", integration.Platform("C"), TransactionTypeSale, 1, 0},
		{"invalid type", "X-1", integration.PlatformA, TransactionType("GIFT"), 1, 0},
		{"negative quantity", "X-1", integration.PlatformA, TransactionTypeAdjustment, -1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewInventoryTransaction(tt.sku, tt.platform, tt.txType, tt.prev, tt.next, "")
			assert.ErrorIs(t, err, shared.ErrInvalidInput)
		})
	}
}

func TestInventoryTransaction_OrderContext(t *testing.T) {
	tx, err := NewInventoryTransaction("X-1", integration.PlatformA, TransactionTypeSale, 10, 8, "order")
	require.NoError(t, err)

	assert.Error(t, tx.WithOrderContext("", "line-1"))
	require.NoError(t, tx.WithOrderContext("order-1", "line-1"))

	key, ok := tx.IdempotencyKey()
	require.True(t, ok)
	assert.Equal(t, IdempotencyKey{OrderID: "order-1", LineItemID: "line-1", Type: TransactionTypeSale}, key)

	jobID := uuid.New()
	tx.WithJob(jobID).WithStatus(TransactionStatusSkipped)
	assert.Equal(t, jobID, *tx.JobID)
	assert.Equal(t, TransactionStatusSkipped, tx.Status)
}

func TestInventoryTransaction_Validate(t *testing.T) {
	tx, err := NewInventoryTransaction("X-1", integration.PlatformA, TransactionTypeRestock, 0, 5, "")
	require.NoError(t, err)

	tx.Delta = 4
	assert.ErrorIs(t, tx.Validate(), shared.ErrInvalidInput)

	tx.Delta = 5
	order := "o-1"
	tx.OrderID = &order
	assert.ErrorIs(t, tx.Validate(), shared.ErrInvalidInput, "line item ID is required alongside order ID")
}
