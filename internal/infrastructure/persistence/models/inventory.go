package models

import (
	"github.com/google/uuid"

	"github.com/erp/channelsync/internal/domain/integration"
	"github.com/erp/channelsync/internal/domain/inventory"
)

// InventoryTransactionModel is the persistence model for ledger entries.
// The unique index on (order_id, line_item_id, type) is the idempotency key;
// rows without an order context have NULLs there and never collide.
// Only PENDING claims are ever updated or deleted.
type InventoryTransactionModel struct {
	AppendOnlyModel
	SKU              string                      `gorm:"type:varchar(100);not null;index:idx_inventory_tx_sku_created,priority:1"`
	Platform         integration.Platform        `gorm:"type:varchar(20);not null"`
	Type             inventory.TransactionType   `gorm:"type:varchar(20);not null;uniqueIndex:idx_inventory_tx_idempotency,priority:3"`
	Delta            int                         `gorm:"not null"`
	PreviousQuantity int                         `gorm:"not null"`
	NewQuantity      int                         `gorm:"not null"`
	OrderID          *string                     `gorm:"type:varchar(100);uniqueIndex:idx_inventory_tx_idempotency,priority:1"`
	LineItemID       *string                     `gorm:"type:varchar(100);uniqueIndex:idx_inventory_tx_idempotency,priority:2"`
	Status           inventory.TransactionStatus `gorm:"type:varchar(20);not null"`
	Reason           string                      `gorm:"type:text"`
	JobID            *uuid.UUID                  `gorm:"type:uuid;index"`
}

// TableName returns the table name for GORM
func (InventoryTransactionModel) TableName() string {
	return "inventory_transactions"
}

// ToDomain converts the persistence model to a domain InventoryTransaction.
func (m *InventoryTransactionModel) ToDomain() *inventory.InventoryTransaction {
	return &inventory.InventoryTransaction{
		ID:               m.ID,
		SKU:              m.SKU,
		Platform:         m.Platform,
		Type:             m.Type,
		Delta:            m.Delta,
		PreviousQuantity: m.PreviousQuantity,
		NewQuantity:      m.NewQuantity,
		OrderID:          m.OrderID,
		LineItemID:       m.LineItemID,
		Status:           m.Status,
		Reason:           m.Reason,
		JobID:            m.JobID,
		CreatedAt:        m.CreatedAt,
	}
}

// FromDomain populates the persistence model from a domain InventoryTransaction.
func (m *InventoryTransactionModel) FromDomain(tx *inventory.InventoryTransaction) {
	m.ID = tx.ID
	m.SKU = tx.SKU
	m.Platform = tx.Platform
	m.Type = tx.Type
	m.Delta = tx.Delta
	m.PreviousQuantity = tx.PreviousQuantity
	m.NewQuantity = tx.NewQuantity
	m.OrderID = tx.OrderID
	m.LineItemID = tx.LineItemID
	m.Status = tx.Status
	m.Reason = tx.Reason
	m.JobID = tx.JobID
	m.CreatedAt = tx.CreatedAt
}

// InventoryTransactionModelFromDomain creates a new persistence model from a domain InventoryTransaction.
func InventoryTransactionModelFromDomain(tx *inventory.InventoryTransaction) *InventoryTransactionModel {
	m := &InventoryTransactionModel{}
	m.FromDomain(tx)
	return m
}
