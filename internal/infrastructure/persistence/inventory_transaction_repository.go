package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/erp/channelsync/internal/domain/inventory"
	"github.com/erp/channelsync/internal/infrastructure/persistence/models"
)

// GormInventoryTransactionRepository is the append-only inventory ledger backed by GORM.
// Deduplication relies on the unique index over (order_id, line_item_id, type).
type GormInventoryTransactionRepository struct {
	db *gorm.DB
}

// NewGormInventoryTransactionRepository creates a new GormInventoryTransactionRepository
func NewGormInventoryTransactionRepository(db *gorm.DB) *GormInventoryTransactionRepository {
	return &GormInventoryTransactionRepository{db: db}
}

var _ inventory.TransactionLedger = (*GormInventoryTransactionRepository)(nil)

// Record appends an entry. A duplicate idempotency key returns ErrDuplicateTransaction.
func (r *GormInventoryTransactionRepository) Record(ctx context.Context, tx *inventory.InventoryTransaction) (*inventory.InventoryTransaction, error) {
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	model := models.InventoryTransactionModelFromDomain(tx)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, inventory.ErrDuplicateTransaction
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// History returns the newest entries for a SKU, newest first
func (r *GormInventoryTransactionRepository) History(ctx context.Context, sku string, limit int) ([]inventory.InventoryTransaction, error) {
	var txModels []models.InventoryTransactionModel
	query := r.db.WithContext(ctx).
		Where("sku = ?", sku).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&txModels).Error; err != nil {
		return nil, err
	}

	txs := make([]inventory.InventoryTransaction, len(txModels))
	for i, model := range txModels {
		txs[i] = *model.ToDomain()
	}
	return txs, nil
}

// LatestSince returns the newest applied entry for a SKU created after since
func (r *GormInventoryTransactionRepository) LatestSince(ctx context.Context, sku string, since time.Time) (*inventory.InventoryTransaction, error) {
	var model models.InventoryTransactionModel
	if err := r.db.WithContext(ctx).
		Where("sku = ? AND status = ? AND created_at > ?", sku, inventory.TransactionStatusApplied, since).
		Order("created_at DESC").
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, inventory.ErrTransactionNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// ExistsByKey reports whether an entry with the idempotency key exists
func (r *GormInventoryTransactionRepository) ExistsByKey(ctx context.Context, key inventory.IdempotencyKey) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.InventoryTransactionModel{}).
		Where("order_id = ? AND line_item_id = ? AND type = ?", key.OrderID, key.LineItemID, key.Type).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// ConfirmPending marks a pending claim as applied
func (r *GormInventoryTransactionRepository) ConfirmPending(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Model(&models.InventoryTransactionModel{}).
		Where("id = ? AND status = ?", id, inventory.TransactionStatusPending).
		Update("status", inventory.TransactionStatusApplied)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return inventory.ErrTransactionNotFound
	}
	return nil
}

// DiscardPending deletes a pending claim; applied entries are left alone
func (r *GormInventoryTransactionRepository) DiscardPending(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("id = ? AND status = ?", id, inventory.TransactionStatusPending).
		Delete(&models.InventoryTransactionModel{}).Error
}
