package persistence

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/erp/channelsync/internal/domain/pricing"
	"github.com/erp/channelsync/internal/infrastructure/persistence/models"
)

// GormPriceHistoryRepository implements pricing.PriceHistoryRepository using GORM
type GormPriceHistoryRepository struct {
	db *gorm.DB
}

// NewGormPriceHistoryRepository creates a new GormPriceHistoryRepository
func NewGormPriceHistoryRepository(db *gorm.DB) *GormPriceHistoryRepository {
	return &GormPriceHistoryRepository{db: db}
}

var _ pricing.PriceHistoryRepository = (*GormPriceHistoryRepository)(nil)

// Record inserts an entry
func (r *GormPriceHistoryRepository) Record(ctx context.Context, entry *pricing.PriceHistory) error {
	return r.db.WithContext(ctx).Create(models.PriceHistoryModelFromDomain(entry)).Error
}

// Recent returns the newest entries for a SKU, newest first
func (r *GormPriceHistoryRepository) Recent(ctx context.Context, sku string, limit int) ([]pricing.PriceHistory, error) {
	var historyModels []models.PriceHistoryModel
	query := r.db.WithContext(ctx).Where("sku = ?", sku).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&historyModels).Error; err != nil {
		return nil, err
	}

	entries := make([]pricing.PriceHistory, len(historyModels))
	for i, model := range historyModels {
		entries[i] = *model.ToDomain()
	}
	return entries, nil
}

// LatestApplied returns the newest applied entry for a SKU
func (r *GormPriceHistoryRepository) LatestApplied(ctx context.Context, sku string) (*pricing.PriceHistory, error) {
	var model models.PriceHistoryModel
	if err := r.db.WithContext(ctx).
		Where("sku = ? AND status = ?", sku, pricing.PriceStatusApplied).
		Order("created_at DESC").
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pricing.ErrPriceHistoryNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}
