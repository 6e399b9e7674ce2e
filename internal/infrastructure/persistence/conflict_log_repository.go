package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/erp/channelsync/internal/domain/conflict"
	"github.com/erp/channelsync/internal/infrastructure/persistence/models"
)

// GormConflictLogRepository implements conflict.ConflictLogRepository using GORM
type GormConflictLogRepository struct {
	db *gorm.DB
}

// NewGormConflictLogRepository creates a new GormConflictLogRepository
func NewGormConflictLogRepository(db *gorm.DB) *GormConflictLogRepository {
	return &GormConflictLogRepository{db: db}
}

var _ conflict.ConflictLogRepository = (*GormConflictLogRepository)(nil)

// Save inserts or updates a log
func (r *GormConflictLogRepository) Save(ctx context.Context, log *conflict.ConflictLog) error {
	if err := log.Validate(); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Save(models.ConflictLogModelFromDomain(log)).Error
}

// FindByID returns ErrLogNotFound when absent
func (r *GormConflictLogRepository) FindByID(ctx context.Context, id uuid.UUID) (*conflict.ConflictLog, error) {
	var model models.ConflictLogModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, conflict.ErrLogNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindRecent returns logs newest first, filtered by SKU when sku is not empty
func (r *GormConflictLogRepository) FindRecent(ctx context.Context, sku string, limit int) ([]conflict.ConflictLog, error) {
	query := r.db.WithContext(ctx).Order("created_at DESC")
	if sku != "" {
		query = query.Where("sku = ?", sku)
	}
	return r.find(query, limit)
}

// FindUnresolved returns logs that were never resolved, oldest first
func (r *GormConflictLogRepository) FindUnresolved(ctx context.Context, limit int) ([]conflict.ConflictLog, error) {
	return r.find(r.db.WithContext(ctx).Where("resolved = ?", false).Order("created_at ASC"), limit)
}

func (r *GormConflictLogRepository) find(query *gorm.DB, limit int) ([]conflict.ConflictLog, error) {
	if limit > 0 {
		query = query.Limit(limit)
	}
	var logModels []models.ConflictLogModel
	if err := query.Find(&logModels).Error; err != nil {
		return nil, err
	}
	logs := make([]conflict.ConflictLog, len(logModels))
	for i, model := range logModels {
		logs[i] = *model.ToDomain()
	}
	return logs, nil
}
