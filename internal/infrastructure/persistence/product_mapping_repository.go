package persistence

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/erp/channelsync/internal/domain/integration"
	"github.com/erp/channelsync/internal/domain/shared"
	"github.com/erp/channelsync/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
)

// GormProductMappingRepository implements ProductMappingRepository using GORM
type GormProductMappingRepository struct {
	db *gorm.DB
}

// NewGormProductMappingRepository creates a new GormProductMappingRepository
func NewGormProductMappingRepository(db *gorm.DB) *GormProductMappingRepository {
	return &GormProductMappingRepository{db: db}
}

var _ integration.ProductMappingRepository = (*GormProductMappingRepository)(nil)

// ---------------------------------------------------------------------------
// ProductMappingReader implementation
// ---------------------------------------------------------------------------

// FindByID finds a mapping by its ID
func (r *GormProductMappingRepository) FindByID(ctx context.Context, id uuid.UUID) (*integration.ProductMapping, error) {
	var model models.ProductMappingModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrMappingNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindBySKU finds a mapping by SKU
func (r *GormProductMappingRepository) FindBySKU(ctx context.Context, sku string) (*integration.ProductMapping, error) {
	var model models.ProductMappingModel
	if err := r.db.WithContext(ctx).First(&model, "sku = ?", sku).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrMappingNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// ---------------------------------------------------------------------------
// ProductMappingFinder implementation
// ---------------------------------------------------------------------------

// FindActive returns all active mappings ordered by SKU
func (r *GormProductMappingRepository) FindActive(ctx context.Context) ([]integration.ProductMapping, error) {
	var mappingModels []models.ProductMappingModel
	if err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("sku ASC").
		Find(&mappingModels).Error; err != nil {
		return nil, err
	}
	return toMappings(mappingModels), nil
}

// FindActiveBySKUs returns the active mappings among the given SKUs
func (r *GormProductMappingRepository) FindActiveBySKUs(ctx context.Context, skus []string) ([]integration.ProductMapping, error) {
	if len(skus) == 0 {
		return []integration.ProductMapping{}, nil
	}
	var mappingModels []models.ProductMappingModel
	if err := r.db.WithContext(ctx).
		Where("is_active = ? AND sku IN ?", true, skus).
		Order("sku ASC").
		Find(&mappingModels).Error; err != nil {
		return nil, err
	}
	return toMappings(mappingModels), nil
}

// FindWithDiscrepancy returns active mappings with a recorded discrepancy, largest first
func (r *GormProductMappingRepository) FindWithDiscrepancy(ctx context.Context, minDiscrepancy int) ([]integration.ProductMapping, error) {
	var mappingModels []models.ProductMappingModel
	if err := r.db.WithContext(ctx).
		Where("is_active = ? AND (discrepancy >= ? OR sync_status = ?)", true, minDiscrepancy, integration.SyncStatusDiscrepancy).
		Order("discrepancy DESC").
		Order("sku ASC").
		Find(&mappingModels).Error; err != nil {
		return nil, err
	}
	return toMappings(mappingModels), nil
}

// ---------------------------------------------------------------------------
// ProductMappingWriter implementation
// ---------------------------------------------------------------------------

// Save creates or updates a mapping. A second mapping for the same SKU is
// rejected with shared.ErrAlreadyExists.
func (r *GormProductMappingRepository) Save(ctx context.Context, mapping *integration.ProductMapping) error {
	model := models.ProductMappingModelFromDomain(mapping)
	if err := r.db.WithContext(ctx).Save(model).Error; err != nil {
		if isUniqueViolation(err) {
			return shared.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// UpdateSyncState writes the sync columns only, so a concurrent operator
// edit of margin, direction or activation survives a reconciliation run.
func (r *GormProductMappingRepository) UpdateSyncState(ctx context.Context, sku string, state integration.SyncState) error {
	result := r.db.WithContext(ctx).
		Model(&models.ProductMappingModel{}).
		Where("sku = ?", sku).
		Updates(map[string]any{
			"sync_status":     state.Status,
			"last_sync_at":    state.LastSyncAt,
			"discrepancy":     state.Discrepancy,
			"last_sync_error": state.LastError,
			"updated_at":      time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return integration.ErrMappingNotFound
	}
	return nil
}

func toMappings(mappingModels []models.ProductMappingModel) []integration.ProductMapping {
	mappings := make([]integration.ProductMapping, len(mappingModels))
	for i, model := range mappingModels {
		mappings[i] = *model.ToDomain()
	}
	return mappings
}
