package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/erp/channelsync/internal/domain/syncjob"
	"github.com/erp/channelsync/internal/infrastructure/persistence/models"
)

// GormSyncJobRepository implements syncjob.SyncJobRepository using GORM
type GormSyncJobRepository struct {
	db *gorm.DB
}

// NewGormSyncJobRepository creates a new GormSyncJobRepository
func NewGormSyncJobRepository(db *gorm.DB) *GormSyncJobRepository {
	return &GormSyncJobRepository{db: db}
}

var _ syncjob.SyncJobRepository = (*GormSyncJobRepository)(nil)

// Save inserts a job or fully updates it. An update whose processed count is
// behind the stored one returns syncjob.ErrProgressRegression and writes nothing.
func (r *GormSyncJobRepository) Save(ctx context.Context, job *syncjob.SyncJob) error {
	model := models.SyncJobModelFromDomain(job)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(model).
			Where("processed_items <= ?", job.ProcessedItems).
			Select("*").Omit("id", "created_at").
			Updates(model)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected > 0 {
			return nil
		}

		var count int64
		if err := tx.Model(&models.SyncJobModel{}).Where("id = ?", job.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return syncjob.ErrProgressRegression
		}
		return tx.Create(model).Error
	})
}

// FindByID returns ErrJobNotFound when absent
func (r *GormSyncJobRepository) FindByID(ctx context.Context, id uuid.UUID) (*syncjob.SyncJob, error) {
	var model models.SyncJobModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, syncjob.ErrJobNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindRecent returns jobs newest first
func (r *GormSyncJobRepository) FindRecent(ctx context.Context, limit int) ([]syncjob.SyncJob, error) {
	return r.find(r.db.WithContext(ctx).Order("created_at DESC"), limit)
}

// FindByStatus returns jobs in a status, oldest first
func (r *GormSyncJobRepository) FindByStatus(ctx context.Context, status syncjob.Status, limit int) ([]syncjob.SyncJob, error) {
	return r.find(r.db.WithContext(ctx).Where("status = ?", status).Order("created_at ASC"), limit)
}

// UpdateProgress writes the counters only while the stored processed count is
// not ahead of the job's, so concurrent writers never move progress backwards.
// Status is left untouched.
func (r *GormSyncJobRepository) UpdateProgress(ctx context.Context, job *syncjob.SyncJob) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.SyncJobModel{}).
		Where("id = ? AND processed_items <= ?", job.ID, job.ProcessedItems).
		Updates(map[string]any{
			"processed_items": job.ProcessedItems,
			"success_items":   job.SuccessItems,
			"failed_items":    job.FailedItems,
			"skipped_items":   job.SkippedItems,
			"discrepancies":   job.Discrepancies,
			"processed_skus":  models.MarshalJSONList(job.ProcessedSKUs),
			"errors":          models.MarshalJSONList(job.Errors),
			"updated_at":      job.UpdatedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *GormSyncJobRepository) find(query *gorm.DB, limit int) ([]syncjob.SyncJob, error) {
	if limit > 0 {
		query = query.Limit(limit)
	}
	var jobModels []models.SyncJobModel
	if err := query.Find(&jobModels).Error; err != nil {
		return nil, err
	}
	jobs := make([]syncjob.SyncJob, len(jobModels))
	for i, model := range jobModels {
		jobs[i] = *model.ToDomain()
	}
	return jobs, nil
}
