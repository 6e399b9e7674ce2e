package persistence

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/erp/channelsync/internal/domain/pricing"
	"github.com/erp/channelsync/internal/infrastructure/persistence/models"
)

// GormExchangeRateRepository implements pricing.ExchangeRateRepository using GORM
type GormExchangeRateRepository struct {
	db *gorm.DB
}

// NewGormExchangeRateRepository creates a new GormExchangeRateRepository
func NewGormExchangeRateRepository(db *gorm.DB) *GormExchangeRateRepository {
	return &GormExchangeRateRepository{db: db}
}

var _ pricing.ExchangeRateRepository = (*GormExchangeRateRepository)(nil)

// Save inserts a rate
func (r *GormExchangeRateRepository) Save(ctx context.Context, rate *pricing.ExchangeRate) error {
	return r.db.WithContext(ctx).Create(models.ExchangeRateModelFromDomain(rate)).Error
}

// FindValidManual returns the manual rate valid at t
func (r *GormExchangeRateRepository) FindValidManual(ctx context.Context, pair pricing.CurrencyPair, at time.Time) (*pricing.ExchangeRate, error) {
	return r.first(pairScope(r.db.WithContext(ctx), pair).
		Where("source = ? AND valid_from <= ? AND valid_until > ?", pricing.RateSourceManual, at, at))
}

// FindLatest returns the most recent rate of any source
func (r *GormExchangeRateRepository) FindLatest(ctx context.Context, pair pricing.CurrencyPair) (*pricing.ExchangeRate, error) {
	return r.first(pairScope(r.db.WithContext(ctx), pair))
}

// FindLatestBySource returns the most recent rate from a source
func (r *GormExchangeRateRepository) FindLatestBySource(ctx context.Context, pair pricing.CurrencyPair, source pricing.RateSource) (*pricing.ExchangeRate, error) {
	return r.first(pairScope(r.db.WithContext(ctx), pair).Where("source = ?", source))
}

// ReplaceManual closes the manual rates valid at rate.ValidFrom and inserts rate
// in one transaction
func (r *GormExchangeRateRepository) ReplaceManual(ctx context.Context, rate *pricing.ExchangeRate) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := invalidateManual(tx, rate.Pair, rate.ValidFrom); err != nil {
			return err
		}
		return tx.Create(models.ExchangeRateModelFromDomain(rate)).Error
	})
}

// InvalidateManual closes every manual rate still valid at t
func (r *GormExchangeRateRepository) InvalidateManual(ctx context.Context, pair pricing.CurrencyPair, at time.Time) (int64, error) {
	return invalidateManual(r.db.WithContext(ctx), pair, at)
}

func invalidateManual(db *gorm.DB, pair pricing.CurrencyPair, at time.Time) (int64, error) {
	result := pairScope(db.Model(&models.ExchangeRateModel{}), pair).
		Where("source = ? AND valid_until > ?", pricing.RateSourceManual, at).
		Update("valid_until", at)
	return result.RowsAffected, result.Error
}

func pairScope(db *gorm.DB, pair pricing.CurrencyPair) *gorm.DB {
	return db.Where("base_currency = ? AND target_currency = ?", pair.Base, pair.Target)
}

func (r *GormExchangeRateRepository) first(query *gorm.DB) (*pricing.ExchangeRate, error) {
	var model models.ExchangeRateModel
	if err := query.Order("created_at DESC").First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pricing.ErrRateNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}
