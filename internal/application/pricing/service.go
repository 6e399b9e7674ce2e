package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/erp/channelsync/internal/application/exchangerate"
	"github.com/erp/channelsync/internal/domain/conflict"
	"github.com/erp/channelsync/internal/domain/integration"
	"github.com/erp/channelsync/internal/domain/pricing"
	"github.com/erp/channelsync/internal/domain/shared"
)

// ErrRateUnavailable means no exchange rate could be resolved; it fails the
// whole job rather than a single item
var ErrRateUnavailable = errors.New("pricing: exchange rate unavailable")

// historyWindow is how many past prices feed the historical average
const historyWindow = 5

// PriceGateway reads and writes prices on either platform
type PriceGateway interface {
	GetPrice(ctx context.Context, p integration.Platform, ref integration.ProductRef) (decimal.Decimal, error)
	SetPrice(ctx context.Context, p integration.Platform, ref integration.ProductRef, price decimal.Decimal) error
	Currency(p integration.Platform) string
}

// RateResolver resolves the current exchange rate of a pair
type RateResolver interface {
	GetCurrentRate(ctx context.Context, pair pricing.CurrencyPair) (*exchangerate.RateResult, error)
}

// PriceConflictResolver decides between a platform price and the computed one
type PriceConflictResolver interface {
	ResolvePrice(ctx context.Context, c conflict.PriceConflict, jobID *uuid.UUID) conflict.PriceResolution
}

// Config configures the price sync
type Config struct {
	LockTTL time.Duration
}

// Quote is a computed price for one mapping
type Quote struct {
	SKU          string
	Source       integration.Platform
	Target       integration.Platform
	SourcePrice  decimal.Decimal
	Rate         decimal.Decimal
	RateFrom     exchangerate.ResolvedFrom
	Result       *pricing.PriceResult
	CurrentPrice decimal.Decimal
	LastPrice    *decimal.Decimal
}

// SyncResult is the outcome of syncing one price
type SyncResult struct {
	Quote    *Quote
	Applied  bool
	Price    decimal.Decimal
	Strategy conflict.Strategy
	History  *pricing.PriceHistory
}

// PriceSyncService converts the source platform's price and writes it to
// the other platform
type PriceSyncService struct {
	gateway    PriceGateway
	rates      RateResolver
	calculator *pricing.Calculator
	conflicts  PriceConflictResolver
	history    pricing.PriceHistoryRepository
	locker     shared.Locker
	config     Config
	logger     *zap.Logger
}

// NewPriceSyncService creates a PriceSyncService
func NewPriceSyncService(
	gateway PriceGateway,
	rates RateResolver,
	calculator *pricing.Calculator,
	conflicts PriceConflictResolver,
	history pricing.PriceHistoryRepository,
	locker shared.Locker,
	config Config,
	logger *zap.Logger,
) *PriceSyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.LockTTL <= 0 {
		config.LockTTL = 30 * time.Second
	}
	return &PriceSyncService{
		gateway:    gateway,
		rates:      rates,
		calculator: calculator,
		conflicts:  conflicts,
		history:    history,
		locker:     locker,
		config:     config,
		logger:     logger,
	}
}

// Preview computes the target price of a mapping without writing anything
func (s *PriceSyncService) Preview(ctx context.Context, mapping *integration.ProductMapping) (*Quote, error) {
	if !mapping.IsActive {
		return nil, integration.ErrMappingInactive
	}
	return s.quote(ctx, mapping)
}

func (s *PriceSyncService) quote(ctx context.Context, mapping *integration.ProductMapping) (*Quote, error) {
	source := mapping.Direction.Source()
	target := source.Other()

	sourcePrice, err := s.gateway.GetPrice(ctx, source, mapping.RefFor(source))
	if err != nil {
		return nil, fmt.Errorf("read %s price: %w", source, err)
	}

	rate := decimal.NewFromInt(1)
	rateFrom := exchangerate.ResolvedFrom("")
	sourceCurrency, targetCurrency := s.gateway.Currency(source), s.gateway.Currency(target)
	if sourceCurrency != targetCurrency {
		pair, err := pricing.NewCurrencyPair(sourceCurrency, targetCurrency)
		if err != nil {
			return nil, err
		}
		resolved, err := s.rates.GetCurrentRate(ctx, pair)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRateUnavailable, err)
		}
		rate, rateFrom = resolved.Rate, resolved.From
	}

	var lastPrice *decimal.Decimal
	last, err := s.history.LatestApplied(ctx, mapping.SKU)
	switch {
	case err == nil:
		lastPrice = &last.ResultPrice
	case !errors.Is(err, pricing.ErrPriceHistoryNotFound):
		return nil, err
	}

	input := pricing.PriceInput{
		SKU:         mapping.SKU,
		Category:    mapping.Category,
		Brand:       mapping.Brand,
		SourcePrice: sourcePrice,
		Rate:        rate,
		MarginRate:  mapping.MarginRate,
		LastPrice:   lastPrice,
	}
	result, err := s.calculator.Calculate(input)
	if err != nil {
		return nil, err
	}

	current, err := s.gateway.GetPrice(ctx, target, mapping.RefFor(target))
	if err != nil {
		return nil, fmt.Errorf("read %s price: %w", target, err)
	}

	return &Quote{
		SKU:          mapping.SKU,
		Source:       source,
		Target:       target,
		SourcePrice:  sourcePrice,
		Rate:         rate,
		RateFrom:     rateFrom,
		Result:       result,
		CurrentPrice: current,
		LastPrice:    lastPrice,
	}, nil
}

// SyncPrice converts and writes the price of one mapping under its product lock.
// A target price that already matches, or is within tolerance, is left alone.
func (s *PriceSyncService) SyncPrice(ctx context.Context, mapping *integration.ProductMapping, jobID *uuid.UUID) (*SyncResult, error) {
	if !mapping.IsActive {
		return nil, integration.ErrMappingInactive
	}

	var result *SyncResult
	err := shared.WithLock(ctx, s.locker, shared.ProductLockKey(mapping.SKU), s.config.LockTTL, func(ctx context.Context) error {
		var err error
		result, err = s.syncLocked(ctx, mapping, jobID)
		return err
	})
	return result, err
}

func (s *PriceSyncService) syncLocked(ctx context.Context, mapping *integration.ProductMapping, jobID *uuid.UUID) (*SyncResult, error) {
	q, err := s.quote(ctx, mapping)
	if err != nil {
		return nil, err
	}
	expected := q.Result.Price
	result := &SyncResult{Quote: q, Price: q.CurrentPrice}

	if !q.CurrentPrice.Equal(expected) {
		resolution := s.conflicts.ResolvePrice(ctx, conflict.PriceConflict{
			SKU:               mapping.SKU,
			SourcePrice:       q.SourcePrice,
			TargetPrice:       q.CurrentPrice,
			ExpectedPrice:     expected,
			HistoricalAverage: s.historicalAverage(ctx, mapping.SKU),
		}, jobID)
		result.Strategy = resolution.Strategy

		if !resolution.Price.Equal(q.CurrentPrice) {
			if err := s.gateway.SetPrice(ctx, q.Target, mapping.RefFor(q.Target), resolution.Price); err != nil {
				s.recordHistory(ctx, q, resolution.Price, resolution.Strategy, pricing.PriceStatusFailed, jobID)
				return nil, fmt.Errorf("write %s price: %w", q.Target, err)
			}
			result.Applied = true
			result.Price = resolution.Price
		}
	}

	status := pricing.PriceStatusUnchanged
	if result.Applied {
		status = pricing.PriceStatusApplied
	}
	result.History = s.recordHistory(ctx, q, result.Price, result.Strategy, status, jobID)

	if len(q.Result.Warnings) > 0 {
		s.logger.Warn("Price flagged for review",
			zap.String("sku", mapping.SKU),
			zap.String("price", result.Price.String()),
			zap.Any("warnings", q.Result.Warnings),
		)
	}
	return result, nil
}

func (s *PriceSyncService) historicalAverage(ctx context.Context, sku string) *decimal.Decimal {
	recent, err := s.history.Recent(ctx, sku, historyWindow)
	if err != nil {
		s.logger.Warn("Price history lookup failed", zap.String("sku", sku), zap.Error(err))
		return nil
	}
	avg, ok := pricing.AveragePrice(recent)
	if !ok {
		return nil
	}
	return &avg
}

func (s *PriceSyncService) recordHistory(ctx context.Context, q *Quote, price decimal.Decimal, strategy conflict.Strategy, status pricing.PriceStatus, jobID *uuid.UUID) *pricing.PriceHistory {
	input := pricing.PriceInput{SKU: q.SKU, SourcePrice: q.SourcePrice, Rate: q.Rate, LastPrice: q.LastPrice}
	result := *q.Result
	result.Price = price
	entry := pricing.NewPriceHistory(q.SKU, input, &result, status)
	entry.Strategy = string(strategy)
	entry.JobID = jobID
	if err := s.history.Record(ctx, entry); err != nil {
		s.logger.Error("Failed to record price history", zap.String("sku", q.SKU), zap.Error(err))
	}
	return entry
}
