package exchangerate

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/erp/channelsync/internal/domain/pricing"
	"github.com/erp/channelsync/internal/domain/shared"
)

const (
	cacheKeyPrefix = "exchange_rate:"
	// CacheTag groups every cached rate for bulk invalidation
	CacheTag = "exchange_rate"
)

// ResolvedFrom tells which step of the chain produced a rate
type ResolvedFrom string

const (
	ResolvedFromCache    ResolvedFrom = "cache"
	ResolvedFromManual   ResolvedFrom = "manual"
	ResolvedFromProvider ResolvedFrom = "provider"
	ResolvedFromHistory  ResolvedFrom = "history"
	ResolvedFromDefault  ResolvedFrom = "default"
)

// RateResult is a resolved rate and its origin
type RateResult struct {
	Pair       pricing.CurrencyPair `json:"pair"`
	Rate       decimal.Decimal      `json:"rate"`
	From       ResolvedFrom         `json:"from"`
	Provider   string               `json:"provider,omitempty"`
	ResolvedAt time.Time            `json:"resolved_at"`
}

// Degraded returns true if the rate did not come from a live or manual source
func (r *RateResult) Degraded() bool {
	return r.From == ResolvedFromHistory || r.From == ResolvedFromDefault
}

// Config configures the provider chain
type Config struct {
	// CacheTTL is how long a resolved rate is served from cache
	CacheTTL time.Duration
	// ChangeThreshold skips persisting scheduled updates that moved less than this ratio
	ChangeThreshold decimal.Decimal
	// DefaultRates are last-resort rates per pair. A pair with no entry uses
	// the inverse of its reverse pair, then the built-in reference rate.
	DefaultRates map[pricing.CurrencyPair]decimal.Decimal
	// Bounds rejects implausible provider responses
	Bounds pricing.RateBounds
	// ProviderTimeout bounds a single provider call
	ProviderTimeout time.Duration
}

// DefaultConfig returns a 1h TTL, 0.1% change threshold and 10s provider timeout
func DefaultConfig() Config {
	return Config{
		CacheTTL:        time.Hour,
		ChangeThreshold: decimal.RequireFromString("0.001"),
		Bounds:          pricing.DefaultRateBounds(),
		ProviderTimeout: 10 * time.Second,
	}
}

// Metrics records which step resolved a rate
type Metrics interface {
	RecordRateResolution(ctx context.Context, pair string, from string)
}

type noopMetrics struct{}

func (noopMetrics) RecordRateResolution(context.Context, string, string) {}

// Option configures a Service
type Option func(*Service)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(m Metrics) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// ProviderStatus reports the health of one provider
type ProviderStatus struct {
	pricing.ProviderMetadata
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
}

// Service resolves exchange rates through cache, manual override, ranked
// providers, persisted history and finally a configured default.
type Service struct {
	repo      pricing.ExchangeRateRepository
	cache     shared.Cache
	providers []pricing.ExchangeRateProvider
	config    Config
	logger    *zap.Logger
	metrics   Metrics
	validate  *validator.Validate

	mu     sync.RWMutex
	status map[string]*ProviderStatus
}

// NewService creates the chain. Providers are queried in ascending Priority.
func NewService(repo pricing.ExchangeRateRepository, cache shared.Cache, providers []pricing.ExchangeRateProvider, config Config, opts ...Option) *Service {
	sorted := make([]pricing.ExchangeRateProvider, len(providers))
	copy(sorted, providers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Metadata().Priority < sorted[j].Metadata().Priority
	})

	if config.CacheTTL <= 0 {
		config.CacheTTL = DefaultConfig().CacheTTL
	}
	if config.ProviderTimeout <= 0 {
		config.ProviderTimeout = DefaultConfig().ProviderTimeout
	}
	if config.Bounds.Max.IsZero() {
		config.Bounds = pricing.DefaultRateBounds()
	}

	s := &Service{
		repo:      repo,
		cache:     cache,
		providers: sorted,
		config:    config,
		logger:    zap.NewNop(),
		metrics:   noopMetrics{},
		validate:  validator.New(),
		status:    make(map[string]*ProviderStatus, len(sorted)),
	}
	for _, p := range sorted {
		s.status[p.Metadata().Name] = &ProviderStatus{ProviderMetadata: p.Metadata()}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func cacheKey(pair pricing.CurrencyPair) string {
	return cacheKeyPrefix + pair.String()
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

// GetCurrentRate resolves the rate for pair. It only fails when every step,
// including the configured default, is unavailable.
func (s *Service) GetCurrentRate(ctx context.Context, pair pricing.CurrencyPair) (*RateResult, error) {
	if err := pair.Validate(); err != nil {
		return nil, err
	}
	result, err := s.resolve(ctx, pair)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordRateResolution(ctx, pair.String(), string(result.From))
	return result, nil
}

func (s *Service) resolve(ctx context.Context, pair pricing.CurrencyPair) (*RateResult, error) {
	key := cacheKey(pair)

	var cached RateResult
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		cached.From = ResolvedFromCache
		return &cached, nil
	} else if !errors.Is(err, shared.ErrCacheMiss) {
		s.logger.Warn("Exchange rate cache read failed", zap.String("pair", pair.String()), zap.Error(err))
	}

	now := time.Now()
	manual, err := s.repo.FindValidManual(ctx, pair, now)
	switch {
	case err == nil:
		result := &RateResult{Pair: pair, Rate: manual.Rate, From: ResolvedFromManual, Provider: manual.Provider, ResolvedAt: now}
		s.writeCache(ctx, result, time.Until(manual.ValidUntil))
		return result, nil
	case !errors.Is(err, pricing.ErrRateNotFound):
		s.logger.Warn("Manual rate lookup failed", zap.String("pair", pair.String()), zap.Error(err))
	}

	rate, provider, err := s.fetchFromProviders(ctx, pair)
	if err == nil {
		result := &RateResult{Pair: pair, Rate: rate, From: ResolvedFromProvider, Provider: provider, ResolvedAt: time.Now()}
		s.persist(ctx, pair, rate, provider)
		s.writeCache(ctx, result, s.config.CacheTTL)
		return result, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	s.logger.Warn("All exchange rate providers failed, falling back", zap.String("pair", pair.String()), zap.Error(err))

	latest, histErr := s.repo.FindLatest(ctx, pair)
	if histErr == nil {
		return &RateResult{Pair: pair, Rate: latest.Rate, From: ResolvedFromHistory, Provider: latest.Provider, ResolvedAt: time.Now()}, nil
	}
	if !errors.Is(histErr, pricing.ErrRateNotFound) {
		s.logger.Warn("Exchange rate history lookup failed", zap.String("pair", pair.String()), zap.Error(histErr))
	}

	if rate, ok := s.defaultRate(pair); ok {
		s.logger.Warn("Using default exchange rate",
			zap.String("pair", pair.String()),
			zap.String("rate", rate.String()),
		)
		return &RateResult{Pair: pair, Rate: rate, From: ResolvedFromDefault, ResolvedAt: time.Now()}, nil
	}
	return nil, pricing.ErrAllProvidersFailed
}

func (s *Service) defaultRate(pair pricing.CurrencyPair) (decimal.Decimal, bool) {
	if rate, ok := s.config.DefaultRates[pair]; ok && rate.IsPositive() {
		return rate, true
	}
	if rate, ok := s.config.DefaultRates[pair.Inverse()]; ok && rate.IsPositive() {
		return decimal.NewFromInt(1).DivRound(rate, 8), true
	}
	return pricing.ReferenceRate(pair)
}

// fetchFromProviders returns the first plausible rate in priority order
func (s *Service) fetchFromProviders(ctx context.Context, pair pricing.CurrencyPair) (decimal.Decimal, string, error) {
	var errs []error
	for _, p := range s.providers {
		if ctx.Err() != nil {
			return decimal.Zero, "", ctx.Err()
		}
		meta := p.Metadata()

		callCtx, cancel := context.WithTimeout(ctx, s.config.ProviderTimeout)
		rate, err := p.Fetch(callCtx, pair)
		cancel()
		if err == nil {
			err = s.config.Bounds.Check(rate)
		}
		if err != nil {
			s.markFailure(meta.Name, err)
			s.logger.Debug("Exchange rate provider failed",
				zap.String("provider", meta.Name),
				zap.String("pair", pair.String()),
				zap.Error(err),
			)
			errs = append(errs, err)
			continue
		}
		s.markSuccess(meta.Name)
		return rate, meta.Name, nil
	}
	return decimal.Zero, "", errors.Join(append([]error{pricing.ErrAllProvidersFailed}, errs...)...)
}

func (s *Service) persist(ctx context.Context, pair pricing.CurrencyPair, rate decimal.Decimal, provider string) bool {
	record, err := pricing.NewExchangeRate(pair, rate, pricing.RateSourceAPI, provider, s.config.CacheTTL)
	if err != nil {
		s.logger.Error("Invalid exchange rate from provider", zap.String("provider", provider), zap.Error(err))
		return false
	}
	if err := s.repo.Save(ctx, record); err != nil {
		s.logger.Error("Failed to persist exchange rate", zap.String("pair", pair.String()), zap.Error(err))
		return false
	}
	return true
}

func (s *Service) writeCache(ctx context.Context, result *RateResult, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if ttl > s.config.CacheTTL {
		ttl = s.config.CacheTTL
	}
	if err := s.cache.Set(ctx, cacheKey(result.Pair), result, ttl, CacheTag); err != nil {
		s.logger.Warn("Exchange rate cache write failed", zap.String("pair", result.Pair.String()), zap.Error(err))
	}
}

// Providers returns the configured providers in query order with their health
func (s *Service) Providers() []ProviderStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ProviderStatus, 0, len(s.providers))
	for _, p := range s.providers {
		out = append(out, *s.status[p.Metadata().Name])
	}
	return out
}

func (s *Service) markSuccess(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.status[name]; ok {
		now := time.Now()
		st.LastSuccessAt = &now
		st.LastError = ""
	}
}

func (s *Service) markFailure(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.status[name]; ok {
		now := time.Now()
		st.LastFailureAt = &now
		st.LastError = err.Error()
	}
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

// UpdateResult reports what a scheduled update did
type UpdateResult struct {
	Rate      decimal.Decimal
	Provider  string
	Persisted bool
	Reason    string
}

// UpdateExchangeRate refreshes a pair from the providers. Nothing is persisted
// while a manual rate is valid or when the change is below the threshold.
func (s *Service) UpdateExchangeRate(ctx context.Context, pair pricing.CurrencyPair) (*UpdateResult, error) {
	if err := pair.Validate(); err != nil {
		return nil, err
	}

	manual, err := s.repo.FindValidManual(ctx, pair, time.Now())
	if err == nil {
		s.logger.Debug("Manual exchange rate active, skipping update", zap.String("pair", pair.String()))
		return &UpdateResult{Rate: manual.Rate, Provider: manual.Provider, Reason: "manual rate active"}, nil
	}
	if !errors.Is(err, pricing.ErrRateNotFound) {
		return nil, err
	}

	rate, provider, err := s.fetchFromProviders(ctx, pair)
	if err != nil {
		return nil, err
	}
	result := &UpdateResult{Rate: rate, Provider: provider}
	cached := &RateResult{Pair: pair, Rate: rate, From: ResolvedFromProvider, Provider: provider, ResolvedAt: time.Now()}

	last, err := s.repo.FindLatestBySource(ctx, pair, pricing.RateSourceAPI)
	if err != nil && !errors.Is(err, pricing.ErrRateNotFound) {
		return nil, err
	}
	if last != nil {
		probe := pricing.ExchangeRate{Rate: rate}
		if probe.ChangeRatio(last.Rate).LessThan(s.config.ChangeThreshold) {
			s.writeCache(ctx, cached, s.config.CacheTTL)
			result.Reason = "change below threshold"
			return result, nil
		}
	}

	result.Persisted = s.persist(ctx, pair, rate, provider)
	s.writeCache(ctx, cached, s.config.CacheTTL)
	if result.Persisted {
		s.logger.Info("Exchange rate updated",
			zap.String("pair", pair.String()),
			zap.String("rate", rate.String()),
			zap.String("provider", provider),
		)
	}
	return result, nil
}

// ManualRateRequest installs an operator override
type ManualRateRequest struct {
	Base       string          `json:"base" validate:"required,len=3"`
	Target     string          `json:"target" validate:"required,len=3"`
	Rate       decimal.Decimal `json:"rate"`
	ValidHours int             `json:"valid_hours" validate:"required,min=1,max=720"`
	Reason     string          `json:"reason" validate:"required,max=500"`
}

// SetManualRate replaces any valid manual rate and refreshes the cache
func (s *Service) SetManualRate(ctx context.Context, req ManualRateRequest) (*pricing.ExchangeRate, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, shared.NewValidationError(err.Error())
	}
	pair, err := pricing.NewCurrencyPair(req.Base, req.Target)
	if err != nil {
		return nil, err
	}
	if err := s.config.Bounds.Check(req.Rate); err != nil {
		return nil, err
	}

	rate, err := pricing.NewManualRate(pair, req.Rate, time.Duration(req.ValidHours)*time.Hour, req.Reason)
	if err != nil {
		return nil, err
	}
	if err := s.repo.ReplaceManual(ctx, rate); err != nil {
		return nil, err
	}

	s.writeCache(ctx, &RateResult{Pair: pair, Rate: rate.Rate, From: ResolvedFromManual, Provider: rate.Provider, ResolvedAt: rate.CreatedAt}, time.Until(rate.ValidUntil))
	s.logger.Info("Manual exchange rate set",
		zap.String("pair", pair.String()),
		zap.String("rate", rate.Rate.String()),
		zap.Time("valid_until", rate.ValidUntil),
		zap.String("reason", req.Reason),
	)
	return rate, nil
}

// ClearManualRate ends any valid manual rate for the pair now
func (s *Service) ClearManualRate(ctx context.Context, pair pricing.CurrencyPair) (int64, error) {
	if err := pair.Validate(); err != nil {
		return 0, err
	}
	n, err := s.repo.InvalidateManual(ctx, pair, time.Now())
	if err != nil {
		return 0, err
	}
	if err := s.cache.Delete(ctx, cacheKey(pair)); err != nil {
		s.logger.Warn("Exchange rate cache delete failed", zap.String("pair", pair.String()), zap.Error(err))
	}
	return n, nil
}
