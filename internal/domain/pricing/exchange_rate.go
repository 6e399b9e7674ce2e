package pricing

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CurrencyPair is an ordered base/target currency pair (KRW/USD)
type CurrencyPair struct {
	Base   string
	Target string
}

// NewCurrencyPair creates a pair from ISO codes
func NewCurrencyPair(base, target string) (CurrencyPair, error) {
	p := CurrencyPair{Base: strings.ToUpper(strings.TrimSpace(base)), Target: strings.ToUpper(strings.TrimSpace(target))}
	if err := p.Validate(); err != nil {
		return CurrencyPair{}, err
	}
	return p, nil
}

// Validate checks that both codes are three letters and differ
func (p CurrencyPair) Validate() error {
	if len(p.Base) != 3 || len(p.Target) != 3 || p.Base == p.Target {
		return ErrInvalidCurrencyPair
	}
	return nil
}

// String returns "BASE/TARGET"
func (p CurrencyPair) String() string {
	return p.Base + "/" + p.Target
}

// RateSource tells where a rate came from
type RateSource string

const (
	RateSourceAPI    RateSource = "API"
	RateSourceManual RateSource = "MANUAL"
)

// IsValid returns true if the source is valid
func (s RateSource) IsValid() bool {
	return s == RateSourceAPI || s == RateSourceManual
}

// ExchangeRate is a conversion rate valid over [ValidFrom, ValidUntil).
// At most one manual rate may be valid for a pair at any instant.
type ExchangeRate struct {
	ID         uuid.UUID
	Pair       CurrencyPair
	Rate       decimal.Decimal
	Source     RateSource
	Provider   string
	Reason     string
	ValidFrom  time.Time
	ValidUntil time.Time
	CreatedAt  time.Time
}

// NewExchangeRate creates a rate valid from now for the given duration
func NewExchangeRate(pair CurrencyPair, rate decimal.Decimal, source RateSource, provider string, validFor time.Duration) (*ExchangeRate, error) {
	if err := pair.Validate(); err != nil {
		return nil, err
	}
	if !rate.IsPositive() {
		return nil, ErrInvalidRate
	}
	if validFor <= 0 {
		return nil, ErrInvalidValidity
	}
	now := time.Now()
	return &ExchangeRate{
		ID:         uuid.New(),
		Pair:       pair,
		Rate:       rate,
		Source:     source,
		Provider:   provider,
		ValidFrom:  now,
		ValidUntil: now.Add(validFor),
		CreatedAt:  now,
	}, nil
}

// NewManualRate creates an operator override valid for validFor
func NewManualRate(pair CurrencyPair, rate decimal.Decimal, validFor time.Duration, reason string) (*ExchangeRate, error) {
	r, err := NewExchangeRate(pair, rate, RateSourceManual, "manual", validFor)
	if err != nil {
		return nil, err
	}
	r.Reason = reason
	return r, nil
}

// IsValidAt reports whether t lies inside [ValidFrom, ValidUntil)
func (r *ExchangeRate) IsValidAt(t time.Time) bool {
	return !t.Before(r.ValidFrom) && t.Before(r.ValidUntil)
}

// IsManual returns true for operator overrides
func (r *ExchangeRate) IsManual() bool {
	return r.Source == RateSourceManual
}

// ChangeRatio returns |r - other| / other, or 1 when other is zero
func (r *ExchangeRate) ChangeRatio(other decimal.Decimal) decimal.Decimal {
	if other.IsZero() {
		return decimal.NewFromInt(1)
	}
	return r.Rate.Sub(other).Abs().Div(other)
}

// RateBounds rejects implausible provider responses
type RateBounds struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

// DefaultRateBounds accepts anything in (0, 10000]
func DefaultRateBounds() RateBounds {
	return RateBounds{Min: decimal.Zero, Max: decimal.NewFromInt(10000)}
}

// Check returns ErrImplausibleRate unless Min < rate <= Max
func (b RateBounds) Check(rate decimal.Decimal) error {
	if !rate.GreaterThan(b.Min) || rate.GreaterThan(b.Max) {
		return ErrImplausibleRate
	}
	return nil
}

// ---------------------------------------------------------------------------
// ExchangeRateRepository Interface
// ---------------------------------------------------------------------------

// ExchangeRateRepository persists exchange rates
type ExchangeRateRepository interface {
	// Save inserts a rate
	Save(ctx context.Context, rate *ExchangeRate) error

	// FindValidManual returns the manual rate valid at t, or ErrRateNotFound
	FindValidManual(ctx context.Context, pair CurrencyPair, at time.Time) (*ExchangeRate, error)

	// FindLatest returns the most recent rate of any source, or ErrRateNotFound
	FindLatest(ctx context.Context, pair CurrencyPair) (*ExchangeRate, error)

	// FindLatestBySource returns the most recent rate from a source, or ErrRateNotFound
	FindLatestBySource(ctx context.Context, pair CurrencyPair, source RateSource) (*ExchangeRate, error)

	// ReplaceManual closes every manual rate still valid at rate.ValidFrom and
	// inserts rate in one transaction
	ReplaceManual(ctx context.Context, rate *ExchangeRate) error

	// InvalidateManual closes every manual rate still valid at t by setting
	// its ValidUntil to t. It returns the number of rates closed.
	InvalidateManual(ctx context.Context, pair CurrencyPair, at time.Time) (int64, error)
}
