package pricing

import (
	"context"

	"github.com/shopspring/decimal"
)

// ProviderMetadata describes an exchange rate provider
type ProviderMetadata struct {
	Name string
	// Priority orders providers; lower values are queried first
	Priority           int
	RequiresCredential bool
}

// ExchangeRateProvider fetches the current rate for a pair from one source
type ExchangeRateProvider interface {
	Fetch(ctx context.Context, pair CurrencyPair) (decimal.Decimal, error)
	Metadata() ProviderMetadata
}

// RateDirection names how a rate is applied to a price
type RateDirection string

const (
	// RateDirectionMultiply is the only supported direction: price * rate
	RateDirectionMultiply RateDirection = "multiply"
	// RateDirectionDivide is recognised so that it can be rejected
	RateDirectionDivide RateDirection = "divide"
)

// ValidateRateDirection rejects every direction but multiply
func ValidateRateDirection(d RateDirection) error {
	if d != RateDirectionMultiply {
		return ErrInvalidRateDir
	}
	return nil
}
