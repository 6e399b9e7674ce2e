package pricing

import "errors"

var (
	// Exchange rate errors
	ErrInvalidCurrencyPair = errors.New("pricing: invalid currency pair")
	ErrInvalidRate         = errors.New("pricing: rate must be positive")
	ErrImplausibleRate     = errors.New("pricing: rate outside plausible bounds")
	ErrInvalidValidity     = errors.New("pricing: validity window must be positive")
	ErrAllProvidersFailed  = errors.New("pricing: all exchange rate providers failed")
	ErrRateNotFound        = errors.New("pricing: exchange rate not found")
	ErrInvalidRateDir      = errors.New("pricing: unsupported rate direction")

	// Calculation errors
	ErrInvalidSourcePrice = errors.New("pricing: source price must be positive")
	ErrInvalidMargin      = errors.New("pricing: margin rate must be positive")
	ErrInvalidRounding    = errors.New("pricing: invalid rounding strategy")
	ErrInvalidClamp       = errors.New("pricing: clamp minimum exceeds maximum")

	// History errors
	ErrPriceHistoryNotFound = errors.New("pricing: price history not found")
)
