package pricing

import "github.com/shopspring/decimal"

// referenceUSD holds approximate units of each currency per US dollar.
// These are last-resort values for when no provider or history is available.
var referenceUSD = map[string]string{
	"USD": "1",
	"EUR": "0.92",
	"GBP": "0.79",
	"JPY": "150",
	"CNY": "7.2",
	"KRW": "1350",
	"HKD": "7.8",
	"SGD": "1.34",
	"CAD": "1.36",
	"AUD": "1.52",
	"INR": "83",
	"MXN": "17",
	"BRL": "5",
}

// Inverse returns the pair converting the other way
func (p CurrencyPair) Inverse() CurrencyPair {
	return CurrencyPair{Base: p.Target, Target: p.Base}
}

// ReferenceRate returns a built-in approximate rate for pair, crossed through
// USD. ok is false when either currency has no reference value.
func ReferenceRate(pair CurrencyPair) (rate decimal.Decimal, ok bool) {
	base, okBase := referenceUSD[pair.Base]
	target, okTarget := referenceUSD[pair.Target]
	if !okBase || !okTarget {
		return decimal.Zero, false
	}
	return decimal.RequireFromString(target).DivRound(decimal.RequireFromString(base), 8), true
}
