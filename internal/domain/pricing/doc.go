// Package pricing contains the pricing bounded context: currency exchange
// rates, the provider port used to acquire them, the immutable price history
// and the pure price calculator.
//
// The canonical conversion is multiplicative: a price in the source currency
// is multiplied by a rate expressed as target units per source unit.
package pricing
