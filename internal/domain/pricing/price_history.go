package pricing

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PriceStatus is the outcome of a price sync for one product
type PriceStatus string

const (
	PriceStatusApplied   PriceStatus = "APPLIED"
	PriceStatusUnchanged PriceStatus = "UNCHANGED"
	PriceStatusFailed    PriceStatus = "FAILED"
)

// PriceHistory is an immutable record of one price computation
type PriceHistory struct {
	ID            uuid.UUID
	SKU           string
	SourcePrice   decimal.Decimal
	Rate          decimal.Decimal
	MarginRate    decimal.Decimal
	ResultPrice   decimal.Decimal
	PreviousPrice *decimal.Decimal
	AppliedRule   string
	Strategy      string
	Warnings      []PriceWarning
	Status        PriceStatus
	JobID         *uuid.UUID
	CreatedAt     time.Time
}

// NewPriceHistory records a computation
func NewPriceHistory(sku string, in PriceInput, result *PriceResult, status PriceStatus) *PriceHistory {
	return &PriceHistory{
		ID:            uuid.New(),
		SKU:           sku,
		SourcePrice:   in.SourcePrice,
		Rate:          in.Rate,
		MarginRate:    result.MarginRate,
		ResultPrice:   result.Price,
		PreviousPrice: in.LastPrice,
		AppliedRule:   result.AppliedRule,
		Warnings:      result.Warnings,
		Status:        status,
		CreatedAt:     time.Now(),
	}
}

// WarningsString joins warnings for storage
func (h *PriceHistory) WarningsString() string {
	parts := make([]string, len(h.Warnings))
	for i, w := range h.Warnings {
		parts[i] = string(w)
	}
	return strings.Join(parts, ",")
}

// ParseWarnings splits a stored warnings string
func ParseWarnings(s string) []PriceWarning {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	warnings := make([]PriceWarning, len(parts))
	for i, p := range parts {
		warnings[i] = PriceWarning(p)
	}
	return warnings
}

// AveragePrice returns the mean ResultPrice of the entries, or false when empty
func AveragePrice(entries []PriceHistory) (decimal.Decimal, bool) {
	if len(entries) == 0 {
		return decimal.Zero, false
	}
	sum := decimal.Zero
	for _, e := range entries {
		sum = sum.Add(e.ResultPrice)
	}
	return sum.Div(decimal.NewFromInt(int64(len(entries)))), true
}

// PriceHistoryRepository persists price history entries
type PriceHistoryRepository interface {
	// Record inserts an entry
	Record(ctx context.Context, entry *PriceHistory) error

	// Recent returns the newest entries for a SKU, newest first
	Recent(ctx context.Context, sku string, limit int) ([]PriceHistory, error)

	// LatestApplied returns the newest applied entry, or ErrPriceHistoryNotFound
	LatestApplied(ctx context.Context, sku string) (*PriceHistory, error)
}
