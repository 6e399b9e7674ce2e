package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/erp/channelsync/internal/domain/pricing"
)

// ExchangeRateModel is the persistence model for exchange rates.
type ExchangeRateModel struct {
	AppendOnlyModel
	BaseCurrency   string             `gorm:"type:char(3);not null;index:idx_exchange_rate_pair,priority:1"`
	TargetCurrency string             `gorm:"type:char(3);not null;index:idx_exchange_rate_pair,priority:2"`
	Rate           decimal.Decimal    `gorm:"type:decimal(20,10);not null"`
	Source         pricing.RateSource `gorm:"type:varchar(10);not null;index:idx_exchange_rate_pair,priority:3"`
	Provider       string             `gorm:"type:varchar(50)"`
	Reason         string             `gorm:"type:text"`
	ValidFrom      time.Time          `gorm:"not null"`
	ValidUntil     time.Time          `gorm:"not null;index"`
}

// TableName returns the table name for GORM
func (ExchangeRateModel) TableName() string {
	return "exchange_rates"
}

// ToDomain converts the persistence model to a domain ExchangeRate.
func (m *ExchangeRateModel) ToDomain() *pricing.ExchangeRate {
	return &pricing.ExchangeRate{
		ID:         m.ID,
		Pair:       pricing.CurrencyPair{Base: m.BaseCurrency, Target: m.TargetCurrency},
		Rate:       m.Rate,
		Source:     m.Source,
		Provider:   m.Provider,
		Reason:     m.Reason,
		ValidFrom:  m.ValidFrom,
		ValidUntil: m.ValidUntil,
		CreatedAt:  m.CreatedAt,
	}
}

// ExchangeRateModelFromDomain creates a new persistence model from a domain ExchangeRate.
func ExchangeRateModelFromDomain(r *pricing.ExchangeRate) *ExchangeRateModel {
	return &ExchangeRateModel{
		AppendOnlyModel: AppendOnlyModel{ID: r.ID, CreatedAt: r.CreatedAt},
		BaseCurrency:    r.Pair.Base,
		TargetCurrency:  r.Pair.Target,
		Rate:            r.Rate,
		Source:          r.Source,
		Provider:        r.Provider,
		Reason:          r.Reason,
		ValidFrom:       r.ValidFrom,
		ValidUntil:      r.ValidUntil,
	}
}

// PriceHistoryModel is the persistence model for price computations.
type PriceHistoryModel struct {
	AppendOnlyModel
	SKU           string              `gorm:"type:varchar(100);not null;index"`
	SourcePrice   decimal.Decimal     `gorm:"type:decimal(18,4);not null"`
	Rate          decimal.Decimal     `gorm:"type:decimal(20,10);not null"`
	MarginRate    decimal.Decimal     `gorm:"type:decimal(10,4);not null"`
	ResultPrice   decimal.Decimal     `gorm:"type:decimal(18,2);not null"`
	PreviousPrice *decimal.Decimal    `gorm:"type:decimal(18,2)"`
	AppliedRule   string              `gorm:"type:varchar(100)"`
	Strategy      string              `gorm:"type:varchar(50)"`
	Warnings      string              `gorm:"type:varchar(255)"`
	Status        pricing.PriceStatus `gorm:"type:varchar(20);not null"`
	JobID         *uuid.UUID          `gorm:"type:uuid;index"`
}

// TableName returns the table name for GORM
func (PriceHistoryModel) TableName() string {
	return "price_history"
}

// ToDomain converts the persistence model to a domain PriceHistory.
func (m *PriceHistoryModel) ToDomain() *pricing.PriceHistory {
	return &pricing.PriceHistory{
		ID:            m.ID,
		SKU:           m.SKU,
		SourcePrice:   m.SourcePrice,
		Rate:          m.Rate,
		MarginRate:    m.MarginRate,
		ResultPrice:   m.ResultPrice,
		PreviousPrice: m.PreviousPrice,
		AppliedRule:   m.AppliedRule,
		Strategy:      m.Strategy,
		Warnings:      pricing.ParseWarnings(m.Warnings),
		Status:        m.Status,
		JobID:         m.JobID,
		CreatedAt:     m.CreatedAt,
	}
}

// PriceHistoryModelFromDomain creates a new persistence model from a domain PriceHistory.
func PriceHistoryModelFromDomain(h *pricing.PriceHistory) *PriceHistoryModel {
	return &PriceHistoryModel{
		AppendOnlyModel: AppendOnlyModel{ID: h.ID, CreatedAt: h.CreatedAt},
		SKU:             h.SKU,
		SourcePrice:     h.SourcePrice,
		Rate:            h.Rate,
		MarginRate:      h.MarginRate,
		ResultPrice:     h.ResultPrice,
		PreviousPrice:   h.PreviousPrice,
		AppliedRule:     h.AppliedRule,
		Strategy:        h.Strategy,
		Warnings:        h.WarningsString(),
		Status:          h.Status,
		JobID:           h.JobID,
	}
}
