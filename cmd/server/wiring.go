package main

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/erp/channelsync/internal/application/exchangerate"
	integrationapp "github.com/erp/channelsync/internal/application/integration"
	inventoryapp "github.com/erp/channelsync/internal/application/inventory"
	"github.com/erp/channelsync/internal/application/orchestration"
	pricingapp "github.com/erp/channelsync/internal/application/pricing"
	"github.com/erp/channelsync/internal/domain/pricing"
	"github.com/erp/channelsync/internal/domain/syncjob"
	"github.com/erp/channelsync/internal/infrastructure/config"
)

// Conversions from the loaded configuration to the settings of each
// service. config.validate has already rejected malformed decimals.

func decimalOr(s string, fallback decimal.Decimal) decimal.Decimal {
	d, err := config.OptionalDecimal(s)
	if err != nil || d == nil {
		return fallback
	}
	return *d
}

func calculatorConfig(cfg config.PricingConfig) (pricing.CalculatorConfig, error) {
	out := pricing.CalculatorConfig{
		Rounding:       pricing.RoundingStrategy(strings.ToUpper(cfg.Rounding)),
		SanityFloor:    decimalOr(cfg.SanityFloor, decimal.Zero),
		SwingThreshold: decimalOr(cfg.SwingThreshold, decimal.Zero),
	}

	minPrice, err := config.OptionalDecimal(cfg.MinPrice)
	if err != nil {
		return out, fmt.Errorf("pricing.min_price: %w", err)
	}
	maxPrice, err := config.OptionalDecimal(cfg.MaxPrice)
	if err != nil {
		return out, fmt.Errorf("pricing.max_price: %w", err)
	}
	if minPrice != nil || maxPrice != nil {
		out.Clamp = &pricing.Clamp{Min: minPrice, Max: maxPrice}
	}

	for i, rc := range cfg.Rules {
		scope := pricing.RuleScope(strings.ToUpper(rc.Scope))
		switch scope {
		case pricing.RuleScopeSKU, pricing.RuleScopeBrand, pricing.RuleScopeCategory:
		default:
			return out, fmt.Errorf("pricing.rules[%d].scope must be sku, brand or category, got %q", i, rc.Scope)
		}
		margin, err := decimal.NewFromString(rc.MarginRate)
		if err != nil {
			return out, fmt.Errorf("pricing.rules[%d].margin_rate: %w", i, err)
		}
		out.Rules = append(out.Rules, pricing.MarginRule{
			Name:       rc.Name,
			Scope:      scope,
			Match:      rc.Match,
			MarginRate: margin,
		})
	}
	return out, nil
}

func rateChainConfig(cfg config.ExchangeRateConfig, platforms config.PlatformsConfig) exchangerate.Config {
	defaults := exchangerate.DefaultConfig()
	var defaultRates map[pricing.CurrencyPair]decimal.Decimal
	if rate := decimalOr(cfg.DefaultRate, decimal.Zero); rate.IsPositive() {
		if pair, err := pricing.NewCurrencyPair(platforms.A.Currency, platforms.B.Currency); err == nil {
			defaultRates = map[pricing.CurrencyPair]decimal.Decimal{pair: rate}
		}
	}
	return exchangerate.Config{
		CacheTTL:        cfg.CacheTTL,
		ChangeThreshold: decimalOr(cfg.ChangeThreshold, defaults.ChangeThreshold),
		DefaultRates:    defaultRates,
		Bounds: pricing.RateBounds{
			Min: decimalOr(cfg.MinRate, defaults.Bounds.Min),
			Max: decimalOr(cfg.MaxRate, defaults.Bounds.Max),
		},
		ProviderTimeout: cfg.ProviderTimeout,
	}
}

func gatewayConfig(cfg config.SyncConfig) integrationapp.GatewayConfig {
	retries := cfg.CallRetries
	if retries < 0 {
		retries = 0
	}
	return integrationapp.GatewayConfig{
		CallTimeout:     cfg.CallTimeout,
		MaxRetries:      uint64(retries),
		InitialInterval: cfg.CallRetryInterval,
		MaxInterval:     cfg.CallRetryMaxInterval,
	}
}

func reconcileConfig(cfg config.SyncConfig) inventoryapp.ReconcileConfig {
	return inventoryapp.ReconcileConfig{
		LockTTL:             cfg.LockTTL,
		CriticalThreshold:   cfg.CriticalThreshold,
		BidirectionalPolicy: inventoryapp.BidirectionalPolicy(cfg.BidirectionalPolicy),
	}
}

func priceSyncConfig(cfg config.SyncConfig) pricingapp.Config {
	return pricingapp.Config{LockTTL: cfg.LockTTL}
}

func orchestratorConfig(cfg config.SyncConfig) orchestration.Config {
	return orchestration.Config{
		Workers:      cfg.Workers,
		QueueSize:    cfg.QueueSize,
		MaxBatchSize: cfg.MaxBatchSize,
		MaxRetries:   cfg.MaxRetries,
		JobTimeout:   cfg.JobTimeout,
		ItemTimeout:  cfg.ItemTimeout,
		WaitTimeout:  cfg.WaitTimeout,
		PollInterval: cfg.PollInterval,
		HistorySize:  cfg.HistorySize,
		Retry: syncjob.RetryPolicy{
			Base:       cfg.RetryBase,
			Multiplier: cfg.RetryMultiplier,
			Cap:        cfg.RetryCap,
		},
	}
}

func reportConfig(cfg config.ReportConfig) orchestration.ReportConfig {
	return orchestration.ReportConfig{
		ConflictLimit: cfg.ConflictLimit,
		JobLimit:      cfg.JobLimit,
	}
}

// ratePairs returns the pairs the price sync converts between, both ways.
// Platforms sharing a currency need no rate.
func ratePairs(cfg config.PlatformsConfig) ([]pricing.CurrencyPair, error) {
	if strings.EqualFold(cfg.A.Currency, cfg.B.Currency) {
		return nil, nil
	}
	ab, err := pricing.NewCurrencyPair(cfg.A.Currency, cfg.B.Currency)
	if err != nil {
		return nil, fmt.Errorf("platform currencies: %w", err)
	}
	ba, err := pricing.NewCurrencyPair(cfg.B.Currency, cfg.A.Currency)
	if err != nil {
		return nil, fmt.Errorf("platform currencies: %w", err)
	}
	return []pricing.CurrencyPair{ab, ba}, nil
}
