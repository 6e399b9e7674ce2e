// Package exchangerate fetches exchange rates from HTTP rate APIs.
package exchangerate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/erp/channelsync/internal/domain/pricing"
	"github.com/erp/channelsync/internal/infrastructure/config"
)

const maxResponseSize = 1 << 20

var (
	ErrProviderMisconfigured = errors.New("exchangerate: provider needs a name and a url")
	ErrProviderResponse      = errors.New("exchangerate: unexpected provider response")
)

// HTTPRateProvider reads rates from JSON APIs that return a map of target
// currency to rate for a base currency, such as
//
//	{"result":"success","base_code":"USD","rates":{"KRW":1350.2}}
//
// The URL may contain {base}, replaced with the base currency code.
type HTTPRateProvider struct {
	name        string
	urlTemplate string
	apiKey      string
	priority    int
	client      *http.Client
}

var _ pricing.ExchangeRateProvider = (*HTTPRateProvider)(nil)

// NewHTTPRateProvider creates a provider from its configuration
func NewHTTPRateProvider(cfg config.ProviderConfig) (*HTTPRateProvider, error) {
	if cfg.Name == "" || cfg.URL == "" {
		return nil, ErrProviderMisconfigured
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPRateProvider{
		name:        cfg.Name,
		urlTemplate: cfg.URL,
		apiKey:      cfg.APIKey,
		priority:    cfg.Priority,
		client:      &http.Client{Timeout: timeout},
	}, nil
}

// NewHTTPRateProviders builds one provider per configuration entry
func NewHTTPRateProviders(cfgs []config.ProviderConfig) ([]pricing.ExchangeRateProvider, error) {
	providers := make([]pricing.ExchangeRateProvider, 0, len(cfgs))
	for i, cfg := range cfgs {
		p, err := NewHTTPRateProvider(cfg)
		if err != nil {
			return nil, fmt.Errorf("provider %d: %w", i, err)
		}
		providers = append(providers, p)
	}
	return providers, nil
}

// Metadata describes the provider
func (p *HTTPRateProvider) Metadata() pricing.ProviderMetadata {
	return pricing.ProviderMetadata{
		Name:               p.name,
		Priority:           p.priority,
		RequiresCredential: p.apiKey != "",
	}
}

type rateResponse struct {
	Result string `json:"result"`
	// "rates" on open.er-api style APIs, "conversion_rates" on keyed v6 APIs
	Rates           map[string]decimal.Decimal `json:"rates"`
	ConversionRates map[string]decimal.Decimal `json:"conversion_rates"`
	ErrorType       string                     `json:"error-type"`
}

// Fetch returns the rate converting one unit of pair.Base into pair.Target
func (p *HTTPRateProvider) Fetch(ctx context.Context, pair pricing.CurrencyPair) (decimal.Decimal, error) {
	url := strings.ReplaceAll(p.urlTemplate, "{base}", pair.Base)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: create request: %w", p.name, err)
	}
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", p.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: read response: %w", p.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("%w: %s returned HTTP %d", ErrProviderResponse, p.name, resp.StatusCode)
	}

	var parsed rateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s: %v", ErrProviderResponse, p.name, err)
	}
	if parsed.Result == "error" {
		return decimal.Zero, fmt.Errorf("%w: %s: %s", ErrProviderResponse, p.name, parsed.ErrorType)
	}

	rates := parsed.Rates
	if len(rates) == 0 {
		rates = parsed.ConversionRates
	}
	rate, ok := rates[pair.Target]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s has no %s rate", pricing.ErrRateNotFound, p.name, pair)
	}
	if !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s returned non-positive rate %s", ErrProviderResponse, p.name, rate)
	}
	return rate, nil
}
