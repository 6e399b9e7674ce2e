// Package platform talks to commerce platforms over their JSON REST APIs.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/erp/channelsync/internal/domain/integration"
	"github.com/erp/channelsync/internal/infrastructure/config"
)

// maxResponseSize caps how much of a platform response is read (1MB)
const maxResponseSize = 1 << 20

const defaultTimeout = 15 * time.Second

// RESTAdapter implements integration.PlatformAdapter against a listing API
// exposing, per product (and optional variant):
//
//	GET/PUT {base}/products/{id}[/variants/{vid}]/inventory  {"quantity": 12}
//	GET/PUT {base}/products/{id}[/variants/{vid}]/price      {"price": "19.90"}
//
// Requests are rate limited per adapter. Failures worth retrying are returned
// as *integration.TransientError; the adapter itself never retries.
type RESTAdapter struct {
	platform   integration.Platform
	name       string
	baseURL    string
	token      string
	currency   string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

var _ integration.PlatformAdapter = (*RESTAdapter)(nil)

// NewRESTAdapter creates an adapter for one side of the pair
func NewRESTAdapter(platform integration.Platform, cfg config.PlatformConfig, logger *zap.Logger) (*RESTAdapter, error) {
	if !platform.IsValid() {
		return nil, fmt.Errorf("%w: unknown platform %q", integration.ErrPlatformNotConfigured, platform)
	}
	if cfg.BaseURL == "" || cfg.Currency == "" {
		return nil, fmt.Errorf("%w: %s needs base_url and currency", integration.ErrPlatformNotConfigured, platform)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	name := cfg.Name
	if name == "" {
		name = platform.String()
	}

	return &RESTAdapter{
		platform:   platform,
		name:       name,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		currency:   strings.ToUpper(cfg.Currency),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logger.With(zap.String("platform", platform.String()), zap.String("platform_name", name)),
	}, nil
}

// Platform returns which side this adapter talks to
func (a *RESTAdapter) Platform() integration.Platform {
	return a.platform
}

// Currency returns the currency prices are expressed in
func (a *RESTAdapter) Currency() string {
	return a.currency
}

type quantityBody struct {
	Quantity *int `json:"quantity"`
}

type priceBody struct {
	Price *decimal.Decimal `json:"price"`
}

// GetQuantity reads the available quantity
func (a *RESTAdapter) GetQuantity(ctx context.Context, ref integration.ProductRef) (int, error) {
	var body quantityBody
	if err := a.do(ctx, http.MethodGet, a.resourcePath(ref, "inventory"), nil, &body); err != nil {
		return 0, err
	}
	if body.Quantity == nil {
		return 0, fmt.Errorf("%w: %s inventory for %s has no quantity", integration.ErrPlatformInvalidResponse, a.name, ref)
	}
	return *body.Quantity, nil
}

// SetQuantity overwrites the available quantity
func (a *RESTAdapter) SetQuantity(ctx context.Context, ref integration.ProductRef, quantity int) error {
	if quantity < 0 {
		return fmt.Errorf("%w: negative quantity %d for %s", integration.ErrPlatformInvalidResponse, quantity, ref)
	}
	return a.do(ctx, http.MethodPut, a.resourcePath(ref, "inventory"), quantityBody{Quantity: &quantity}, nil)
}

// GetPrice reads the current sale price
func (a *RESTAdapter) GetPrice(ctx context.Context, ref integration.ProductRef) (decimal.Decimal, error) {
	var body priceBody
	if err := a.do(ctx, http.MethodGet, a.resourcePath(ref, "price"), nil, &body); err != nil {
		return decimal.Zero, err
	}
	if body.Price == nil {
		return decimal.Zero, fmt.Errorf("%w: %s price for %s is missing", integration.ErrPlatformInvalidResponse, a.name, ref)
	}
	return *body.Price, nil
}

// SetPrice overwrites the sale price
func (a *RESTAdapter) SetPrice(ctx context.Context, ref integration.ProductRef, price decimal.Decimal) error {
	// string encoding keeps the exact cents on the wire
	return a.do(ctx, http.MethodPut, a.resourcePath(ref, "price"), map[string]string{"price": price.StringFixed(2)}, nil)
}

func (a *RESTAdapter) resourcePath(ref integration.ProductRef, resource string) string {
	p := "/products/" + url.PathEscape(ref.ProductID)
	if ref.VariantID != "" {
		p += "/variants/" + url.PathEscape(ref.VariantID)
	}
	return p + "/" + resource
}

func (a *RESTAdapter) do(ctx context.Context, method, path string, in, out any) error {
	op := method + " " + path
	if err := a.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limiter: %w", op, err)
	}

	var reqBody io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode body: %w", op, err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	start := time.Now()
	resp, err := a.httpClient.Do(req)
	if err != nil {
		// the caller gave up; retrying would not help
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s: %w", op, ctxErr)
		}
		return integration.NewTransientError(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return integration.NewTransientError(op, fmt.Errorf("read response: %w", err))
	}

	a.logger.Debug("Platform request",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if err := statusError(op, resp.StatusCode, body); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %s: %v", integration.ErrPlatformInvalidResponse, op, err)
	}
	return nil
}

func statusError(op string, status int, body []byte) error {
	switch {
	case status < 300:
		return nil
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", integration.ErrProductNotFound, op)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s: HTTP %d", integration.ErrPlatformAuthFailed, op, status)
	case status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500:
		return integration.NewTransientError(op, fmt.Errorf("HTTP %d: %s", status, snippet(body)))
	default:
		return fmt.Errorf("%w: %s: HTTP %d: %s", integration.ErrPlatformInvalidResponse, op, status, snippet(body))
	}
}

func snippet(body []byte) string {
	const limit = 200
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}

// NewAdapters builds the adapters for both platforms
func NewAdapters(cfg config.PlatformsConfig, logger *zap.Logger) (a, b *RESTAdapter, err error) {
	a, err = NewRESTAdapter(integration.PlatformA, cfg.A, logger)
	if err != nil {
		return nil, nil, err
	}
	b, err = NewRESTAdapter(integration.PlatformB, cfg.B, logger)
	if err != nil {
		return nil, nil, err
	}
	return a, b, nil
}
