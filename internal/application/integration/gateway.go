package integration

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/erp/channelsync/internal/domain/integration"
)

// GatewayConfig controls per-call timeouts and retries
type GatewayConfig struct {
	// CallTimeout bounds a single adapter call
	CallTimeout time.Duration
	// MaxRetries is the number of retries after the first attempt
	MaxRetries uint64
	// InitialInterval is the first backoff delay
	InitialInterval time.Duration
	// MaxInterval caps a single backoff delay
	MaxInterval time.Duration
}

// DefaultGatewayConfig returns 10s calls with 3 retries from 200ms up to 5s
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		CallTimeout:     10 * time.Second,
		MaxRetries:      3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

// PlatformGateway routes capability calls to the adapter of a platform and
// retries transient failures with exponential backoff. Adapters never retry
// on their own.
type PlatformGateway struct {
	adapters map[integration.Platform]integration.PlatformAdapter
	config   GatewayConfig
	logger   *zap.Logger
}

// NewPlatformGateway creates a gateway over the adapters of both platforms
func NewPlatformGateway(config GatewayConfig, logger *zap.Logger, adapters ...integration.PlatformAdapter) (*PlatformGateway, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = DefaultGatewayConfig().CallTimeout
	}
	g := &PlatformGateway{
		adapters: make(map[integration.Platform]integration.PlatformAdapter, len(adapters)),
		config:   config,
		logger:   logger,
	}
	for _, a := range adapters {
		g.adapters[a.Platform()] = a
	}
	for _, p := range []integration.Platform{integration.PlatformA, integration.PlatformB} {
		if _, ok := g.adapters[p]; !ok {
			return nil, integration.ErrPlatformNotConfigured
		}
	}
	return g, nil
}

// Currency returns the currency prices on a platform are expressed in
func (g *PlatformGateway) Currency(p integration.Platform) string {
	if a, ok := g.adapters[p]; ok {
		return a.Currency()
	}
	return ""
}

// GetQuantity reads the available quantity of a product on a platform
func (g *PlatformGateway) GetQuantity(ctx context.Context, p integration.Platform, ref integration.ProductRef) (int, error) {
	adapter, err := g.adapter(p)
	if err != nil {
		return 0, err
	}
	var qty int
	err = g.call(ctx, "get_quantity", p, ref, func(ctx context.Context) error {
		var callErr error
		qty, callErr = adapter.GetQuantity(ctx, ref)
		return callErr
	})
	return qty, err
}

// SetQuantity writes the available quantity of a product on a platform
func (g *PlatformGateway) SetQuantity(ctx context.Context, p integration.Platform, ref integration.ProductRef, qty int) error {
	adapter, err := g.adapter(p)
	if err != nil {
		return err
	}
	return g.call(ctx, "set_quantity", p, ref, func(ctx context.Context) error {
		return adapter.SetQuantity(ctx, ref, qty)
	})
}

// GetPrice reads the sale price of a product on a platform
func (g *PlatformGateway) GetPrice(ctx context.Context, p integration.Platform, ref integration.ProductRef) (decimal.Decimal, error) {
	adapter, err := g.adapter(p)
	if err != nil {
		return decimal.Zero, err
	}
	var price decimal.Decimal
	err = g.call(ctx, "get_price", p, ref, func(ctx context.Context) error {
		var callErr error
		price, callErr = adapter.GetPrice(ctx, ref)
		return callErr
	})
	return price, err
}

// SetPrice writes the sale price of a product on a platform
func (g *PlatformGateway) SetPrice(ctx context.Context, p integration.Platform, ref integration.ProductRef, price decimal.Decimal) error {
	adapter, err := g.adapter(p)
	if err != nil {
		return err
	}
	return g.call(ctx, "set_price", p, ref, func(ctx context.Context) error {
		return adapter.SetPrice(ctx, ref, price)
	})
}

func (g *PlatformGateway) adapter(p integration.Platform) (integration.PlatformAdapter, error) {
	a, ok := g.adapters[p]
	if !ok {
		return nil, integration.ErrPlatformNotConfigured
	}
	return a, nil
}

// call runs fn with a per-attempt timeout and retries retryable failures
func (g *PlatformGateway) call(ctx context.Context, op string, p integration.Platform, ref integration.ProductRef, fn func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.config.InitialInterval
	b.MaxInterval = g.config.MaxInterval
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, g.config.MaxRetries), ctx)

	operation := func() error {
		callCtx, cancel := context.WithTimeout(ctx, g.config.CallTimeout)
		defer cancel()
		err := fn(callCtx)
		if err == nil {
			return nil
		}
		// a per-call timeout is retryable, a cancelled parent is not
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return integration.NewTransientError(op, err)
		}
		if integration.IsRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	notify := func(err error, next time.Duration) {
		g.logger.Warn("Platform call failed, retrying",
			zap.String("op", op),
			zap.String("platform", p.String()),
			zap.String("product", ref.String()),
			zap.Duration("retry_in", next),
			zap.Error(err),
		)
	}

	return backoff.RetryNotify(operation, policy, notify)
}
