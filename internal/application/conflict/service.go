package conflict

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/erp/channelsync/internal/domain/conflict"
	"github.com/erp/channelsync/internal/domain/integration"
)

const defaultRecentLimit = 50

// Service runs the pure resolvers and keeps an audit trail of every decision
// in the conflict log. A failed log write never changes the resolution.
type Service struct {
	repo   conflict.ConflictLogRepository
	logger *zap.Logger
}

// NewService creates a conflict Service
func NewService(repo conflict.ConflictLogRepository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, logger: logger}
}

// ResolveInventory decides the quantity both platforms converge to
func (s *Service) ResolveInventory(ctx context.Context, c conflict.InventoryConflict, jobID *uuid.UUID) conflict.InventoryResolution {
	res := conflict.ResolveInventory(c)
	s.record(ctx, conflict.ConflictTypeInventory, c.SKU, c.Inputs(), map[string]any{"quantity": res.Quantity}, res.Strategy, jobID)
	return res
}

// ResolvePrice decides the price the target platform should carry
func (s *Service) ResolvePrice(ctx context.Context, c conflict.PriceConflict, jobID *uuid.UUID) conflict.PriceResolution {
	res := conflict.ResolvePrice(c)
	s.record(ctx, conflict.ConflictTypePrice, c.SKU, c.Inputs(), map[string]any{"price": res.Price.String()}, res.Strategy, jobID)
	return res
}

// ResolveOrderStatus decides the status both platforms should carry
func (s *Service) ResolveOrderStatus(ctx context.Context, sku string, a, b integration.PlatformOrderStatus) conflict.OrderStatusResolution {
	res := conflict.ResolveOrderStatus(a, b)
	inputs := map[string]any{"status_a": string(a), "status_b": string(b)}
	s.record(ctx, conflict.ConflictTypeOrderStatus, sku, inputs, map[string]any{"status": string(res.Status)}, res.Strategy, nil)
	return res
}

func (s *Service) record(ctx context.Context, t conflict.ConflictType, sku string, inputs, resolution map[string]any, strategy conflict.Strategy, jobID *uuid.UUID) {
	entry, err := conflict.NewConflictLog(t, sku, inputs)
	if err == nil {
		err = entry.MarkResolved(resolution, strategy)
	}
	if err == nil {
		if jobID != nil {
			entry.WithJob(*jobID)
		}
		err = s.repo.Save(ctx, entry)
	}
	if err != nil {
		s.logger.Error("Failed to record conflict",
			zap.String("type", t.String()),
			zap.String("sku", sku),
			zap.String("strategy", strategy.String()),
			zap.Error(err),
		)
		return
	}
	s.logger.Info("Conflict resolved",
		zap.String("type", t.String()),
		zap.String("sku", sku),
		zap.String("strategy", strategy.String()),
	)
}

// ---------------------------------------------------------------------------
// Admin operations
// ---------------------------------------------------------------------------

// Recent returns the newest conflict logs, optionally for one SKU
func (s *Service) Recent(ctx context.Context, sku string, limit int) ([]conflict.ConflictLog, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	return s.repo.FindRecent(ctx, sku, limit)
}

// Unresolved returns logs that were saved without a resolution
func (s *Service) Unresolved(ctx context.Context, limit int) ([]conflict.ConflictLog, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	return s.repo.FindUnresolved(ctx, limit)
}

// ReplayResult compares a stored decision with a fresh evaluation of its inputs
type ReplayResult struct {
	Log        *conflict.ConflictLog
	Resolution map[string]any
	Strategy   conflict.Strategy
	// Matches is true when the stored decision equals the replayed one
	Matches bool
}

// Replay re-runs the resolver on a logged conflict's inputs. An unresolved
// log is resolved and saved.
func (s *Service) Replay(ctx context.Context, id uuid.UUID) (*ReplayResult, error) {
	entry, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	resolution, strategy, err := replay(entry)
	if err != nil {
		return nil, err
	}
	result := &ReplayResult{Log: entry, Resolution: resolution, Strategy: strategy}

	if !entry.Resolved {
		if err := entry.MarkResolved(resolution, strategy); err != nil {
			return nil, err
		}
		if err := s.repo.Save(ctx, entry); err != nil {
			return nil, err
		}
		result.Matches = true
		return result, nil
	}

	result.Matches = entry.Strategy == strategy && sameResolution(entry.Resolution, resolution)
	if !result.Matches {
		s.logger.Warn("Conflict replay diverged",
			zap.String("id", id.String()),
			zap.String("stored_strategy", entry.Strategy.String()),
			zap.String("replayed_strategy", strategy.String()),
		)
	}
	return result, nil
}

func replay(entry *conflict.ConflictLog) (map[string]any, conflict.Strategy, error) {
	in := entry.Conflict
	switch entry.Type {
	case conflict.ConflictTypeInventory:
		c := conflict.InventoryConflict{SKU: entry.SKU}
		var err error
		if c.QuantityA, err = intField(in, "quantity_a"); err != nil {
			return nil, "", err
		}
		if c.QuantityB, err = intField(in, "quantity_b"); err != nil {
			return nil, "", err
		}
		if raw, ok := in["last_sync_at"].(string); ok {
			if t, err := time.Parse(time.RFC3339, raw); err == nil {
				c.LastSyncAt = &t
			}
		}
		if _, ok := in["latest_quantity"]; ok {
			q, err := intField(in, "latest_quantity")
			if err != nil {
				return nil, "", err
			}
			c.LatestQuantity = &q
		}
		res := conflict.ResolveInventory(c)
		return map[string]any{"quantity": res.Quantity}, res.Strategy, nil

	case conflict.ConflictTypePrice:
		c := conflict.PriceConflict{SKU: entry.SKU}
		var err error
		if c.SourcePrice, err = decimalField(in, "source_price"); err != nil {
			return nil, "", err
		}
		if c.TargetPrice, err = decimalField(in, "target_price"); err != nil {
			return nil, "", err
		}
		if c.ExpectedPrice, err = decimalField(in, "expected_price"); err != nil {
			return nil, "", err
		}
		if _, ok := in["historical_average"]; ok {
			avg, err := decimalField(in, "historical_average")
			if err != nil {
				return nil, "", err
			}
			c.HistoricalAverage = &avg
		}
		res := conflict.ResolvePrice(c)
		return map[string]any{"price": res.Price.String()}, res.Strategy, nil

	case conflict.ConflictTypeOrderStatus:
		a, _ := in["status_a"].(string)
		b, _ := in["status_b"].(string)
		res := conflict.ResolveOrderStatus(integration.PlatformOrderStatus(a), integration.PlatformOrderStatus(b))
		return map[string]any{"status": string(res.Status)}, res.Strategy, nil
	}
	return nil, "", conflict.ErrNotReplayable
}

func intField(in map[string]any, key string) (int, error) {
	switch v := in[key].(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	}
	return 0, fmt.Errorf("%w: field %q", conflict.ErrNotReplayable, key)
}

func decimalField(in map[string]any, key string) (decimal.Decimal, error) {
	raw, ok := in[key].(string)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: field %q", conflict.ErrNotReplayable, key)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: field %q: %v", conflict.ErrNotReplayable, key, err)
	}
	return d, nil
}

// sameResolution compares values by their printed form so that stored JSON
// numbers and fresh ints compare equal
func sameResolution(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, va := range a {
		vb, ok := b[k]
		if !ok || fmt.Sprint(va) != fmt.Sprint(vb) {
			return false
		}
	}
	return true
}
