package conflict

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidConflictType = errors.New("conflict: invalid conflict type")
	ErrInvalidSKU          = errors.New("conflict: SKU cannot be empty")
	ErrIncompleteLog       = errors.New("conflict: resolved log requires conflict and resolution data")
	ErrAlreadyResolved     = errors.New("conflict: log already resolved")
	ErrLogNotFound         = errors.New("conflict: log not found")
	ErrNotReplayable       = errors.New("conflict: log cannot be replayed")
)

// ConflictType is the kind of disagreement between platforms
type ConflictType string

const (
	ConflictTypeInventory   ConflictType = "INVENTORY"
	ConflictTypePrice       ConflictType = "PRICE"
	ConflictTypeOrderStatus ConflictType = "ORDER_STATUS"
)

// IsValid returns true if the type is valid
func (t ConflictType) IsValid() bool {
	switch t {
	case ConflictTypeInventory, ConflictTypePrice, ConflictTypeOrderStatus:
		return true
	}
	return false
}

// String returns the string representation
func (t ConflictType) String() string {
	return string(t)
}

// Strategy names the rule that produced a resolution
type Strategy string

const (
	StrategyLatestTransaction        Strategy = "latest_transaction"
	StrategyConservativeMinimum      Strategy = "conservative_minimum"
	StrategyBidirectionalMaximum     Strategy = "bidirectional_maximum"
	StrategyTolerance5Percent        Strategy = "tolerance_5_percent"
	StrategyHistoricalAverage        Strategy = "historical_average"
	StrategySourceBasedRecalculation Strategy = "source_based_recalculation"
	StrategyStatusPriority           Strategy = "status_priority"
)

// String returns the string representation
func (s Strategy) String() string {
	return string(s)
}

// ConflictLog records one resolved (or pending) conflict.
// A log is never resolved unless both Conflict and Resolution are populated.
type ConflictLog struct {
	ID         uuid.UUID
	Type       ConflictType
	SKU        string
	Conflict   map[string]any
	Resolution map[string]any
	Strategy   Strategy
	Resolved   bool
	ResolvedAt *time.Time
	JobID      *uuid.UUID
	CreatedAt  time.Time
}

// NewConflictLog creates an unresolved log for the given inputs
func NewConflictLog(conflictType ConflictType, sku string, inputs map[string]any) (*ConflictLog, error) {
	if !conflictType.IsValid() {
		return nil, ErrInvalidConflictType
	}
	if sku == "" {
		return nil, ErrInvalidSKU
	}
	return &ConflictLog{
		ID:        uuid.New(),
		Type:      conflictType,
		SKU:       sku,
		Conflict:  inputs,
		CreatedAt: time.Now(),
	}, nil
}

// MarkResolved attaches the outcome and strategy
func (l *ConflictLog) MarkResolved(resolution map[string]any, strategy Strategy) error {
	if l.Resolved {
		return ErrAlreadyResolved
	}
	if len(l.Conflict) == 0 || len(resolution) == 0 || strategy == "" {
		return ErrIncompleteLog
	}
	now := time.Now()
	l.Resolution = resolution
	l.Strategy = strategy
	l.Resolved = true
	l.ResolvedAt = &now
	return nil
}

// WithJob associates the log with the sync job that produced it
func (l *ConflictLog) WithJob(jobID uuid.UUID) *ConflictLog {
	l.JobID = &jobID
	return l
}

// Validate checks the resolved invariant before persisting
func (l *ConflictLog) Validate() error {
	if !l.Type.IsValid() {
		return ErrInvalidConflictType
	}
	if l.SKU == "" {
		return ErrInvalidSKU
	}
	if l.Resolved && (len(l.Conflict) == 0 || len(l.Resolution) == 0) {
		return ErrIncompleteLog
	}
	return nil
}

// ---------------------------------------------------------------------------
// ConflictLogRepository Interface
// ---------------------------------------------------------------------------

// ConflictLogRepository persists conflict logs
type ConflictLogRepository interface {
	// Save inserts or updates a log. Implementations call Validate first.
	Save(ctx context.Context, log *ConflictLog) error

	// FindByID returns ErrLogNotFound when absent
	FindByID(ctx context.Context, id uuid.UUID) (*ConflictLog, error)

	// FindRecent returns logs newest first, optionally filtered by SKU
	FindRecent(ctx context.Context, sku string, limit int) ([]ConflictLog, error)

	// FindUnresolved returns logs that were never resolved
	FindUnresolved(ctx context.Context, limit int) ([]ConflictLog, error)
}
