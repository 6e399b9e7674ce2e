package integration

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// SyncDirection
// ---------------------------------------------------------------------------

// SyncDirection decides which platform is authoritative for a product
type SyncDirection string

const (
	// SyncDirectionAToB copies platform A's state onto platform B
	SyncDirectionAToB SyncDirection = "A_TO_B"
	// SyncDirectionBToA copies platform B's state onto platform A
	SyncDirectionBToA SyncDirection = "B_TO_A"
	// SyncDirectionBidirectional converges both platforms onto one value
	SyncDirectionBidirectional SyncDirection = "BIDIRECTIONAL"
)

// IsValid returns true if the direction is valid
func (d SyncDirection) IsValid() bool {
	switch d {
	case SyncDirectionAToB, SyncDirectionBToA, SyncDirectionBidirectional:
		return true
	default:
		return false
	}
}

// String returns the string representation of SyncDirection
func (d SyncDirection) String() string {
	return string(d)
}

// Source returns the authoritative platform for one-way directions.
// Bidirectional mappings take prices from platform A.
func (d SyncDirection) Source() Platform {
	if d == SyncDirectionBToA {
		return PlatformB
	}
	return PlatformA
}

// ---------------------------------------------------------------------------
// SyncStatus
// ---------------------------------------------------------------------------

// SyncStatus represents the synchronization status of a mapping
type SyncStatus string

const (
	// SyncStatusPending indicates the mapping was never synced
	SyncStatusPending SyncStatus = "PENDING"
	// SyncStatusSynced indicates both platforms agree
	SyncStatusSynced SyncStatus = "SYNCED"
	// SyncStatusDiscrepancy indicates a difference that could not be corrected
	SyncStatusDiscrepancy SyncStatus = "DISCREPANCY"
	// SyncStatusFailed indicates the last sync attempt failed
	SyncStatusFailed SyncStatus = "FAILED"
)

// IsValid returns true if the status is valid
func (s SyncStatus) IsValid() bool {
	switch s {
	case SyncStatusPending, SyncStatusSynced, SyncStatusDiscrepancy, SyncStatusFailed:
		return true
	default:
		return false
	}
}

// String returns the string representation of SyncStatus
func (s SyncStatus) String() string {
	return string(s)
}

// ---------------------------------------------------------------------------
// ProductMapping Entity
// ---------------------------------------------------------------------------

// ProductMapping associates one SKU with its identifiers on both platforms.
// Mappings are provisioned externally and never deleted, only deactivated.
type ProductMapping struct {
	ID  uuid.UUID
	SKU string
	// PlatformA identifies the product on platform A
	PlatformA ProductRef
	// PlatformB identifies the product on platform B
	PlatformB ProductRef
	// Category and Brand scope margin override rules
	Category string
	Brand    string
	// MarginRate multiplies the converted price (1.15 = 15% margin)
	MarginRate decimal.Decimal
	Direction  SyncDirection
	IsActive   bool
	// SyncStatus is the result of the last reconciliation
	SyncStatus SyncStatus
	LastSyncAt *time.Time
	// Discrepancy is the absolute quantity difference seen by the last run
	Discrepancy   int
	LastSyncError string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewProductMapping creates a new active mapping
func NewProductMapping(sku string, a, b ProductRef, marginRate decimal.Decimal, direction SyncDirection) (*ProductMapping, error) {
	now := time.Now()
	m := &ProductMapping{
		ID:         uuid.New(),
		SKU:        sku,
		PlatformA:  a,
		PlatformB:  b,
		MarginRate: marginRate,
		Direction:  direction,
		IsActive:   true,
		SyncStatus: SyncStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate validates the product mapping
func (m *ProductMapping) Validate() error {
	if m.SKU == "" {
		return ErrMappingInvalidSKU
	}
	if m.PlatformA.ProductID == "" || m.PlatformB.ProductID == "" {
		return ErrMappingInvalidProductID
	}
	if !m.Direction.IsValid() {
		return ErrMappingInvalidDirection
	}
	if !m.MarginRate.IsPositive() {
		return ErrMappingInvalidMargin
	}
	return nil
}

// RefFor returns the product reference on the given platform
func (m *ProductMapping) RefFor(p Platform) ProductRef {
	if p == PlatformB {
		return m.PlatformB
	}
	return m.PlatformA
}

// Activate activates this mapping
func (m *ProductMapping) Activate() {
	m.IsActive = true
	m.UpdatedAt = time.Now()
}

// Deactivate deactivates this mapping
func (m *ProductMapping) Deactivate() {
	m.IsActive = false
	m.UpdatedAt = time.Now()
}

// UpdateMargin replaces the margin rate
func (m *ProductMapping) UpdateMargin(rate decimal.Decimal) error {
	if !rate.IsPositive() {
		return ErrMappingInvalidMargin
	}
	m.MarginRate = rate
	m.UpdatedAt = time.Now()
	return nil
}

// ChangeDirection replaces the sync direction
func (m *ProductMapping) ChangeDirection(d SyncDirection) error {
	if !d.IsValid() {
		return ErrMappingInvalidDirection
	}
	m.Direction = d
	m.UpdatedAt = time.Now()
	return nil
}

// RecordSyncSuccess records a run that left both platforms in agreement.
// discrepancy is the difference that was observed (and corrected).
func (m *ProductMapping) RecordSyncSuccess(discrepancy int) {
	now := time.Now()
	m.LastSyncAt = &now
	m.SyncStatus = SyncStatusSynced
	m.Discrepancy = discrepancy
	m.LastSyncError = ""
	m.UpdatedAt = now
}

// RecordDiscrepancy records a difference that is still present after the run
func (m *ProductMapping) RecordDiscrepancy(discrepancy int, reason string) {
	now := time.Now()
	m.LastSyncAt = &now
	m.SyncStatus = SyncStatusDiscrepancy
	m.Discrepancy = discrepancy
	m.LastSyncError = reason
	m.UpdatedAt = now
}

// RecordSyncFailure records a failed sync
func (m *ProductMapping) RecordSyncFailure(errMsg string) {
	now := time.Now()
	m.SyncStatus = SyncStatusFailed
	m.LastSyncError = errMsg
	m.UpdatedAt = now
}

// SyncState is the part of a mapping written by reconciliation runs.
// Everything else on the mapping belongs to operators.
type SyncState struct {
	Status      SyncStatus
	LastSyncAt  *time.Time
	Discrepancy int
	LastError   string
}

// SyncState returns the outcome recorded by the last run
func (m *ProductMapping) SyncState() SyncState {
	return SyncState{
		Status:      m.SyncStatus,
		LastSyncAt:  m.LastSyncAt,
		Discrepancy: m.Discrepancy,
		LastError:   m.LastSyncError,
	}
}

// ---------------------------------------------------------------------------
// ProductMappingRepository Interface
// ---------------------------------------------------------------------------

// ProductMappingReader defines the interface for reading product mappings
type ProductMappingReader interface {
	// FindByID finds a mapping by its ID
	FindByID(ctx context.Context, id uuid.UUID) (*ProductMapping, error)

	// FindBySKU finds a mapping by SKU
	FindBySKU(ctx context.Context, sku string) (*ProductMapping, error)
}

// ProductMappingFinder defines the interface for searching product mappings
type ProductMappingFinder interface {
	// FindActive returns all active mappings ordered by SKU
	FindActive(ctx context.Context) ([]ProductMapping, error)

	// FindActiveBySKUs returns the active mappings among the given SKUs
	FindActiveBySKUs(ctx context.Context, skus []string) ([]ProductMapping, error)

	// FindWithDiscrepancy returns active mappings whose last run saw at least
	// minDiscrepancy units of difference or left a discrepancy behind
	FindWithDiscrepancy(ctx context.Context, minDiscrepancy int) ([]ProductMapping, error)
}

// ProductMappingWriter defines the interface for persisting product mappings
type ProductMappingWriter interface {
	// Save creates or updates a mapping
	Save(ctx context.Context, mapping *ProductMapping) error

	// UpdateSyncState writes only the sync outcome of the mapping for sku.
	// It returns ErrMappingNotFound when no mapping has that SKU.
	UpdateSyncState(ctx context.Context, sku string, state SyncState) error
}

// ProductMappingRepository defines the full interface for product mapping persistence
type ProductMappingRepository interface {
	ProductMappingReader
	ProductMappingFinder
	ProductMappingWriter
}
