package integration

import (
	"context"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Platform identifies one side of the synchronized pair
// ---------------------------------------------------------------------------

// Platform identifies one of the two commerce platforms
type Platform string

const (
	// PlatformA is the first (typically source) platform
	PlatformA Platform = "PLATFORM_A"
	// PlatformB is the second (typically target) platform
	PlatformB Platform = "PLATFORM_B"
)

// IsValid returns true if the platform is one of the known sides
func (p Platform) IsValid() bool {
	return p == PlatformA || p == PlatformB
}

// String returns the string representation of Platform
func (p Platform) String() string {
	return string(p)
}

// Other returns the opposite side of the pair
func (p Platform) Other() Platform {
	if p == PlatformA {
		return PlatformB
	}
	return PlatformA
}

// ---------------------------------------------------------------------------
// ProductRef identifies a product (and optional variant) on one platform
// ---------------------------------------------------------------------------

// ProductRef is the platform-specific identity of a listed product
type ProductRef struct {
	ProductID string
	VariantID string
}

// String returns "product" or "product/variant"
func (r ProductRef) String() string {
	if r.VariantID == "" {
		return r.ProductID
	}
	return r.ProductID + "/" + r.VariantID
}

// ---------------------------------------------------------------------------
// Capability ports implemented by platform adapters
// ---------------------------------------------------------------------------

// InventoryReader reads the available quantity of a product.
// Implementations return a *TransientError for retryable failures and
// ErrProductNotFound when the product does not exist on the platform.
type InventoryReader interface {
	GetQuantity(ctx context.Context, ref ProductRef) (int, error)
}

// InventoryWriter overwrites the available quantity of a product
type InventoryWriter interface {
	SetQuantity(ctx context.Context, ref ProductRef, quantity int) error
}

// PriceReader reads the current sale price of a product
type PriceReader interface {
	GetPrice(ctx context.Context, ref ProductRef) (decimal.Decimal, error)
}

// PriceWriter overwrites the sale price of a product
type PriceWriter interface {
	SetPrice(ctx context.Context, ref ProductRef, price decimal.Decimal) error
}

// PlatformAdapter bundles every capability of a single platform.
// Adapters do not retry internally; callers own the retry policy.
type PlatformAdapter interface {
	InventoryReader
	InventoryWriter
	PriceReader
	PriceWriter
	// Platform returns which side this adapter talks to
	Platform() Platform
	// Currency returns the ISO currency code prices are expressed in
	Currency() string
}

// ---------------------------------------------------------------------------
// PlatformOrderStatus represents the status of an order on a platform
// ---------------------------------------------------------------------------

// PlatformOrderStatus represents the status of an order on a platform
type PlatformOrderStatus string

const (
	PlatformOrderStatusPending   PlatformOrderStatus = "PENDING"
	PlatformOrderStatusPaid      PlatformOrderStatus = "PAID"
	PlatformOrderStatusShipped   PlatformOrderStatus = "SHIPPED"
	PlatformOrderStatusDelivered PlatformOrderStatus = "DELIVERED"
	PlatformOrderStatusCompleted PlatformOrderStatus = "COMPLETED"
	PlatformOrderStatusRefunding PlatformOrderStatus = "REFUNDING"
	PlatformOrderStatusReturned  PlatformOrderStatus = "RETURNED"
	PlatformOrderStatusRefunded  PlatformOrderStatus = "REFUNDED"
	PlatformOrderStatusCancelled PlatformOrderStatus = "CANCELLED"
)

// IsValid returns true if the status is valid
func (s PlatformOrderStatus) IsValid() bool {
	switch s {
	case PlatformOrderStatusPending, PlatformOrderStatusPaid, PlatformOrderStatusShipped,
		PlatformOrderStatusDelivered, PlatformOrderStatusCompleted, PlatformOrderStatusRefunding,
		PlatformOrderStatusReturned, PlatformOrderStatusRefunded, PlatformOrderStatusCancelled:
		return true
	default:
		return false
	}
}

// String returns the string representation of PlatformOrderStatus
func (s PlatformOrderStatus) String() string {
	return string(s)
}

// IsFinal returns true if the status is a final (terminal) state
func (s PlatformOrderStatus) IsFinal() bool {
	switch s {
	case PlatformOrderStatusCompleted, PlatformOrderStatusCancelled,
		PlatformOrderStatusRefunded, PlatformOrderStatusReturned:
		return true
	default:
		return false
	}
}
