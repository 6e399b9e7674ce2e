package conflict

import (
	"time"

	"github.com/erp/channelsync/internal/domain/integration"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Inventory
// ---------------------------------------------------------------------------

// InventoryConflict is a disagreement between the two platforms' stock levels
type InventoryConflict struct {
	SKU        string
	QuantityA  int
	QuantityB  int
	LastSyncAt *time.Time
	// LatestQuantity is the quantity implied by the newest ledger entry
	// recorded after LastSyncAt, if any
	LatestQuantity *int
}

// Inputs returns the conflict as loggable data
func (c InventoryConflict) Inputs() map[string]any {
	in := map[string]any{
		"quantity_a": c.QuantityA,
		"quantity_b": c.QuantityB,
	}
	if c.LastSyncAt != nil {
		in["last_sync_at"] = c.LastSyncAt.UTC().Format(time.RFC3339)
	}
	if c.LatestQuantity != nil {
		in["latest_quantity"] = *c.LatestQuantity
	}
	return in
}

// InventoryResolution is the quantity both platforms should converge to
type InventoryResolution struct {
	Quantity int
	Strategy Strategy
}

// ResolveInventory adopts the newest transaction's quantity when one exists
// after the last sync, and min(A, B) otherwise.
func ResolveInventory(c InventoryConflict) InventoryResolution {
	if c.LatestQuantity != nil {
		return InventoryResolution{Quantity: *c.LatestQuantity, Strategy: StrategyLatestTransaction}
	}
	return InventoryResolution{Quantity: min(c.QuantityA, c.QuantityB), Strategy: StrategyConservativeMinimum}
}

// ---------------------------------------------------------------------------
// Price
// ---------------------------------------------------------------------------

var (
	priceTolerance      = decimal.NewFromFloat(0.05)
	historicalTolerance = decimal.NewFromFloat(0.10)
)

// PriceConflict compares a target platform price with the price expected from
// the source price
type PriceConflict struct {
	SKU           string
	SourcePrice   decimal.Decimal
	TargetPrice   decimal.Decimal
	ExpectedPrice decimal.Decimal
	// HistoricalAverage is the mean of the trailing price history entries
	HistoricalAverage *decimal.Decimal
}

// Inputs returns the conflict as loggable data
func (c PriceConflict) Inputs() map[string]any {
	in := map[string]any{
		"source_price":   c.SourcePrice.String(),
		"target_price":   c.TargetPrice.String(),
		"expected_price": c.ExpectedPrice.String(),
	}
	if c.HistoricalAverage != nil {
		in["historical_average"] = c.HistoricalAverage.String()
	}
	return in
}

// PriceResolution is the price the target platform should carry
type PriceResolution struct {
	Price    decimal.Decimal
	Strategy Strategy
}

// ResolvePrice keeps the target price within 5% of expected, adopts the
// historical average within 10% of expected, and recomputes otherwise.
func ResolvePrice(c PriceConflict) PriceResolution {
	if withinRatio(c.TargetPrice, c.ExpectedPrice, priceTolerance) {
		return PriceResolution{Price: c.TargetPrice, Strategy: StrategyTolerance5Percent}
	}
	if c.HistoricalAverage != nil && withinRatio(*c.HistoricalAverage, c.ExpectedPrice, historicalTolerance) {
		return PriceResolution{Price: c.HistoricalAverage.Round(2), Strategy: StrategyHistoricalAverage}
	}
	return PriceResolution{Price: c.ExpectedPrice, Strategy: StrategySourceBasedRecalculation}
}

func withinRatio(value, expected, ratio decimal.Decimal) bool {
	if !expected.IsPositive() {
		return false
	}
	return value.Sub(expected).Abs().Div(expected).LessThanOrEqual(ratio)
}

// ---------------------------------------------------------------------------
// Order status
// ---------------------------------------------------------------------------

// statusPriority ranks statuses; terminal and negative states outrank
// fulfilment progress
var statusPriority = map[integration.PlatformOrderStatus]int{
	integration.PlatformOrderStatusCancelled: 9,
	integration.PlatformOrderStatusRefunded:  8,
	integration.PlatformOrderStatusReturned:  7,
	integration.PlatformOrderStatusRefunding: 6,
	integration.PlatformOrderStatusCompleted: 5,
	integration.PlatformOrderStatusDelivered: 4,
	integration.PlatformOrderStatusShipped:   3,
	integration.PlatformOrderStatusPaid:      2,
	integration.PlatformOrderStatusPending:   1,
}

// StatusPriority returns the rank of a status; unknown statuses rank 0
func StatusPriority(s integration.PlatformOrderStatus) int {
	return statusPriority[s]
}

// OrderStatusResolution is the status both platforms should carry
type OrderStatusResolution struct {
	Status   integration.PlatformOrderStatus
	Strategy Strategy
}

// ResolveOrderStatus adopts the higher-ranked status. Ties keep a.
func ResolveOrderStatus(a, b integration.PlatformOrderStatus) OrderStatusResolution {
	winner := a
	if StatusPriority(b) > StatusPriority(a) {
		winner = b
	}
	return OrderStatusResolution{Status: winner, Strategy: StrategyStatusPriority}
}
