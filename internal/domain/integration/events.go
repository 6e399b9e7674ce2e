package integration

import "github.com/erp/channelsync/internal/domain/shared"

// EventTypeInventoryDiscrepancy is emitted when a critical quantity difference is found
const EventTypeInventoryDiscrepancy = "inventory.discrepancy"

// AggregateTypeProductMapping is the aggregate type for mapping events
const AggregateTypeProductMapping = "ProductMapping"

// InventoryDiscrepancyEvent reports a quantity difference at or above the critical threshold
type InventoryDiscrepancyEvent struct {
	shared.BaseDomainEvent
	SKU       string `json:"sku"`
	QuantityA int    `json:"a"`
	QuantityB int    `json:"b"`
	Magnitude int    `json:"magnitude"`
}

// NewInventoryDiscrepancyEvent creates a new discrepancy event
func NewInventoryDiscrepancyEvent(sku string, a, b int) *InventoryDiscrepancyEvent {
	magnitude := a - b
	if magnitude < 0 {
		magnitude = -magnitude
	}
	return &InventoryDiscrepancyEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeInventoryDiscrepancy, AggregateTypeProductMapping, sku),
		SKU:             sku,
		QuantityA:       a,
		QuantityB:       b,
		Magnitude:       magnitude,
	}
}
