package inventory

import (
	"github.com/erp/channelsync/internal/domain/integration"
	"github.com/erp/channelsync/internal/domain/shared"
)

// EventTypeSaleRecorded is emitted when a platform reports a sold line item
const EventTypeSaleRecorded = "inventory.sale_recorded"

// SaleRecordedEvent reports a sale on one platform that must be deducted on the other
type SaleRecordedEvent struct {
	shared.BaseDomainEvent
	SKU        string               `json:"sku"`
	Platform   integration.Platform `json:"platform"`
	OrderID    string               `json:"order_id"`
	LineItemID string               `json:"line_item_id"`
	Quantity   int                  `json:"quantity"`
}

// NewSaleRecordedEvent creates a new SaleRecordedEvent
func NewSaleRecordedEvent(sku string, platform integration.Platform, orderID, lineItemID string, quantity int) *SaleRecordedEvent {
	return &SaleRecordedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeSaleRecorded, integration.AggregateTypeProductMapping, sku),
		SKU:             sku,
		Platform:        platform,
		OrderID:         orderID,
		LineItemID:      lineItemID,
		Quantity:        quantity,
	}
}
