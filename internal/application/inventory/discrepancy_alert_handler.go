package inventory

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/erp/channelsync/internal/domain/integration"
	"github.com/erp/channelsync/internal/domain/shared"
)

// Alert types
const (
	AlertCriticalDiscrepancy = "critical_discrepancy"
	// AlertOneSideEmpty means one platform shows no stock while the other still sells
	AlertOneSideEmpty = "one_side_empty"
)

// DiscrepancyAlert is what a notifier receives for a critical discrepancy
type DiscrepancyAlert struct {
	SKU       string `json:"sku"`
	QuantityA int    `json:"quantity_a"`
	QuantityB int    `json:"quantity_b"`
	Magnitude int    `json:"magnitude"`
	AlertType string `json:"alert_type"`
}

// DiscrepancyAlertNotifier delivers alerts (log, chat, email...)
type DiscrepancyAlertNotifier interface {
	SendAlert(ctx context.Context, alert DiscrepancyAlert) error
}

// DiscrepancyAlertHandler turns inventory.discrepancy events into alerts
type DiscrepancyAlertHandler struct {
	notifier DiscrepancyAlertNotifier
	logger   *zap.Logger
}

var _ shared.EventHandler = (*DiscrepancyAlertHandler)(nil)

// NewDiscrepancyAlertHandler creates the handler. A nil notifier logs alerts.
func NewDiscrepancyAlertHandler(notifier DiscrepancyAlertNotifier, logger *zap.Logger) *DiscrepancyAlertHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = NewLoggingAlertNotifier(logger)
	}
	return &DiscrepancyAlertHandler{notifier: notifier, logger: logger}
}

// EventTypes returns the event types this handler is interested in
func (h *DiscrepancyAlertHandler) EventTypes() []string {
	return []string{integration.EventTypeInventoryDiscrepancy}
}

// Handle sends an alert. A failing notifier is logged and does not fail the event.
func (h *DiscrepancyAlertHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	e, ok := event.(*integration.InventoryDiscrepancyEvent)
	if !ok {
		return fmt.Errorf("unexpected event type: expected %s, got %s",
			integration.EventTypeInventoryDiscrepancy, event.EventType())
	}

	alert := DiscrepancyAlert{
		SKU:       e.SKU,
		QuantityA: e.QuantityA,
		QuantityB: e.QuantityB,
		Magnitude: e.Magnitude,
		AlertType: AlertCriticalDiscrepancy,
	}
	if (e.QuantityA == 0) != (e.QuantityB == 0) {
		alert.AlertType = AlertOneSideEmpty
	}

	if err := h.notifier.SendAlert(ctx, alert); err != nil {
		h.logger.Error("Failed to send discrepancy alert",
			zap.String("sku", alert.SKU),
			zap.Error(err),
		)
	}
	return nil
}

// LoggingAlertNotifier writes alerts to the log
type LoggingAlertNotifier struct {
	logger *zap.Logger
}

var _ DiscrepancyAlertNotifier = (*LoggingAlertNotifier)(nil)

// NewLoggingAlertNotifier creates a LoggingAlertNotifier
func NewLoggingAlertNotifier(logger *zap.Logger) *LoggingAlertNotifier {
	return &LoggingAlertNotifier{logger: logger}
}

// SendAlert logs the alert at warn level
func (n *LoggingAlertNotifier) SendAlert(_ context.Context, alert DiscrepancyAlert) error {
	n.logger.Warn("INVENTORY DISCREPANCY",
		zap.String("type", alert.AlertType),
		zap.String("sku", alert.SKU),
		zap.Int("quantity_a", alert.QuantityA),
		zap.Int("quantity_b", alert.QuantityB),
		zap.Int("magnitude", alert.Magnitude),
	)
	return nil
}
