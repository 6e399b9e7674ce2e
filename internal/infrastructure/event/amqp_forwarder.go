package event

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/erp/channelsync/internal/domain/integration"
	"github.com/erp/channelsync/internal/domain/shared"
	"github.com/erp/channelsync/internal/domain/syncjob"
)

// OutboundEventTypes are the events forwarded to the broker. Inbound sale
// events are left out so a consumed event is never published back.
var OutboundEventTypes = []string{
	syncjob.EventTypeSyncStarted,
	syncjob.EventTypeSyncProgress,
	syncjob.EventTypeSyncCompleted,
	syncjob.EventTypeSyncFailed,
	integration.EventTypeInventoryDiscrepancy,
}

const appID = "channelsync"

// amqpPublisher is the part of *amqp.Channel the forwarder uses
type amqpPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPForwarder is an event handler publishing each event to the topic
// exchange with the event type as routing key
type AMQPForwarder struct {
	ch         amqpPublisher
	exchange   string
	serializer *EventSerializer
	logger     *zap.Logger
}

var _ shared.EventHandler = (*AMQPForwarder)(nil)

// NewAMQPForwarder opens a publishing channel on broker
func NewAMQPForwarder(broker *Broker, serializer *EventSerializer) (*AMQPForwarder, error) {
	ch, err := broker.channel()
	if err != nil {
		return nil, err
	}
	return newAMQPForwarder(ch, broker.Exchange(), serializer, broker.logger), nil
}

func newAMQPForwarder(ch amqpPublisher, exchange string, serializer *EventSerializer, logger *zap.Logger) *AMQPForwarder {
	if serializer == nil {
		serializer = NewEventSerializer()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AMQPForwarder{ch: ch, exchange: exchange, serializer: serializer, logger: logger}
}

// Handle publishes event as a persistent JSON message
func (f *AMQPForwarder) Handle(ctx context.Context, event shared.DomainEvent) error {
	body, err := f.serializer.Serialize(event)
	if err != nil {
		return err
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.EventID().String(),
		Type:         event.EventType(),
		Timestamp:    event.OccurredAt(),
		AppId:        appID,
		Body:         body,
	}
	if err := f.ch.PublishWithContext(ctx, f.exchange, event.EventType(), false, false, msg); err != nil {
		return fmt.Errorf("event: publish %s: %w", event.EventType(), err)
	}

	f.logger.Debug("Forwarded event",
		zap.String("event_type", event.EventType()),
		zap.String("event_id", event.EventID().String()),
	)
	return nil
}

// EventTypes returns OutboundEventTypes
func (f *AMQPForwarder) EventTypes() []string {
	return OutboundEventTypes
}

// Close closes the publishing channel
func (f *AMQPForwarder) Close() error {
	return f.ch.Close()
}
