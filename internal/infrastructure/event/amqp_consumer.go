package event

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/erp/channelsync/internal/domain/integration"
	"github.com/erp/channelsync/internal/domain/inventory"
	"github.com/erp/channelsync/internal/domain/shared"
)

const (
	consumerTag     = "channelsync-sales"
	defaultPrefetch = 10
)

// amqpConsumerChannel is the part of *amqp.Channel the consumer uses
type amqpConsumerChannel interface {
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// AMQPConsumer reads inbound events from a queue bound to the exchange and
// republishes them on the local bus. Deliveries are acked after the local
// handlers succeed; retryable failures are requeued and permanent ones dropped.
type AMQPConsumer struct {
	ch         amqpConsumerChannel
	queue      string
	serializer *EventSerializer
	publisher  shared.EventPublisher
	logger     *zap.Logger
}

// NewAMQPConsumer declares queue, binds it to the exchange for each routing
// key (the sale event type when none are given) and opens a consuming channel
func NewAMQPConsumer(broker *Broker, queue string, serializer *EventSerializer, publisher shared.EventPublisher, routingKeys ...string) (*AMQPConsumer, error) {
	if len(routingKeys) == 0 {
		routingKeys = []string{inventory.EventTypeSaleRecorded}
	}

	ch, err := broker.channel()
	if err != nil {
		return nil, err
	}
	if err := ch.Qos(defaultPrefetch, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("event: set prefetch: %w", err)
	}
	q, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("event: declare queue %s: %w", queue, err)
	}
	for _, key := range routingKeys {
		if err := ch.QueueBind(q.Name, key, broker.Exchange(), false, nil); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("event: bind %s to %s: %w", q.Name, key, err)
		}
	}

	return newAMQPConsumer(ch, q.Name, serializer, publisher, broker.logger), nil
}

func newAMQPConsumer(ch amqpConsumerChannel, queue string, serializer *EventSerializer, publisher shared.EventPublisher, logger *zap.Logger) *AMQPConsumer {
	if serializer == nil {
		serializer = NewEventSerializer()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AMQPConsumer{
		ch:         ch,
		queue:      queue,
		serializer: serializer,
		publisher:  publisher,
		logger:     logger.With(zap.String("queue", queue)),
	}
}

// Run consumes until ctx is cancelled or the broker closes the delivery channel
func (c *AMQPConsumer) Run(ctx context.Context) error {
	deliveries, err := c.ch.Consume(c.queue, consumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("event: consume %s: %w", c.queue, err)
	}
	c.logger.Info("Event consumer started")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Event consumer stopped")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("event: delivery channel closed by broker")
			}
			c.handleDelivery(ctx, d)
		}
	}
}

// Close closes the consuming channel
func (c *AMQPConsumer) Close() error {
	return c.ch.Close()
}

func (c *AMQPConsumer) handleDelivery(ctx context.Context, d amqp.Delivery) {
	eventType := d.Type
	if eventType == "" {
		eventType = d.RoutingKey
	}
	log := c.logger.With(zap.String("event_type", eventType), zap.String("message_id", d.MessageId))

	event, err := c.serializer.Deserialize(eventType, d.Body)
	if err != nil {
		log.Error("Dropping undecodable message", zap.Error(err))
		_ = d.Reject(false)
		return
	}
	fillEnvelope(event, eventType, deliveryID(d))

	err = c.publisher.Publish(ctx, event)
	switch {
	case err == nil:
		_ = d.Ack(false)
	case isPermanent(err):
		log.Warn("Dropping message that can never succeed", zap.Error(err))
		_ = d.Reject(false)
	default:
		log.Warn("Requeueing message after handler failure", zap.Error(err))
		_ = d.Nack(false, true)
	}
}

// isPermanent reports errors a redelivery cannot fix
func isPermanent(err error) bool {
	return errors.Is(err, shared.ErrInvalidInput) ||
		errors.Is(err, integration.ErrMappingNotFound) ||
		errors.Is(err, integration.ErrMappingInactive) ||
		errors.Is(err, integration.ErrProductNotFound)
}

// deliveryID derives a stable event ID for messages whose body carries none:
// the AMQP message ID when it is a UUID, otherwise a hash of the body
func deliveryID(d amqp.Delivery) uuid.UUID {
	if id, err := uuid.Parse(d.MessageId); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, d.Body)
}

// fillEnvelope sets the event ID and type on events published by producers
// that only send the payload fields
func fillEnvelope(event shared.DomainEvent, eventType string, id uuid.UUID) {
	v := reflect.ValueOf(event)
	if v.Kind() != reflect.Ptr {
		return
	}
	base := v.Elem().FieldByName("BaseDomainEvent")
	if !base.IsValid() || !base.CanSet() {
		return
	}
	if event.EventID() == uuid.Nil {
		base.FieldByName("ID").Set(reflect.ValueOf(id))
	}
	if event.EventType() == "" {
		base.FieldByName("Type").SetString(eventType)
	}
}
