package event

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Broker owns the AMQP connection shared by the forwarder and the consumer.
// Each of them opens its own channel.
type Broker struct {
	conn     *amqp.Connection
	exchange string
	logger   *zap.Logger
}

// DialBroker connects to url and declares the durable topic exchange
func DialBroker(url, exchange string, logger *zap.Logger) (*Broker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("event: dial broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("event: open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("event: declare exchange %s: %w", exchange, err)
	}

	logger.Info("Connected to message broker", zap.String("exchange", exchange))
	return &Broker{conn: conn, exchange: exchange, logger: logger}, nil
}

// Exchange returns the topic exchange name
func (b *Broker) Exchange() string {
	return b.exchange
}

func (b *Broker) channel() (*amqp.Channel, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("event: open channel: %w", err)
	}
	return ch, nil
}

// Close closes the connection and every channel opened on it
func (b *Broker) Close() error {
	if b.conn == nil || b.conn.IsClosed() {
		return nil
	}
	return b.conn.Close()
}
