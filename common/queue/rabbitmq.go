package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lyzr/appforge/common/logger"
	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQQueue implements Queue on a durable direct exchange.
// Each topic is a routing key bound to a durable queue of the same name.
type RabbitMQQueue struct {
	conn     *amqp.Connection
	pub      *amqp.Channel
	exchange string
	log      *logger.Logger
	mu       sync.Mutex
}

// NewRabbitMQQueue dials url and declares the exchange
func NewRabbitMQQueue(url, exchange string, log *logger.Logger) (*RabbitMQQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "direct", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	log.Info("rabbitmq connected", "exchange", exchange)

	return &RabbitMQQueue{
		conn:     conn,
		pub:      ch,
		exchange: exchange,
		log:      log,
	}, nil
}

func (q *RabbitMQQueue) queueName(topic string) string {
	return q.exchange + "." + topic
}

// Publish publishes a persistent message routed by topic
func (q *RabbitMQQueue) Publish(ctx context.Context, topic string, key string, message []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	err := q.pub.PublishWithContext(ctx, q.exchange, topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    key,
		Timestamp:    time.Now(),
		Body:         message,
	})
	if err != nil {
		q.log.Error("rabbitmq publish failed", "topic", topic, "key", key, "error", err)
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	q.log.Debug("rabbitmq publish", "topic", topic, "key", key)
	return nil
}

// Subscribe declares and binds the topic queue, then consumes on its own channel.
// Messages are acked after handler returns; failures are dropped rather than
// requeued since the caller owns retry policy.
func (q *RabbitMQQueue) Subscribe(ctx context.Context, topic string, handler MessageHandler) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consumer channel: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		return fmt.Errorf("set qos: %w", err)
	}

	name := q.queueName(topic)
	if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		ch.Close()
		return fmt.Errorf("declare queue %s: %w", name, err)
	}
	if err := ch.QueueBind(name, topic, q.exchange, false, nil); err != nil {
		ch.Close()
		return fmt.Errorf("bind queue %s: %w", name, err)
	}

	deliveries, err := ch.Consume(name, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("consume %s: %w", name, err)
	}

	q.log.Info("subscribing to topic", "topic", topic, "queue", name)

	go func() {
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				q.log.Info("subscription cancelled", "topic", topic)
				return
			case d, ok := <-deliveries:
				if !ok {
					q.log.Warn("rabbitmq delivery channel closed", "topic", topic)
					return
				}
				if err := handler(ctx, d.MessageId, d.Body); err != nil {
					q.log.Error("message handler error", "topic", topic, "key", d.MessageId, "error", err)
					_ = d.Nack(false, false)
					continue
				}
				_ = d.Ack(false)
			}
		}
	}()

	return nil
}

// Close closes the publisher channel and connection
func (q *RabbitMQQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.pub.Close(); err != nil {
		q.log.Warn("rabbitmq channel close failed", "error", err)
	}
	return q.conn.Close()
}
