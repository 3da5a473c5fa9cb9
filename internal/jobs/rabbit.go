package jobs

import (
	"context"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"library-backend/internal/notify"
)

const routingPrefix = "notify."

// RabbitQueue publishes intents to a topic exchange and consumes them from a durable queue
type RabbitQueue struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	queue    string
	logger   *zap.Logger
}

// NewRabbitQueue connects to RabbitMQ and declares the exchange
func NewRabbitQueue(url, exchange, queue string, logger *zap.Logger) (*RabbitQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	return &RabbitQueue{conn: conn, ch: ch, exchange: exchange, queue: queue, logger: logger}, nil
}

// Publish sends the intent as JSON, routed by its kind
func (r *RabbitQueue) Publish(ctx context.Context, intent notify.Intent) error {
	body, err := jsoniter.ConfigFastest.Marshal(intent)
	if err != nil {
		return fmt.Errorf("failed to encode intent: %w", err)
	}
	err = r.ch.PublishWithContext(ctx, r.exchange, routingPrefix+string(intent.Kind), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish intent: %w", err)
	}
	return nil
}

// Consume binds the queue to every notification kind and handles deliveries
// until ctx is done. Deliveries are acked whether or not handling succeeded.
func (r *RabbitQueue) Consume(ctx context.Context, handler Handler) error {
	q, err := r.ch.QueueDeclare(r.queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := r.ch.QueueBind(q.Name, routingPrefix+"#", r.exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	msgs, err := r.ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				r.logger.Info("Consumer stopped", zap.String("queue", q.Name))
				return nil
			}
			var intent notify.Intent
			if err := jsoniter.ConfigFastest.Unmarshal(d.Body, &intent); err != nil {
				r.logger.Error("Failed to decode intent", zap.Error(err), zap.String("routing_key", d.RoutingKey))
			} else if err := handler(ctx, intent); err != nil {
				r.logger.Warn("Handler error", zap.Error(err), zap.String("routing_key", d.RoutingKey))
			}
			if err := d.Ack(false); err != nil {
				r.logger.Warn("Failed to ack delivery", zap.Error(err))
			}
		}
	}
}

// Close closes the channel and connection
func (r *RabbitQueue) Close() error {
	if r.ch != nil {
		_ = r.ch.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
