package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"crop_price_api/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
)

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	ConsumeWithContext(ctx context.Context, queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
}

// EventHandler processes one decoded event. A returned error requeues the delivery once;
// a second failure rejects it without requeue.
type EventHandler func(ctx context.Context, event models.APIKeyEvent) error

// RabbitMQClient publishes api key audit events to a durable queue.
type RabbitMQClient struct {
	conn    *amqp.Connection
	channel channel
	closer  func() error
	queue   string
}

func New(urlForConn string, queueName string) (*RabbitMQClient, error) {
	const op = "rabbitmq.New"

	conn, err := amqp.Dial(urlForConn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	q, err := ch.QueueDeclare(
		queueName, true, false, false, false, nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &RabbitMQClient{
		conn:    conn,
		channel: ch,
		closer:  ch.Close,
		queue:   q.Name,
	}, nil
}

func (r *RabbitMQClient) Publish(ctx context.Context, event models.APIKeyEvent) error {
	const op = "rabbitmq.Publish"

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	err = r.channel.PublishWithContext(
		ctx,
		"",
		r.queue,
		false,
		false,
		amqp.Publishing{
			ContentType:   "application/json",
			Type:          event.Type,
			CorrelationId: event.RequestID,
			Body:          body,
			DeliveryMode:  amqp.Persistent,
			Timestamp:     time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Consume reads events from the queue until ctx is cancelled or the channel closes.
// Messages that cannot be decoded are dropped.
func (r *RabbitMQClient) Consume(ctx context.Context, consumer string, handle EventHandler) error {
	const op = "rabbitmq.Consume"

	deliveries, err := r.channel.ConsumeWithContext(ctx, r.queue, consumer, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("%s: %w", op, amqp.ErrClosed)
			}

			var event models.APIKeyEvent
			if err := json.Unmarshal(d.Body, &event); err != nil {
				_ = d.Reject(false)
				continue
			}

			if err := handle(ctx, event); err != nil {
				// One redelivery per message, then it goes to the dead-letter exchange, if any.
				if d.Redelivered {
					_ = d.Reject(false)
				} else {
					_ = d.Nack(false, true)
				}
				continue
			}

			_ = d.Ack(false)
		}
	}
}

func (r *RabbitMQClient) Close() {
	if r.closer != nil {
		_ = r.closer()
	}
	if r.conn != nil {
		_ = r.conn.Close()
	}
}
