// Package eventbus carries booking lifecycle events over a RabbitMQ topic
// exchange. Confirmed and cancelled bookings are published for downstream
// consumers (notifications, analytics); payment failures are consumed to
// drive asynchronous compensation.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kirinyoku/railgo/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	Exchange = "booking_exchange"

	paymentFailedQueue = "railgo.payment.failed"
)

func declareExchange(ch *amqp.Channel) error {
	return ch.ExchangeDeclare(
		Exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	)
}

// Publisher emits booking events with persistent delivery. An amqp channel is
// not safe for concurrent publishes, so a mutex serializes them.
type Publisher struct {
	mu     sync.Mutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	logger *slog.Logger
}

func NewPublisher(conn *amqp.Connection, logger *slog.Logger) (*Publisher, error) {
	const op = "eventbus.NewPublisher"

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if err := declareExchange(ch); err != nil {
		ch.Close()
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &Publisher{conn: conn, ch: ch, logger: logger}, nil
}

func (p *Publisher) publish(ctx context.Context, routingKey string, payload any) error {
	const op = "eventbus.Publisher.publish"

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.ch.PublishWithContext(ctx,
		Exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

func (p *Publisher) PublishBookingConfirmed(ctx context.Context, ev domain.BookingConfirmedEvent) error {
	return p.publish(ctx, domain.EventBookingConfirmed, ev)
}

func (p *Publisher) PublishBookingCancelled(ctx context.Context, ev domain.BookingCancelledEvent) error {
	return p.publish(ctx, domain.EventBookingCancelled, ev)
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.ch.Close()
}

// PaymentFailedHandler processes one payment failure. Returning an error
// requeues the delivery.
type PaymentFailedHandler func(ctx context.Context, ev domain.PaymentFailedEvent) error

// Consumer drains the payment-failed queue. It owns its connection and keeps
// redialing with capped backoff so the service survives broker restarts.
type Consumer struct {
	url     string
	logger  *slog.Logger
	handler PaymentFailedHandler
}

func NewConsumer(url string, logger *slog.Logger, handler PaymentFailedHandler) *Consumer {
	return &Consumer{url: url, logger: logger, handler: handler}
}

// Run blocks until ctx is cancelled, reconnecting whenever the broker
// connection drops.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := c.consume(ctx)
		if err == nil || ctx.Err() != nil {
			return ctx.Err()
		}

		c.logger.Error("payment-failed consumer disconnected",
			"error", err, "retry_in", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
	}
}

func (c *Consumer) consume(ctx context.Context) error {
	const op = "eventbus.Consumer.consume"

	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}
	defer ch.Close()

	if err := declareExchange(ch); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	q, err := ch.QueueDeclare(
		paymentFailedQueue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	if err := ch.QueueBind(q.Name, domain.EventPaymentFailed, Exchange, false, nil); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	if err := ch.Qos(8, 0, false); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	deliveries, err := ch.Consume(
		q.Name,
		"",    // consumer tag
		false, // auto-ack; compensation must ack only after it sticks
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	c.logger.Info("payment-failed consumer started", "queue", q.Name)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("%s: delivery channel closed", op)
			}
			c.handleDelivery(ctx, d)
		}
	}
}

func (c *Consumer) handleDelivery(ctx context.Context, d amqp.Delivery) {
	var ev domain.PaymentFailedEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		c.logger.Error("payment-failed event unparsable, dropping",
			"error", err)
		_ = d.Nack(false, false)
		return
	}

	if err := c.handler(ctx, ev); err != nil {
		c.logger.Error("payment-failed compensation failed, requeueing",
			"payment_id", ev.PaymentID, "error", err)
		_ = d.Nack(false, true)
		return
	}

	_ = d.Ack(false)
}
