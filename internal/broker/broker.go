// Package broker implements the Broker Adapter (C2): durable queue
// declaration with a dead-letter exchange and queue, persistent publish,
// manual-ack consume with an explicit republish-based retry policy, and a
// best-effort queue-depth probe. It is built on the AMQP 0-9-1 client
// (github.com/rabbitmq/amqp091-go), the canonical Go driver for this
// protocol; no pack example repo carries a message-broker dependency, so
// this one is grounded in the spec's explicit durable-queue/DLX/DLQ
// contract rather than in a teacher file. The adapter shape — a struct
// wrapping a driver connection, recording an observability event on every
// queue-assert, publish, ack, retry and dead-letter outcome — follows the
// repository pattern in
// internal/repository/session_repository.go.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/groupstage/predictor-backend/internal/observability"
)

const (
	headerRetryCount = "x-retry-count"
	headerLastError  = "x-last-error"

	// DefaultMaxRetries mirrors RABBITMQ_MAX_RETRIES's default.
	DefaultMaxRetries = 3
	// DefaultPrefetch mirrors RABBITMQ_PREFETCH_COUNT's default.
	DefaultPrefetch = 10
)

// Handler processes a single decoded message body. A returned error routes
// the message through the retry policy instead of acking it directly.
type Handler func(ctx context.Context, body []byte) error

// amqpChannel is the subset of *amqp.Channel the adapter depends on. It
// exists so tests can substitute a fake channel without a live broker;
// *amqp.Channel satisfies it as-is.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	QueueInspect(name string) (amqp.Queue, error)
	QueuePurge(name string, noWait bool) (int, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	Close() error
}

type Broker struct {
	conn       *amqp.Connection
	ch         amqpChannel
	maxRetries int
}

// Connect dials RabbitMQ, opens a channel, and sets the channel's prefetch
// (QoS) count, per the spec's "on connect: create a channel; set
// prefetch = PREFETCH".
func Connect(url string, prefetch, maxRetries int) (*Broker, error) {
	if prefetch <= 0 {
		prefetch = DefaultPrefetch
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("broker: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("broker: open channel: %w", err)
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("broker: set qos: %w", err)
	}
	return &Broker{conn: conn, ch: ch, maxRetries: maxRetries}, nil
}

func (b *Broker) Close() error {
	chErr := b.ch.Close()
	connErr := b.conn.Close()
	if chErr != nil {
		return chErr
	}
	return connErr
}

func (b *Broker) IsHealthy() bool {
	return b.conn != nil && !b.conn.IsClosed()
}

// AssertQueue declares the durable dead-letter exchange, the dead-letter
// queue bound to it, and the main durable queue routed to the DLX on
// rejection — the fixed topology described in spec.md §4.5.
func (b *Broker) AssertQueue(name string) error {
	dlx := name + ".dlx"
	dlq := name + ".dlq"

	if err := b.ch.ExchangeDeclare(dlx, "direct", true, false, false, false, nil); err != nil {
		observability.RecordBrokerOperation(context.Background(), name, "assert_queue", "error")
		return fmt.Errorf("broker: declare dlx: %w", err)
	}
	if _, err := b.ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		observability.RecordBrokerOperation(context.Background(), name, "assert_queue", "error")
		return fmt.Errorf("broker: declare dlq: %w", err)
	}
	if err := b.ch.QueueBind(dlq, name, dlx, false, nil); err != nil {
		observability.RecordBrokerOperation(context.Background(), name, "assert_queue", "error")
		return fmt.Errorf("broker: bind dlq: %w", err)
	}
	if _, err := b.ch.QueueDeclare(name, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    dlx,
		"x-dead-letter-routing-key": name,
	}); err != nil {
		observability.RecordBrokerOperation(context.Background(), name, "assert_queue", "error")
		return fmt.Errorf("broker: declare queue: %w", err)
	}
	observability.RecordBrokerOperation(context.Background(), name, "assert_queue", "success")
	return nil
}

// Publish sends msg as a persistent, JSON-encoded message.
func (b *Broker) Publish(ctx context.Context, name string, msg any) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("broker: marshal message: %w", err)
	}
	err = b.ch.PublishWithContext(ctx, "", name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		observability.RecordBrokerOperation(ctx, name, "publish", "error")
		return fmt.Errorf("broker: publish: %w", err)
	}
	observability.RecordBrokerOperation(ctx, name, "publish", "success")
	return nil
}

// republish re-sends body with an incremented x-retry-count and a recorded
// x-last-error, then acks the original delivery. This is an explicit
// republish rather than a nack-requeue so headers can carry attempt
// history, per spec.md §4.5's "Retry policy is explicit republish".
func (b *Broker) republish(ctx context.Context, name string, d amqp.Delivery, retryCount int, lastErr error) error {
	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[headerRetryCount] = int32(retryCount)
	headers[headerLastError] = lastErr.Error()

	err := b.ch.PublishWithContext(ctx, "", name, false, false, amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		Body:         d.Body,
		Headers:      headers,
	})
	if err != nil {
		return fmt.Errorf("broker: republish: %w", err)
	}
	return d.Ack(false)
}

func retryCountFromHeaders(headers amqp.Table) int {
	if headers == nil {
		return 0
	}
	switch v := headers[headerRetryCount].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// Consume starts a manual-ack consumer loop that runs until ctx is
// cancelled. On handler success the delivery is acked; on handler error the
// retry counter is inspected and the message is either republished with an
// incremented counter or nacked without requeue, which the broker's
// dead-letter binding routes to the DLQ.
func (b *Broker) Consume(ctx context.Context, name string, handler Handler) error {
	deliveries, err := b.ch.Consume(name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("broker: consume: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("broker: delivery channel closed for %q", name)
			}
			b.handleDelivery(ctx, name, d, handler)
		}
	}
}

func (b *Broker) handleDelivery(ctx context.Context, name string, d amqp.Delivery, handler Handler) {
	err := handler(ctx, d.Body)
	if err == nil {
		if ackErr := d.Ack(false); ackErr != nil {
			observability.RecordBrokerOperation(ctx, name, "ack", "error")
		} else {
			observability.RecordBrokerOperation(ctx, name, "ack", "success")
		}
		return
	}

	retryCount := retryCountFromHeaders(d.Headers)
	if retryCount < b.maxRetries {
		if rpErr := b.republish(ctx, name, d, retryCount+1, err); rpErr != nil {
			observability.RecordBrokerOperation(ctx, name, "retry", "error")
			return
		}
		observability.RecordBrokerOperation(ctx, name, "retry", "success")
		return
	}

	if nackErr := d.Nack(false, false); nackErr != nil {
		observability.RecordBrokerOperation(ctx, name, "dlq", "error")
		return
	}
	observability.RecordBrokerOperation(ctx, name, "dlq", "success")
}

// QueueMessageCount is a best-effort depth probe; it returns 0 on error or
// a non-finite value rather than propagating the failure, since it backs a
// monitoring surface, not a correctness-critical path.
func (b *Broker) QueueMessageCount(name string) int {
	q, err := b.ch.QueueInspect(name)
	if err != nil {
		return 0
	}
	if q.Messages < 0 {
		return 0
	}
	return q.Messages
}

func (b *Broker) PurgeQueue(name string) error {
	_, err := b.ch.QueuePurge(name, false)
	return err
}

// ConsumeContextTimeout bounds a single job's soft wall-clock limit; the
// worker wraps handler invocations in a context built from this helper so
// that an expired job leaves its ack unsent and falls back to broker
// redelivery.
func ConsumeContextTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, timeout)
}
