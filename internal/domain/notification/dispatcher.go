package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"marketdash/internal/pkg/metrics"
)

const (
	ExchangeName   = "notifications"
	publishTimeout = 5 * time.Second
)

// Dispatcher sends a message without blocking the caller's operation.
// Delivery failures are logged, never returned.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg Message)
}

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPDispatcher publishes JSON messages to a durable topic exchange.
type AMQPDispatcher struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	pub    publisher
	logger *zap.Logger

	mu       sync.Mutex
	inflight sync.WaitGroup
}

func NewAMQPDispatcher(url string, logger *zap.Logger) (*AMQPDispatcher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(ExchangeName, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	d := newDispatcher(ch, logger)
	d.conn = conn
	d.ch = ch
	return d, nil
}

func newDispatcher(pub publisher, logger *zap.Logger) *AMQPDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AMQPDispatcher{pub: pub, logger: logger}
}

// Dispatch publishes in the background. The caller's ctx only contributes
// values; its cancellation does not abort the send.
func (d *AMQPDispatcher) Dispatch(ctx context.Context, msg Message) {
	body, err := json.Marshal(msg)
	if err != nil {
		d.fail(msg, err)
		return
	}

	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		defer cancel()

		d.mu.Lock()
		err := d.pub.PublishWithContext(pctx, ExchangeName, msg.RoutingKey(), false, false, amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    msg.CreatedAt,
			Type:         string(msg.Template),
		})
		d.mu.Unlock()
		if err != nil {
			d.fail(msg, err)
			return
		}
		d.logger.Debug("notification dispatched",
			zap.String("template", string(msg.Template)),
			zap.String("routing_key", msg.RoutingKey()),
			zap.Int64("booking_id", msg.BookingID),
		)
	}()
}

func (d *AMQPDispatcher) fail(msg Message, err error) {
	metrics.RecordDispatchFailure(string(msg.Template))
	d.logger.Warn("notification dispatch failed",
		zap.String("template", string(msg.Template)),
		zap.Int64("booking_id", msg.BookingID),
		zap.Error(err),
	)
}

// Close waits for in-flight sends, then closes the channel and connection.
func (d *AMQPDispatcher) Close() {
	d.inflight.Wait()
	if d.ch != nil {
		_ = d.ch.Close()
	}
	if d.conn != nil {
		_ = d.conn.Close()
	}
}

// NopDispatcher drops every message. Used when no broker is configured.
type NopDispatcher struct {
	Logger *zap.Logger
}

func (n NopDispatcher) Dispatch(_ context.Context, msg Message) {
	if n.Logger != nil {
		n.Logger.Debug("notification dropped, no broker configured",
			zap.String("template", string(msg.Template)),
			zap.Int64("booking_id", msg.BookingID),
		)
	}
}
