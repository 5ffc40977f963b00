package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

// Circuit breaker states.
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	maxFailures    = 5
	openTimeout    = 30 * time.Second
	maxBackoff     = 30 * time.Second
	publishRetries = 3
	publishTimeout = 5 * time.Second
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

// Handler receives decoded messages from Consume.
type Handler interface {
	HandlePaymentUpserted(ctx context.Context, msg *PaymentSyncMessage) error
	HandlePaymentDeleted(ctx context.Context, msg *PaymentDeleteMessage) error
	HandlePasswordReset(ctx context.Context, msg *PasswordResetMessage) error
}

type Client struct {
	mu           sync.Mutex
	conn         *amqp091.Connection
	channel      *amqp091.Channel
	url          string
	exchangeName string
	queueName    string

	failureCount int64
	state        int32
	lastFailure  time.Time
}

func NewClient(url, exchangeName, queueName string) (*Client, error) {
	client := &Client{
		url:          url,
		exchangeName: exchangeName,
		queueName:    queueName,
	}
	if err := client.connect(); err != nil {
		return nil, err
	}
	return client, nil
}

func (c *Client) connect() error {
	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	c.conn = conn
	c.channel = channel

	if err := c.setup(); err != nil {
		c.closeLocked()
		return fmt.Errorf("setup exchange and queue: %w", err)
	}
	return nil
}

func (c *Client) setup() error {
	err := c.channel.ExchangeDeclare(
		c.exchangeName, // name
		"direct",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	_, err = c.channel.QueueDeclare(
		c.queueName, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	// routing key is the queue name on a direct exchange
	err = c.channel.QueueBind(c.queueName, c.queueName, c.exchangeName, false, nil)
	if err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	if err := c.channel.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	return nil
}

func (c *Client) reconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	return c.connect()
}

// PublishPaymentUpserted announces a created or updated payment.
func (c *Client) PublishPaymentUpserted(ctx context.Context, paymentID, userID uuid.UUID) error {
	body, err := NewPaymentSyncMessage(paymentID, userID).ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return c.publish(ctx, TypePaymentUpserted, body, "payment_id", paymentID)
}

// PublishPaymentDeleted announces a deleted payment.
func (c *Client) PublishPaymentDeleted(ctx context.Context, paymentID, userID uuid.UUID) error {
	body, err := NewPaymentDeleteMessage(paymentID, userID).ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return c.publish(ctx, TypePaymentDeleted, body, "payment_id", paymentID)
}

// PublishPasswordReset queues a reset mail for the worker.
func (c *Client) PublishPasswordReset(ctx context.Context, email, link string) error {
	body, err := NewPasswordResetMessage(email, link).ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return c.publish(ctx, TypePasswordReset, body)
}

func (c *Client) publish(ctx context.Context, msgType string, body []byte, attrs ...any) error {
	if c.isCircuitOpen() {
		return fmt.Errorf("publish %s: %w", msgType, ErrCircuitOpen)
	}

	var lastErr error
	for attempt := 0; attempt < publishRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(exponentialBackoff(attempt - 1)):
			}
		}

		lastErr = c.publishOnce(ctx, msgType, body)
		if lastErr == nil {
			c.recordSuccess()
			slog.InfoContext(ctx, "Published message",
				append([]any{
					"type", msgType,
					"exchange", c.exchangeName,
					"queue", c.queueName,
				}, attrs...)...)
			return nil
		}

		c.recordFailure()
		if !isConnectionError(lastErr) {
			break
		}
		slog.WarnContext(ctx, "Publish failed on connection, reconnecting",
			"type", msgType, "attempt", attempt+1, "error", lastErr)
		if err := c.reconnect(); err != nil {
			lastErr = err
		}
	}
	return fmt.Errorf("publish %s: %w", msgType, lastErr)
}

func (c *Client) publishOnce(ctx context.Context, msgType string, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel == nil {
		return errors.New("connection closed")
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	return c.channel.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		c.queueName,    // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Type:         msgType,
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
}

// Consume delivers messages to h until ctx is done or the channel closes.
// Undecodable or unknown messages are dropped; a failing handler gets the
// message requeued once.
func (c *Client) Consume(ctx context.Context, h Handler) error {
	c.mu.Lock()
	channel := c.channel
	c.mu.Unlock()
	if channel == nil {
		return errors.New("connection closed")
	}

	msgs, err := channel.Consume(
		c.queueName, // queue
		"",          // consumer
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	slog.InfoContext(ctx, "Started consuming messages", "queue", c.queueName)

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Stopping message consumption", "reason", ctx.Err())
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return errors.New("message channel closed")
			}
			c.dispatch(ctx, h, delivery)
		}
	}
}

func (c *Client) dispatch(ctx context.Context, h Handler, delivery amqp091.Delivery) {
	err := route(ctx, h, delivery.Type, delivery.Body)
	switch {
	case err == nil:
		delivery.Ack(false)
		slog.InfoContext(ctx, "Processed message", "type", delivery.Type, "message_id", delivery.MessageId)
	case errors.Is(err, errUndeliverable):
		slog.ErrorContext(ctx, "Dropping message", "type", delivery.Type, "error", err)
		delivery.Nack(false, false)
	default:
		slog.ErrorContext(ctx, "Failed to handle message",
			"type", delivery.Type,
			"redelivered", delivery.Redelivered,
			"error", err)
		delivery.Nack(false, !delivery.Redelivered)
	}
}

var errUndeliverable = errors.New("undeliverable message")

func route(ctx context.Context, h Handler, msgType string, body []byte) error {
	switch msgType {
	case TypePaymentUpserted:
		msg, err := PaymentSyncMessageFromJSON(body)
		if err != nil {
			return fmt.Errorf("%w: %v", errUndeliverable, err)
		}
		return h.HandlePaymentUpserted(ctx, msg)
	case TypePaymentDeleted:
		msg, err := PaymentDeleteMessageFromJSON(body)
		if err != nil {
			return fmt.Errorf("%w: %v", errUndeliverable, err)
		}
		return h.HandlePaymentDeleted(ctx, msg)
	case TypePasswordReset:
		msg, err := PasswordResetMessageFromJSON(body)
		if err != nil {
			return fmt.Errorf("%w: %v", errUndeliverable, err)
		}
		return h.HandlePasswordReset(ctx, msg)
	default:
		return fmt.Errorf("%w: unknown type %q", errUndeliverable, msgType)
	}
}

// Run consumes until ctx is done, reconnecting with backoff whenever the
// broker drops the channel.
func (c *Client) Run(ctx context.Context, h Handler) error {
	for attempt := 0; ; {
		err := c.Consume(ctx, h)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		wait := exponentialBackoff(attempt)
		slog.WarnContext(ctx, "Consumer stopped, reconnecting", "error", err, "backoff", wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		if err := c.reconnect(); err != nil {
			slog.ErrorContext(ctx, "Reconnect failed", "error", err)
			attempt++
			continue
		}
		attempt = 0
	}
}

func (c *Client) isCircuitOpen() bool {
	switch atomic.LoadInt32(&c.state) {
	case StateOpen:
		c.mu.Lock()
		last := c.lastFailure
		c.mu.Unlock()
		if time.Since(last) > openTimeout {
			atomic.CompareAndSwapInt32(&c.state, StateOpen, StateHalfOpen)
			return false
		}
		return true
	default:
		return false
	}
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	atomic.StoreInt32(&c.state, StateClosed)
}

func (c *Client) recordFailure() {
	n := atomic.AddInt64(&c.failureCount, 1)
	c.mu.Lock()
	c.lastFailure = time.Now()
	c.mu.Unlock()
	if n >= maxFailures || atomic.LoadInt32(&c.state) == StateHalfOpen {
		atomic.StoreInt32(&c.state, StateOpen)
	}
}

// exponentialBackoff returns 1s, 2s, 4s... capped at maxBackoff.
func exponentialBackoff(attempt int) time.Duration {
	if attempt > 5 {
		return maxBackoff
	}
	d := time.Second << attempt
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := err.Error()
	for _, s := range []string{
		"connection refused",
		"connection closed",
		"unexpected EOF",
		"broken pipe",
		"use of closed network connection",
		"channel/connection is not open",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		if err != nil && !errors.Is(err, amqp091.ErrClosed) {
			return err
		}
	}
	return nil
}
