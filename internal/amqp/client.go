// Package amqp moves scan and export jobs between the API server and
// the worker over RabbitMQ. Publishing sits behind a small circuit
// breaker so a broker outage degrades to inline processing instead of
// blocking requests.
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

	"github.com/rabbitmq/amqp091-go"
)

// Circuit breaker states.
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	maxFailures = 5
	openTimeout = 30 * time.Second
)

type Client struct {
	url          string
	exchangeName string
	scanQueue    string
	exportQueue  string

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel

	failureCount int64
	state        int32
	lastFailure  time.Time
}

// NewClient connects to the broker and declares the exchange and both
// job queues.
func NewClient(url, exchangeName, scanQueue, exportQueue string) (*Client, error) {
	client := &Client{
		url:          url,
		exchangeName: exchangeName,
		scanQueue:    scanQueue,
		exportQueue:  exportQueue,
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

	if err := setupTopology(channel, c.exchangeName, c.scanQueue, c.exportQueue); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("setup exchange and queues: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = channel
	c.mu.Unlock()
	return nil
}

func setupTopology(ch *amqp091.Channel, exchange string, queues ...string) error {
	err := ch.ExchangeDeclare(
		exchange, // name
		"direct", // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	for _, queue := range queues {
		_, err = ch.QueueDeclare(
			queue, // name
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}

		// Routing key matches the queue name on the direct exchange.
		if err := ch.QueueBind(queue, queue, exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", queue, err)
		}
	}
	return nil
}

// PublishScanJob enqueues an OCR job for an uploaded scan.
func (c *Client) PublishScanJob(ctx context.Context, scanID string) error {
	msg := NewScanJobMessage(scanID)
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return c.publish(ctx, c.scanQueue, body)
}

// PublishExportJob enqueues a Sheets export for a saved receipt.
func (c *Client) PublishExportJob(ctx context.Context, receiptID string) error {
	msg := NewExportJobMessage(receiptID)
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return c.publish(ctx, c.exportQueue, body)
}

func (c *Client) publish(ctx context.Context, routingKey string, body []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if c.isCircuitOpen() {
		return errors.New("publish blocked: circuit breaker is open")
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	c.mu.Lock()
	channel := c.channel
	c.mu.Unlock()
	if channel == nil {
		c.recordFailure()
		return errors.New("not connected")
	}

	err := channel.PublishWithContext(
		ctx,
		c.exchangeName,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		c.recordFailure()
		if isConnectionError(err) {
			go c.reconnect(context.Background())
		}
		return fmt.Errorf("publish message: %w", err)
	}

	c.recordSuccess()
	slog.InfoContext(ctx, "published job",
		"exchange", c.exchangeName,
		"queue", routingKey)
	return nil
}

// ConsumeScanJobs delivers scan jobs to handler until ctx is done. A
// handler error nacks with requeue; a malformed body is dropped.
func (c *Client) ConsumeScanJobs(ctx context.Context, handler func(context.Context, *ScanJobMessage) error) error {
	return c.consume(ctx, c.scanQueue, func(ctx context.Context, body []byte) error {
		msg, err := ScanJobMessageFromJSON(body)
		if err != nil {
			return errMalformed(err)
		}
		return handler(ctx, msg)
	})
}

// ConsumeExportJobs delivers export jobs to handler until ctx is done.
func (c *Client) ConsumeExportJobs(ctx context.Context, handler func(context.Context, *ExportJobMessage) error) error {
	return c.consume(ctx, c.exportQueue, func(ctx context.Context, body []byte) error {
		msg, err := ExportJobMessageFromJSON(body)
		if err != nil {
			return errMalformed(err)
		}
		return handler(ctx, msg)
	})
}

type malformedError struct{ err error }

func (e malformedError) Error() string { return "malformed message: " + e.err.Error() }
func (e malformedError) Unwrap() error { return e.err }

func errMalformed(err error) error { return malformedError{err: err} }

func (c *Client) consume(ctx context.Context, queue string, handle func(context.Context, []byte) error) error {
	for attempt := 0; ; attempt++ {
		err := c.consumeOnce(ctx, queue, handle)
		if err == nil || ctx.Err() != nil {
			return ctx.Err()
		}

		// The delivery channel closed underneath us; back off and
		// re-establish the connection.
		delay := exponentialBackoff(attempt)
		slog.WarnContext(ctx, "consumer lost connection",
			"queue", queue,
			"error", err,
			"retry_in", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if err := c.reconnect(ctx); err != nil {
			continue
		}
		attempt = -1 // connection restored; next failure starts over
	}
}

func (c *Client) consumeOnce(ctx context.Context, queue string, handle func(context.Context, []byte) error) error {
	c.mu.Lock()
	channel := c.channel
	c.mu.Unlock()
	if channel == nil {
		return errors.New("not connected")
	}

	msgs, err := channel.Consume(
		queue, // queue
		"",    // consumer
		false, // auto-ack (we want manual ack)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	slog.InfoContext(ctx, "consuming jobs", "queue", queue)

	for {
		select {
		case <-ctx.Done():
			return nil
		case delivery, ok := <-msgs:
			if !ok {
				return errors.New("message channel closed")
			}

			if err := handle(ctx, delivery.Body); err != nil {
				var malformed malformedError
				if errors.As(err, &malformed) {
					slog.ErrorContext(ctx, "dropping malformed message",
						"queue", queue, "error", err)
					delivery.Nack(false, false)
					continue
				}
				slog.ErrorContext(ctx, "job handler failed",
					"queue", queue, "error", err)
				delivery.Nack(false, true)
				continue
			}
			delivery.Ack(false)
		}
	}
}

func (c *Client) reconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	for attempt := 0; ; attempt++ {
		if err := c.connect(); err == nil {
			c.recordSuccess()
			slog.InfoContext(ctx, "reconnected to broker")
			return nil
		} else if attempt >= maxFailures {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(exponentialBackoff(attempt)):
		}
	}
}

func (c *Client) isCircuitOpen() bool {
	if atomic.LoadInt32(&c.state) != StateOpen {
		return false
	}
	c.mu.Lock()
	elapsed := time.Since(c.lastFailure)
	c.mu.Unlock()
	if elapsed > openTimeout {
		atomic.StoreInt32(&c.state, StateHalfOpen)
		return false
	}
	return true
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	atomic.StoreInt32(&c.state, StateClosed)
}

func (c *Client) recordFailure() {
	count := atomic.AddInt64(&c.failureCount, 1)
	c.mu.Lock()
	c.lastFailure = time.Now()
	c.mu.Unlock()
	if count >= maxFailures {
		atomic.StoreInt32(&c.state, StateOpen)
	}
}

// exponentialBackoff returns the wait before retry number attempt,
// doubling from 1s and capped at 30s.
func exponentialBackoff(attempt int) time.Duration {
	if attempt >= 5 {
		return 30 * time.Second
	}
	return time.Duration(1<<attempt) * time.Second
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range []string{
		"connection refused",
		"connection closed",
		"connection reset",
		"EOF",
		"broken pipe",
		"use of closed network connection",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
