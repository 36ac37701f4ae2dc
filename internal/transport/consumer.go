package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Nabil201-ctrl/Healify-sub000/internal/events"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/observability/metrics"
	"github.com/Nabil201-ctrl/Healify-sub000/pkg/logging"
)

// Delivery is a decoded message handed to a Handler.
type Delivery struct {
	Queue    string
	Message  Message
	Envelope events.Envelope
}

// Handler processes one delivery. A nil error acks the message; any other
// error returns it to the queue, except errors wrapping
// events.ErrMalformedPayload which drop it. Errors built with RetryAfter
// return it with a redelivery delay.
type Handler func(ctx context.Context, d Delivery) error

// RetryError asks the consumer to redeliver the message after Delay.
type RetryError struct {
	Err   error
	Delay time.Duration
}

func (e *RetryError) Error() string { return e.Err.Error() }
func (e *RetryError) Unwrap() error { return e.Err }

// RetryAfter wraps err so the message comes back no sooner than delay.
func RetryAfter(err error, delay time.Duration) error {
	return &RetryError{Err: err, Delay: delay}
}

const (
	defaultPrefetch   = 10
	defaultWait       = 2 * time.Second
	maxReceiveBackoff = 5 * time.Second
	outcomeAcked      = "acked"
	outcomeNacked     = "nacked"
	outcomeDropped    = "dropped"
)

type consumerConfig struct {
	prefetch int
	wait     time.Duration
	metrics  *metrics.TriageMetrics
}

// ConsumerOption customizes consumer behavior.
type ConsumerOption func(*consumerConfig)

// WithPrefetch caps the number of in-flight handlers.
func WithPrefetch(n int) ConsumerOption {
	return func(cfg *consumerConfig) {
		if n > 0 {
			cfg.prefetch = n
		}
	}
}

// WithReceiveWait sets the long-poll duration of each receive.
func WithReceiveWait(d time.Duration) ConsumerOption {
	return func(cfg *consumerConfig) {
		if d >= 0 {
			cfg.wait = d
		}
	}
}

// WithMetrics records delivery outcomes.
func WithMetrics(m *metrics.TriageMetrics) ConsumerOption {
	return func(cfg *consumerConfig) {
		cfg.metrics = m
	}
}

// Consumer runs a single receive loop for one queue and dispatches messages
// to concurrent handlers, never more than the prefetch limit at a time.
type Consumer struct {
	broker  Broker
	queue   string
	handler Handler
	logger  *logging.Logger
	cfg     consumerConfig

	slots chan struct{}
	wg    sync.WaitGroup
}

// NewConsumer builds a consumer for queue.
func NewConsumer(broker Broker, queue string, handler Handler, logger *logging.Logger, opts ...ConsumerOption) *Consumer {
	if broker == nil {
		panic("transport: broker cannot be nil")
	}
	if queue == "" {
		panic("transport: queue name cannot be empty")
	}
	if handler == nil {
		panic("transport: handler cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg := consumerConfig{
		prefetch: defaultPrefetch,
		wait:     defaultWait,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return &Consumer{
		broker:  broker,
		queue:   queue,
		handler: handler,
		logger:  logger.With("queue", queue),
		cfg:     cfg,
		slots:   make(chan struct{}, cfg.prefetch),
	}
}

// Start launches the receive loop until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.run(ctx)
}

// Wait blocks until the loop and every in-flight handler have returned.
func (c *Consumer) Wait() {
	c.wg.Wait()
}

func (c *Consumer) acquire(ctx context.Context) bool {
	select {
	case c.slots <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Consumer) release() {
	<-c.slots
}

func (c *Consumer) run(ctx context.Context) {
	defer c.wg.Done()
	c.logger.Debug("consumer started", "prefetch", c.cfg.prefetch)

	backoff := time.Second
	for {
		if !c.acquire(ctx) {
			c.logger.Debug("consumer stopping")
			return
		}
		free := cap(c.slots) - len(c.slots) + 1

		messages, err := c.broker.Receive(ctx, c.queue, free, c.cfg.wait)
		if err != nil {
			c.release()
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("failed to receive messages", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < maxReceiveBackoff {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
		if len(messages) == 0 {
			c.release()
			continue
		}

		for i, msg := range messages {
			if i > 0 && !c.acquire(ctx) {
				for _, rest := range messages[i:] {
					c.settle(rest, outcomeNacked, 0)
				}
				return
			}
			c.wg.Add(1)
			go func(m Message) {
				defer c.wg.Done()
				defer c.release()
				c.handle(ctx, m)
			}(msg)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg Message) {
	start := time.Now()
	env, err := events.ParseEnvelope([]byte(msg.Body))
	if err != nil {
		c.logger.Error("dropping undecodable message", "error", err, "message_id", msg.ID)
		c.settle(msg, outcomeDropped, 0)
		c.cfg.metrics.ObserveConsumed(c.queue, outcomeDropped, time.Since(start))
		return
	}

	err = c.handler(ctx, Delivery{Queue: c.queue, Message: msg, Envelope: env})
	outcome := outcomeAcked
	var (
		retry *RetryError
		delay time.Duration
	)
	switch {
	case err == nil:
	case errors.Is(err, events.ErrMalformedPayload):
		c.logger.Error("dropping malformed payload", "error", err, "event_type", env.EventType, "event_id", env.EventID)
		outcome = outcomeDropped
	case errors.As(err, &retry):
		c.logger.Info("message deferred", "error", err, "event_id", env.EventID, "delay", retry.Delay)
		outcome, delay = outcomeNacked, retry.Delay
	default:
		c.logger.Warn("handler failed, message will be redelivered",
			"error", err,
			"event_type", env.EventType,
			"event_id", env.EventID,
			"receive_count", msg.ReceiveCount,
		)
		outcome = outcomeNacked
	}
	c.settle(msg, outcome, delay)
	c.cfg.metrics.ObserveConsumed(c.queue, outcome, time.Since(start))
}

// settle acks or nacks on a fresh context so shutdown does not strand messages.
func (c *Consumer) settle(msg Message, outcome string, delay time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()

	var err error
	delayed, canDelay := c.broker.(DelayedNacker)
	switch {
	case outcome != outcomeNacked:
		err = c.broker.Ack(ctx, c.queue, msg)
	case delay > 0 && canDelay:
		err = delayed.NackAfter(ctx, c.queue, msg, delay)
	default:
		err = c.broker.Nack(ctx, c.queue, msg)
	}
	if err != nil {
		c.logger.Error("failed to settle message", "error", err, "outcome", outcome, "message_id", msg.ID)
	}
}
