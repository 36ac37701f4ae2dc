package transport

import (
	"context"
	"fmt"

	"github.com/Nabil201-ctrl/Healify-sub000/internal/events"
	"github.com/Nabil201-ctrl/Healify-sub000/pkg/logging"
)

// Publisher wraps canonical events in envelopes and enqueues them.
type Publisher struct {
	broker Broker
	logger *logging.Logger
}

type publishConfig struct {
	persistent    bool
	correlationID string
	replyTo       string
	envelopeOpts  []events.EnvelopeOption
}

// PublishOption customizes a single publish.
type PublishOption func(*publishConfig)

// Persistent marks the message as durable.
func Persistent() PublishOption {
	return func(cfg *publishConfig) {
		cfg.persistent = true
	}
}

// WithCorrelationID stamps the message and envelope with a correlation id.
func WithCorrelationID(id string) PublishOption {
	return func(cfg *publishConfig) {
		cfg.correlationID = id
	}
}

// WithReplyTo names the queue a responder should answer on.
func WithReplyTo(queue string) PublishOption {
	return func(cfg *publishConfig) {
		cfg.replyTo = queue
	}
}

// WithEnvelopeOptions forwards options to events.NewEnvelope.
func WithEnvelopeOptions(opts ...events.EnvelopeOption) PublishOption {
	return func(cfg *publishConfig) {
		cfg.envelopeOpts = append(cfg.envelopeOpts, opts...)
	}
}

// NewPublisher creates a broker-backed publisher.
func NewPublisher(broker Broker, logger *logging.Logger) *Publisher {
	if broker == nil {
		panic("transport: broker cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{
		broker: broker,
		logger: logger,
	}
}

// Publish sends evt to queue and returns the envelope that was written.
func (p *Publisher) Publish(ctx context.Context, queue, aggregate string, evt events.CanonicalEvent, opts ...PublishOption) (events.Envelope, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var cfg publishConfig
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	env, err := events.NewEnvelope(aggregate, cfg.correlationID, evt, cfg.envelopeOpts...)
	if err != nil {
		return events.Envelope{}, err
	}
	body, err := env.Marshal()
	if err != nil {
		return events.Envelope{}, err
	}

	msg := Message{
		ID:            env.EventID.String(),
		Body:          string(body),
		CorrelationID: cfg.correlationID,
		ReplyTo:       cfg.replyTo,
		Persistent:    cfg.persistent,
	}
	if err := p.broker.Send(ctx, queue, msg); err != nil {
		return events.Envelope{}, fmt.Errorf("transport: publish %s to %s: %w", env.EventType, queue, err)
	}

	p.logger.Debug("event published", "queue", queue, "event_type", env.EventType, "event_id", env.EventID)
	return env, nil
}
