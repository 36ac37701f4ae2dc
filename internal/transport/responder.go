package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/Nabil201-ctrl/Healify-sub000/internal/events"
	"github.com/Nabil201-ctrl/Healify-sub000/pkg/logging"
)

// RPCHandler answers one request envelope.
type RPCHandler func(ctx context.Context, req events.Envelope) (events.CanonicalEvent, error)

// Responder serves an RPC queue, replying on the caller's reply queue with
// the request's correlation id.
type Responder struct {
	*Consumer
	publisher *Publisher
	handler   RPCHandler
	logger    *logging.Logger
}

// NewResponder builds a responder consuming queue.
func NewResponder(broker Broker, queue string, handler RPCHandler, logger *logging.Logger, opts ...ConsumerOption) *Responder {
	if handler == nil {
		panic("transport: rpc handler cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	r := &Responder{
		publisher: NewPublisher(broker, logger),
		handler:   handler,
		logger:    logger.With("queue", queue),
	}
	r.Consumer = NewConsumer(broker, queue, r.handle, logger, opts...)
	return r
}

func (r *Responder) handle(ctx context.Context, d Delivery) error {
	correlationID := d.Message.CorrelationID
	if correlationID == "" {
		correlationID = d.Envelope.CorrelationID
	}
	if d.Message.ReplyTo == "" || correlationID == "" {
		return fmt.Errorf("%w: rpc request without reply-to or correlation id", events.ErrMalformedPayload)
	}

	reply, err := r.handler(ctx, d.Envelope)
	if err != nil {
		return err
	}

	aggregate := d.Envelope.Aggregate
	if aggregate == "" {
		aggregate = d.Queue
	}
	_, err = r.publisher.Publish(ctx, d.Message.ReplyTo, aggregate, reply, WithCorrelationID(correlationID))
	if errors.Is(err, ErrQueueNotFound) {
		r.logger.Debug("caller gone before reply", "reply_to", d.Message.ReplyTo, "correlation_id", correlationID)
		return nil
	}
	return err
}
