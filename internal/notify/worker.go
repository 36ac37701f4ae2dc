package notify

import (
	"context"

	"github.com/Nabil201-ctrl/Healify-sub000/internal/events"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/transport"
	"github.com/Nabil201-ctrl/Healify-sub000/pkg/logging"
)

type handler interface {
	Handle(ctx context.Context, evt events.NotificationRequestedV1) Report
}

// Worker consumes the notifications queue.
type Worker struct {
	*transport.Consumer
	service handler
}

func NewWorker(broker transport.Broker, queue string, service handler, logger *logging.Logger, opts ...transport.ConsumerOption) *Worker {
	if service == nil {
		panic("notify: service cannot be nil")
	}
	w := &Worker{service: service}
	w.Consumer = transport.NewConsumer(broker, queue, w.handle, logger, opts...)
	return w
}

func (w *Worker) handle(ctx context.Context, d transport.Delivery) error {
	evt, err := events.Decode[events.NotificationRequestedV1](d.Envelope)
	if err != nil {
		return err
	}
	w.service.Handle(ctx, evt)
	return nil
}

// TokenPruner removes push tokens from a user's devices.
type TokenPruner interface {
	PruneTokens(ctx context.Context, userID string, invalid []string) error
}

// PruneWorker consumes invalid-token reports and removes the tokens.
type PruneWorker struct {
	*transport.Consumer
	tokens TokenPruner
	logger *logging.Logger
}

func NewPruneWorker(broker transport.Broker, queue string, tokens TokenPruner, logger *logging.Logger, opts ...transport.ConsumerOption) *PruneWorker {
	if tokens == nil {
		panic("notify: token pruner cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	w := &PruneWorker{tokens: tokens, logger: logger}
	w.Consumer = transport.NewConsumer(broker, queue, w.handle, logger, opts...)
	return w
}

func (w *PruneWorker) handle(ctx context.Context, d transport.Delivery) error {
	evt, err := events.Decode[events.TokensInvalidatedV1](d.Envelope)
	if err != nil {
		return err
	}
	if evt.UserID == "" || len(evt.Tokens) == 0 {
		return nil
	}
	if err := w.tokens.PruneTokens(ctx, evt.UserID, evt.Tokens); err != nil {
		return err
	}
	w.logger.Info("push tokens pruned", "user_id", evt.UserID, "count", len(evt.Tokens))
	return nil
}
