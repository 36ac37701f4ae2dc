package chat

import (
	"context"

	"github.com/Nabil201-ctrl/Healify-sub000/internal/cache"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/events"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/transport"
	"github.com/Nabil201-ctrl/Healify-sub000/pkg/logging"
)

type turnHandler interface {
	HandleTurn(ctx context.Context, req ChatRequest) error
}

// Worker consumes chat requests and runs each through the orchestrator.
type Worker struct {
	*transport.Consumer
	turns turnHandler
}

// NewWorker builds a worker on the chat request queue.
func NewWorker(broker transport.Broker, queue string, turns turnHandler, logger *logging.Logger, opts ...transport.ConsumerOption) *Worker {
	if turns == nil {
		panic("chat: turn handler cannot be nil")
	}
	w := &Worker{turns: turns}
	w.Consumer = transport.NewConsumer(broker, queue, w.handle, logger, opts...)
	return w
}

func (w *Worker) handle(ctx context.Context, d transport.Delivery) error {
	req, err := events.Decode[events.ChatRequestedV1](d.Envelope)
	if err != nil {
		return err
	}
	return w.turns.HandleTurn(ctx, ChatRequest{
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Message:   req.Message,
		Timestamp: req.Timestamp,
	})
}

// ContextListener applies pushed context-changed events to the cache. A push
// always replaces whatever snapshot was cached.
type ContextListener struct {
	*transport.Consumer
	cache  *cache.Store
	logger *logging.Logger
}

func NewContextListener(broker transport.Broker, queue string, store *cache.Store, logger *logging.Logger, opts ...transport.ConsumerOption) *ContextListener {
	if store == nil {
		panic("chat: cache store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	l := &ContextListener{cache: store, logger: logger}
	l.Consumer = transport.NewConsumer(broker, queue, l.handle, logger, opts...)
	return l
}

func (l *ContextListener) handle(ctx context.Context, d transport.Delivery) error {
	evt, err := events.Decode[events.ContextChangedV1](d.Envelope)
	if err != nil {
		return err
	}
	if evt.UserID == "" || evt.Data == nil {
		l.logger.Warn("ignoring empty context push", "event_id", d.Envelope.EventID)
		return nil
	}
	if err := l.cache.Set(ctx, cache.UserContextKey(evt.UserID), evt.Data, cache.UserContextTTL); err != nil {
		return err
	}
	l.logger.Debug("context cache refreshed", "user_id", evt.UserID, "type", evt.Type)
	return nil
}
