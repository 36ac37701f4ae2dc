package health

import (
	"context"
	"errors"
	"fmt"

	"github.com/Nabil201-ctrl/Healify-sub000/internal/domain"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/events"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/transport"
	"github.com/Nabil201-ctrl/Healify-sub000/pkg/logging"
)

const syncConsumerName = "health_sync"

type snapshotter interface {
	Snapshot(ctx context.Context, userID string) (*domain.HealthSnapshot, error)
}

type syncer interface {
	Sync(ctx context.Context, userID string, r Reading) (*domain.HealthSnapshot, error)
}

type processedStore interface {
	Seen(ctx context.Context, consumer, eventID string) (bool, error)
	Record(ctx context.Context, consumer, eventID string) (bool, error)
}

// NewContextResponder serves context RPCs from the health snapshot service.
func NewContextResponder(broker transport.Broker, queue string, snapshots snapshotter, logger *logging.Logger, opts ...transport.ConsumerOption) *transport.Responder {
	if snapshots == nil {
		panic("health: snapshot service cannot be nil")
	}
	return transport.NewResponder(broker, queue, func(ctx context.Context, req events.Envelope) (events.CanonicalEvent, error) {
		in, err := events.Decode[events.ContextRequestV1](req)
		if err != nil {
			return nil, err
		}
		if in.UserID == "" {
			return nil, fmt.Errorf("%w: context request without user", events.ErrMalformedPayload)
		}
		snapshot, err := snapshots.Snapshot(ctx, in.UserID)
		if err != nil {
			return nil, err
		}
		return events.ContextReplyV1{UserID: in.UserID, Context: snapshot}, nil
	}, logger, opts...)
}

// SyncWorker applies telemetry readings from the sync queue.
type SyncWorker struct {
	*transport.Consumer
	service   syncer
	processed processedStore
	logger    *logging.Logger
}

// NewSyncWorker builds the worker. processed may be nil, in which case
// redeliveries rely on the idempotent upsert alone.
func NewSyncWorker(broker transport.Broker, queue string, service syncer, processed processedStore, logger *logging.Logger, opts ...transport.ConsumerOption) *SyncWorker {
	if service == nil {
		panic("health: sync service cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	w := &SyncWorker{service: service, processed: processed, logger: logger}
	w.Consumer = transport.NewConsumer(broker, queue, w.handle, logger, opts...)
	return w
}

func (w *SyncWorker) handle(ctx context.Context, d transport.Delivery) error {
	evt, err := events.Decode[events.HealthSyncV1](d.Envelope)
	if err != nil {
		return err
	}
	eventID := d.Envelope.EventID.String()
	if w.processed != nil {
		done, err := w.processed.Seen(ctx, syncConsumerName, eventID)
		if err != nil {
			return err
		}
		if done {
			w.logger.Debug("sync already applied", "event_id", eventID)
			return nil
		}
	}

	_, err = w.service.Sync(ctx, evt.UserID, Reading{
		HeartRate:  evt.HeartRate,
		Steps:      evt.Steps,
		SleepHours: evt.SleepHours,
		RecordedAt: evt.Timestamp,
	})
	if errors.Is(err, ErrEmptyReading) {
		return fmt.Errorf("%w: %v", events.ErrMalformedPayload, err)
	}
	if err != nil {
		return err
	}

	if w.processed != nil {
		if _, err := w.processed.Record(ctx, syncConsumerName, eventID); err != nil {
			w.logger.Warn("failed to mark sync processed", "event_id", eventID, "error", err)
		}
	}
	return nil
}
