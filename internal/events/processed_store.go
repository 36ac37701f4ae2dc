package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Nabil201-ctrl/Healify-sub000/pkg/logging"
)

type dedupeQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ProcessedStore remembers which envelopes each consumer has applied, so a
// redelivered message can be acknowledged without running it twice.
type ProcessedStore struct {
	db  dedupeQuerier
	now func() time.Time
}

func NewProcessedStore(pool *pgxpool.Pool) *ProcessedStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return newProcessedStore(pool)
}

func newProcessedStore(db dedupeQuerier) *ProcessedStore {
	if db == nil {
		panic("events: querier required")
	}
	return &ProcessedStore{db: db, now: time.Now}
}

// Seen reports whether consumer already recorded eventID.
func (s *ProcessedStore) Seen(ctx context.Context, consumer, eventID string) (bool, error) {
	var one int
	err := s.db.QueryRow(ctx,
		`SELECT 1 FROM processed_events WHERE consumer = $1 AND event_id = $2`,
		consumer, eventID).Scan(&one)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("events: lookup %s/%s: %w", consumer, eventID, err)
	}
	return true, nil
}

// Record stores eventID for consumer. It reports false when another delivery
// recorded it first.
func (s *ProcessedStore) Record(ctx context.Context, consumer, eventID string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO processed_events (consumer, event_id, processed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (consumer, event_id) DO NOTHING`,
		consumer, eventID, s.now().UTC())
	if err != nil {
		return false, fmt.Errorf("events: record %s/%s: %w", consumer, eventID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Prune drops records older than retention. Queues stop redelivering long
// before that, so old ids can never match again.
func (s *ProcessedStore) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM processed_events WHERE processed_at < $1`,
		s.now().Add(-retention).UTC())
	if err != nil {
		return 0, fmt.Errorf("events: prune processed: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Pruner runs Prune on an interval until its context is cancelled.
type Pruner struct {
	store     *ProcessedStore
	retention time.Duration
	interval  time.Duration
	logger    *logging.Logger
	wg        sync.WaitGroup
}

func NewPruner(store *ProcessedStore, retention, interval time.Duration, logger *logging.Logger) *Pruner {
	if store == nil {
		panic("events: processed store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Pruner{store: store, retention: retention, interval: interval, logger: logger}
}

func (p *Pruner) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := p.store.Prune(ctx, p.retention)
				if err != nil {
					p.logger.Warn("processed event prune failed", "error", err)
					continue
				}
				if n > 0 {
					p.logger.Info("pruned processed events", "count", n)
				}
			}
		}
	}()
}

func (p *Pruner) Wait() { p.wg.Wait() }
