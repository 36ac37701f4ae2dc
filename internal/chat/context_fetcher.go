package chat

import (
	"context"
	"time"

	"github.com/Nabil201-ctrl/Healify-sub000/internal/cache"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/domain"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/events"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/transport"
	"github.com/Nabil201-ctrl/Healify-sub000/pkg/logging"
)

// DefaultContextTimeout bounds the RPC to the health process.
const DefaultContextTimeout = 2000 * time.Millisecond

type rpcCaller interface {
	Call(ctx context.Context, queue, aggregate string, evt events.CanonicalEvent, timeout time.Duration) (transport.Reply, error)
}

// ContextFetcher resolves a user's health snapshot cache-first, falling back
// to an RPC against the health process. Every failure degrades to a nil
// snapshot; callers never see an error.
type ContextFetcher struct {
	cache   *cache.Store
	rpc     rpcCaller
	queue   string
	timeout time.Duration
	logger  *logging.Logger
}

func NewContextFetcher(store *cache.Store, rpc rpcCaller, queue string, timeout time.Duration, logger *logging.Logger) *ContextFetcher {
	if store == nil {
		panic("chat: cache store cannot be nil")
	}
	if rpc == nil {
		panic("chat: rpc client cannot be nil")
	}
	if timeout <= 0 {
		timeout = DefaultContextTimeout
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ContextFetcher{
		cache:   store,
		rpc:     rpc,
		queue:   queue,
		timeout: timeout,
		logger:  logger,
	}
}

// Fetch returns the snapshot for userID, or nil when none is available in time.
func (f *ContextFetcher) Fetch(ctx context.Context, userID string) *domain.HealthSnapshot {
	key := cache.UserContextKey(userID)

	var cached domain.HealthSnapshot
	hit, err := f.cache.Get(ctx, key, &cached)
	if err != nil {
		f.logger.Warn("context cache read failed", "user_id", userID, "error", err)
	}
	if hit {
		return &cached
	}

	reply, err := f.rpc.Call(ctx, f.queue, "user:"+userID, events.ContextRequestV1{UserID: userID}, f.timeout)
	if err != nil {
		f.logger.Warn("context rpc failed", "user_id", userID, "error", err)
		return nil
	}
	if !reply.Answered {
		f.logger.Info("context rpc timed out", "user_id", userID, "timeout", f.timeout)
		return nil
	}

	payload, err := events.Decode[events.ContextReplyV1](reply.Envelope)
	if err != nil {
		f.logger.Warn("context reply undecodable", "user_id", userID, "error", err)
		return nil
	}
	if payload.Context == nil {
		return nil
	}

	// A snapshot pushed while the call was in flight is newer; leave it.
	written, err := f.cache.SetIfAbsent(ctx, key, payload.Context, cache.UserContextTTL)
	if err != nil {
		f.logger.Warn("context cache write failed", "user_id", userID, "error", err)
	} else if !written {
		f.logger.Debug("context cache already refreshed by push", "user_id", userID)
	}
	return payload.Context
}
