package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Nabil201-ctrl/Healify-sub000/internal/events"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/observability/metrics"
	"github.com/Nabil201-ctrl/Healify-sub000/pkg/logging"
)

const (
	defaultRPCTimeout = 2 * time.Second
	replyPollWait     = time.Second
	replyQueuePrefix  = "rpc-reply"

	rpcAnswered = "answered"
	rpcTimeout  = "timeout"
	rpcError    = "error"
)

// Reply is the outcome of an RPC call. Answered is false when no reply
// arrived before the deadline.
type Reply struct {
	Answered bool
	Envelope events.Envelope
}

// NoAnswer is the sentinel returned when a call times out.
var NoAnswer = Reply{}

// pendingTable maps correlation ids to one-shot completions. The first of
// resolve or expire wins; the loser is a no-op.
type pendingTable struct {
	mu      sync.Mutex
	entries map[string]chan events.Envelope
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[string]chan events.Envelope)}
}

func (t *pendingTable) register(id string) <-chan events.Envelope {
	ch := make(chan events.Envelope, 1)
	t.mu.Lock()
	t.entries[id] = ch
	t.mu.Unlock()
	return ch
}

func (t *pendingTable) resolve(id string, env events.Envelope) bool {
	t.mu.Lock()
	ch, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	ch <- env
	return true
}

func (t *pendingTable) expire(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[id]; !ok {
		return false
	}
	delete(t.entries, id)
	return true
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// RPCClient issues request/reply calls over a Broker. Each call gets its own
// temporary reply queue, deleted when the call returns.
type RPCClient struct {
	broker  Broker
	logger  *logging.Logger
	metrics *metrics.TriageMetrics
	pending *pendingTable
}

// NewRPCClient creates an RPC client.
func NewRPCClient(broker Broker, logger *logging.Logger, m *metrics.TriageMetrics) *RPCClient {
	if broker == nil {
		panic("transport: broker cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &RPCClient{
		broker:  broker,
		logger:  logger,
		metrics: m,
		pending: newPendingTable(),
	}
}

// Pending reports how many calls are awaiting a reply.
func (c *RPCClient) Pending() int {
	return c.pending.len()
}

// Call sends evt to queue and waits up to timeout for the matching reply. A
// timeout yields NoAnswer with a nil error; errors are reserved for failures
// to issue the request at all.
func (c *RPCClient) Call(ctx context.Context, queue, aggregate string, evt events.CanonicalEvent, timeout time.Duration) (Reply, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		timeout = defaultRPCTimeout
	}

	env, err := events.NewEnvelope(aggregate, uuid.NewString(), evt)
	if err != nil {
		return NoAnswer, err
	}
	body, err := env.Marshal()
	if err != nil {
		return NoAnswer, err
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	replyQueue, err := c.broker.CreateTemporaryQueue(callCtx, replyQueuePrefix)
	if err != nil {
		c.metrics.ObserveRPC(queue, rpcError)
		return NoAnswer, fmt.Errorf("transport: rpc %s: %w", queue, err)
	}

	correlationID := env.CorrelationID
	replies := c.pending.register(correlationID)

	listenCtx, stopListening := context.WithCancel(callCtx)
	listening := make(chan struct{})
	go func() {
		defer close(listening)
		c.listen(listenCtx, replyQueue)
	}()

	defer func() {
		stopListening()
		<-listening
		c.deleteQueue(replyQueue)
	}()

	err = c.broker.Send(callCtx, queue, Message{
		ID:            env.EventID.String(),
		Body:          string(body),
		CorrelationID: correlationID,
		ReplyTo:       replyQueue,
	})
	if err != nil {
		c.pending.expire(correlationID)
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			c.metrics.ObserveRPC(queue, rpcTimeout)
			return NoAnswer, nil
		}
		c.metrics.ObserveRPC(queue, rpcError)
		return NoAnswer, fmt.Errorf("transport: rpc %s: %w", queue, err)
	}

	select {
	case reply := <-replies:
		c.metrics.ObserveRPC(queue, rpcAnswered)
		return Reply{Answered: true, Envelope: reply}, nil
	case <-callCtx.Done():
		if !c.pending.expire(correlationID) {
			// A reply resolved the entry concurrently; it is already buffered.
			reply := <-replies
			c.metrics.ObserveRPC(queue, rpcAnswered)
			return Reply{Answered: true, Envelope: reply}, nil
		}
		c.metrics.ObserveRPC(queue, rpcTimeout)
		c.logger.Debug("rpc timed out", "queue", queue, "correlation_id", correlationID, "timeout", timeout)
		return NoAnswer, nil
	}
}

func (c *RPCClient) listen(ctx context.Context, replyQueue string) {
	for {
		if ctx.Err() != nil {
			return
		}
		messages, err := c.broker.Receive(ctx, replyQueue, 1, replyPollWait)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("reply queue receive failed", "error", err, "reply_queue", replyQueue)
			}
			return
		}
		for _, msg := range messages {
			c.ackReply(replyQueue, msg)
			env, err := events.ParseEnvelope([]byte(msg.Body))
			if err != nil {
				c.logger.Warn("discarding undecodable reply", "error", err, "reply_queue", replyQueue)
				continue
			}
			id := msg.CorrelationID
			if id == "" {
				id = env.CorrelationID
			}
			if c.pending.resolve(id, env) {
				return
			}
			c.logger.Debug("discarding late or unknown reply", "correlation_id", id)
		}
	}
}

func (c *RPCClient) ackReply(replyQueue string, msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()
	if err := c.broker.Ack(ctx, replyQueue, msg); err != nil {
		c.logger.Debug("failed to ack reply", "error", err, "reply_queue", replyQueue)
	}
}

func (c *RPCClient) deleteQueue(replyQueue string) {
	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()
	if err := c.broker.DeleteQueue(ctx, replyQueue); err != nil {
		c.logger.Error("failed to delete reply queue", "error", err, "reply_queue", replyQueue)
	}
}
