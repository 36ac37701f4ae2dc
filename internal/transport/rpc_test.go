package transport

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nabil201-ctrl/Healify-sub000/internal/domain"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/events"
)

func startContextResponder(t *testing.T, b Broker, handler RPCHandler) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	r := NewResponder(b, "context_rpc", handler, testLogger(), WithPrefetch(2), WithReceiveWait(10*time.Millisecond))
	r.Start(ctx)
	return func() {
		cancel()
		r.Wait()
	}
}

func temporaryQueues(b *MemoryBroker) []string {
	var out []string
	for _, name := range b.QueueNames() {
		if strings.HasPrefix(name, TemporaryQueuePrefix) {
			out = append(out, name)
		}
	}
	return out
}

func TestRPCCallAnswered(t *testing.T) {
	b := NewMemoryBroker(16)
	stop := startContextResponder(t, b, func(ctx context.Context, req events.Envelope) (events.CanonicalEvent, error) {
		in, err := events.Decode[events.ContextRequestV1](req)
		if err != nil {
			return nil, err
		}
		return events.ContextReplyV1{UserID: in.UserID, Context: &domain.HealthSnapshot{UserID: in.UserID}}, nil
	})
	defer stop()

	client := NewRPCClient(b, testLogger(), nil)
	reply, err := client.Call(context.Background(), "context_rpc", "user:u1", events.ContextRequestV1{UserID: "u1"}, time.Second)
	require.NoError(t, err)
	require.True(t, reply.Answered)

	out, err := events.Decode[events.ContextReplyV1](reply.Envelope)
	require.NoError(t, err)
	require.NotNil(t, out.Context)
	assert.Equal(t, "u1", out.Context.UserID)
	assert.Equal(t, 0, client.Pending())
	assert.Empty(t, temporaryQueues(b))
}

func TestRPCCallTimeoutReturnsNoAnswerWithoutLeaking(t *testing.T) {
	b := NewMemoryBroker(16)
	client := NewRPCClient(b, testLogger(), nil)

	for i := 0; i < 5; i++ {
		start := time.Now()
		reply, err := client.Call(context.Background(), "nobody_listens", "user:u1", events.ContextRequestV1{UserID: "u1"}, 20*time.Millisecond)
		require.NoError(t, err)
		assert.False(t, reply.Answered)
		assert.Equal(t, NoAnswer, reply)
		assert.Less(t, time.Since(start), time.Second)
	}

	assert.Equal(t, 0, client.Pending())
	assert.Empty(t, temporaryQueues(b))
	assert.Equal(t, 5, b.Len("nobody_listens"))
}

func TestRPCLateReplyIsDiscarded(t *testing.T) {
	b := NewMemoryBroker(16)
	var served int32
	stop := startContextResponder(t, b, func(ctx context.Context, req events.Envelope) (events.CanonicalEvent, error) {
		time.Sleep(60 * time.Millisecond)
		atomic.AddInt32(&served, 1)
		return events.ContextReplyV1{UserID: "u1"}, nil
	})
	defer stop()

	client := NewRPCClient(b, testLogger(), nil)
	reply, err := client.Call(context.Background(), "context_rpc", "user:u1", events.ContextRequestV1{UserID: "u1"}, 10*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, reply.Answered)

	require.Eventually(t, func() bool { return atomic.LoadInt32(&served) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, client.Pending())
	assert.Empty(t, temporaryQueues(b))
}

func TestPendingTableFirstWriterWins(t *testing.T) {
	for i := 0; i < 200; i++ {
		table := newPendingTable()
		ch := table.register("corr")

		var wins int32
		var wg sync.WaitGroup
		wg.Add(3)
		go func() {
			defer wg.Done()
			if table.resolve("corr", events.Envelope{EventType: "a"}) {
				atomic.AddInt32(&wins, 1)
			}
		}()
		go func() {
			defer wg.Done()
			if table.resolve("corr", events.Envelope{EventType: "b"}) {
				atomic.AddInt32(&wins, 1)
			}
		}()
		go func() {
			defer wg.Done()
			if table.expire("corr") {
				atomic.AddInt32(&wins, 1)
			}
		}()
		wg.Wait()

		require.Equal(t, int32(1), atomic.LoadInt32(&wins))
		require.Equal(t, 0, table.len())
		select {
		case <-ch:
		default:
		}
	}
}

type failingBroker struct {
	*MemoryBroker
}

func (failingBroker) CreateTemporaryQueue(context.Context, string) (string, error) {
	return "", errors.New("broker down")
}

func TestRPCCallReportsBrokerFailure(t *testing.T) {
	client := NewRPCClient(failingBroker{NewMemoryBroker(1)}, testLogger(), nil)
	reply, err := client.Call(context.Background(), "context_rpc", "user:u1", events.ContextRequestV1{UserID: "u1"}, 10*time.Millisecond)
	require.Error(t, err)
	assert.False(t, reply.Answered)
}

func TestResponderIgnoresVanishedCaller(t *testing.T) {
	b := NewMemoryBroker(16)
	handled := make(chan struct{})
	stop := startContextResponder(t, b, func(ctx context.Context, req events.Envelope) (events.CanonicalEvent, error) {
		defer close(handled)
		return events.ContextReplyV1{UserID: "u1"}, nil
	})
	defer stop()

	pub := NewPublisher(b, testLogger())
	_, err := pub.Publish(context.Background(), "context_rpc", "user:u1", events.ContextRequestV1{UserID: "u1"},
		WithCorrelationID("corr-1"), WithReplyTo(TemporaryQueuePrefix+"gone"))
	require.NoError(t, err)

	select {
	case <-handled:
	case <-time.After(time.Second):
		t.Fatal("responder did not run")
	}
	require.Eventually(t, func() bool { return b.Len("context_rpc") == 0 }, time.Second, 5*time.Millisecond)
}
