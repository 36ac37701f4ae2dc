package transport

import (
	"context"
	"errors"
	"time"
)

// ErrQueueNotFound is returned when sending to a queue that no longer exists,
// typically a reply queue whose caller already gave up.
var ErrQueueNotFound = errors.New("transport: queue not found")

// TemporaryQueuePrefix prefixes every queue created by CreateTemporaryQueue.
const TemporaryQueuePrefix = "tmp-"

// Message is a single queue delivery.
type Message struct {
	ID            string
	Body          string
	ReceiptHandle string
	CorrelationID string
	ReplyTo       string
	Persistent    bool
	ReceiveCount  int
}

// Broker is the queue substrate shared by publishers, consumers and RPC.
// Queues are addressed by name.
type Broker interface {
	Send(ctx context.Context, queue string, msg Message) error
	Receive(ctx context.Context, queue string, maxMessages int, wait time.Duration) ([]Message, error)
	// Ack removes a delivered message permanently.
	Ack(ctx context.Context, queue string, msg Message) error
	// Nack returns a delivered message to the queue for redelivery.
	Nack(ctx context.Context, queue string, msg Message) error
	// CreateTemporaryQueue creates a private queue for replies and returns its name.
	CreateTemporaryQueue(ctx context.Context, prefix string) (string, error)
	DeleteQueue(ctx context.Context, queue string) error
}

// DelayedNacker is implemented by brokers that can hold a returned message
// back for a while before redelivering it.
type DelayedNacker interface {
	NackAfter(ctx context.Context, queue string, msg Message, delay time.Duration) error
}

const settleTimeout = 5 * time.Second
