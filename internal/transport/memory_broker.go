package transport

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryBroker is a Broker backed by in-memory buffered channels. Ordinary
// queues are created on first use; temporary queues must be created
// explicitly and report ErrQueueNotFound once deleted.
type MemoryBroker struct {
	mu     sync.Mutex
	buffer int
	queues map[string]*memoryQueue
}

type memoryQueue struct {
	ch       chan Message
	mu       sync.Mutex
	inflight map[string]Message
}

// NewMemoryBroker creates a MemoryBroker whose queues hold up to buffer messages.
func NewMemoryBroker(buffer int) *MemoryBroker {
	if buffer <= 0 {
		buffer = 128
	}
	return &MemoryBroker{
		buffer: buffer,
		queues: make(map[string]*memoryQueue),
	}
}

func (b *MemoryBroker) queue(name string) (*memoryQueue, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if ok {
		return q, nil
	}
	if strings.HasPrefix(name, TemporaryQueuePrefix) {
		return nil, ErrQueueNotFound
	}
	q = b.newQueue()
	b.queues[name] = q
	return q, nil
}

func (b *MemoryBroker) newQueue() *memoryQueue {
	return &memoryQueue{
		ch:       make(chan Message, b.buffer),
		inflight: make(map[string]Message),
	}
}

// Send enqueues a message or blocks until ctx is done.
func (b *MemoryBroker) Send(ctx context.Context, queue string, msg Message) error {
	if ctx == nil {
		ctx = context.Background()
	}
	q, err := b.queue(queue)
	if err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.ReceiptHandle = ""
	msg.ReceiveCount = 0

	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive blocks until a message is available, ctx is done, or wait elapses.
func (b *MemoryBroker) Receive(ctx context.Context, queue string, maxMessages int, wait time.Duration) ([]Message, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if maxMessages <= 0 {
		maxMessages = 1
	}
	q, err := b.queue(queue)
	if err != nil {
		return nil, err
	}

	var timer *time.Timer
	if wait > 0 {
		timer = time.NewTimer(wait)
		defer timer.Stop()
	}

	if timer == nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case msg := <-q.ch:
			return q.collect(msg, maxMessages), nil
		}
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	case msg := <-q.ch:
		return q.collect(msg, maxMessages), nil
	}
}

func (q *memoryQueue) collect(first Message, max int) []Message {
	messages := make([]Message, 0, max)
	messages = append(messages, q.deliver(first))

	for len(messages) < max {
		select {
		case msg := <-q.ch:
			messages = append(messages, q.deliver(msg))
		default:
			return messages
		}
	}
	return messages
}

func (q *memoryQueue) deliver(msg Message) Message {
	msg.ReceiveCount++
	msg.ReceiptHandle = uuid.NewString()
	q.mu.Lock()
	q.inflight[msg.ReceiptHandle] = msg
	q.mu.Unlock()
	return msg
}

func (q *memoryQueue) settle(receiptHandle string) (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	msg, ok := q.inflight[receiptHandle]
	if ok {
		delete(q.inflight, receiptHandle)
	}
	return msg, ok
}

// Ack forgets an in-flight message.
func (b *MemoryBroker) Ack(_ context.Context, queue string, msg Message) error {
	q, err := b.existing(queue)
	if err != nil {
		return err
	}
	q.settle(msg.ReceiptHandle)
	return nil
}

// Nack puts an in-flight message back on its queue, keeping its receive count.
func (b *MemoryBroker) Nack(ctx context.Context, queue string, msg Message) error {
	if ctx == nil {
		ctx = context.Background()
	}
	q, err := b.existing(queue)
	if err != nil {
		return err
	}
	original, ok := q.settle(msg.ReceiptHandle)
	if !ok {
		return nil
	}
	original.ReceiptHandle = ""
	select {
	case q.ch <- original:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NackAfter takes the message out of flight now and puts it back on the
// queue once delay has passed.
func (b *MemoryBroker) NackAfter(_ context.Context, queue string, msg Message, delay time.Duration) error {
	q, err := b.existing(queue)
	if err != nil {
		return err
	}
	original, ok := q.settle(msg.ReceiptHandle)
	if !ok {
		return nil
	}
	original.ReceiptHandle = ""
	time.AfterFunc(delay, func() { q.ch <- original })
	return nil
}

func (b *MemoryBroker) existing(name string) (*memoryQueue, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		return nil, ErrQueueNotFound
	}
	return q, nil
}

// CreateTemporaryQueue registers a fresh uniquely named queue.
func (b *MemoryBroker) CreateTemporaryQueue(_ context.Context, prefix string) (string, error) {
	name := temporaryQueueName(prefix)
	b.mu.Lock()
	b.queues[name] = b.newQueue()
	b.mu.Unlock()
	return name, nil
}

// DeleteQueue drops a queue and any messages still on it.
func (b *MemoryBroker) DeleteQueue(_ context.Context, queue string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.queues, queue)
	return nil
}

// QueueNames lists the queues currently held, sorted.
func (b *MemoryBroker) QueueNames() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.queues))
	for name := range b.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len reports how many messages are waiting on a queue.
func (b *MemoryBroker) Len(queue string) int {
	q, err := b.existing(queue)
	if err != nil {
		return 0
	}
	return len(q.ch)
}

func temporaryQueueName(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "-")
	if prefix == "" {
		prefix = "reply"
	}
	return TemporaryQueuePrefix + prefix + "-" + uuid.NewString()
}
