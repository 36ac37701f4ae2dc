package transport

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

const (
	attrCorrelationID = "correlation_id"
	attrReplyTo       = "reply_to"
	attrPersistent    = "persistent"

	maxSQSWaitSeconds    = 20
	maxSQSBatch          = 10
	maxVisibilitySeconds = 12 * 60 * 60
	// Reply queues only need to outlive a single call.
	temporaryRetentionSeconds = "60"
)

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	CreateQueue(ctx context.Context, params *sqs.CreateQueueInput, optFns ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error)
	DeleteQueue(ctx context.Context, params *sqs.DeleteQueueInput, optFns ...func(*sqs.Options)) (*sqs.DeleteQueueOutput, error)
}

// SQSBroker implements Broker on AWS/LocalStack SQS. Queue URLs are resolved
// by name and cached.
type SQSBroker struct {
	client sqsAPI

	mu   sync.RWMutex
	urls map[string]string
}

// NewSQSBroker wraps the provided SQS client.
func NewSQSBroker(client *sqs.Client) *SQSBroker {
	if client == nil {
		panic("transport: SQS client cannot be nil")
	}
	return newSQSBrokerWithAPI(client)
}

func newSQSBrokerWithAPI(client sqsAPI) *SQSBroker {
	return &SQSBroker{
		client: client,
		urls:   make(map[string]string),
	}
}

func (b *SQSBroker) queueURL(ctx context.Context, queue string) (string, error) {
	b.mu.RLock()
	url, ok := b.urls[queue]
	b.mu.RUnlock()
	if ok {
		return url, nil
	}

	out, err := b.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(queue)})
	if err != nil {
		return "", mapSQSError(fmt.Errorf("transport: resolve queue %s: %w", queue, err))
	}
	url = aws.ToString(out.QueueUrl)
	b.mu.Lock()
	b.urls[queue] = url
	b.mu.Unlock()
	return url, nil
}

func (b *SQSBroker) forget(queue string) {
	b.mu.Lock()
	delete(b.urls, queue)
	b.mu.Unlock()
}

func mapSQSError(err error) error {
	var missing *types.QueueDoesNotExist
	if errors.As(err, &missing) {
		return fmt.Errorf("%w: %v", ErrQueueNotFound, err)
	}
	return err
}

func stringAttr(value string) types.MessageAttributeValue {
	return types.MessageAttributeValue{
		DataType:    aws.String("String"),
		StringValue: aws.String(value),
	}
}

func (b *SQSBroker) Send(ctx context.Context, queue string, msg Message) error {
	url, err := b.queueURL(ctx, queue)
	if err != nil {
		return err
	}
	attrs := map[string]types.MessageAttributeValue{}
	if msg.CorrelationID != "" {
		attrs[attrCorrelationID] = stringAttr(msg.CorrelationID)
	}
	if msg.ReplyTo != "" {
		attrs[attrReplyTo] = stringAttr(msg.ReplyTo)
	}
	if msg.Persistent {
		attrs[attrPersistent] = stringAttr("true")
	}
	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(url),
		MessageBody: aws.String(msg.Body),
	}
	if len(attrs) > 0 {
		input.MessageAttributes = attrs
	}
	if _, err := b.client.SendMessage(ctx, input); err != nil {
		if mapped := mapSQSError(err); errors.Is(mapped, ErrQueueNotFound) {
			b.forget(queue)
			return mapped
		}
		return fmt.Errorf("transport: failed to send SQS message: %w", err)
	}
	return nil
}

func (b *SQSBroker) Receive(ctx context.Context, queue string, maxMessages int, wait time.Duration) ([]Message, error) {
	url, err := b.queueURL(ctx, queue)
	if err != nil {
		return nil, err
	}
	if maxMessages <= 0 {
		maxMessages = 1
	}
	if maxMessages > maxSQSBatch {
		maxMessages = maxSQSBatch
	}
	waitSeconds := int(wait / time.Second)
	if wait > 0 && waitSeconds == 0 {
		waitSeconds = 1
	}
	if waitSeconds > maxSQSWaitSeconds {
		waitSeconds = maxSQSWaitSeconds
	}

	output, err := b.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:                    aws.String(url),
		MaxNumberOfMessages:         int32(maxMessages),
		WaitTimeSeconds:             int32(waitSeconds),
		MessageAttributeNames:       []string{"All"},
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{types.MessageSystemAttributeNameApproximateReceiveCount},
	})
	if err != nil {
		return nil, mapSQSError(fmt.Errorf("transport: failed to receive SQS messages: %w", err))
	}

	messages := make([]Message, 0, len(output.Messages))
	for _, msg := range output.Messages {
		out := Message{
			ID:            aws.ToString(msg.MessageId),
			Body:          aws.ToString(msg.Body),
			ReceiptHandle: aws.ToString(msg.ReceiptHandle),
		}
		if attr, ok := msg.MessageAttributes[attrCorrelationID]; ok {
			out.CorrelationID = aws.ToString(attr.StringValue)
		}
		if attr, ok := msg.MessageAttributes[attrReplyTo]; ok {
			out.ReplyTo = aws.ToString(attr.StringValue)
		}
		if _, ok := msg.MessageAttributes[attrPersistent]; ok {
			out.Persistent = true
		}
		if raw, ok := msg.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]; ok {
			if n, err := strconv.Atoi(raw); err == nil {
				out.ReceiveCount = n
			}
		}
		messages = append(messages, out)
	}
	return messages, nil
}

func (b *SQSBroker) Ack(ctx context.Context, queue string, msg Message) error {
	if msg.ReceiptHandle == "" {
		return nil
	}
	url, err := b.queueURL(ctx, queue)
	if err != nil {
		return err
	}
	_, err = b.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(url),
		ReceiptHandle: aws.String(msg.ReceiptHandle),
	})
	if err != nil {
		return fmt.Errorf("transport: failed to delete SQS message: %w", err)
	}
	return nil
}

// Nack makes the message visible again immediately.
func (b *SQSBroker) Nack(ctx context.Context, queue string, msg Message) error {
	if msg.ReceiptHandle == "" {
		return nil
	}
	url, err := b.queueURL(ctx, queue)
	if err != nil {
		return err
	}
	_, err = b.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(url),
		ReceiptHandle:     aws.String(msg.ReceiptHandle),
		VisibilityTimeout: 0,
	})
	if err != nil {
		return fmt.Errorf("transport: failed to release SQS message: %w", err)
	}
	return nil
}

// NackAfter keeps the message invisible for delay, capped at the SQS
// maximum of twelve hours.
func (b *SQSBroker) NackAfter(ctx context.Context, queue string, msg Message, delay time.Duration) error {
	if msg.ReceiptHandle == "" {
		return nil
	}
	url, err := b.queueURL(ctx, queue)
	if err != nil {
		return err
	}
	seconds := int32(math.Ceil(delay.Seconds()))
	if seconds > maxVisibilitySeconds {
		seconds = maxVisibilitySeconds
	}
	_, err = b.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(url),
		ReceiptHandle:     aws.String(msg.ReceiptHandle),
		VisibilityTimeout: seconds,
	})
	if err != nil {
		return fmt.Errorf("transport: failed to defer SQS message: %w", err)
	}
	return nil
}

func (b *SQSBroker) CreateTemporaryQueue(ctx context.Context, prefix string) (string, error) {
	name := temporaryQueueName(prefix)
	out, err := b.client.CreateQueue(ctx, &sqs.CreateQueueInput{
		QueueName: aws.String(name),
		Attributes: map[string]string{
			string(types.QueueAttributeNameMessageRetentionPeriod): temporaryRetentionSeconds,
		},
	})
	if err != nil {
		return "", fmt.Errorf("transport: create reply queue: %w", err)
	}
	b.mu.Lock()
	b.urls[name] = aws.ToString(out.QueueUrl)
	b.mu.Unlock()
	return name, nil
}

func (b *SQSBroker) DeleteQueue(ctx context.Context, queue string) error {
	url, err := b.queueURL(ctx, queue)
	if err != nil {
		if errors.Is(err, ErrQueueNotFound) {
			return nil
		}
		return err
	}
	defer b.forget(queue)
	if _, err := b.client.DeleteQueue(ctx, &sqs.DeleteQueueInput{QueueUrl: aws.String(url)}); err != nil {
		if errors.Is(mapSQSError(err), ErrQueueNotFound) {
			return nil
		}
		return fmt.Errorf("transport: delete queue %s: %w", queue, err)
	}
	return nil
}
