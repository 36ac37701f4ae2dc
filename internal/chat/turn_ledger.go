package chat

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/Nabil201-ctrl/Healify-sub000/pkg/logging"
)

const (
	turnTTL = 24 * time.Hour

	// TurnStaleAfter is how long a turn may sit in processing before another
	// delivery can take it over. It must exceed the AI timeout.
	TurnStaleAfter = 2 * time.Minute

	// Fixed width so stored timestamps compare correctly as strings.
	ledgerTimeFormat = "2006-01-02T15:04:05.000000000Z"
)

// TurnStatus is the processing state of one chat turn.
type TurnStatus string

const (
	TurnProcessing TurnStatus = "processing"
	TurnCompleted  TurnStatus = "completed"
)

var (
	// ErrDuplicateTurn means the turn was already fully processed.
	ErrDuplicateTurn = errors.New("chat: turn already processed")
	// ErrTurnInFlight means another delivery is processing the turn right now.
	ErrTurnInFlight = errors.New("chat: turn is being processed")
)

// TurnKey derives the idempotency key of a turn from its session, timestamp
// and text. Redeliveries of the same request map to the same key.
func TurnKey(sessionID string, ts time.Time, text string) string {
	sum := sha256.Sum256([]byte(sessionID + ts.UTC().Format(time.RFC3339Nano) + text))
	return hex.EncodeToString(sum[:])
}

// TurnLedger records which turns have been processed.
type TurnLedger interface {
	// Claim registers key. It returns ErrDuplicateTurn when the turn already
	// completed and ErrTurnInFlight while another attempt holds it. A turn left
	// in processing for longer than TurnStaleAfter may be claimed again.
	Claim(ctx context.Context, key, sessionID string) error
	Complete(ctx context.Context, key string) error
	// Release drops an unfinished claim so the next delivery may take it at once.
	Release(ctx context.Context, key string) error
}

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(context.Context, *dynamodb.DeleteItemInput, ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// TurnRecord is the persisted ledger entry.
type TurnRecord struct {
	TurnKey   string     `dynamodbav:"turnKey" json:"turnKey"`
	SessionID string     `dynamodbav:"sessionId" json:"sessionId"`
	Status    TurnStatus `dynamodbav:"status" json:"status"`
	Attempts  int        `dynamodbav:"attempts" json:"attempts"`
	CreatedAt string     `dynamodbav:"createdAt" json:"createdAt"`
	UpdatedAt string     `dynamodbav:"updatedAt" json:"updatedAt"`
	ExpiresAt int64      `dynamodbav:"expiresAt,omitempty" json:"-"`
}

// DynamoTurnLedger keeps the ledger in a DynamoDB table with a TTL attribute.
type DynamoTurnLedger struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
	now       func() time.Time
}

var _ TurnLedger = (*DynamoTurnLedger)(nil)

// NewDynamoTurnLedger builds a ledger backed by the provided DynamoDB client.
func NewDynamoTurnLedger(client dynamoAPI, tableName string, logger *logging.Logger) *DynamoTurnLedger {
	if client == nil {
		panic("chat: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("chat: turn ledger table cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &DynamoTurnLedger{
		client:    client,
		tableName: tableName,
		logger:    logger,
		now:       time.Now,
	}
}

func (l *DynamoTurnLedger) Claim(ctx context.Context, key, sessionID string) error {
	if key == "" {
		return errors.New("chat: turn key required")
	}
	now := l.now().UTC()
	record := TurnRecord{
		TurnKey:   key,
		SessionID: sessionID,
		Status:    TurnProcessing,
		Attempts:  1,
		CreatedAt: now.Format(ledgerTimeFormat),
		UpdatedAt: now.Format(ledgerTimeFormat),
		ExpiresAt: now.Add(turnTTL).Unix(),
	}
	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("chat: failed to marshal turn: %w", err)
	}

	_, err = l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(l.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(turnKey)"),
	})
	if err == nil {
		return nil
	}
	var conditionFailed *types.ConditionalCheckFailedException
	if !errors.As(err, &conditionFailed) {
		return fmt.Errorf("chat: failed to claim turn: %w", err)
	}

	// Only a turn abandoned in processing may be retried.
	_, err = l.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(l.tableName),
		Key: map[string]types.AttributeValue{
			"turnKey": &types.AttributeValueMemberS{Value: key},
		},
		UpdateExpression:    aws.String("SET #updated = :updated ADD attempts :one"),
		ConditionExpression: aws.String("#status = :processing AND #updated < :staleBefore"),
		ExpressionAttributeNames: map[string]string{
			"#status":  "status",
			"#updated": "updatedAt",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":processing":  &types.AttributeValueMemberS{Value: string(TurnProcessing)},
			":staleBefore": &types.AttributeValueMemberS{Value: now.Add(-TurnStaleAfter).Format(ledgerTimeFormat)},
			":updated":     &types.AttributeValueMemberS{Value: now.Format(ledgerTimeFormat)},
			":one":         &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err == nil {
		l.logger.Info("retrying abandoned turn", "turn_key", key, "session_id", sessionID)
		return nil
	}
	if !errors.As(err, &conditionFailed) {
		return fmt.Errorf("chat: failed to reclaim turn: %w", err)
	}
	var existing TurnRecord
	if conditionFailed.Item != nil {
		if err := attributevalue.UnmarshalMap(conditionFailed.Item, &existing); err != nil {
			return fmt.Errorf("chat: failed to decode turn: %w", err)
		}
	}
	if existing.Status == TurnCompleted {
		return ErrDuplicateTurn
	}
	return ErrTurnInFlight
}

func (l *DynamoTurnLedger) Complete(ctx context.Context, key string) error {
	if key == "" {
		return errors.New("chat: turn key required")
	}
	_, err := l.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(l.tableName),
		Key: map[string]types.AttributeValue{
			"turnKey": &types.AttributeValueMemberS{Value: key},
		},
		UpdateExpression: aws.String("SET #status = :status, #updated = :updated"),
		ExpressionAttributeNames: map[string]string{
			"#status":  "status",
			"#updated": "updatedAt",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":  &types.AttributeValueMemberS{Value: string(TurnCompleted)},
			":updated": &types.AttributeValueMemberS{Value: l.now().UTC().Format(ledgerTimeFormat)},
		},
	})
	if err != nil {
		return fmt.Errorf("chat: failed to complete turn: %w", err)
	}
	return nil
}

func (l *DynamoTurnLedger) Release(ctx context.Context, key string) error {
	_, err := l.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(l.tableName),
		Key: map[string]types.AttributeValue{
			"turnKey": &types.AttributeValueMemberS{Value: key},
		},
		ConditionExpression:      aws.String("#status = :processing"),
		ExpressionAttributeNames: map[string]string{"#status": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":processing": &types.AttributeValueMemberS{Value: string(TurnProcessing)},
		},
	})
	var conditionFailed *types.ConditionalCheckFailedException
	if err != nil && !errors.As(err, &conditionFailed) {
		return fmt.Errorf("chat: failed to release turn: %w", err)
	}
	return nil
}

// MemoryTurnLedger is an in-process ledger for development and tests.
type MemoryTurnLedger struct {
	mu    sync.Mutex
	turns map[string]memoryTurn
	now   func() time.Time
}

type memoryTurn struct {
	status  TurnStatus
	updated time.Time
}

var _ TurnLedger = (*MemoryTurnLedger)(nil)

func NewMemoryTurnLedger() *MemoryTurnLedger {
	return &MemoryTurnLedger{turns: make(map[string]memoryTurn), now: time.Now}
}

func (l *MemoryTurnLedger) Claim(_ context.Context, key, _ string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if turn, ok := l.turns[key]; ok {
		if turn.status == TurnCompleted {
			return ErrDuplicateTurn
		}
		if now.Sub(turn.updated) < TurnStaleAfter {
			return ErrTurnInFlight
		}
	}
	l.turns[key] = memoryTurn{status: TurnProcessing, updated: now}
	return nil
}

func (l *MemoryTurnLedger) Complete(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.turns[key] = memoryTurn{status: TurnCompleted, updated: l.now()}
	return nil
}

func (l *MemoryTurnLedger) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.turns[key].status == TurnProcessing {
		delete(l.turns, key)
	}
	return nil
}

// Status reports the recorded state of key, if any.
func (l *MemoryTurnLedger) Status(key string) (TurnStatus, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	turn, ok := l.turns[key]
	return turn.status, ok
}
