package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nabil201-ctrl/Healify-sub000/pkg/logging"
)

type mockDynamo struct {
	putInput     *dynamodb.PutItemInput
	updateInputs []*dynamodb.UpdateItemInput
	deleteInput  *dynamodb.DeleteItemInput
	putErr       error
	updateErrs   []error
	deleteErr    error
}

func (m *mockDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.putInput = in
	return &dynamodb.PutItemOutput{}, m.putErr
}

func (m *mockDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	m.updateInputs = append(m.updateInputs, in)
	if len(m.updateErrs) > 0 {
		err := m.updateErrs[0]
		m.updateErrs = m.updateErrs[1:]
		return nil, err
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (m *mockDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	m.deleteInput = in
	return &dynamodb.DeleteItemOutput{}, m.deleteErr
}

func conditionFailed() error {
	return &types.ConditionalCheckFailedException{Message: new(string)}
}

func conditionFailedWith(t *testing.T, status TurnStatus) error {
	t.Helper()
	item, err := attributevalue.MarshalMap(TurnRecord{TurnKey: "key-1", Status: status})
	require.NoError(t, err)
	return &types.ConditionalCheckFailedException{Message: new(string), Item: item}
}

func TestTurnKeyIsDeterministic(t *testing.T) {
	ts := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	a := TurnKey("s1", ts, "I have a headache")
	b := TurnKey("s1", ts.In(time.FixedZone("x", 3600)), "I have a headache")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, TurnKey("s1", ts, "I have a headache!"))
	assert.NotEqual(t, a, TurnKey("s2", ts, "I have a headache"))
}

func TestDynamoTurnLedgerClaimPersistsProcessingRecord(t *testing.T) {
	mock := &mockDynamo{}
	ledger := NewDynamoTurnLedger(mock, "chat_turns", logging.Default())

	require.NoError(t, ledger.Claim(context.Background(), "key-1", "s1"))
	require.NotNil(t, mock.putInput)
	assert.Equal(t, "attribute_not_exists(turnKey)", *mock.putInput.ConditionExpression)

	var stored TurnRecord
	require.NoError(t, attributevalue.UnmarshalMap(mock.putInput.Item, &stored))
	assert.Equal(t, TurnProcessing, stored.Status)
	assert.Equal(t, "s1", stored.SessionID)
	assert.Greater(t, stored.ExpiresAt, time.Now().Unix())
	assert.Empty(t, mock.updateInputs)
}

func TestDynamoTurnLedgerReclaimsUnfinishedTurn(t *testing.T) {
	mock := &mockDynamo{putErr: conditionFailed()}
	ledger := NewDynamoTurnLedger(mock, "chat_turns", logging.Default())

	require.NoError(t, ledger.Claim(context.Background(), "key-1", "s1"))
	require.Len(t, mock.updateInputs, 1)
	update := mock.updateInputs[0]
	assert.Equal(t, "#status = :processing AND #updated < :staleBefore", *update.ConditionExpression)
	assert.Equal(t, "status", update.ExpressionAttributeNames["#status"])
	assert.Equal(t, types.ReturnValuesOnConditionCheckFailureAllOld, update.ReturnValuesOnConditionCheckFailure)
}

func TestDynamoTurnLedgerStaleBoundTrailsNow(t *testing.T) {
	mock := &mockDynamo{putErr: conditionFailed()}
	ledger := NewDynamoTurnLedger(mock, "chat_turns", logging.Default())
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	ledger.now = func() time.Time { return now }

	require.NoError(t, ledger.Claim(context.Background(), "key-1", "s1"))
	values := mock.updateInputs[0].ExpressionAttributeValues
	assert.Equal(t, "2026-03-01T08:58:00.000000000Z", values[":staleBefore"].(*types.AttributeValueMemberS).Value)
	assert.Equal(t, "2026-03-01T09:00:00.000000000Z", values[":updated"].(*types.AttributeValueMemberS).Value)
}

func TestDynamoTurnLedgerRejectsCompletedTurn(t *testing.T) {
	mock := &mockDynamo{putErr: conditionFailed(), updateErrs: []error{conditionFailedWith(t, TurnCompleted)}}
	ledger := NewDynamoTurnLedger(mock, "chat_turns", logging.Default())

	err := ledger.Claim(context.Background(), "key-1", "s1")
	assert.ErrorIs(t, err, ErrDuplicateTurn)
}

func TestDynamoTurnLedgerReportsTurnInFlight(t *testing.T) {
	mock := &mockDynamo{putErr: conditionFailed(), updateErrs: []error{conditionFailedWith(t, TurnProcessing)}}
	ledger := NewDynamoTurnLedger(mock, "chat_turns", logging.Default())

	err := ledger.Claim(context.Background(), "key-1", "s1")
	assert.ErrorIs(t, err, ErrTurnInFlight)
}

func TestDynamoTurnLedgerClaimSurfacesOtherErrors(t *testing.T) {
	mock := &mockDynamo{putErr: errors.New("throttled")}
	ledger := NewDynamoTurnLedger(mock, "chat_turns", logging.Default())

	err := ledger.Claim(context.Background(), "key-1", "s1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDuplicateTurn)
}

func TestDynamoTurnLedgerComplete(t *testing.T) {
	mock := &mockDynamo{}
	ledger := NewDynamoTurnLedger(mock, "chat_turns", logging.Default())

	require.NoError(t, ledger.Complete(context.Background(), "key-1"))
	require.Len(t, mock.updateInputs, 1)
	update := mock.updateInputs[0]
	assert.Equal(t, "SET #status = :status, #updated = :updated", *update.UpdateExpression)
	status := update.ExpressionAttributeValues[":status"].(*types.AttributeValueMemberS)
	assert.Equal(t, string(TurnCompleted), status.Value)
}

func TestDynamoTurnLedgerReleaseOnlyDropsProcessingTurns(t *testing.T) {
	mock := &mockDynamo{}
	ledger := NewDynamoTurnLedger(mock, "chat_turns", logging.Default())

	require.NoError(t, ledger.Release(context.Background(), "key-1"))
	require.NotNil(t, mock.deleteInput)
	assert.Equal(t, "#status = :processing", *mock.deleteInput.ConditionExpression)

	mock.deleteErr = conditionFailed()
	require.NoError(t, ledger.Release(context.Background(), "key-1"), "completed turns are left alone")

	mock.deleteErr = errors.New("throttled")
	assert.Error(t, ledger.Release(context.Background(), "key-1"))
}

func TestMemoryTurnLedger(t *testing.T) {
	ledger := NewMemoryTurnLedger()
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	ledger.now = func() time.Time { return now }

	require.NoError(t, ledger.Claim(ctx, "k", "s"))
	assert.ErrorIs(t, ledger.Claim(ctx, "k", "s"), ErrTurnInFlight)

	now = now.Add(TurnStaleAfter)
	require.NoError(t, ledger.Claim(ctx, "k", "s"), "abandoned turns can be retried")
	require.NoError(t, ledger.Complete(ctx, "k"))
	assert.ErrorIs(t, ledger.Claim(ctx, "k", "s"), ErrDuplicateTurn)

	status, ok := ledger.Status("k")
	assert.True(t, ok)
	assert.Equal(t, TurnCompleted, status)
}

func TestMemoryTurnLedgerRelease(t *testing.T) {
	ledger := NewMemoryTurnLedger()
	ctx := context.Background()

	require.NoError(t, ledger.Claim(ctx, "k", "s"))
	require.NoError(t, ledger.Release(ctx, "k"))
	require.NoError(t, ledger.Claim(ctx, "k", "s"), "released turns are claimable at once")

	require.NoError(t, ledger.Complete(ctx, "k"))
	require.NoError(t, ledger.Release(ctx, "k"))
	assert.ErrorIs(t, ledger.Claim(ctx, "k", "s"), ErrDuplicateTurn)
}
