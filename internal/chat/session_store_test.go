package chat

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nabil201-ctrl/Healify-sub000/internal/domain"
)

var sessionCols = []string{
	"id", "user_id", "status", "assigned_reviewer_id", "review_reason",
	"needs_doctor_review", "ai_confidence", "data_completeness", "data_stability", "data_points",
	"is_bookmarked", "bookmarked_at", "created_at", "updated_at", "completed_at", "archived_at",
}

type sessionFixture struct {
	id, user, status, reviewer, reason string
}

func sessionRows(fixtures ...sessionFixture) *sqlmock.Rows {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(sessionCols)
	for _, f := range fixtures {
		var confidence any
		if f.status != string(domain.StatusActive) {
			confidence = 0.55
		}
		rows.AddRow(f.id, f.user, f.status, f.reviewer, f.reason,
			f.status == string(domain.StatusNeedsReview) || f.status == string(domain.StatusAssigned),
			confidence, nil, nil, nil, false, nil, now, now, nil, nil)
	}
	return rows
}

func newMockStore(t *testing.T) (*SessionStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return NewSessionStore(db), mock
}

var selectSession = regexp.QuoteMeta("FROM chat_sessions s WHERE s.id = $1")

func TestSessionStoreEnsureSessionCreatesActive(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO chat_sessions").
		WithArgs("s1", "u1", "active", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(selectSession).WithArgs("s1").
		WillReturnRows(sessionRows(sessionFixture{id: "s1", user: "u1", status: "active"}))

	session, err := store.EnsureSession(context.Background(), "s1", "u1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, session.Status)
	assert.Nil(t, session.AIConfidence)
	assert.False(t, session.NeedsDoctorReview)
}

func TestSessionStoreEnsureSessionRejectsOtherUser(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO chat_sessions").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(selectSession).WithArgs("s1").
		WillReturnRows(sessionRows(sessionFixture{id: "s1", user: "someone-else", status: "active"}))

	_, err := store.EnsureSession(context.Background(), "s1", "u1", time.Now())
	assert.ErrorIs(t, err, ErrSessionOwnership)
}

func TestSessionStoreAppendMessageIsIdempotent(t *testing.T) {
	store, mock := newMockStore(t)
	msg := domain.ChatMessage{
		ID:        "m1",
		SessionID: "s1",
		UserID:    "u1",
		Author:    domain.AuthorUser,
		Text:      "hello",
		Timestamp: time.Now(),
	}

	mock.ExpectExec("INSERT INTO chat_messages").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE chat_sessions SET updated_at").WithArgs("s1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.AppendMessage(context.Background(), msg))

	// Redelivery: the insert hits the conflict clause and nothing else runs.
	mock.ExpectExec("INSERT INTO chat_messages").WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, store.AppendMessage(context.Background(), msg))
}

func TestSessionStoreListMessagesDecodesMetadata(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM chat_messages").WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "session_id", "user_id", "author", "text", "metadata", "created_at"}).
			AddRow("m1", "s1", "u1", "user", "I have a headache", nil, at).
			AddRow("m2", "s1", "u1", "ai", "Rest and hydrate.", []byte(`{"confidence":0.85,"source":"llm"}`), at.Add(time.Second)))

	messages, err := store.ListMessages(context.Background(), "s1", 0)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Nil(t, messages[0].Metadata)
	require.NotNil(t, messages[1].Metadata)
	assert.Equal(t, 0.85, *messages[1].Metadata.Confidence)
	assert.Equal(t, domain.AuthorAI, messages[1].Author)
}

func TestSessionStoreEscalate(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE chat_sessions SET").
		WithArgs("s1", "needs_review", "Low AI confidence", 0.5, 0.14, 1.0, 1, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Escalate(context.Background(), "s1", Escalation{
		Reason:     "Low AI confidence",
		Confidence: 0.5,
		Quality:    domain.DataQuality{Completeness: 0.14, Stability: 1, DataPoints: 1},
	})
	require.NoError(t, err)
}

func TestSessionStoreEscalateAssignedSessionIsRejected(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE chat_sessions SET").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(selectSession).WithArgs("s1").
		WillReturnRows(sessionRows(sessionFixture{id: "s1", user: "u1", status: "assigned", reviewer: "d1", reason: "Low AI confidence"}))

	err := store.Escalate(context.Background(), "s1", Escalation{Reason: "Low AI confidence"})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestSessionStoreEscalateRequiresReason(t *testing.T) {
	store, _ := newMockStore(t)
	err := store.Escalate(context.Background(), "s1", Escalation{Reason: "  "})
	assert.ErrorIs(t, err, domain.ErrReviewReasonRequired)
}

func TestSessionStoreAssign(t *testing.T) {
	t.Run("assigns flagged session", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery("UPDATE chat_sessions s SET").
			WithArgs("s1", "assigned", "d1", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnRows(sessionRows(sessionFixture{id: "s1", user: "u1", status: "assigned", reviewer: "d1", reason: "Low AI confidence"}))

		session, changed, err := store.Assign(context.Background(), "s1", "d1")
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, "d1", session.AssignedReviewerID)
	})

	t.Run("same reviewer is a no-op", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery("UPDATE chat_sessions s SET").WillReturnRows(sqlmock.NewRows(sessionCols))
		mock.ExpectQuery(selectSession).WithArgs("s1").
			WillReturnRows(sessionRows(sessionFixture{id: "s1", user: "u1", status: "assigned", reviewer: "d1", reason: "Low AI confidence"}))

		session, changed, err := store.Assign(context.Background(), "s1", "d1")
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, "d1", session.AssignedReviewerID)
	})

	t.Run("active session cannot be assigned", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery("UPDATE chat_sessions s SET").WillReturnRows(sqlmock.NewRows(sessionCols))
		mock.ExpectQuery(selectSession).WithArgs("s1").
			WillReturnRows(sessionRows(sessionFixture{id: "s1", user: "u1", status: "active"}))

		_, _, err := store.Assign(context.Background(), "s1", "d1")
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})
}

func TestSessionStoreCompleteRequiresAssignedReviewer(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("UPDATE chat_sessions s SET").
		WithArgs("s1", "completed", "d2", sqlmock.AnyArg(), "assigned").
		WillReturnRows(sqlmock.NewRows(sessionCols))
	mock.ExpectQuery(selectSession).WithArgs("s1").
		WillReturnRows(sessionRows(sessionFixture{id: "s1", user: "u1", status: "assigned", reviewer: "d1", reason: "Low AI confidence"}))

	_, err := store.Complete(context.Background(), "s1", "d2")
	assert.ErrorIs(t, err, ErrNotAssigned)
}

func TestSessionStoreArchiveIsIdempotent(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE chat_sessions SET status").WithArgs("s1", "archived", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(selectSession).WithArgs("s1").
		WillReturnRows(sessionRows(sessionFixture{id: "s1", user: "u1", status: "archived"}))

	require.NoError(t, store.Archive(context.Background(), "s1"))
}

func TestSessionStoreSetBookmarkUnknownSession(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE chat_sessions SET is_bookmarked").WithArgs("s1", "u1", true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.SetBookmark(context.Background(), "s1", "u1", true)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionStoreReviewQueueIncludesLastMessage(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	cols := append(append([]string{}, sessionCols...), "author", "text", "created_at")
	rows := sqlmock.NewRows(cols).
		AddRow("s1", "u1", "needs_review", "", "Low AI confidence", true, 0.5, 0.14, 1.0, int64(1), false, nil, now, now, nil, nil,
			"ai", "A clinician will follow up.", now).
		AddRow("s2", "u2", "assigned", "d1", "Insufficient health data for analysis", true, nil, nil, nil, nil, false, nil, now, now, nil, nil,
			nil, nil, nil)
	mock.ExpectQuery("LEFT JOIN LATERAL").WithArgs(sqlmock.AnyArg(), 50).WillReturnRows(rows)

	queue, err := store.ReviewQueue(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, queue, 2)
	require.NotNil(t, queue[0].LastMessage)
	assert.Equal(t, domain.AuthorAI, queue[0].LastMessage.Author)
	require.NotNil(t, queue[0].HealthDataQuality)
	assert.Equal(t, 1, queue[0].HealthDataQuality.DataPoints)
	assert.Nil(t, queue[1].LastMessage)
	assert.Equal(t, "d1", queue[1].AssignedReviewerID)
}

func TestProfileReaderGetProfile(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	reader := NewProfileReader(db)
	dob := time.Date(1990, 6, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM users WHERE id").WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email", "date_of_birth", "gender", "body_type", "activity_level", "conditions", "allergies", "medications", "push_tokens"}).
			AddRow("u1", "Ada", "ada@example.com", dob, "female", "athletic", "high", "{asthma}", "{}", "{salbutamol}", "{tok-1,tok-2}"))

	profile, err := reader.GetProfile(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"asthma"}, profile.Conditions)
	assert.Equal(t, []string{"salbutamol"}, profile.Medications)
	assert.Equal(t, []string{"tok-1", "tok-2"}, profile.PushTokens)
	require.NotNil(t, profile.DateOfBirth)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProfileReaderPruneTokens(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	reader := NewProfileReader(db)

	require.NoError(t, reader.PruneTokens(context.Background(), "u1", nil))

	mock.ExpectExec("UPDATE users").WithArgs("u1", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, reader.PruneTokens(context.Background(), "u1", []string{"tok-2"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}
