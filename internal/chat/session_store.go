package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/Nabil201-ctrl/Healify-sub000/internal/domain"
)

var (
	// ErrSessionNotFound is returned when a session id is unknown.
	ErrSessionNotFound = errors.New("chat: session not found")
	// ErrSessionOwnership is returned when a session id belongs to another user.
	ErrSessionOwnership = errors.New("chat: session belongs to another user")
	// ErrNotAssigned is returned when a reviewer acts on a session they do not hold.
	ErrNotAssigned = errors.New("chat: session not assigned to reviewer")
)

// assignableFrom is narrower than the forward-only lifecycle: a reviewer can
// only pick up sessions that were flagged.
var assignableFrom = []domain.SessionStatus{domain.StatusNeedsReview, domain.StatusAssigned}

const sessionColumns = `
	s.id, s.user_id, s.status, COALESCE(s.assigned_reviewer_id, ''), COALESCE(s.review_reason, ''),
	s.needs_doctor_review, s.ai_confidence, s.data_completeness, s.data_stability, s.data_points,
	s.is_bookmarked, s.bookmarked_at, s.created_at, s.updated_at, s.completed_at, s.archived_at`

// Escalation is the field-level change written when a turn is flagged.
type Escalation struct {
	Reason     string
	Confidence float64
	Quality    domain.DataQuality
}

// SessionStore persists sessions and transcripts to PostgreSQL. Every status
// change is a single UPDATE guarded by the statuses it may come from, so
// concurrent writers never overwrite each other's fields.
type SessionStore struct {
	db *sql.DB
}

// NewSessionStore creates a session store.
func NewSessionStore(db *sql.DB) *SessionStore {
	if db == nil {
		panic("chat: db cannot be nil")
	}
	return &SessionStore{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner, extra ...any) (*domain.ChatSession, error) {
	var (
		s            domain.ChatSession
		status       string
		confidence   sql.NullFloat64
		completeness sql.NullFloat64
		stability    sql.NullFloat64
		points       sql.NullInt64
		bookmarkedAt sql.NullTime
		completedAt  sql.NullTime
		archivedAt   sql.NullTime
	)
	dest := []any{
		&s.ID, &s.UserID, &status, &s.AssignedReviewerID, &s.ReviewReason,
		&s.NeedsDoctorReview, &confidence, &completeness, &stability, &points,
		&s.IsBookmarked, &bookmarkedAt, &s.CreatedAt, &s.UpdatedAt, &completedAt, &archivedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	s.Status = domain.SessionStatus(status)
	if confidence.Valid {
		s.AIConfidence = domain.Float64(confidence.Float64)
	}
	if completeness.Valid || stability.Valid {
		s.HealthDataQuality = &domain.DataQuality{
			Completeness: completeness.Float64,
			Stability:    stability.Float64,
			DataPoints:   int(points.Int64),
		}
	}
	if bookmarkedAt.Valid {
		s.BookmarkedAt = &bookmarkedAt.Time
	}
	if completedAt.Valid {
		s.CompletedAt = &completedAt.Time
	}
	if archivedAt.Valid {
		s.ArchivedAt = &archivedAt.Time
	}
	return &s, nil
}

// EnsureSession returns the session, creating it as active on first use.
func (s *SessionStore) EnsureSession(ctx context.Context, sessionID, userID string, at time.Time) (*domain.ChatSession, error) {
	if sessionID == "" || userID == "" {
		return nil, errors.New("chat: session id and user id required")
	}
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_sessions (id, user_id, status, needs_doctor_review, is_bookmarked, created_at, updated_at)
		VALUES ($1, $2, $3, false, false, $4, $4)
		ON CONFLICT (id) DO NOTHING
	`, sessionID, userID, string(domain.StatusActive), at.UTC())
	if err != nil {
		return nil, fmt.Errorf("chat: failed to create session: %w", err)
	}

	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		return nil, ErrSessionOwnership
	}
	return session, nil
}

// GetSession fetches a session by id.
func (s *SessionStore) GetSession(ctx context.Context, sessionID string) (*domain.ChatSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT`+sessionColumns+` FROM chat_sessions s WHERE s.id = $1`, sessionID)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("chat: failed to get session: %w", err)
	}
	return session, nil
}

// AppendMessage inserts a message. Re-inserting the same id is a no-op so
// redelivered turns do not duplicate the transcript.
func (s *SessionStore) AppendMessage(ctx context.Context, msg domain.ChatMessage) error {
	if msg.ID == "" || msg.SessionID == "" {
		return errors.New("chat: message id and session id required")
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	var metadata []byte
	if msg.Metadata != nil {
		var err error
		if metadata, err = json.Marshal(msg.Metadata); err != nil {
			return fmt.Errorf("chat: failed to encode metadata: %w", err)
		}
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (id, session_id, user_id, author, text, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, msg.ID, msg.SessionID, msg.UserID, string(msg.Author), msg.Text, metadata, msg.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("chat: failed to insert message: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("chat: failed to read insert result: %w", err)
	}
	if rows == 0 {
		return nil
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE chat_sessions SET updated_at = GREATEST(updated_at, $2) WHERE id = $1
	`, msg.SessionID, msg.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("chat: failed to touch session: %w", err)
	}
	return nil
}

// ListMessages returns the transcript in timestamp order.
func (s *SessionStore) ListMessages(ctx context.Context, sessionID string, limit int) ([]domain.ChatMessage, error) {
	query := `
		SELECT id, session_id, user_id, author, text, metadata, created_at
		FROM chat_messages
		WHERE session_id = $1
		ORDER BY created_at ASC, id ASC
	`
	args := []any{sessionID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("chat: failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := []domain.ChatMessage{}
	for rows.Next() {
		var (
			msg      domain.ChatMessage
			author   string
			metadata []byte
		)
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.UserID, &author, &msg.Text, &metadata, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("chat: failed to scan message: %w", err)
		}
		msg.Author = domain.Author(author)
		if len(metadata) > 0 {
			var md domain.MessageMetadata
			if err := json.Unmarshal(metadata, &md); err != nil {
				return nil, fmt.Errorf("chat: failed to decode metadata for %s: %w", msg.ID, err)
			}
			msg.Metadata = &md
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// Escalate flags a session for review, recording why and the scores that
// triggered it. Sessions already past needs_review return ErrInvalidTransition.
func (s *SessionStore) Escalate(ctx context.Context, sessionID string, e Escalation) error {
	reason := strings.TrimSpace(e.Reason)
	if reason == "" {
		return domain.ErrReviewReasonRequired
	}
	from := append(domain.AllowedFrom(domain.StatusNeedsReview), domain.StatusNeedsReview)
	result, err := s.db.ExecContext(ctx, `
		UPDATE chat_sessions SET
			status = $2,
			review_reason = $3,
			needs_doctor_review = true,
			ai_confidence = $4,
			data_completeness = $5,
			data_stability = $6,
			data_points = $7,
			updated_at = $8
		WHERE id = $1 AND status = ANY($9)
	`, sessionID, string(domain.StatusNeedsReview), reason, e.Confidence,
		e.Quality.Completeness, e.Quality.Stability, e.Quality.DataPoints, time.Now().UTC(), statusArray(from))
	if err != nil {
		return fmt.Errorf("chat: failed to escalate session: %w", err)
	}
	return s.checkApplied(ctx, result, sessionID, domain.StatusNeedsReview)
}

// Assign hands a flagged session to a reviewer. A repeated assignment to the
// same reviewer changes nothing and reports changed=false; a different
// reviewer overwrites the previous one.
func (s *SessionStore) Assign(ctx context.Context, sessionID, reviewerID string) (*domain.ChatSession, bool, error) {
	if reviewerID == "" {
		return nil, false, errors.New("chat: reviewer id required")
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE chat_sessions s SET
			status = $2,
			assigned_reviewer_id = $3,
			needs_doctor_review = true,
			updated_at = $4
		WHERE s.id = $1
		  AND s.status = ANY($5)
		  AND NOT (s.status = $2 AND s.assigned_reviewer_id IS NOT DISTINCT FROM $3)
		RETURNING`+sessionColumns,
		sessionID, string(domain.StatusAssigned), reviewerID, time.Now().UTC(), statusArray(assignableFrom))
	session, err := scanSession(row)
	if err == nil {
		return session, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("chat: failed to assign session: %w", err)
	}

	current, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}
	if current.Status == domain.StatusAssigned && current.AssignedReviewerID == reviewerID {
		return current, false, nil
	}
	return nil, false, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current.Status, domain.StatusAssigned)
}

// Complete closes a review. Only the assigned reviewer may complete it;
// completing twice by the same reviewer is a no-op.
func (s *SessionStore) Complete(ctx context.Context, sessionID, reviewerID string) (*domain.ChatSession, error) {
	now := time.Now().UTC()
	row := s.db.QueryRowContext(ctx, `
		UPDATE chat_sessions s SET
			status = $2,
			needs_doctor_review = false,
			completed_at = $4,
			updated_at = $4
		WHERE s.id = $1 AND s.status = $5 AND s.assigned_reviewer_id = $3
		RETURNING`+sessionColumns,
		sessionID, string(domain.StatusCompleted), reviewerID, now, string(domain.StatusAssigned))
	session, err := scanSession(row)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("chat: failed to complete session: %w", err)
	}

	current, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if current.Status == domain.StatusCompleted && current.AssignedReviewerID == reviewerID {
		return current, nil
	}
	return nil, ErrNotAssigned
}

// Archive moves a session to archived from any state.
func (s *SessionStore) Archive(ctx context.Context, sessionID string) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE chat_sessions SET status = $2, archived_at = $3, updated_at = $3
		WHERE id = $1 AND status <> $2
	`, sessionID, string(domain.StatusArchived), now)
	if err != nil {
		return fmt.Errorf("chat: failed to archive session: %w", err)
	}
	return s.checkApplied(ctx, result, sessionID, domain.StatusArchived)
}

// SetBookmark flags or unflags a session for its owner.
func (s *SessionStore) SetBookmark(ctx context.Context, sessionID, userID string, bookmarked bool) error {
	var at any
	if bookmarked {
		at = time.Now().UTC()
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE chat_sessions SET is_bookmarked = $3, bookmarked_at = $4
		WHERE id = $1 AND user_id = $2
	`, sessionID, userID, bookmarked, at)
	if err != nil {
		return fmt.Errorf("chat: failed to bookmark session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("chat: failed to read bookmark result: %w", err)
	}
	if rows == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// ReviewQueue lists flagged and assigned sessions, oldest first, each with
// its latest message.
func (s *SessionStore) ReviewQueue(ctx context.Context, limit int) ([]domain.ChatSession, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT`+sessionColumns+`, m.author, m.text, m.created_at
		FROM chat_sessions s
		LEFT JOIN LATERAL (
			SELECT author, text, created_at FROM chat_messages
			WHERE session_id = s.id
			ORDER BY created_at DESC, id DESC
			LIMIT 1
		) m ON true
		WHERE s.status = ANY($1)
		ORDER BY s.updated_at ASC
		LIMIT $2
	`, statusArray(assignableFrom), limit)
	if err != nil {
		return nil, fmt.Errorf("chat: failed to load review queue: %w", err)
	}
	defer rows.Close()

	out := []domain.ChatSession{}
	for rows.Next() {
		var (
			author, text sql.NullString
			at           sql.NullTime
		)
		session, err := scanSession(rows, &author, &text, &at)
		if err != nil {
			return nil, fmt.Errorf("chat: failed to scan review queue: %w", err)
		}
		if author.Valid {
			session.LastMessage = &domain.MessagePreview{
				Author:    domain.Author(author.String),
				Text:      text.String,
				Timestamp: at.Time,
			}
		}
		out = append(out, *session)
	}
	return out, rows.Err()
}

// checkApplied turns a zero-row guarded UPDATE into the right error.
func (s *SessionStore) checkApplied(ctx context.Context, result sql.Result, sessionID string, to domain.SessionStatus) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("chat: failed to read update result: %w", err)
	}
	if rows > 0 {
		return nil
	}
	current, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if current.Status == to && to == domain.StatusArchived {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current.Status, to)
}

func statusArray(statuses []domain.SessionStatus) any {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return pq.Array(out)
}
