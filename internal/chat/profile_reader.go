package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/Nabil201-ctrl/Healify-sub000/internal/domain"
)

// ErrProfileNotFound is returned when a user has no profile row.
var ErrProfileNotFound = errors.New("chat: profile not found")

// ProfileReader reads the user profiles owned by the account service.
type ProfileReader struct {
	db *sql.DB
}

func NewProfileReader(db *sql.DB) *ProfileReader {
	if db == nil {
		panic("chat: db cannot be nil")
	}
	return &ProfileReader{db: db}
}

// GetProfile loads a user's profile.
func (r *ProfileReader) GetProfile(ctx context.Context, userID string) (*domain.UserProfile, error) {
	var (
		p   domain.UserProfile
		dob sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(name, ''), COALESCE(email, ''), date_of_birth,
		       COALESCE(gender, ''), COALESCE(body_type, ''), COALESCE(activity_level, ''),
		       conditions, allergies, medications, push_tokens
		FROM users WHERE id = $1`, userID).Scan(
		&p.ID, &p.Name, &p.Email, &dob, &p.Gender, &p.BodyType, &p.ActivityLevel,
		pq.Array(&p.Conditions), pq.Array(&p.Allergies), pq.Array(&p.Medications), pq.Array(&p.PushTokens))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("chat: failed to get profile: %w", err)
	}
	if dob.Valid {
		p.DateOfBirth = &dob.Time
	}
	return &p, nil
}

// PushTokens returns the device tokens registered for a user.
func (r *ProfileReader) PushTokens(ctx context.Context, userID string) ([]string, error) {
	var tokens []string
	err := r.db.QueryRowContext(ctx, `SELECT push_tokens FROM users WHERE id = $1`, userID).Scan(pq.Array(&tokens))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("chat: failed to get push tokens: %w", err)
	}
	return tokens, nil
}

// Email returns the user's email address, empty when unknown.
func (r *ProfileReader) Email(ctx context.Context, userID string) (string, error) {
	var email sql.NullString
	err := r.db.QueryRowContext(ctx, `SELECT email FROM users WHERE id = $1`, userID).Scan(&email)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("chat: failed to get email: %w", err)
	}
	return email.String, nil
}

// PruneTokens removes tokens the push provider reported as invalid.
func (r *ProfileReader) PruneTokens(ctx context.Context, userID string, invalid []string) error {
	if len(invalid) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET push_tokens = ARRAY(SELECT t FROM unnest(push_tokens) AS t WHERE NOT (t = ANY($2)))
		WHERE id = $1
	`, userID, pq.Array(invalid))
	if err != nil {
		return fmt.Errorf("chat: failed to prune push tokens: %w", err)
	}
	return nil
}
