package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Nabil201-ctrl/Healify-sub000/internal/domain"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Reading is one telemetry sample. Nil fields leave the stored value untouched.
type Reading struct {
	HeartRate  *float64
	Steps      *int
	SleepHours *float64
	RecordedAt time.Time
}

// TelemetryStore persists daily logs and insights.
type TelemetryStore struct {
	db querier
}

func NewTelemetryStore(pool *pgxpool.Pool) *TelemetryStore {
	if pool == nil {
		panic("health: pgx pool required")
	}
	return &TelemetryStore{db: pool}
}

func newTelemetryStoreWithQuerier(q querier) *TelemetryStore {
	if q == nil {
		panic("health: querier required")
	}
	return &TelemetryStore{db: q}
}

const logColumns = `user_id, log_date, heart_rate, steps, sleep_hours, updated_at`

func scanLog(row pgx.Row) (domain.DailyLog, error) {
	var l domain.DailyLog
	err := row.Scan(&l.UserID, &l.Date, &l.HeartRate, &l.Steps, &l.SleepHours, &l.UpdatedAt)
	return l, err
}

// LogDate truncates a timestamp to the UTC calendar day it belongs to.
func LogDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// WindowStart is the exclusive lower bound of a window of days ending on now's day.
func WindowStart(now time.Time, days int) time.Time {
	return LogDate(now).AddDate(0, 0, -days)
}

// UpsertDailyLog merges a reading into the user's log for its day.
func (s *TelemetryStore) UpsertDailyLog(ctx context.Context, userID string, r Reading) (domain.DailyLog, error) {
	at := r.RecordedAt
	if at.IsZero() {
		at = time.Now()
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO daily_logs (user_id, log_date, heart_rate, steps, sleep_hours, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, log_date) DO UPDATE SET
			heart_rate = COALESCE(EXCLUDED.heart_rate, daily_logs.heart_rate),
			steps = COALESCE(EXCLUDED.steps, daily_logs.steps),
			sleep_hours = COALESCE(EXCLUDED.sleep_hours, daily_logs.sleep_hours),
			updated_at = EXCLUDED.updated_at
		RETURNING `+logColumns,
		userID, LogDate(at), r.HeartRate, r.Steps, r.SleepHours, at.UTC())
	log, err := scanLog(row)
	if err != nil {
		return domain.DailyLog{}, fmt.Errorf("health: upsert daily log: %w", err)
	}
	return log, nil
}

// PreviousLog returns the log for the calendar day before day, or nil when
// that day has no log. Older days are never compared against.
func (s *TelemetryStore) PreviousLog(ctx context.Context, userID string, day time.Time) (*domain.DailyLog, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+logColumns+` FROM daily_logs
		WHERE user_id = $1 AND log_date = $2`, userID, LogDate(day).AddDate(0, 0, -1))
	log, err := scanLog(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("health: previous log: %w", err)
	}
	return &log, nil
}

// RecentLogs returns the logs of the last days calendar days up to and
// including now's day, newest first.
func (s *TelemetryStore) RecentLogs(ctx context.Context, userID string, now time.Time, days int) ([]domain.DailyLog, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+logColumns+` FROM daily_logs
		WHERE user_id = $1 AND log_date > $2
		ORDER BY log_date DESC
		LIMIT $3`, userID, WindowStart(now, days), days)
	if err != nil {
		return nil, fmt.Errorf("health: recent logs: %w", err)
	}
	defer rows.Close()

	logs := []domain.DailyLog{}
	for rows.Next() {
		log, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("health: scan log: %w", err)
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

// InsertInsight stores an insight, assigning an id when missing.
func (s *TelemetryStore) InsertInsight(ctx context.Context, in *domain.Insight) error {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO insights (id, user_id, severity, kind, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		in.ID, in.UserID, string(in.Severity), in.Kind, in.Message, in.CreatedAt)
	if err != nil {
		return fmt.Errorf("health: insert insight: %w", err)
	}
	return nil
}

// RecentInsights returns up to n insights, newest first.
func (s *TelemetryStore) RecentInsights(ctx context.Context, userID string, n int) ([]domain.Insight, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, severity, kind, message, created_at FROM insights
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, n)
	if err != nil {
		return nil, fmt.Errorf("health: recent insights: %w", err)
	}
	defer rows.Close()

	out := []domain.Insight{}
	for rows.Next() {
		var (
			in       domain.Insight
			severity string
		)
		if err := rows.Scan(&in.ID, &in.UserID, &severity, &in.Kind, &in.Message, &in.CreatedAt); err != nil {
			return nil, fmt.Errorf("health: scan insight: %w", err)
		}
		in.Severity = domain.InsightSeverity(severity)
		out = append(out, in)
	}
	return out, rows.Err()
}
