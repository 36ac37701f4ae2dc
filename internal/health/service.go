package health

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Nabil201-ctrl/Healify-sub000/internal/cache"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/domain"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/events"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/transport"
	"github.com/Nabil201-ctrl/Healify-sub000/pkg/logging"
)

const (
	// DefaultHighHeartRate is the bpm above which a reading raises an alert.
	DefaultHighHeartRate = 100.0

	heartRateRiseBPM = 10.0
	snapshotLogDays  = 7
	snapshotInsights = 3
	snapshotCacheKey = "snapshot"
	changeTypeSync   = "health_data_updated"

	NotifyHealthAlert = "health_alert"
	NotifyInsight     = "insight"
)

// ErrEmptyReading is returned for a sync without any measurement.
var ErrEmptyReading = errors.New("health: reading has no measurements")

type telemetryStore interface {
	UpsertDailyLog(ctx context.Context, userID string, r Reading) (domain.DailyLog, error)
	PreviousLog(ctx context.Context, userID string, day time.Time) (*domain.DailyLog, error)
	RecentLogs(ctx context.Context, userID string, now time.Time, days int) ([]domain.DailyLog, error)
	InsertInsight(ctx context.Context, in *domain.Insight) error
	RecentInsights(ctx context.Context, userID string, n int) ([]domain.Insight, error)
}

type eventPublisher interface {
	Publish(ctx context.Context, queue, aggregate string, evt events.CanonicalEvent, opts ...transport.PublishOption) (events.Envelope, error)
}

// Config wires a Service.
type Config struct {
	Store             telemetryStore
	Cache             *cache.Store
	Publisher         eventPublisher
	ContextQueue      string
	NotificationQueue string
	HighHeartRate     float64
	Logger            *logging.Logger
}

// Service owns longitudinal telemetry and answers context requests.
type Service struct {
	store        telemetryStore
	cache        *cache.Store
	publisher    eventPublisher
	contextQueue string
	notifyQueue  string
	highHR       float64
	logger       *logging.Logger
	now          func() time.Time
}

func NewService(cfg Config) *Service {
	if cfg.Store == nil {
		panic("health: telemetry store cannot be nil")
	}
	if cfg.Cache == nil {
		panic("health: cache cannot be nil")
	}
	if cfg.Publisher == nil {
		panic("health: publisher cannot be nil")
	}
	if cfg.HighHeartRate <= 0 {
		cfg.HighHeartRate = DefaultHighHeartRate
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Service{
		store:        cfg.Store,
		cache:        cfg.Cache,
		publisher:    cfg.Publisher,
		contextQueue: cfg.ContextQueue,
		notifyQueue:  cfg.NotificationQueue,
		highHR:       cfg.HighHeartRate,
		logger:       cfg.Logger,
		now:          time.Now,
	}
}

// Sync records a reading, derives insights against the previous day and
// pushes the new snapshot to subscribers. A high heart rate alert goes out as
// soon as the reading is stored and does not depend on the push succeeding.
// Replaying the same reading is safe.
func (s *Service) Sync(ctx context.Context, userID string, r Reading) (*domain.HealthSnapshot, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("health: user id required")
	}
	if r.HeartRate == nil && r.Steps == nil && r.SleepHours == nil {
		return nil, ErrEmptyReading
	}
	if r.RecordedAt.IsZero() {
		r.RecordedAt = s.now()
	}
	logger := s.logger.With("user_id", userID)

	prev, err := s.store.PreviousLog(ctx, userID, r.RecordedAt)
	if err != nil {
		return nil, err
	}
	current, err := s.store.UpsertDailyLog(ctx, userID, r)
	if err != nil {
		return nil, err
	}
	if r.HeartRate != nil && *r.HeartRate > s.highHR {
		s.notify(ctx, userID, NotifyHealthAlert, map[string]string{
			"heartRate": fmt.Sprintf("%.0f", *r.HeartRate),
		})
	}

	derived := DeriveInsights(userID, prev, current)
	for i := range derived {
		if err := s.store.InsertInsight(ctx, &derived[i]); err != nil {
			return nil, err
		}
	}

	snapshot, err := s.build(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, cache.HealthDataKey(userID, snapshotCacheKey), snapshot, cache.HealthDataTTL); err != nil {
		logger.Warn("snapshot cache write failed", "error", err)
	}

	_, err = s.publisher.Publish(ctx, s.contextQueue, "user:"+userID, events.ContextChangedV1{
		UserID:    userID,
		Type:      changeTypeSync,
		Data:      snapshot,
		Timestamp: s.now().UTC(),
	}, transport.Persistent())
	if err != nil {
		return nil, fmt.Errorf("health: push context: %w", err)
	}

	for _, in := range derived {
		s.notify(ctx, userID, NotifyInsight, map[string]string{
			"insightId": in.ID,
			"message":   in.Message,
			"severity":  string(in.Severity),
		})
	}

	logger.Info("telemetry synced", "insights", len(derived), "log_date", current.Date.Format("2006-01-02"))
	return snapshot, nil
}

// Snapshot returns the user's current context, or nil when there is no
// telemetry at all.
func (s *Service) Snapshot(ctx context.Context, userID string) (*domain.HealthSnapshot, error) {
	key := cache.HealthDataKey(userID, snapshotCacheKey)
	var cached domain.HealthSnapshot
	hit, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		s.logger.Warn("snapshot cache read failed", "user_id", userID, "error", err)
	}
	if hit {
		return &cached, nil
	}

	snapshot, err := s.build(ctx, userID)
	if err != nil || snapshot == nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, key, snapshot, cache.HealthDataTTL); err != nil {
		s.logger.Warn("snapshot cache write failed", "user_id", userID, "error", err)
	}
	return snapshot, nil
}

func (s *Service) build(ctx context.Context, userID string) (*domain.HealthSnapshot, error) {
	logs, err := s.store.RecentLogs(ctx, userID, s.now(), snapshotLogDays)
	if err != nil {
		return nil, err
	}
	insights, err := s.store.RecentInsights(ctx, userID, snapshotInsights)
	if err != nil {
		return nil, err
	}
	if len(logs) == 0 && len(insights) == 0 {
		return nil, nil
	}

	snapshot := &domain.HealthSnapshot{
		UserID:      userID,
		Insights:    insights,
		DailyLogs:   logs,
		GeneratedAt: s.now().UTC(),
	}
	if len(logs) > 0 {
		latest := logs[0]
		snapshot.Current = domain.Vitals{
			HeartRate:  latest.HeartRate,
			Steps:      latest.Steps,
			SleepHours: latest.SleepHours,
			RecordedAt: latest.Date,
		}
	}
	return snapshot, nil
}

// notify publishes a notification request; failures are only logged.
func (s *Service) notify(ctx context.Context, userID, notificationType string, data map[string]string) {
	if s.notifyQueue == "" {
		return
	}
	evt := events.NotificationRequestedV1{UserID: userID, Type: notificationType, Data: data}
	if _, err := s.publisher.Publish(ctx, s.notifyQueue, "user:"+userID, evt); err != nil {
		s.logger.Warn("notification publish failed", "user_id", userID, "type", notificationType, "error", err)
	}
}

// DeriveInsights compares a day's log with the preceding one. Insight ids are
// derived from the user, day and kind so replays do not duplicate them.
func DeriveInsights(userID string, prev *domain.DailyLog, current domain.DailyLog) []domain.Insight {
	if prev == nil {
		return nil
	}
	var out []domain.Insight
	day := current.Date.Format("2006-01-02")

	if prev.HeartRate != nil && current.HeartRate != nil {
		if rise := *current.HeartRate - *prev.HeartRate; rise > heartRateRiseBPM {
			out = append(out, domain.Insight{
				ID:       insightID(userID, day, "heart_rate_rise"),
				UserID:   userID,
				Severity: domain.InsightWarning,
				Kind:     "heart_rate_rise",
				Message:  fmt.Sprintf("Your heart rate is %.0f bpm higher than on %s.", rise, prev.Date.Format("Jan 2")),
			})
		}
	}
	if prev.Steps != nil && current.Steps != nil && *prev.Steps > 0 && *current.Steps*2 < *prev.Steps {
		out = append(out, domain.Insight{
			ID:       insightID(userID, day, "steps_drop"),
			UserID:   userID,
			Severity: domain.InsightInfo,
			Kind:     "steps_drop",
			Message:  fmt.Sprintf("You walked %d steps, less than half of the %d steps on %s.", *current.Steps, *prev.Steps, prev.Date.Format("Jan 2")),
		})
	}
	return out
}

func insightID(userID, day, kind string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(userID+":"+day+":"+kind)).String()
}
