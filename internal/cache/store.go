package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// UserContextTTL bounds how long a pushed or fetched health snapshot is trusted.
	UserContextTTL = 24 * time.Hour
	// HealthDataTTL applies to the health process's own read caches.
	HealthDataTTL = 5 * time.Minute
	// ChatSessionTTL applies to per-session turn results and summaries.
	ChatSessionTTL = time.Hour
)

// UserContextKey is the cache key of a user's health snapshot.
func UserContextKey(userID string) string {
	return fmt.Sprintf("user_context:%s", userID)
}

// HealthDataKey is the cache key of a health-process read of the given kind.
func HealthDataKey(userID, kind string) string {
	return fmt.Sprintf("health_data:%s:%s", userID, kind)
}

// ChatSessionKey is the cache key of a session's latest turn result.
func ChatSessionKey(sessionID string) string {
	return fmt.Sprintf("chat_session:%s", sessionID)
}

// Store is a JSON cache-aside store on Redis. Every entry carries a TTL.
type Store struct {
	redis  redis.Cmdable
	tracer trace.Tracer
}

// NewStore wraps a Redis client.
func NewStore(client redis.Cmdable, tracer trace.Tracer) *Store {
	if client == nil {
		panic("cache: redis client cannot be nil")
	}
	if tracer == nil {
		tracer = otel.Tracer("healify.internal.cache")
	}
	return &Store{
		redis:  client,
		tracer: tracer,
	}
}

// Get decodes the value at key into dst. It reports false on a miss.
func (s *Store) Get(ctx context.Context, key string, dst any) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "cache.get", trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			span.SetAttributes(attribute.Bool("cache.hit", false))
			return false, nil
		}
		span.RecordError(err)
		return false, fmt.Errorf("cache: get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("cache: decode %s: %w", key, err)
	}
	span.SetAttributes(attribute.Bool("cache.hit", true))
	return true, nil
}

// Set encodes value and stores it with ttl, replacing any existing entry.
func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	ctx, span := s.tracer.Start(ctx, "cache.set", trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	if ttl <= 0 {
		err := fmt.Errorf("cache: ttl required for %s", key)
		span.RecordError(err)
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}
	if err := s.redis.Set(ctx, key, data, ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("cache: set %s: %w", key, err)
	}
	return nil
}

// SetIfAbsent stores value with ttl only when key holds nothing. It reports
// whether the value was written.
func (s *Store) SetIfAbsent(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "cache.set_if_absent", trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	if ttl <= 0 {
		err := fmt.Errorf("cache: ttl required for %s", key)
		span.RecordError(err)
		return false, err
	}
	data, err := json.Marshal(value)
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("cache: encode %s: %w", key, err)
	}
	written, err := s.redis.SetNX(ctx, key, data, ttl).Result()
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("cache: set %s: %w", key, err)
	}
	span.SetAttributes(attribute.Bool("cache.written", written))
	return written, nil
}

// Invalidate removes key. Missing keys are not an error.
func (s *Store) Invalidate(ctx context.Context, key string) error {
	ctx, span := s.tracer.Start(ctx, "cache.invalidate", trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	if err := s.redis.Del(ctx, key).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("cache: invalidate %s: %w", key, err)
	}
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}
