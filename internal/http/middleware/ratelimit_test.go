package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterRefills(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, 2)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("u1"))
	assert.True(t, rl.Allow("u1"))
	assert.False(t, rl.Allow("u1"))
	assert.True(t, rl.Allow("u2"), "keys are independent")

	now = now.Add(time.Second)
	assert.True(t, rl.Allow("u1"))
}

func TestRateLimiterEvictsIdleKeys(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, 1)
	rl.now = func() time.Time { return now }
	rl.Allow("u1")

	now = now.Add(limiterIdleTTL + time.Second)
	rl.evictIdle()
	assert.Empty(t, rl.buckets)
}

func TestRateLimitKeysByPrincipal(t *testing.T) {
	handler := RateLimit(NewRateLimiter(0, 1))(http.HandlerFunc(noop))
	send := func(id string) int {
		req := httptest.NewRequest(http.MethodPost, "/chat/send", nil)
		req = req.WithContext(WithPrincipal(req.Context(), Principal{ID: id, Role: RolePatient}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("u1"))
	assert.Equal(t, http.StatusTooManyRequests, send("u1"))
	assert.Equal(t, http.StatusOK, send("u2"))
}
