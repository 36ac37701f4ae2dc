package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/Nabil201-ctrl/Healify-sub000/internal/events"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/http/middleware"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/transport"
	"github.com/Nabil201-ctrl/Healify-sub000/pkg/logging"
)

const healthCheckTimeout = 2 * time.Second

// SyncHandler accepts device telemetry for the health process.
type SyncHandler struct {
	publisher eventPublisher
	queue     string
	logger    *logging.Logger
	now       func() time.Time
}

func NewSyncHandler(publisher eventPublisher, queue string, logger *logging.Logger) *SyncHandler {
	if publisher == nil {
		panic("handlers: publisher cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SyncHandler{publisher: publisher, queue: queue, logger: logger, now: time.Now}
}

type syncRequest struct {
	HeartRate  *float64   `json:"heartRate,omitempty"`
	Steps      *int       `json:"steps,omitempty"`
	SleepHours *float64   `json:"sleep,omitempty"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
}

func (s syncRequest) validate() string {
	switch {
	case s.HeartRate == nil && s.Steps == nil && s.SleepHours == nil:
		return "at least one of heartRate, steps or sleep is required"
	case s.HeartRate != nil && (*s.HeartRate <= 0 || *s.HeartRate > 300):
		return "heartRate out of range"
	case s.Steps != nil && *s.Steps < 0:
		return "steps out of range"
	case s.SleepHours != nil && (*s.SleepHours < 0 || *s.SleepHours > 24):
		return "sleep out of range"
	}
	return ""
}

// Sync enqueues one telemetry reading.
// POST /health/sync
func (h *SyncHandler) Sync(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.PrincipalFromContext(r.Context())
	var req syncRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if msg := req.validate(); msg != "" {
		jsonError(w, msg, http.StatusBadRequest)
		return
	}
	at := h.now().UTC()
	if req.Timestamp != nil && !req.Timestamp.IsZero() {
		at = req.Timestamp.UTC()
	}

	_, err := h.publisher.Publish(r.Context(), h.queue, "user:"+caller.ID, events.HealthSyncV1{
		UserID:     caller.ID,
		HeartRate:  req.HeartRate,
		Steps:      req.Steps,
		SleepHours: req.SleepHours,
		Timestamp:  at,
	}, transport.Persistent())
	if err != nil {
		h.logger.Error("health sync enqueue failed", "user_id", caller.ID, "error", err)
		jsonError(w, "sync is temporarily unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// Pinger is a dependency the liveness endpoint checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthCheck reports process liveness and the state of each dependency.
// GET /health
func HealthCheck(deps map[string]Pinger, logger *logging.Logger) http.HandlerFunc {
	if logger == nil {
		logger = logging.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		status := http.StatusOK
		checks := make(map[string]string, len(deps))
		for name, dep := range deps {
			if err := dep.Ping(ctx); err != nil {
				logger.Warn("health check failed", "dependency", name, "error", err)
				checks[name] = "down"
				status = http.StatusServiceUnavailable
				continue
			}
			checks[name] = "ok"
		}
		overall := "ok"
		if status != http.StatusOK {
			overall = "degraded"
		}
		writeJSON(w, status, map[string]any{"status": overall, "checks": checks})
	}
}
