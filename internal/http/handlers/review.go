package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Nabil201-ctrl/Healify-sub000/internal/anonymize"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/domain"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/http/middleware"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/review"
	"github.com/Nabil201-ctrl/Healify-sub000/pkg/logging"
)

type reviewService interface {
	Queue(ctx context.Context, limit int) ([]review.QueueEntry, error)
	Assign(ctx context.Context, sessionID, reviewerID string) (*domain.ChatSession, error)
	CompleteReview(ctx context.Context, sessionID, reviewerID, notes string) (*domain.ChatSession, error)
	SendMessage(ctx context.Context, sessionID, reviewerID, text string) (*domain.ChatMessage, error)
	PatientHealth(ctx context.Context, sessionID string) (anonymize.AnonymizedProfile, error)
	Archive(ctx context.Context, sessionID string) error
}

// ReviewHandler serves the clinician endpoints under /doctor.
type ReviewHandler struct {
	service reviewService
	logger  *logging.Logger
}

func NewReviewHandler(service reviewService, logger *logging.Logger) *ReviewHandler {
	if service == nil {
		panic("handlers: review service cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ReviewHandler{service: service, logger: logger}
}

// sessionView is the reviewer-facing session shape; the patient id is omitted.
type sessionView struct {
	SessionID          string               `json:"sessionId"`
	Status             domain.SessionStatus `json:"status"`
	AssignedReviewerID string               `json:"assignedReviewerId,omitempty"`
	ReviewReason       string               `json:"reviewReason,omitempty"`
	UpdatedAt          time.Time            `json:"updatedAt"`
}

func viewOf(s *domain.ChatSession) sessionView {
	return sessionView{
		SessionID:          s.ID,
		Status:             s.Status,
		AssignedReviewerID: s.AssignedReviewerID,
		ReviewReason:       s.ReviewReason,
		UpdatedAt:          s.UpdatedAt,
	}
}

// Queue lists sessions awaiting review.
// GET /doctor/review-queue?limit=50
func (h *ReviewHandler) Queue(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			jsonError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	entries, err := h.service.Queue(r.Context(), limit)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": entries})
}

// Assign claims a session for the calling reviewer.
// POST /doctor/assign/{sessionId}
func (h *ReviewHandler) Assign(w http.ResponseWriter, r *http.Request) {
	reviewer, _ := middleware.PrincipalFromContext(r.Context())
	sessionID := chi.URLParam(r, "sessionId")
	session, err := h.service.Assign(r.Context(), sessionID, reviewer.ID)
	if err != nil {
		writeServiceError(w, h.logger, err, "session_id", sessionID, "reviewer_id", reviewer.ID)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(session))
}

type completeRequest struct {
	Notes string `json:"notes,omitempty"`
}

// Complete closes the calling reviewer's review.
// POST /doctor/complete-review/{sessionId}
func (h *ReviewHandler) Complete(w http.ResponseWriter, r *http.Request) {
	reviewer, _ := middleware.PrincipalFromContext(r.Context())
	sessionID := chi.URLParam(r, "sessionId")
	var req completeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	session, err := h.service.CompleteReview(r.Context(), sessionID, reviewer.ID, req.Notes)
	if err != nil {
		writeServiceError(w, h.logger, err, "session_id", sessionID, "reviewer_id", reviewer.ID)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(session))
}

type messageRequest struct {
	Text string `json:"text"`
}

// Message sends a clinician message to the patient.
// POST /doctor/message/{sessionId}
func (h *ReviewHandler) Message(w http.ResponseWriter, r *http.Request) {
	reviewer, _ := middleware.PrincipalFromContext(r.Context())
	sessionID := chi.URLParam(r, "sessionId")
	var req messageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	msg, err := h.service.SendMessage(r.Context(), sessionID, reviewer.ID, req.Text)
	if err != nil {
		writeServiceError(w, h.logger, err, "session_id", sessionID, "reviewer_id", reviewer.ID)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"messageId": msg.ID, "timestamp": msg.Timestamp})
}

// PatientHealth returns the anonymized profile behind a session.
// GET /doctor/patient-health/{sessionId}
func (h *ReviewHandler) PatientHealth(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	profile, err := h.service.PatientHealth(r.Context(), sessionID)
	if err != nil {
		writeServiceError(w, h.logger, err, "session_id", sessionID)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// Archive archives a session and exports its transcript.
// POST /doctor/archive/{sessionId}
func (h *ReviewHandler) Archive(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	if err := h.service.Archive(r.Context(), sessionID); err != nil {
		writeServiceError(w, h.logger, err, "session_id", sessionID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"sessionId": sessionID, "status": string(domain.StatusArchived)})
}
