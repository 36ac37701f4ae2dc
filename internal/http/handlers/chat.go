package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Nabil201-ctrl/Healify-sub000/internal/cache"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/chat"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/domain"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/events"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/http/middleware"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/transport"
	"github.com/Nabil201-ctrl/Healify-sub000/pkg/logging"
)

const maxMessageRunes = 4000

type sessionReader interface {
	GetSession(ctx context.Context, sessionID string) (*domain.ChatSession, error)
	SetBookmark(ctx context.Context, sessionID, userID string, bookmarked bool) error
}

type eventPublisher interface {
	Publish(ctx context.Context, queue, aggregate string, evt events.CanonicalEvent, opts ...transport.PublishOption) (events.Envelope, error)
}

// ChatHandler accepts patient messages and serves polling for replies.
type ChatHandler struct {
	sessions  sessionReader
	cache     *cache.Store
	publisher eventPublisher
	queue     string
	logger    *logging.Logger
	now       func() time.Time
}

func NewChatHandler(sessions sessionReader, store *cache.Store, publisher eventPublisher, queue string, logger *logging.Logger) *ChatHandler {
	if sessions == nil || store == nil || publisher == nil {
		panic("handlers: chat handler dependencies cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ChatHandler{
		sessions:  sessions,
		cache:     store,
		publisher: publisher,
		queue:     queue,
		logger:    logger,
		now:       time.Now,
	}
}

type sendRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId,omitempty"`
}

type sendResponse struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
}

// Send enqueues a chat turn.
// POST /chat/send
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.PrincipalFromContext(r.Context())
	var req sendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		jsonError(w, "message is required", http.StatusBadRequest)
		return
	}
	if len([]rune(req.Message)) > maxMessageRunes {
		jsonError(w, "message is too long", http.StatusRequestEntityTooLarge)
		return
	}

	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	} else if ok := h.owns(w, r, req.SessionID, caller.ID); !ok {
		return
	}

	ctx := r.Context()
	now := h.now().UTC()
	pending := chat.TurnResult{Status: string(chat.TurnProcessing), UpdatedAt: now}
	if err := h.cache.Set(ctx, cache.ChatSessionKey(req.SessionID), pending, cache.ChatSessionTTL); err != nil {
		h.logger.Warn("pending status cache write failed", "session_id", req.SessionID, "error", err)
	}

	_, err := h.publisher.Publish(ctx, h.queue, "session:"+req.SessionID, events.ChatRequestedV1{
		SessionID: req.SessionID,
		UserID:    caller.ID,
		Message:   req.Message,
		Timestamp: now,
	}, transport.Persistent())
	if err != nil {
		h.logger.Error("chat enqueue failed", "session_id", req.SessionID, "error", err)
		jsonError(w, "chat is temporarily unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusAccepted, sendResponse{SessionID: req.SessionID, Status: pending.Status})
}

// Session returns the latest turn result for polling clients.
// GET /chat/session/{id}
func (h *ChatHandler) Session(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.PrincipalFromContext(r.Context())
	sessionID := chi.URLParam(r, "id")
	if ok := h.owns(w, r, sessionID, caller.ID); !ok {
		return
	}

	var result chat.TurnResult
	hit, err := h.cache.Get(r.Context(), cache.ChatSessionKey(sessionID), &result)
	if err != nil {
		h.logger.Warn("turn result cache read failed", "session_id", sessionID, "error", err)
	}
	if !hit {
		result = chat.TurnResult{Status: string(chat.TurnProcessing)}
	}
	writeJSON(w, http.StatusOK, result)
}

type bookmarkRequest struct {
	IsBookmarked bool `json:"isBookmarked"`
}

// Bookmark flags one of the caller's sessions.
// POST /bookmark/{sessionId}
func (h *ChatHandler) Bookmark(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.PrincipalFromContext(r.Context())
	sessionID := chi.URLParam(r, "sessionId")
	var req bookmarkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.sessions.SetBookmark(r.Context(), sessionID, caller.ID, req.IsBookmarked); err != nil {
		writeServiceError(w, h.logger, err, "session_id", sessionID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessionId": sessionID, "isBookmarked": req.IsBookmarked})
}

// owns writes 404 unless the session is unknown yet or belongs to userID.
// A session the worker has not persisted yet is treated as the caller's.
func (h *ChatHandler) owns(w http.ResponseWriter, r *http.Request, sessionID, userID string) bool {
	session, err := h.sessions.GetSession(r.Context(), sessionID)
	switch {
	case errors.Is(err, chat.ErrSessionNotFound):
		return true
	case err != nil:
		writeServiceError(w, h.logger, err, "session_id", sessionID)
		return false
	case session.UserID != userID:
		jsonError(w, "session not found", http.StatusNotFound)
		return false
	}
	return true
}
