package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/Nabil201-ctrl/Healify-sub000/internal/chat"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/domain"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/review"
	"github.com/Nabil201-ctrl/Healify-sub000/pkg/logging"
)

const maxBodyBytes = 64 << 10

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func jsonError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads a bounded JSON body into dst. An empty body leaves dst
// untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// writeServiceError maps domain errors to status codes. Unknown errors are
// logged and reported generically.
func writeServiceError(w http.ResponseWriter, logger *logging.Logger, err error, attrs ...any) {
	switch {
	case errors.Is(err, chat.ErrSessionNotFound), errors.Is(err, chat.ErrProfileNotFound):
		jsonError(w, "session not found", http.StatusNotFound)
	case errors.Is(err, chat.ErrNotAssigned):
		jsonError(w, "session is not assigned to you", http.StatusForbidden)
	case errors.Is(err, domain.ErrInvalidTransition):
		jsonError(w, "session is not in a state that allows this action", http.StatusConflict)
	case errors.Is(err, review.ErrEmptyMessage):
		jsonError(w, err.Error(), http.StatusBadRequest)
	default:
		logger.Error("request failed", append(attrs, "error", err)...)
		jsonError(w, "internal error", http.StatusInternalServerError)
	}
}
