package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// SessionStatus is the review lifecycle state of a chat session.
type SessionStatus string

const (
	StatusActive      SessionStatus = "active"
	StatusNeedsReview SessionStatus = "needs_review"
	StatusAssigned    SessionStatus = "assigned"
	StatusCompleted   SessionStatus = "completed"
	StatusArchived    SessionStatus = "archived"
)

var (
	// ErrInvalidTransition is returned when a status change is not allowed.
	ErrInvalidTransition = errors.New("domain: invalid session status transition")
	// ErrReviewReasonRequired guards the needs_review/assigned invariant.
	ErrReviewReasonRequired = errors.New("domain: review reason required")
)

// statusRank orders the forward-only lifecycle. Archived sits outside it.
var statusRank = map[SessionStatus]int{
	StatusActive:      0,
	StatusNeedsReview: 1,
	StatusAssigned:    2,
	StatusCompleted:   3,
}

// Valid reports whether s is a known status.
func (s SessionStatus) Valid() bool {
	if s == StatusArchived {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

// RequiresReason reports whether sessions in this status must carry a review reason.
func (s SessionStatus) RequiresReason() bool {
	return s == StatusNeedsReview || s == StatusAssigned
}

// CanTransition reports whether a session may move from one status to another.
// Transitions only move forward; archived is reachable from every state and
// is terminal. Staying in the same state is allowed so repeated writes are
// idempotent.
func CanTransition(from, to SessionStatus) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == StatusArchived {
		return to == StatusArchived
	}
	if to == StatusArchived || from == to {
		return true
	}
	return statusRank[to] > statusRank[from]
}

// AllowedFrom lists the statuses from which to is reachable, excluding to itself.
func AllowedFrom(to SessionStatus) []SessionStatus {
	out := make([]SessionStatus, 0, 4)
	for _, from := range []SessionStatus{StatusActive, StatusNeedsReview, StatusAssigned, StatusCompleted, StatusArchived} {
		if from != to && CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// ChatSession is one patient conversation.
type ChatSession struct {
	ID                 string          `json:"sessionId"`
	UserID             string          `json:"userId"`
	Status             SessionStatus   `json:"status"`
	AssignedReviewerID string          `json:"assignedReviewerId,omitempty"`
	ReviewReason       string          `json:"reviewReason,omitempty"`
	NeedsDoctorReview  bool            `json:"needsDoctorReview"`
	AIConfidence       *float64        `json:"aiConfidence,omitempty"`
	HealthDataQuality  *DataQuality    `json:"healthDataQuality,omitempty"`
	IsBookmarked       bool            `json:"isBookmarked"`
	BookmarkedAt       *time.Time      `json:"bookmarkedAt,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
	CompletedAt        *time.Time      `json:"completedAt,omitempty"`
	ArchivedAt         *time.Time      `json:"archivedAt,omitempty"`
	LastMessage        *MessagePreview `json:"lastMessage,omitempty"`
}

// MessagePreview is the short form shown in the review queue.
type MessagePreview struct {
	Author    Author    `json:"author"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Transition applies a status change in memory, enforcing the lifecycle rules.
func (s *ChatSession) Transition(to SessionStatus, reason string) error {
	if s == nil {
		return errors.New("domain: session required")
	}
	if !CanTransition(s.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, to)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = s.ReviewReason
	}
	if to.RequiresReason() && reason == "" {
		return ErrReviewReasonRequired
	}
	s.Status = to
	s.ReviewReason = reason
	if to == StatusNeedsReview || to == StatusAssigned {
		s.NeedsDoctorReview = true
	}
	return nil
}
