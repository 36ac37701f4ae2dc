package domain

import "time"

// Author identifies who wrote a chat message.
type Author string

const (
	AuthorUser   Author = "user"
	AuthorAI     Author = "ai"
	AuthorDoctor Author = "doctor"
)

// MessageMetadata holds the scoring and reviewer data attached to a message.
type MessageMetadata struct {
	Confidence         *float64     `json:"confidence,omitempty"`
	Clarity            *float64     `json:"clarity,omitempty"`
	HealthDataQuality  *DataQuality `json:"healthDataQuality,omitempty"`
	Source             string       `json:"source,omitempty"`
	NeedsClarification bool         `json:"needsClarification,omitempty"`
	NeedsDoctorReview  bool         `json:"needsDoctorReview,omitempty"`
	ReviewReason       string       `json:"reviewReason,omitempty"`
	ReviewerID         string       `json:"reviewerId,omitempty"`
	Notes              string       `json:"notes,omitempty"`
	TurnKey            string       `json:"turnKey,omitempty"`
}

// ChatMessage is an immutable, append-only entry in a session transcript.
type ChatMessage struct {
	ID        string           `json:"id"`
	SessionID string           `json:"sessionId"`
	UserID    string           `json:"userId"`
	Author    Author           `json:"author"`
	Text      string           `json:"text"`
	Timestamp time.Time        `json:"timestamp"`
	Metadata  *MessageMetadata `json:"metadata,omitempty"`
}

// Float64 returns a pointer to v.
func Float64(v float64) *float64 {
	return &v
}
