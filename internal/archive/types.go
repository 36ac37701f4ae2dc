package archive

import (
	"time"

	"github.com/Nabil201-ctrl/Healify-sub000/internal/anonymize"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/domain"
)

// TranscriptVersion is the schema version written with every export.
const TranscriptVersion = "1.0"

// Transcript is a de-identified copy of an archived chat session.
type Transcript struct {
	Version           string              `json:"version"`
	SessionID         string              `json:"session_id"`
	AnonymousID       string              `json:"anonymous_id"`
	FinalStatus       string              `json:"final_status"`
	ReviewReason      string              `json:"review_reason,omitempty"`
	NeedsDoctorReview bool                `json:"needs_doctor_review"`
	ReviewerAssigned  bool                `json:"reviewer_assigned"`
	AIConfidence      *float64            `json:"ai_confidence,omitempty"`
	DataQuality       *domain.DataQuality `json:"data_quality,omitempty"`
	StartedAt         time.Time           `json:"started_at"`
	ArchivedAt        time.Time           `json:"archived_at"`
	MessageCount      int                 `json:"message_count"`
	Messages          []Message           `json:"messages"`
}

// Message is a single scrubbed turn.
type Message struct {
	Author     string    `json:"author"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence *float64  `json:"confidence,omitempty"`
	Source     string    `json:"source,omitempty"`
}

// ManifestEntry is one JSONL line in the monthly manifest file.
type ManifestEntry struct {
	SessionID         string `json:"session_id"`
	S3Key             string `json:"s3_key"`
	FinalStatus       string `json:"final_status"`
	NeedsDoctorReview bool   `json:"needs_doctor_review"`
	ArchivedAt        string `json:"archived_at"`
	MessageCount      int    `json:"message_count"`
}

// BuildTranscript projects a session and its messages into an export. The
// user id is replaced by anonymousID and message text is scrubbed of PII.
func BuildTranscript(session domain.ChatSession, messages []domain.ChatMessage, anonymousID string, archivedAt time.Time) *Transcript {
	t := &Transcript{
		Version:           TranscriptVersion,
		SessionID:         session.ID,
		AnonymousID:       anonymousID,
		FinalStatus:       string(session.Status),
		ReviewReason:      anonymize.ScrubPII(session.ReviewReason),
		NeedsDoctorReview: session.NeedsDoctorReview,
		ReviewerAssigned:  session.AssignedReviewerID != "",
		AIConfidence:      session.AIConfidence,
		DataQuality:       session.HealthDataQuality,
		StartedAt:         session.CreatedAt.UTC(),
		ArchivedAt:        archivedAt.UTC(),
		MessageCount:      len(messages),
		Messages:          make([]Message, 0, len(messages)),
	}
	for _, m := range messages {
		out := Message{
			Author:    string(m.Author),
			Text:      anonymize.ScrubPII(m.Text),
			Timestamp: m.Timestamp.UTC(),
		}
		if m.Metadata != nil {
			out.Confidence = m.Metadata.Confidence
			out.Source = m.Metadata.Source
		}
		t.Messages = append(t.Messages, out)
	}
	return t
}
