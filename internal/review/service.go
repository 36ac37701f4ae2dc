// Package review implements the clinician side of the triage pipeline: the
// escalation queue, assignment, completion and reviewer/patient messaging.
package review

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Nabil201-ctrl/Healify-sub000/internal/anonymize"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/archive"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/cache"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/chat"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/domain"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/events"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/safety"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/transport"
	"github.com/Nabil201-ctrl/Healify-sub000/pkg/logging"
)

const (
	NotifyReviewAssigned  = "review_assigned"
	NotifyReviewCompleted = "review_completed"
	NotifyDoctorMessage   = "doctor_message"

	completionText = "Your clinician has completed the review of this conversation."
	archiveTimeout = 30 * time.Second
)

// ErrEmptyMessage is returned when a reviewer sends a blank message.
var ErrEmptyMessage = errors.New("review: message text required")

type sessionStore interface {
	GetSession(ctx context.Context, sessionID string) (*domain.ChatSession, error)
	ListMessages(ctx context.Context, sessionID string, limit int) ([]domain.ChatMessage, error)
	AppendMessage(ctx context.Context, msg domain.ChatMessage) error
	Assign(ctx context.Context, sessionID, reviewerID string) (*domain.ChatSession, bool, error)
	Complete(ctx context.Context, sessionID, reviewerID string) (*domain.ChatSession, error)
	Archive(ctx context.Context, sessionID string) error
	SetBookmark(ctx context.Context, sessionID, userID string, bookmarked bool) error
	ReviewQueue(ctx context.Context, limit int) ([]domain.ChatSession, error)
}

type profileStore interface {
	GetProfile(ctx context.Context, userID string) (*domain.UserProfile, error)
}

type contextSource interface {
	Fetch(ctx context.Context, userID string) *domain.HealthSnapshot
}

type transcriptExporter interface {
	Export(ctx context.Context, t *archive.Transcript) error
}

type cacheInvalidator interface {
	Invalidate(ctx context.Context, key string) error
}

type eventPublisher interface {
	Publish(ctx context.Context, queue, aggregate string, evt events.CanonicalEvent, opts ...transport.PublishOption) (events.Envelope, error)
}

// Config wires a Service. Context, Archive, Cache and Publisher are optional.
type Config struct {
	Sessions          sessionStore
	Profiles          profileStore
	Context           contextSource
	Anonymizer        *anonymize.Anonymizer
	Archive           transcriptExporter
	Cache             cacheInvalidator
	Publisher         eventPublisher
	NotificationQueue string
	Logger            *logging.Logger
}

// Service is the reviewer-facing API over chat sessions.
type Service struct {
	sessions    sessionStore
	profiles    profileStore
	context     contextSource
	anon        *anonymize.Anonymizer
	archive     transcriptExporter
	cache       cacheInvalidator
	publisher   eventPublisher
	notifyQueue string
	logger      *logging.Logger
	now         func() time.Time
}

func NewService(cfg Config) *Service {
	if cfg.Sessions == nil {
		panic("review: session store cannot be nil")
	}
	if cfg.Profiles == nil {
		panic("review: profile store cannot be nil")
	}
	if cfg.Anonymizer == nil {
		panic("review: anonymizer cannot be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Service{
		sessions:    cfg.Sessions,
		profiles:    cfg.Profiles,
		context:     cfg.Context,
		anon:        cfg.Anonymizer,
		archive:     cfg.Archive,
		cache:       cfg.Cache,
		publisher:   cfg.Publisher,
		notifyQueue: cfg.NotificationQueue,
		logger:      cfg.Logger,
		now:         time.Now,
	}
}

// QueueEntry is one session as a reviewer sees it in the queue.
type QueueEntry struct {
	SessionID          string                 `json:"sessionId"`
	AnonymousID        string                 `json:"anonymousId"`
	Status             domain.SessionStatus   `json:"status"`
	ReviewReason       string                 `json:"reviewReason"`
	AIConfidence       *float64               `json:"aiConfidence,omitempty"`
	HealthDataQuality  *domain.DataQuality    `json:"healthDataQuality,omitempty"`
	AssignedReviewerID string                 `json:"assignedReviewerId,omitempty"`
	UpdatedAt          time.Time              `json:"updatedAt"`
	LastMessage        *domain.MessagePreview `json:"lastMessage,omitempty"`
}

// Queue lists sessions awaiting or under review, oldest first.
func (s *Service) Queue(ctx context.Context, limit int) ([]QueueEntry, error) {
	sessions, err := s.sessions.ReviewQueue(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]QueueEntry, 0, len(sessions))
	for _, sess := range sessions {
		entry := QueueEntry{
			SessionID:          sess.ID,
			AnonymousID:        s.anon.AnonymousID(sess.UserID),
			Status:             sess.Status,
			ReviewReason:       sess.ReviewReason,
			AIConfidence:       sess.AIConfidence,
			HealthDataQuality:  sess.HealthDataQuality,
			AssignedReviewerID: sess.AssignedReviewerID,
			UpdatedAt:          sess.UpdatedAt,
		}
		if sess.LastMessage != nil {
			last := *sess.LastMessage
			last.Text = anonymize.ScrubPII(last.Text)
			entry.LastMessage = &last
		}
		out = append(out, entry)
	}
	return out, nil
}

// Assign hands a session to a reviewer. Re-assigning to the same reviewer is
// a no-op; a different reviewer takes over.
func (s *Service) Assign(ctx context.Context, sessionID, reviewerID string) (*domain.ChatSession, error) {
	if strings.TrimSpace(reviewerID) == "" {
		return nil, errors.New("review: reviewer id required")
	}
	session, changed, err := s.sessions.Assign(ctx, sessionID, reviewerID)
	if err != nil {
		return nil, err
	}
	if changed {
		s.logger.Info("session assigned", "session_id", sessionID, "reviewer_id", reviewerID)
		s.notify(ctx, session.UserID, NotifyReviewAssigned, map[string]string{"sessionId": sessionID})
	}
	return session, nil
}

// CompleteReview closes the review. Notes, when given, are stored on a
// clinician message's metadata.
func (s *Service) CompleteReview(ctx context.Context, sessionID, reviewerID, notes string) (*domain.ChatSession, error) {
	session, err := s.sessions.Complete(ctx, sessionID, reviewerID)
	if err != nil {
		return nil, err
	}

	notes = strings.TrimSpace(notes)
	msg := domain.ChatMessage{
		ID:        uuid.NewSHA1(uuid.NameSpaceOID, []byte(sessionID+":complete")).String(),
		SessionID: sessionID,
		UserID:    session.UserID,
		Author:    domain.AuthorDoctor,
		Text:      completionText,
		Timestamp: s.now().UTC(),
		Metadata:  &domain.MessageMetadata{ReviewerID: reviewerID, Notes: notes},
	}
	if err := s.sessions.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("review: store completion: %w", err)
	}

	s.logger.Info("review completed", "session_id", sessionID, "reviewer_id", reviewerID, "has_notes", notes != "")
	s.notify(ctx, session.UserID, NotifyReviewCompleted, map[string]string{"sessionId": sessionID})
	return session, nil
}

// SendMessage posts a clinician message into the session. Only the assigned
// reviewer may write.
func (s *Service) SendMessage(ctx context.Context, sessionID, reviewerID, text string) (*domain.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != domain.StatusAssigned || session.AssignedReviewerID != reviewerID {
		return nil, chat.ErrNotAssigned
	}

	msg := domain.ChatMessage{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		UserID:    session.UserID,
		Author:    domain.AuthorDoctor,
		Text:      text,
		Timestamp: s.now().UTC(),
		Metadata:  &domain.MessageMetadata{ReviewerID: reviewerID},
	}
	if err := s.sessions.AppendMessage(ctx, msg); err != nil {
		return nil, err
	}
	s.notify(ctx, session.UserID, NotifyDoctorMessage, map[string]string{
		"sessionId": sessionID,
		"preview":   anonymize.Preview(text),
	})
	return &msg, nil
}

// PatientHealth returns the de-identified profile of the session's patient.
func (s *Service) PatientHealth(ctx context.Context, sessionID string) (anonymize.AnonymizedProfile, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return anonymize.AnonymizedProfile{}, err
	}
	profile, err := s.profiles.GetProfile(ctx, session.UserID)
	if err != nil {
		return anonymize.AnonymizedProfile{}, err
	}
	var snapshot *domain.HealthSnapshot
	if s.context != nil {
		snapshot = s.context.Fetch(ctx, session.UserID)
	}
	return s.anon.ProjectForReview(*profile, snapshot, safety.DataQuality(snapshot)), nil
}

// Bookmark flags a session for its owner.
func (s *Service) Bookmark(ctx context.Context, sessionID, userID string, bookmarked bool) error {
	return s.sessions.SetBookmark(ctx, sessionID, userID, bookmarked)
}

// Archive moves the session to archived, drops its cached turn result and
// exports a scrubbed transcript. Cache and export failures are logged; the
// status change stands.
func (s *Service) Archive(ctx context.Context, sessionID string) error {
	if err := s.sessions.Archive(ctx, sessionID); err != nil {
		return err
	}
	s.logger.Info("session archived", "session_id", sessionID)
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, cache.ChatSessionKey(sessionID)); err != nil {
			s.logger.Warn("turn result invalidation failed", "session_id", sessionID, "error", err)
		}
	}
	if s.archive == nil {
		return nil
	}

	exportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
	defer cancel()
	session, err := s.sessions.GetSession(exportCtx, sessionID)
	if err != nil {
		s.logger.Warn("transcript export skipped", "session_id", sessionID, "error", err)
		return nil
	}
	messages, err := s.sessions.ListMessages(exportCtx, sessionID, 0)
	if err != nil {
		s.logger.Warn("transcript export skipped", "session_id", sessionID, "error", err)
		return nil
	}
	at := s.now().UTC()
	if session.ArchivedAt != nil {
		at = *session.ArchivedAt
	}
	transcript := archive.BuildTranscript(*session, messages, s.anon.AnonymousID(session.UserID), at)
	if err := s.archive.Export(exportCtx, transcript); err != nil {
		s.logger.Warn("transcript export failed", "session_id", sessionID, "error", err)
	}
	return nil
}

func (s *Service) notify(ctx context.Context, userID, notificationType string, data map[string]string) {
	if s.publisher == nil || s.notifyQueue == "" {
		return
	}
	evt := events.NotificationRequestedV1{UserID: userID, Type: notificationType, Data: data}
	if _, err := s.publisher.Publish(ctx, s.notifyQueue, "user:"+userID, evt); err != nil {
		s.logger.Warn("notification publish failed", "user_id", userID, "type", notificationType, "error", err)
	}
}
