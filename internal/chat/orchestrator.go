package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Nabil201-ctrl/Healify-sub000/internal/ai"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/anonymize"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/cache"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/domain"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/events"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/observability/metrics"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/safety"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/transport"
	"github.com/Nabil201-ctrl/Healify-sub000/pkg/logging"
)

const (
	// DefaultAITimeout bounds a single provider call.
	DefaultAITimeout = 30 * time.Second

	fallbackConfidence  = 0.5
	ReasonAIUnavailable = "AI service unavailable"
	SourceFallback      = "fallback"
	SourceClarification = "clarification"
	fallbackText        = "I'm having trouble analyzing your message right now."

	notifyTimeout = 5 * time.Second

	// turnRetryDelay spaces out redeliveries of a turn another worker holds.
	turnRetryDelay = 15 * time.Second
	releaseTimeout = 5 * time.Second

	outcomeAnswered      = "answered"
	outcomeEscalated     = "escalated"
	outcomeClarification = "clarification"
	outcomeDuplicate     = "duplicate"

	// Notification types published by the chat pipeline.
	NotifyNewMessage   = "new_message"
	NotifyChatResponse = "chat_response"
)

// ChatRequest is one inbound patient turn.
type ChatRequest struct {
	SessionID string
	UserID    string
	Message   string
	Timestamp time.Time
}

// TurnResult is cached under the session id so clients polling the session
// see the latest answer without touching the database.
type TurnResult struct {
	Status    string                 `json:"status"`
	MessageID string                 `json:"messageId"`
	Response  string                 `json:"response"`
	Metadata  domain.MessageMetadata `json:"metadata"`
	UpdatedAt time.Time              `json:"updatedAt"`
}

type sessionWriter interface {
	EnsureSession(ctx context.Context, sessionID, userID string, at time.Time) (*domain.ChatSession, error)
	AppendMessage(ctx context.Context, msg domain.ChatMessage) error
	Escalate(ctx context.Context, sessionID string, e Escalation) error
	GetSession(ctx context.Context, sessionID string) (*domain.ChatSession, error)
}

type contextSource interface {
	Fetch(ctx context.Context, userID string) *domain.HealthSnapshot
}

type eventPublisher interface {
	Publish(ctx context.Context, queue, aggregate string, evt events.CanonicalEvent, opts ...transport.PublishOption) (events.Envelope, error)
}

// OrchestratorConfig wires the orchestrator's collaborators.
type OrchestratorConfig struct {
	Sessions          sessionWriter
	Ledger            TurnLedger
	Context           contextSource
	Provider          ai.Provider
	Cache             *cache.Store
	Publisher         eventPublisher
	NotificationQueue string
	AITimeout         time.Duration
	Metrics           *metrics.TriageMetrics
	Logger            *logging.Logger
}

// Orchestrator runs the triage pipeline for one chat turn at a time. It is
// safe for concurrent use across sessions.
type Orchestrator struct {
	sessions  sessionWriter
	ledger    TurnLedger
	context   contextSource
	provider  ai.Provider
	cache     *cache.Store
	publisher eventPublisher
	queue     string
	timeout   time.Duration
	metrics   *metrics.TriageMetrics
	logger    *logging.Logger

	notifications sync.WaitGroup
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.Sessions == nil {
		panic("chat: session store cannot be nil")
	}
	if cfg.Ledger == nil {
		panic("chat: turn ledger cannot be nil")
	}
	if cfg.Context == nil {
		panic("chat: context source cannot be nil")
	}
	if cfg.Provider == nil {
		panic("chat: ai provider cannot be nil")
	}
	if cfg.Cache == nil {
		panic("chat: cache cannot be nil")
	}
	if cfg.AITimeout <= 0 {
		cfg.AITimeout = DefaultAITimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Orchestrator{
		sessions:  cfg.Sessions,
		ledger:    cfg.Ledger,
		context:   cfg.Context,
		provider:  cfg.Provider,
		cache:     cfg.Cache,
		publisher: cfg.Publisher,
		queue:     cfg.NotificationQueue,
		timeout:   cfg.AITimeout,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}
}

// Wait blocks until background notifications have been handed to the broker.
func (o *Orchestrator) Wait() {
	o.notifications.Wait()
}

// HandleTurn processes one patient message. A returned error means the turn
// should be redelivered; validation failures wrap events.ErrMalformedPayload.
func (o *Orchestrator) HandleTurn(ctx context.Context, req ChatRequest) (err error) {
	req.Message = strings.TrimSpace(req.Message)
	if req.SessionID == "" || req.UserID == "" || req.Message == "" {
		return fmt.Errorf("%w: chat request requires session, user and message", events.ErrMalformedPayload)
	}
	if req.Timestamp.IsZero() {
		return fmt.Errorf("%w: chat request without timestamp", events.ErrMalformedPayload)
	}
	logger := o.logger.With("session_id", req.SessionID)

	key := TurnKey(req.SessionID, req.Timestamp, req.Message)
	if err := o.ledger.Claim(ctx, key, req.SessionID); err != nil {
		switch {
		case errors.Is(err, ErrDuplicateTurn):
			logger.Info("duplicate turn skipped", "turn_key", key)
			o.metrics.ObserveTurn(outcomeDuplicate)
			return nil
		case errors.Is(err, ErrTurnInFlight):
			logger.Info("turn held by another delivery", "turn_key", key)
			return transport.RetryAfter(err, turnRetryDelay)
		}
		return err
	}
	defer func() {
		if err != nil {
			o.release(key, logger)
		}
	}()

	session, err := o.sessions.EnsureSession(ctx, req.SessionID, req.UserID, req.Timestamp)
	if err != nil {
		if errors.Is(err, ErrSessionOwnership) {
			return fmt.Errorf("%w: %v", events.ErrMalformedPayload, err)
		}
		return fmt.Errorf("chat: ensure session: %w", err)
	}

	userMsg := domain.ChatMessage{
		ID:        messageID(key, domain.AuthorUser),
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Author:    domain.AuthorUser,
		Text:      req.Message,
		Timestamp: req.Timestamp,
		Metadata:  &domain.MessageMetadata{TurnKey: key},
	}
	if err := o.sessions.AppendMessage(ctx, userMsg); err != nil {
		return fmt.Errorf("chat: persist user message: %w", err)
	}

	if session.AssignedReviewerID != "" {
		o.notify(session.AssignedReviewerID, NotifyNewMessage, map[string]string{
			"sessionId": req.SessionID,
			"preview":   anonymize.Preview(req.Message),
		})
	}

	snapshot := o.context.Fetch(ctx, req.UserID)

	decision, ok := safety.Assess(req.Message)
	outcome, source := outcomeClarification, SourceClarification
	if ok {
		quality := safety.DataQuality(snapshot)
		resp := o.generate(ctx, logger, req.Message, snapshot)
		decision = safety.Evaluate(req.Message, resp, quality)
		outcome = outcomeAnswered

		if decision.Escalate {
			outcome = outcomeEscalated
			err := o.sessions.Escalate(ctx, req.SessionID, Escalation{
				Reason:     decision.Reason,
				Confidence: decision.Confidence,
				Quality:    decision.Quality,
			})
			switch {
			case errors.Is(err, domain.ErrInvalidTransition):
				reviewed, err := o.underReview(ctx, req.SessionID)
				if err != nil {
					return err
				}
				if !reviewed {
					logger.Info("session closed, review not reopened", "reason", decision.Reason)
					decision = safety.WithoutReview(decision)
					outcome = outcomeAnswered
				}
			case err != nil:
				return fmt.Errorf("chat: escalate session: %w", err)
			default:
				logger.Info("session escalated", "reason", decision.Reason, "confidence", decision.Confidence)
			}
		}
		source = resp.Source
	}

	metadata := turnMetadata(key, decision, source)
	aiMsg := domain.ChatMessage{
		ID:        messageID(key, domain.AuthorAI),
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Author:    domain.AuthorAI,
		Text:      decision.Text,
		Timestamp: time.Now().UTC(),
		Metadata:  &metadata,
	}
	if err := o.sessions.AppendMessage(ctx, aiMsg); err != nil {
		return fmt.Errorf("chat: persist ai message: %w", err)
	}

	result := TurnResult{
		Status:    string(TurnCompleted),
		MessageID: aiMsg.ID,
		Response:  aiMsg.Text,
		Metadata:  metadata,
		UpdatedAt: aiMsg.Timestamp,
	}
	if err := o.cache.Set(ctx, cache.ChatSessionKey(req.SessionID), result, cache.ChatSessionTTL); err != nil {
		logger.Warn("turn result cache write failed", "error", err)
	}

	if err := o.ledger.Complete(ctx, key); err != nil {
		// The transcript is already written; a redelivery only repeats work.
		logger.Warn("turn ledger completion failed", "turn_key", key, "error", err)
	}

	o.notify(req.UserID, NotifyChatResponse, map[string]string{
		"sessionId":         req.SessionID,
		"preview":           anonymize.Preview(aiMsg.Text),
		"needsDoctorReview": fmt.Sprintf("%t", decision.Escalate),
	})

	o.metrics.ObserveTurn(outcome)
	logger.Info("turn processed", "outcome", outcome, "confidence", decision.Confidence, "clarity", decision.Clarity)
	return nil
}

// underReview reports whether a session that refused escalation is still in
// front of a reviewer. Completed and archived sessions are not.
func (o *Orchestrator) underReview(ctx context.Context, sessionID string) (bool, error) {
	session, err := o.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("chat: reload session: %w", err)
	}
	return session.Status == domain.StatusNeedsReview || session.Status == domain.StatusAssigned, nil
}

// release frees a claim after a failed attempt so the redelivery does not
// wait for the claim to go stale.
func (o *Orchestrator) release(key string, logger *logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := o.ledger.Release(ctx, key); err != nil {
		logger.Warn("turn ledger release failed", "turn_key", key, "error", err)
	}
}

// generate calls the provider under the AI timeout. Any failure becomes a
// low-confidence fallback so the turn is escalated rather than dropped.
func (o *Orchestrator) generate(ctx context.Context, logger *logging.Logger, message string, snapshot *domain.HealthSnapshot) safety.Response {
	aiCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.provider.Generate(aiCtx, message, snapshot)
	if err != nil {
		logger.Warn("ai provider failed, using fallback", "error", err)
		return safety.Response{
			Text:       fallbackText,
			Confidence: fallbackConfidence,
			Source:     SourceFallback,
			Reason:     ReasonAIUnavailable,
		}
	}
	return safety.Response{
		Text:       resp.Text,
		Confidence: resp.Confidence,
		Source:     resp.Source,
		Reason:     resp.Reason,
	}
}

// notify publishes a notification request in the background. Failures are
// logged and never affect the turn.
func (o *Orchestrator) notify(userID, notificationType string, data map[string]string) {
	if o.publisher == nil || o.queue == "" || userID == "" {
		return
	}
	o.notifications.Add(1)
	go func() {
		defer o.notifications.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		evt := events.NotificationRequestedV1{UserID: userID, Type: notificationType, Data: data}
		if _, err := o.publisher.Publish(ctx, o.queue, "user:"+userID, evt); err != nil {
			o.logger.Warn("notification publish failed", "type", notificationType, "error", err)
		}
	}()
}

func turnMetadata(key string, d safety.Decision, source string) domain.MessageMetadata {
	md := domain.MessageMetadata{
		Confidence:         domain.Float64(d.Confidence),
		Clarity:            domain.Float64(d.Clarity),
		Source:             source,
		NeedsClarification: d.NeedsClarification,
		NeedsDoctorReview:  d.Escalate,
		ReviewReason:       d.Reason,
		TurnKey:            key,
	}
	if !d.NeedsClarification {
		quality := d.Quality
		md.HealthDataQuality = &quality
	}
	return md
}

// messageID derives a stable message id so redelivered turns reuse it.
func messageID(turnKey string, author domain.Author) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(turnKey+":"+string(author))).String()
}
