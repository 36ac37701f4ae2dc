package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/Nabil201-ctrl/Healify-sub000/internal/events"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/observability/metrics"
	"github.com/Nabil201-ctrl/Healify-sub000/internal/transport"
	"github.com/Nabil201-ctrl/Healify-sub000/pkg/logging"
)

// TokenResolver looks up a user's delivery addresses.
type TokenResolver interface {
	PushTokens(ctx context.Context, userID string) ([]string, error)
	Email(ctx context.Context, userID string) (string, error)
}

type eventPublisher interface {
	Publish(ctx context.Context, queue, aggregate string, evt events.CanonicalEvent, opts ...transport.PublishOption) (events.Envelope, error)
}

// ServiceConfig wires a Service. Tokens, Email and Publisher are optional;
// without a Publisher and PruneQueue rejected tokens are only logged.
type ServiceConfig struct {
	Dispatcher *Dispatcher
	Tokens     TokenResolver
	Email      EmailSender
	Publisher  eventPublisher
	PruneQueue string
	Metrics    *metrics.TriageMetrics
	Logger     *logging.Logger
}

// Service turns notification requests into pushes and email copies.
type Service struct {
	dispatcher *Dispatcher
	tokens     TokenResolver
	email      EmailSender
	publisher  eventPublisher
	pruneQueue string
	metrics    *metrics.TriageMetrics
	logger     *logging.Logger
}

func NewService(cfg ServiceConfig) *Service {
	if cfg.Dispatcher == nil {
		panic("notify: dispatcher cannot be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Service{
		dispatcher: cfg.Dispatcher,
		tokens:     cfg.Tokens,
		email:      cfg.Email,
		publisher:  cfg.Publisher,
		pruneQueue: cfg.PruneQueue,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
	}
}

// Handle delivers one notification request. Failures are logged and
// reflected in the report; they are never returned to the caller.
func (s *Service) Handle(ctx context.Context, evt events.NotificationRequestedV1) Report {
	logger := s.logger.With("user_id", evt.UserID, "type", evt.Type)
	n := Format(evt.Type, evt.Data)

	tokens := evt.Tokens
	fromProfile := false
	if len(tokens) == 0 && evt.UserID != "" && s.tokens != nil {
		resolved, err := s.tokens.PushTokens(ctx, evt.UserID)
		if err != nil {
			logger.Warn("push token lookup failed", "error", err)
		}
		tokens = resolved
		fromProfile = true
	}

	var report Report
	if len(tokens) == 0 {
		logger.Debug("no push tokens registered")
	} else {
		report = s.dispatcher.Dispatch(ctx, tokens, n)
	}

	s.metrics.ObserveNotification(n.Type, string(StatusOK), report.Delivered())
	s.metrics.ObserveNotification(n.Type, string(StatusFailed), report.Failed())
	invalid := report.Invalid()
	s.metrics.ObserveNotification(n.Type, string(StatusInvalid), len(invalid))

	if len(invalid) > 0 {
		logger.Info("push tokens rejected", "count", len(invalid))
		if fromProfile {
			s.reportInvalid(ctx, evt.UserID, invalid, logger)
		}
	}

	s.sendEmailCopy(ctx, evt, n, logger)

	logger.Info("notification handled",
		"delivered", report.Delivered(),
		"failed", report.Failed(),
		"invalid", len(invalid),
	)
	return report
}

// reportInvalid hands rejected tokens to the prune queue. Removal happens in
// PruneWorker, never on the delivery path.
func (s *Service) reportInvalid(ctx context.Context, userID string, invalid []string, logger *logging.Logger) {
	if s.publisher == nil || s.pruneQueue == "" {
		return
	}
	evt := events.TokensInvalidatedV1{UserID: userID, Tokens: invalid}
	if _, err := s.publisher.Publish(ctx, s.pruneQueue, "user:"+userID, evt); err != nil {
		logger.Warn("invalid token report failed", "error", err)
	}
}

// sendEmailCopy mails reviewers about new patient messages, and anyone whose
// request carries an explicit address.
func (s *Service) sendEmailCopy(ctx context.Context, evt events.NotificationRequestedV1, n Notification, logger *logging.Logger) {
	if s.email == nil {
		return
	}
	to := strings.TrimSpace(evt.Email)
	if to == "" && evt.Type == TypeNewMessage && evt.UserID != "" && s.tokens != nil {
		addr, err := s.tokens.Email(ctx, evt.UserID)
		if err != nil {
			logger.Warn("email lookup failed", "error", err)
			return
		}
		to = addr
	}
	if to == "" {
		return
	}

	body := n.Body
	if sessionID := evt.Data["sessionId"]; sessionID != "" {
		body = fmt.Sprintf("%s\n\nConversation: %s", body, sessionID)
	}
	if err := s.email.Send(ctx, EmailMessage{To: to, Subject: n.Title, Body: body}); err != nil {
		logger.Warn("email copy failed", "error", err)
	}
}
