package safety

import (
	"strings"

	"github.com/Nabil201-ctrl/Healify-sub000/internal/domain"
)

const (
	// ClarificationConfidence is reported on turns answered with a clarification request.
	ClarificationConfidence = 0.3
	// ConfidenceThreshold is the minimum provider confidence for an automated answer.
	ConfidenceThreshold = 0.7

	minCompleteness = 0.3
	minStability    = 0.4

	ReasonInsufficientData = "Insufficient health data for analysis"
	ReasonLowConfidence    = "Low AI confidence"
)

var healthDependentTerms = []string{"health", "trend", "analysis"}

// Response is an answer produced by an AI provider or a fallback.
type Response struct {
	Text       string
	Confidence float64
	Source     string
	// Reason is the provider's own explanation for a low confidence, if any.
	Reason string
}

// Decision is the outcome of a safety check for one turn.
type Decision struct {
	Text               string
	Confidence         float64
	Clarity            float64
	NeedsClarification bool
	Escalate           bool
	Reason             string
	Quality            domain.DataQuality
}

// Assess runs the pre-AI clarity gate. When ok is false the returned
// decision is final for the turn and no provider should be called.
func Assess(message string) (Decision, bool) {
	clarity := Clarity(message)
	if !NeedsClarification(clarity) {
		return Decision{Clarity: clarity}, true
	}
	return Decision{
		Text:               ClarificationPrompt(message),
		Confidence:         ClarificationConfidence,
		Clarity:            clarity,
		NeedsClarification: true,
	}, false
}

// HealthDependent reports whether answering message needs the user's telemetry.
func HealthDependent(message string) bool {
	lower := strings.ToLower(message)
	for _, term := range healthDependentTerms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

// Evaluate decides whether a produced response may be sent as-is. Poor data
// on a health-dependent question takes precedence over the confidence check.
func Evaluate(message string, resp Response, quality domain.DataQuality) Decision {
	d := Decision{
		Text:       resp.Text,
		Confidence: resp.Confidence,
		Clarity:    Clarity(message),
		Quality:    quality,
	}

	if HealthDependent(message) && (quality.Completeness < minCompleteness || quality.Stability < minStability) {
		d.Escalate = true
		d.Reason = ReasonInsufficientData
		d.Text = withReviewNotice(DataQualityWarning(quality))
		return d
	}

	if resp.Confidence < ConfidenceThreshold {
		d.Escalate = true
		d.Reason = strings.TrimSpace(resp.Reason)
		if d.Reason == "" {
			d.Reason = ReasonLowConfidence
		}
		d.Text = withReviewNotice(resp.Text)
	}
	return d
}

// WithoutReview withdraws the review promise from an escalated decision. The
// answer keeps its text and the user is told to open a new conversation.
func WithoutReview(d Decision) Decision {
	if !d.Escalate {
		return d
	}
	d.Escalate = false
	d.Reason = ""
	text := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(d.Text), ReviewPendingNotice))
	if text == "" {
		d.Text = ClosedSessionNotice
	} else {
		d.Text = text + "\n\n" + ClosedSessionNotice
	}
	return d
}
