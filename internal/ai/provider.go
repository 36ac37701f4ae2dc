package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Nabil201-ctrl/Healify-sub000/internal/domain"
	"github.com/Nabil201-ctrl/Healify-sub000/pkg/logging"
)

const (
	SourceLLM            = "llm"
	SourceSymptomChecker = "symptom_checker"

	substantiveConfidence = 0.85
	hedgedConfidence      = 0.6
	reasonHedged          = "AI response expressed uncertainty"
	defaultMaxTokens      = 600
)

// Response is an answer with the provider's own confidence in [0,1].
type Response struct {
	Text       string
	Confidence float64
	Source     string
	Reason     string
}

// Provider answers a patient message given optional health context.
type Provider interface {
	Generate(ctx context.Context, message string, snapshot *domain.HealthSnapshot) (Response, error)
}

var hedgePhrases = []string{
	"consult", "not sure", "cannot determine", "can't determine", "unable to determine",
	"i don't know", "see a doctor", "seek medical",
}

const systemPrompt = `You are Healify, a careful health assistant. Answer the patient's question in plain language in at most three short paragraphs.
Never diagnose. If the question needs an examination or the data is insufficient, say so.
Only use the health readings provided below; do not invent measurements.`

// LLMProvider turns an LLMClient into a Provider.
type LLMProvider struct {
	client LLMClient
	model  string
	logger *logging.Logger
}

func NewLLMProvider(client LLMClient, model string, logger *logging.Logger) *LLMProvider {
	if client == nil {
		panic("ai: llm client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &LLMProvider{client: client, model: model, logger: logger}
}

func (p *LLMProvider) Generate(ctx context.Context, message string, snapshot *domain.HealthSnapshot) (Response, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Response{}, errors.New("ai: message is required")
	}
	req := LLMRequest{
		Model:       p.model,
		System:      []string{systemPrompt, contextPrompt(snapshot)},
		Messages:    []Message{{Role: RoleUser, Content: message}},
		MaxTokens:   defaultMaxTokens,
		Temperature: 0.2,
	}
	resp, err := p.client.Complete(ctx, req)
	if err != nil {
		return Response{}, fmt.Errorf("ai: generate: %w", err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return Response{}, errors.New("ai: empty completion")
	}

	out := Response{Text: text, Confidence: substantiveConfidence, Source: SourceLLM}
	if hedges(text) {
		out.Confidence = hedgedConfidence
		out.Reason = reasonHedged
	}
	p.logger.Debug("llm response generated",
		"confidence", out.Confidence,
		"stop_reason", resp.StopReason,
		"output_tokens", resp.Usage.OutputTokens,
	)
	return out, nil
}

func hedges(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range hedgePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// contextPrompt renders the snapshot without any identifiers.
func contextPrompt(s *domain.HealthSnapshot) string {
	if s == nil {
		return "No health readings are available for this patient."
	}
	var b strings.Builder
	b.WriteString("Latest readings:")
	if v := s.Current.HeartRate; v != nil {
		fmt.Fprintf(&b, " heart rate %.0f bpm;", *v)
	}
	if v := s.Current.Steps; v != nil {
		fmt.Fprintf(&b, " %d steps;", *v)
	}
	if v := s.Current.SleepHours; v != nil {
		fmt.Fprintf(&b, " %.1f hours sleep;", *v)
	}
	fmt.Fprintf(&b, " %d daily logs on record.", len(s.DailyLogs))
	for _, insight := range s.Insights {
		fmt.Fprintf(&b, "\nInsight (%s): %s", insight.Severity, insight.Message)
	}
	return b.String()
}
