package ai

import "context"

// Prompt roles shared by every backend.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// LLMClient is one completion backend. Bedrock, OpenAI and Gemini implement
// it, and FallbackClient chains them.
type LLMClient interface {
	Complete(ctx context.Context, req LLMRequest) (LLMResponse, error)
}

// LLMRequest is a backend-neutral completion request. A negative Temperature
// keeps the backend default; zero MaxTokens and TopP do the same.
type LLMRequest struct {
	Model       string
	System      []string
	Messages    []Message
	MaxTokens   int32
	Temperature float32
	TopP        float32
}

// Message is one prompt turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// LLMResponse is the first candidate of a completion.
type LLMResponse struct {
	Text       string
	StopReason string
	Usage      TokenUsage
}

// TokenUsage is zero when the backend does not report usage.
type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}
