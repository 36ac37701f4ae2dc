package notify

import (
	"context"
	"strings"

	"github.com/Nabil201-ctrl/Healify-sub000/pkg/logging"
)

// LogPushProvider records pushes in the log. Blank tokens are reported invalid.
type LogPushProvider struct {
	logger *logging.Logger
}

func NewLogPushProvider(logger *logging.Logger) *LogPushProvider {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogPushProvider{logger: logger}
}

func (p *LogPushProvider) SendBatch(_ context.Context, tokens []string, n Notification) ([]TokenResult, error) {
	results := make([]TokenResult, len(tokens))
	for i, token := range tokens {
		if strings.TrimSpace(token) == "" {
			results[i] = TokenResult{Token: token, Status: StatusInvalid, Err: ErrInvalidToken}
			continue
		}
		results[i] = TokenResult{Token: token, Status: StatusOK}
	}
	p.logger.Info("push delivered", "type", n.Type, "title", n.Title, "tokens", len(tokens))
	return results, nil
}

var _ PushProvider = (*LogPushProvider)(nil)
