package notify

import (
	"context"
	"errors"

	"github.com/Nabil201-ctrl/Healify-sub000/pkg/logging"
)

// MaxBatchSize is the largest token batch handed to a push provider.
const MaxBatchSize = 100

// TokenStatus is the per-device delivery outcome.
type TokenStatus string

const (
	StatusOK      TokenStatus = "ok"
	StatusInvalid TokenStatus = "invalid"
	StatusFailed  TokenStatus = "failed"
)

// ErrInvalidToken marks a token the provider will never accept again.
var ErrInvalidToken = errors.New("notify: invalid push token")

// TokenResult is the outcome for one device token.
type TokenResult struct {
	Token  string
	Status TokenStatus
	Err    error
}

// PushProvider delivers a notification to a batch of device tokens. It
// returns one result per token, in order.
type PushProvider interface {
	SendBatch(ctx context.Context, tokens []string, n Notification) ([]TokenResult, error)
}

// Report summarizes a dispatch.
type Report struct {
	Results []TokenResult
}

func (r Report) count(status TokenStatus) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == status {
			n++
		}
	}
	return n
}

func (r Report) Delivered() int { return r.count(StatusOK) }
func (r Report) Failed() int    { return r.count(StatusFailed) }

// Invalid lists tokens that should be pruned from the user's devices.
func (r Report) Invalid() []string {
	var out []string
	for _, res := range r.Results {
		if res.Status == StatusInvalid {
			out = append(out, res.Token)
		}
	}
	return out
}

// Dispatcher fans a notification out to device tokens in provider-sized batches.
type Dispatcher struct {
	provider PushProvider
	logger   *logging.Logger
}

func NewDispatcher(provider PushProvider, logger *logging.Logger) *Dispatcher {
	if provider == nil {
		panic("notify: push provider cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{provider: provider, logger: logger}
}

// Dispatch sends n to every token. A failing batch marks its tokens failed
// and does not stop later batches.
func (d *Dispatcher) Dispatch(ctx context.Context, tokens []string, n Notification) Report {
	var report Report
	for start := 0; start < len(tokens); start += MaxBatchSize {
		end := start + MaxBatchSize
		if end > len(tokens) {
			end = len(tokens)
		}
		batch := tokens[start:end]

		results, err := d.provider.SendBatch(ctx, batch, n)
		if err != nil || len(results) != len(batch) {
			if err == nil {
				err = errors.New("notify: provider returned mismatched results")
			}
			d.logger.Warn("push batch failed", "type", n.Type, "batch_size", len(batch), "error", err)
			for _, token := range batch {
				report.Results = append(report.Results, TokenResult{Token: token, Status: StatusFailed, Err: err})
			}
			continue
		}
		report.Results = append(report.Results, results...)
	}
	return report
}
