// Package secrets fills credentials from AWS Systems Manager Parameter Store.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"

	appconfig "github.com/Nabil201-ctrl/Healify-sub000/internal/config"
	"github.com/Nabil201-ctrl/Healify-sub000/pkg/logging"
)

type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// ErrNotFound is returned for a parameter that does not exist.
var ErrNotFound = errors.New("secrets: parameter not found")

// ParamStore reads decrypted parameters.
type ParamStore struct {
	api ssmAPI
}

func NewParamStore(api ssmAPI) *ParamStore {
	if api == nil {
		panic("secrets: ssm client cannot be nil")
	}
	return &ParamStore{api: api}
}

// Get returns the decrypted value of name.
func (p *ParamStore) Get(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("secrets: name is required")
	}
	withDecryption := true
	out, err := p.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		var nf *ssmtypes.ParameterNotFound
		if errors.As(err, &nf) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", fmt.Errorf("secrets: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("secrets: parameter %q has no value", name)
	}
	return *out.Parameter.Value, nil
}

// Apply fills every empty secret field of cfg from prefix/<name>. Values
// already set in the environment win. Missing parameters are skipped; any
// other read failure is returned.
func (p *ParamStore) Apply(ctx context.Context, cfg *appconfig.Config, prefix string, logger *logging.Logger) error {
	if logger == nil {
		logger = logging.Default()
	}
	fields := []struct {
		name string
		dst  *string
	}{
		{"jwt-secret", &cfg.JWTSecret},
		{"anonymization-salt", &cfg.AnonymizationSalt},
		{"database-url", &cfg.DatabaseURL},
		{"redis-password", &cfg.RedisPassword},
		{"gemini-api-key", &cfg.GeminiAPIKey},
		{"openai-api-key", &cfg.OpenAIAPIKey},
		{"sendgrid-api-key", &cfg.SendGridAPIKey},
	}
	loaded := 0
	for _, f := range fields {
		if *f.dst != "" {
			continue
		}
		value, err := p.Get(ctx, prefix+"/"+f.name)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		*f.dst = value
		loaded++
	}
	logger.Info("secrets loaded from parameter store", "prefix", prefix, "count", loaded)
	return nil
}
