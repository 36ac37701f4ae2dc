package bootstrap

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/Nabil201-ctrl/Healify-sub000/internal/ai"
	appconfig "github.com/Nabil201-ctrl/Healify-sub000/internal/config"
	"github.com/Nabil201-ctrl/Healify-sub000/pkg/logging"
)

type namedClient struct {
	name   string
	model  string
	client ai.LLMClient
}

// BuildAIProvider chains the configured LLM backends in the order Bedrock,
// OpenAI, Gemini; each later backend is the fallback of the one before. With
// none configured the rule-based symptom checker is used. The returned closer
// releases the Gemini client.
func BuildAIProvider(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (ai.Provider, func()) {
	if logger == nil {
		logger = logging.Default()
	}
	closer := func() {}

	var chain []namedClient
	if model := strings.TrimSpace(cfg.BedrockModelID); model != "" {
		chain = append(chain, namedClient{"bedrock", model, ai.NewBedrockClient(bedrockruntime.NewFromConfig(awsCfg))})
	}
	if strings.TrimSpace(cfg.OpenAIAPIKey) != "" {
		client, err := ai.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModelID)
		if err != nil {
			logger.Warn("openai client unavailable", "error", err)
		} else {
			chain = append(chain, namedClient{"openai", cfg.OpenAIModelID, client})
		}
	}
	if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		gemini, err := ai.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			logger.Warn("gemini client unavailable", "error", err)
		} else {
			chain = append(chain, namedClient{"gemini", cfg.GeminiModelID, gemini})
			closer = func() { _ = gemini.Close() }
		}
	}

	if len(chain) == 0 {
		logger.Warn("no LLM configured; using rule-based symptom checker")
		return ai.NewSymptomChecker(), closer
	}

	client := chain[len(chain)-1].client
	for i := len(chain) - 2; i >= 0; i-- {
		client = ai.NewFallbackClient(chain[i].client, client, logger)
	}
	names := make([]string, len(chain))
	for i, c := range chain {
		names[i] = c.name
	}
	logger.Info("using LLM provider", "chain", strings.Join(names, ","), "model", chain[0].model)
	return ai.NewLLMProvider(client, chain[0].model, logger), closer
}
