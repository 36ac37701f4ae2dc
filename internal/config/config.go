package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration shared by the API and worker processes.
type Config struct {
	Port           string
	Env            string
	LogLevel       string
	UseMemoryQueue bool
	Prefetch       int
	DatabaseURL    string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Queue names; the SQS broker resolves them to URLs.
	ChatRequestQueue   string
	ContextRPCQueue    string
	ContextEventQueue  string
	HealthSyncQueue    string
	NotificationQueue  string
	TokenPruneQueue    string
	TurnLedgerTable    string
	ArchiveBucket      string
	ContextRPCTimeout  time.Duration
	AIProviderTimeout  time.Duration
	HighHeartRateLimit float64

	BedrockModelID string
	GeminiAPIKey   string
	GeminiModelID  string
	OpenAIAPIKey   string
	OpenAIModelID  string

	// SSMParameterPrefix, when set, fills empty secrets from Parameter Store.
	SSMParameterPrefix string

	AnonymizationSalt string
	JWTSecret         string

	CORSAllowedOrigins []string
	ChatRateLimit      float64
	ChatRateBurst      int

	// Reviewer email copies
	EmailProvider     string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string
}

// Load reads configuration from environment variables. A .env file in the
// working directory is applied first when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		UseMemoryQueue: getEnvAsBool("USE_MEMORY_QUEUE", false),
		Prefetch:       getEnvAsInt("QUEUE_PREFETCH", 10),
		DatabaseURL:    getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		ChatRequestQueue:   getEnv("CHAT_REQUEST_QUEUE", "chat_requests"),
		ContextRPCQueue:    getEnv("CONTEXT_RPC_QUEUE", "health_context_rpc"),
		ContextEventQueue:  getEnv("CONTEXT_EVENT_QUEUE", "health_context_events"),
		HealthSyncQueue:    getEnv("HEALTH_SYNC_QUEUE", "health_sync"),
		NotificationQueue:  getEnv("NOTIFICATION_QUEUE", "notifications"),
		TokenPruneQueue:    getEnv("TOKEN_PRUNE_QUEUE", "push_token_prune"),
		TurnLedgerTable:    getEnv("TURN_LEDGER_TABLE", "chat_turns"),
		ArchiveBucket:      getEnv("ARCHIVE_BUCKET", ""),
		ContextRPCTimeout:  getEnvAsDuration("CONTEXT_RPC_TIMEOUT", 2000*time.Millisecond),
		AIProviderTimeout:  getEnvAsDuration("AI_PROVIDER_TIMEOUT", 30*time.Second),
		HighHeartRateLimit: getEnvAsFloat("HIGH_HEART_RATE_BPM", 100),

		BedrockModelID: getEnv("BEDROCK_MODEL_ID", ""),
		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:  getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),
		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
		OpenAIModelID:  getEnv("OPENAI_MODEL_ID", "gpt-4o-mini"),

		SSMParameterPrefix: strings.TrimRight(getEnv("SSM_PARAMETER_PREFIX", ""), "/"),

		AnonymizationSalt: getEnv("ANONYMIZATION_SALT", ""),
		JWTSecret:         getEnv("JWT_SECRET", ""),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		ChatRateLimit:      getEnvAsFloat("CHAT_RATE_LIMIT", 1),
		ChatRateBurst:      getEnvAsInt("CHAT_RATE_BURST", 5),

		EmailProvider:     strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "none"))),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Healify"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated variable, dropping blank entries.
func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
