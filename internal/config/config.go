package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port        int
	NatsURL     string
	NatsToken   string
	DatabaseURL string
	RedisURL    string
	LogLevel    string
	APIToken    string

	LLMProvider     string
	AnthropicAPIKey string
	AnthropicModel  string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	OpenAIChatModel string
	EmbeddingModel  string

	LLMTimeout       time.Duration
	LLMMaxRetries    int
	LLMRatePerSecond float64
	LLMBurst         int

	SlackBotToken string
	SlackChannel  string

	Pipeline Pipeline
}

// Pipeline holds the scoring and retrieval constants shared by the
// orchestration stages.
type Pipeline struct {
	EscalationThreshold float64
	DedupThreshold      float64
	SimilarityFloor     float64
	HybridFloor         float64
	RetrievalLimit      int
	HistoryTurns        int
}

func Load() Config {
	return Config{
		Port:        envInt("CONCIERGE_PORT", 8760),
		NatsURL:     envStr("NATS_URL", "nats://hermes:4222"),
		NatsToken:   envStr("NATS_TOKEN", ""),
		DatabaseURL: envStr("DATABASE_URL", ""),
		RedisURL:    envStr("REDIS_URL", ""),
		LogLevel:    envStr("LOG_LEVEL", "info"),
		APIToken:    envStr("CONCIERGE_API_TOKEN", ""),

		LLMProvider:     envStr("LLM_PROVIDER", "anthropic"),
		AnthropicAPIKey: envStr("ANTHROPIC_API_KEY", ""),
		AnthropicModel:  envStr("CONCIERGE_MODEL", "claude-sonnet-4-20250514"),
		OpenAIAPIKey:    envStr("OPENAI_API_KEY", ""),
		OpenAIBaseURL:   envStr("OPENAI_BASE_URL", ""),
		OpenAIChatModel: envStr("OPENAI_CHAT_MODEL", "gpt-4o-mini"),
		EmbeddingModel:  envStr("EMBEDDING_MODEL", "text-embedding-3-small"),

		LLMTimeout:       envDuration("LLM_TIMEOUT", 30*time.Second),
		LLMMaxRetries:    envInt("LLM_MAX_RETRIES", 2),
		LLMRatePerSecond: envFloat("LLM_RATE_PER_SECOND", 5),
		LLMBurst:         envInt("LLM_BURST", 10),

		SlackBotToken: envStr("SLACK_BOT_TOKEN", ""),
		SlackChannel:  envStr("SLACK_ESCALATIONS_CHANNEL", ""),

		Pipeline: Pipeline{
			EscalationThreshold: envFloat("ESCALATION_THRESHOLD", 0.75),
			DedupThreshold:      envFloat("DEDUP_THRESHOLD", 0.85),
			SimilarityFloor:     envFloat("SIMILARITY_FLOOR", 0.5),
			HybridFloor:         envFloat("HYBRID_FLOOR", 0.4),
			RetrievalLimit:      envInt("RETRIEVAL_LIMIT", 5),
			HistoryTurns:        envInt("HISTORY_TURNS", 3),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
