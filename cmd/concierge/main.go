package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/MikeSquared-Agency/concierge/internal/anthropic"
	"github.com/MikeSquared-Agency/concierge/internal/api"
	"github.com/MikeSquared-Agency/concierge/internal/config"
	"github.com/MikeSquared-Agency/concierge/internal/dedup"
	"github.com/MikeSquared-Agency/concierge/internal/escalation"
	"github.com/MikeSquared-Agency/concierge/internal/extractor"
	"github.com/MikeSquared-Agency/concierge/internal/gaps"
	"github.com/MikeSquared-Agency/concierge/internal/generator"
	"github.com/MikeSquared-Agency/concierge/internal/hermes"
	"github.com/MikeSquared-Agency/concierge/internal/intent"
	"github.com/MikeSquared-Agency/concierge/internal/knowledge"
	"github.com/MikeSquared-Agency/concierge/internal/llm"
	"github.com/MikeSquared-Agency/concierge/internal/lock"
	"github.com/MikeSquared-Agency/concierge/internal/openai"
	"github.com/MikeSquared-Agency/concierge/internal/orchestrator"
	"github.com/MikeSquared-Agency/concierge/internal/processor"
	"github.com/MikeSquared-Agency/concierge/internal/slack"
	"github.com/MikeSquared-Agency/concierge/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	setupLogging(cfg.LogLevel)
	logger := slog.Default()

	logger.Info("concierge starting", "port", cfg.Port, "llm_provider", cfg.LLMProvider)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	if cfg.DatabaseURL == "" {
		fatal("DATABASE_URL is required")
	}
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		fatal("failed to connect to database", "error", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		fatal("failed to migrate database", "error", err)
	}
	logger.Info("database connected")

	// LLM backends
	ai, err := newLLM(cfg, logger)
	if err != nil {
		fatal("failed to configure LLM", "error", err)
	}

	// Locks
	locker, closeLocker := newLocker(ctx, cfg.RedisURL, logger)
	defer closeLocker()

	// Pipeline
	p := cfg.Pipeline
	retCfg := knowledge.DefaultRetrieverConfig()
	retCfg.SimilarityFloor = p.SimilarityFloor
	retCfg.HybridFloor = p.HybridFloor
	retCfg.Limit = p.RetrievalLimit
	retriever := knowledge.NewRetriever(db, ai, retCfg, logger)
	classifier := intent.NewClassifier(ai, logger)
	genCfg := generator.DefaultConfig()
	genCfg.HistoryTurns = p.HistoryTurns
	gen := generator.New(ai, genCfg, logger)
	orch := orchestrator.New(db, classifier, retriever, gen, orchestrator.Config{
		EscalationThreshold: p.EscalationThreshold,
		HistoryTurns:        p.HistoryTurns,
	}, logger)

	extCfg := extractor.DefaultConfig()
	extCfg.DedupThreshold = p.DedupThreshold
	ext := extractor.New(ai, ai, db, locker, extCfg, logger)
	escalations := escalation.NewManager(ai, db, locker, logger)

	// NATS/Hermes
	bus, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, logger)
	if err != nil {
		fatal("failed to connect to NATS", "error", err)
	}
	defer bus.Close()
	logger.Info("NATS connected", "url", cfg.NatsURL)

	// Slack poster (optional; without it there is no seller review loop)
	var notifier processor.Notifier
	if cfg.SlackBotToken != "" && cfg.SlackChannel != "" {
		notifier = slack.NewPoster(cfg.SlackBotToken, cfg.SlackChannel, logger)
		logger.Info("slack poster ready", "channel", cfg.SlackChannel)
	} else {
		logger.Warn("slack not configured, running without seller notifications")
	}

	proc := processor.New(db, orch, escalations, ext, bus, notifier, logger)
	proc.SetConfirmer(classifier)

	subscriptions := []struct {
		subject string
		handler func(string, []byte)
	}{
		{hermes.SubjectInteractionReceived, proc.HandleInboundMessage},
		{hermes.SubjectSellerReply, proc.HandleSellerReply},
		{hermes.SubjectSlackReaction, proc.HandleReaction},
		{hermes.SubjectSlackInteraction, proc.HandleSlackAction},
	}
	for _, sub := range subscriptions {
		if err := bus.Subscribe(sub.subject, sub.handler); err != nil {
			fatal("failed to subscribe", "subject", sub.subject, "error", err)
		}
	}

	// HTTP API
	srv := api.NewServer(cfg.Port, cfg.APIToken, api.Deps{
		Store:        db,
		Orchestrator: orch,
		Resolver:     proc,
		Gaps:         gaps.NewDetector(db, ai, logger),
		GapPublisher: gaps.NewPublisher(bus),
		Sweeper:      dedup.NewSweeper(db, logger),
		BusConnected: bus.Connected,
	}, logger)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	logger.Info("concierge ready", "port", cfg.Port)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown error", "error", err)
	}
	cancel()
	logger.Info("concierge stopped")
}

// newLLM builds the chat backend named by LLM_PROVIDER plus the OpenAI
// embedder, wrapped with retries, circuit breaking and per-tenant limits.
func newLLM(cfg config.Config, logger *slog.Logger) (*llm.Resilient, error) {
	oai := openai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIChatModel, cfg.EmbeddingModel)
	if cfg.OpenAIAPIKey == "" && cfg.OpenAIBaseURL == "" {
		logger.Warn("OPENAI_API_KEY not set, embeddings will fail and retrieval will degrade")
	}

	var chat llm.ChatClient
	switch cfg.LLMProvider {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return nil, errors.New("ANTHROPIC_API_KEY is required")
		}
		chat = anthropic.NewClient(cfg.AnthropicAPIKey, cfg.AnthropicModel)
		logger.Info("anthropic client ready", "model", cfg.AnthropicModel)
	case "openai":
		chat = oai
		logger.Info("openai chat client ready", "model", cfg.OpenAIChatModel)
	default:
		return nil, fmt.Errorf("unknown LLM_PROVIDER %q (want anthropic or openai)", cfg.LLMProvider)
	}

	rc := llm.DefaultResilienceConfig()
	rc.MaxRetries = cfg.LLMMaxRetries
	rc.Timeout = cfg.LLMTimeout
	rc.RatePerSecond = cfg.LLMRatePerSecond
	rc.Burst = cfg.LLMBurst
	return llm.NewResilient(chat, oai, cfg.LLMProvider, rc, logger), nil
}

// newLocker uses Redis when REDIS_URL is set so several replicas share
// locks; otherwise locks are in-process.
func newLocker(ctx context.Context, redisURL string, logger *slog.Logger) (lock.Locker, func()) {
	if redisURL == "" {
		logger.Warn("REDIS_URL not set, using in-process locks")
		return lock.NewLocal(), func() {}
	}
	client, err := lock.Dial(ctx, redisURL)
	if err != nil {
		fatal("failed to connect to redis", "error", err)
	}
	logger.Info("redis connected")
	return lock.NewRedis(client, lock.RedisOptions{}, logger), func() { _ = client.Close() }
}

func fatal(msg string, args ...any) {
	slog.Error(msg, args...)
	os.Exit(1)
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
