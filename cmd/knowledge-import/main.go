package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/concierge/internal/anthropic"
	"github.com/MikeSquared-Agency/concierge/internal/config"
	"github.com/MikeSquared-Agency/concierge/internal/extractor"
	"github.com/MikeSquared-Agency/concierge/internal/importer"
	"github.com/MikeSquared-Agency/concierge/internal/llm"
	"github.com/MikeSquared-Agency/concierge/internal/lock"
	"github.com/MikeSquared-Agency/concierge/internal/openai"
	"github.com/MikeSquared-Agency/concierge/internal/slack"
	"github.com/MikeSquared-Agency/concierge/internal/store"
)

type options struct {
	workspace  string
	file       string
	statePath  string
	maxChars   int
	batchSize  int
	batchPause time.Duration
	dryRun     bool
	notify     bool
}

func (o options) validate() error {
	if strings.TrimSpace(o.workspace) == "" {
		return errors.New("--workspace is required")
	}
	if strings.TrimSpace(o.file) == "" {
		return errors.New("--file is required")
	}
	if o.maxChars < 200 {
		return fmt.Errorf("--max-chars must be at least 200, got %d", o.maxChars)
	}
	if o.batchSize <= 0 {
		return fmt.Errorf("--batch-size must be positive, got %d", o.batchSize)
	}
	return nil
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(run).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(runFn func(ctx context.Context, o options, out io.Writer) error) *cobra.Command {
	var o options
	cmd := &cobra.Command{
		Use:   "knowledge-import",
		Short: "Import a seller document into a workspace's knowledge base",
		Long: "Splits the document into sections, extracts knowledge from each one, " +
			"drops duplicates and stores the rest. Interrupted runs resume from the state file.",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.validate(); err != nil {
				return err
			}
			return runFn(cmd.Context(), o, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&o.workspace, "workspace", "", "workspace id to import into")
	cmd.Flags().StringVar(&o.file, "file", "", "path to the seller document (markdown, plain text or HTML)")
	cmd.Flags().StringVar(&o.statePath, "state", "", "state file (default ~/.concierge/import/<workspace>.json)")
	cmd.Flags().IntVar(&o.maxChars, "max-chars", importer.DefaultMaxChars, "maximum characters per section")
	cmd.Flags().IntVar(&o.batchSize, "batch-size", 10, "sections between state saves")
	cmd.Flags().DurationVar(&o.batchPause, "pause", 0, "pause after each batch, e.g. 30s")
	cmd.Flags().BoolVar(&o.dryRun, "dry-run", false, "extract only, write nothing")
	cmd.Flags().BoolVar(&o.notify, "notify", true, "post the summary to Slack when configured")
	return cmd
}

func run(ctx context.Context, o options, out io.Writer) error {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)
	logger := slog.Default()

	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return err
	}

	ai, err := newLLM(cfg, logger)
	if err != nil {
		return err
	}

	var locker lock.Locker = lock.NewLocal()
	if cfg.RedisURL != "" {
		client, err := lock.Dial(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		locker = lock.NewRedis(client, lock.RedisOptions{}, logger)
	}

	extCfg := extractor.DefaultConfig()
	extCfg.DedupThreshold = cfg.Pipeline.DedupThreshold
	ext := extractor.New(ai, ai, db, locker, extCfg, logger)

	var notifier importer.Notifier
	if o.notify && cfg.SlackBotToken != "" && cfg.SlackChannel != "" {
		notifier = slack.NewPoster(cfg.SlackBotToken, cfg.SlackChannel, logger)
	}

	runner := importer.NewRunner(importer.Config{
		WorkspaceID: o.workspace,
		File:        o.file,
		StatePath:   o.statePath,
		MaxChars:    o.maxChars,
		DryRun:      o.dryRun,
		BatchSize:   o.batchSize,
		BatchPause:  o.batchPause,
	}, ext, notifier, logger)

	sum, err := runner.Run(ctx)
	if sum != nil {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		_ = enc.Encode(sum)
	}
	return err
}

func newLLM(cfg config.Config, logger *slog.Logger) (*llm.Resilient, error) {
	oai := openai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIChatModel, cfg.EmbeddingModel)

	var chat llm.ChatClient
	switch cfg.LLMProvider {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return nil, errors.New("ANTHROPIC_API_KEY is required")
		}
		chat = anthropic.NewClient(cfg.AnthropicAPIKey, cfg.AnthropicModel)
	case "openai":
		chat = oai
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
	// Logs go to stderr so stdout carries only the JSON summary.
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
