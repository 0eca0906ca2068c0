package intent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MikeSquared-Agency/concierge/internal/llm"
	"github.com/MikeSquared-Agency/concierge/internal/schema"
)

const (
	maxHistoryTurns = 6
	previewRunes    = 120
	classifyTokens  = 200
	confirmTokens   = 20
)

var (
	resultSchema = schema.MustNew[Result]()
	answerSchema = schema.MustNew[answerPayload]()
)

type Classifier struct {
	chat   llm.ChatClient
	logger *slog.Logger
}

func NewClassifier(chat llm.ChatClient, logger *slog.Logger) *Classifier {
	return &Classifier{chat: chat, logger: logger}
}

// Classify labels message. It never fails: any backend, parse or schema
// problem yields Fallback().
func (c *Classifier) Classify(ctx context.Context, message string, history []llm.Message) Result {
	res, err := c.classify(ctx, message, history)
	if err != nil {
		c.logger.Warn("intent classification fell back",
			"kind", llm.KindOf(err),
			"error", err,
		)
		return Fallback()
	}
	return res
}

func (c *Classifier) classify(ctx context.Context, message string, history []llm.Message) (Result, error) {
	resp, err := c.chat.Chat(ctx, llm.ChatRequest{
		System:      classifySystemPrompt,
		User:        fmt.Sprintf(classifyUserPrompt, compressHistory(history), message),
		Temperature: 0,
		MaxTokens:   classifyTokens,
	})
	if err != nil {
		return Result{}, llm.NewGenerationError("intent", llm.KindBackend, err)
	}

	raw := llm.ExtractJSONObject(resp.Content)
	if raw == "" {
		return Result{}, llm.NewGenerationError("intent", llm.KindEmpty, nil)
	}
	res, err := schema.Decode[Result](resultSchema, []byte(raw))
	if err != nil {
		return Result{}, llm.NewGenerationError("intent", llm.KindSchema, err)
	}
	if !res.Intent.Valid() {
		return Result{}, llm.NewGenerationError("intent", llm.KindSchema, fmt.Errorf("unknown intent %q", res.Intent))
	}
	return res, nil
}

// ClassifyConfirmation parses a free-form reply to a yes/no question.
func (c *Classifier) ClassifyConfirmation(ctx context.Context, question, message string) Answer {
	resp, err := c.chat.Chat(ctx, llm.ChatRequest{
		System:      confirmationSystemPrompt,
		User:        fmt.Sprintf(confirmationUserPrompt, question, message),
		Temperature: 0,
		MaxTokens:   confirmTokens,
	})
	if err != nil {
		c.logger.Warn("confirmation classification failed", "error", err)
		return AnswerUnknown
	}
	p, err := schema.Decode[answerPayload](answerSchema, []byte(llm.ExtractJSONObject(resp.Content)))
	if err != nil {
		c.logger.Warn("confirmation response invalid", "error", err, "raw", resp.Content)
		return AnswerUnknown
	}
	return p.Answer
}

// compressHistory keeps the last maxHistoryTurns turns as one-line previews.
func compressHistory(history []llm.Message) string {
	if len(history) == 0 {
		return "(none)"
	}
	if len(history) > maxHistoryTurns {
		history = history[len(history)-maxHistoryTurns:]
	}
	var sb strings.Builder
	for _, m := range history {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, llm.Preview(m.Content, previewRunes))
	}
	return strings.TrimRight(sb.String(), "\n")
}
