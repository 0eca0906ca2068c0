// Package generator turns a classified message and its retrieved knowledge
// into a grounded reply or a native tool call.
package generator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MikeSquared-Agency/concierge/internal/knowledge"
	"github.com/MikeSquared-Agency/concierge/internal/llm"
	"github.com/MikeSquared-Agency/concierge/internal/schema"
)

var outputSchema = schema.MustNew[modelOutput]()

type Config struct {
	Temperature  float64
	MaxTokens    int
	HistoryTurns int
	// Tools offers the native tool definitions to the backend.
	Tools bool
}

func DefaultConfig() Config {
	return Config{Temperature: 0.3, MaxTokens: 800, HistoryTurns: 3, Tools: true}
}

type Generator struct {
	chat   llm.ChatClient
	cfg    Config
	logger *slog.Logger
}

func New(chat llm.ChatClient, cfg Config, logger *slog.Logger) *Generator {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 800
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = 3
	}
	return &Generator{chat: chat, cfg: cfg, logger: logger}
}

// Generate always returns a well-formed Response. A failed structured
// attempt retries once as plain text; if that fails too, a static apology
// that asks for escalation is returned.
func (g *Generator) Generate(ctx context.Context, in Input) Response {
	resp, err := g.structured(ctx, in)
	if err == nil {
		generationsTotal.WithLabelValues(string(resp.Tier)).Inc()
		return resp
	}
	g.logger.Warn("structured generation failed, retrying as plain text",
		"kind", llm.KindOf(err),
		"error", err,
	)

	resp, err = g.plain(ctx, in)
	if err == nil {
		generationsTotal.WithLabelValues(string(TierPlainText)).Inc()
		return resp
	}
	g.logger.Warn("plain text generation failed, using static reply",
		"kind", llm.KindOf(err),
		"error", err,
	)
	generationsTotal.WithLabelValues(string(TierStatic)).Inc()
	return staticResponse(in)
}

func (g *Generator) structured(ctx context.Context, in Input) (Response, error) {
	req := llm.ChatRequest{
		System:      fmt.Sprintf(structuredSystemPrompt, businessName(in.Profile), tone(in.Profile), language(in.Profile), knowledgeBlock(in.Knowledge)),
		User:        structuredUser(in),
		History:     g.boundHistory(in.History),
		Temperature: g.cfg.Temperature,
		MaxTokens:   g.cfg.MaxTokens,
	}
	if g.cfg.Tools {
		req.Tools = ToolDefinitions()
	}

	out, err := g.chat.Chat(ctx, req)
	if err != nil {
		return Response{}, llm.NewGenerationError("generate", llm.KindBackend, err)
	}

	if len(out.ToolCalls) > 0 {
		if resp, ok := g.toolResponse(in, out.ToolCalls); ok {
			return resp, nil
		}
		return Response{}, llm.NewGenerationError("generate", llm.KindSchema, fmt.Errorf("no valid tool calls among %d", len(out.ToolCalls)))
	}

	raw := llm.ExtractJSONObject(out.Content)
	if raw == "" {
		return Response{}, llm.NewGenerationError("generate", llm.KindEmpty, nil)
	}
	parsed, err := schema.Decode[modelOutput](outputSchema, []byte(raw))
	if err != nil {
		return Response{}, llm.NewGenerationError("generate", llm.KindSchema, err)
	}
	reply := strings.TrimSpace(parsed.Reply)
	if reply == "" {
		return Response{}, llm.NewGenerationError("generate", llm.KindEmpty, nil)
	}

	used, dropped := FilterKnowledgeIDs(parsed.UsedKnowledgeIDs, in.Knowledge)
	if dropped > 0 {
		g.logger.Warn("dropped citations outside the retrieved set",
			"dropped", dropped,
			"cited", len(parsed.UsedKnowledgeIDs),
		)
	}

	return Response{
		Reply:              reply,
		Intent:             in.Intent.Intent,
		Confidence:         parsed.Confidence,
		UsedKnowledgeIDs:   used,
		DetectedCategories: dedupeStrings(parsed.DetectedCategories),
		NeedsClarification: parsed.NeedsClarification,
		SuggestedActions:   validActions(parsed.SuggestedActions),
		Tier:               TierStructured,
	}, nil
}

// toolResponse keeps the calls that pass their tool's parameter schema.
func (g *Generator) toolResponse(in Input, calls []llm.ToolCall) (Response, bool) {
	var valid []Call
	var actions []SuggestedAction
	for _, tc := range calls {
		c, err := ParseToolCall(tc)
		if err != nil {
			g.logger.Warn("dropping invalid tool call", "tool", tc.Name, "error", err)
			continue
		}
		valid = append(valid, c)
		actions = appendAction(actions, actionFor(c.Name))
	}
	if len(valid) == 0 {
		return Response{}, false
	}
	return Response{
		Reply:            ToolCallPlaceholder,
		Intent:           in.Intent.Intent,
		Confidence:       1.0,
		UsedKnowledgeIDs: []string{},
		SuggestedActions: actions,
		ToolCalls:        valid,
		Tier:             TierToolCall,
	}, true
}

func (g *Generator) plain(ctx context.Context, in Input) (Response, error) {
	out, err := g.chat.Chat(ctx, llm.ChatRequest{
		System:      fmt.Sprintf(plainSystemPrompt, businessName(in.Profile), language(in.Profile), knowledgeBlock(in.Knowledge)),
		User:        in.Message,
		Temperature: g.cfg.Temperature,
		MaxTokens:   g.cfg.MaxTokens,
	})
	if err != nil {
		return Response{}, llm.NewGenerationError("generate_plain", llm.KindBackend, err)
	}
	reply := llm.StripCodeFences(out.Content)
	if reply == "" {
		return Response{}, llm.NewGenerationError("generate_plain", llm.KindEmpty, nil)
	}
	return Response{
		Reply:              reply,
		Intent:             in.Intent.Intent,
		Confidence:         0.5,
		UsedKnowledgeIDs:   []string{},
		NeedsClarification: true,
		SuggestedActions:   []SuggestedAction{},
		Tier:               TierPlainText,
	}, nil
}

func staticResponse(in Input) Response {
	return Response{
		Reply:            staticApology,
		Intent:           in.Intent.Intent,
		Confidence:       0,
		UsedKnowledgeIDs: []string{},
		SuggestedActions: []SuggestedAction{ActionEscalateToHuman},
		Tier:             TierStatic,
	}
}

// FilterKnowledgeIDs keeps the ids present in retrieved, in citation order
// and without repeats, and reports how many citations were dropped.
func FilterKnowledgeIDs(cited []string, retrieved []knowledge.Retrieved) ([]string, int) {
	known := make(map[string]bool, len(retrieved))
	for _, r := range retrieved {
		known[r.ID] = true
	}
	out := make([]string, 0, len(cited))
	seen := make(map[string]bool, len(cited))
	dropped := 0
	for _, id := range cited {
		if !known[id] {
			dropped++
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, dropped
}

func (g *Generator) boundHistory(history []llm.Message) []llm.Message {
	if len(history) > g.cfg.HistoryTurns {
		return history[len(history)-g.cfg.HistoryTurns:]
	}
	return history
}

func structuredUser(in Input) string {
	var ambiguity, prefs string
	if in.Ambiguous {
		ambiguity = ambiguityNote
	}
	if p := strings.TrimSpace(in.CustomerPreferences); p != "" {
		prefs = fmt.Sprintf(preferencesNote, p)
	}
	return fmt.Sprintf(structuredUserPrompt, in.Intent.Intent, in.Intent.Confidence, ambiguity, prefs, in.Message)
}

func knowledgeBlock(items []knowledge.Retrieved) string {
	if len(items) == 0 {
		return noKnowledge
	}
	var sb strings.Builder
	for _, it := range items {
		fmt.Fprintf(&sb, "[%s] %s (%s): %s\n", it.ID, it.Name, it.Category, it.Content)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func businessName(p Profile) string {
	if p.BusinessName == "" {
		return "this business"
	}
	return p.BusinessName
}

func tone(p Profile) string {
	if p.Tone == "" {
		return "warm and concise"
	}
	return p.Tone
}

func language(p Profile) string {
	if p.Language == "" {
		return "the same language as the customer"
	}
	return p.Language
}

func validActions(raw []string) []SuggestedAction {
	out := []SuggestedAction{}
	for _, s := range raw {
		a := SuggestedAction(s)
		if a.Valid() {
			out = appendAction(out, a)
		}
	}
	return out
}

func appendAction(actions []SuggestedAction, a SuggestedAction) []SuggestedAction {
	for _, existing := range actions {
		if existing == a {
			return actions
		}
	}
	return append(actions, a)
}

func dedupeStrings(in []string) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
