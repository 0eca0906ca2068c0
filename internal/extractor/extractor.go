package extractor

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/concierge/internal/dedup"
	"github.com/MikeSquared-Agency/concierge/internal/knowledge"
	"github.com/MikeSquared-Agency/concierge/internal/llm"
	"github.com/MikeSquared-Agency/concierge/internal/lock"
	"github.com/MikeSquared-Agency/concierge/internal/schema"
)

var responseSchema = schema.MustNew[llmResponse]()

type Config struct {
	DedupThreshold    float64
	VerifiedThreshold float64
	Temperature       float64
	MaxTokens         int
	EmbedConcurrency  int
}

func DefaultConfig() Config {
	return Config{
		DedupThreshold:    dedup.DefaultThreshold,
		VerifiedThreshold: 0.75,
		Temperature:       0.2,
		MaxTokens:         1500,
		EmbedConcurrency:  4,
	}
}

type Extractor struct {
	chat     llm.ChatClient
	embedder llm.Embedder
	store    knowledge.Store
	locker   lock.Locker
	cfg      Config
	logger   *slog.Logger
}

func New(chat llm.ChatClient, embedder llm.Embedder, store knowledge.Store, locker lock.Locker, cfg Config, logger *slog.Logger) *Extractor {
	if cfg.DedupThreshold <= 0 {
		cfg.DedupThreshold = dedup.DefaultThreshold
	}
	if cfg.VerifiedThreshold <= 0 {
		cfg.VerifiedThreshold = 0.75
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1500
	}
	if cfg.EmbedConcurrency <= 0 {
		cfg.EmbedConcurrency = 4
	}
	return &Extractor{chat: chat, embedder: embedder, store: store, locker: locker, cfg: cfg, logger: logger}
}

// Extract turns seller text into knowledge candidates. If the model call or
// its output fails, the whole text is kept as one low-confidence general
// candidate so seller-provided knowledge is never lost.
func (e *Extractor) Extract(ctx context.Context, text, contextNote string) []knowledge.ExtractedKnowledge {
	text = strings.TrimSpace(text)
	if text == "" {
		extractionsTotal.WithLabelValues("empty").Inc()
		return nil
	}
	if contextNote == "" {
		contextNote = "(none)"
	}

	items, err := e.extract(ctx, text, contextNote)
	if err != nil {
		extractionsTotal.WithLabelValues("fallback").Inc()
		e.logger.Warn("knowledge extraction fell back to raw text",
			"kind", llm.KindOf(err),
			"error", err,
		)
		return []knowledge.ExtractedKnowledge{e.rawCandidate(text)}
	}

	out := make([]knowledge.ExtractedKnowledge, 0, len(items))
	for _, c := range items {
		out = append(out, knowledge.ExtractedKnowledge{
			Type:                    c.Type,
			Name:                    strings.TrimSpace(c.Name),
			Content:                 strings.TrimSpace(c.Content),
			Metadata:                c.Metadata,
			Confidence:              c.Confidence,
			NeedsSellerConfirmation: c.Confidence < e.cfg.VerifiedThreshold,
		})
	}
	extractionsTotal.WithLabelValues("ok").Inc()
	e.logger.Info("knowledge extracted", "candidates", len(out), "text_len", len(text))
	return out
}

func (e *Extractor) extract(ctx context.Context, text, contextNote string) ([]candidate, error) {
	resp, err := e.chat.Chat(ctx, llm.ChatRequest{
		System:      systemPrompt,
		User:        fmt.Sprintf(extractionUserPrompt, contextNote, text),
		Temperature: e.cfg.Temperature,
		MaxTokens:   e.cfg.MaxTokens,
	})
	if err != nil {
		return nil, llm.NewGenerationError("extract", llm.KindBackend, err)
	}
	raw := llm.ExtractJSONObject(resp.Content)
	if raw == "" {
		return nil, llm.NewGenerationError("extract", llm.KindEmpty, nil)
	}
	parsed, err := schema.Decode[llmResponse](responseSchema, []byte(raw))
	if err != nil {
		return nil, llm.NewGenerationError("extract", llm.KindSchema, err)
	}
	return parsed.Items, nil
}

func (e *Extractor) rawCandidate(text string) knowledge.ExtractedKnowledge {
	return knowledge.ExtractedKnowledge{
		Type:                    knowledge.TypeGeneral,
		Name:                    llm.Preview(text, 60),
		Content:                 text,
		Confidence:              0.5,
		NeedsSellerConfirmation: 0.5 < e.cfg.VerifiedThreshold,
	}
}

// dedupCandidates is how many neighbours the duplicate check reads. The
// vector index is approximate, so its first row is not always the nearest.
const dedupCandidates = 5

// closest returns the match with the highest similarity.
func closest(matches []knowledge.Match) (knowledge.Match, bool) {
	if len(matches) == 0 {
		return knowledge.Match{}, false
	}
	best := matches[0]
	for _, m := range matches[1:] {
		if m.Similarity > best.Similarity {
			best = m
		}
	}
	return best, true
}

// Persist embeds each candidate, drops duplicates and stores the rest.
// Writes for one workspace are serialised so two concurrent runs cannot
// both insert near-identical items. Store failures are returned.
func (e *Extractor) Persist(ctx context.Context, workspaceID, sourceID string, candidates []knowledge.ExtractedKnowledge) (*Outcome, error) {
	if workspaceID == "" {
		return nil, knowledge.ErrTenantRequired
	}
	out := &Outcome{}
	if len(candidates) == 0 {
		return out, nil
	}

	vectors := e.embedAll(ctx, workspaceID, candidates)
	keep := e.collapseBatch(candidates, vectors, out)

	unlock, err := e.locker.Lock(ctx, lock.TenantKey(workspaceID))
	if err != nil {
		return nil, fmt.Errorf("lock workspace knowledge: %w", err)
	}
	defer unlock()

	for _, i := range keep {
		c := candidates[i]
		vec := vectors[i]

		if vec == nil {
			out.Unembedded++
		} else {
			matches, err := e.store.Search(ctx, workspaceID, vec, dedupCandidates)
			if err != nil {
				return out, fmt.Errorf("search existing knowledge: %w", err)
			}
			if best, ok := closest(matches); ok && best.Similarity > e.cfg.DedupThreshold {
				candidatesTotal.WithLabelValues("duplicate").Inc()
				e.logger.Info("skipping duplicate knowledge",
					"workspace_id", workspaceID,
					"name", c.Name,
					"existing_id", best.Item.ID,
					"similarity", best.Similarity,
				)
				out.Duplicates = append(out.Duplicates, Duplicate{
					Candidate:  c,
					ExistingID: best.Item.ID,
					Similarity: best.Similarity,
				})
				continue
			}
		}

		item, err := e.store.Insert(ctx, e.toItem(workspaceID, sourceID, c, vec))
		if err != nil {
			return out, fmt.Errorf("insert knowledge %q: %w", c.Name, err)
		}
		candidatesTotal.WithLabelValues("stored").Inc()
		out.Stored = append(out.Stored, item)
	}

	e.logger.Info("knowledge persisted",
		"workspace_id", workspaceID,
		"source_id", sourceID,
		"stored", len(out.Stored),
		"duplicates", len(out.Duplicates),
		"unembedded", out.Unembedded,
	)
	return out, nil
}

// Process runs Extract then Persist.
func (e *Extractor) Process(ctx context.Context, workspaceID, sourceID, text, contextNote string) ([]knowledge.ExtractedKnowledge, *Outcome, error) {
	candidates := e.Extract(llm.WithTenant(ctx, workspaceID), text, contextNote)
	out, err := e.Persist(llm.WithTenant(ctx, workspaceID), workspaceID, sourceID, candidates)
	return candidates, out, err
}

// embedAll embeds candidates in parallel. A failed embedding leaves a nil
// vector; that candidate is stored without dedup.
func (e *Extractor) embedAll(ctx context.Context, workspaceID string, candidates []knowledge.ExtractedKnowledge) [][]float32 {
	vectors := make([][]float32, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.EmbedConcurrency)
	for i, c := range candidates {
		g.Go(func() error {
			vec, err := e.embedder.Embed(gctx, EmbeddingText(c.Name, c.Content))
			if err != nil {
				e.logger.Warn("candidate embedding failed, storing without dedup",
					"workspace_id", workspaceID,
					"name", c.Name,
					"error", err,
				)
				return nil
			}
			vectors[i] = vec
			return nil
		})
	}
	_ = g.Wait()
	return vectors
}

// collapseBatch keeps one survivor per cluster of near-identical candidates
// and returns the indexes to persist, in input order.
func (e *Extractor) collapseBatch(candidates []knowledge.ExtractedKnowledge, vectors [][]float32, out *Outcome) []int {
	pairs := dedup.FindPairs(vectors, e.cfg.DedupThreshold)
	if len(pairs) == 0 {
		keep := make([]int, len(candidates))
		for i := range keep {
			keep[i] = i
		}
		return keep
	}

	dropped := make(map[int]bool)
	for _, cluster := range dedup.ClusterPairs(pairs) {
		records := make([]dedup.Record, 0, len(cluster))
		for _, idx := range cluster {
			c := candidates[idx]
			records = append(records, dedup.Record{
				ID:         strconv.Itoa(idx),
				Confidence: c.Confidence,
				Content:    c.Content,
			})
		}
		survivor, err := dedup.PickSurvivor(records)
		if err != nil {
			continue
		}
		winner, _ := strconv.Atoi(survivor.ID)
		for _, idx := range cluster {
			if idx == winner {
				continue
			}
			dropped[idx] = true
			candidatesTotal.WithLabelValues("batch_duplicate").Inc()
			out.Duplicates = append(out.Duplicates, Duplicate{
				Candidate:  candidates[idx],
				Similarity: dedup.Cosine(vectors[idx], vectors[winner]),
			})
		}
	}

	keep := make([]int, 0, len(candidates)-len(dropped))
	for i := range candidates {
		if !dropped[i] {
			keep = append(keep, i)
		}
	}
	return keep
}

func (e *Extractor) toItem(workspaceID, sourceID string, c knowledge.ExtractedKnowledge, vec []float32) knowledge.Item {
	meta := make(map[string]any, len(c.Metadata)+3)
	for k, v := range c.Metadata {
		meta[k] = v
	}
	meta["extraction_type"] = string(c.Type)
	meta["extraction_confidence"] = c.Confidence
	meta["needs_seller_confirmation"] = c.NeedsSellerConfirmation

	return knowledge.Item{
		WorkspaceID: workspaceID,
		Name:        c.Name,
		Content:     c.Content,
		Category:    knowledge.CategoryFor(c.Type),
		Metadata:    meta,
		Embedding:   vec,
		IsVerified:  c.Confidence >= e.cfg.VerifiedThreshold,
		SourceID:    sourceID,
	}
}

// EmbeddingText is the text embedded for a knowledge item.
func EmbeddingText(name, content string) string {
	return name + ": " + content
}
