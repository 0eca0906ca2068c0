package knowledge

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/MikeSquared-Agency/concierge/internal/intent"
	"github.com/MikeSquared-Agency/concierge/internal/llm"
)

type RetrieverConfig struct {
	SimilarityFloor float64
	HybridFloor     float64
	Limit           int
	// Candidates fetched from the store per returned item.
	Oversample    int
	VectorWeight  float64
	KeywordWeight float64
	IntentBoost   float64
}

func DefaultRetrieverConfig() RetrieverConfig {
	return RetrieverConfig{
		SimilarityFloor: 0.5,
		HybridFloor:     0.4,
		Limit:           5,
		Oversample:      3,
		VectorWeight:    0.7,
		KeywordWeight:   0.3,
		IntentBoost:     0.1,
	}
}

// intentCategories lists the categories favoured for each intent.
var intentCategories = map[intent.Intent][]Category{
	intent.ProductInquiry:     {CategoryProduct},
	intent.PriceCheck:         {CategoryProduct},
	intent.DeliveryQuestion:   {CategoryPolicy},
	intent.Negotiation:        {CategoryPolicy, CategoryProduct},
	intent.OrderIntent:        {CategoryProduct, CategoryPolicy},
	intent.AppointmentRequest: {CategoryPolicy, CategoryFAQ},
	intent.CallRequest:        {CategoryFAQ},
	intent.Complaint:          {CategoryPolicy},
}

type Query struct {
	WorkspaceID string
	Text        string
	Intent      intent.Intent
	History     []llm.Message
}

// Searcher is the read half of Store.
type Searcher interface {
	Search(ctx context.Context, workspaceID string, embedding []float32, limit int) ([]Match, error)
}

type Retriever struct {
	store    Searcher
	embedder llm.Embedder
	cfg      RetrieverConfig
	logger   *slog.Logger
}

func NewRetriever(store Searcher, embedder llm.Embedder, cfg RetrieverConfig, logger *slog.Logger) *Retriever {
	if cfg.Limit <= 0 {
		cfg.Limit = 5
	}
	if cfg.Oversample <= 0 {
		cfg.Oversample = 3
	}
	return &Retriever{store: store, embedder: embedder, cfg: cfg, logger: logger}
}

// Retrieve returns knowledge for q ordered by descending hybrid score.
// Embedding or search failures and empty stores yield an empty list.
func (r *Retriever) Retrieve(ctx context.Context, q Query) []Retrieved {
	if q.WorkspaceID == "" {
		r.logger.Warn("retrieve without workspace", "error", ErrTenantRequired)
		return nil
	}
	start := time.Now()
	defer func() {
		searchDuration.Observe(time.Since(start).Seconds())
	}()

	text := searchText(q)
	embedding, err := r.embedder.Embed(ctx, text)
	if err != nil {
		searchQueriesTotal.WithLabelValues("embed_error").Inc()
		r.logger.Warn("query embedding failed, retrieving nothing",
			"workspace_id", q.WorkspaceID,
			"error", err,
		)
		return nil
	}

	matches, err := r.store.Search(ctx, q.WorkspaceID, embedding, r.cfg.Limit*r.cfg.Oversample)
	if err != nil {
		searchQueriesTotal.WithLabelValues("search_error").Inc()
		r.logger.Warn("knowledge search failed, retrieving nothing",
			"workspace_id", q.WorkspaceID,
			"error", err,
		)
		return nil
	}

	out := r.rank(text, q.Intent, matches)
	searchQueriesTotal.WithLabelValues("ok").Inc()
	searchResultsCount.Observe(float64(len(out)))
	return out
}

func (r *Retriever) rank(text string, in intent.Intent, matches []Match) []Retrieved {
	terms := uniqueLowerTerms(text)
	preferred := intentCategories[in]

	out := make([]Retrieved, 0, len(matches))
	for _, m := range matches {
		if m.Similarity < r.cfg.SimilarityFloor {
			continue
		}
		score := r.cfg.VectorWeight * m.Similarity
		if len(terms) > 0 {
			score += r.cfg.KeywordWeight * keywordOverlap(terms, m.Item.Name+" "+m.Item.Content)
		}
		for _, c := range preferred {
			if m.Item.Category == c {
				score += r.cfg.IntentBoost
				break
			}
		}
		if score > 1 {
			score = 1
		}
		if score < r.cfg.HybridFloor {
			continue
		}
		out = append(out, Retrieved{
			ID:         m.Item.ID,
			Name:       m.Item.Name,
			Content:    m.Item.Content,
			Category:   m.Item.Category,
			Metadata:   m.Item.Metadata,
			Similarity: m.Similarity,
			Score:      score,
			SourceID:   m.Item.SourceID,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Similarity > out[j].Similarity
	})
	if len(out) > r.cfg.Limit {
		out = out[:r.cfg.Limit]
	}
	return out
}

// searchText appends the previous customer turn to very short follow-ups
// such as "how much?" so the embedding carries the referent.
func searchText(q Query) string {
	if len(strings.Fields(q.Text)) >= 5 {
		return q.Text
	}
	for i := len(q.History) - 1; i >= 0; i-- {
		if q.History[i].Role == llm.RoleUser && q.History[i].Content != q.Text {
			return llm.Preview(q.History[i].Content, 200) + "\n" + q.Text
		}
	}
	return q.Text
}

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "you": {}, "your": {}, "are": {}, "how": {},
	"what": {}, "when": {}, "where": {}, "can": {}, "does": {}, "this": {}, "that": {},
	"with": {}, "have": {}, "has": {}, "was": {}, "any": {}, "there": {}, "please": {},
}

func uniqueLowerTerms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < 3 {
			continue
		}
		if _, ok := stopWords[f]; ok {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		terms = append(terms, f)
	}
	return terms
}

// keywordOverlap is the fraction of query terms present in text.
func keywordOverlap(terms []string, text string) float64 {
	if len(terms) == 0 {
		return 0
	}
	docTerms := make(map[string]struct{})
	for _, t := range uniqueLowerTerms(text) {
		docTerms[t] = struct{}{}
	}
	hits := 0
	for _, t := range terms {
		if _, ok := docTerms[t]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}
