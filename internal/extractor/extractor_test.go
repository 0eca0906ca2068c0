package extractor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/MikeSquared-Agency/concierge/internal/knowledge"
	"github.com/MikeSquared-Agency/concierge/internal/knowledge/knowledgetest"
	"github.com/MikeSquared-Agency/concierge/internal/llm"
	"github.com/MikeSquared-Agency/concierge/internal/lock"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeChat struct {
	mu      sync.Mutex
	content string
	err     error
	last    llm.ChatRequest
}

func (f *fakeChat) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &llm.ChatResponse{Content: f.content}, nil
}

const dressExtraction = `{"items":[
 {"type":"pricing_rule","name":"Red Dress price","content":"The red dress costs $50","metadata":{"price":50},"confidence":0.95},
 {"type":"delivery_rule","name":"Delivery to Westlands","content":"Delivery to Westlands is free on weekdays","confidence":0.6}
]}`

func newExtractor(chat llm.ChatClient, emb llm.Embedder, store knowledge.Store) *Extractor {
	return New(chat, emb, store, lock.NewLocal(), DefaultConfig(), discardLogger())
}

func TestExtract_Success(t *testing.T) {
	chat := &fakeChat{content: "```json\n" + dressExtraction + "\n```"}
	ext := newExtractor(chat, &knowledgetest.Embedder{}, &knowledgetest.Store{})

	got := ext.Extract(context.Background(), "Red dress is $50. Westlands delivery free weekdays.", "ticket about red dress price")

	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got))
	}
	if got[0].Type != knowledge.TypePricingRule || got[0].NeedsSellerConfirmation {
		t.Errorf("unexpected first candidate %+v", got[0])
	}
	if !got[1].NeedsSellerConfirmation {
		t.Errorf("expected confidence 0.6 to need confirmation, got %+v", got[1])
	}
	if chat.last.Temperature != 0.2 {
		t.Errorf("expected temperature 0.2, got %f", chat.last.Temperature)
	}
}

func TestExtract_FallsBackToRawText(t *testing.T) {
	tests := []struct {
		name    string
		content string
		err     error
	}{
		{"backend error", "", errors.New("503")},
		{"not json", "The dress is fifty dollars", nil},
		{"bad type", `{"items":[{"type":"rumour","name":"x","content":"y","confidence":0.9}]}`, nil},
		{"missing items", `{}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ext := newExtractor(&fakeChat{content: tt.content, err: tt.err}, &knowledgetest.Embedder{}, &knowledgetest.Store{})
			got := ext.Extract(context.Background(), "The dress is fifty dollars", "")
			if len(got) != 1 {
				t.Fatalf("expected one raw candidate, got %d", len(got))
			}
			if got[0].Type != knowledge.TypeGeneral || got[0].Content != "The dress is fifty dollars" {
				t.Errorf("unexpected raw candidate %+v", got[0])
			}
			if !got[0].NeedsSellerConfirmation {
				t.Error("raw candidate should need confirmation")
			}
		})
	}
}

func TestExtract_EmptyText(t *testing.T) {
	chat := &fakeChat{content: dressExtraction}
	ext := newExtractor(chat, &knowledgetest.Embedder{}, &knowledgetest.Store{})
	if got := ext.Extract(context.Background(), "   ", ""); got != nil {
		t.Errorf("expected nil for empty text, got %v", got)
	}
}

func TestPersist_CategoriesAndVerification(t *testing.T) {
	store := &knowledgetest.Store{}
	ext := newExtractor(&fakeChat{content: dressExtraction}, &knowledgetest.Embedder{}, store)

	_, out, err := ext.Process(context.Background(), "ws-1", "ticket-1", "Red dress is $50. Westlands delivery free weekdays.", "")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(out.Stored) != 2 {
		t.Fatalf("expected 2 stored, got %d (dups %d)", len(out.Stored), len(out.Duplicates))
	}

	byName := map[string]knowledge.Item{}
	for _, it := range store.Items("ws-1") {
		byName[it.Name] = it
	}
	dress := byName["Red Dress price"]
	if dress.Category != knowledge.CategoryProduct || !dress.IsVerified || dress.SourceID != "ticket-1" {
		t.Errorf("unexpected dress item %+v", dress)
	}
	if dress.Metadata["price"] != float64(50) || dress.Metadata["extraction_type"] != "pricing_rule" {
		t.Errorf("expected merged metadata, got %v", dress.Metadata)
	}
	delivery := byName["Delivery to Westlands"]
	if delivery.Category != knowledge.CategoryPolicy || delivery.IsVerified {
		t.Errorf("unexpected delivery item %+v", delivery)
	}
}

func TestPersist_Idempotent(t *testing.T) {
	store := &knowledgetest.Store{}
	ext := newExtractor(&fakeChat{content: dressExtraction}, &knowledgetest.Embedder{}, store)
	ctx := context.Background()

	if _, _, err := ext.Process(ctx, "ws-1", "t-1", "same reply", ""); err != nil {
		t.Fatalf("first: %v", err)
	}
	_, out, err := ext.Process(ctx, "ws-1", "t-2", "same reply", "")
	if err != nil {
		t.Fatalf("second: %v", err)
	}

	if len(out.Stored) != 0 || len(out.Duplicates) != 2 {
		t.Errorf("expected second run to be a no-op, got stored=%d dups=%d", len(out.Stored), len(out.Duplicates))
	}
	if n := len(store.Items("ws-1")); n != 2 {
		t.Errorf("expected 2 items total, got %d", n)
	}
	for _, d := range out.Duplicates {
		if d.ExistingID == "" || d.Similarity <= 0.85 {
			t.Errorf("expected store duplicate with similarity > 0.85, got %+v", d)
		}
	}
}

func TestPersist_ConcurrentRunsStoreOnce(t *testing.T) {
	store := &knowledgetest.Store{}
	ext := newExtractor(&fakeChat{content: dressExtraction}, &knowledgetest.Embedder{}, store)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := ext.Process(context.Background(), "ws-1", "t", "same reply", ""); err != nil {
				t.Errorf("process: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := len(store.Items("ws-1")); n != 2 {
		t.Errorf("expected exactly 2 items after concurrent runs, got %d", n)
	}
}

func TestPersist_BatchDuplicates(t *testing.T) {
	store := &knowledgetest.Store{}
	ext := newExtractor(&fakeChat{}, &knowledgetest.Embedder{}, store)

	candidates := []knowledge.ExtractedKnowledge{
		{Type: knowledge.TypePricingRule, Name: "Red Dress", Content: "costs $50", Confidence: 0.7},
		{Type: knowledge.TypePricingRule, Name: "Red Dress", Content: "costs $50", Confidence: 0.9},
	}
	out, err := ext.Persist(context.Background(), "ws-1", "", candidates)
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	if len(out.Stored) != 1 || len(out.Duplicates) != 1 {
		t.Fatalf("expected 1 stored and 1 batch duplicate, got %+v", out)
	}
	if out.Stored[0].Metadata["extraction_confidence"] != 0.9 {
		t.Errorf("expected higher confidence candidate to survive, got %v", out.Stored[0].Metadata)
	}
	if out.Duplicates[0].ExistingID != "" {
		t.Errorf("batch duplicate should not reference a stored item")
	}
}

func TestPersist_EmbeddingFailureStoresAnyway(t *testing.T) {
	store := &knowledgetest.Store{}
	ext := newExtractor(&fakeChat{content: dressExtraction}, &knowledgetest.Embedder{Err: errors.New("embedding outage")}, store)

	_, out, err := ext.Process(context.Background(), "ws-1", "t-1", "reply", "")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(out.Stored) != 2 || out.Unembedded != 2 {
		t.Errorf("expected both stored without embeddings, got stored=%d unembedded=%d", len(out.Stored), out.Unembedded)
	}
	if store.Searches != 0 {
		t.Errorf("expected dedup lookup skipped, got %d searches", store.Searches)
	}
}

func TestPersist_StoreErrorsPropagate(t *testing.T) {
	tests := []struct {
		name  string
		store *knowledgetest.Store
	}{
		{"insert", &knowledgetest.Store{InsertErr: errors.New("disk full")}},
		{"search", &knowledgetest.Store{SearchErr: errors.New("db down")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ext := newExtractor(&fakeChat{content: dressExtraction}, &knowledgetest.Embedder{}, tt.store)
			if _, _, err := ext.Process(context.Background(), "ws-1", "t-1", "reply", ""); err == nil {
				t.Fatal("expected persistence error to propagate")
			}
		})
	}
}

func TestPersist_RequiresWorkspace(t *testing.T) {
	ext := newExtractor(&fakeChat{}, &knowledgetest.Embedder{}, &knowledgetest.Store{})
	if _, err := ext.Persist(context.Background(), "", "", nil); !errors.Is(err, knowledge.ErrTenantRequired) {
		t.Errorf("expected ErrTenantRequired, got %v", err)
	}
}

// unorderedStore returns its matches in index order rather than by
// similarity, the way an approximate vector scan can.
type unorderedStore struct {
	matches  []knowledge.Match
	limits   []int
	inserted []knowledge.Item
}

func (s *unorderedStore) Search(_ context.Context, _ string, _ []float32, limit int) ([]knowledge.Match, error) {
	s.limits = append(s.limits, limit)
	out := s.matches
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *unorderedStore) Insert(_ context.Context, item knowledge.Item) (knowledge.Item, error) {
	s.inserted = append(s.inserted, item)
	return item, nil
}

func TestPersist_DuplicateFoundBehindFirstMatch(t *testing.T) {
	store := &unorderedStore{matches: []knowledge.Match{
		{Item: knowledge.Item{ID: "k-near"}, Similarity: 0.80},
		{Item: knowledge.Item{ID: "k-nearest"}, Similarity: 0.93},
	}}
	ext := newExtractor(&fakeChat{}, &knowledgetest.Embedder{}, store)

	out, err := ext.Persist(context.Background(), "ws-1", "ticket-1", []knowledge.ExtractedKnowledge{
		{Type: knowledge.TypePricingRule, Name: "Red Dress price", Content: "The red dress costs $50", Confidence: 0.9},
	})
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	if len(store.inserted) != 0 {
		t.Errorf("expected near-duplicate skipped, inserted %+v", store.inserted)
	}
	if len(out.Duplicates) != 1 || out.Duplicates[0].ExistingID != "k-nearest" {
		t.Errorf("expected duplicate of k-nearest, got %+v", out.Duplicates)
	}
	if len(store.limits) != 1 || store.limits[0] < 2 {
		t.Errorf("expected the duplicate check to read several neighbours, got limits %v", store.limits)
	}
}
