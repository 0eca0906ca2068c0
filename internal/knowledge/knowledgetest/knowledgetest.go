// Package knowledgetest provides in-memory knowledge store and embedder
// implementations for tests.
package knowledgetest

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/concierge/internal/dedup"
	"github.com/MikeSquared-Agency/concierge/internal/knowledge"
)

const dims = 64

// Embedder is a deterministic bag-of-words embedder: identical texts map to
// identical vectors, texts sharing no words are orthogonal.
type Embedder struct {
	mu    sync.Mutex
	Err   error
	Calls int
	// Fixed overrides the hashed vector for exact texts.
	Fixed map[string][]float32
}

func (e *Embedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Calls++
	if e.Err != nil {
		return nil, e.Err
	}
	if v, ok := e.Fixed[text]; ok {
		return v, nil
	}
	return HashVector(text), nil
}

func HashVector(text string) []float32 {
	vec := make([]float32, dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[h.Sum32()%dims]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	n := float32(math.Sqrt(norm))
	for i := range vec {
		vec[i] /= n
	}
	return vec
}

// Store is an in-memory knowledge.Store with optional fixed similarities.
type Store struct {
	mu    sync.Mutex
	items []knowledge.Item

	SearchErr error
	InsertErr error
	Searches  int
}

func (s *Store) Search(_ context.Context, workspaceID string, embedding []float32, limit int) ([]knowledge.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Searches++
	if workspaceID == "" {
		return nil, knowledge.ErrTenantRequired
	}
	if s.SearchErr != nil {
		return nil, s.SearchErr
	}
	if len(embedding) == 0 {
		return nil, errors.New("embedding is required")
	}

	var out []knowledge.Match
	for _, it := range s.items {
		if it.WorkspaceID != workspaceID || it.Embedding == nil {
			continue
		}
		out = append(out, knowledge.Match{Item: it, Similarity: dedup.Cosine(embedding, it.Embedding)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Insert(_ context.Context, item knowledge.Item) (knowledge.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.WorkspaceID == "" {
		return knowledge.Item{}, knowledge.ErrTenantRequired
	}
	if s.InsertErr != nil {
		return knowledge.Item{}, s.InsertErr
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	s.items = append(s.items, item)
	return item, nil
}

// Items returns a copy of every stored item for workspaceID.
func (s *Store) Items(workspaceID string) []knowledge.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []knowledge.Item
	for _, it := range s.items {
		if it.WorkspaceID == workspaceID {
			out = append(out, it)
		}
	}
	return out
}

// StaticSearcher returns canned matches regardless of the query.
type StaticSearcher struct {
	Matches []knowledge.Match
}

func (s StaticSearcher) Search(_ context.Context, workspaceID string, _ []float32, limit int) ([]knowledge.Match, error) {
	if workspaceID == "" {
		return nil, knowledge.ErrTenantRequired
	}
	out := s.Matches
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
