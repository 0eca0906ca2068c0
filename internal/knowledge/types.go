package knowledge

import (
	"context"
	"errors"
	"time"
)

var ErrTenantRequired = errors.New("tenant id is required")

// Category is the storage category of a knowledge item.
type Category string

const (
	CategoryProduct Category = "product"
	CategoryPolicy  Category = "policy"
	CategoryFAQ     Category = "faq"
	CategoryGeneral Category = "general"
)

// ExtractionType is the finer-grained label the extractor assigns.
type ExtractionType string

const (
	TypePricingRule     ExtractionType = "pricing_rule"
	TypeProductVariant  ExtractionType = "product_variant"
	TypeDeliveryRule    ExtractionType = "delivery_rule"
	TypeNegotiationRule ExtractionType = "negotiation_rule"
	TypePolicy          ExtractionType = "policy"
	TypeFAQ             ExtractionType = "faq"
	TypeGeneral         ExtractionType = "general"
)

var categoryByType = map[ExtractionType]Category{
	TypePricingRule:     CategoryProduct,
	TypeProductVariant:  CategoryProduct,
	TypeDeliveryRule:    CategoryPolicy,
	TypeNegotiationRule: CategoryPolicy,
	TypePolicy:          CategoryPolicy,
	TypeFAQ:             CategoryFAQ,
	TypeGeneral:         CategoryGeneral,
}

// CategoryFor maps an extraction type to its storage category. Unknown
// types are stored as general.
func CategoryFor(t ExtractionType) Category {
	if c, ok := categoryByType[t]; ok {
		return c
	}
	return CategoryGeneral
}

// Item is a persisted knowledge entry scoped to one workspace.
type Item struct {
	ID          string         `json:"id"`
	WorkspaceID string         `json:"workspace_id"`
	Name        string         `json:"name"`
	Content     string         `json:"content"`
	Category    Category       `json:"category"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Embedding   []float32      `json:"-"`
	IsVerified  bool           `json:"is_verified"`
	SourceID    string         `json:"source_id,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Match is a similarity search hit.
type Match struct {
	Item       Item
	Similarity float64
}

// Retrieved is an item selected for one message. Similarity is the raw
// cosine similarity; Score is the hybrid ranking score.
type Retrieved struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Content    string         `json:"content"`
	Category   Category       `json:"category"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Similarity float64        `json:"similarity"`
	Score      float64        `json:"score"`
	SourceID   string         `json:"source_id,omitempty"`
}

// ExtractedKnowledge is one candidate produced from free-form seller text.
type ExtractedKnowledge struct {
	Type                    ExtractionType `json:"type"`
	Name                    string         `json:"name"`
	Content                 string         `json:"content"`
	Metadata                map[string]any `json:"metadata,omitempty"`
	Confidence              float64        `json:"confidence"`
	NeedsSellerConfirmation bool           `json:"needs_seller_confirmation"`
}

// Store is the per-workspace knowledge collection. Search returns matches
// ordered by descending similarity.
type Store interface {
	Search(ctx context.Context, workspaceID string, embedding []float32, limit int) ([]Match, error)
	Insert(ctx context.Context, item Item) (Item, error)
}
