package extractor

import "github.com/MikeSquared-Agency/concierge/internal/knowledge"

// candidate is one item as produced by the model.
type candidate struct {
	Type       knowledge.ExtractionType `json:"type" jsonschema:"required,enum=pricing_rule,enum=product_variant,enum=delivery_rule,enum=negotiation_rule,enum=policy,enum=faq,enum=general"`
	Name       string                   `json:"name" jsonschema:"required,minLength=1"`
	Content    string                   `json:"content" jsonschema:"required,minLength=1"`
	Metadata   map[string]any           `json:"metadata,omitempty"`
	Confidence float64                  `json:"confidence" jsonschema:"required,minimum=0,maximum=1"`
}

type llmResponse struct {
	Items []candidate `json:"items" jsonschema:"required"`
}

// Duplicate is a candidate that was not stored. ExistingID is empty when
// the candidate duplicated another candidate from the same batch.
type Duplicate struct {
	Candidate  knowledge.ExtractedKnowledge `json:"candidate"`
	ExistingID string                       `json:"existing_id,omitempty"`
	Similarity float64                      `json:"similarity"`
}

// Outcome reports what Persist did with each candidate.
type Outcome struct {
	Stored     []knowledge.Item `json:"stored"`
	Duplicates []Duplicate      `json:"duplicates"`
	// Unembedded counts candidates stored without dedup because their
	// embedding failed.
	Unembedded int `json:"unembedded"`
}
