package generator

import (
	"github.com/MikeSquared-Agency/concierge/internal/intent"
	"github.com/MikeSquared-Agency/concierge/internal/knowledge"
	"github.com/MikeSquared-Agency/concierge/internal/llm"
)

// Profile is the per-tenant voice the reply is written in.
type Profile struct {
	BusinessName string `json:"business_name"`
	Tone         string `json:"tone,omitempty"`
	Language     string `json:"language,omitempty"`
}

type SuggestedAction string

const (
	ActionEscalateToHuman  SuggestedAction = "escalate_to_human"
	ActionAddToCart        SuggestedAction = "add_to_cart"
	ActionCheckout         SuggestedAction = "checkout"
	ActionShowCarousel     SuggestedAction = "show_carousel"
	ActionRequestDiscount  SuggestedAction = "request_discount"
	ActionCheckOrderStatus SuggestedAction = "check_order_status"
	ActionBookAppointment  SuggestedAction = "book_appointment"
	ActionRequestCall      SuggestedAction = "request_call"
)

var allActions = map[SuggestedAction]bool{
	ActionEscalateToHuman:  true,
	ActionAddToCart:        true,
	ActionCheckout:         true,
	ActionShowCarousel:     true,
	ActionRequestDiscount:  true,
	ActionCheckOrderStatus: true,
	ActionBookAppointment:  true,
	ActionRequestCall:      true,
}

func (a SuggestedAction) Valid() bool { return allActions[a] }

// Input is everything one generation call is grounded on.
type Input struct {
	Profile             Profile
	Message             string
	Intent              intent.Result
	Knowledge           []knowledge.Retrieved
	History             []llm.Message
	Ambiguous           bool
	CustomerPreferences string
}

// Response is the structured reply. UsedKnowledgeIDs is always a subset of
// the ids in Input.Knowledge.
type Response struct {
	Reply              string            `json:"reply"`
	Intent             intent.Intent     `json:"intent"`
	Confidence         float64           `json:"confidence"`
	UsedKnowledgeIDs   []string          `json:"used_knowledge_ids"`
	DetectedCategories []string          `json:"detected_categories"`
	NeedsClarification bool              `json:"needs_clarification"`
	SuggestedActions   []SuggestedAction `json:"suggested_actions"`
	ToolCalls          []Call            `json:"tool_calls,omitempty"`
	// Tier reports which generation path produced the response.
	Tier Tier `json:"tier"`
}

// HasAction reports whether a is among the suggested actions.
func (r Response) HasAction(a SuggestedAction) bool {
	for _, s := range r.SuggestedActions {
		if s == a {
			return true
		}
	}
	return false
}

type Tier string

const (
	TierStructured Tier = "structured"
	TierToolCall   Tier = "tool_call"
	TierPlainText  Tier = "plain_text"
	TierStatic     Tier = "static"
)

// modelOutput is the JSON document the structured prompt asks for.
type modelOutput struct {
	Reply              string   `json:"reply" jsonschema:"required,minLength=1"`
	Confidence         float64  `json:"confidence" jsonschema:"required,minimum=0,maximum=1"`
	UsedKnowledgeIDs   []string `json:"usedKnowledgeIds"`
	DetectedCategories []string `json:"detectedCategories,omitempty"`
	NeedsClarification bool     `json:"needsClarification"`
	SuggestedActions   []string `json:"suggestedActions,omitempty"`
}
