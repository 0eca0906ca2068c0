package orchestrator

import (
	"context"
	"errors"

	"github.com/MikeSquared-Agency/concierge/internal/confidence"
	"github.com/MikeSquared-Agency/concierge/internal/generator"
	"github.com/MikeSquared-Agency/concierge/internal/intent"
	"github.com/MikeSquared-Agency/concierge/internal/knowledge"
	"github.com/MikeSquared-Agency/concierge/internal/llm"
)

var (
	ErrNoInput      = errors.New("either interaction id or bundle is required")
	ErrEmptyMessage = errors.New("interaction has no message text")
)

type Author struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Handle string `json:"handle,omitempty"`
}

// Post is the social post a comment was left on.
type Post struct {
	ID      string `json:"id"`
	Caption string `json:"caption,omitempty"`
}

// Bundle is a fully loaded interaction: tenant context, message, author and
// what it is linked to.
type Bundle struct {
	WorkspaceID         string            `json:"workspace_id"`
	InteractionID       string            `json:"interaction_id"`
	Profile             generator.Profile `json:"profile"`
	Message             string            `json:"message"`
	Author              Author            `json:"author"`
	CustomerID          string            `json:"customer_id,omitempty"`
	Post                *Post             `json:"post,omitempty"`
	History             []llm.Message     `json:"history,omitempty"`
	CustomerPreferences string            `json:"customer_preferences,omitempty"`
	AIPaused            bool              `json:"ai_paused,omitempty"`
}

// Loader builds a Bundle from a stored interaction.
type Loader interface {
	LoadBundle(ctx context.Context, interactionID string) (*Bundle, error)
}

// Request names the interaction to run, or carries it preloaded.
type Request struct {
	InteractionID string  `json:"interaction_id,omitempty"`
	Bundle        *Bundle `json:"bundle,omitempty"`
}

type Classifier interface {
	Classify(ctx context.Context, message string, history []llm.Message) intent.Result
}

type Retriever interface {
	Retrieve(ctx context.Context, q knowledge.Query) []knowledge.Retrieved
}

type Generator interface {
	Generate(ctx context.Context, in generator.Input) generator.Response
}

// Result is everything a run decided. It carries no side effects; callers
// persist, dispatch and escalate.
type Result struct {
	WorkspaceID    string                `json:"workspace_id"`
	InteractionID  string                `json:"interaction_id"`
	CustomerID     string                `json:"customer_id,omitempty"`
	Message        string                `json:"message"`
	Intent         intent.Result         `json:"intent"`
	Knowledge      []knowledge.Retrieved `json:"knowledge"`
	Response       generator.Response    `json:"response"`
	Evaluation     confidence.Result     `json:"evaluation"`
	Confidence     float64               `json:"confidence"`
	ShouldEscalate bool                  `json:"should_escalate"`
	DurationMS     int64                 `json:"duration_ms"`
}
