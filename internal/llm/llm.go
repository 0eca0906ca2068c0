// Package llm defines the chat and embedding backend contract shared by every
// pipeline stage, plus the decorators that make a backend safe to call from
// the pipeline (retries, circuit breaking, per-tenant rate limits).
package llm

import "context"

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Tool is a native function the chat backend may ask the caller to run.
// Parameters is a JSON Schema object.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCall is a tool invocation requested by the backend. Arguments is the
// raw JSON object as produced by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type ChatRequest struct {
	System      string
	User        string
	History     []Message
	Tools       []Tool
	Temperature float64
	MaxTokens   int
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type ChatResponse struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
	Model     string     `json:"model"`
}

// ChatClient produces a completion for a single request.
type ChatClient interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// Embedder returns a fixed-dimension embedding for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type tenantKey struct{}

// WithTenant tags ctx with the workspace on whose behalf backend calls are made.
func WithTenant(ctx context.Context, workspaceID string) context.Context {
	return context.WithValue(ctx, tenantKey{}, workspaceID)
}

// TenantFrom returns the workspace set by WithTenant, or "".
func TenantFrom(ctx context.Context) string {
	v, _ := ctx.Value(tenantKey{}).(string)
	return v
}
