package generator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/MikeSquared-Agency/concierge/internal/intent"
	"github.com/MikeSquared-Agency/concierge/internal/knowledge"
	"github.com/MikeSquared-Agency/concierge/internal/llm"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type step struct {
	resp *llm.ChatResponse
	err  error
}

// scriptedChat replays steps in order and records every request.
type scriptedChat struct {
	steps    []step
	requests []llm.ChatRequest
}

func (s *scriptedChat) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	s.requests = append(s.requests, req)
	if len(s.requests) > len(s.steps) {
		return nil, errors.New("unexpected call")
	}
	st := s.steps[len(s.requests)-1]
	return st.resp, st.err
}

func text(s string) step { return step{resp: &llm.ChatResponse{Content: s}} }

func dressInput() Input {
	return Input{
		Profile: Profile{BusinessName: "Amani Boutique", Tone: "friendly", Language: "English"},
		Message: "How much is the red dress?",
		Intent:  intent.Result{Intent: intent.PriceCheck, Confidence: 0.9},
		Knowledge: []knowledge.Retrieved{
			{ID: "k-dress", Name: "Red Dress", Content: "$50", Category: knowledge.CategoryProduct, Similarity: 0.92},
			{ID: "k-returns", Name: "Returns", Content: "Returns within 7 days", Category: knowledge.CategoryPolicy, Similarity: 0.6},
		},
		History: []llm.Message{
			{Role: llm.RoleUser, Content: "hi"},
			{Role: llm.RoleAssistant, Content: "Hello! How can I help?"},
			{Role: llm.RoleUser, Content: "do you have dresses"},
			{Role: llm.RoleAssistant, Content: "Yes, several."},
		},
	}
}

func TestGenerate_Structured(t *testing.T) {
	chat := &scriptedChat{steps: []step{
		text("```json\n{\"reply\":\"The red dress is $50.\",\"confidence\":0.9,\"usedKnowledgeIds\":[\"k-dress\",\"k-ghost\",\"k-dress\"],\"detectedCategories\":[\"product\"],\"needsClarification\":false,\"suggestedActions\":[\"add_to_cart\",\"teleport\"]}\n```"),
	}}
	g := New(chat, DefaultConfig(), discardLogger())

	got := g.Generate(context.Background(), dressInput())

	if got.Tier != TierStructured {
		t.Fatalf("expected structured tier, got %s", got.Tier)
	}
	if got.Reply != "The red dress is $50." {
		t.Errorf("unexpected reply %q", got.Reply)
	}
	if got.Confidence != 0.9 {
		t.Errorf("expected confidence 0.9, got %f", got.Confidence)
	}
	if len(got.UsedKnowledgeIDs) != 1 || got.UsedKnowledgeIDs[0] != "k-dress" {
		t.Errorf("expected only k-dress cited, got %v", got.UsedKnowledgeIDs)
	}
	if len(got.SuggestedActions) != 1 || got.SuggestedActions[0] != ActionAddToCart {
		t.Errorf("expected unknown action dropped, got %v", got.SuggestedActions)
	}
	if got.Intent != intent.PriceCheck {
		t.Errorf("expected intent carried through, got %s", got.Intent)
	}

	req := chat.requests[0]
	if req.Temperature != 0.3 {
		t.Errorf("expected temperature 0.3, got %f", req.Temperature)
	}
	if len(req.History) != 3 {
		t.Errorf("expected history bounded to 3 turns, got %d", len(req.History))
	}
	if len(req.Tools) != 5 {
		t.Errorf("expected 5 tool definitions, got %d", len(req.Tools))
	}
	if !strings.Contains(req.System, "[k-dress] Red Dress (product): $50") {
		t.Errorf("expected knowledge ids in grounding prompt, got %q", req.System)
	}
}

func TestGenerate_ToolCall(t *testing.T) {
	chat := &scriptedChat{steps: []step{{resp: &llm.ChatResponse{ToolCalls: []llm.ToolCall{
		{ID: "call_1", Name: "add_to_cart", Arguments: `{"product_name":"Red Dress","quantity":1}`},
		{ID: "call_2", Name: "add_to_cart", Arguments: `{"quantity":0}`},
	}}}}}
	g := New(chat, DefaultConfig(), discardLogger())

	got := g.Generate(context.Background(), dressInput())

	if got.Tier != TierToolCall {
		t.Fatalf("expected tool_call tier, got %s", got.Tier)
	}
	if got.Confidence != 1.0 {
		t.Errorf("expected confidence 1.0, got %f", got.Confidence)
	}
	if got.Reply != ToolCallPlaceholder {
		t.Errorf("expected placeholder reply, got %q", got.Reply)
	}
	if len(got.ToolCalls) != 1 {
		t.Fatalf("expected invalid call dropped, got %d calls", len(got.ToolCalls))
	}
	c := got.ToolCalls[0]
	if c.ID != "call_1" || c.AddToCart == nil || c.AddToCart.ProductName != "Red Dress" || c.AddToCart.Quantity != 1 {
		t.Errorf("unexpected call %+v", c)
	}
	if !got.HasAction(ActionAddToCart) {
		t.Errorf("expected add_to_cart action, got %v", got.SuggestedActions)
	}
}

func TestGenerate_InvalidToolCallsFallBackToPlainText(t *testing.T) {
	chat := &scriptedChat{steps: []step{
		{resp: &llm.ChatResponse{ToolCalls: []llm.ToolCall{{Name: "launch_rocket", Arguments: `{}`}}}},
		text("The red dress is $50."),
	}}
	got := New(chat, DefaultConfig(), discardLogger()).Generate(context.Background(), dressInput())

	if got.Tier != TierPlainText {
		t.Fatalf("expected plain_text tier, got %s", got.Tier)
	}
}

func TestGenerate_PlainTextFallback(t *testing.T) {
	tests := []struct {
		name  string
		first step
	}{
		{"malformed json", text(`{"reply": "The red dress`)},
		{"schema violation", text(`{"reply":"ok","confidence":1.7,"usedKnowledgeIds":[]}`)},
		{"missing reply", text(`{"confidence":0.9,"usedKnowledgeIds":[]}`)},
		{"blank reply", text(`{"reply":"  \n\t ","confidence":0.9,"usedKnowledgeIds":["k-dress"]}`)},
		{"backend error", step{err: errors.New("503")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chat := &scriptedChat{steps: []step{tt.first, text("The red dress is $50.")}}
			got := New(chat, DefaultConfig(), discardLogger()).Generate(context.Background(), dressInput())

			if got.Tier != TierPlainText {
				t.Fatalf("expected plain_text tier, got %s", got.Tier)
			}
			if strings.TrimSpace(got.Reply) == "" {
				t.Error("reply must never be empty")
			}
			if got.Confidence != 0.5 || !got.NeedsClarification {
				t.Errorf("expected confidence 0.5 with needsClarification, got %+v", got)
			}
			if len(got.UsedKnowledgeIDs) != 0 {
				t.Errorf("plain text must not cite, got %v", got.UsedKnowledgeIDs)
			}
			if len(chat.requests) != 2 || len(chat.requests[1].Tools) != 0 {
				t.Errorf("expected one tool-free retry")
			}
		})
	}
}

func TestGenerate_StaticFallback(t *testing.T) {
	tests := []struct {
		name   string
		second step
	}{
		{"retry backend error", step{err: errors.New("timeout")}},
		{"retry empty", text("   ")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chat := &scriptedChat{steps: []step{{err: errors.New("timeout")}, tt.second}}
			got := New(chat, DefaultConfig(), discardLogger()).Generate(context.Background(), dressInput())

			if got.Tier != TierStatic {
				t.Fatalf("expected static tier, got %s", got.Tier)
			}
			if got.Confidence != 0 {
				t.Errorf("expected confidence 0, got %f", got.Confidence)
			}
			if !got.HasAction(ActionEscalateToHuman) {
				t.Errorf("expected escalate_to_human, got %v", got.SuggestedActions)
			}
			if got.Reply == "" {
				t.Error("static reply must not be empty")
			}
		})
	}
}

func TestGenerate_AmbiguityAndPreferencesInPrompt(t *testing.T) {
	chat := &scriptedChat{steps: []step{text(`{"reply":"Which size?","confidence":0.6,"usedKnowledgeIds":[],"needsClarification":true}`)}}
	in := dressInput()
	in.Ambiguous = true
	in.CustomerPreferences = "prefers size M"

	got := New(chat, DefaultConfig(), discardLogger()).Generate(context.Background(), in)

	if !got.NeedsClarification {
		t.Error("expected needsClarification from model output")
	}
	user := chat.requests[0].User
	if !strings.Contains(user, "ambiguous") || !strings.Contains(user, "prefers size M") {
		t.Errorf("expected ambiguity and preference notes in prompt, got %q", user)
	}
}

func TestFilterKnowledgeIDs(t *testing.T) {
	retrieved := []knowledge.Retrieved{{ID: "a"}, {ID: "b"}}
	tests := []struct {
		name        string
		cited       []string
		want        []string
		wantDropped int
	}{
		{"all valid", []string{"a", "b"}, []string{"a", "b"}, 0},
		{"unknown stripped", []string{"a", "zzz"}, []string{"a"}, 1},
		{"duplicates collapsed", []string{"b", "b"}, []string{"b"}, 0},
		{"nil", nil, []string{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, dropped := FilterKnowledgeIDs(tt.cited, retrieved)
			if dropped != tt.wantDropped {
				t.Errorf("dropped = %d, want %d", dropped, tt.wantDropped)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestParseToolCall(t *testing.T) {
	tests := []struct {
		name    string
		call    llm.ToolCall
		wantErr bool
	}{
		{"checkout without args", llm.ToolCall{Name: "checkout", Arguments: ""}, false},
		{"carousel", llm.ToolCall{Name: "show_carousel", Arguments: `{"query":"dresses"}`}, false},
		{"discount over 100", llm.ToolCall{Name: "request_discount", Arguments: `{"product_name":"Red Dress","requested_percent":150}`}, true},
		{"order status missing ref", llm.ToolCall{Name: "check_order_status", Arguments: `{}`}, true},
		{"extra property", llm.ToolCall{Name: "show_carousel", Arguments: `{"query":"x","color":"red"}`}, true},
		{"unknown tool", llm.ToolCall{Name: "refund", Arguments: `{}`}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := ParseToolCall(tt.call)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && c.Args() == nil {
				t.Error("expected populated arguments")
			}
		})
	}
}

func TestCallJSON(t *testing.T) {
	c, err := ParseToolCall(llm.ToolCall{ID: "c1", Name: "check_order_status", Arguments: `{"order_reference":"A-17"}`})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	b, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(b), `"arguments":{"order_reference":"A-17"}`) {
		t.Errorf("unexpected wire form %s", b)
	}

	var back Call
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.CheckOrderStatus == nil || back.CheckOrderStatus.OrderReference != "A-17" {
		t.Errorf("unexpected decoded call %+v", back)
	}
}
