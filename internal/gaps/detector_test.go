package gaps

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/concierge/internal/escalation"
	"github.com/MikeSquared-Agency/concierge/internal/hermes"
	"github.com/MikeSquared-Agency/concierge/internal/intent"
	"github.com/MikeSquared-Agency/concierge/internal/knowledge"
	"github.com/MikeSquared-Agency/concierge/internal/knowledge/knowledgetest"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSource struct {
	msgs    []Message
	listErr error
	cached  map[string][]float32
}

func (f *fakeSource) ListTicketMessages(context.Context, string, time.Time) ([]Message, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]Message, len(f.msgs))
	copy(out, f.msgs)
	return out, nil
}

func (f *fakeSource) SetTicketEmbedding(_ context.Context, ticketID string, v []float32) error {
	if f.cached == nil {
		f.cached = map[string][]float32{}
	}
	f.cached[ticketID] = v
	return nil
}

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func msg(id, text string, in intent.Intent, status escalation.Status, hoursAgo int) Message {
	return Message{TicketID: id, Text: text, Intent: in, Status: status, CreatedAt: base.Add(-time.Duration(hoursAgo) * time.Hour)}
}

func TestFindGaps_ClustersSimilarQuestions(t *testing.T) {
	src := &fakeSource{msgs: []Message{
		msg("t1", "do you deliver to Mombasa", intent.DeliveryQuestion, escalation.StatusPending, 5),
		msg("t2", "hello", intent.Greeting, escalation.StatusResolved, 4),
		msg("t3", "do you deliver to Mombasa town", intent.DeliveryQuestion, escalation.StatusResolved, 3),
		msg("t4", "do you deliver to Mombasa please", intent.DeliveryQuestion, escalation.StatusPending, 1),
		msg("t5", "is the blue bag leather", intent.ProductInquiry, escalation.StatusPending, 2),
	}}
	emb := &knowledgetest.Embedder{Fixed: map[string][]float32{
		"do you deliver to Mombasa":        {1, 0, 0},
		"do you deliver to Mombasa town":   {0.98, 0.1, 0},
		"do you deliver to Mombasa please": {0.97, 0.12, 0.05},
		"hello":                            {0, 1, 0},
		"is the blue bag leather":          {0, 0, 1},
	}}

	d := NewDetector(src, emb, discardLogger())
	gaps, err := d.FindGaps(context.Background(), "ws-1", time.Time{}, 0.85)
	if err != nil {
		t.Fatalf("find gaps: %v", err)
	}
	if len(gaps) != 1 {
		t.Fatalf("expected 1 gap, got %d: %+v", len(gaps), gaps)
	}

	g := gaps[0]
	if g.Count != 3 || g.Pending != 2 {
		t.Errorf("count/pending = %d/%d, want 3/2", g.Count, g.Pending)
	}
	if !reflect.DeepEqual(g.TicketIDs, []string{"t1", "t3", "t4"}) {
		t.Errorf("unexpected ticket ids %v", g.TicketIDs)
	}
	if g.SuggestedCategory != knowledge.CategoryPolicy {
		t.Errorf("expected policy category, got %s", g.SuggestedCategory)
	}
	if !g.FirstSeen.Equal(base.Add(-5*time.Hour)) || !g.LastSeen.Equal(base.Add(-time.Hour)) {
		t.Errorf("unexpected window %v - %v", g.FirstSeen, g.LastSeen)
	}
	if g.Representative != "do you deliver to Mombasa town" {
		t.Errorf("expected the most central message, got %q", g.Representative)
	}
	if len(src.cached) != 5 {
		t.Errorf("expected every computed embedding cached, got %d", len(src.cached))
	}
}

func TestFindGaps_UsesCachedEmbeddings(t *testing.T) {
	src := &fakeSource{msgs: []Message{
		{TicketID: "t1", Text: "a", Embedding: []float32{1, 0}},
		{TicketID: "t2", Text: "b", Embedding: []float32{1, 0.01}},
	}}
	emb := &knowledgetest.Embedder{}

	gaps, err := NewDetector(src, emb, discardLogger()).FindGaps(context.Background(), "ws-1", time.Time{}, 0)
	if err != nil {
		t.Fatalf("find gaps: %v", err)
	}
	if emb.Calls != 0 {
		t.Errorf("expected no embed calls, got %d", emb.Calls)
	}
	if len(gaps) != 1 || gaps[0].Count != 2 {
		t.Errorf("expected one gap of two, got %+v", gaps)
	}
}

func TestFindGaps_EmbeddingFailureLeavesMessageOut(t *testing.T) {
	src := &fakeSource{msgs: []Message{
		msg("t1", "do you deliver", intent.DeliveryQuestion, escalation.StatusPending, 1),
		msg("t2", "do you deliver", intent.DeliveryQuestion, escalation.StatusPending, 2),
	}}
	emb := &knowledgetest.Embedder{Err: errors.New("embedding backend down")}

	gaps, err := NewDetector(src, emb, discardLogger()).FindGaps(context.Background(), "ws-1", time.Time{}, 0.85)
	if err != nil {
		t.Fatalf("embedding failures must not fail the scan: %v", err)
	}
	if len(gaps) != 0 {
		t.Errorf("expected no gaps without embeddings, got %d", len(gaps))
	}
}

func TestFindGaps_Errors(t *testing.T) {
	d := NewDetector(&fakeSource{listErr: errors.New("db down")}, &knowledgetest.Embedder{}, discardLogger())
	if _, err := d.FindGaps(context.Background(), "ws-1", time.Time{}, 0.85); err == nil {
		t.Error("expected list error to propagate")
	}
	if _, err := d.FindGaps(context.Background(), "", time.Time{}, 0.85); !errors.Is(err, knowledge.ErrTenantRequired) {
		t.Errorf("expected ErrTenantRequired, got %v", err)
	}
}

func TestMapper(t *testing.T) {
	m := NewMapper()

	tests := []struct {
		name     string
		intents  []intent.Intent
		expected knowledge.Category
	}{
		{"price questions", []intent.Intent{intent.PriceCheck, intent.PriceCheck}, knowledge.CategoryProduct},
		{"majority wins", []intent.Intent{intent.PriceCheck, intent.DeliveryQuestion, intent.DeliveryQuestion}, knowledge.CategoryPolicy},
		{"tie goes to first", []intent.Intent{intent.AppointmentRequest, intent.PriceCheck}, knowledge.CategoryFAQ},
		{"unmapped intent", []intent.Intent{intent.Greeting}, knowledge.CategoryGeneral},
		{"no intents", nil, knowledge.CategoryGeneral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.Suggest(tt.intents); got != tt.expected {
				t.Errorf("Suggest(%v) = %s, want %s", tt.intents, got, tt.expected)
			}
		})
	}

	cats := m.Categories(intent.OrderIntent)
	cats[0] = knowledge.CategoryGeneral
	if m.Categories(intent.OrderIntent)[0] != knowledge.CategoryProduct {
		t.Error("Categories must return a copy")
	}
}

type recordingBus struct {
	subjects []string
	events   []hermes.KnowledgeGap
	failAt   int
}

func (r *recordingBus) Publish(subject string, data any) error {
	if r.failAt > 0 && len(r.events)+1 == r.failAt {
		return errors.New("nats down")
	}
	r.subjects = append(r.subjects, subject)
	r.events = append(r.events, data.(hermes.KnowledgeGap))
	return nil
}

func TestPublisher(t *testing.T) {
	gaps := []Gap{
		{Representative: "do you deliver", Count: 3, Pending: 1, TicketIDs: []string{"a", "b", "c"}, SuggestedCategory: knowledge.CategoryPolicy},
		{Representative: "is it leather", Count: 2, TicketIDs: []string{"d", "e"}, SuggestedCategory: knowledge.CategoryProduct},
	}

	t.Run("publishes every gap", func(t *testing.T) {
		bus := &recordingBus{}
		n, err := NewPublisher(bus).PublishGaps("ws-1", gaps)
		if err != nil || n != 2 {
			t.Fatalf("published %d, err %v", n, err)
		}
		if bus.subjects[0] != hermes.SubjectKnowledgeGap {
			t.Errorf("unexpected subject %s", bus.subjects[0])
		}
		if bus.events[0].WorkspaceID != "ws-1" || bus.events[0].SuggestedCategory != "policy" || bus.events[0].Count != 3 {
			t.Errorf("unexpected event %+v", bus.events[0])
		}
	})

	t.Run("stops at first failure", func(t *testing.T) {
		bus := &recordingBus{failAt: 2}
		n, err := NewPublisher(bus).PublishGaps("ws-1", gaps)
		if err == nil || n != 1 {
			t.Errorf("expected 1 published and an error, got %d, %v", n, err)
		}
	})
}
