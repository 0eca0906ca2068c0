package confidence

import (
	"math"
	"math/rand"
	"testing"
)

func TestCoverage(t *testing.T) {
	tests := []struct {
		name      string
		retrieved int
		used      int
		want      float64
	}{
		{"nothing retrieved", 0, 0, 0},
		{"retrieved but none cited", 3, 0, 0.2},
		{"one cited", 3, 1, 0.6},
		{"two cited", 3, 2, 0.8},
		{"three cited", 3, 3, 0.9},
		{"capped at 1.0", 6, 5, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Coverage(tt.retrieved, tt.used)
			if math.Abs(got-tt.want) > 0.001 {
				t.Errorf("Coverage(%d, %d) = %f, want %f", tt.retrieved, tt.used, got, tt.want)
			}
		})
	}
}

func TestEvaluate_Scenarios(t *testing.T) {
	tests := []struct {
		name         string
		in           Input
		wantScore    float64
		wantEscalate bool
	}{
		{
			// 0.15*0.9 + 0.40*0.9 + 0.35*0.6
			name:         "single cited item sits just under threshold",
			in:           Input{IntentConfidence: 0.9, SelfReported: 0.9, RetrievedCount: 1, UsedCount: 1},
			wantScore:    0.705,
			wantEscalate: true,
		},
		{
			// (0.15*0.9 + 0.40*0.9 + 0.35*0.8) * 1.1
			name:         "two cited items get multi-citation boost",
			in:           Input{IntentConfidence: 0.9, SelfReported: 0.9, RetrievedCount: 2, UsedCount: 2},
			wantScore:    0.8525,
			wantEscalate: false,
		},
		{
			// (0.15*0.9 + 0.40*1.0) * 0.5
			name:         "empty knowledge base halves the score",
			in:           Input{IntentConfidence: 0.9, SelfReported: 1.0, RetrievedCount: 0, UsedCount: 0},
			wantScore:    0.2675,
			wantEscalate: true,
		},
		{
			name:         "retrieved but uncited",
			in:           Input{IntentConfidence: 1, SelfReported: 1, RetrievedCount: 2, UsedCount: 0},
			wantScore:    0.62,
			wantEscalate: true,
		},
		{
			name:         "perfect signals",
			in:           Input{IntentConfidence: 1, SelfReported: 1, RetrievedCount: 4, UsedCount: 4},
			wantScore:    1.0,
			wantEscalate: false,
		},
		{
			name:         "needs clarification caps perfect signals",
			in:           Input{IntentConfidence: 1, SelfReported: 1, RetrievedCount: 4, UsedCount: 4, NeedsClarification: true},
			wantScore:    0.74,
			wantEscalate: true,
		},
		{
			name:         "explicit escalation request with high score",
			in:           Input{IntentConfidence: 1, SelfReported: 1, RetrievedCount: 4, UsedCount: 4, EscalationRequested: true},
			wantScore:    1.0,
			wantEscalate: true,
		},
		{
			name:         "cited count larger than retrieved is clipped",
			in:           Input{IntentConfidence: 0.9, SelfReported: 0.9, RetrievedCount: 1, UsedCount: 3},
			wantScore:    0.705,
			wantEscalate: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(tt.in, DefaultThreshold)
			if math.Abs(got.FinalConfidence-tt.wantScore) > 0.001 {
				t.Errorf("FinalConfidence = %f, want %f", got.FinalConfidence, tt.wantScore)
			}
			if got.ShouldEscalate != tt.wantEscalate {
				t.Errorf("ShouldEscalate = %v, want %v (reasons %v)", got.ShouldEscalate, tt.wantEscalate, got.Reasons)
			}
		})
	}
}

func TestEvaluate_ThresholdBoundary(t *testing.T) {
	// A score exactly at the threshold responds; strictly below escalates.
	in := Input{IntentConfidence: 0.9, SelfReported: 0.9, RetrievedCount: 1, UsedCount: 1}
	if got := Evaluate(in, 0.705); got.ShouldEscalate {
		t.Errorf("expected no escalation at score == threshold, got %+v", got)
	}
	if got := Evaluate(in, 0.706); !got.ShouldEscalate {
		t.Errorf("expected escalation just below threshold, got %+v", got)
	}
}

func TestEvaluate_DefaultThreshold(t *testing.T) {
	got := Evaluate(Input{}, 0)
	if got.Threshold != DefaultThreshold {
		t.Errorf("expected default threshold, got %f", got.Threshold)
	}
}

func TestEvaluate_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 5000; i++ {
		retrieved := rng.Intn(6)
		in := Input{
			IntentConfidence:    rng.Float64()*1.4 - 0.2,
			SelfReported:        rng.Float64()*1.4 - 0.2,
			RetrievedCount:      retrieved,
			UsedCount:           rng.Intn(retrieved + 2),
			NeedsClarification:  rng.Intn(4) == 0,
			EscalationRequested: rng.Intn(8) == 0,
		}
		got := Evaluate(in, DefaultThreshold)

		if got.FinalConfidence < 0 || got.FinalConfidence > 1 {
			t.Fatalf("confidence out of bounds for %+v: %f", in, got.FinalConfidence)
		}
		if in.NeedsClarification && got.FinalConfidence >= DefaultThreshold {
			t.Fatalf("needsClarification did not cap score for %+v: %f", in, got.FinalConfidence)
		}
		if in.NeedsClarification && !got.ShouldEscalate {
			t.Fatalf("needsClarification did not escalate for %+v", in)
		}
		if retrieved == 0 {
			if got.FinalConfidence > 0.5*got.BaseScore+1e-9 {
				t.Fatalf("zero-knowledge penalty not applied for %+v: final %f base %f", in, got.FinalConfidence, got.BaseScore)
			}
			if !got.ShouldEscalate {
				t.Fatalf("empty knowledge must always escalate, got %+v", got)
			}
		}
		if in.EscalationRequested && !got.ShouldEscalate {
			t.Fatalf("escalate_to_human did not escalate for %+v", in)
		}
	}
}

func TestEvaluate_SignalBreakdown(t *testing.T) {
	got := Evaluate(Input{IntentConfidence: 0.8, SelfReported: 0.7, RetrievedCount: 3, UsedCount: 1}, DefaultThreshold)

	if got.Signals.KnowledgeItemCount != 3 || got.Signals.CitedItemCount != 1 {
		t.Errorf("unexpected counts %+v", got.Signals)
	}
	if got.Signals.KnowledgeCoverage != 0.6 {
		t.Errorf("expected coverage 0.6, got %f", got.Signals.KnowledgeCoverage)
	}
	wantBase := 0.15*0.8 + 0.40*0.7 + 0.35*0.6
	if math.Abs(got.BaseScore-wantBase) > 1e-9 {
		t.Errorf("BaseScore = %f, want %f", got.BaseScore, wantBase)
	}
	if len(got.Reasons) != 1 || got.Reasons[0] != ReasonBelowThreshold {
		t.Errorf("unexpected reasons %v", got.Reasons)
	}
}
