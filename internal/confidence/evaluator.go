package confidence

// DefaultThreshold is the final confidence below which a reply escalates.
const DefaultThreshold = 0.75

const (
	WeightIntent       = 0.15
	WeightSelfReported = 0.40
	WeightCoverage     = 0.35

	zeroKnowledgePenalty = 0.5
	multiCitationBoost   = 1.1
	clarificationMargin  = 0.01
)

// Escalation reasons reported in Result.Reasons.
const (
	ReasonBelowThreshold      = "below_threshold"
	ReasonNeedsClarification  = "needs_clarification"
	ReasonEscalationRequested = "escalation_requested"
	ReasonNoKnowledge         = "no_knowledge"
)

// Input is everything the evaluator reads. It is derived from the intent
// result, the generated response, and the retrieved knowledge.
type Input struct {
	IntentConfidence    float64
	SelfReported        float64
	RetrievedCount      int
	UsedCount           int
	NeedsClarification  bool
	EscalationRequested bool
}

// Signals is the breakdown reported alongside the final score.
type Signals struct {
	IntentConfidence       float64 `json:"intent_confidence"`
	SelfReportedConfidence float64 `json:"self_reported_confidence"`
	KnowledgeCoverage      float64 `json:"knowledge_coverage"`
	KnowledgeItemCount     int     `json:"knowledge_item_count"`
	CitedItemCount         int     `json:"cited_item_count"`
}

type Result struct {
	Signals         Signals  `json:"signals"`
	BaseScore       float64  `json:"base_score"`
	FinalConfidence float64  `json:"final_confidence"`
	Threshold       float64  `json:"threshold"`
	ShouldEscalate  bool     `json:"should_escalate"`
	Reasons         []string `json:"reasons,omitempty"`
}

// Coverage is a step function of how many retrieved items the reply cites.
func Coverage(retrieved, used int) float64 {
	switch {
	case retrieved <= 0:
		return 0
	case used <= 0:
		return 0.2
	case used == 1:
		return 0.6
	default:
		return clamp(0.6 + 0.1*float64(used))
	}
}

// WeightedScore combines the three signals before penalties and boosts.
func WeightedScore(intentConf, selfReported, coverage float64) float64 {
	return WeightIntent*intentConf + WeightSelfReported*selfReported + WeightCoverage*coverage
}

// Evaluate scores one pipeline run. threshold <= 0 uses DefaultThreshold.
//
// Penalties apply in order: zero retrieved items halves the score, two or
// more citations multiply by 1.1, and needsClarification caps the result just
// under the threshold. The result is clamped to [0,1].
func Evaluate(in Input, threshold float64) Result {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	used := in.UsedCount
	if used > in.RetrievedCount {
		used = in.RetrievedCount
	}
	if used < 0 {
		used = 0
	}

	sig := Signals{
		IntentConfidence:       clamp(in.IntentConfidence),
		SelfReportedConfidence: clamp(in.SelfReported),
		KnowledgeCoverage:      Coverage(in.RetrievedCount, used),
		KnowledgeItemCount:     max(in.RetrievedCount, 0),
		CitedItemCount:         used,
	}

	base := WeightedScore(sig.IntentConfidence, sig.SelfReportedConfidence, sig.KnowledgeCoverage)
	score := base
	if sig.KnowledgeItemCount == 0 {
		score *= zeroKnowledgePenalty
	}
	if used >= 2 {
		score = min(score*multiCitationBoost, 1.0)
	}
	if in.NeedsClarification {
		score = min(score, threshold-clarificationMargin)
	}
	score = clamp(score)

	var reasons []string
	if score < threshold {
		reasons = append(reasons, ReasonBelowThreshold)
	}
	if in.NeedsClarification {
		reasons = append(reasons, ReasonNeedsClarification)
	}
	if in.EscalationRequested {
		reasons = append(reasons, ReasonEscalationRequested)
	}
	if sig.KnowledgeItemCount == 0 {
		reasons = append(reasons, ReasonNoKnowledge)
	}

	return Result{
		Signals:         sig,
		BaseScore:       base,
		FinalConfidence: score,
		Threshold:       threshold,
		ShouldEscalate:  score < threshold || in.NeedsClarification || in.EscalationRequested,
		Reasons:         reasons,
	}
}

func clamp(score float64) float64 {
	if score < 0.0 {
		return 0.0
	}
	if score > 1.0 {
		return 1.0
	}
	return score
}
