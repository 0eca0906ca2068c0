// Package orchestrator composes the pipeline stages for one customer
// message. Stages run strictly in sequence.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/concierge/internal/confidence"
	"github.com/MikeSquared-Agency/concierge/internal/generator"
	"github.com/MikeSquared-Agency/concierge/internal/intent"
	"github.com/MikeSquared-Agency/concierge/internal/knowledge"
	"github.com/MikeSquared-Agency/concierge/internal/llm"
)

// ambiguousBelow is the intent confidence under which the generator is told
// the message is ambiguous.
const ambiguousBelow = 0.5

type Config struct {
	EscalationThreshold float64
	HistoryTurns        int
}

type Orchestrator struct {
	loader     Loader
	classifier Classifier
	retriever  Retriever
	generator  Generator
	cfg        Config
	logger     *slog.Logger
}

func New(loader Loader, classifier Classifier, retriever Retriever, gen Generator, cfg Config, logger *slog.Logger) *Orchestrator {
	if cfg.EscalationThreshold <= 0 {
		cfg.EscalationThreshold = confidence.DefaultThreshold
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = 3
	}
	return &Orchestrator{
		loader:     loader,
		classifier: classifier,
		retriever:  retriever,
		generator:  gen,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run executes intent, retrieval, generation and evaluation for one message.
// Only loading the interaction can fail; every later stage degrades to a
// low-confidence value instead.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	b, err := o.bundle(ctx, req)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(b.Message) == "" {
		return nil, ErrEmptyMessage
	}
	if b.WorkspaceID == "" {
		return nil, knowledge.ErrTenantRequired
	}
	ctx = llm.WithTenant(ctx, b.WorkspaceID)
	history := lastTurns(b.History, o.cfg.HistoryTurns)

	stageStart := time.Now()
	in := o.classifier.Classify(ctx, b.Message, b.History)
	observeStage("intent", stageStart)

	stageStart = time.Now()
	retrieved := o.retriever.Retrieve(ctx, knowledge.Query{
		WorkspaceID: b.WorkspaceID,
		Text:        b.Message,
		Intent:      in.Intent,
		History:     history,
	})
	observeStage("retrieve", stageStart)

	stageStart = time.Now()
	resp := o.generator.Generate(ctx, generator.Input{
		Profile:             b.Profile,
		Message:             messageWithPost(b),
		Intent:              in,
		Knowledge:           retrieved,
		History:             history,
		Ambiguous:           in.Intent == intent.Unknown || in.Confidence < ambiguousBelow,
		CustomerPreferences: b.CustomerPreferences,
	})
	observeStage("generate", stageStart)

	eval := o.evaluate(in, resp, retrieved)

	res := &Result{
		WorkspaceID:    b.WorkspaceID,
		InteractionID:  b.InteractionID,
		CustomerID:     b.CustomerID,
		Message:        b.Message,
		Intent:         in,
		Knowledge:      retrieved,
		Response:       resp,
		Evaluation:     eval,
		Confidence:     eval.FinalConfidence,
		ShouldEscalate: eval.ShouldEscalate,
		DurationMS:     time.Since(start).Milliseconds(),
	}

	outcome := "respond"
	if res.ShouldEscalate {
		outcome = "escalate"
	}
	runsTotal.WithLabelValues(outcome, string(resp.Tier)).Inc()
	finalConfidence.Observe(res.Confidence)
	o.logger.Info("pipeline run complete",
		"workspace_id", res.WorkspaceID,
		"interaction_id", res.InteractionID,
		"intent", in.Intent,
		"knowledge_items", len(retrieved),
		"cited", len(resp.UsedKnowledgeIDs),
		"tier", resp.Tier,
		"confidence", res.Confidence,
		"should_escalate", res.ShouldEscalate,
		"duration_ms", res.DurationMS,
	)
	return res, nil
}

func (o *Orchestrator) bundle(ctx context.Context, req Request) (*Bundle, error) {
	if req.Bundle != nil {
		return req.Bundle, nil
	}
	if req.InteractionID == "" {
		return nil, ErrNoInput
	}
	if o.loader == nil {
		return nil, fmt.Errorf("load interaction %s: no loader configured", req.InteractionID)
	}
	b, err := o.loader.LoadBundle(ctx, req.InteractionID)
	if err != nil {
		return nil, fmt.Errorf("load interaction %s: %w", req.InteractionID, err)
	}
	return b, nil
}

// evaluate scores the response. A validated tool call is executed by the
// caller rather than sent as text, so it is not escalated on score alone.
// Without retrieved knowledge the evaluator's verdict stands for tool calls
// too: an empty knowledge base always escalates.
func (o *Orchestrator) evaluate(in intent.Result, resp generator.Response, retrieved []knowledge.Retrieved) confidence.Result {
	eval := confidence.Evaluate(confidence.Input{
		IntentConfidence:    in.Confidence,
		SelfReported:        resp.Confidence,
		RetrievedCount:      len(retrieved),
		UsedCount:           len(resp.UsedKnowledgeIDs),
		NeedsClarification:  resp.NeedsClarification,
		EscalationRequested: resp.HasAction(generator.ActionEscalateToHuman),
	}, o.cfg.EscalationThreshold)

	if resp.Tier == generator.TierToolCall && len(retrieved) > 0 && !resp.HasAction(generator.ActionEscalateToHuman) {
		eval.FinalConfidence = resp.Confidence
		eval.ShouldEscalate = false
		eval.Reasons = nil
	}
	return eval
}

func lastTurns(history []llm.Message, n int) []llm.Message {
	if len(history) > n {
		return history[len(history)-n:]
	}
	return history
}

func messageWithPost(b *Bundle) string {
	if b.Post == nil || strings.TrimSpace(b.Post.Caption) == "" {
		return b.Message
	}
	return fmt.Sprintf("%s\n\n(Commented on our post: %s)", b.Message, llm.Preview(b.Post.Caption, 200))
}
