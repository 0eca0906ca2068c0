// Package processor is the caller side of the pipeline: it consumes bus
// events, persists and dispatches replies, escalates, and applies seller
// answers and reviews.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/concierge/internal/escalation"
	"github.com/MikeSquared-Agency/concierge/internal/extractor"
	"github.com/MikeSquared-Agency/concierge/internal/hermes"
	"github.com/MikeSquared-Agency/concierge/internal/intent"
	"github.com/MikeSquared-Agency/concierge/internal/knowledge"
	"github.com/MikeSquared-Agency/concierge/internal/llm"
	"github.com/MikeSquared-Agency/concierge/internal/orchestrator"
	"github.com/MikeSquared-Agency/concierge/internal/store"
)

// handlerTimeout bounds the work done for one bus event.
const handlerTimeout = 2 * time.Minute

// Seller replies this short may be a bare confirmation.
const maxConfirmationWords = 3

type Runner interface {
	Run(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
}

type Escalator interface {
	Create(ctx context.Context, req escalation.Request) (*escalation.Ticket, error)
	Resolve(ctx context.Context, ticketID, sellerReply string, extracted []knowledge.ExtractedKnowledge) (*escalation.Resolution, error)
}

type Extractor interface {
	Process(ctx context.Context, workspaceID, sourceID, text, contextNote string) ([]knowledge.ExtractedKnowledge, *extractor.Outcome, error)
}

// Store is the persistence the processor touches directly.
type Store interface {
	RecordInteraction(ctx context.Context, in store.Interaction) error
	LoadBundle(ctx context.Context, interactionID string) (*orchestrator.Bundle, error)
	SaveReply(ctx context.Context, workspaceID, interactionID, reply string, meta map[string]any) error
	MergeInteractionMetadata(ctx context.Context, workspaceID, interactionID string, meta map[string]any) error
	GetTicket(ctx context.Context, ticketID string) (*escalation.Ticket, error)
	MarkVerified(ctx context.Context, workspaceID, id string) error
	DeleteKnowledge(ctx context.Context, workspaceID, id string) error
}

// Confirmer reads a reply to a yes/no question.
type Confirmer interface {
	ClassifyConfirmation(ctx context.Context, question, message string) intent.Answer
}

type Publisher interface {
	Publish(subject string, data any) error
}

// Notifier is the seller-facing channel. It is optional.
type Notifier interface {
	PostEscalation(ctx context.Context, t *escalation.Ticket, draftReply string, confidence float64) (string, error)
	PostKnowledgeReview(ctx context.Context, threadTS string, items []knowledge.Item) (string, error)
	PostThread(ctx context.Context, threadTS, text string) error
}

type Processor struct {
	store     Store
	runner    Runner
	escalator Escalator
	extractor Extractor
	bus       Publisher
	notifier  Notifier
	confirmer Confirmer
	logger    *slog.Logger
	now       func() time.Time

	mu             sync.Mutex
	ticketThreads  map[string]string         // ticket id -> slack ts of its escalation post
	pendingReviews map[string]*pendingReview // keyed by slack ts of the knowledge review
}

// pendingReview is knowledge awaiting the seller's reaction.
type pendingReview struct {
	WorkspaceID string
	TicketID    string
	ItemIDs     []string
}

func New(s Store, runner Runner, esc Escalator, ext Extractor, bus Publisher, notifier Notifier, logger *slog.Logger) *Processor {
	return &Processor{
		store:          s,
		runner:         runner,
		escalator:      esc,
		extractor:      ext,
		bus:            bus,
		notifier:       notifier,
		logger:         logger,
		now:            time.Now,
		ticketThreads:  make(map[string]string),
		pendingReviews: make(map[string]*pendingReview),
	}
}

// SetConfirmer enables reading bare yes/no seller replies against the
// ticket's question before extraction.
func (p *Processor) SetConfirmer(c Confirmer) {
	p.confirmer = c
}

// HandleInboundMessage is the bus handler for concierge.interaction.received.
func (p *Processor) HandleInboundMessage(subject string, data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	evt, err := hermes.Decode[hermes.InteractionReceived](subject, data)
	if err != nil {
		p.logger.Error("failed to parse interaction event", "error", err)
		return
	}
	if evt.InteractionID == "" {
		p.logger.Warn("interaction event without id", "subject", subject)
		return
	}
	if _, err := p.ProcessInteraction(ctx, evt); err != nil {
		p.logger.Error("interaction processing failed", "interaction_id", evt.InteractionID, "error", err)
	}
}

// Outcome reports what ProcessInteraction did.
type Outcome struct {
	Skipped bool                 `json:"skipped,omitempty"`
	Result  *orchestrator.Result `json:"result,omitempty"`
	Ticket  *escalation.Ticket   `json:"ticket,omitempty"`
}

// ProcessInteraction records the message when the event carries it, runs
// the pipeline and acts on the decision. Messages from customers whose AI
// is paused are left for the seller.
func (p *Processor) ProcessInteraction(ctx context.Context, evt hermes.InteractionReceived) (*Outcome, error) {
	if evt.Message != "" {
		if err := p.store.RecordInteraction(ctx, store.Interaction{
			ID:           evt.InteractionID,
			WorkspaceID:  evt.WorkspaceID,
			CustomerID:   evt.CustomerID,
			AuthorID:     evt.AuthorID,
			AuthorName:   evt.AuthorName,
			AuthorHandle: evt.AuthorHandle,
			PostID:       evt.PostID,
			PostCaption:  evt.PostCaption,
			Message:      evt.Message,
			CreatedAt:    evt.ReceivedAt,
		}); err != nil {
			return nil, fmt.Errorf("record interaction: %w", err)
		}
	}

	b, err := p.store.LoadBundle(ctx, evt.InteractionID)
	if err != nil {
		return nil, fmt.Errorf("load interaction: %w", err)
	}
	if b.AIPaused {
		p.logger.Info("ai paused for customer, leaving message for seller",
			"interaction_id", b.InteractionID,
			"customer_id", b.CustomerID,
		)
		if err := p.store.MergeInteractionMetadata(ctx, b.WorkspaceID, b.InteractionID, map[string]any{
			"pipeline": map[string]any{"skipped": "ai_paused"},
		}); err != nil {
			return nil, fmt.Errorf("mark skipped: %w", err)
		}
		return &Outcome{Skipped: true}, nil
	}

	res, err := p.runner.Run(ctx, orchestrator.Request{Bundle: b})
	if err != nil {
		return nil, fmt.Errorf("run pipeline: %w", err)
	}

	if !res.ShouldEscalate {
		if err := p.store.SaveReply(ctx, res.WorkspaceID, res.InteractionID, res.Response.Reply, runMetadata(res, "")); err != nil {
			return nil, fmt.Errorf("save reply: %w", err)
		}
		p.publish(hermes.SubjectReplyReady, hermes.ReplyReady{
			WorkspaceID:   res.WorkspaceID,
			InteractionID: res.InteractionID,
			CustomerID:    res.CustomerID,
			Reply:         res.Response.Reply,
			ToolCalls:     res.Response.ToolCalls,
			Confidence:    res.Confidence,
			Timestamp:     p.now().UTC(),
		})
		return &Outcome{Result: res}, nil
	}

	ticket, err := p.escalator.Create(ctx, escalation.Request{
		WorkspaceID:     res.WorkspaceID,
		InteractionID:   res.InteractionID,
		CustomerID:      res.CustomerID,
		CustomerMessage: res.Message,
		BusinessName:    b.Profile.BusinessName,
		Intent:          res.Intent,
		DraftReply:      res.Response.Reply,
		Confidence:      res.Confidence,
		Reasons:         res.Evaluation.Reasons,
		Knowledge:       res.Knowledge,
	})
	if err != nil {
		return nil, fmt.Errorf("create escalation: %w", err)
	}

	if err := p.store.SaveReply(ctx, res.WorkspaceID, res.InteractionID, escalation.HoldingMessage, runMetadata(res, ticket.ID)); err != nil {
		return nil, fmt.Errorf("save holding reply: %w", err)
	}
	p.publish(hermes.SubjectReplyReady, hermes.ReplyReady{
		WorkspaceID:   res.WorkspaceID,
		InteractionID: res.InteractionID,
		CustomerID:    res.CustomerID,
		Reply:         escalation.HoldingMessage,
		Confidence:    res.Confidence,
		Holding:       true,
		Timestamp:     p.now().UTC(),
	})
	p.publish(hermes.SubjectEscalationCreated, hermes.EscalationCreated{
		TicketID:      ticket.ID,
		WorkspaceID:   ticket.WorkspaceID,
		InteractionID: ticket.InteractionID,
		CustomerID:    ticket.CustomerID,
		Question:      ticket.Question,
		Confidence:    res.Confidence,
		Reasons:       res.Evaluation.Reasons,
		Timestamp:     p.now().UTC(),
	})

	if p.notifier != nil {
		ts, err := p.notifier.PostEscalation(ctx, ticket, res.Response.Reply, res.Confidence)
		if err != nil {
			p.logger.Error("slack post failed", "ticket_id", ticket.ID, "error", err)
		} else {
			p.mu.Lock()
			p.ticketThreads[ticket.ID] = ts
			p.mu.Unlock()
		}
	}
	return &Outcome{Result: res, Ticket: ticket}, nil
}

// HandleSellerReply is the bus handler for concierge.seller.reply.
func (p *Processor) HandleSellerReply(subject string, data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	evt, err := hermes.Decode[hermes.SellerReply](subject, data)
	if err != nil {
		p.logger.Error("failed to parse seller reply", "error", err)
		return
	}
	if _, err := p.ResolveSellerReply(ctx, evt.TicketID, evt.Text); err != nil {
		p.logger.Error("seller reply failed", "ticket_id", evt.TicketID, "error", err)
	}
}

var ErrEmptyReply = errors.New("seller reply is empty")

// ResolveResult is what applying a seller reply produced.
type ResolveResult struct {
	Resolution *escalation.Resolution         `json:"resolution"`
	Extracted  []knowledge.ExtractedKnowledge `json:"extracted,omitempty"`
	Outcome    *extractor.Outcome             `json:"outcome,omitempty"`
}

// ResolveSellerReply extracts knowledge from the seller's answer, persists
// it and resolves the ticket. The ticket is looked up first so an unknown
// id fails with escalation.ErrTicketNotFound and a resolved ticket is a
// no-op. Knowledge is persisted before the ticket is resolved, so a failed
// write leaves the ticket pending and the reply can be retried.
func (p *Processor) ResolveSellerReply(ctx context.Context, ticketID, text string) (*ResolveResult, error) {
	if text == "" {
		return nil, ErrEmptyReply
	}
	t, err := p.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if t.Status == escalation.StatusResolved {
		return &ResolveResult{Resolution: &escalation.Resolution{Ticket: t, AlreadyResolved: true}}, nil
	}

	contextNote := fmt.Sprintf("The customer asked: %q. We asked the seller: %q.", t.CustomerMessage, t.Question)
	extracted, outcome, err := p.extractor.Process(ctx, t.WorkspaceID, t.ID, p.extractionText(ctx, t, text), contextNote)
	if err != nil {
		return nil, fmt.Errorf("persist knowledge: %w", err)
	}

	resolution, err := p.escalator.Resolve(ctx, t.ID, text, extracted)
	if err != nil {
		return nil, fmt.Errorf("resolve escalation: %w", err)
	}
	result := &ResolveResult{Resolution: resolution, Extracted: extracted, Outcome: outcome}
	if resolution.AlreadyResolved {
		return result, nil
	}

	p.publish(hermes.SubjectEscalationResolved, hermes.EscalationResolved{
		TicketID:        t.ID,
		WorkspaceID:     t.WorkspaceID,
		InteractionID:   t.InteractionID,
		CustomerID:      t.CustomerID,
		SellerReply:     text,
		KnowledgeStored: len(outcome.Stored),
		Duplicates:      len(outcome.Duplicates),
		Timestamp:       p.now().UTC(),
	})
	p.requestReview(ctx, t, outcome.Stored)
	return result, nil
}

// extractionText turns a bare "yes"/"no" into a statement the extractor can
// learn from by pairing it with the question it answers.
func (p *Processor) extractionText(ctx context.Context, t *escalation.Ticket, reply string) string {
	if p.confirmer == nil || len(strings.Fields(reply)) > maxConfirmationWords {
		return reply
	}
	switch answer := p.confirmer.ClassifyConfirmation(llm.WithTenant(ctx, t.WorkspaceID), t.Question, reply); answer {
	case intent.AnswerYes, intent.AnswerNo:
		return fmt.Sprintf("Question: %s\nSeller's answer: %s (%q)", t.Question, answer, reply)
	default:
		return reply
	}
}

// requestReview posts stored items the seller has not yet confirmed.
func (p *Processor) requestReview(ctx context.Context, t *escalation.Ticket, stored []knowledge.Item) {
	if p.notifier == nil {
		return
	}
	var unverified []knowledge.Item
	for _, it := range stored {
		if !it.IsVerified {
			unverified = append(unverified, it)
		}
	}
	if len(unverified) == 0 {
		return
	}

	p.mu.Lock()
	threadTS := p.ticketThreads[t.ID]
	delete(p.ticketThreads, t.ID)
	p.mu.Unlock()

	ts, err := p.notifier.PostKnowledgeReview(ctx, threadTS, unverified)
	if err != nil {
		p.logger.Error("slack knowledge review failed", "ticket_id", t.ID, "error", err)
		return
	}
	review := &pendingReview{WorkspaceID: t.WorkspaceID, TicketID: t.ID}
	for _, it := range unverified {
		review.ItemIDs = append(review.ItemIDs, it.ID)
	}
	p.mu.Lock()
	p.pendingReviews[ts] = review
	p.mu.Unlock()
}

// runMetadata is what a run leaves on the interaction.
func runMetadata(res *orchestrator.Result, ticketID string) map[string]any {
	pipeline := map[string]any{
		"intent":            res.Intent.Intent,
		"intent_confidence": res.Intent.Confidence,
		"confidence":        res.Confidence,
		"should_escalate":   res.ShouldEscalate,
		"tier":              res.Response.Tier,
		"used_knowledge":    res.Response.UsedKnowledgeIDs,
		"duration_ms":       res.DurationMS,
	}
	if len(res.Evaluation.Reasons) > 0 {
		pipeline["reasons"] = res.Evaluation.Reasons
	}
	if len(res.Response.SuggestedActions) > 0 {
		pipeline["suggested_actions"] = res.Response.SuggestedActions
	}
	if ticketID != "" {
		pipeline["ticket_id"] = ticketID
	}
	return map[string]any{"pipeline": pipeline}
}

func (p *Processor) publish(subject string, data any) {
	if p.bus == nil {
		return
	}
	if err := p.bus.Publish(subject, data); err != nil {
		p.logger.Error("failed to publish event", "subject", subject, "error", err)
	}
}
