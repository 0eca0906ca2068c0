// Package escalation hands low-confidence conversations to the seller and
// resumes them once the seller answers.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/concierge/internal/knowledge"
	"github.com/MikeSquared-Agency/concierge/internal/llm"
	"github.com/MikeSquared-Agency/concierge/internal/lock"
	"github.com/MikeSquared-Agency/concierge/internal/schema"
)

var questionSchema = schema.MustNew[questionPayload]()

const questionTokens = 150

type Manager struct {
	chat   llm.ChatClient
	store  Store
	locker lock.Locker
	logger *slog.Logger
	now    func() time.Time
}

func NewManager(chat llm.ChatClient, store Store, locker lock.Locker, logger *slog.Logger) *Manager {
	return &Manager{chat: chat, store: store, locker: locker, logger: logger, now: time.Now}
}

// Create opens a pending ticket, mirrors it into the feedback queue, pauses
// the customer's AI and writes the review and holding notifications, all in
// one store transaction. An interaction that already has a pending ticket
// gets that ticket back with nothing written. The question is generated
// before any lock is taken. Store errors are returned.
func (m *Manager) Create(ctx context.Context, req Request) (*Ticket, error) {
	if req.WorkspaceID == "" {
		return nil, knowledge.ErrTenantRequired
	}
	if existing, err := m.pending(ctx, req); err != nil || existing != nil {
		return existing, err
	}
	question, generated := m.Question(llm.WithTenant(ctx, req.WorkspaceID), req)

	unlock, err := m.locker.Lock(ctx, conversationKey(req.WorkspaceID, req.CustomerID, req.InteractionID))
	if err != nil {
		return nil, fmt.Errorf("lock conversation: %w", err)
	}
	defer unlock()

	if existing, err := m.pending(ctx, req); err != nil || existing != nil {
		return existing, err
	}

	now := m.now().UTC()
	t := Ticket{
		ID:              uuid.NewString(),
		WorkspaceID:     req.WorkspaceID,
		InteractionID:   req.InteractionID,
		CustomerID:      req.CustomerID,
		CustomerMessage: req.CustomerMessage,
		Intent:          req.Intent.Intent,
		Question:        question,
		Status:          StatusPending,
		CreatedAt:       now,
	}
	opening := Opening{
		Ticket: t,
		Feedback: FeedbackItem{
			ID:              uuid.NewString(),
			WorkspaceID:     t.WorkspaceID,
			TicketID:        t.ID,
			InteractionID:   t.InteractionID,
			CustomerMessage: t.CustomerMessage,
			Question:        question,
			DraftReply:      req.DraftReply,
			Confidence:      req.Confidence,
			CreatedAt:       now,
		},
	}
	for _, n := range []Notification{
		{Kind: NotificationNeedsReview, Title: "Needs your answer", Body: question},
		{Kind: NotificationSystemMessage, Title: "Sent to customer", Body: HoldingMessage},
	} {
		n.ID = uuid.NewString()
		n.WorkspaceID = t.WorkspaceID
		n.CustomerID = t.CustomerID
		n.InteractionID = t.InteractionID
		n.TicketID = t.ID
		n.CreatedAt = now
		opening.Notifications = append(opening.Notifications, n)
	}

	if err := m.store.OpenTicket(ctx, opening); err != nil {
		if errors.Is(err, ErrPendingTicketExists) {
			// Opened by another replica between the lookup and the insert.
			existing, lookupErr := m.store.PendingTicket(ctx, req.WorkspaceID, req.InteractionID)
			if lookupErr != nil {
				return nil, fmt.Errorf("look up pending ticket: %w", lookupErr)
			}
			escalationsCreated.WithLabelValues("reused").Inc()
			return existing, nil
		}
		return nil, fmt.Errorf("open ticket: %w", err)
	}

	label := "generated"
	if !generated {
		label = "fallback"
	}
	escalationsCreated.WithLabelValues(label).Inc()
	m.logger.Info("escalation created",
		"ticket_id", t.ID,
		"workspace_id", t.WorkspaceID,
		"interaction_id", t.InteractionID,
		"intent", t.Intent,
		"confidence", req.Confidence,
		"reasons", req.Reasons,
	)
	return &t, nil
}

// pending returns the interaction's open ticket, or nil when there is none.
func (m *Manager) pending(ctx context.Context, req Request) (*Ticket, error) {
	t, err := m.store.PendingTicket(ctx, req.WorkspaceID, req.InteractionID)
	if errors.Is(err, ErrTicketNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("look up pending ticket: %w", err)
	}
	escalationsCreated.WithLabelValues("reused").Inc()
	m.logger.Info("interaction already escalated, reusing ticket",
		"ticket_id", t.ID,
		"workspace_id", t.WorkspaceID,
		"interaction_id", t.InteractionID,
	)
	return t, nil
}

// Resolve records the seller's answer, resumes the customer's AI and merges
// the resolution into the interaction in one store transaction, so a failed
// write leaves the ticket pending for a retry. Resolving a resolved ticket
// is a no-op reported through Resolution.AlreadyResolved.
func (m *Manager) Resolve(ctx context.Context, ticketID, sellerReply string, extracted []knowledge.ExtractedKnowledge) (*Resolution, error) {
	t, err := m.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if t.Status == StatusResolved {
		escalationsResolved.WithLabelValues("already_resolved").Inc()
		return &Resolution{Ticket: t, AlreadyResolved: true}, nil
	}

	unlock, err := m.locker.Lock(ctx, conversationKey(t.WorkspaceID, t.CustomerID, t.InteractionID))
	if err != nil {
		return nil, fmt.Errorf("lock conversation: %w", err)
	}
	defer unlock()

	now := m.now().UTC()
	ok, err := m.store.CloseTicket(ctx, Closing{
		Ticket:      *t,
		SellerReply: sellerReply,
		Extracted:   extracted,
		At:          now,
		Metadata: map[string]any{
			"escalation": map[string]any{
				"ticket_id":       t.ID,
				"status":          string(StatusResolved),
				"resolved_at":     now.Format(time.RFC3339),
				"seller_reply":    sellerReply,
				"knowledge_count": len(extracted),
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("close ticket: %w", err)
	}
	if !ok {
		// Lost the race to a concurrent resolve.
		escalationsResolved.WithLabelValues("already_resolved").Inc()
		current, err := m.store.GetTicket(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		return &Resolution{Ticket: current, AlreadyResolved: true}, nil
	}

	t.Status = StatusResolved
	t.SellerReply = sellerReply
	t.ExtractedKnowledge = extracted
	t.ResolvedAt = &now

	escalationsResolved.WithLabelValues("resolved").Inc()
	pendingAge.Observe(now.Sub(t.CreatedAt).Seconds())
	m.logger.Info("escalation resolved",
		"ticket_id", t.ID,
		"workspace_id", t.WorkspaceID,
		"knowledge_items", len(extracted),
	)
	return &Resolution{Ticket: t}, nil
}

// Question asks the model for a targeted seller question. The bool is false
// when the fixed template was used instead.
func (m *Manager) Question(ctx context.Context, req Request) (string, bool) {
	resp, err := m.chat.Chat(ctx, llm.ChatRequest{
		System:      questionSystemPrompt,
		User:        fmt.Sprintf(questionUserPrompt, businessOrDefault(req.BusinessName), req.CustomerMessage, req.Intent.Intent, knownFacts(req.Knowledge)),
		Temperature: 0.2,
		MaxTokens:   questionTokens,
	})
	if err != nil {
		m.logger.Warn("question generation failed, using template", "error", err)
		return FallbackQuestion(req.CustomerMessage), false
	}
	p, err := schema.Decode[questionPayload](questionSchema, []byte(llm.ExtractJSONObject(resp.Content)))
	if err != nil || strings.TrimSpace(p.Question) == "" {
		m.logger.Warn("question output invalid, using template", "error", err, "raw", llm.Preview(resp.Content, 200))
		return FallbackQuestion(req.CustomerMessage), false
	}
	return strings.TrimSpace(p.Question), true
}

func FallbackQuestion(customerMessage string) string {
	return fmt.Sprintf(fallbackQuestion, llm.Preview(customerMessage, 200))
}

// conversationKey serialises pause and resume for one customer, or for one
// interaction when the customer is unknown.
func conversationKey(workspaceID, customerID, interactionID string) string {
	if customerID != "" {
		return lock.CustomerKey(workspaceID, customerID)
	}
	return lock.CustomerKey(workspaceID, "interaction:"+interactionID)
}

func knownFacts(items []knowledge.Retrieved) string {
	if len(items) == 0 {
		return "(nothing relevant)"
	}
	var sb strings.Builder
	for _, it := range items {
		fmt.Fprintf(&sb, "- %s: %s\n", it.Name, llm.Preview(it.Content, 160))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func businessOrDefault(name string) string {
	if name == "" {
		return "(unnamed)"
	}
	return name
}
