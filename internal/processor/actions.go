package processor

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/MikeSquared-Agency/concierge/internal/slack"
)

// InteractionEvent matches the slack-gateway interaction event format.
type InteractionEvent struct {
	ActionID  string `json:"action_id"`
	Value     string `json:"value"`
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
	ChannelID string `json:"channel_id"`
	MessageTS string `json:"message_ts"`
	TriggerID string `json:"trigger_id"`
}

// HandleReaction applies the seller's verdict on a knowledge review:
// confirmed items are verified, rejected items are deleted.
func (p *Processor) HandleReaction(subject string, data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	evt, err := slack.ParseReactionEvent(data, p.logger)
	if err != nil {
		p.logger.Error("failed to parse reaction", "error", err)
		return
	}

	verdict := slack.ParseReaction(evt.Reaction)
	if verdict == slack.VerdictUnknown {
		return // not a review reaction
	}

	p.mu.Lock()
	review, ok := p.pendingReviews[evt.MessageTS]
	if ok {
		delete(p.pendingReviews, evt.MessageTS)
	}
	p.mu.Unlock()
	if !ok {
		return // not a message we're tracking
	}

	p.logger.Info("processing knowledge review reaction",
		"reaction", evt.Reaction,
		"verdict", string(verdict),
		"ticket_id", review.TicketID,
		"items", len(review.ItemIDs),
	)

	for _, id := range review.ItemIDs {
		switch verdict {
		case slack.VerdictConfirmed:
			if err := p.store.MarkVerified(ctx, review.WorkspaceID, id); err != nil {
				p.logger.Error("failed to verify knowledge", "knowledge_id", id, "error", err)
			}
		case slack.VerdictRejected:
			if err := p.store.DeleteKnowledge(ctx, review.WorkspaceID, id); err != nil {
				p.logger.Error("failed to delete knowledge", "knowledge_id", id, "error", err)
			}
		}
	}

	if verdict == slack.VerdictRejected && p.notifier != nil {
		if err := p.notifier.PostThread(ctx, evt.MessageTS, "Removed. Reply with the correct details and I'll learn them instead."); err != nil {
			p.logger.Error("failed to post correction thread", "error", err)
		}
	}
}

// HandleSlackAction processes button clicks from slack-gateway. The only
// action is answering a ticket with the draft reply shown in Slack.
func (p *Processor) HandleSlackAction(subject string, data []byte) {
	var evt InteractionEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		p.logger.Warn("failed to parse interaction event", "error", err)
		return
	}

	ticketID, ok := strings.CutPrefix(evt.ActionID, slack.ActionUseDraft)
	if !ok {
		return // not our action, ignore
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	res, err := p.ResolveSellerReply(ctx, ticketID, evt.Value)
	if err != nil {
		p.logger.Error("failed to answer ticket with draft",
			"error", err,
			"ticket_id", ticketID,
			"user", evt.UserName,
		)
		return
	}
	p.logger.Info("ticket answered with draft",
		"ticket_id", ticketID,
		"already_resolved", res.Resolution.AlreadyResolved,
		"user", evt.UserName,
	)
}
