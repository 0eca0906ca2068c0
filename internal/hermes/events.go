package hermes

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/MikeSquared-Agency/concierge/internal/generator"
)

const (
	// Inbound.
	SubjectInteractionReceived = "concierge.interaction.received"
	SubjectSellerReply         = "concierge.seller.reply"
	// Slack events relayed by slack-forwarder and slack-gateway.
	SubjectSlackReaction    = "concierge.slack.reaction"
	SubjectSlackInteraction = "concierge.slack.interaction"

	// Outbound.
	SubjectReplyReady         = "concierge.reply.ready"
	SubjectEscalationCreated  = "concierge.escalation.created"
	SubjectEscalationResolved = "concierge.escalation.resolved"
	SubjectKnowledgeGap       = "concierge.knowledge.gap"
)

// InteractionReceived announces a customer message. When Message is set the
// interaction is recorded before it is processed; otherwise it must already
// be stored.
type InteractionReceived struct {
	InteractionID string    `json:"interaction_id"`
	WorkspaceID   string    `json:"workspace_id,omitempty"`
	CustomerID    string    `json:"customer_id,omitempty"`
	AuthorID      string    `json:"author_id,omitempty"`
	AuthorName    string    `json:"author_name,omitempty"`
	AuthorHandle  string    `json:"author_handle,omitempty"`
	PostID        string    `json:"post_id,omitempty"`
	PostCaption   string    `json:"post_caption,omitempty"`
	Message       string    `json:"message,omitempty"`
	ReceivedAt    time.Time `json:"received_at,omitempty"`
}

// SellerReply is the seller's answer to a clarification ticket.
type SellerReply struct {
	TicketID string `json:"ticket_id"`
	Text     string `json:"text"`
}

// ReplyReady asks the channel adapter to send a reply. Holding marks the
// "checking with our team" message sent while a ticket is open.
type ReplyReady struct {
	WorkspaceID   string           `json:"workspace_id"`
	InteractionID string           `json:"interaction_id"`
	CustomerID    string           `json:"customer_id,omitempty"`
	Reply         string           `json:"reply"`
	ToolCalls     []generator.Call `json:"tool_calls,omitempty"`
	Confidence    float64          `json:"confidence"`
	Holding       bool             `json:"holding,omitempty"`
	Timestamp     time.Time        `json:"timestamp"`
}

type EscalationCreated struct {
	TicketID      string    `json:"ticket_id"`
	WorkspaceID   string    `json:"workspace_id"`
	InteractionID string    `json:"interaction_id"`
	CustomerID    string    `json:"customer_id,omitempty"`
	Question      string    `json:"question"`
	Confidence    float64   `json:"confidence"`
	Reasons       []string  `json:"reasons,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

type EscalationResolved struct {
	TicketID        string    `json:"ticket_id"`
	WorkspaceID     string    `json:"workspace_id"`
	InteractionID   string    `json:"interaction_id"`
	CustomerID      string    `json:"customer_id,omitempty"`
	SellerReply     string    `json:"seller_reply"`
	KnowledgeStored int       `json:"knowledge_stored"`
	Duplicates      int       `json:"duplicates"`
	Timestamp       time.Time `json:"timestamp"`
}

// KnowledgeGap reports a cluster of similar questions the knowledge base
// could not answer.
type KnowledgeGap struct {
	WorkspaceID       string    `json:"workspace_id"`
	Representative    string    `json:"representative"`
	Count             int       `json:"count"`
	Pending           int       `json:"pending"`
	TicketIDs         []string  `json:"ticket_ids"`
	SuggestedCategory string    `json:"suggested_category"`
	Timestamp         time.Time `json:"timestamp"`
}

// Decode unmarshals an event payload received on subject.
func Decode[T any](subject string, data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("decode %s: %w", subject, err)
	}
	return v, nil
}
