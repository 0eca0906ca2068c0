package escalation

import (
	"context"
	"errors"
	"time"

	"github.com/MikeSquared-Agency/concierge/internal/intent"
	"github.com/MikeSquared-Agency/concierge/internal/knowledge"
)

var (
	ErrTicketNotFound      = errors.New("clarification ticket not found")
	ErrPendingTicketExists = errors.New("interaction already has a pending ticket")
)

// Status is the ticket state. pending -> resolved is the only transition.
type Status string

const (
	StatusPending  Status = "pending"
	StatusResolved Status = "resolved"
)

// Ticket is a clarification request sent to the seller.
type Ticket struct {
	ID                 string                         `json:"id"`
	WorkspaceID        string                         `json:"workspace_id"`
	InteractionID      string                         `json:"interaction_id"`
	CustomerID         string                         `json:"customer_id,omitempty"`
	CustomerMessage    string                         `json:"customer_message"`
	Intent             intent.Intent                  `json:"intent"`
	Question           string                         `json:"question"`
	SellerReply        string                         `json:"seller_reply,omitempty"`
	ExtractedKnowledge []knowledge.ExtractedKnowledge `json:"extracted_knowledge,omitempty"`
	Status             Status                         `json:"status"`
	CreatedAt          time.Time                      `json:"created_at"`
	ResolvedAt         *time.Time                     `json:"resolved_at,omitempty"`
}

// FeedbackItem mirrors a ticket into the dashboard's review queue.
type FeedbackItem struct {
	ID              string    `json:"id"`
	WorkspaceID     string    `json:"workspace_id"`
	TicketID        string    `json:"ticket_id"`
	InteractionID   string    `json:"interaction_id"`
	CustomerMessage string    `json:"customer_message"`
	Question        string    `json:"question"`
	DraftReply      string    `json:"draft_reply,omitempty"`
	Confidence      float64   `json:"confidence"`
	CreatedAt       time.Time `json:"created_at"`
}

type NotificationKind string

const (
	NotificationNeedsReview   NotificationKind = "needs_review"
	NotificationSystemMessage NotificationKind = "system_message"
)

type Notification struct {
	ID            string           `json:"id"`
	WorkspaceID   string           `json:"workspace_id"`
	CustomerID    string           `json:"customer_id,omitempty"`
	InteractionID string           `json:"interaction_id"`
	TicketID      string           `json:"ticket_id"`
	Kind          NotificationKind `json:"kind"`
	Title         string           `json:"title"`
	Body          string           `json:"body"`
	CreatedAt     time.Time        `json:"created_at"`
}

// Store persists tickets and the side records an escalation touches.
// Opening and closing a ticket are each atomic.
type Store interface {
	GetTicket(ctx context.Context, ticketID string) (*Ticket, error)
	// PendingTicket returns the interaction's open ticket or
	// ErrTicketNotFound.
	PendingTicket(ctx context.Context, workspaceID, interactionID string) (*Ticket, error)
	// OpenTicket writes the ticket, its feedback mirror, the customer pause
	// and the notifications. It returns ErrPendingTicketExists when the
	// interaction already has an open ticket.
	OpenTicket(ctx context.Context, o Opening) error
	// CloseTicket moves a pending ticket to resolved, resumes the customer
	// and merges Metadata into the interaction. It reports false, writing
	// nothing, when the ticket was no longer pending.
	CloseTicket(ctx context.Context, c Closing) (bool, error)
}

// Opening is everything written when a ticket is created.
type Opening struct {
	Ticket        Ticket
	Feedback      FeedbackItem
	Notifications []Notification
}

// Closing is everything written when a ticket is resolved.
type Closing struct {
	Ticket      Ticket
	SellerReply string
	Extracted   []knowledge.ExtractedKnowledge
	Metadata    map[string]any
	At          time.Time
}

// Request describes the run being escalated.
type Request struct {
	WorkspaceID     string
	InteractionID   string
	CustomerID      string
	CustomerMessage string
	BusinessName    string
	Intent          intent.Result
	DraftReply      string
	Confidence      float64
	Reasons         []string
	Knowledge       []knowledge.Retrieved
}

// Resolution is the outcome of Resolve. AlreadyResolved marks a repeat call
// that changed nothing.
type Resolution struct {
	Ticket          *Ticket `json:"ticket"`
	AlreadyResolved bool    `json:"already_resolved"`
}

type questionPayload struct {
	Question string `json:"question" jsonschema:"required,minLength=1"`
}
