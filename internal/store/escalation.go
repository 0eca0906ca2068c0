package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MikeSquared-Agency/concierge/internal/escalation"
	"github.com/MikeSquared-Agency/concierge/internal/intent"
	"github.com/MikeSquared-Agency/concierge/internal/knowledge"
)

// execer is satisfied by both the pool and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const ticketColumns = `id::text, workspace_id, interaction_id, customer_id, customer_message, intent,
	question, seller_reply, extracted_knowledge, status, created_at, resolved_at`

func scanTicket(row pgx.Row) (*escalation.Ticket, error) {
	var t escalation.Ticket
	var customerID, sellerReply *string
	var intentName, status string
	var extracted []byte
	err := row.Scan(
		&t.ID, &t.WorkspaceID, &t.InteractionID, &customerID, &t.CustomerMessage, &intentName,
		&t.Question, &sellerReply, &extracted, &status, &t.CreatedAt, &t.ResolvedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, escalation.ErrTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get clarification ticket: %w", err)
	}
	t.CustomerID = deref(customerID)
	t.SellerReply = deref(sellerReply)
	t.Intent = intent.Intent(intentName)
	t.Status = escalation.Status(status)
	if len(extracted) > 0 {
		if err := json.Unmarshal(extracted, &t.ExtractedKnowledge); err != nil {
			return nil, fmt.Errorf("decode extracted knowledge: %w", err)
		}
	}
	return &t, nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (*escalation.Ticket, error) {
	return scanTicket(s.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM clarification_tickets
		WHERE id::text = $1
	`, ticketID))
}

// PendingTicket returns the interaction's open ticket.
func (s *Store) PendingTicket(ctx context.Context, workspaceID, interactionID string) (*escalation.Ticket, error) {
	return scanTicket(s.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM clarification_tickets
		WHERE workspace_id = $1 AND interaction_id = $2 AND status = 'pending'
	`, workspaceID, interactionID))
}

// OpenTicket writes a ticket and everything an escalation touches in one
// transaction. The partial unique index on pending tickets makes a second
// open for the same interaction fail with escalation.ErrPendingTicketExists.
func (s *Store) OpenTicket(ctx context.Context, o escalation.Opening) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	t := o.Ticket
	tag, err := tx.Exec(ctx, `
		INSERT INTO clarification_tickets
			(id, workspace_id, interaction_id, customer_id, customer_message, intent, question, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', $8)
		ON CONFLICT (workspace_id, interaction_id) WHERE status = 'pending' DO NOTHING
	`, t.ID, t.WorkspaceID, t.InteractionID, nullIfEmpty(t.CustomerID), t.CustomerMessage,
		string(t.Intent), t.Question, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert clarification ticket: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return escalation.ErrPendingTicketExists
	}

	f := o.Feedback
	_, err = tx.Exec(ctx, `
		INSERT INTO feedback_queue
			(id, workspace_id, ticket_id, interaction_id, customer_message, question, draft_reply, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, f.ID, f.WorkspaceID, f.TicketID, f.InteractionID, f.CustomerMessage, f.Question,
		f.DraftReply, f.Confidence, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("enqueue feedback: %w", err)
	}

	if t.CustomerID != "" {
		if err := setCustomerAIPaused(ctx, tx, t.WorkspaceID, t.CustomerID, true, t.CreatedAt); err != nil {
			return err
		}
	}

	for _, n := range o.Notifications {
		_, err = tx.Exec(ctx, `
			INSERT INTO notifications
				(id, workspace_id, customer_id, interaction_id, ticket_id, kind, title, body, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, n.ID, n.WorkspaceID, nullIfEmpty(n.CustomerID), n.InteractionID, nullIfEmpty(n.TicketID),
			string(n.Kind), n.Title, n.Body, n.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert %s notification: %w", n.Kind, err)
		}
	}

	if t.CustomerID != "" {
		if err := refreshInboxSummary(ctx, tx, t.WorkspaceID, t.CustomerID); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// CloseTicket is a compare-and-set on status followed by the resume,
// metadata merge and inbox refresh, all in one transaction. Only a pending
// ticket moves; otherwise nothing is written and false is returned.
func (s *Store) CloseTicket(ctx context.Context, c escalation.Closing) (bool, error) {
	extracted := c.Extracted
	if extracted == nil {
		extracted = []knowledge.ExtractedKnowledge{}
	}
	payload, err := json.Marshal(extracted)
	if err != nil {
		return false, fmt.Errorf("encode extracted knowledge: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	t := c.Ticket
	tag, err := tx.Exec(ctx, `
		UPDATE clarification_tickets
		SET status = 'resolved', seller_reply = $2, extracted_knowledge = $3, resolved_at = $4
		WHERE id::text = $1 AND status = 'pending'
	`, t.ID, c.SellerReply, payload, c.At)
	if err != nil {
		return false, fmt.Errorf("resolve clarification ticket: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}

	if t.CustomerID != "" {
		if err := setCustomerAIPaused(ctx, tx, t.WorkspaceID, t.CustomerID, false, c.At); err != nil {
			return false, err
		}
	}
	if err := mergeInteractionMetadata(ctx, tx, t.WorkspaceID, t.InteractionID, c.Metadata); err != nil {
		return false, err
	}
	if t.CustomerID != "" {
		if err := refreshInboxSummary(ctx, tx, t.WorkspaceID, t.CustomerID); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}
	return true, nil
}

// setCustomerAIPaused upserts the customer row so a first-contact customer
// can be paused too.
func setCustomerAIPaused(ctx context.Context, db execer, workspaceID, customerID string, paused bool, at time.Time) error {
	var pausedAt *time.Time
	if paused {
		pausedAt = &at
	}
	_, err := db.Exec(ctx, `
		INSERT INTO customers (workspace_id, id, ai_paused, ai_paused_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (workspace_id, id)
		DO UPDATE SET ai_paused = EXCLUDED.ai_paused, ai_paused_at = EXCLUDED.ai_paused_at
	`, workspaceID, customerID, paused, pausedAt)
	if err != nil {
		return fmt.Errorf("set customer ai paused: %w", err)
	}
	return nil
}

func (s *Store) MergeInteractionMetadata(ctx context.Context, workspaceID, interactionID string, meta map[string]any) error {
	return mergeInteractionMetadata(ctx, s.pool, workspaceID, interactionID, meta)
}

// mergeInteractionMetadata uses jsonb concatenation, so existing keys the
// patch does not name survive.
func mergeInteractionMetadata(ctx context.Context, db execer, workspaceID, interactionID string, meta map[string]any) error {
	patch, err := marshalJSON(meta)
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, `
		UPDATE interactions
		SET metadata = COALESCE(metadata, '{}'::jsonb) || $3::jsonb
		WHERE workspace_id = $1 AND id = $2
	`, workspaceID, interactionID, patch)
	if err != nil {
		return fmt.Errorf("merge interaction metadata: %w", err)
	}
	return nil
}

// refreshInboxSummary recomputes the per-customer row the dashboard inbox
// reads.
func refreshInboxSummary(ctx context.Context, db execer, workspaceID, customerID string) error {
	_, err := db.Exec(ctx, `
		INSERT INTO inbox_summaries (workspace_id, customer_id, last_message, last_message_at, open_tickets, ai_paused, updated_at)
		SELECT $1, $2,
		       COALESCE((SELECT message FROM interactions
		                 WHERE workspace_id = $1 AND customer_id = $2
		                 ORDER BY created_at DESC LIMIT 1), ''),
		       (SELECT max(created_at) FROM interactions WHERE workspace_id = $1 AND customer_id = $2),
		       (SELECT count(*) FROM clarification_tickets
		        WHERE workspace_id = $1 AND customer_id = $2 AND status = 'pending'),
		       COALESCE((SELECT ai_paused FROM customers WHERE workspace_id = $1 AND id = $2), false),
		       now()
		ON CONFLICT (workspace_id, customer_id) DO UPDATE SET
			last_message = EXCLUDED.last_message,
			last_message_at = EXCLUDED.last_message_at,
			open_tickets = EXCLUDED.open_tickets,
			ai_paused = EXCLUDED.ai_paused,
			updated_at = EXCLUDED.updated_at
	`, workspaceID, customerID)
	if err != nil {
		return fmt.Errorf("refresh inbox summary: %w", err)
	}
	return nil
}

// ListTickets returns a workspace's most recent tickets, newest first.
func (s *Store) ListTickets(ctx context.Context, workspaceID string, status escalation.Status, limit int) ([]escalation.Ticket, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, workspace_id, interaction_id, customer_id, customer_message, intent,
		       question, seller_reply, status, created_at, resolved_at
		FROM clarification_tickets
		WHERE workspace_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, workspaceID, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list clarification tickets: %w", err)
	}
	defer rows.Close()

	var tickets []escalation.Ticket
	for rows.Next() {
		var t escalation.Ticket
		var customerID, sellerReply *string
		var intentName, st string
		if err := rows.Scan(
			&t.ID, &t.WorkspaceID, &t.InteractionID, &customerID, &t.CustomerMessage, &intentName,
			&t.Question, &sellerReply, &st, &t.CreatedAt, &t.ResolvedAt,
		); err != nil {
			return nil, fmt.Errorf("scan clarification ticket: %w", err)
		}
		t.CustomerID = deref(customerID)
		t.SellerReply = deref(sellerReply)
		t.Intent = intent.Intent(intentName)
		t.Status = escalation.Status(st)
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return tickets, nil
}
