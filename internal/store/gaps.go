package store

import (
	"context"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/MikeSquared-Agency/concierge/internal/escalation"
	"github.com/MikeSquared-Agency/concierge/internal/gaps"
	"github.com/MikeSquared-Agency/concierge/internal/intent"
)

// ListTicketMessages returns the customer messages of tickets created since
// the given time, with their cached embeddings when present.
func (s *Store) ListTicketMessages(ctx context.Context, workspaceID string, since time.Time) ([]gaps.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, customer_message, intent, status, created_at, message_embedding
		FROM clarification_tickets
		WHERE workspace_id = $1 AND created_at >= $2
		ORDER BY created_at ASC
	`, workspaceID, since)
	if err != nil {
		return nil, fmt.Errorf("list ticket messages: %w", err)
	}
	defer rows.Close()

	var msgs []gaps.Message
	for rows.Next() {
		var m gaps.Message
		var intentName, status string
		var embedding *pgvector.Vector
		if err := rows.Scan(&m.TicketID, &m.Text, &intentName, &status, &m.CreatedAt, &embedding); err != nil {
			return nil, fmt.Errorf("scan ticket message: %w", err)
		}
		m.Intent = intent.Intent(intentName)
		m.Status = escalation.Status(status)
		if embedding != nil {
			m.Embedding = embedding.Slice()
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return msgs, nil
}

func (s *Store) SetTicketEmbedding(ctx context.Context, ticketID string, embedding []float32) error {
	if _, err := s.pool.Exec(ctx, `
		UPDATE clarification_tickets SET message_embedding = $2 WHERE id::text = $1
	`, ticketID, pgVector(embedding)); err != nil {
		return fmt.Errorf("set ticket embedding: %w", err)
	}
	return nil
}
