package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/concierge/internal/generator"
	"github.com/MikeSquared-Agency/concierge/internal/llm"
	"github.com/MikeSquared-Agency/concierge/internal/orchestrator"
)

var ErrInteractionNotFound = errors.New("interaction not found")

// historyInteractions bounds how many earlier interactions LoadBundle turns
// into conversation history.
const historyInteractions = 5

// Interaction is an inbound customer message as stored.
type Interaction struct {
	ID           string
	WorkspaceID  string
	CustomerID   string
	AuthorID     string
	AuthorName   string
	AuthorHandle string
	PostID       string
	PostCaption  string
	Message      string
	CreatedAt    time.Time
}

// UpsertWorkspace stores the business profile used in generation prompts.
func (s *Store) UpsertWorkspace(ctx context.Context, workspaceID string, p generator.Profile) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO workspaces (id, business_name, tone, language)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			business_name = EXCLUDED.business_name,
			tone = EXCLUDED.tone,
			language = EXCLUDED.language
	`, workspaceID, p.BusinessName, p.Tone, p.Language)
	if err != nil {
		return fmt.Errorf("upsert workspace: %w", err)
	}
	return nil
}

// RecordInteraction stores an inbound message and makes sure its customer
// row exists.
func (s *Store) RecordInteraction(ctx context.Context, in Interaction) error {
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin interaction transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if in.CustomerID != "" {
		if _, err := tx.Exec(ctx, `
			INSERT INTO customers (workspace_id, id, name, handle)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (workspace_id, id) DO NOTHING
		`, in.WorkspaceID, in.CustomerID, in.AuthorName, in.AuthorHandle); err != nil {
			return fmt.Errorf("ensure customer: %w", err)
		}
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO interactions
			(id, workspace_id, customer_id, author_id, author_name, author_handle, post_id, post_caption, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`, in.ID, in.WorkspaceID, nullIfEmpty(in.CustomerID), in.AuthorID, in.AuthorName, in.AuthorHandle,
		nullIfEmpty(in.PostID), nullIfEmpty(in.PostCaption), in.Message, in.CreatedAt); err != nil {
		return fmt.Errorf("insert interaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit interaction transaction: %w", err)
	}
	return nil
}

// LoadBundle joins an interaction with its workspace profile, customer state
// and the customer's recent conversation.
func (s *Store) LoadBundle(ctx context.Context, interactionID string) (*orchestrator.Bundle, error) {
	var b orchestrator.Bundle
	var customerID, postID, postCaption *string
	var createdAt time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT i.id, i.workspace_id, i.customer_id, i.author_id, i.author_name, i.author_handle,
		       i.post_id, i.post_caption, i.message, i.created_at,
		       COALESCE(w.business_name, ''), COALESCE(w.tone, ''), COALESCE(w.language, ''),
		       COALESCE(c.preferences, ''), COALESCE(c.ai_paused, false)
		FROM interactions i
		LEFT JOIN workspaces w ON w.id = i.workspace_id
		LEFT JOIN customers c ON c.workspace_id = i.workspace_id AND c.id = i.customer_id
		WHERE i.id = $1
	`, interactionID).Scan(
		&b.InteractionID, &b.WorkspaceID, &customerID, &b.Author.ID, &b.Author.Name, &b.Author.Handle,
		&postID, &postCaption, &b.Message, &createdAt,
		&b.Profile.BusinessName, &b.Profile.Tone, &b.Profile.Language,
		&b.CustomerPreferences, &b.AIPaused,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInteractionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load interaction: %w", err)
	}
	b.CustomerID = deref(customerID)
	if postID != nil {
		b.Post = &orchestrator.Post{ID: *postID, Caption: deref(postCaption)}
	}

	if b.CustomerID != "" {
		history, err := s.history(ctx, b.WorkspaceID, b.CustomerID, createdAt)
		if err != nil {
			return nil, err
		}
		b.History = history
	}
	return &b, nil
}

// history returns earlier exchanges oldest first, each as a user turn plus
// the reply when one was sent.
func (s *Store) history(ctx context.Context, workspaceID, customerID string, before time.Time) ([]llm.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT message, reply
		FROM interactions
		WHERE workspace_id = $1 AND customer_id = $2 AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`, workspaceID, customerID, before, historyInteractions)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	type exchange struct {
		message string
		reply   *string
	}
	var exchanges []exchange
	for rows.Next() {
		var e exchange
		if err := rows.Scan(&e.message, &e.reply); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		exchanges = append(exchanges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	slices.Reverse(exchanges)

	var out []llm.Message
	for _, e := range exchanges {
		out = append(out, llm.Message{Role: llm.RoleUser, Content: e.message})
		if r := deref(e.reply); r != "" {
			out = append(out, llm.Message{Role: llm.RoleAssistant, Content: r})
		}
	}
	return out, nil
}

// SaveReply records the reply sent (or held) for an interaction together
// with run metadata.
func (s *Store) SaveReply(ctx context.Context, workspaceID, interactionID, reply string, meta map[string]any) error {
	patch, err := marshalJSON(meta)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE interactions
		SET reply = $3, replied_at = now(),
		    metadata = COALESCE(metadata, '{}'::jsonb) || $4::jsonb
		WHERE workspace_id = $1 AND id = $2
	`, workspaceID, interactionID, reply, patch)
	if err != nil {
		return fmt.Errorf("save reply: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInteractionNotFound
	}
	return nil
}

// SetCustomerPreferences stores free-text preferences passed to generation.
func (s *Store) SetCustomerPreferences(ctx context.Context, workspaceID, customerID, prefs string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO customers (workspace_id, id, preferences)
		VALUES ($1, $2, $3)
		ON CONFLICT (workspace_id, id) DO UPDATE SET preferences = EXCLUDED.preferences
	`, workspaceID, customerID, prefs)
	if err != nil {
		return fmt.Errorf("set customer preferences: %w", err)
	}
	return nil
}
