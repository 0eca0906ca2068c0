package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/MikeSquared-Agency/concierge/internal/knowledge"
)

var ErrKnowledgeNotFound = errors.New("knowledge item not found")

// pgVector returns a vector parameter, or nil for a missing embedding so the
// column is stored as NULL.
func pgVector(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return pgvector.NewVector(v)
}

// searchEfSearch widens the HNSW candidate list for knowledge searches. The
// workspace filter is applied after the index scan, so the default of 40 can
// miss a tenant's nearest item when other tenants crowd the graph.
const searchEfSearch = 200

// Search returns the closest live items in a workspace. Items without an
// embedding or folded into another item are never returned.
func (s *Store) Search(ctx context.Context, workspaceID string, embedding []float32, limit int) ([]knowledge.Match, error) {
	if workspaceID == "" {
		return nil, knowledge.ErrTenantRequired
	}
	if len(embedding) == 0 {
		return nil, errors.New("embedding is required")
	}
	if limit <= 0 {
		limit = 5
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", searchEfSearch)); err != nil {
		return nil, fmt.Errorf("set ef_search: %w", err)
	}

	rows, err := tx.Query(ctx, `
		SELECT id::text, workspace_id, name, content, category, metadata,
		       is_verified, source_id, created_at,
		       1 - (embedding <=> $2) AS similarity
		FROM knowledge_items
		WHERE workspace_id = $1
		  AND deduped_at IS NULL
		  AND embedding IS NOT NULL
		ORDER BY embedding <=> $2
		LIMIT $3
	`, workspaceID, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("search knowledge: %w", err)
	}
	defer rows.Close()

	var matches []knowledge.Match
	for rows.Next() {
		var m knowledge.Match
		var category string
		var metadata []byte
		var sourceID *string
		if err := rows.Scan(
			&m.Item.ID,
			&m.Item.WorkspaceID,
			&m.Item.Name,
			&m.Item.Content,
			&category,
			&metadata,
			&m.Item.IsVerified,
			&sourceID,
			&m.Item.CreatedAt,
			&m.Similarity,
		); err != nil {
			return nil, fmt.Errorf("scan knowledge item: %w", err)
		}
		m.Item.Category = knowledge.Category(category)
		m.Item.SourceID = deref(sourceID)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &m.Item.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate knowledge items: %w", err)
	}
	return matches, nil
}

// Insert writes a new knowledge item, assigning an id and creation time when
// they are unset.
func (s *Store) Insert(ctx context.Context, item knowledge.Item) (knowledge.Item, error) {
	if item.WorkspaceID == "" {
		return item, knowledge.ErrTenantRequired
	}
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	if item.Category == "" {
		item.Category = knowledge.CategoryGeneral
	}
	metadata, err := marshalJSON(item.Metadata)
	if err != nil {
		return item, err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO knowledge_items
			(id, workspace_id, name, content, category, metadata, embedding, is_verified, source_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, item.ID, item.WorkspaceID, item.Name, item.Content, string(item.Category),
		metadata, pgVector(item.Embedding), item.IsVerified, nullIfEmpty(item.SourceID), item.CreatedAt)
	if err != nil {
		return item, fmt.Errorf("insert knowledge item: %w", err)
	}
	return item, nil
}

// GetKnowledge loads one item without its embedding.
func (s *Store) GetKnowledge(ctx context.Context, workspaceID, id string) (*knowledge.Item, error) {
	var item knowledge.Item
	var category string
	var metadata []byte
	var sourceID *string
	err := s.pool.QueryRow(ctx, `
		SELECT id::text, workspace_id, name, content, category, metadata, is_verified, source_id, created_at
		FROM knowledge_items
		WHERE workspace_id = $1 AND id = $2
	`, workspaceID, id).Scan(
		&item.ID, &item.WorkspaceID, &item.Name, &item.Content, &category,
		&metadata, &item.IsVerified, &sourceID, &item.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrKnowledgeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get knowledge item: %w", err)
	}
	item.Category = knowledge.Category(category)
	item.SourceID = deref(sourceID)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &item.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &item, nil
}

// MarkVerified flags an item as seller-confirmed.
func (s *Store) MarkVerified(ctx context.Context, workspaceID, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE knowledge_items
		SET is_verified = true,
		    metadata = metadata || jsonb_build_object('needs_seller_confirmation', false)
		WHERE workspace_id = $1 AND id = $2
	`, workspaceID, id)
	if err != nil {
		return fmt.Errorf("verify knowledge item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrKnowledgeNotFound
	}
	return nil
}

// DeleteKnowledge removes an item the seller rejected.
func (s *Store) DeleteKnowledge(ctx context.Context, workspaceID, id string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM knowledge_items WHERE workspace_id = $1 AND id = $2
	`, workspaceID, id)
	if err != nil {
		return fmt.Errorf("delete knowledge item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrKnowledgeNotFound
	}
	return nil
}

// CountKnowledge reports live and verified item counts for a workspace.
func (s *Store) CountKnowledge(ctx context.Context, workspaceID string) (total, verified int, err error) {
	err = s.pool.QueryRow(ctx, `
		SELECT count(*), count(*) FILTER (WHERE is_verified)
		FROM knowledge_items
		WHERE workspace_id = $1 AND deduped_at IS NULL
	`, workspaceID).Scan(&total, &verified)
	if err != nil {
		return 0, 0, fmt.Errorf("count knowledge: %w", err)
	}
	return total, verified, nil
}
