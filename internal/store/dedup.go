package store

import (
	"context"
	"fmt"

	"github.com/MikeSquared-Agency/concierge/internal/dedup"
)

// FindDuplicatePairs returns live item pairs in a workspace whose cosine
// similarity is above threshold.
func (s *Store) FindDuplicatePairs(ctx context.Context, workspaceID string, threshold float64) ([]dedup.Pair[string], error) {
	query := `
		SELECT a.id::text, b.id::text, 1 - (a.embedding <=> b.embedding) AS similarity
		FROM knowledge_items a, knowledge_items b
		WHERE a.workspace_id = $1 AND b.workspace_id = $1
		  AND a.id < b.id
		  AND a.embedding IS NOT NULL AND b.embedding IS NOT NULL
		  AND a.deduped_at IS NULL AND b.deduped_at IS NULL
		  AND 1 - (a.embedding <=> b.embedding) > $2
		ORDER BY similarity DESC`

	rows, err := s.pool.Query(ctx, query, workspaceID, threshold)
	if err != nil {
		return nil, fmt.Errorf("query knowledge duplicates: %w", err)
	}
	defer rows.Close()

	var pairs []dedup.Pair[string]
	for rows.Next() {
		var pair dedup.Pair[string]
		if err := rows.Scan(&pair.A, &pair.B, &pair.Similarity); err != nil {
			return nil, fmt.Errorf("scan duplicate pair: %w", err)
		}
		pairs = append(pairs, pair)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return pairs, nil
}

// LoadDedupRecords loads what the survivor ranking needs for a cluster.
func (s *Store) LoadDedupRecords(ctx context.Context, workspaceID string, ids []string) ([]dedup.Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, is_verified,
		       COALESCE((metadata->>'extraction_confidence')::double precision, 0),
		       content, created_at
		FROM knowledge_items
		WHERE workspace_id = $1 AND id::text = ANY($2)
	`, workspaceID, ids)
	if err != nil {
		return nil, fmt.Errorf("load dedup records: %w", err)
	}
	defer rows.Close()

	var records []dedup.Record
	for rows.Next() {
		var r dedup.Record
		if err := rows.Scan(&r.ID, &r.IsVerified, &r.Confidence, &r.Content, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan dedup record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return records, nil
}

// MarkDeduped folds ids into the survivor in one transaction.
func (s *Store) MarkDeduped(ctx context.Context, workspaceID string, ids []string, survivorID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin dedup transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, id := range ids {
		if _, err := tx.Exec(ctx, `
			UPDATE knowledge_items
			SET deduped_at = now(), deduped_into = $3
			WHERE workspace_id = $1 AND id = $2 AND deduped_at IS NULL
		`, workspaceID, id, survivorID); err != nil {
			return fmt.Errorf("mark %s deduped: %w", id, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit dedup transaction: %w", err)
	}
	return nil
}
