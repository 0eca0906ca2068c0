package dedup

import (
	"context"
	"fmt"
	"log/slog"
)

// SweepResult reports one knowledge deduplication sweep.
type SweepResult struct {
	WorkspaceID string          `json:"workspace_id"`
	Threshold   float64         `json:"threshold"`
	Execute     bool            `json:"execute"`
	Clusters    int             `json:"clusters"`
	TotalItems  int             `json:"total_items"`
	Deduped     int             `json:"deduped"`
	Survivors   int             `json:"survivors"`
	Details     []ClusterDetail `json:"details,omitempty"`
}

type ClusterDetail struct {
	SurvivorID string   `json:"survivor_id"`
	DedupedIDs []string `json:"deduped_ids"`
	Size       int      `json:"size"`
}

// SweepStore is the persistence the sweep needs.
type SweepStore interface {
	FindDuplicatePairs(ctx context.Context, workspaceID string, threshold float64) ([]Pair[string], error)
	LoadDedupRecords(ctx context.Context, workspaceID string, ids []string) ([]Record, error)
	MarkDeduped(ctx context.Context, workspaceID string, ids []string, survivorID string) error
}

// Sweeper removes near-duplicates that already exist in a workspace's
// knowledge, e.g. rows written before insert-time dedup was in place.
type Sweeper struct {
	store  SweepStore
	logger *slog.Logger
}

func NewSweeper(store SweepStore, logger *slog.Logger) *Sweeper {
	return &Sweeper{store: store, logger: logger}
}

// Sweep finds duplicate clusters and, when execute is set, marks every
// non-survivor as deduped.
func (s *Sweeper) Sweep(ctx context.Context, workspaceID string, threshold float64, execute bool) (*SweepResult, error) {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	s.logger.Info("starting knowledge dedup sweep", "workspace_id", workspaceID, "threshold", threshold, "execute", execute)

	pairs, err := s.store.FindDuplicatePairs(ctx, workspaceID, threshold)
	if err != nil {
		return nil, fmt.Errorf("find duplicates: %w", err)
	}

	result := &SweepResult{WorkspaceID: workspaceID, Threshold: threshold, Execute: execute}
	clusters := ClusterPairs(pairs)
	result.Clusters = len(clusters)

	for _, cluster := range clusters {
		result.TotalItems += len(cluster)

		records, err := s.store.LoadDedupRecords(ctx, workspaceID, cluster)
		if err != nil {
			s.logger.Error("failed to load cluster", "cluster", cluster, "error", err)
			continue
		}
		survivor, err := PickSurvivor(records)
		if err != nil {
			s.logger.Error("failed to rank cluster", "cluster", cluster, "error", err)
			continue
		}

		var dedupedIDs []string
		for _, id := range cluster {
			if id != survivor.ID {
				dedupedIDs = append(dedupedIDs, id)
			}
		}

		if execute {
			if err := s.store.MarkDeduped(ctx, workspaceID, dedupedIDs, survivor.ID); err != nil {
				s.logger.Error("failed to mark items as deduped", "survivor", survivor.ID, "deduped", dedupedIDs, "error", err)
				continue
			}
		}

		result.Survivors++
		result.Deduped += len(dedupedIDs)
		result.Details = append(result.Details, ClusterDetail{
			SurvivorID: survivor.ID,
			DedupedIDs: dedupedIDs,
			Size:       len(cluster),
		})
	}

	s.logger.Info("knowledge dedup sweep completed", "workspace_id", workspaceID, "survivors", result.Survivors, "deduped", result.Deduped)
	return result, nil
}
