// Package gaps finds clusters of similar customer questions that had to be
// escalated, i.e. topics the knowledge base does not cover.
package gaps

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/MikeSquared-Agency/concierge/internal/dedup"
	"github.com/MikeSquared-Agency/concierge/internal/escalation"
	"github.com/MikeSquared-Agency/concierge/internal/intent"
	"github.com/MikeSquared-Agency/concierge/internal/knowledge"
	"github.com/MikeSquared-Agency/concierge/internal/llm"
)

const DefaultThreshold = 0.85

// Message is an escalated customer message. Embedding is nil until it has
// been computed once.
type Message struct {
	TicketID  string
	Text      string
	Intent    intent.Intent
	Status    escalation.Status
	CreatedAt time.Time
	Embedding []float32
}

// Source lists escalated messages and caches their embeddings.
type Source interface {
	ListTicketMessages(ctx context.Context, workspaceID string, since time.Time) ([]Message, error)
	SetTicketEmbedding(ctx context.Context, ticketID string, embedding []float32) error
}

// Gap is a cluster of two or more similar escalated questions.
type Gap struct {
	Representative    string             `json:"representative"`
	Count             int                `json:"count"`
	Pending           int                `json:"pending"`
	TicketIDs         []string           `json:"ticket_ids"`
	SuggestedCategory knowledge.Category `json:"suggested_category"`
	FirstSeen         time.Time          `json:"first_seen"`
	LastSeen          time.Time          `json:"last_seen"`
}

type Detector struct {
	source   Source
	embedder llm.Embedder
	mapper   *Mapper
	logger   *slog.Logger
}

func NewDetector(source Source, embedder llm.Embedder, logger *slog.Logger) *Detector {
	return &Detector{source: source, embedder: embedder, mapper: NewMapper(), logger: logger}
}

// FindGaps clusters escalated messages since the given time by embedding
// similarity. Messages that cannot be embedded are left out. Gaps are
// ordered largest first.
func (d *Detector) FindGaps(ctx context.Context, workspaceID string, since time.Time, threshold float64) ([]Gap, error) {
	if workspaceID == "" {
		return nil, knowledge.ErrTenantRequired
	}
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}

	msgs, err := d.source.ListTicketMessages(ctx, workspaceID, since)
	if err != nil {
		return nil, fmt.Errorf("list escalated messages: %w", err)
	}

	ctx = llm.WithTenant(ctx, workspaceID)
	vectors := make([][]float32, len(msgs))
	for i := range msgs {
		if msgs[i].Embedding == nil {
			vec, err := d.embedder.Embed(ctx, msgs[i].Text)
			if err != nil {
				d.logger.Warn("failed to embed escalated message", "ticket_id", msgs[i].TicketID, "error", err)
				continue
			}
			msgs[i].Embedding = vec
			if err := d.source.SetTicketEmbedding(ctx, msgs[i].TicketID, vec); err != nil {
				d.logger.Warn("failed to cache message embedding", "ticket_id", msgs[i].TicketID, "error", err)
			}
		}
		vectors[i] = msgs[i].Embedding
	}

	clusters := dedup.ClusterPairs(dedup.FindPairs(vectors, threshold))

	gaps := make([]Gap, 0, len(clusters))
	for _, cluster := range clusters {
		gaps = append(gaps, d.buildGap(msgs, cluster))
	}
	slices.SortStableFunc(gaps, func(a, b Gap) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return b.LastSeen.Compare(a.LastSeen)
	})

	d.logger.Info("knowledge gap scan complete",
		"workspace_id", workspaceID,
		"messages", len(msgs),
		"gaps", len(gaps),
		"threshold", threshold,
	)
	return gaps, nil
}

// buildGap summarises one cluster. The representative is the message
// closest to the cluster centroid.
func (d *Detector) buildGap(msgs []Message, cluster []int) Gap {
	slices.Sort(cluster)
	g := Gap{Count: len(cluster)}

	var intents []intent.Intent
	for _, idx := range cluster {
		m := msgs[idx]
		g.TicketIDs = append(g.TicketIDs, m.TicketID)
		intents = append(intents, m.Intent)
		if m.Status == escalation.StatusPending {
			g.Pending++
		}
		if g.FirstSeen.IsZero() || m.CreatedAt.Before(g.FirstSeen) {
			g.FirstSeen = m.CreatedAt
		}
		if m.CreatedAt.After(g.LastSeen) {
			g.LastSeen = m.CreatedAt
		}
	}

	centroid := make([]float32, len(msgs[cluster[0]].Embedding))
	for _, idx := range cluster {
		for j, v := range msgs[idx].Embedding {
			if j < len(centroid) {
				centroid[j] += v / float32(len(cluster))
			}
		}
	}
	best, bestSim := cluster[0], -2.0
	for _, idx := range cluster {
		if sim := dedup.Cosine(centroid, msgs[idx].Embedding); sim > bestSim {
			best, bestSim = idx, sim
		}
	}
	g.Representative = msgs[best].Text
	g.SuggestedCategory = d.mapper.Suggest(intents)
	return g
}
