package gaps

import (
	"fmt"
	"time"

	"github.com/MikeSquared-Agency/concierge/internal/hermes"
)

// EventPublisher is the part of the hermes client the publisher uses.
type EventPublisher interface {
	Publish(subject string, data any) error
}

// Publisher announces knowledge gaps on the event bus.
type Publisher struct {
	bus EventPublisher
	now func() time.Time
}

func NewPublisher(bus EventPublisher) *Publisher {
	return &Publisher{bus: bus, now: time.Now}
}

// PublishGaps emits one event per gap and returns how many were sent.
func (p *Publisher) PublishGaps(workspaceID string, gaps []Gap) (int, error) {
	for i, g := range gaps {
		event := hermes.KnowledgeGap{
			WorkspaceID:       workspaceID,
			Representative:    g.Representative,
			Count:             g.Count,
			Pending:           g.Pending,
			TicketIDs:         g.TicketIDs,
			SuggestedCategory: string(g.SuggestedCategory),
			Timestamp:         p.now().UTC(),
		}
		if err := p.bus.Publish(hermes.SubjectKnowledgeGap, event); err != nil {
			return i, fmt.Errorf("publish knowledge gap: %w", err)
		}
	}
	return len(gaps), nil
}
