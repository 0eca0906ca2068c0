package slack

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ReactionEvent is the structure received from slack-forwarder via NATS.
type ReactionEvent struct {
	Reaction  string `json:"reaction"`
	UserID    string `json:"user_id"`
	Channel   string `json:"channel"`
	MessageTS string `json:"message_ts"`
}

// ReviewVerdict is the seller's judgement on learned knowledge.
type ReviewVerdict string

const (
	VerdictConfirmed ReviewVerdict = "confirmed"
	VerdictRejected  ReviewVerdict = "rejected"
	VerdictSkipped   ReviewVerdict = "skipped"
	VerdictUnknown   ReviewVerdict = "unknown"
)

// ParseReaction converts a Slack reaction emoji name to a review verdict.
// Skin-tone suffixes are ignored.
func ParseReaction(reaction string) ReviewVerdict {
	reaction, _, _ = strings.Cut(reaction, "::")
	switch reaction {
	case "+1", "thumbsup", "white_check_mark":
		return VerdictConfirmed
	case "-1", "thumbsdown", "x":
		return VerdictRejected
	case "shrug":
		return VerdictSkipped
	default:
		return VerdictUnknown
	}
}

// ParseReactionEvent parses a slack-forwarder payload. The forwarder wraps
// fields in a metadata map; a flat payload is accepted too.
func ParseReactionEvent(data []byte, logger *slog.Logger) (*ReactionEvent, error) {
	var wrapper struct {
		Metadata map[string]string `json:"metadata"`
		ReactionEvent
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("parse reaction wrapper: %w", err)
	}

	evt := wrapper.ReactionEvent
	if len(wrapper.Metadata) > 0 {
		evt = ReactionEvent{
			Reaction:  wrapper.Metadata["text"],
			UserID:    wrapper.Metadata["user_id"],
			Channel:   wrapper.Metadata["channel_id"],
			MessageTS: wrapper.Metadata["message_ts"],
		}
	}

	evt.Reaction = strings.TrimSuffix(strings.TrimPrefix(evt.Reaction, ":"), ":")
	if evt.MessageTS == "" {
		logger.Debug("reaction event without message ts", "reaction", evt.Reaction, "channel", evt.Channel)
		return nil, errors.New("reaction event has no message ts")
	}
	return &evt, nil
}
