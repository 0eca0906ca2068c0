package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/concierge/internal/escalation"
	"github.com/MikeSquared-Agency/concierge/internal/knowledge"
	"github.com/MikeSquared-Agency/concierge/internal/llm"
)

const defaultPostMessageURL = "https://slack.com/api/chat.postMessage"

// ActionUseDraft prefixes the action id of the button that answers a ticket
// with the draft reply. The ticket id follows the prefix.
const ActionUseDraft = "ticket_use_draft:"

// Slack caps button values at 2000 characters.
const maxButtonValue = 1900

// Poster sends seller-facing messages to one Slack channel.
type Poster struct {
	token   string
	channel string
	client  *http.Client
	logger  *slog.Logger
	apiURL  string
}

func NewPoster(token, channel string, logger *slog.Logger) *Poster {
	return &Poster{
		token:   token,
		channel: channel,
		client:  &http.Client{Timeout: 10 * time.Second},
		apiURL:  defaultPostMessageURL,
		logger:  logger,
	}
}

// PostEscalation posts the clarification question for a new ticket. The
// returned ts identifies the thread the seller answers in.
func (p *Poster) PostEscalation(ctx context.Context, t *escalation.Ticket, draftReply string, confidence float64) (string, error) {
	text := formatEscalationMessage(t, draftReply, confidence)
	blocks := []map[string]any{
		section(text),
		contextLine(fmt.Sprintf("Reply in this thread to answer. Ticket `%s`", t.ID)),
	}
	if draftReply != "" {
		blocks = append(blocks, map[string]any{
			"type": "actions",
			"elements": []map[string]any{{
				"type":      "button",
				"text":      map[string]any{"type": "plain_text", "text": "Send draft"},
				"action_id": ActionUseDraft + t.ID,
				"value":     llm.Preview(draftReply, maxButtonValue),
			}},
		})
	}
	ts, err := p.post(ctx, map[string]any{
		"channel": p.channel,
		"text":    text,
		"blocks":  blocks,
	})
	if err != nil {
		return "", err
	}
	p.logger.Info("posted escalation to slack", "ts", ts, "ticket_id", t.ID)
	return ts, nil
}

// PostKnowledgeReview lists knowledge stored from a seller reply that still
// needs confirmation. Reactions on the returned ts verify or delete it.
func (p *Poster) PostKnowledgeReview(ctx context.Context, threadTS string, items []knowledge.Item) (string, error) {
	text := formatKnowledgeReview(items)
	payload := map[string]any{
		"channel": p.channel,
		"text":    text,
		"blocks": []map[string]any{
			section(text),
			contextLine("React: :+1: correct | :-1: wrong | :shrug: skip"),
		},
	}
	if threadTS != "" {
		payload["thread_ts"] = threadTS
	}
	ts, err := p.post(ctx, payload)
	if err != nil {
		return "", err
	}
	p.logger.Info("posted knowledge review to slack", "ts", ts, "items", len(items))
	return ts, nil
}

// PostThread posts a threaded reply to a message.
func (p *Poster) PostThread(ctx context.Context, threadTS, text string) error {
	_, err := p.post(ctx, map[string]any{
		"channel":   p.channel,
		"thread_ts": threadTS,
		"text":      text,
	})
	return err
}

func (p *Poster) post(ctx context.Context, payload map[string]any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var slackResp struct {
		OK    bool   `json:"ok"`
		TS    string `json:"ts"`
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &slackResp); err != nil {
		return "", fmt.Errorf("parse slack response: %w", err)
	}
	if !slackResp.OK {
		return "", fmt.Errorf("slack error: %s", slackResp.Error)
	}
	return slackResp.TS, nil
}

func section(text string) map[string]any {
	return map[string]any{
		"type": "section",
		"text": map[string]any{"type": "mrkdwn", "text": text},
	}
}

func contextLine(text string) map[string]any {
	return map[string]any{
		"type":     "context",
		"elements": []map[string]any{{"type": "mrkdwn", "text": text}},
	}
}

func formatEscalationMessage(t *escalation.Ticket, draftReply string, confidence float64) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "*Question:* %s\n\n", t.Question)
	fmt.Fprintf(&sb, "*Customer said:* %s\n", t.CustomerMessage)
	fmt.Fprintf(&sb, "*Intent:* %s | *Confidence:* %.2f\n", t.Intent, confidence)
	if draftReply != "" {
		fmt.Fprintf(&sb, "\n*Draft reply (not sent):*\n> %s\n", strings.ReplaceAll(draftReply, "\n", "\n> "))
	}
	return sb.String()
}

func formatKnowledgeReview(items []knowledge.Item) string {
	if len(items) == 0 {
		return "_Nothing new was learned from this reply._"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "*Learned %d item(s) from your reply:*\n", len(items))
	for i, it := range items {
		fmt.Fprintf(&sb, "%d. [%s] *%s*: %s\n", i+1, it.Category, it.Name, it.Content)
	}
	return sb.String()
}
