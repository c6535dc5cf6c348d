package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/slack-go/slack"

	"github.com/memorialsite/agentgw/internal/bus"
)

const alertPreviewChars = 300

// SlackAlerter posts failed turns to an incoming webhook.
type SlackAlerter struct {
	webhookURL string
}

// NewSlackAlerter creates an alerter for webhookURL.
func NewSlackAlerter(webhookURL string) *SlackAlerter {
	return &SlackAlerter{webhookURL: webhookURL}
}

// Alert posts ev. Successful turns are ignored.
func (a *SlackAlerter) Alert(ctx context.Context, ev *bus.TurnEvent) error {
	if !ev.Failed() {
		return nil
	}
	msg := &slack.WebhookMessage{
		Text: fmt.Sprintf(":warning: Agent turn failed (%s)", ev.Transport),
		Attachments: []slack.Attachment{{
			Color: "danger",
			Fields: []slack.AttachmentField{
				{Title: "Session", Value: ev.SessionID, Short: true},
				{Title: "Trace", Value: ev.TraceID, Short: true},
				{Title: "Error", Value: preview(ev.ErrorText)},
				{Title: "Message", Value: preview(ev.UserMessage)},
			},
			Footer: footer(ev),
		}},
	}
	if err := slack.PostWebhookContext(ctx, a.webhookURL, msg); err != nil {
		return fmt.Errorf("post slack alert: %w", err)
	}
	return nil
}

// Handle is a bus subscriber.
func (a *SlackAlerter) Handle(ev *bus.TurnEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := a.Alert(ctx, ev); err != nil {
		slog.Warn("Slack alert failed", "trace_id", ev.TraceID, "error", err)
	}
}

func footer(ev *bus.TurnEvent) string {
	if ev.Timestamp.IsZero() {
		return "agentgw"
	}
	return "agentgw " + ev.Timestamp.UTC().Format(time.RFC3339)
}

func preview(s string) string {
	r := []rune(s)
	if len(r) <= alertPreviewChars {
		return s
	}
	return string(r[:alertPreviewChars]) + "…"
}
