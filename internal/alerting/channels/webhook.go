package channels

import (
	"context"
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"github.com/orgpulse/orgpulse/internal/alerting"
	"github.com/orgpulse/orgpulse/internal/database"
)

// WebhookChannel delivers alerts to a Slack-compatible incoming webhook
type WebhookChannel struct{}

// NewWebhookChannel creates a chat webhook channel
func NewWebhookChannel() *WebhookChannel {
	return &WebhookChannel{}
}

// Name returns the channel identifier
func (c *WebhookChannel) Name() string {
	return alerting.ChannelWebhook
}

// Send posts the alert to the subscriber's webhook URL
func (c *WebhookChannel) Send(ctx context.Context, result *alerting.EvaluationResult, sub *database.AlertSubscription) (string, error) {
	if sub.WebhookURL == "" {
		return "", fmt.Errorf("subscriber %s has no webhook URL", sub.UserID)
	}

	msg := &slack.WebhookMessage{
		Channel: sub.WebhookChannel,
		Text:    fmt.Sprintf("%s %s", database.GetSeverityEmoji(result.Severity), result.Title),
		Attachments: []slack.Attachment{
			{
				Color: severityColor(result.Severity),
				Text:  result.Message,
				Fields: []slack.AttachmentField{
					{Title: "Severity", Value: string(result.Severity), Short: true},
					{Title: "Source", Value: result.SourceType, Short: true},
					{Title: "Matched", Value: strings.Join(result.MatchedConditions, "\n")},
				},
			},
		},
	}

	if err := slack.PostWebhookContext(ctx, sub.WebhookURL, msg); err != nil {
		return "", fmt.Errorf("webhook post failed: %w", err)
	}
	// Incoming webhooks do not return a message id
	return "", nil
}

func severityColor(severity database.Severity) string {
	switch severity {
	case database.SeverityCritical:
		return "#e01e5a"
	case database.SeverityHigh:
		return "#e8912d"
	case database.SeverityMedium:
		return "#ecb22e"
	default:
		return "#36c5f0"
	}
}
