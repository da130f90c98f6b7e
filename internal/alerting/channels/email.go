// Package channels provides the transport implementations behind alert
// delivery: email via Resend and chat webhooks via Slack-compatible
// incoming webhooks.
package channels

import (
	"context"
	"fmt"

	"github.com/resend/resend-go/v2"

	"github.com/orgpulse/orgpulse/internal/alerting"
	"github.com/orgpulse/orgpulse/internal/database"
)

// EmailChannel delivers alerts as email via the Resend API
type EmailChannel struct {
	client *resend.Client
	from   string
}

// NewEmailChannel creates an email channel. An empty API key yields a
// channel that reports itself unconfigured on every send.
func NewEmailChannel(apiKey, from string) *EmailChannel {
	ch := &EmailChannel{from: from}
	if apiKey != "" {
		ch.client = resend.NewClient(apiKey)
	}
	return ch
}

// Name returns the channel identifier
func (c *EmailChannel) Name() string {
	return alerting.ChannelEmail
}

// Send delivers the alert to the subscriber's email address
func (c *EmailChannel) Send(ctx context.Context, result *alerting.EvaluationResult, sub *database.AlertSubscription) (string, error) {
	if c.client == nil {
		return "", fmt.Errorf("email channel not configured")
	}
	if sub.EmailAddress == "" {
		return "", fmt.Errorf("subscriber %s has no email address", sub.UserID)
	}

	params := &resend.SendEmailRequest{
		From:    c.from,
		To:      []string{sub.EmailAddress},
		Subject: result.Title,
		Text:    result.Message,
	}

	sent, err := c.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		return "", fmt.Errorf("email send failed: %w", err)
	}
	return sent.Id, nil
}
