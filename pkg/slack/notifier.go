// Package slack sends security-event notifications to an incoming
// webhook, the way teacher's pkg/slack posted incident alerts, scoped
// down to the gateway's single use: blocklist insertions.
package slack

import (
	"context"
	"fmt"
	"log/slog"

	goslack "github.com/slack-go/slack"
)

// Notifier posts messages to a Slack incoming webhook. A Notifier with an
// empty webhookURL is a no-op (spec §9: optional operator notification).
type Notifier struct {
	webhookURL string
	logger     *slog.Logger
}

// NewNotifier creates a Notifier bound to a Slack incoming webhook URL.
// An empty webhookURL disables delivery.
func NewNotifier(webhookURL string, logger *slog.Logger) *Notifier {
	return &Notifier{webhookURL: webhookURL, logger: logger}
}

// IsEnabled reports whether a webhook URL is configured.
func (n *Notifier) IsEnabled() bool { return n.webhookURL != "" }

// NotifyBlocked posts a message announcing that ip was added to the
// blocklist, with reason and ban duration.
func (n *Notifier) NotifyBlocked(ctx context.Context, ip, reason string, duration string) {
	if !n.IsEnabled() {
		n.logger.Debug("slack notifier disabled, skipping blocklist notification", "ip", ip, "reason", reason)
		return
	}

	text := fmt.Sprintf(":no_entry_sign: blocked `%s` for %s — %s", ip, duration, reason)
	msg := &goslack.WebhookMessage{Text: text}
	if err := goslack.PostWebhookContext(ctx, n.webhookURL, msg); err != nil {
		n.logger.Error("posting slack blocklist notification", "ip", ip, "error", err)
		return
	}
	n.logger.Info("posted slack blocklist notification", "ip", ip, "reason", reason)
}
