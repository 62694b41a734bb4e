package proxymw

import (
	"context"
	"time"

	"github.com/flm-project/flm-gateway/pkg/slack"
)

// WireSlackNotifier registers notifier as bl's ban notifier.
func WireSlackNotifier(bl *Blocklist, notifier *slack.Notifier) {
	bl.SetNotifier(func(ip, reason string, duration time.Duration) {
		notifier.NotifyBlocked(context.Background(), ip, reason, duration.String())
	})
}
