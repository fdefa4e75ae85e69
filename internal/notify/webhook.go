package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// WebhookPayload is the JSON body posted to a generic webhook
type WebhookPayload struct {
	ApplicationID string    `json:"application_id"`
	Events        []Event   `json:"events"`
	GeneratedAt   time.Time `json:"generated_at"`
}

// WebhookNotifier posts healing events as JSON to a generic endpoint
type WebhookNotifier struct {
	logger zerolog.Logger
	poster *poster
}

// NewWebhookNotifier creates a webhook notifier. It returns nil when url is
// empty; a nil *WebhookNotifier drops everything.
func NewWebhookNotifier(logger zerolog.Logger, url string, timing Timing) *WebhookNotifier {
	if url == "" {
		return nil
	}
	return &WebhookNotifier{
		logger: logger,
		poster: newPoster("webhook", url, timing),
	}
}

// Notify implements Notifier.
func (n *WebhookNotifier) Notify(ctx context.Context, appID string, events []Event) error {
	if n == nil || len(events) == 0 {
		return nil
	}

	payload, err := json.Marshal(WebhookPayload{
		ApplicationID: appID,
		Events:        events,
		GeneratedAt:   time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	if err := n.poster.post(ctx, appID, payload); err != nil {
		return err
	}

	n.logger.Debug().Str("app_id", appID).Int("events", len(events)).Msg("webhook notification sent")
	return nil
}
