package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// NoopNotifier drops notifications.
type NoopNotifier struct{}

// NewNoop returns a notifier that logs reason once and does nothing thereafter.
func NewNoop(logger zerolog.Logger, reason string) *NoopNotifier {
	if reason != "" {
		logger.Info().Msg(reason)
	}
	return &NoopNotifier{}
}

// Notify implements Notifier.
func (n *NoopNotifier) Notify(context.Context, string, []Event) error {
	return nil
}
