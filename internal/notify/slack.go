package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
)

const (
	slackMaxBlocks = 50
	// header and context blocks precede the events in every message
	slackReservedBlocks = 2
	slackMaxEvents      = slackMaxBlocks - slackReservedBlocks
)

// SlackNotifier posts healing events to a Slack incoming webhook
type SlackNotifier struct {
	logger zerolog.Logger
	poster *poster
}

// NewSlackNotifier creates a Slack notifier or a noop notifier when the webhook is empty
func NewSlackNotifier(logger zerolog.Logger, webhookURL string, timing Timing) Notifier {
	if webhookURL == "" {
		return NewNoop(logger, "slack webhook not configured; slack notifications disabled")
	}
	return &SlackNotifier{
		logger: logger,
		poster: newPoster("slack", webhookURL, timing),
	}
}

// Notify implements Notifier.
func (n *SlackNotifier) Notify(ctx context.Context, appID string, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	messages := buildSlackMessages(appID, events)
	for _, msg := range messages {
		payload, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("marshal slack payload: %w", err)
		}
		if err := n.poster.post(ctx, appID, payload); err != nil {
			return err
		}
	}

	n.logger.Debug().Str("app_id", appID).Int("events", len(events)).Int("messages", len(messages)).
		Msg("slack notification sent")
	return nil
}

func buildSlackMessages(appID string, events []Event) []slack.WebhookMessage {
	total := len(events)
	if total == 0 {
		return nil
	}
	parts := (total + slackMaxEvents - 1) / slackMaxEvents
	messages := make([]slack.WebhookMessage, 0, parts)
	for i := 0; i < total; i += slackMaxEvents {
		end := min(i+slackMaxEvents, total)
		messages = append(messages, buildSlackMessage(appID, events[i:end], total, i/slackMaxEvents+1, parts))
	}
	return messages
}

func buildSlackMessage(appID string, events []Event, total, part, parts int) slack.WebhookMessage {
	summary := fmt.Sprintf("Application %s: %d healing event(s)", appID, total)
	if parts > 1 {
		summary = fmt.Sprintf("%s (part %d/%d)", summary, part, parts)
	}

	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, summary, false, false)),
		slack.NewContextBlock("",
			slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("Application: *%s*", appID), false, false)),
	}
	for _, ev := range events {
		blocks = append(blocks, eventBlock(ev))
	}

	return slack.WebhookMessage{
		Text:   summary,
		Blocks: &slack.Blocks{BlockSet: blocks},
	}
}

func eventBlock(ev Event) slack.Block {
	title := fmt.Sprintf("%s *%s*", kindEmoji(ev.Kind), ev.Message)
	var fields []*slack.TextBlockObject
	if ev.BackupID != "" {
		fields = append(fields, slack.NewTextBlockObject(slack.MarkdownType, "*Backup:*\n`"+ev.BackupID+"`", false, false))
	}
	if ev.RolledBack {
		fields = append(fields, slack.NewTextBlockObject(slack.MarkdownType, "*Rolled back:*\nyes", false, false))
	}
	return slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, title, false, false), fields, nil)
}

func kindEmoji(kind EventKind) string {
	switch kind {
	case EventHealed:
		return ":white_check_mark:"
	case EventHealFailed:
		return ":x:"
	case EventCircuitOpened:
		return ":no_entry:"
	default:
		return ":information_source:"
	}
}
