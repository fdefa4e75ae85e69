// Package notify delivers healing events to external systems.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/stackhealer/backend-go/internal/domain"
)

// EventKind classifies a healing event
type EventKind string

const (
	EventHealed        EventKind = "healed"
	EventHealFailed    EventKind = "heal_failed"
	EventCircuitOpened EventKind = "circuit_opened"
)

// Event is one notable thing that happened while healing an application
type Event struct {
	Kind          EventKind `json:"kind"`
	ApplicationID string    `json:"application_id"`
	Action        string    `json:"action,omitempty"`
	Checks        []string  `json:"checks,omitempty"`
	Message       string    `json:"message"`
	BackupID      string    `json:"backup_id,omitempty"`
	RolledBack    bool      `json:"rolled_back,omitempty"`
	At            time.Time `json:"at"`
}

// Notifier delivers healing events for one application.
type Notifier interface {
	Notify(ctx context.Context, appID string, events []Event) error
}

// EventsFromReport extracts the events worth telling someone about from a
// healing run. Runs where nothing was attempted or opened produce no events.
func EventsFromReport(report *domain.HealingReport) []Event {
	if report == nil {
		return nil
	}
	at := report.CompletedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	var events []Event
	for _, o := range report.Outcomes {
		if !o.Attempted {
			continue
		}
		ev := Event{
			ApplicationID: report.ApplicationID,
			Action:        o.Action,
			BackupID:      o.BackupID,
			RolledBack:    o.RolledBack,
			At:            at,
		}
		if o.Success {
			ev.Kind = EventHealed
			ev.Message = fmt.Sprintf("%s healed and verified in %s", o.Action, o.Duration.Round(time.Millisecond))
		} else {
			ev.Kind = EventHealFailed
			ev.Message = fmt.Sprintf("%s failed: %s", o.Action, o.Error)
		}
		events = append(events, ev)
	}

	if report.CircuitOpened {
		events = append(events, Event{
			Kind:          EventCircuitOpened,
			ApplicationID: report.ApplicationID,
			Message:       "circuit breaker opened; automated healing paused",
			At:            at,
		})
	}
	return events
}
