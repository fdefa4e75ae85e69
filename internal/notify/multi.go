package notify

import (
	"context"
	"errors"
	"reflect"
)

// Observer counts deliveries per channel ("success" / "failure")
type Observer interface {
	ObserveNotification(channel, outcome string)
}

type channel struct {
	name     string
	notifier Notifier
}

// MultiNotifier fans out notifications to every configured channel and
// keeps going when one of them fails.
type MultiNotifier struct {
	channels []channel
	observer Observer
}

// NewMultiNotifier creates an empty fan-out notifier
func NewMultiNotifier(observer Observer) *MultiNotifier {
	return &MultiNotifier{observer: observer}
}

// Add registers a named channel. Nil notifiers, including typed nils, are skipped.
func (m *MultiNotifier) Add(name string, n Notifier) *MultiNotifier {
	if isNil(n) {
		return m
	}
	m.channels = append(m.channels, channel{name: name, notifier: n})
	return m
}

// Len returns the number of channels
func (m *MultiNotifier) Len() int {
	return len(m.channels)
}

// Notify implements Notifier. The returned error joins every channel failure.
func (m *MultiNotifier) Notify(ctx context.Context, appID string, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	var errs []error
	for _, ch := range m.channels {
		err := ch.notifier.Notify(ctx, appID, events)
		if err != nil {
			errs = append(errs, err)
		}
		if m.observer != nil {
			outcome := "success"
			if err != nil {
				outcome = "failure"
			}
			m.observer.ObserveNotification(ch.name, outcome)
		}
	}
	return errors.Join(errs...)
}

func isNil(n Notifier) bool {
	if n == nil {
		return true
	}
	v := reflect.ValueOf(n)
	return v.Kind() == reflect.Ptr && v.IsNil()
}
