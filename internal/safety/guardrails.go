// Package safety holds the process-wide guardrails around healing: the
// emergency stop switch, hard timeouts and per-application serialization.
package safety

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/stackhealer/backend-go/internal/domain"
)

// EmergencyStop is the global switch that halts all automated healing.
// Diagnosis keeps running while it is triggered.
type EmergencyStop struct {
	logger    zerolog.Logger
	triggered atomic.Bool
}

// NewEmergencyStop creates an untriggered switch
func NewEmergencyStop(logger zerolog.Logger) *EmergencyStop {
	return &EmergencyStop{logger: logger}
}

// Trigger activates the emergency stop
func (es *EmergencyStop) Trigger() {
	es.logger.Warn().Msg("EMERGENCY STOP TRIGGERED")
	es.triggered.Store(true)
}

// Reset clears the emergency stop, allowing healing again
func (es *EmergencyStop) Reset() {
	es.triggered.Store(false)
	es.logger.Info().Msg("Emergency stop reset")
}

// IsTriggered returns whether emergency stop is active
func (es *EmergencyStop) IsTriggered() bool {
	return es.triggered.Load()
}

// Check returns ErrEmergencyStop if triggered
func (es *EmergencyStop) Check() error {
	if es.triggered.Load() {
		return domain.ErrEmergencyStop
	}
	return nil
}

// MaxActionTimeout caps any per-action timeout
const MaxActionTimeout = 30 * time.Minute

// WithTimeout runs fn under a hard deadline and returns ErrTimeout when it
// expires, even if fn ignores its context. Non-positive timeouts become one
// second; values above MaxActionTimeout are clamped.
func WithTimeout(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout < time.Second {
		timeout = time.Second
	}
	if timeout > MaxActionTimeout {
		timeout = MaxActionTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return domain.ErrTimeout
		}
		return ctx.Err()
	}
}
