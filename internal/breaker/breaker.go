// Package breaker throttles automated healing of an application after
// repeated consecutive failures.
//
// The breaker persists two states, CLOSED and OPEN, on the application. Once
// an OPEN breaker's reset time has passed, exactly one trial attempt is let
// through (half-open); its outcome either closes the breaker or re-arms the
// cooldown. The trial marker lives in process memory only.
package breaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stackhealer/backend-go/internal/domain"
	"github.com/stackhealer/backend-go/internal/store"
)

// Observer is notified whenever a breaker opens
type Observer interface {
	ObserveCircuitOpen(appID string)
}

// Config holds breaker tuning
type Config struct {
	// FailureThreshold consecutive failures open the breaker
	FailureThreshold int
	// Cooldown is how long an open breaker blocks healing
	Cooldown time.Duration
	Logger   zerolog.Logger
	Observer Observer
	// Now is the clock; defaults to time.Now
	Now func() time.Time
}

// Decision is the answer to "may this application be healed now?"
type Decision struct {
	Allowed bool                `json:"allowed"`
	State   domain.CircuitState `json:"state"`
	Reason  string              `json:"reason,omitempty"`
	// Trial is set when the caller holds the single half-open attempt
	Trial bool `json:"trial,omitempty"`
}

// Breaker is a per-application circuit breaker backed by the application store
type Breaker struct {
	apps      store.ApplicationStore
	threshold int
	cooldown  time.Duration
	logger    zerolog.Logger
	observer  Observer
	now       func() time.Time

	mu     sync.Mutex
	trials map[string]struct{}
}

// New creates a Breaker
func New(apps store.ApplicationStore, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{
		apps:      apps,
		threshold: cfg.FailureThreshold,
		cooldown:  cfg.Cooldown,
		logger:    cfg.Logger,
		observer:  cfg.Observer,
		now:       cfg.Now,
		trials:    make(map[string]struct{}),
	}
}

// CanHeal reports whether healing appID is currently permitted without
// claiming anything
func (b *Breaker) CanHeal(ctx context.Context, appID string) (Decision, error) {
	return b.decide(ctx, appID, false)
}

// Begin is CanHeal for a caller about to heal: when the breaker is half-open
// it claims the single trial attempt. The claim is released by RecordSuccess,
// RecordFailure or Release.
func (b *Breaker) Begin(ctx context.Context, appID string) (Decision, error) {
	return b.decide(ctx, appID, true)
}

func (b *Breaker) decide(ctx context.Context, appID string, claim bool) (Decision, error) {
	app, err := b.apps.GetApplication(ctx, appID)
	if err != nil {
		return Decision{}, err
	}
	if app.CircuitState != domain.CircuitOpen {
		return Decision{Allowed: true, State: domain.CircuitClosed}, nil
	}

	now := b.now()
	if app.CircuitResetAt != nil && now.Before(*app.CircuitResetAt) {
		remaining := app.CircuitResetAt.Sub(now).Round(time.Second)
		return Decision{
			Allowed: false,
			State:   domain.CircuitOpen,
			Reason: fmt.Sprintf("Circuit breaker is open after %d consecutive failures; healing resumes in %s",
				app.ConsecutiveFailures, remaining),
		}, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, busy := b.trials[appID]; busy {
		return Decision{Allowed: false, State: domain.CircuitHalfOpen, Reason: "trial in progress"}, nil
	}
	if !claim {
		return Decision{Allowed: true, State: domain.CircuitHalfOpen, Reason: "cooldown elapsed, one trial attempt allowed"}, nil
	}
	b.trials[appID] = struct{}{}
	b.logger.Info().Str("app_id", appID).Msg("circuit half-open, trial attempt started")
	return Decision{Allowed: true, State: domain.CircuitHalfOpen, Trial: true}, nil
}

// Release drops a claimed trial without recording an outcome
func (b *Breaker) Release(appID string) {
	b.takeTrial(appID)
}

func (b *Breaker) takeTrial(appID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.trials[appID]
	delete(b.trials, appID)
	return ok
}

// RecordSuccess closes the breaker and clears the failure count
func (b *Breaker) RecordSuccess(ctx context.Context, appID string) error {
	b.takeTrial(appID)
	app, err := b.apps.UpdateApplication(ctx, appID, func(app *domain.Application) error {
		app.ConsecutiveFailures = 0
		app.CircuitState = domain.CircuitClosed
		app.CircuitResetAt = nil
		return nil
	})
	if err != nil {
		return err
	}
	b.logger.Debug().Str("app_id", app.ID).Msg("circuit closed")
	return nil
}

// RecordFailure counts a failed healing attempt. opened is true when this
// failure opened the breaker or re-armed it after a failed trial.
func (b *Breaker) RecordFailure(ctx context.Context, appID string) (opened bool, err error) {
	wasTrial := b.takeTrial(appID)
	now := b.now()

	app, err := b.apps.UpdateApplication(ctx, appID, func(app *domain.Application) error {
		opened = false
		app.ConsecutiveFailures++
		resetAt := now.Add(b.cooldown)
		switch {
		case app.CircuitState == domain.CircuitOpen:
			if wasTrial {
				app.CircuitResetAt = &resetAt
				opened = true
			}
		case app.ConsecutiveFailures >= b.threshold:
			app.CircuitState = domain.CircuitOpen
			app.CircuitResetAt = &resetAt
			opened = true
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	if opened {
		b.logger.Warn().
			Str("app_id", appID).
			Int("consecutive_failures", app.ConsecutiveFailures).
			Time("reset_at", *app.CircuitResetAt).
			Msg("circuit opened")
		if b.observer != nil {
			b.observer.ObserveCircuitOpen(appID)
		}
	}
	return opened, nil
}
