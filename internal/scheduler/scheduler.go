// Package scheduler periodically diagnoses and heals the whole fleet.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stackhealer/backend-go/internal/domain"
	"github.com/stackhealer/backend-go/internal/notify"
	"golang.org/x/sync/errgroup"
)

const (
	runHealed = "healed"
	runFailed = "failed"
	runClean  = "clean"
	runError  = "error"
	runBusy   = "busy"
)

// Healer runs one diagnose, plan, heal pass for an application. TryHeal
// returns domain.ErrApplicationBusy instead of waiting when a run for the
// application is already in progress.
type Healer interface {
	TryHeal(ctx context.Context, appID string) (*domain.HealingReport, error)
}

// ApplicationLister enumerates the fleet
type ApplicationLister interface {
	ListApplications(ctx context.Context) ([]domain.Application, error)
}

// Observer counts per-application run outcomes
type Observer interface {
	ObserveRun(outcome string)
}

// Config holds the scheduler's collaborators and pacing
type Config struct {
	Logger       zerolog.Logger
	Applications ApplicationLister
	Healer       Healer
	Notifier     notify.Notifier
	Observer     Observer
	// Interval between fleet passes
	Interval time.Duration
	// Concurrency bounds how many applications heal at once
	Concurrency int
}

// Scheduler heals every application once at start and then on a fixed
// interval. Applications in MAINTENANCE or already being healed are skipped;
// healer-disabled ones are still diagnosed.
type Scheduler struct {
	logger      zerolog.Logger
	apps        ApplicationLister
	healer      Healer
	notifier    notify.Notifier
	observer    Observer
	interval    time.Duration
	concurrency int

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a Scheduler
func New(cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Scheduler{
		logger:      cfg.Logger,
		apps:        cfg.Applications,
		healer:      cfg.Healer,
		notifier:    cfg.Notifier,
		observer:    cfg.Observer,
		interval:    cfg.Interval,
		concurrency: cfg.Concurrency,
	}
}

// Start begins the polling loop in a goroutine. It stops when ctx is
// cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	s.logger.Info().Dur("interval", s.interval).Int("concurrency", s.concurrency).Msg("scheduler started")
	go s.run(ctx, s.done)
}

// Stop halts the loop and waits for an in-flight pass to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info().Msg("scheduler stopped")
}

// IsRunning returns whether the loop is currently active
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	s.pass(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pass(ctx)
		}
	}
}

func (s *Scheduler) pass(ctx context.Context) {
	if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error().Err(err).Msg("fleet pass failed")
	}
}

// RunOnce heals every eligible application once. Per-application failures
// are logged and counted; only a failure to list the fleet is returned.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	apps, err := s.apps.ListApplications(ctx)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, app := range apps {
		if app.HealthStatus == domain.HealthMaintenance {
			s.logger.Debug().Str("app_id", app.ID).Msg("skipping application in maintenance")
			continue
		}
		id := app.ID
		g.Go(func() error {
			s.healOne(ctx, id)
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) healOne(ctx context.Context, appID string) {
	log := s.logger.With().Str("app_id", appID).Logger()

	report, err := s.healer.TryHeal(ctx, appID)
	if errors.Is(err, domain.ErrApplicationBusy) {
		log.Debug().Msg("healing already in progress, skipping")
		s.observe(runBusy)
		return
	}
	if err != nil {
		if ctx.Err() == nil {
			log.Error().Err(err).Msg("scheduled heal failed")
		}
		s.observe(runError)
		return
	}

	events := notify.EventsFromReport(report)
	s.observe(outcomeOf(events))
	if len(events) == 0 || s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, appID, events); err != nil {
		log.Warn().Err(err).Int("events", len(events)).Msg("notification failed")
	}
}

func outcomeOf(events []notify.Event) string {
	outcome := runClean
	for _, ev := range events {
		switch ev.Kind {
		case notify.EventHealFailed, notify.EventCircuitOpened:
			return runFailed
		case notify.EventHealed:
			outcome = runHealed
		}
	}
	return outcome
}

func (s *Scheduler) observe(outcome string) {
	if s.observer != nil {
		s.observer.ObserveRun(outcome)
	}
}
