// Package orchestrator composes diagnosis, planning, the circuit breaker,
// backups and remote execution into the per-application healing pipeline.
package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stackhealer/backend-go/internal/backup"
	"github.com/stackhealer/backend-go/internal/breaker"
	"github.com/stackhealer/backend-go/internal/check"
	"github.com/stackhealer/backend-go/internal/domain"
	"github.com/stackhealer/backend-go/internal/executor"
	"github.com/stackhealer/backend-go/internal/plugin"
	"github.com/stackhealer/backend-go/internal/safety"
	"github.com/stackhealer/backend-go/internal/store"
	"github.com/stackhealer/backend-go/internal/strategy"
)

// DefaultActionTimeout bounds one healing action when none is configured
const DefaultActionTimeout = 5 * time.Minute

// Observer receives one sample per healing action
type Observer interface {
	ObserveHealing(action, outcome string, d time.Duration)
}

// Config wires the orchestrator's collaborators
type Config struct {
	Logger        zerolog.Logger
	Store         store.Store
	Registry      *plugin.Registry
	Executor      executor.Executor
	Runner        *check.Runner
	Engine        *strategy.Engine
	Breaker       *breaker.Breaker
	Backups       *backup.Service
	Rollbacks     *backup.RollbackManager
	EmergencyStop *safety.EmergencyStop
	Locks         *safety.KeyedMutex
	ActionTimeout time.Duration
	Observer      Observer
}

// Orchestrator runs diagnose, plan, circuit check, backup, execute, verify
// and record for one application at a time
type Orchestrator struct {
	logger        zerolog.Logger
	store         store.Store
	registry      *plugin.Registry
	exec          executor.Executor
	runner        *check.Runner
	engine        *strategy.Engine
	breaker       *breaker.Breaker
	backups       *backup.Service
	rollbacks     *backup.RollbackManager
	estop         *safety.EmergencyStop
	locks         *safety.KeyedMutex
	runs          *safety.KeyedMutex
	actionTimeout time.Duration
	observer      Observer
	now           func() time.Time
}

// New creates an Orchestrator. Optional collaborators not set in cfg are
// built with defaults.
func New(cfg Config) *Orchestrator {
	if cfg.Runner == nil {
		cfg.Runner = check.NewRunner(cfg.Logger, 4, nil)
	}
	if cfg.Engine == nil {
		cfg.Engine = strategy.NewEngine(cfg.Registry, cfg.Logger)
	}
	if cfg.Breaker == nil {
		cfg.Breaker = breaker.New(cfg.Store, breaker.Config{Logger: cfg.Logger})
	}
	if cfg.Backups == nil {
		cfg.Backups = backup.NewService(backup.ServiceConfig{
			Logger:       cfg.Logger,
			Applications: cfg.Store,
			Servers:      cfg.Store,
			Records:      cfg.Store,
			Strategies:   cfg.Registry,
		})
	}
	if cfg.Rollbacks == nil {
		cfg.Rollbacks = backup.NewRollbackManager(cfg.Logger)
	}
	if cfg.EmergencyStop == nil {
		cfg.EmergencyStop = safety.NewEmergencyStop(cfg.Logger)
	}
	if cfg.Locks == nil {
		cfg.Locks = safety.NewKeyedMutex()
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = DefaultActionTimeout
	}
	return &Orchestrator{
		logger:        cfg.Logger,
		store:         cfg.Store,
		registry:      cfg.Registry,
		exec:          cfg.Executor,
		runner:        cfg.Runner,
		engine:        cfg.Engine,
		breaker:       cfg.Breaker,
		backups:       cfg.Backups,
		rollbacks:     cfg.Rollbacks,
		estop:         cfg.EmergencyStop,
		locks:         cfg.Locks,
		runs:          safety.NewKeyedMutex(),
		actionTimeout: cfg.ActionTimeout,
		observer:      cfg.Observer,
		now:           time.Now,
	}
}

type target struct {
	app    *domain.Application
	server *domain.Server
	plugin plugin.StackPlugin
}

func (o *Orchestrator) resolve(ctx context.Context, appID string) (*target, error) {
	app, err := o.store.GetApplication(ctx, appID)
	if err != nil {
		return nil, err
	}
	server, err := o.store.GetServer(ctx, app.ServerID)
	if err != nil {
		return nil, err
	}
	p, err := o.registry.Get(app.TechStack)
	if err != nil {
		return nil, err
	}
	return &target{app: app, server: server, plugin: p}, nil
}

// RunDiagnosis runs every applicable check of the application's plugin,
// records the batch and updates the health score and status. A cancelled
// diagnosis returns the partial batch with the context error and records nothing.
func (o *Orchestrator) RunDiagnosis(ctx context.Context, appID string) ([]domain.CheckResult, error) {
	t, err := o.resolve(ctx, appID)
	if err != nil {
		return nil, err
	}

	results, err := o.runner.Run(ctx, t.plugin.Checks(), t.app, t.server)
	if err != nil {
		return results, err
	}

	score, status := domain.ScoreResults(results)
	now := o.now().UTC()

	rec := &domain.DiagnosisRecord{
		ID:            uuid.NewString(),
		ApplicationID: appID,
		Results:       results,
		HealthScore:   score,
		HealthStatus:  status,
		CreatedAt:     now,
	}
	if err := o.store.AppendDiagnosis(ctx, rec); err != nil {
		return results, err
	}

	_, err = o.store.UpdateApplication(ctx, appID, func(app *domain.Application) error {
		app.HealthScore = score
		app.LastDiagnosedAt = &now
		if app.HealthStatus != domain.HealthMaintenance && app.HealthStatus != domain.HealthHealing {
			app.HealthStatus = status
		}
		return nil
	})
	if err != nil {
		return results, err
	}

	o.logger.Info().
		Str("app_id", appID).
		Int("checks", len(results)).
		Int("health_score", score).
		Str("health_status", string(status)).
		Msg("diagnosis completed")
	return results, nil
}

// LatestDiagnosis returns the most recent recorded batch, or nil
func (o *Orchestrator) LatestDiagnosis(ctx context.Context, appID string) (*domain.DiagnosisRecord, error) {
	if _, err := o.store.GetApplication(ctx, appID); err != nil {
		return nil, err
	}
	recs, err := o.store.ListDiagnoses(ctx, appID, 1)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return &recs[0], nil
}

// PlanHealing partitions results for the application. An empty mode uses
// the application's configured healing mode.
func (o *Orchestrator) PlanHealing(ctx context.Context, appID string, results []domain.CheckResult, mode domain.HealingMode) (*domain.HealingPlan, error) {
	app, err := o.store.GetApplication(ctx, appID)
	if err != nil {
		return nil, err
	}
	if mode == "" {
		mode = app.HealingMode
	}
	return o.engine.DetermineHealingPlan(app, results, mode)
}

// CanHeal reports the circuit breaker's current decision without claiming a trial
func (o *Orchestrator) CanHeal(ctx context.Context, appID string) (breaker.Decision, error) {
	return o.breaker.CanHeal(ctx, appID)
}

// FindAction looks up a healing action of the application's plugin by name
func (o *Orchestrator) FindAction(ctx context.Context, appID, name string) (domain.HealingAction, error) {
	app, err := o.store.GetApplication(ctx, appID)
	if err != nil {
		return domain.HealingAction{}, err
	}
	actions, err := o.registry.ActionsFor(app.TechStack)
	if err != nil {
		return domain.HealingAction{}, err
	}
	for _, a := range actions {
		if a.Name == name {
			return a, nil
		}
	}
	return domain.HealingAction{}, domain.ErrActionNotFound
}

// Detect ranks the registered plugins by how well they match path on a server
func (o *Orchestrator) Detect(ctx context.Context, serverID, path string) ([]plugin.DetectResult, error) {
	server, err := o.store.GetServer(ctx, serverID)
	if err != nil {
		return nil, err
	}
	return o.registry.DetectAll(ctx, server, path), nil
}

// ListBackups returns the application's backups, newest first
func (o *Orchestrator) ListBackups(ctx context.Context, appID string) ([]domain.BackupRecord, error) {
	return o.backups.ListBackups(ctx, appID)
}

// RestoreBackup restores a backup while holding the application's healing lock
func (o *Orchestrator) RestoreBackup(ctx context.Context, appID, backupID string) (*domain.RestoreResult, error) {
	unlock, err := o.locks.Lock(ctx, appID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return o.backups.RestoreBackup(ctx, appID, backupID)
}
