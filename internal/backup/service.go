package backup

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stackhealer/backend-go/internal/domain"
	"github.com/stackhealer/backend-go/internal/store"
)

// Observer receives backup and restore outcomes ("success" / "failure")
type Observer interface {
	ObserveBackup(outcome string)
	ObserveRestore(outcome string)
}

// ServiceConfig holds the collaborators of Service
type ServiceConfig struct {
	Logger       zerolog.Logger
	Applications store.ApplicationStore
	Servers      store.ServerStore
	Records      store.BackupStore
	Strategies   StrategyResolver
	Observer     Observer
}

// Service creates, lists and restores backups. Unknown applications,
// servers, backups and tech stacks are returned as errors; strategy
// failures are reported in the result.
type Service struct {
	logger     zerolog.Logger
	apps       store.ApplicationStore
	servers    store.ServerStore
	records    store.BackupStore
	strategies StrategyResolver
	observer   Observer
}

// NewService creates a backup service
func NewService(cfg ServiceConfig) *Service {
	return &Service{
		logger:     cfg.Logger,
		apps:       cfg.Applications,
		servers:    cfg.Servers,
		records:    cfg.Records,
		strategies: cfg.Strategies,
		observer:   cfg.Observer,
	}
}

type target struct {
	app      *domain.Application
	server   *domain.Server
	strategy Strategy
}

func (s *Service) resolve(ctx context.Context, appID string) (*target, error) {
	app, err := s.apps.GetApplication(ctx, appID)
	if err != nil {
		return nil, err
	}
	server, err := s.servers.GetServer(ctx, app.ServerID)
	if err != nil {
		return nil, err
	}
	strategy, err := s.strategies.BackupStrategyFor(app.TechStack)
	if err != nil {
		return nil, err
	}
	return &target{app: app, server: server, strategy: strategy}, nil
}

// CreateBackup snapshots the application before actionName runs and records
// the attempt, successful or not
func (s *Service) CreateBackup(ctx context.Context, appID, actionName string) (*domain.BackupResult, error) {
	t, err := s.resolve(ctx, appID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rec := &domain.BackupRecord{
		ID:            uuid.NewString(),
		ApplicationID: appID,
		ActionName:    actionName,
		Strategy:      t.strategy.Name(),
		CreatedAt:     start.UTC(),
	}
	log := s.logger.With().Str("app_id", appID).Str("action", actionName).Str("backup_id", rec.ID).Logger()

	artifact, createErr := t.strategy.Create(ctx, t.app, t.server, rec.ID)
	if createErr == nil {
		rec.Success = true
		rec.Location = artifact.Location
		rec.SizeBytes = artifact.SizeBytes
	} else {
		rec.Error = createErr.Error()
	}

	if err := s.records.SaveBackup(ctx, rec); err != nil {
		// an unrecorded artifact cannot guard the action
		log.Error().Err(err).Str("location", rec.Location).Msg("backup record not saved")
		rec.Success = false
		rec.Error = fmt.Sprintf("record backup: %v", err)
	}

	result := &domain.BackupResult{
		Success:   rec.Success,
		SizeBytes: rec.SizeBytes,
		Duration:  time.Since(start),
	}
	if rec.Success {
		result.BackupID = rec.ID
		log.Info().Str("location", rec.Location).Int64("size_bytes", rec.SizeBytes).Msg("backup created")
		s.observe(true, false)
	} else {
		result.Error = fmt.Sprintf("%v: %s", domain.ErrBackupFailed, rec.Error)
		log.Error().Str("error", rec.Error).Msg("backup failed")
		s.observe(false, false)
	}
	return result, nil
}

// RestoreBackup validates and restores a previously recorded backup
func (s *Service) RestoreBackup(ctx context.Context, appID, backupID string) (*domain.RestoreResult, error) {
	t, err := s.resolve(ctx, appID)
	if err != nil {
		return nil, err
	}
	rec, err := s.records.GetBackup(ctx, backupID)
	if err != nil {
		return nil, err
	}
	if rec.ApplicationID != appID {
		return nil, domain.ErrBackupNotFound
	}

	start := time.Now()
	log := s.logger.With().Str("app_id", appID).Str("backup_id", backupID).Logger()
	fail := func(msg string) *domain.RestoreResult {
		log.Error().Str("error", msg).Msg("restore failed")
		s.observe(false, true)
		return &domain.RestoreResult{Success: false, Duration: time.Since(start), Error: msg}
	}

	if !rec.Success {
		return fail("backup did not complete: " + rec.Error), nil
	}

	valid, err := t.strategy.Validate(ctx, t.server, rec.Location)
	if err != nil {
		return fail(fmt.Sprintf("validate backup: %v", err)), nil
	}
	if !valid {
		return fail(fmt.Sprintf("%v: %s", domain.ErrBackupInvalid, rec.Location)), nil
	}

	if err := t.strategy.Restore(ctx, t.app, t.server, rec.Location); err != nil {
		return fail(err.Error()), nil
	}

	log.Info().Str("location", rec.Location).Msg("backup restored")
	s.observe(true, true)
	return &domain.RestoreResult{Success: true, Duration: time.Since(start)}, nil
}

// ListBackups returns the application's backup records, newest first
func (s *Service) ListBackups(ctx context.Context, appID string) ([]domain.BackupRecord, error) {
	if _, err := s.apps.GetApplication(ctx, appID); err != nil {
		return nil, err
	}
	return s.records.ListBackups(ctx, appID)
}

func (s *Service) observe(success, restore bool) {
	if s.observer == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	if restore {
		s.observer.ObserveRestore(outcome)
	} else {
		s.observer.ObserveBackup(outcome)
	}
}
