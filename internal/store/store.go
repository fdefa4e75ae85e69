// Package store is the persistence capability for applications, servers,
// diagnosis history and backup records. Lookups of unknown IDs return the
// domain NotFound errors.
package store

import (
	"context"

	"github.com/stackhealer/backend-go/internal/domain"
)

// ApplicationStore loads and mutates applications
type ApplicationStore interface {
	GetApplication(ctx context.Context, id string) (*domain.Application, error)
	ListApplications(ctx context.Context) ([]domain.Application, error)
	SaveApplication(ctx context.Context, app *domain.Application) error
	// UpdateApplication applies fn to the stored application atomically and
	// returns the updated copy. If fn returns an error nothing is written.
	UpdateApplication(ctx context.Context, id string, fn func(app *domain.Application) error) (*domain.Application, error)
}

// ServerStore loads servers
type ServerStore interface {
	GetServer(ctx context.Context, id string) (*domain.Server, error)
	ListServers(ctx context.Context) ([]domain.Server, error)
	SaveServer(ctx context.Context, server *domain.Server) error
}

// DiagnosisStore keeps the history of diagnosis batches
type DiagnosisStore interface {
	AppendDiagnosis(ctx context.Context, rec *domain.DiagnosisRecord) error
	// ListDiagnoses returns up to limit records, newest first
	ListDiagnoses(ctx context.Context, applicationID string, limit int) ([]domain.DiagnosisRecord, error)
}

// BackupStore keeps backup records
type BackupStore interface {
	SaveBackup(ctx context.Context, rec *domain.BackupRecord) error
	GetBackup(ctx context.Context, id string) (*domain.BackupRecord, error)
	// ListBackups returns records for an application, newest first
	ListBackups(ctx context.Context, applicationID string) ([]domain.BackupRecord, error)
}

// Store is the full persistence capability
type Store interface {
	ApplicationStore
	ServerStore
	DiagnosisStore
	BackupStore
	Close()
}
