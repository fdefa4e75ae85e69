// Package backup creates restorable snapshots before risky healing actions
// and restores them when an action fails verification.
package backup

import (
	"context"

	"github.com/stackhealer/backend-go/internal/domain"
)

// Artifact is what a strategy produced for one backup
type Artifact struct {
	Location  string
	SizeBytes int64
}

// Strategy knows how to snapshot and restore one kind of application
type Strategy interface {
	Name() string
	Create(ctx context.Context, app *domain.Application, server *domain.Server, backupID string) (*Artifact, error)
	Restore(ctx context.Context, app *domain.Application, server *domain.Server, location string) error
	// Validate reports whether the artifact at location is intact
	Validate(ctx context.Context, server *domain.Server, location string) (bool, error)
}

// StrategyResolver returns the backup strategy owning a tech stack
type StrategyResolver interface {
	BackupStrategyFor(techStack string) (Strategy, error)
}

// ForServer picks the EBS strategy for servers backed by an EC2 instance
// and falls back to the file-level strategy otherwise
type ForServer struct {
	Files Strategy
	// Volume may be nil when no AWS credentials are configured
	Volume Strategy
}

func (s *ForServer) Name() string { return s.Files.Name() }

func (s *ForServer) pick(server *domain.Server) Strategy {
	if s.Volume != nil && server != nil && server.InstanceID != "" {
		return s.Volume
	}
	return s.Files
}

func (s *ForServer) Create(ctx context.Context, app *domain.Application, server *domain.Server, backupID string) (*Artifact, error) {
	return s.pick(server).Create(ctx, app, server, backupID)
}

func (s *ForServer) Restore(ctx context.Context, app *domain.Application, server *domain.Server, location string) error {
	return s.byLocation(location).Restore(ctx, app, server, location)
}

func (s *ForServer) Validate(ctx context.Context, server *domain.Server, location string) (bool, error) {
	return s.byLocation(location).Validate(ctx, server, location)
}

func (s *ForServer) byLocation(location string) Strategy {
	if s.Volume != nil && isSnapshotID(location) {
		return s.Volume
	}
	return s.Files
}
