package backup

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stackhealer/backend-go/internal/domain"
	"github.com/stackhealer/backend-go/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticResolver struct {
	strategy Strategy
}

func (r staticResolver) BackupStrategyFor(techStack string) (Strategy, error) {
	if techStack != "wordpress" {
		return nil, domain.ErrPluginNotFound
	}
	return r.strategy, nil
}

type countingObserver struct {
	backups  map[string]int
	restores map[string]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{backups: map[string]int{}, restores: map[string]int{}}
}

func (o *countingObserver) ObserveBackup(outcome string)  { o.backups[outcome]++ }
func (o *countingObserver) ObserveRestore(outcome string) { o.restores[outcome]++ }

func newTestService(t *testing.T, strategy Strategy) (*Service, *store.Memory, *countingObserver) {
	t.Helper()
	mem := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.SaveServer(ctx, testServer))
	require.NoError(t, mem.SaveApplication(ctx, testApp))
	obs := newCountingObserver()
	svc := NewService(ServiceConfig{
		Logger:       zerolog.Nop(),
		Applications: mem,
		Servers:      mem,
		Records:      mem,
		Strategies:   staticResolver{strategy: strategy},
		Observer:     obs,
	})
	return svc, mem, obs
}

func TestCreateBackupRecordsSuccess(t *testing.T) {
	strategy := &recordingStrategy{name: "tarball", location: "/b/1.tar.gz"}
	svc, mem, obs := newTestService(t, strategy)

	res, err := svc.CreateBackup(context.Background(), "app-1", "cache_clear")
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.NotEmpty(t, res.BackupID)
	assert.Equal(t, int64(42), res.SizeBytes)

	rec, err := mem.GetBackup(context.Background(), res.BackupID)
	require.NoError(t, err)
	assert.True(t, rec.Success)
	assert.Equal(t, "cache_clear", rec.ActionName)
	assert.Equal(t, "/b/1.tar.gz", rec.Location)
	assert.Equal(t, "tarball", rec.Strategy)
	assert.Equal(t, 1, obs.backups["success"])
}

func TestCreateBackupRecordsFailure(t *testing.T) {
	strategy := &recordingStrategy{name: "tarball", createErr: assert.AnError}
	svc, mem, obs := newTestService(t, strategy)

	res, err := svc.CreateBackup(context.Background(), "app-1", "permission_fix")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Empty(t, res.BackupID)
	assert.Contains(t, res.Error, domain.ErrBackupFailed.Error())

	recs, err := mem.ListBackups(context.Background(), "app-1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.False(t, recs[0].Success)
	assert.Equal(t, 1, obs.backups["failure"])
}

func TestCreateBackupUnknownTargets(t *testing.T) {
	svc, mem, _ := newTestService(t, &recordingStrategy{name: "tarball"})
	ctx := context.Background()

	_, err := svc.CreateBackup(ctx, "missing", "x")
	assert.ErrorIs(t, err, domain.ErrApplicationNotFound)

	require.NoError(t, mem.SaveApplication(ctx, &domain.Application{ID: "orphan", ServerID: "gone", TechStack: "wordpress"}))
	_, err = svc.CreateBackup(ctx, "orphan", "x")
	assert.ErrorIs(t, err, domain.ErrServerNotFound)

	require.NoError(t, mem.SaveApplication(ctx, &domain.Application{ID: "rails", ServerID: "srv-1", TechStack: "rails"}))
	_, err = svc.CreateBackup(ctx, "rails", "x")
	assert.ErrorIs(t, err, domain.ErrPluginNotFound)
}

func TestRestoreBackup(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		record      domain.BackupRecord
		strategy    *recordingStrategy
		wantSuccess bool
		wantErr     string
		wantRestore int
	}{
		{
			name:        "valid backup restores",
			record:      domain.BackupRecord{ID: "b-1", ApplicationID: "app-1", Location: "/b/1.tar.gz", Success: true},
			strategy:    &recordingStrategy{name: "tarball", valid: true},
			wantSuccess: true,
			wantRestore: 1,
		},
		{
			name:     "unsuccessful record is refused",
			record:   domain.BackupRecord{ID: "b-1", ApplicationID: "app-1", Success: false, Error: "disk full"},
			strategy: &recordingStrategy{name: "tarball", valid: true},
			wantErr:  "did not complete",
		},
		{
			name:     "corrupt artifact is refused",
			record:   domain.BackupRecord{ID: "b-1", ApplicationID: "app-1", Location: "/b/1.tar.gz", Success: true},
			strategy: &recordingStrategy{name: "tarball", valid: false},
			wantErr:  domain.ErrBackupInvalid.Error(),
		},
		{
			name:     "validation fault",
			record:   domain.BackupRecord{ID: "b-1", ApplicationID: "app-1", Location: "/b/1.tar.gz", Success: true},
			strategy: &recordingStrategy{name: "tarball", validErr: assert.AnError},
			wantErr:  "validate backup",
		},
		{
			name:        "restore command fails",
			record:      domain.BackupRecord{ID: "b-1", ApplicationID: "app-1", Location: "/b/1.tar.gz", Success: true},
			strategy:    &recordingStrategy{name: "tarball", valid: true, restoreErr: assert.AnError},
			wantErr:     assert.AnError.Error(),
			wantRestore: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, mem, obs := newTestService(t, tt.strategy)
			tt.record.CreatedAt = time.Now()
			require.NoError(t, mem.SaveBackup(ctx, &tt.record))

			res, err := svc.RestoreBackup(ctx, "app-1", "b-1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantSuccess, res.Success)
			assert.Equal(t, tt.wantRestore, tt.strategy.restores)
			if tt.wantErr != "" {
				assert.Contains(t, res.Error, tt.wantErr)
				assert.Equal(t, 1, obs.restores["failure"])
			} else {
				assert.Equal(t, 1, obs.restores["success"])
			}
		})
	}
}

func TestRestoreBackupNotFound(t *testing.T) {
	svc, mem, _ := newTestService(t, &recordingStrategy{name: "tarball", valid: true})
	ctx := context.Background()

	_, err := svc.RestoreBackup(ctx, "app-1", "nope")
	assert.ErrorIs(t, err, domain.ErrBackupNotFound)

	require.NoError(t, mem.SaveBackup(ctx, &domain.BackupRecord{ID: "other", ApplicationID: "app-2", Success: true}))
	_, err = svc.RestoreBackup(ctx, "app-1", "other")
	assert.ErrorIs(t, err, domain.ErrBackupNotFound)

	_, err = svc.RestoreBackup(ctx, "missing", "other")
	assert.ErrorIs(t, err, domain.ErrApplicationNotFound)
}

func TestListBackupsNewestFirst(t *testing.T) {
	svc, mem, _ := newTestService(t, &recordingStrategy{name: "tarball"})
	ctx := context.Background()
	base := time.Now()

	for i, id := range []string{"old", "new", "mid"} {
		offsets := []time.Duration{0, 2 * time.Minute, time.Minute}
		require.NoError(t, mem.SaveBackup(ctx, &domain.BackupRecord{ID: id, ApplicationID: "app-1", CreatedAt: base.Add(offsets[i])}))
	}

	recs, err := svc.ListBackups(ctx, "app-1")
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "new", recs[0].ID)
	assert.Equal(t, "mid", recs[1].ID)
	assert.Equal(t, "old", recs[2].ID)

	_, err = svc.ListBackups(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrApplicationNotFound)
}
