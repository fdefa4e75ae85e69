package backup

import (
	"context"
	"strings"
	"testing"

	"github.com/stackhealer/backend-go/internal/domain"
	"github.com/stackhealer/backend-go/internal/executor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testApp    = &domain.Application{ID: "app-1", Name: "blog", TechStack: "wordpress", Path: "/var/www/blog", ServerID: "srv-1"}
	testServer = &domain.Server{ID: "srv-1", Host: "10.0.0.5", Transport: "local"}
)

func TestTarballCreate(t *testing.T) {
	fake := &executor.Fake{OnCommand: func(_ *domain.Server, cmd string) (*executor.CommandResult, error) {
		if strings.HasPrefix(cmd, "stat -c %s") {
			return &executor.CommandResult{Success: true, Output: "2048\n"}, nil
		}
		return &executor.CommandResult{Success: true}, nil
	}}
	s := NewTarballStrategy(fake, TarballConfig{Dir: "/backups", Excludes: []string{"wp-content/cache"}})

	art, err := s.Create(context.Background(), testApp, testServer, "b-1")
	require.NoError(t, err)
	assert.Equal(t, "/backups/app-1/b-1.tar.gz", art.Location)
	assert.Equal(t, int64(2048), art.SizeBytes)

	cmds := fake.Commands()
	require.Len(t, cmds, 2)
	assert.Contains(t, cmds[0], "mkdir -p '/backups/app-1'")
	assert.Contains(t, cmds[0], "tar czf '/backups/app-1/b-1.tar.gz' --exclude='wp-content/cache' -C '/var/www' 'blog'")
	assert.NotContains(t, cmds[0], dumpFile)
}

func TestTarballCreateWithDump(t *testing.T) {
	fake := &executor.Fake{OnCommand: func(_ *domain.Server, cmd string) (*executor.CommandResult, error) {
		if strings.HasPrefix(cmd, "stat") {
			return &executor.CommandResult{Success: true, Output: "10"}, nil
		}
		return &executor.CommandResult{Success: true}, nil
	}}
	s := NewTarballStrategy(fake, TarballConfig{DumpCommand: "cd {{path}} && wp db export -"})

	_, err := s.Create(context.Background(), testApp, testServer, "b-2")
	require.NoError(t, err)

	cmd := fake.Commands()[0]
	assert.Contains(t, cmd, "cd '/var/www/blog' && wp db export - > '/var/www/blog/.stackhealer-db.sql'")
	assert.Contains(t, cmd, "rm -f '/var/www/blog/.stackhealer-db.sql'; exit $rc")
	assert.Contains(t, cmd, "/var/backups/stackhealer/app-1/b-2.tar.gz")
}

func TestTarballCreateRefusesRoot(t *testing.T) {
	fake := &executor.Fake{}
	s := NewTarballStrategy(fake, TarballConfig{})

	for _, p := range []string{"", "/"} {
		app := *testApp
		app.Path = p
		_, err := s.Create(context.Background(), &app, testServer, "b")
		assert.Error(t, err, "path %q", p)
	}
	assert.Empty(t, fake.Commands())
}

func TestTarballCreateFailures(t *testing.T) {
	t.Run("archive command fails", func(t *testing.T) {
		fake := &executor.Fake{OnCommand: func(*domain.Server, string) (*executor.CommandResult, error) {
			return &executor.CommandResult{Success: false, ExitCode: 2, Output: "No space left on device"}, nil
		}}
		_, err := NewTarballStrategy(fake, TarballConfig{}).Create(context.Background(), testApp, testServer, "b")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "No space left")
	})

	t.Run("transport fault", func(t *testing.T) {
		fake := &executor.Fake{Err: domain.ErrTransport}
		_, err := NewTarballStrategy(fake, TarballConfig{}).Create(context.Background(), testApp, testServer, "b")
		assert.ErrorIs(t, err, domain.ErrTransport)
	})

	t.Run("unparsable size", func(t *testing.T) {
		fake := &executor.Fake{OnCommand: func(_ *domain.Server, cmd string) (*executor.CommandResult, error) {
			if strings.HasPrefix(cmd, "stat") {
				return &executor.CommandResult{Success: true, Output: "nope"}, nil
			}
			return &executor.CommandResult{Success: true}, nil
		}}
		_, err := NewTarballStrategy(fake, TarballConfig{}).Create(context.Background(), testApp, testServer, "b")
		assert.Error(t, err)
	})
}

func TestTarballRestoreAndValidate(t *testing.T) {
	fake := &executor.Fake{}
	s := NewTarballStrategy(fake, TarballConfig{RestoreCommand: "wp db import {{dump}} --path={{path}}"})

	require.NoError(t, s.Restore(context.Background(), testApp, testServer, "/backups/app-1/b-1.tar.gz"))
	cmd := fake.Commands()[0]
	assert.True(t, strings.HasPrefix(cmd, "tar xzf '/backups/app-1/b-1.tar.gz' -C '/var/www'"))
	assert.Contains(t, cmd, "wp db import '/var/www/blog/.stackhealer-db.sql' --path='/var/www/blog'")

	ok, err := s.Validate(context.Background(), testServer, "/backups/app-1/b-1.tar.gz")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, fake.Ran("tar tzf '/backups/app-1/b-1.tar.gz'"))
}

func TestTarballValidateCorrupt(t *testing.T) {
	fake := &executor.Fake{OnCommand: func(*domain.Server, string) (*executor.CommandResult, error) {
		return &executor.CommandResult{Success: false, ExitCode: 2}, nil
	}}
	ok, err := NewTarballStrategy(fake, TarballConfig{}).Validate(context.Background(), testServer, "/x.tar.gz")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestForServerDispatch(t *testing.T) {
	files := &recordingStrategy{name: "tarball", location: "/b/x.tar.gz"}
	volume := &recordingStrategy{name: "ebs_snapshot", location: "snap-123"}
	s := &ForServer{Files: files, Volume: volume}

	ec2Server := &domain.Server{ID: "s", InstanceID: "i-abc"}
	art, err := s.Create(context.Background(), testApp, ec2Server, "b")
	require.NoError(t, err)
	assert.Equal(t, "snap-123", art.Location)

	art, err = s.Create(context.Background(), testApp, testServer, "b")
	require.NoError(t, err)
	assert.Equal(t, "/b/x.tar.gz", art.Location)

	require.NoError(t, s.Restore(context.Background(), testApp, testServer, "snap-123"))
	assert.Equal(t, 1, volume.restores)
	require.NoError(t, s.Restore(context.Background(), testApp, testServer, "/b/x.tar.gz"))
	assert.Equal(t, 1, files.restores)

	noVolume := &ForServer{Files: files}
	art, err = noVolume.Create(context.Background(), testApp, ec2Server, "b")
	require.NoError(t, err)
	assert.Equal(t, "/b/x.tar.gz", art.Location)
}

type recordingStrategy struct {
	name       string
	location   string
	createErr  error
	restoreErr error
	valid      bool
	validErr   error
	creates    int
	restores   int
}

func (r *recordingStrategy) Name() string { return r.name }

func (r *recordingStrategy) Create(context.Context, *domain.Application, *domain.Server, string) (*Artifact, error) {
	r.creates++
	if r.createErr != nil {
		return nil, r.createErr
	}
	return &Artifact{Location: r.location, SizeBytes: 42}, nil
}

func (r *recordingStrategy) Restore(context.Context, *domain.Application, *domain.Server, string) error {
	r.restores++
	return r.restoreErr
}

func (r *recordingStrategy) Validate(context.Context, *domain.Server, string) (bool, error) {
	return r.valid, r.validErr
}
