package backup

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/stackhealer/backend-go/internal/domain"
	"github.com/stackhealer/backend-go/internal/executor"
)

const dumpFile = ".stackhealer-db.sql"

// TarballStrategy archives the application directory on the server itself,
// optionally including a database dump produced by DumpCommand
type TarballStrategy struct {
	exec           executor.Executor
	dir            string
	excludes       []string
	dumpCommand    string
	restoreCommand string
}

// TarballConfig holds construction parameters for TarballStrategy
type TarballConfig struct {
	// Dir is the backup root on the server
	Dir      string
	Excludes []string
	// DumpCommand writes a database dump to stdout; {{path}} is the app directory
	DumpCommand string
	// RestoreCommand reads a dump from {{dump}}; {{path}} is the app directory
	RestoreCommand string
}

// NewTarballStrategy creates a tarball strategy
func NewTarballStrategy(exec executor.Executor, cfg TarballConfig) *TarballStrategy {
	if cfg.Dir == "" {
		cfg.Dir = "/var/backups/stackhealer"
	}
	return &TarballStrategy{
		exec:           exec,
		dir:            cfg.Dir,
		excludes:       cfg.Excludes,
		dumpCommand:    cfg.DumpCommand,
		restoreCommand: cfg.RestoreCommand,
	}
}

func (s *TarballStrategy) Name() string { return "tarball" }

func (s *TarballStrategy) Create(ctx context.Context, app *domain.Application, server *domain.Server, backupID string) (*Artifact, error) {
	if app.Path == "" || app.Path == "/" {
		return nil, fmt.Errorf("refusing to archive path %q", app.Path)
	}
	location := path.Join(s.dir, app.ID, backupID+".tar.gz")
	q := executor.ShellQuote

	steps := []string{"mkdir -p " + q(path.Dir(location))}
	if s.dumpCommand != "" {
		steps = append(steps, render(s.dumpCommand, app.Path, "")+" > "+q(path.Join(app.Path, dumpFile)))
	}

	var tar strings.Builder
	tar.WriteString("tar czf " + q(location))
	for _, ex := range s.excludes {
		tar.WriteString(" --exclude=" + q(ex))
	}
	tar.WriteString(" -C " + q(path.Dir(app.Path)) + " " + q(path.Base(app.Path)))
	steps = append(steps, tar.String())

	cmd := strings.Join(steps, " && ")
	if s.dumpCommand != "" {
		// dump is removed whether or not tar succeeded
		cmd = "(" + cmd + "); rc=$?; rm -f " + q(path.Join(app.Path, dumpFile)) + "; exit $rc"
	}

	res, err := s.exec.RunCommand(ctx, server, cmd)
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, fmt.Errorf("archive failed (exit %d): %s", res.ExitCode, executor.Truncate(res.Output, 300))
	}

	size, err := s.size(ctx, server, location)
	if err != nil {
		return nil, err
	}
	return &Artifact{Location: location, SizeBytes: size}, nil
}

func (s *TarballStrategy) Restore(ctx context.Context, app *domain.Application, server *domain.Server, location string) error {
	q := executor.ShellQuote
	cmd := "tar xzf " + q(location) + " -C " + q(path.Dir(app.Path))
	if s.restoreCommand != "" {
		dump := path.Join(app.Path, dumpFile)
		cmd += " && if [ -f " + q(dump) + " ]; then " + render(s.restoreCommand, app.Path, dump) +
			" && rm -f " + q(dump) + "; fi"
	}

	res, err := s.exec.RunCommand(ctx, server, cmd)
	if err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("extract failed (exit %d): %s", res.ExitCode, executor.Truncate(res.Output, 300))
	}
	return nil
}

func (s *TarballStrategy) Validate(ctx context.Context, server *domain.Server, location string) (bool, error) {
	res, err := s.exec.RunCommand(ctx, server, "tar tzf "+executor.ShellQuote(location)+" > /dev/null")
	if err != nil {
		return false, err
	}
	return res.Success, nil
}

func (s *TarballStrategy) size(ctx context.Context, server *domain.Server, location string) (int64, error) {
	res, err := s.exec.RunCommand(ctx, server, "stat -c %s "+executor.ShellQuote(location))
	if err != nil {
		return 0, err
	}
	if !res.Success {
		return 0, fmt.Errorf("archive %s missing after backup", location)
	}
	n, err := strconv.ParseInt(strings.TrimSpace(res.Output), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse archive size: %w", err)
	}
	return n, nil
}

func render(tmpl, appPath, dump string) string {
	out := strings.ReplaceAll(tmpl, "{{path}}", executor.ShellQuote(appPath))
	return strings.ReplaceAll(out, "{{dump}}", executor.ShellQuote(dump))
}
