package plugin

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/rs/zerolog"
	"github.com/stackhealer/backend-go/internal/backup"
	"github.com/stackhealer/backend-go/internal/check"
	"github.com/stackhealer/backend-go/internal/domain"
	"github.com/stackhealer/backend-go/internal/executor"
)

// Deps are the shared collaborators every catalog plugin is built with
type Deps struct {
	Executor executor.Executor
	// BackupDir is the backup root on managed servers
	BackupDir string
	// Volume snapshots whole instances; nil when AWS is not configured
	Volume backup.Strategy
	// SharedChecks run for every stack, e.g. CPU, memory and cloud checks
	SharedChecks []check.Check
}

// CatalogPlugin is a StackPlugin described by a Catalog
type CatalogPlugin struct {
	catalog *Catalog
	exec    executor.Executor
	checks  []check.Check
	backup  backup.Strategy
	logger  zerolog.Logger
}

// NewCatalogPlugin builds the checks and backup strategy declared by c
func NewCatalogPlugin(c *Catalog, deps Deps) (*CatalogPlugin, error) {
	stacks := []string{c.Tag}
	checks := append([]check.Check(nil), deps.SharedChecks...)

	if c.HTTP != nil {
		hc, err := check.NewHTTPCheck(check.HTTPCheckConfig{
			TechStacks:  stacks,
			Path:        c.HTTP.Path,
			BodyPattern: c.HTTP.BodyPattern,
			SlowAfter:   c.HTTP.SlowAfter,
		})
		if err != nil {
			return nil, fmt.Errorf("%s http check: %w", c.Tag, err)
		}
		checks = append(checks, hc)
	}

	for _, cs := range c.Checks.Commands {
		checks = append(checks, check.NewCommandCheck(check.CommandCheckConfig{
			Metadata: domain.CheckMetadata{
				Name:        cs.Name,
				Category:    cs.Category,
				RiskLevel:   cs.RiskLevel,
				Description: cs.Description,
				TechStacks:  stacks,
				Timeout:     cs.Timeout,
			},
			Executor:         deps.Executor,
			Command:          cs.Command,
			ExpectedExitCode: cs.ExitCode,
			OutputContains:   cs.OutputContains,
			WarnOnly:         cs.WarnOnly,
			SuggestedFix:     cs.SuggestedFix,
		}))
	}

	for _, fs := range c.Checks.Files {
		fc, err := check.NewFilePermissionCheck(deps.Executor, check.FilePermissionCheckConfig{
			Name:       fs.Name,
			TechStacks: stacks,
			RelPath:    fs.Path,
			MaxMode:    fs.MaxMode,
			Required:   fs.Required,
		})
		if err != nil {
			return nil, fmt.Errorf("%s check %s: %w", c.Tag, fs.Name, err)
		}
		checks = append(checks, fc)
	}

	files := backup.NewTarballStrategy(deps.Executor, backup.TarballConfig{
		Dir:            deps.BackupDir,
		Excludes:       c.Backup.Excludes,
		DumpCommand:    c.Backup.DumpCommand,
		RestoreCommand: c.Backup.RestoreCommand,
	})

	return &CatalogPlugin{
		catalog: c,
		exec:    deps.Executor,
		checks:  checks,
		backup:  &backup.ForServer{Files: files, Volume: deps.Volume},
		logger:  zerolog.Nop(),
	}, nil
}

// Builtins builds the plugins for every catalog shipped with the binary
func Builtins(deps Deps) ([]StackPlugin, error) {
	catalogs, err := BuiltinCatalogs()
	if err != nil {
		return nil, err
	}
	out := make([]StackPlugin, 0, len(catalogs))
	for _, c := range catalogs {
		p, err := NewCatalogPlugin(c, deps)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (p *CatalogPlugin) Tag() string                     { return p.catalog.Tag }
func (p *CatalogPlugin) Name() string                    { return p.catalog.Name }
func (p *CatalogPlugin) Checks() []check.Check           { return p.checks }
func (p *CatalogPlugin) BackupStrategy() backup.Strategy { return p.backup }

// HealingActions returns a copy of the declared actions
func (p *CatalogPlugin) HealingActions() []domain.HealingAction {
	out := make([]domain.HealingAction, len(p.catalog.Actions))
	copy(out, p.catalog.Actions)
	return out
}

func (p *CatalogPlugin) OnLoad(logger zerolog.Logger) error {
	p.logger = logger
	p.logger.Debug().Str("name", p.catalog.Name).Msg("plugin loaded")
	return nil
}

func (p *CatalogPlugin) OnUnload() {
	p.logger.Debug().Str("name", p.catalog.Name).Msg("plugin unloaded")
}

// Detect sums the weights of the marker files present under root and, when
// anything matched, reads the installed version
func (p *CatalogPlugin) Detect(ctx context.Context, server *domain.Server, root string) (DetectResult, error) {
	res := DetectResult{TechStack: p.catalog.Tag, Metadata: map[string]string{}}
	var found []string
	for _, m := range p.catalog.Detect.Files {
		ok, err := p.exec.FileExists(ctx, server, path.Join(root, m.Path))
		if err != nil {
			return DetectResult{}, err
		}
		if ok {
			res.Confidence += m.Weight
			found = append(found, m.Path)
		}
	}
	if res.Confidence > 1 {
		res.Confidence = 1
	}
	if res.Confidence == 0 {
		return res, nil
	}
	res.Metadata["markers"] = strings.Join(found, ",")

	if v := p.catalog.Detect.Version; v != nil {
		cmd := strings.ReplaceAll(v.Command, "{{path}}", executor.ShellQuote(root))
		out, err := p.exec.RunCommand(ctx, server, cmd)
		if err != nil {
			return DetectResult{}, err
		}
		if out.Success {
			if m := v.re.FindStringSubmatch(out.Output); m != nil {
				res.Version = m[1]
			}
		}
	}
	return res, nil
}
