package check

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"time"

	"github.com/stackhealer/backend-go/internal/domain"
	"github.com/stackhealer/backend-go/internal/executor"
)

// FilePermissionCheck fails when a file under the application directory
// grants more than the allowed permission bits
type FilePermissionCheck struct {
	meta     domain.CheckMetadata
	exec     executor.Executor
	relPath  string
	maxMode  uint64
	required bool
}

// FilePermissionCheckConfig holds construction parameters for FilePermissionCheck
type FilePermissionCheckConfig struct {
	Name       string
	TechStacks []string
	// RelPath is joined to Application.Path
	RelPath string
	// MaxMode is the most permissive octal mode allowed, e.g. "640"
	MaxMode string
	// Required turns a missing file into a failure instead of a skip
	Required bool
}

// NewFilePermissionCheck creates a permission check from config
func NewFilePermissionCheck(exec executor.Executor, cfg FilePermissionCheckConfig) (*FilePermissionCheck, error) {
	mode, err := strconv.ParseUint(cfg.MaxMode, 8, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid mode %q: %w", cfg.MaxMode, err)
	}
	if cfg.Name == "" {
		cfg.Name = "file_permissions"
	}
	return &FilePermissionCheck{
		meta: domain.CheckMetadata{
			Name:        cfg.Name,
			Category:    domain.CategorySecurity,
			RiskLevel:   domain.RiskMedium,
			Description: fmt.Sprintf("%s is not more permissive than %s", cfg.RelPath, cfg.MaxMode),
			TechStacks:  cfg.TechStacks,
			Timeout:     10 * time.Second,
		},
		exec:     exec,
		relPath:  cfg.RelPath,
		maxMode:  mode,
		required: cfg.Required,
	}, nil
}

func (c *FilePermissionCheck) Metadata() domain.CheckMetadata { return c.meta }

func (c *FilePermissionCheck) Execute(ctx context.Context, app *domain.Application, server *domain.Server) (domain.CheckResult, error) {
	p := path.Join(app.Path, c.relPath)

	exists, err := c.exec.FileExists(ctx, server, p)
	if err != nil {
		return Error(c.meta, err), nil
	}
	if !exists {
		if c.required {
			res := Fail(c.meta, p+" is missing", "Restore configuration from backup", map[string]any{"path": p})
			res.Severity = domain.RiskHigh
			return res, nil
		}
		return Skip(c.meta, p+" not present"), nil
	}

	perms, err := c.exec.FilePermissions(ctx, server, p)
	if err != nil {
		return Error(c.meta, err), nil
	}
	mode, err := strconv.ParseUint(perms, 8, 32)
	if err != nil {
		return Error(c.meta, fmt.Errorf("unparsable mode %q for %s", perms, p)), nil
	}

	details := map[string]any{
		"path":     p,
		"mode":     perms,
		"max_mode": strconv.FormatUint(c.maxMode, 8),
	}
	if excess := mode &^ c.maxMode; excess != 0 {
		return Fail(c.meta, fmt.Sprintf("%s has mode %s", p, perms), "Fix file permissions", details), nil
	}
	return Pass(c.meta, fmt.Sprintf("%s has mode %s", p, perms), details), nil
}
