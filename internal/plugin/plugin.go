// Package plugin bundles, per tech stack, the detection logic, diagnostic
// checks, healing actions and backup strategy the engine works with.
package plugin

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"github.com/stackhealer/backend-go/internal/backup"
	"github.com/stackhealer/backend-go/internal/check"
	"github.com/stackhealer/backend-go/internal/domain"
	"github.com/stackhealer/backend-go/internal/executor"
)

// DetectResult reports how confident a plugin is that a directory holds its stack
type DetectResult struct {
	TechStack  string            `json:"tech_stack"`
	Confidence float64           `json:"confidence"`
	Version    string            `json:"version,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// StackPlugin is implemented by every supported tech stack
type StackPlugin interface {
	Tag() string
	Name() string
	// Detect inspects path on server without changing anything
	Detect(ctx context.Context, server *domain.Server, path string) (DetectResult, error)
	Checks() []check.Check
	HealingActions() []domain.HealingAction
	BackupStrategy() backup.Strategy
	OnLoad(logger zerolog.Logger) error
	OnUnload()
}

// RenderCommand substitutes {{path}} and {{app}} in an action command with
// the shell-quoted application directory and name
func RenderCommand(command string, app *domain.Application) string {
	out := strings.ReplaceAll(command, "{{path}}", executor.ShellQuote(app.Path))
	return strings.ReplaceAll(out, "{{app}}", executor.ShellQuote(app.Name))
}
