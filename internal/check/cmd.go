package check

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/stackhealer/backend-go/internal/domain"
	"github.com/stackhealer/backend-go/internal/executor"
)

// CommandCheck runs a shell command on the server and validates exit code
// and output. Commands may reference the application directory as {{path}}.
type CommandCheck struct {
	meta             domain.CheckMetadata
	exec             executor.Executor
	command          string
	expectedExitCode int
	outputContains   string
	failStatus       domain.CheckStatus
	suggestedFix     string
}

// CommandCheckConfig holds construction parameters for CommandCheck
type CommandCheckConfig struct {
	Metadata         domain.CheckMetadata
	Executor         executor.Executor
	Command          string
	ExpectedExitCode int
	OutputContains   string
	// WarnOnly reports a mismatch as WARN instead of FAIL
	WarnOnly     bool
	SuggestedFix string
}

// NewCommandCheck creates a command check from config
func NewCommandCheck(cfg CommandCheckConfig) *CommandCheck {
	if cfg.Metadata.Timeout == 0 {
		cfg.Metadata.Timeout = 30 * time.Second
	}
	if cfg.Metadata.Category == "" {
		cfg.Metadata.Category = domain.CategoryApplication
	}
	if cfg.Metadata.RiskLevel == "" {
		cfg.Metadata.RiskLevel = domain.RiskMedium
	}
	status := domain.CheckFail
	if cfg.WarnOnly {
		status = domain.CheckWarn
	}
	return &CommandCheck{
		meta:             cfg.Metadata,
		exec:             cfg.Executor,
		command:          cfg.Command,
		expectedExitCode: cfg.ExpectedExitCode,
		outputContains:   cfg.OutputContains,
		failStatus:       status,
		suggestedFix:     cfg.SuggestedFix,
	}
}

func (c *CommandCheck) Metadata() domain.CheckMetadata { return c.meta }

func (c *CommandCheck) Execute(ctx context.Context, app *domain.Application, server *domain.Server) (domain.CheckResult, error) {
	command := strings.ReplaceAll(c.command, "{{path}}", executor.ShellQuote(app.Path))
	res, err := c.exec.RunCommand(ctx, server, command)
	if err != nil {
		return Error(c.meta, err), nil
	}

	exitOK := res.ExitCode == c.expectedExitCode
	outputOK := true
	if c.outputContains != "" && exitOK {
		outputOK = strings.Contains(res.Output, c.outputContains)
	}

	details := map[string]any{
		"command":            command,
		"exit_code":          res.ExitCode,
		"expected_exit_code": c.expectedExitCode,
		"stdout":             executor.Truncate(res.Output, 500),
		"output_match":       outputOK,
	}

	if exitOK && outputOK {
		return Pass(c.meta, c.meta.Description+" ok", details), nil
	}

	msg := fmt.Sprintf("exit code %d (expected %d)", res.ExitCode, c.expectedExitCode)
	if exitOK {
		msg = fmt.Sprintf("output does not contain %q", c.outputContains)
	}
	if c.failStatus == domain.CheckWarn {
		return Warn(c.meta, msg, c.suggestedFix, details), nil
	}
	return Fail(c.meta, msg, c.suggestedFix, details), nil
}
