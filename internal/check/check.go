// Package check defines the diagnostic check contract, the result builders
// every check uses, and the built-in system and service checks.
package check

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/stackhealer/backend-go/internal/domain"
)

// DefaultTimeout bounds a check that declares no timeout of its own. It is
// set once at startup from configuration.
var DefaultTimeout = 30 * time.Second

// Check is the interface all diagnostic checks must satisfy.
// Execute reports expected failure modes (metric unavailable, host
// unreachable) as ERROR results; a returned error means a programming or
// configuration mistake and is also folded into an ERROR result by SafeExecute.
type Check interface {
	Metadata() domain.CheckMetadata
	Execute(ctx context.Context, app *domain.Application, server *domain.Server) (domain.CheckResult, error)
}

// Pass builds a result that needs no remediation
func Pass(meta domain.CheckMetadata, message string, details map[string]any) domain.CheckResult {
	return build(meta, domain.CheckPass, message, "", details)
}

// Warn builds a result for a problem worth fixing but not yet failing
func Warn(meta domain.CheckMetadata, message, suggestedFix string, details map[string]any) domain.CheckResult {
	return build(meta, domain.CheckWarn, message, suggestedFix, details)
}

// Fail builds a result for a confirmed problem
func Fail(meta domain.CheckMetadata, message, suggestedFix string, details map[string]any) domain.CheckResult {
	return build(meta, domain.CheckFail, message, suggestedFix, details)
}

// Error builds a result for a check that could not run
func Error(meta domain.CheckMetadata, err error) domain.CheckResult {
	return build(meta, domain.CheckError, err.Error(), "", map[string]any{"error": err.Error()})
}

// Skip builds a result for a check that does not apply
func Skip(meta domain.CheckMetadata, reason string) domain.CheckResult {
	return build(meta, domain.CheckSkipped, reason, "", nil)
}

func build(meta domain.CheckMetadata, status domain.CheckStatus, message, fix string, details map[string]any) domain.CheckResult {
	return domain.CheckResult{
		CheckName:    meta.Name,
		Category:     meta.Category,
		Status:       status,
		Severity:     meta.RiskLevel,
		Message:      message,
		Details:      details,
		SuggestedFix: fix,
		ExecutedAt:   time.Now().UTC(),
	}
}

// SafeExecute runs a check under its declared timeout; it never returns an error.
// A check still running when the timeout fires is reported as ERROR and its
// eventual result is discarded.
func SafeExecute(ctx context.Context, logger zerolog.Logger, c Check, app *domain.Application, server *domain.Server) domain.CheckResult {
	meta := c.Metadata()
	timeout := meta.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result domain.CheckResult
		err    error
	}
	done := make(chan outcome, 1)
	start := time.Now()
	go func() {
		r, err := c.Execute(ctx, app, server)
		done <- outcome{r, err}
	}()

	var result domain.CheckResult
	select {
	case o := <-done:
		result = o.result
		if o.err != nil {
			logger.Warn().Err(o.err).Str("check", meta.Name).Msg("check failed to execute")
			result = Error(meta, o.err)
		}
	case <-ctx.Done():
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: check %s exceeded %v", domain.ErrTimeout, meta.Name, timeout)
		}
		logger.Warn().Err(err).Str("check", meta.Name).Msg("check did not complete")
		result = Error(meta, err)
	}

	if result.CheckName == "" {
		result.CheckName = meta.Name
	}
	if result.Category == "" {
		result.Category = meta.Category
	}
	if result.Severity == "" {
		result.Severity = meta.RiskLevel
	}
	if result.ExecutedAt.IsZero() {
		result.ExecutedAt = time.Now().UTC()
	}
	result.ExecutionTime = time.Since(start)
	return result
}
