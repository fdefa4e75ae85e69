package check

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/stackhealer/backend-go/internal/domain"
	"golang.org/x/sync/errgroup"
)

// Observer receives one sample per executed check
type Observer interface {
	ObserveCheck(name string, status domain.CheckStatus, d time.Duration)
}

// Runner executes a batch of checks against one application with bounded
// concurrency so a single server is not flooded with checks
type Runner struct {
	logger   zerolog.Logger
	workers  int
	observer Observer
}

// NewRunner creates a Runner. workers < 1 runs checks one at a time.
func NewRunner(logger zerolog.Logger, workers int, observer Observer) *Runner {
	if workers < 1 {
		workers = 1
	}
	return &Runner{logger: logger, workers: workers, observer: observer}
}

// Run executes every applicable check and returns results in check order.
// Checks not yet started when ctx is cancelled are reported as SKIPPED and
// the context error is returned alongside the partial batch.
func (r *Runner) Run(ctx context.Context, checks []Check, app *domain.Application, server *domain.Server) ([]domain.CheckResult, error) {
	results := make([]domain.CheckResult, len(checks))

	g := new(errgroup.Group)
	g.SetLimit(r.workers)

	for i, c := range checks {
		meta := c.Metadata()
		if !meta.AppliesTo(app.TechStack) {
			results[i] = Skip(meta, "not applicable to "+app.TechStack)
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				results[i] = Skip(meta, "diagnosis cancelled")
				return nil
			}
			res := SafeExecute(ctx, r.logger, c, app, server)
			r.logger.Debug().
				Str("app_id", app.ID).
				Str("check", meta.Name).
				Str("status", string(res.Status)).
				Dur("took", res.ExecutionTime).
				Msg("check executed")
			if r.observer != nil {
				r.observer.ObserveCheck(meta.Name, res.Status, res.ExecutionTime)
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	return results, ctx.Err()
}
