package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stackhealer/backend-go/internal/check"
	"github.com/stackhealer/backend-go/internal/domain"
	"github.com/stackhealer/backend-go/internal/executor"
	"github.com/stackhealer/backend-go/internal/plugin"
	"github.com/stackhealer/backend-go/internal/safety"
	"github.com/stackhealer/backend-go/internal/strategy"
)

const (
	outcomeSuccess      = "success"
	outcomeFailure      = "failure"
	outcomeBackupFailed = "backup_failed"
	outcomeRefused      = "refused"
	outcomeCancelled    = "cancelled"
)

// errInterrupted marks an action stopped because the caller's context ended,
// as opposed to the action's own timeout
var errInterrupted = errors.New("interrupted")

// actionRun is the outcome of one action plus whether it tripped the breaker
type actionRun struct {
	outcome *domain.HealingOutcome
	opened  bool
	// refusal is the breaker's reason when the action never started
	refusal string
	// err is set when the run stopped early: cancellation or a lookup failure
	err error
}

// ExecuteHealing runs one action for the application outside a planned run.
// The checks that last reported a problem this action fixes are re-run to
// verify it. A breaker refusal is reported in the outcome, not as an error.
func (o *Orchestrator) ExecuteHealing(ctx context.Context, appID string, action domain.HealingAction) (*domain.HealingOutcome, error) {
	if err := o.estop.Check(); err != nil {
		return nil, err
	}
	t, err := o.resolve(ctx, appID)
	if err != nil {
		return nil, err
	}

	var origin []string
	if latest, err := o.LatestDiagnosis(ctx, appID); err == nil && latest != nil {
		for _, r := range latest.Results {
			if r.Status.NeedsAttention() && strategy.MatchAction(r, []domain.HealingAction{action}) != nil {
				origin = append(origin, r.CheckName)
			}
		}
	}

	run := o.runAction(ctx, uuid.NewString(), t, action, origin)
	return run.outcome, run.err
}

// Heal runs the full pipeline for one application: diagnose, plan, and
// execute every auto-heal item the breaker allows. Items that are not
// executed are listed in the report's Deferred bucket with a reason.
// Runs for the same application are serialized.
func (o *Orchestrator) Heal(ctx context.Context, appID string) (*domain.HealingReport, error) {
	unlock, err := o.runs.Lock(ctx, appID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return o.heal(ctx, appID)
}

// TryHeal is Heal without waiting: it returns domain.ErrApplicationBusy when
// a run for the application is already in progress
func (o *Orchestrator) TryHeal(ctx context.Context, appID string) (*domain.HealingReport, error) {
	unlock, ok := o.runs.TryLock(appID)
	if !ok {
		return nil, domain.ErrApplicationBusy
	}
	defer unlock()
	return o.heal(ctx, appID)
}

// Activity reports healing runs in progress and actions still guarded by a
// restore that has neither been committed nor rolled back
func (o *Orchestrator) Activity() domain.HealingActivity {
	activity := domain.HealingActivity{
		ApplicationsHealing: o.runs.Held(),
		PendingRestores:     []domain.PendingRestore{},
	}
	for _, runID := range o.rollbacks.ActiveRuns() {
		if n := o.rollbacks.StackSize(runID); n > 0 {
			activity.PendingRestores = append(activity.PendingRestores, domain.PendingRestore{RunID: runID, Entries: n})
		}
	}
	sort.Slice(activity.PendingRestores, func(i, j int) bool {
		return activity.PendingRestores[i].RunID < activity.PendingRestores[j].RunID
	})
	return activity
}

func (o *Orchestrator) heal(ctx context.Context, appID string) (*domain.HealingReport, error) {
	report := &domain.HealingReport{
		RunID:         uuid.NewString(),
		ApplicationID: appID,
		StartedAt:     o.now().UTC(),
		Outcomes:      []domain.HealingOutcome{},
		Deferred:      []domain.PlanItem{},
	}
	log := o.logger.With().Str("app_id", appID).Str("run_id", report.RunID).Logger()

	results, err := o.RunDiagnosis(ctx, appID)
	report.Diagnosis = results
	if err != nil {
		return report, err
	}

	t, err := o.resolve(ctx, appID)
	if err != nil {
		return report, err
	}
	plan, err := o.engine.DetermineHealingPlan(t.app, results, t.app.HealingMode)
	if err != nil {
		return report, err
	}
	report.Plan = plan
	log.Info().Str("summary", plan.Summary).Msg("healing plan")

	switch {
	case o.estop.IsTriggered():
		report.Deferred = deferAll(plan.AutoHeal, "emergency stop active")
	case !t.app.IsHealerEnabled:
		report.Deferred = deferAll(plan.AutoHeal, "healer disabled")
	default:
		groups := groupByAction(plan.AutoHeal)
		for i, g := range groups {
			if ctx.Err() != nil {
				for _, rest := range groups[i:] {
					report.Deferred = append(report.Deferred, deferAll(rest.items, "run cancelled")...)
				}
				break
			}
			if o.estop.IsTriggered() {
				report.Deferred = append(report.Deferred, deferAll(g.items, "emergency stop active")...)
				continue
			}

			run := o.runAction(ctx, report.RunID, t, g.action, g.checkNames())
			if run.refusal != "" {
				log.Warn().Str("action", g.action.Name).Str("reason", run.refusal).Msg("healing deferred")
				report.Deferred = append(report.Deferred, deferAll(g.items, run.refusal)...)
				continue
			}
			// a cancelled action is deferred even when its commands ran:
			// nothing was recorded for it and it must not be reported as failed
			if !run.outcome.Attempted || run.err != nil {
				reason := "run cancelled"
				switch {
				case ctx.Err() != nil && run.outcome.Attempted:
					reason = "run " + run.outcome.Error
				case run.err != nil && ctx.Err() == nil:
					reason = run.err.Error()
				}
				report.Deferred = append(report.Deferred, deferAll(g.items, reason)...)
				continue
			}
			report.Outcomes = append(report.Outcomes, *run.outcome)
			report.CircuitOpened = report.CircuitOpened || run.opened
		}
	}

	report.CompletedAt = o.now().UTC()
	log.Info().
		Int("executed", len(report.Outcomes)).
		Int("deferred", len(report.Deferred)).
		Bool("circuit_opened", report.CircuitOpened).
		Msg("healing run completed")
	return report, ctx.Err()
}

// runAction executes action under the application lock. Cancellation is
// honoured between steps; a cancelled action records nothing with the
// breaker and leaves any backup it took in place.
func (o *Orchestrator) runAction(ctx context.Context, runID string, t *target, action domain.HealingAction, origin []string) actionRun {
	appID := t.app.ID
	log := o.logger.With().Str("app_id", appID).Str("action", action.Name).Str("run_id", runID).Logger()
	start := time.Now()
	out := &domain.HealingOutcome{ApplicationID: appID, Action: action.Name}
	finish := func(label string) {
		out.Duration = time.Since(start)
		if o.observer != nil {
			o.observer.ObserveHealing(action.Name, label, out.Duration)
		}
	}

	unlock, err := o.locks.Lock(ctx, appID)
	if err != nil {
		out.Error = err.Error()
		finish(outcomeCancelled)
		return actionRun{outcome: out, err: err}
	}
	defer unlock()

	decision, err := o.breaker.Begin(ctx, appID)
	if err != nil {
		out.Error = err.Error()
		finish(outcomeCancelled)
		return actionRun{outcome: out, err: err}
	}
	if !decision.Allowed {
		out.Error = fmt.Sprintf("%v: %s", domain.ErrCircuitOpen, decision.Reason)
		finish(outcomeRefused)
		return actionRun{outcome: out, refusal: decision.Reason}
	}
	cancelled := func(stage string) actionRun {
		o.breaker.Release(appID)
		o.rollbacks.Commit(runID)
		out.Error = "cancelled " + stage
		log.Warn().Str("stage", stage).Msg("healing action cancelled")
		finish(outcomeCancelled)
		return actionRun{outcome: out, err: ctx.Err()}
	}

	restore := o.markHealing(ctx, appID)
	defer restore()

	if action.RequiresBackup {
		res, err := o.backups.CreateBackup(ctx, appID, action.Name)
		if ctx.Err() != nil {
			if res != nil && res.Success {
				out.BackupID = res.BackupID
			}
			return cancelled("after backup")
		}
		if err != nil || !res.Success {
			out.Attempted = true
			out.Error = backupError(res, err)
			log.Error().Str("error", out.Error).Msg("backup failed, action not executed")
			opened := o.recordFailure(ctx, appID)
			finish(outcomeBackupFailed)
			return actionRun{outcome: out, opened: opened}
		}
		out.BackupID = res.BackupID
		backupID := res.BackupID
		o.rollbacks.Push(runID, func(ctx context.Context) error {
			r, err := o.backups.RestoreBackup(ctx, appID, backupID)
			if err != nil {
				return err
			}
			if !r.Success {
				return errors.New(r.Error)
			}
			return nil
		}, "restore backup "+backupID)
	}

	if ctx.Err() != nil {
		return cancelled("before execution")
	}
	out.Attempted = true

	output, execErr := o.execute(ctx, t, action)
	out.Output = executor.Truncate(output, 2000)
	if execErr == nil && ctx.Err() != nil {
		return cancelled("before verification")
	}

	if execErr == nil {
		failed := o.verify(ctx, t, origin)
		if len(failed) == 0 {
			out.Success = true
			out.Verified = true
			o.rollbacks.Commit(runID)
			if err := o.breaker.RecordSuccess(ctx, appID); err != nil {
				log.Error().Err(err).Msg("record healing success")
			}
			now := o.now().UTC()
			if _, err := o.store.UpdateApplication(ctx, appID, func(app *domain.Application) error {
				app.LastHealedAt = &now
				return nil
			}); err != nil {
				log.Error().Err(err).Msg("update last healed time")
			}
			log.Info().Str("backup_id", out.BackupID).Msg("healing action verified")
			finish(outcomeSuccess)
			return actionRun{outcome: out}
		}
		if ctx.Err() != nil {
			return cancelled("during verification")
		}
		execErr = fmt.Errorf("verification failed: %s", strings.Join(failed, "; "))
	} else if errors.Is(execErr, errInterrupted) {
		return cancelled("during execution")
	}

	out.Error = execErr.Error()
	log.Warn().Err(execErr).Msg("healing action failed")
	opened := o.recordFailure(ctx, appID)
	if res, ok := o.rollbacks.Pop(context.WithoutCancel(ctx), runID); ok {
		out.RolledBack = res.Status == "success"
		if !out.RolledBack {
			out.Error += "; rollback failed: " + res.Error
		}
	}
	finish(outcomeFailure)
	return actionRun{outcome: out, opened: opened}
}

// execute runs the action's commands in order under the hard action timeout.
// The parent context is only consulted between commands so a running remote
// command is never cut off by cancellation, only by the timeout. An ended
// parent context, by cancel or deadline, is reported wrapping errInterrupted.
func (o *Orchestrator) execute(ctx context.Context, t *target, action domain.HealingAction) (string, error) {
	timeout := o.actionTimeout
	if est := 2 * action.EstimatedDuration; est > timeout {
		timeout = est
	}

	var output strings.Builder
	err := safety.WithTimeout(context.WithoutCancel(ctx), timeout, func(tctx context.Context) error {
		for _, raw := range action.Commands {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("%w: %w", errInterrupted, err)
			}
			cmd := plugin.RenderCommand(raw, t.app)
			res, err := o.exec.RunCommand(tctx, t.server, cmd)
			if err != nil {
				return fmt.Errorf("%w: %w", domain.ErrExecutionFailed, err)
			}
			output.WriteString(res.Output)
			if !res.Success {
				return fmt.Errorf("%w: %q exited with %d: %s", domain.ErrExecutionFailed,
					cmd, res.ExitCode, executor.Truncate(res.Output, 300))
			}
		}
		return nil
	})
	if errors.Is(err, domain.ErrTimeout) {
		err = fmt.Errorf("%w: action %s exceeded %v", domain.ErrTimeout, action.Name, timeout)
	}
	return output.String(), err
}

// verify re-runs the named checks and returns a description of every one
// that still does not pass
func (o *Orchestrator) verify(ctx context.Context, t *target, origin []string) []string {
	if len(origin) == 0 {
		return nil
	}
	byName := make(map[string]check.Check)
	for _, c := range t.plugin.Checks() {
		byName[c.Metadata().Name] = c
	}

	var failed []string
	for _, name := range origin {
		c, ok := byName[name]
		if !ok {
			continue
		}
		r := check.SafeExecute(ctx, o.logger, c, t.app, t.server)
		if r.Status != domain.CheckPass {
			failed = append(failed, fmt.Sprintf("%s still %s: %s", name, r.Status, r.Message))
		}
	}
	return failed
}

func (o *Orchestrator) recordFailure(ctx context.Context, appID string) bool {
	opened, err := o.breaker.RecordFailure(context.WithoutCancel(ctx), appID)
	if err != nil {
		o.logger.Error().Err(err).Str("app_id", appID).Msg("record healing failure")
	}
	return opened
}

// markHealing flags the application as HEALING and returns a function that
// puts the previous status back. Applications in maintenance keep their status.
func (o *Orchestrator) markHealing(ctx context.Context, appID string) func() {
	var previous domain.HealthStatus
	_, err := o.store.UpdateApplication(ctx, appID, func(app *domain.Application) error {
		previous = app.HealthStatus
		if app.HealthStatus != domain.HealthMaintenance {
			app.HealthStatus = domain.HealthHealing
		}
		return nil
	})
	if err != nil {
		o.logger.Error().Err(err).Str("app_id", appID).Msg("mark application healing")
		return func() {}
	}
	return func() {
		_, err := o.store.UpdateApplication(context.WithoutCancel(ctx), appID, func(app *domain.Application) error {
			if app.HealthStatus == domain.HealthHealing {
				app.HealthStatus = previous
			}
			return nil
		})
		if err != nil {
			o.logger.Error().Err(err).Str("app_id", appID).Msg("restore application status")
		}
	}
}

func backupError(res *domain.BackupResult, err error) string {
	if err != nil {
		return fmt.Sprintf("%v: %v", domain.ErrBackupFailed, err)
	}
	return res.Error
}

type actionGroup struct {
	action domain.HealingAction
	items  []domain.PlanItem
}

func (g actionGroup) checkNames() []string {
	names := make([]string, len(g.items))
	for i, it := range g.items {
		names[i] = it.Check.CheckName
	}
	return names
}

// groupByAction merges plan items sharing an action so it runs once, in
// order of first appearance
func groupByAction(items []domain.PlanItem) []actionGroup {
	var groups []actionGroup
	index := make(map[string]int)
	for _, it := range items {
		if it.Action == nil {
			continue
		}
		i, ok := index[it.Action.Name]
		if !ok {
			i = len(groups)
			index[it.Action.Name] = i
			groups = append(groups, actionGroup{action: *it.Action})
		}
		groups[i].items = append(groups[i].items, it)
	}
	return groups
}

func deferAll(items []domain.PlanItem, reason string) []domain.PlanItem {
	out := make([]domain.PlanItem, len(items))
	for i, it := range items {
		it.Reason = reason
		out[i] = it
	}
	return out
}
