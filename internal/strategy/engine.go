// Package strategy decides, for one diagnosis batch, which findings can be
// healed unattended, which need a human, and which have no remediation.
package strategy

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/stackhealer/backend-go/internal/domain"
)

// ActionSource resolves the healing actions offered for a tech stack
type ActionSource interface {
	ActionsFor(techStack string) ([]domain.HealingAction, error)
}

// keywordPairs links words in check names to words in action names.
// Pairs are tried in order.
var keywordPairs = []struct {
	check, action string
}{
	{"cache", "cache"},
	{"permission", "permission"},
	{"database", "database"},
	{"dependencies", "update"},
	{"update", "update"},
	{"queue", "queue"},
	{"process", "restart"},
	{"build", "build"},
}

var actionSuffixes = []string{"_fix", "_strategy"}

// Engine builds healing plans
type Engine struct {
	actions ActionSource
	logger  zerolog.Logger
}

// NewEngine creates an Engine that looks up actions through src
func NewEngine(src ActionSource, logger zerolog.Logger) *Engine {
	return &Engine{actions: src, logger: logger}
}

// DetermineHealingPlan partitions the failing and warning results of a
// diagnosis. An unknown tech stack is returned as an error.
func (e *Engine) DetermineHealingPlan(app *domain.Application, results []domain.CheckResult, mode domain.HealingMode) (*domain.HealingPlan, error) {
	actions, err := e.actions.ActionsFor(app.TechStack)
	if err != nil {
		return nil, err
	}
	plan := BuildPlan(app.ID, results, actions, mode)
	e.logger.Info().
		Str("app_id", app.ID).
		Str("mode", string(mode)).
		Int("auto_heal", len(plan.AutoHeal)).
		Int("require_approval", len(plan.RequireApproval)).
		Int("cannot_heal", len(plan.CannotHeal)).
		Msg("healing plan determined")
	return plan, nil
}

// BuildPlan is the pure planning step: every FAIL or WARN result lands in
// exactly one bucket and every other result is ignored
func BuildPlan(appID string, results []domain.CheckResult, actions []domain.HealingAction, mode domain.HealingMode) *domain.HealingPlan {
	plan := &domain.HealingPlan{
		ApplicationID:   appID,
		Mode:            mode,
		AutoHeal:        []domain.PlanItem{},
		RequireApproval: []domain.PlanItem{},
		CannotHeal:      []domain.PlanItem{},
	}

	for _, r := range results {
		if !r.Status.NeedsAttention() {
			continue
		}
		action := MatchAction(r, actions)
		switch {
		case action == nil:
			plan.CannotHeal = append(plan.CannotHeal, domain.PlanItem{Check: r, Reason: "no matching healing action"})
		case CanAutoHeal(mode, action.RiskLevel):
			plan.AutoHeal = append(plan.AutoHeal, domain.PlanItem{Check: r, Action: action})
		default:
			plan.RequireApproval = append(plan.RequireApproval, domain.PlanItem{
				Check:  r,
				Action: action,
				Reason: fmt.Sprintf("%s risk action under %s mode", action.RiskLevel, mode),
			})
		}
	}

	plan.Summary = Summarize(plan)
	return plan
}

// MatchAction finds the action for a check result: by name, then by
// suggested fix, then through the keyword table. First match wins.
func MatchAction(r domain.CheckResult, actions []domain.HealingAction) *domain.HealingAction {
	checkName := strings.ToLower(r.CheckName)

	for i := range actions {
		base := strings.ToLower(actions[i].Name)
		for _, suffix := range actionSuffixes {
			base = strings.TrimSuffix(base, suffix)
		}
		if base == "" || checkName == "" {
			continue
		}
		if strings.Contains(checkName, base) || strings.Contains(base, checkName) {
			return ptr(actions[i])
		}
	}

	if fix := strings.ToLower(r.SuggestedFix); fix != "" {
		for i := range actions {
			phrase := strings.ReplaceAll(strings.ToLower(actions[i].Name), "_", " ")
			if strings.Contains(fix, phrase) {
				return ptr(actions[i])
			}
		}
	}

	for _, kw := range keywordPairs {
		if !strings.Contains(checkName, kw.check) {
			continue
		}
		for i := range actions {
			if strings.Contains(strings.ToLower(actions[i].Name), kw.action) {
				return ptr(actions[i])
			}
		}
	}
	return nil
}

// CanAutoHeal reports whether an action of the given risk may run unattended
// under mode. HIGH and CRITICAL never do.
func CanAutoHeal(mode domain.HealingMode, risk domain.RiskLevel) bool {
	switch mode {
	case domain.HealingModeSemiAuto:
		return risk == domain.RiskLow
	case domain.HealingModeFullAuto:
		return risk == domain.RiskLow || risk == domain.RiskMedium
	default:
		return false
	}
}

// Summarize renders bucket counts and names for audit logs
func Summarize(plan *domain.HealingPlan) string {
	return fmt.Sprintf("auto-heal: %s; require approval: %s; cannot heal: %s",
		bucket(plan.AutoHeal), bucket(plan.RequireApproval), bucket(plan.CannotHeal))
}

func bucket(items []domain.PlanItem) string {
	if len(items) == 0 {
		return "0 (none)"
	}
	names := make([]string, len(items))
	for i, it := range items {
		names[i] = it.Check.CheckName
		if it.Action != nil {
			names[i] += "->" + it.Action.Name
		}
	}
	return fmt.Sprintf("%d (%s)", len(items), strings.Join(names, ", "))
}

func ptr(a domain.HealingAction) *domain.HealingAction { return &a }
