package strategy

import (
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stackhealer/backend-go/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	allModes = []domain.HealingMode{domain.HealingModeManual, domain.HealingModeSemiAuto, domain.HealingModeFullAuto}
	allRisks = []domain.RiskLevel{domain.RiskLow, domain.RiskMedium, domain.RiskHigh, domain.RiskCritical}
)

type staticActions map[string][]domain.HealingAction

func (s staticActions) ActionsFor(techStack string) ([]domain.HealingAction, error) {
	a, ok := s[techStack]
	if !ok {
		return nil, domain.ErrPluginNotFound
	}
	return a, nil
}

func failing(name string, severity domain.RiskLevel) domain.CheckResult {
	return domain.CheckResult{CheckName: name, Status: domain.CheckFail, Severity: severity}
}

func action(name string, risk domain.RiskLevel) domain.HealingAction {
	return domain.HealingAction{Name: name, RiskLevel: risk, Commands: []string{"true"}}
}

func TestCanAutoHeal(t *testing.T) {
	tests := []struct {
		mode domain.HealingMode
		risk domain.RiskLevel
		want bool
	}{
		{domain.HealingModeManual, domain.RiskLow, false},
		{domain.HealingModeManual, domain.RiskMedium, false},
		{domain.HealingModeManual, domain.RiskHigh, false},
		{domain.HealingModeManual, domain.RiskCritical, false},
		{domain.HealingModeSemiAuto, domain.RiskLow, true},
		{domain.HealingModeSemiAuto, domain.RiskMedium, false},
		{domain.HealingModeSemiAuto, domain.RiskHigh, false},
		{domain.HealingModeSemiAuto, domain.RiskCritical, false},
		{domain.HealingModeFullAuto, domain.RiskLow, true},
		{domain.HealingModeFullAuto, domain.RiskMedium, true},
		{domain.HealingModeFullAuto, domain.RiskHigh, false},
		{domain.HealingModeFullAuto, domain.RiskCritical, false},
		{domain.HealingMode("BOGUS"), domain.RiskLow, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", tt.mode, tt.risk), func(t *testing.T) {
			assert.Equal(t, tt.want, CanAutoHeal(tt.mode, tt.risk))
		})
	}
}

func TestKeywordTableEveryPair(t *testing.T) {
	for _, kw := range keywordPairs {
		t.Run(kw.check, func(t *testing.T) {
			actions := []domain.HealingAction{
				action("noop_action", domain.RiskLow),
				action("zz_"+kw.action+"_action", domain.RiskLow),
			}
			got := MatchAction(failing("x_"+kw.check+"_y", domain.RiskLow), actions)
			require.NotNil(t, got)
			assert.Equal(t, "zz_"+kw.action+"_action", got.Name)
		})
	}
}

func TestMatchAction(t *testing.T) {
	actions := []domain.HealingAction{
		action("cache_clear", domain.RiskLow),
		action("permission_fix", domain.RiskMedium),
		action("restart_web_server", domain.RiskMedium),
		action("database_repair", domain.RiskHigh),
		action("dependency_update", domain.RiskMedium),
		action("restart_queue_workers", domain.RiskLow),
		action("rebuild_strategy", domain.RiskMedium),
	}

	tests := []struct {
		name   string
		result domain.CheckResult
		want   string
	}{
		{"exact name", failing("cache_clear", domain.RiskLow), "cache_clear"},
		{"check name contains action", failing("cache_clear_needed", domain.RiskLow), "cache_clear"},
		{"suffix stripped", failing("permission", domain.RiskLow), "permission_fix"},
		{"strategy suffix stripped", failing("rebuild", domain.RiskLow), "rebuild_strategy"},
		{"case insensitive", failing("Cache_Clear", domain.RiskLow), "cache_clear"},
		{
			"suggested fix",
			domain.CheckResult{CheckName: "http_availability", Status: domain.CheckFail, SuggestedFix: "Restart web server"},
			"restart_web_server",
		},
		{"keyword database", failing("database_connection", domain.RiskHigh), "database_repair"},
		{"keyword dependencies to update", failing("dependencies_audit", domain.RiskMedium), "dependency_update"},
		{"keyword queue", failing("queue_backlog", domain.RiskMedium), "restart_queue_workers"},
		{"keyword process to restart", failing("process_running", domain.RiskMedium), "restart_web_server"},
		{"keyword permission", failing("wp_config_permissions", domain.RiskMedium), "permission_fix"},
		{"keyword build", failing("build_output", domain.RiskMedium), "rebuild_strategy"},
		{"keyword cache", failing("object_cache_hit_ratio", domain.RiskLow), "cache_clear"},
		{"keyword update", failing("core_update_available", domain.RiskMedium), "dependency_update"},
		{"keyword order queue before process", failing("process_queue_depth", domain.RiskMedium), "restart_queue_workers"},
		{"no match", failing("unknown_metric_issue", domain.RiskMedium), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MatchAction(tt.result, actions)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Name)
		})
	}
}

func TestMatchActionNameBeforeSuggestedFix(t *testing.T) {
	actions := []domain.HealingAction{
		action("restart_web_server", domain.RiskMedium),
		action("cache_clear", domain.RiskLow),
	}
	r := domain.CheckResult{CheckName: "cache_clear", Status: domain.CheckFail, SuggestedFix: "Restart web server"}

	got := MatchAction(r, actions)
	require.NotNil(t, got)
	assert.Equal(t, "cache_clear", got.Name)
}

func TestBuildPlanScenarios(t *testing.T) {
	t.Run("low risk cache clear under full auto", func(t *testing.T) {
		plan := BuildPlan("app-1",
			[]domain.CheckResult{failing("cache_clear", domain.RiskLow)},
			[]domain.HealingAction{action("cache_clear", domain.RiskLow)},
			domain.HealingModeFullAuto)

		assert.Len(t, plan.AutoHeal, 1)
		assert.Empty(t, plan.RequireApproval)
		assert.Empty(t, plan.CannotHeal)
	})

	t.Run("database repair always needs approval", func(t *testing.T) {
		for _, mode := range allModes {
			plan := BuildPlan("app-1",
				[]domain.CheckResult{failing("database_repair", domain.RiskHigh)},
				[]domain.HealingAction{action("database_repair", domain.RiskHigh)},
				mode)

			assert.Empty(t, plan.AutoHeal, mode)
			assert.Len(t, plan.RequireApproval, 1, mode)
			assert.Empty(t, plan.CannotHeal, mode)
		}
	})

	t.Run("unmatched check cannot be healed", func(t *testing.T) {
		plan := BuildPlan("app-1",
			[]domain.CheckResult{failing("unknown_metric_issue", domain.RiskMedium)},
			[]domain.HealingAction{action("cache_clear", domain.RiskLow), action("restart_web_server", domain.RiskMedium)},
			domain.HealingModeFullAuto)

		assert.Empty(t, plan.AutoHeal)
		assert.Empty(t, plan.RequireApproval)
		require.Len(t, plan.CannotHeal, 1)
		assert.Nil(t, plan.CannotHeal[0].Action)
	})
}

func TestBuildPlanPartitionProperties(t *testing.T) {
	statuses := []domain.CheckStatus{domain.CheckPass, domain.CheckWarn, domain.CheckFail, domain.CheckError, domain.CheckSkipped}

	for _, mode := range allModes {
		for _, risk := range allRisks {
			actions := []domain.HealingAction{action("cache_clear", risk)}
			var results []domain.CheckResult
			attention := 0
			for i, st := range statuses {
				results = append(results,
					domain.CheckResult{CheckName: "cache_clear", Status: st},
					domain.CheckResult{CheckName: fmt.Sprintf("orphan_%d", i), Status: st},
				)
				if st.NeedsAttention() {
					attention += 2
				}
			}

			plan := BuildPlan("app-1", results, actions, mode)
			name := fmt.Sprintf("%s/%s", mode, risk)

			assert.Equal(t, attention, plan.Size(), name)
			for _, it := range append(append(append([]domain.PlanItem{}, plan.AutoHeal...), plan.RequireApproval...), plan.CannotHeal...) {
				assert.True(t, it.Check.Status.NeedsAttention(), name)
			}
			for _, it := range plan.AutoHeal {
				assert.NotEqual(t, domain.RiskHigh, it.Action.RiskLevel, name)
				assert.NotEqual(t, domain.RiskCritical, it.Action.RiskLevel, name)
				if mode == domain.HealingModeSemiAuto {
					assert.Equal(t, domain.RiskLow, it.Action.RiskLevel, name)
				}
			}
			if mode == domain.HealingModeManual {
				assert.Empty(t, plan.AutoHeal, name)
			}
			assert.Len(t, plan.CannotHeal, 2, name)
		}
	}
}

func TestSummarize(t *testing.T) {
	plan := BuildPlan("app-1",
		[]domain.CheckResult{failing("cache_clear", domain.RiskLow), failing("mystery", domain.RiskLow)},
		[]domain.HealingAction{action("cache_clear", domain.RiskLow)},
		domain.HealingModeFullAuto)

	assert.Equal(t, "auto-heal: 1 (cache_clear->cache_clear); require approval: 0 (none); cannot heal: 1 (mystery)", plan.Summary)
}

func TestDetermineHealingPlan(t *testing.T) {
	src := staticActions{"wordpress": {action("cache_clear", domain.RiskLow)}}
	e := NewEngine(src, zerolog.Nop())

	app := &domain.Application{ID: "app-1", TechStack: "wordpress"}
	plan, err := e.DetermineHealingPlan(app, []domain.CheckResult{failing("cache_clear", domain.RiskLow)}, domain.HealingModeSemiAuto)
	require.NoError(t, err)
	assert.Equal(t, "app-1", plan.ApplicationID)
	assert.Equal(t, domain.HealingModeSemiAuto, plan.Mode)
	assert.Len(t, plan.AutoHeal, 1)

	_, err = e.DetermineHealingPlan(&domain.Application{ID: "x", TechStack: "rails"}, nil, domain.HealingModeFullAuto)
	assert.ErrorIs(t, err, domain.ErrPluginNotFound)
}
