package check

import (
	"context"
	"fmt"
	"time"

	"github.com/stackhealer/backend-go/internal/domain"
	"github.com/stackhealer/backend-go/internal/executor"
)

// MetricCheck compares one server metric against tiered thresholds
type MetricCheck struct {
	meta         domain.CheckMetadata
	exec         executor.Executor
	kind         executor.MetricKind
	tiers        Tiers
	suggestedFix string
}

// MetricCheckConfig holds construction parameters for MetricCheck
type MetricCheckConfig struct {
	Metadata     domain.CheckMetadata
	Executor     executor.Executor
	Kind         executor.MetricKind
	Tiers        Tiers
	SuggestedFix string
}

// NewMetricCheck creates a metric threshold check from config
func NewMetricCheck(cfg MetricCheckConfig) *MetricCheck {
	if cfg.Metadata.Category == "" {
		cfg.Metadata.Category = domain.CategorySystem
	}
	if cfg.Metadata.RiskLevel == "" {
		cfg.Metadata.RiskLevel = domain.RiskMedium
	}
	if cfg.Metadata.Timeout == 0 {
		cfg.Metadata.Timeout = 10 * time.Second
	}
	return &MetricCheck{
		meta:         cfg.Metadata,
		exec:         cfg.Executor,
		kind:         cfg.Kind,
		tiers:        cfg.Tiers,
		suggestedFix: cfg.SuggestedFix,
	}
}

// NewCPUCheck flags sustained CPU saturation
func NewCPUCheck(exec executor.Executor) *MetricCheck {
	return NewMetricCheck(MetricCheckConfig{
		Metadata: domain.CheckMetadata{
			Name:        "cpu_usage",
			Category:    domain.CategoryPerformance,
			RiskLevel:   domain.RiskMedium,
			Description: "CPU utilisation of the host",
		},
		Executor: exec,
		Kind:     executor.MetricCPUPercent,
		Tiers: Tiers{
			{Above: 95, Status: domain.CheckFail, Severity: domain.RiskHigh},
			{Above: 80, Status: domain.CheckWarn, Severity: domain.RiskMedium},
		},
		SuggestedFix: "Restart runaway process",
	})
}

// NewMemoryCheck flags memory pressure
func NewMemoryCheck(exec executor.Executor) *MetricCheck {
	return NewMetricCheck(MetricCheckConfig{
		Metadata: domain.CheckMetadata{
			Name:        "memory_usage",
			Category:    domain.CategoryPerformance,
			RiskLevel:   domain.RiskMedium,
			Description: "Memory utilisation of the host",
		},
		Executor: exec,
		Kind:     executor.MetricMemoryPercent,
		Tiers: Tiers{
			{Above: 95, Status: domain.CheckFail, Severity: domain.RiskHigh},
			{Above: 85, Status: domain.CheckWarn, Severity: domain.RiskMedium},
		},
		SuggestedFix: "Restart application process to release memory",
	})
}

// NewDiskCheck flags a filling root filesystem
func NewDiskCheck(exec executor.Executor) *MetricCheck {
	return NewMetricCheck(MetricCheckConfig{
		Metadata: domain.CheckMetadata{
			Name:        "disk_space",
			Category:    domain.CategorySystem,
			RiskLevel:   domain.RiskHigh,
			Description: "Used space on the root filesystem",
		},
		Executor: exec,
		Kind:     executor.MetricDiskPercent,
		Tiers: Tiers{
			{Above: 95, Status: domain.CheckFail, Severity: domain.RiskCritical},
			{Above: 90, Status: domain.CheckFail, Severity: domain.RiskHigh},
			{Above: 80, Status: domain.CheckWarn, Severity: domain.RiskMedium},
		},
		SuggestedFix: "Clear cache and rotate logs",
	})
}

func (c *MetricCheck) Metadata() domain.CheckMetadata { return c.meta }

func (c *MetricCheck) Execute(ctx context.Context, _ *domain.Application, server *domain.Server) (domain.CheckResult, error) {
	v, err := c.exec.ReadMetric(ctx, server, c.kind)
	if err != nil {
		return Error(c.meta, err), nil
	}
	if v == nil {
		return Error(c.meta, fmt.Errorf("metric %s unavailable", c.kind)), nil
	}

	details := map[string]any{
		"metric": string(c.kind),
		"value":  *v,
	}
	tier, hit := c.tiers.Classify(*v)
	if !hit {
		return Pass(c.meta, fmt.Sprintf("%s at %.1f", c.kind, *v), details), nil
	}

	details["threshold"] = tier.Above
	msg := fmt.Sprintf("%s at %.1f exceeds %.0f", c.kind, *v, tier.Above)
	var res domain.CheckResult
	if tier.Status == domain.CheckFail {
		res = Fail(c.meta, msg, c.suggestedFix, details)
	} else {
		res = Warn(c.meta, msg, c.suggestedFix, details)
	}
	res.Severity = tier.Severity
	return res, nil
}
