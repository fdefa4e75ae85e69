package domain

import "time"

// CheckCategory groups diagnostic checks by the aspect they inspect
type CheckCategory string

const (
	CategorySystem        CheckCategory = "SYSTEM"
	CategorySecurity      CheckCategory = "SECURITY"
	CategoryPerformance   CheckCategory = "PERFORMANCE"
	CategoryAvailability  CheckCategory = "AVAILABILITY"
	CategoryConfiguration CheckCategory = "CONFIGURATION"
	CategoryDatabase      CheckCategory = "DATABASE"
	CategoryApplication   CheckCategory = "APPLICATION"
)

// CheckStatus is the outcome of one check execution
type CheckStatus string

const (
	CheckPass    CheckStatus = "PASS"
	CheckWarn    CheckStatus = "WARN"
	CheckFail    CheckStatus = "FAIL"
	CheckError   CheckStatus = "ERROR"
	CheckSkipped CheckStatus = "SKIPPED"
)

// NeedsAttention reports whether a result with this status is a healing candidate
func (s CheckStatus) NeedsAttention() bool {
	return s == CheckFail || s == CheckWarn
}

// RiskLevel rates both check severity and healing action risk
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// CheckMetadata describes a diagnostic check
type CheckMetadata struct {
	Name        string        `json:"name"`
	Category    CheckCategory `json:"category"`
	RiskLevel   RiskLevel     `json:"risk_level"`
	Description string        `json:"description"`
	// TechStacks lists the stacks the check applies to; empty means all
	TechStacks []string      `json:"tech_stacks,omitempty"`
	Timeout    time.Duration `json:"timeout"`
}

// AppliesTo reports whether the check is applicable to the given stack
func (m CheckMetadata) AppliesTo(stack string) bool {
	if len(m.TechStacks) == 0 {
		return true
	}
	for _, s := range m.TechStacks {
		if s == stack {
			return true
		}
	}
	return false
}

// CheckResult is the immutable output of one check execution
type CheckResult struct {
	CheckName     string         `json:"check_name"`
	Category      CheckCategory  `json:"category"`
	Status        CheckStatus    `json:"status"`
	Severity      RiskLevel      `json:"severity"`
	Message       string         `json:"message"`
	Details       map[string]any `json:"details,omitempty"`
	SuggestedFix  string         `json:"suggested_fix,omitempty"`
	ExecutionTime time.Duration  `json:"execution_time"`
	ExecutedAt    time.Time      `json:"executed_at"`
}

// DiagnosisRecord is one persisted diagnosis batch
type DiagnosisRecord struct {
	ID            string        `json:"id"`
	ApplicationID string        `json:"application_id"`
	Results       []CheckResult `json:"results"`
	HealthScore   int           `json:"health_score"`
	HealthStatus  HealthStatus  `json:"health_status"`
	CreatedAt     time.Time     `json:"created_at"`
}
