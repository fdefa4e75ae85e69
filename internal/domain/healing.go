package domain

import "time"

// HealingAction is a named remediation offered by a stack plugin
type HealingAction struct {
	Name              string        `json:"name" yaml:"name"`
	Description       string        `json:"description" yaml:"description"`
	Commands          []string      `json:"commands" yaml:"commands"`
	RiskLevel         RiskLevel     `json:"risk_level" yaml:"risk_level"`
	RequiresBackup    bool          `json:"requires_backup" yaml:"requires_backup"`
	EstimatedDuration time.Duration `json:"estimated_duration" yaml:"estimated_duration"`
}

// PlanItem pairs a failing check with the action matched to it.
// Action is nil for items that cannot be healed.
type PlanItem struct {
	Check  CheckResult    `json:"check"`
	Action *HealingAction `json:"action,omitempty"`
	// Reason explains why an item was deferred instead of executed
	Reason string `json:"reason,omitempty"`
}

// HealingPlan partitions the failing checks of one diagnosis batch
type HealingPlan struct {
	ApplicationID   string      `json:"application_id"`
	Mode            HealingMode `json:"mode"`
	AutoHeal        []PlanItem  `json:"auto_heal"`
	RequireApproval []PlanItem  `json:"require_approval"`
	CannotHeal      []PlanItem  `json:"cannot_heal"`
	Summary         string      `json:"summary"`
}

// Size returns the total number of items across all buckets
func (p *HealingPlan) Size() int {
	return len(p.AutoHeal) + len(p.RequireApproval) + len(p.CannotHeal)
}

// HealingOutcome is the result of executing one healing action
type HealingOutcome struct {
	ApplicationID string        `json:"application_id"`
	Action        string        `json:"action"`
	Success       bool          `json:"success"`
	Verified      bool          `json:"verified"`
	BackupID      string        `json:"backup_id,omitempty"`
	RolledBack    bool          `json:"rolled_back"`
	Output        string        `json:"output,omitempty"`
	Error         string        `json:"error,omitempty"`
	Duration      time.Duration `json:"duration"`
	// Attempted is false when the action never started (refused or cancelled)
	Attempted bool `json:"attempted"`
}

// HealingReport summarizes one full diagnose-plan-heal run
type HealingReport struct {
	RunID         string           `json:"run_id"`
	ApplicationID string           `json:"application_id"`
	StartedAt     time.Time        `json:"started_at"`
	CompletedAt   time.Time        `json:"completed_at"`
	Diagnosis     []CheckResult    `json:"diagnosis"`
	Plan          *HealingPlan     `json:"plan"`
	Outcomes      []HealingOutcome `json:"outcomes"`
	// Deferred holds autoHeal items that were not executed (circuit open, healer disabled, ...)
	Deferred []PlanItem `json:"deferred"`
	// CircuitOpened is set when this run tripped the breaker
	CircuitOpened bool `json:"circuit_opened"`
}

// HealingActivity is a point-in-time view of healing work in progress
type HealingActivity struct {
	// ApplicationsHealing counts applications with a run in progress or queued
	ApplicationsHealing int              `json:"applications_healing"`
	PendingRestores     []PendingRestore `json:"pending_restores"`
}

// PendingRestore is a run whose latest backed-up action is not yet verified
type PendingRestore struct {
	RunID   string `json:"run_id"`
	Entries int    `json:"entries"`
}

// BackupRecord is metadata for one snapshot taken before a healing action
type BackupRecord struct {
	ID            string    `json:"id"`
	ApplicationID string    `json:"application_id"`
	ActionName    string    `json:"action_name"`
	Location      string    `json:"location"`
	Strategy      string    `json:"strategy"`
	SizeBytes     int64     `json:"size_bytes"`
	Success       bool      `json:"success"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// BackupResult is returned by a backup attempt
type BackupResult struct {
	Success   bool          `json:"success"`
	BackupID  string        `json:"backup_id,omitempty"`
	Error     string        `json:"error,omitempty"`
	SizeBytes int64         `json:"size_bytes"`
	Duration  time.Duration `json:"duration"`
}

// RestoreResult is returned by a restore attempt
type RestoreResult struct {
	Success  bool          `json:"success"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}
