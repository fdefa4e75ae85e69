package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stackhealer/backend-go/internal/breaker"
	"github.com/stackhealer/backend-go/internal/domain"
	"github.com/stackhealer/backend-go/internal/plugin"
)

// Healer is the slice of the orchestrator exposed over HTTP
type Healer interface {
	RunDiagnosis(ctx context.Context, appID string) ([]domain.CheckResult, error)
	LatestDiagnosis(ctx context.Context, appID string) (*domain.DiagnosisRecord, error)
	PlanHealing(ctx context.Context, appID string, results []domain.CheckResult, mode domain.HealingMode) (*domain.HealingPlan, error)
	CanHeal(ctx context.Context, appID string) (breaker.Decision, error)
	Heal(ctx context.Context, appID string) (*domain.HealingReport, error)
	FindAction(ctx context.Context, appID, name string) (domain.HealingAction, error)
	ExecuteHealing(ctx context.Context, appID string, action domain.HealingAction) (*domain.HealingOutcome, error)
	ListBackups(ctx context.Context, appID string) ([]domain.BackupRecord, error)
	RestoreBackup(ctx context.Context, appID, backupID string) (*domain.RestoreResult, error)
	Detect(ctx context.Context, serverID, path string) ([]plugin.DetectResult, error)
	Activity() domain.HealingActivity
}

// ApplicationHandler handles diagnosis, planning, healing and backup endpoints
type ApplicationHandler struct {
	healer Healer
	logger zerolog.Logger
}

// NewApplicationHandler creates a new ApplicationHandler
func NewApplicationHandler(healer Healer, logger zerolog.Logger) *ApplicationHandler {
	return &ApplicationHandler{healer: healer, logger: logger}
}

// PlanRequest optionally overrides the mode and the results to plan for.
// Without results the latest recorded diagnosis is used.
type PlanRequest struct {
	Mode    domain.HealingMode   `json:"mode"`
	Results []domain.CheckResult `json:"results"`
}

// Diagnose runs every applicable check for the application
func (h *ApplicationHandler) Diagnose(c *gin.Context) {
	results, err := h.healer.RunDiagnosis(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	score, status := domain.ScoreResults(results)
	c.JSON(http.StatusOK, gin.H{
		"application_id": c.Param("id"),
		"results":        results,
		"health_score":   score,
		"health_status":  status,
	})
}

// LatestDiagnosis returns the most recent diagnosis batch
func (h *ApplicationHandler) LatestDiagnosis(c *gin.Context) {
	rec, err := h.healer.LatestDiagnosis(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "No diagnosis recorded yet"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// Plan partitions failing checks into autoHeal, requireApproval and cannotHeal
func (h *ApplicationHandler) Plan(c *gin.Context) {
	var req PlanRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
	}
	if req.Mode != "" && !req.Mode.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid healing mode: " + string(req.Mode)})
		return
	}

	ctx := c.Request.Context()
	appID := c.Param("id")
	results := req.Results
	if len(results) == 0 {
		rec, err := h.healer.LatestDiagnosis(ctx, appID)
		if err != nil {
			h.fail(c, err)
			return
		}
		if rec == nil {
			c.JSON(http.StatusConflict, gin.H{"detail": "No diagnosis recorded yet; run diagnose first"})
			return
		}
		results = rec.Results
	}

	plan, err := h.healer.PlanHealing(ctx, appID, results, req.Mode)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

// Circuit reports whether the application may be healed right now
func (h *ApplicationHandler) Circuit(c *gin.Context) {
	decision, err := h.healer.CanHeal(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, decision)
}

// Activity reports healing runs in progress and unverified backed-up actions
func (h *ApplicationHandler) Activity(c *gin.Context) {
	c.JSON(http.StatusOK, h.healer.Activity())
}

// Heal runs the full diagnose, plan, heal pipeline
func (h *ApplicationHandler) Heal(c *gin.Context) {
	report, err := h.healer.Heal(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// ExecuteAction runs one named healing action, typically an approved one
func (h *ApplicationHandler) ExecuteAction(c *gin.Context) {
	ctx := c.Request.Context()
	appID := c.Param("id")

	action, err := h.healer.FindAction(ctx, appID, c.Param("action"))
	if err != nil {
		h.fail(c, err)
		return
	}
	outcome, err := h.healer.ExecuteHealing(ctx, appID, action)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

// ListBackups returns the application's backups, newest first
func (h *ApplicationHandler) ListBackups(c *gin.Context) {
	backups, err := h.healer.ListBackups(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"backups": backups, "count": len(backups)})
}

// RestoreBackup restores one of the application's backups
func (h *ApplicationHandler) RestoreBackup(c *gin.Context) {
	result, err := h.healer.RestoreBackup(c.Request.Context(), c.Param("id"), c.Param("backup_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Detect ranks the registered stack plugins against a path on a server
func (h *ApplicationHandler) Detect(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "path query parameter is required"})
		return
	}
	matches, err := h.healer.Detect(c.Request.Context(), c.Param("id"), path)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"server_id": c.Param("id"), "path": path, "matches": matches})
}

func (h *ApplicationHandler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
	}
	c.JSON(status, gin.H{"detail": err.Error()})
}

func statusFor(err error) int {
	switch {
	case domain.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrEmergencyStop):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrCircuitOpen), errors.Is(err, domain.ErrApplicationBusy):
		return http.StatusConflict
	case errors.Is(err, domain.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
