package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stackhealer/backend-go/internal/observability"
	"github.com/stackhealer/backend-go/internal/safety"
)

// SetupRouter configures all API routes
func SetupRouter(
	apps *ApplicationHandler,
	esm *safety.EmergencyStop,
	metrics *observability.Metrics,
	metricsHandler http.Handler,
	corsOrigin string,
) *gin.Engine {
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(CORSMiddleware(corsOrigin))
	r.Use(PrometheusMiddleware(metrics))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":         "healthy",
			"emergency_stop": esm.IsTriggered(),
		})
	})

	// Prometheus metrics
	r.GET("/metrics", gin.WrapH(metricsHandler))

	// Emergency stop
	r.POST("/emergency-stop", func(c *gin.Context) {
		esm.Trigger()
		c.JSON(http.StatusOK, gin.H{"status": "emergency_stop_triggered"})
	})
	r.POST("/emergency-stop/reset", func(c *gin.Context) {
		esm.Reset()
		c.JSON(http.StatusOK, gin.H{"status": "emergency_stop_reset"})
	})

	appGroup := r.Group("/api/applications/:id")
	{
		appGroup.POST("/diagnose", apps.Diagnose)
		appGroup.GET("/diagnoses", apps.LatestDiagnosis)
		appGroup.POST("/plan", apps.Plan)
		appGroup.GET("/circuit", apps.Circuit)
		appGroup.POST("/heal", apps.Heal)
		appGroup.POST("/actions/:action", apps.ExecuteAction)
		appGroup.GET("/backups", apps.ListBackups)
		appGroup.POST("/backups/:backup_id/restore", apps.RestoreBackup)
	}

	r.POST("/api/servers/:id/detect", apps.Detect)
	r.GET("/api/healing/activity", apps.Activity)

	return r
}
