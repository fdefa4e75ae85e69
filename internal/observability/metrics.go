// Package observability exposes the engine's Prometheus instruments and
// implements the observer interfaces of the check, orchestrator, breaker,
// backup and notify packages.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/stackhealer/backend-go/internal/domain"
)

// Metrics holds all Prometheus metric instruments
type Metrics struct {
	ChecksTotal         *prometheus.CounterVec
	CheckDuration       *prometheus.HistogramVec
	HealingTotal        *prometheus.CounterVec
	HealingDuration     prometheus.Histogram
	CircuitOpenTotal    prometheus.Counter
	BackupsTotal        *prometheus.CounterVec
	RestoresTotal       *prometheus.CounterVec
	NotificationsTotal  *prometheus.CounterVec
	DiagnosisRunsTotal  *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics registers all metrics with reg. A nil reg uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		ChecksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stackhealer_checks_total",
			Help: "Diagnostic check executions by check and status",
		}, []string{"check", "status"}),

		CheckDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stackhealer_check_duration_seconds",
			Help:    "Diagnostic check duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"check"}),

		HealingTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stackhealer_healing_total",
			Help: "Healing actions by action and outcome",
		}, []string{"action", "outcome"}),

		HealingDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "stackhealer_healing_duration_seconds",
			Help:    "Healing action duration in seconds, including backup and verification",
			Buckets: []float64{1, 5, 30, 60, 300, 900},
		}),

		CircuitOpenTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "stackhealer_circuit_open_total",
			Help: "Number of times a circuit breaker opened",
		}),

		BackupsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stackhealer_backups_total",
			Help: "Backups by outcome",
		}, []string{"outcome"}),

		RestoresTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stackhealer_restores_total",
			Help: "Restores by outcome",
		}, []string{"outcome"}),

		NotificationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stackhealer_notifications_total",
			Help: "Notifications by channel and outcome",
		}, []string{"channel", "outcome"}),

		DiagnosisRunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stackhealer_scheduled_runs_total",
			Help: "Scheduled healing runs by outcome",
		}, []string{"outcome"}),

		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stackhealer_http_requests_total",
			Help: "Total HTTP requests",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stackhealer_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 5.0, 30.0},
		}, []string{"method", "path"}),
	}
}

// ObserveCheck records one check execution
func (m *Metrics) ObserveCheck(name string, status domain.CheckStatus, d time.Duration) {
	m.ChecksTotal.WithLabelValues(name, string(status)).Inc()
	m.CheckDuration.WithLabelValues(name).Observe(d.Seconds())
}

// ObserveHealing records one healing action
func (m *Metrics) ObserveHealing(action, outcome string, d time.Duration) {
	m.HealingTotal.WithLabelValues(action, outcome).Inc()
	m.HealingDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveCircuitOpen(string) {
	m.CircuitOpenTotal.Inc()
}

func (m *Metrics) ObserveBackup(outcome string) {
	m.BackupsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveRestore(outcome string) {
	m.RestoresTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveNotification(channel, outcome string) {
	m.NotificationsTotal.WithLabelValues(channel, outcome).Inc()
}

// ObserveRun records the outcome of one scheduled healing run
func (m *Metrics) ObserveRun(outcome string) {
	m.DiagnosisRunsTotal.WithLabelValues(outcome).Inc()
}
