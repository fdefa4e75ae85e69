package domain

import (
	"net"
	"strconv"
	"time"
)

// HealingMode controls how much risk may be auto-healed for an application
type HealingMode string

const (
	HealingModeManual   HealingMode = "MANUAL"
	HealingModeSemiAuto HealingMode = "SEMI_AUTO"
	HealingModeFullAuto HealingMode = "FULL_AUTO"
)

// Valid reports whether m is a known healing mode
func (m HealingMode) Valid() bool {
	switch m {
	case HealingModeManual, HealingModeSemiAuto, HealingModeFullAuto:
		return true
	}
	return false
}

// HealthStatus describes the aggregate health of an application
type HealthStatus string

const (
	HealthHealthy     HealthStatus = "HEALTHY"
	HealthDegraded    HealthStatus = "DEGRADED"
	HealthDown        HealthStatus = "DOWN"
	HealthMaintenance HealthStatus = "MAINTENANCE"
	HealthHealing     HealthStatus = "HEALING"
	HealthUnknown     HealthStatus = "UNKNOWN"
)

// CircuitState is the persisted breaker state of an application
type CircuitState string

const (
	CircuitClosed CircuitState = "CLOSED"
	CircuitOpen   CircuitState = "OPEN"
	// CircuitHalfOpen is never persisted; it is reported while a trial is allowed
	CircuitHalfOpen CircuitState = "HALF_OPEN"
)

// Application is one monitored site or service
type Application struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	ServerID        string       `json:"server_id"`
	TechStack       string       `json:"tech_stack"`
	Path            string       `json:"path"`
	URL             string       `json:"url,omitempty"`
	HealingMode     HealingMode  `json:"healing_mode"`
	IsHealerEnabled bool         `json:"is_healer_enabled"`
	HealthScore     int          `json:"health_score"`
	HealthStatus    HealthStatus `json:"health_status"`

	CircuitState        CircuitState `json:"circuit_breaker_state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	CircuitResetAt      *time.Time   `json:"circuit_breaker_reset_at,omitempty"`

	LastDiagnosedAt *time.Time `json:"last_diagnosed_at,omitempty"`
	LastHealedAt    *time.Time `json:"last_healed_at,omitempty"`
}

// Server is a managed host that runs one or more applications
type Server struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username,omitempty"`
	// Transport selects the executor: "ssh", "k8s" or "local"
	Transport string `json:"transport"`
	// Namespace and Pod address the target when Transport is "k8s"
	Namespace string `json:"namespace,omitempty"`
	Pod       string `json:"pod,omitempty"`
	// InstanceID is the EC2 instance backing the server, if any
	InstanceID string `json:"instance_id,omitempty"`
}

// Address returns host:port for network transports
func (s *Server) Address() string {
	port := s.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(s.Host, strconv.Itoa(port))
}
