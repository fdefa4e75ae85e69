// Package config loads service configuration from the environment, optionally
// seeded from a .env file, and the server/application inventory from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server
	ServerPort string
	LogLevel   string

	// Database; empty selects the in-memory store
	DatabaseURL string

	// InventoryFile seeds servers and applications at startup
	InventoryFile string

	// Circuit breaker
	BreakerFailureThreshold int
	BreakerCooldown         time.Duration

	// Diagnosis and healing
	CheckWorkers      int
	CheckTimeout      time.Duration
	ActionTimeout     time.Duration
	DiagnosisInterval time.Duration
	FleetConcurrency  int
	BackupDir         string

	// Remote execution
	SSHUser            string
	SSHKeyPath         string
	SSHPassword        string
	SSHKnownHosts      string
	ExecutorRatePerSec float64

	// Kubernetes
	KubeConfig string

	// AWS; empty region disables the EC2/RDS checks and EBS snapshots
	AWSRegion string

	// PrometheusURL enables the shared Prometheus-backed checks
	PrometheusURL string

	// Notifications
	NotifyWebhookURL      string
	NotifySlackWebhookURL string
	NotifyRatePerMinute   int

	// CORS
	CORSAllowOrigin string
}

// Load reads configuration from environment variables with sensible defaults.
// Values from ./.env are used only for keys absent from the real environment.
func Load() (*Config, error) {
	return LoadFrom(".env")
}

// LoadFrom is Load with an explicit dotenv path
func LoadFrom(dotenvPath string) (*Config, error) {
	fileEnv, err := readDotEnv(dotenvPath)
	if err != nil {
		return nil, err
	}
	e := env{file: fileEnv}

	cfg := &Config{
		ServerPort:              e.str("SERVER_PORT", "8080"),
		LogLevel:                e.str("LOG_LEVEL", "info"),
		DatabaseURL:             e.str("DATABASE_URL", ""),
		InventoryFile:           e.str("INVENTORY_FILE", ""),
		BreakerFailureThreshold: e.int("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerCooldown:         e.duration("BREAKER_COOLDOWN", time.Hour),
		CheckWorkers:            e.int("CHECK_WORKERS", 4),
		CheckTimeout:            e.duration("CHECK_TIMEOUT", 30*time.Second),
		ActionTimeout:           e.duration("ACTION_TIMEOUT", 5*time.Minute),
		DiagnosisInterval:       e.duration("DIAGNOSIS_INTERVAL", 15*time.Minute),
		FleetConcurrency:        e.int("FLEET_CONCURRENCY", 4),
		BackupDir:               e.str("BACKUP_DIR", "/var/backups/stackhealer"),
		SSHUser:                 e.str("SSH_USER", "root"),
		SSHKeyPath:              e.str("SSH_KEY_PATH", ""),
		SSHPassword:             e.str("SSH_PASSWORD", ""),
		SSHKnownHosts:           e.str("SSH_KNOWN_HOSTS", ""),
		ExecutorRatePerSec:      e.float("EXECUTOR_RATE_PER_SEC", 5),
		KubeConfig:              e.str("KUBECONFIG", ""),
		AWSRegion:               e.str("AWS_DEFAULT_REGION", ""),
		PrometheusURL:           e.str("PROMETHEUS_URL", ""),
		NotifyWebhookURL:        e.str("NOTIFY_WEBHOOK_URL", ""),
		NotifySlackWebhookURL:   e.str("NOTIFY_SLACK_WEBHOOK_URL", ""),
		NotifyRatePerMinute:     e.int("NOTIFY_RATE_PER_MINUTE", 6),
		CORSAllowOrigin:         e.str("CORS_ALLOW_ORIGIN", "http://localhost:5173"),
	}
	if cfg.BreakerFailureThreshold < 1 {
		return nil, fmt.Errorf("BREAKER_FAILURE_THRESHOLD must be at least 1, got %d", cfg.BreakerFailureThreshold)
	}
	return cfg, nil
}

func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if err == nil {
		return values, nil
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) && errors.Is(pathErr.Err, os.ErrNotExist) {
		return nil, nil
	}
	return nil, fmt.Errorf("read %s: %w", path, err)
}

type env struct {
	file map[string]string
}

func (e env) lookup(key string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(e.file[key])
}

func (e env) str(key, fallback string) string {
	if v := e.lookup(key); v != "" {
		return v
	}
	return fallback
}

func (e env) int(key string, fallback int) int {
	n, err := strconv.Atoi(e.lookup(key))
	if err != nil {
		return fallback
	}
	return n
}

func (e env) float(key string, fallback float64) float64 {
	f, err := strconv.ParseFloat(e.lookup(key), 64)
	if err != nil {
		return fallback
	}
	return f
}

func (e env) duration(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(e.lookup(key))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// EnvInt reads an integer environment variable with a fallback
func EnvInt(key string, fallback int) int {
	return env{}.int(key, fallback)
}

// EnvDuration reads a Go duration environment variable with a fallback.
// Unparseable and non-positive values yield the fallback.
func EnvDuration(key string, fallback time.Duration) time.Duration {
	return env{}.duration(key, fallback)
}
