package check

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"github.com/stackhealer/backend-go/internal/domain"
)

// PromCheck evaluates a PromQL query and compares the first sample
// against a threshold. The comparison describes the healthy condition.
// Queries may reference the application name as {{app}}.
type PromCheck struct {
	meta         domain.CheckMetadata
	api          promv1.API
	query        string
	comparator   string
	threshold    float64
	suggestedFix string
}

// PromCheckConfig holds construction parameters for PromCheck
type PromCheckConfig struct {
	Metadata     domain.CheckMetadata
	Endpoint     string
	Query        string
	Comparator   string
	Threshold    float64
	SuggestedFix string
}

// NewPromCheck creates a Prometheus query check
func NewPromCheck(cfg PromCheckConfig) (*PromCheck, error) {
	if cfg.Comparator == "" {
		cfg.Comparator = ">"
	}
	if cfg.Metadata.Timeout == 0 {
		cfg.Metadata.Timeout = 5 * time.Second
	}
	if cfg.Metadata.Category == "" {
		cfg.Metadata.Category = domain.CategoryPerformance
	}
	if cfg.Metadata.RiskLevel == "" {
		cfg.Metadata.RiskLevel = domain.RiskMedium
	}

	client, err := api.NewClient(api.Config{Address: strings.TrimRight(cfg.Endpoint, "/")})
	if err != nil {
		return nil, fmt.Errorf("prometheus client: %w", err)
	}

	return &PromCheck{
		meta:         cfg.Metadata,
		api:          promv1.NewAPI(client),
		query:        cfg.Query,
		comparator:   cfg.Comparator,
		threshold:    cfg.Threshold,
		suggestedFix: cfg.SuggestedFix,
	}, nil
}

func (c *PromCheck) Metadata() domain.CheckMetadata { return c.meta }

func (c *PromCheck) Execute(ctx context.Context, app *domain.Application, _ *domain.Server) (domain.CheckResult, error) {
	query := strings.ReplaceAll(c.query, "{{app}}", app.Name)

	value, _, err := c.api.Query(ctx, query, time.Now())
	if err != nil {
		return Error(c.meta, fmt.Errorf("prometheus query: %w", err)), nil
	}

	var sample float64
	var count int
	switch v := value.(type) {
	case model.Vector:
		count = len(v)
		if count > 0 {
			sample = float64(v[0].Value)
		}
	case *model.Scalar:
		count = 1
		sample = float64(v.Value)
	default:
		return Error(c.meta, fmt.Errorf("unsupported result type %s", value.Type())), nil
	}
	if count == 0 {
		return Error(c.meta, fmt.Errorf("no results returned for %q", query)), nil
	}

	if math.IsNaN(sample) {
		return Skip(c.meta, fmt.Sprintf("%s has no data (NaN)", c.meta.Name)), nil
	}

	details := map[string]any{
		"query":        query,
		"value":        sample,
		"comparator":   c.comparator,
		"threshold":    c.threshold,
		"result_count": count,
	}
	if c.compare(sample) {
		return Pass(c.meta, fmt.Sprintf("%s = %g", c.meta.Name, sample), details), nil
	}
	return Fail(c.meta, fmt.Sprintf("%s = %g, expected %s %g", c.meta.Name, sample, c.comparator, c.threshold),
		c.suggestedFix, details), nil
}

func (c *PromCheck) compare(value float64) bool {
	switch c.comparator {
	case ">":
		return value > c.threshold
	case ">=":
		return value >= c.threshold
	case "<":
		return value < c.threshold
	case "<=":
		return value <= c.threshold
	case "==":
		return value == c.threshold
	case "!=":
		return value != c.threshold
	default:
		return false
	}
}
