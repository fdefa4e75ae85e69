package check

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/stackhealer/backend-go/internal/domain"
)

// HTTPCheck validates that the application's URL returns the expected
// status code and optionally matches a pattern in the response body
type HTTPCheck struct {
	meta           domain.CheckMetadata
	path           string
	expectedStatus int
	bodyPattern    *regexp.Regexp
	slowAfter      time.Duration
	client         *http.Client
}

// HTTPCheckConfig holds construction parameters for HTTPCheck
type HTTPCheckConfig struct {
	Name           string
	TechStacks     []string
	Path           string
	ExpectedStatus int
	BodyPattern    string
	SlowAfter      time.Duration
	Timeout        time.Duration
	SuggestedFix   string
}

// NewHTTPCheck creates an HTTP availability check from config
func NewHTTPCheck(cfg HTTPCheckConfig) (*HTTPCheck, error) {
	if cfg.Name == "" {
		cfg.Name = "http_availability"
	}
	if cfg.ExpectedStatus == 0 {
		cfg.ExpectedStatus = http.StatusOK
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.SlowAfter == 0 {
		cfg.SlowAfter = 3 * time.Second
	}

	var pat *regexp.Regexp
	if cfg.BodyPattern != "" {
		var err error
		pat, err = regexp.Compile(cfg.BodyPattern)
		if err != nil {
			return nil, fmt.Errorf("invalid body pattern: %w", err)
		}
	}

	return &HTTPCheck{
		meta: domain.CheckMetadata{
			Name:        cfg.Name,
			Category:    domain.CategoryAvailability,
			RiskLevel:   domain.RiskCritical,
			Description: "Application responds over HTTP",
			TechStacks:  cfg.TechStacks,
			Timeout:     cfg.Timeout,
		},
		path:           cfg.Path,
		expectedStatus: cfg.ExpectedStatus,
		bodyPattern:    pat,
		slowAfter:      cfg.SlowAfter,
		client:         &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (c *HTTPCheck) Metadata() domain.CheckMetadata { return c.meta }

func (c *HTTPCheck) Execute(ctx context.Context, app *domain.Application, _ *domain.Server) (domain.CheckResult, error) {
	if app.URL == "" {
		return Skip(c.meta, "application has no URL"), nil
	}
	url := app.URL + c.path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.CheckResult{}, fmt.Errorf("create request: %w", err)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return Error(c.meta, ctx.Err()), nil
		}
		return Fail(c.meta, fmt.Sprintf("%s unreachable: %v", url, err), "Restart web server",
			map[string]any{"url": url}), nil
	}
	defer resp.Body.Close()

	details := map[string]any{
		"url":              url,
		"status_code":      resp.StatusCode,
		"expected_status":  c.expectedStatus,
		"response_time_ms": elapsed.Milliseconds(),
	}

	if resp.StatusCode != c.expectedStatus {
		fix := "Restart web server"
		if resp.StatusCode >= 500 {
			fix = "Clear cache and restart application process"
		}
		return Fail(c.meta, fmt.Sprintf("%s returned %d", url, resp.StatusCode), fix, details), nil
	}

	if c.bodyPattern != nil {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		match := c.bodyPattern.Match(body)
		details["body_match"] = match
		if !match {
			res := Fail(c.meta, "response body does not match expected content", "Clear cache", details)
			res.Severity = domain.RiskHigh
			return res, nil
		}
	}

	if elapsed > c.slowAfter {
		res := Warn(c.meta, fmt.Sprintf("slow response: %v", elapsed.Round(time.Millisecond)), "Clear cache", details)
		res.Severity = domain.RiskLow
		return res, nil
	}
	return Pass(c.meta, fmt.Sprintf("%s returned %d", url, resp.StatusCode), details), nil
}
