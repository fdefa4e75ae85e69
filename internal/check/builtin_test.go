package check

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stackhealer/backend-go/internal/domain"
	"github.com/stackhealer/backend-go/internal/executor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskCheckTiers(t *testing.T) {
	tests := []struct {
		name     string
		value    float64
		status   domain.CheckStatus
		severity domain.RiskLevel
	}{
		{"healthy", 42, domain.CheckPass, domain.RiskHigh},
		{"warning band", 85, domain.CheckWarn, domain.RiskMedium},
		{"high band", 92, domain.CheckFail, domain.RiskHigh},
		{"critical band", 99, domain.CheckFail, domain.RiskCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &executor.Fake{Metrics: map[executor.MetricKind]float64{executor.MetricDiskPercent: tt.value}}
			res, err := NewDiskCheck(exec).Execute(context.Background(), testApp, testServer)
			require.NoError(t, err)
			assert.Equal(t, tt.status, res.Status)
			assert.Equal(t, tt.severity, res.Severity)
			if tt.status != domain.CheckPass {
				assert.NotEmpty(t, res.SuggestedFix)
			}
		})
	}
}

func TestMetricCheckUnavailable(t *testing.T) {
	res, err := NewCPUCheck(&executor.Fake{}).Execute(context.Background(), testApp, testServer)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckError, res.Status)
	assert.Contains(t, res.Message, "unavailable")

	res, err = NewMemoryCheck(&executor.Fake{Err: domain.ErrTransport}).Execute(context.Background(), testApp, testServer)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckError, res.Status)
}

func TestHTTPCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/broken":
			w.WriteHeader(http.StatusBadGateway)
		default:
			_, _ = w.Write([]byte(`<html>Welcome</html>`))
		}
	}))
	defer srv.Close()

	app := *testApp
	app.URL = srv.URL

	c, err := NewHTTPCheck(HTTPCheckConfig{BodyPattern: "Welcome"})
	require.NoError(t, err)
	res, err := c.Execute(context.Background(), &app, testServer)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckPass, res.Status)
	assert.Equal(t, 200, res.Details["status_code"])
	assert.Equal(t, true, res.Details["body_match"])

	c, err = NewHTTPCheck(HTTPCheckConfig{Path: "/broken"})
	require.NoError(t, err)
	res, err = c.Execute(context.Background(), &app, testServer)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckFail, res.Status)
	assert.Equal(t, domain.RiskCritical, res.Severity)
	assert.Contains(t, res.SuggestedFix, "Clear cache")

	c, err = NewHTTPCheck(HTTPCheckConfig{BodyPattern: "Goodbye"})
	require.NoError(t, err)
	res, err = c.Execute(context.Background(), &app, testServer)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckFail, res.Status)
	assert.Equal(t, domain.RiskHigh, res.Severity)
}

func TestHTTPCheckNoURLSkips(t *testing.T) {
	c, err := NewHTTPCheck(HTTPCheckConfig{})
	require.NoError(t, err)
	res, err := c.Execute(context.Background(), testApp, testServer)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckSkipped, res.Status)
}

func TestHTTPCheckInvalidPattern(t *testing.T) {
	_, err := NewHTTPCheck(HTTPCheckConfig{BodyPattern: "[invalid"})
	assert.Error(t, err)
}

func TestCommandCheck(t *testing.T) {
	exec := &executor.Fake{OnCommand: func(_ *domain.Server, cmd string) (*executor.CommandResult, error) {
		if cmd == "wp core verify-checksums --path='/var/www/shop'" {
			return &executor.CommandResult{Success: false, ExitCode: 1, Output: "Warning: File doesn't verify"}, nil
		}
		return &executor.CommandResult{Success: true, Output: "Success"}, nil
	}}

	c := NewCommandCheck(CommandCheckConfig{
		Metadata:     domain.CheckMetadata{Name: "wp_core_integrity", Description: "core checksums"},
		Executor:     exec,
		Command:      "wp core verify-checksums --path={{path}}",
		SuggestedFix: "Update WordPress core",
	})
	res, err := c.Execute(context.Background(), testApp, testServer)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckFail, res.Status)
	assert.Equal(t, 1, res.Details["exit_code"])
	assert.Equal(t, "Update WordPress core", res.SuggestedFix)

	warn := NewCommandCheck(CommandCheckConfig{
		Metadata:       domain.CheckMetadata{Name: "queue"},
		Executor:       exec,
		Command:        "php artisan queue:monitor",
		OutputContains: "OK",
		WarnOnly:       true,
	})
	res, err = warn.Execute(context.Background(), testApp, testServer)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckWarn, res.Status)
	assert.Equal(t, false, res.Details["output_match"])
}

func TestFilePermissionCheck(t *testing.T) {
	exec := &executor.Fake{Files: map[string]string{
		"/var/www/shop/wp-config.php": "644",
		"/var/www/shop/.env":          "600",
	}}

	c, err := NewFilePermissionCheck(exec, FilePermissionCheckConfig{RelPath: "wp-config.php", MaxMode: "640"})
	require.NoError(t, err)
	res, err := c.Execute(context.Background(), testApp, testServer)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckFail, res.Status)
	assert.Equal(t, "Fix file permissions", res.SuggestedFix)

	c, err = NewFilePermissionCheck(exec, FilePermissionCheckConfig{RelPath: ".env", MaxMode: "640"})
	require.NoError(t, err)
	res, err = c.Execute(context.Background(), testApp, testServer)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckPass, res.Status)

	c, err = NewFilePermissionCheck(exec, FilePermissionCheckConfig{RelPath: "missing", MaxMode: "640"})
	require.NoError(t, err)
	res, _ = c.Execute(context.Background(), testApp, testServer)
	assert.Equal(t, domain.CheckSkipped, res.Status)

	c, err = NewFilePermissionCheck(exec, FilePermissionCheckConfig{RelPath: "missing", MaxMode: "640", Required: true})
	require.NoError(t, err)
	res, _ = c.Execute(context.Background(), testApp, testServer)
	assert.Equal(t, domain.CheckFail, res.Status)

	_, err = NewFilePermissionCheck(exec, FilePermissionCheckConfig{RelPath: "x", MaxMode: "9z"})
	assert.Error(t, err)
}

func TestPromCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/api/v1/query")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"status": "success",
			"data": {
				"resultType": "vector",
				"result": [{"metric": {}, "value": [1234567890, "0.95"]}]
			}
		}`))
	}))
	defer srv.Close()

	c, err := NewPromCheck(PromCheckConfig{
		Metadata:   domain.CheckMetadata{Name: "availability_ratio"},
		Endpoint:   srv.URL,
		Query:      `avg_over_time(up{app="{{app}}"}[5m])`,
		Comparator: ">=",
		Threshold:  0.99,
	})
	require.NoError(t, err)

	res, err := c.Execute(context.Background(), testApp, testServer)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckFail, res.Status)
	assert.Equal(t, 0.95, res.Details["value"])
	assert.Equal(t, `avg_over_time(up{app="shop"}[5m])`, res.Details["query"])
}

func TestPromCheckNoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success","data":{"resultType":"vector","result":[]}}`))
	}))
	defer srv.Close()

	c, err := NewPromCheck(PromCheckConfig{
		Metadata: domain.CheckMetadata{Name: "q", Timeout: time.Second},
		Endpoint: srv.URL,
		Query:    "up",
	})
	require.NoError(t, err)
	res, err := c.Execute(context.Background(), testApp, testServer)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckError, res.Status)
}

func TestPromCheckNaNSkips(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success","data":{"resultType":"vector","result":[{"metric":{},"value":[1234567890,"NaN"]}]}}`))
	}))
	defer srv.Close()

	c, err := NewPromCheck(PromCheckConfig{
		Metadata:   domain.CheckMetadata{Name: "error_rate", Timeout: time.Second},
		Endpoint:   srv.URL,
		Query:      "errors / requests",
		Comparator: "<",
		Threshold:  0.05,
	})
	require.NoError(t, err)
	res, err := c.Execute(context.Background(), testApp, testServer)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckSkipped, res.Status)
}

func TestPromCheckCompare(t *testing.T) {
	c := &PromCheck{threshold: 1}
	for _, tt := range []struct {
		cmp  string
		v    float64
		want bool
	}{
		{">", 2, true}, {">=", 1, true}, {"<", 0, true}, {"<=", 2, false},
		{"==", 1, true}, {"!=", 1, false}, {"~", 1, false},
	} {
		c.comparator = tt.cmp
		assert.Equal(t, tt.want, c.compare(tt.v), tt.cmp)
	}
}
