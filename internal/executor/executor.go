// Package executor provides the remote execution capability used by checks,
// backups and healing actions. Transports only know how to run a shell
// command; metric and file queries are layered on top by ShellExecutor.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/stackhealer/backend-go/internal/domain"
	"golang.org/x/time/rate"
)

// ErrConnectionLost marks a transport fault raised after the command may
// already have started. Such faults are never retried.
var ErrConnectionLost = errors.New("connection lost during command")

// CommandResult is the structured outcome of one remote command
type CommandResult struct {
	Success  bool          `json:"success"`
	Output   string        `json:"output"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// MetricKind names a numeric server metric
type MetricKind string

const (
	MetricCPUPercent    MetricKind = "cpu_percent"
	MetricMemoryPercent MetricKind = "memory_percent"
	MetricDiskPercent   MetricKind = "disk_percent"
	MetricLoadAverage   MetricKind = "load_average"
)

// Executor is the capability the healing core depends on.
// A command that runs and fails is reported through CommandResult, never as an error;
// errors are reserved for transport faults and wrap domain.ErrTransport.
type Executor interface {
	RunCommand(ctx context.Context, server *domain.Server, command string) (*CommandResult, error)
	// ReadMetric returns nil when the metric is unavailable on the server
	ReadMetric(ctx context.Context, server *domain.Server, kind MetricKind) (*float64, error)
	FileExists(ctx context.Context, server *domain.Server, path string) (bool, error)
	// FilePermissions returns the octal mode, e.g. "644"
	FilePermissions(ctx context.Context, server *domain.Server, path string) (string, error)
}

// Transport runs a single shell command on a server
type Transport interface {
	Run(ctx context.Context, server *domain.Server, command string) (*CommandResult, error)
}

// Options tunes retry and throttling behaviour
type Options struct {
	// MaxRetries bounds retries of transport faults (0 disables retry)
	MaxRetries     int
	InitialBackoff time.Duration
	// RatePerSecond limits commands per server (0 disables limiting)
	RatePerSecond float64
	Burst         int
}

// DefaultOptions returns the settings used in production
func DefaultOptions() Options {
	return Options{
		MaxRetries:     2,
		InitialBackoff: 500 * time.Millisecond,
		RatePerSecond:  5,
		Burst:          5,
	}
}

// ShellExecutor implements Executor over one or more transports keyed by
// domain.Server.Transport
type ShellExecutor struct {
	logger     zerolog.Logger
	transports map[string]Transport
	fallback   string
	opts       Options

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
}

// New creates a ShellExecutor. The fallback transport serves servers whose
// Transport field is empty.
func New(logger zerolog.Logger, transports map[string]Transport, fallback string, opts Options) *ShellExecutor {
	return &ShellExecutor{
		logger:     logger,
		transports: transports,
		fallback:   fallback,
		opts:       opts,
		limiters:   make(map[string]*rate.Limiter),
	}
}

// RunCommand executes command on the server through its transport.
// Faults before the command starts (dial, session setup) are retried;
// a fault wrapping ErrConnectionLost is returned as is.
func (e *ShellExecutor) RunCommand(ctx context.Context, server *domain.Server, command string) (*CommandResult, error) {
	if server == nil {
		return nil, fmt.Errorf("%w: nil server", domain.ErrTransport)
	}
	t, err := e.transportFor(server)
	if err != nil {
		return nil, err
	}
	if err := e.waitForRateLimit(ctx, server.ID); err != nil {
		return nil, err
	}

	var result *CommandResult
	op := func() error {
		res, err := t.Run(ctx, server, command)
		if err != nil {
			if errors.Is(err, domain.ErrTransport) && !errors.Is(err, ErrConnectionLost) && ctx.Err() == nil {
				e.logger.Warn().Err(err).Str("server", server.ID).Msg("transport fault, retrying")
				return err
			}
			return backoff.Permanent(err)
		}
		result = res
		return nil
	}

	if err := backoff.Retry(op, e.retryPolicy(ctx)); err != nil {
		return nil, err
	}
	return result, nil
}

// ReadMetric queries a numeric metric via shell commands
func (e *ShellExecutor) ReadMetric(ctx context.Context, server *domain.Server, kind MetricKind) (*float64, error) {
	cmd, parse, ok := metricCommand(kind)
	if !ok {
		return nil, nil
	}
	res, err := e.RunCommand(ctx, server, cmd)
	if err != nil {
		return nil, err
	}
	if !res.Success {
		e.logger.Debug().Str("server", server.ID).Str("metric", string(kind)).
			Int("exit_code", res.ExitCode).Msg("metric command failed")
		return nil, nil
	}
	v, err := parse(res.Output)
	if err != nil {
		e.logger.Debug().Err(err).Str("metric", string(kind)).Msg("metric output unparsable")
		return nil, nil
	}
	return &v, nil
}

// FileExists tests for a path on the server
func (e *ShellExecutor) FileExists(ctx context.Context, server *domain.Server, path string) (bool, error) {
	res, err := e.RunCommand(ctx, server, fmt.Sprintf("test -e %s && echo yes || echo no", ShellQuote(path)))
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(res.Output) == "yes", nil
}

// FilePermissions returns the octal permission bits of path
func (e *ShellExecutor) FilePermissions(ctx context.Context, server *domain.Server, path string) (string, error) {
	res, err := e.RunCommand(ctx, server, "stat -c %a "+ShellQuote(path))
	if err != nil {
		return "", err
	}
	if !res.Success {
		return "", fmt.Errorf("stat %s: exit %d", path, res.ExitCode)
	}
	return strings.TrimSpace(res.Output), nil
}

func (e *ShellExecutor) transportFor(server *domain.Server) (Transport, error) {
	name := server.Transport
	if name == "" {
		name = e.fallback
	}
	t, ok := e.transports[name]
	if !ok {
		return nil, fmt.Errorf("%w: no transport %q for server %s", domain.ErrTransport, name, server.ID)
	}
	return t, nil
}

func (e *ShellExecutor) retryPolicy(ctx context.Context) backoff.BackOff {
	if e.opts.MaxRetries <= 0 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}
	exp := backoff.NewExponentialBackOff()
	if e.opts.InitialBackoff > 0 {
		exp.InitialInterval = e.opts.InitialBackoff
	}
	exp.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(e.opts.MaxRetries)), ctx)
}

func (e *ShellExecutor) waitForRateLimit(ctx context.Context, serverID string) error {
	limiter := e.getLimiter(serverID)
	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}

func (e *ShellExecutor) getLimiter(serverID string) *rate.Limiter {
	if e.opts.RatePerSecond <= 0 {
		return nil
	}
	e.limiterMu.Lock()
	defer e.limiterMu.Unlock()

	limiter, ok := e.limiters[serverID]
	if ok {
		return limiter
	}
	burst := e.opts.Burst
	if burst < 1 {
		burst = 1
	}
	limiter = rate.NewLimiter(rate.Limit(e.opts.RatePerSecond), burst)
	e.limiters[serverID] = limiter
	return limiter
}

// ShellQuote single-quotes s for POSIX shells
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Truncate caps command output kept in results and logs
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
