package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stackhealer/backend-go/internal/backup"
	"github.com/stackhealer/backend-go/internal/breaker"
	"github.com/stackhealer/backend-go/internal/check"
	"github.com/stackhealer/backend-go/internal/config"
	"github.com/stackhealer/backend-go/internal/db"
	"github.com/stackhealer/backend-go/internal/domain"
	"github.com/stackhealer/backend-go/internal/executor"
	"github.com/stackhealer/backend-go/internal/handler"
	"github.com/stackhealer/backend-go/internal/logging"
	"github.com/stackhealer/backend-go/internal/notify"
	"github.com/stackhealer/backend-go/internal/observability"
	"github.com/stackhealer/backend-go/internal/orchestrator"
	"github.com/stackhealer/backend-go/internal/plugin"
	"github.com/stackhealer/backend-go/internal/safety"
	"github.com/stackhealer/backend-go/internal/scheduler"
	"github.com/stackhealer/backend-go/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("stackhealer exited")
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	check.DefaultTimeout = cfg.CheckTimeout

	st, err := openStore(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := seedInventory(ctx, logger, st, cfg.InventoryFile); err != nil {
		return err
	}

	metrics := observability.NewMetrics(nil)
	esm := safety.NewEmergencyStop(logger)

	exec, shared, closeTransports := buildExecutor(logger, cfg)
	defer closeTransports()

	var volume backup.Strategy
	if cfg.AWSRegion != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return fmt.Errorf("aws config: %w", err)
		}
		ec2Client := ec2.NewFromConfig(awsCfg)
		shared = append(shared,
			check.NewEC2InstanceCheck(ec2Client),
			check.NewRDSInstanceCheck(rds.NewFromConfig(awsCfg), ""),
		)
		volume = backup.NewEBSSnapshotStrategy(ec2Client)
		logger.Info().Str("region", cfg.AWSRegion).Msg("AWS checks and EBS snapshots enabled")
	}

	if cfg.PrometheusURL != "" {
		promChecks, err := prometheusChecks(cfg.PrometheusURL)
		if err != nil {
			return err
		}
		shared = append(shared, promChecks...)
	}

	registry := plugin.NewRegistry(logger)
	defer registry.Close()
	plugins, err := plugin.Builtins(plugin.Deps{
		Executor:     exec,
		BackupDir:    cfg.BackupDir,
		Volume:       volume,
		SharedChecks: shared,
	})
	if err != nil {
		return fmt.Errorf("build plugins: %w", err)
	}
	for _, p := range plugins {
		if err := registry.Register(p); err != nil {
			return err
		}
	}

	orch := orchestrator.New(orchestrator.Config{
		Logger:   logger,
		Store:    st,
		Registry: registry,
		Executor: exec,
		Runner:   check.NewRunner(logger, cfg.CheckWorkers, metrics),
		Breaker: breaker.New(st, breaker.Config{
			FailureThreshold: cfg.BreakerFailureThreshold,
			Cooldown:         cfg.BreakerCooldown,
			Logger:           logger,
			Observer:         metrics,
		}),
		Backups: backup.NewService(backup.ServiceConfig{
			Logger:       logger,
			Applications: st,
			Servers:      st,
			Records:      st,
			Strategies:   registry,
			Observer:     metrics,
		}),
		EmergencyStop: esm,
		ActionTimeout: cfg.ActionTimeout,
		Observer:      metrics,
	})

	sched := scheduler.New(scheduler.Config{
		Logger:       logger,
		Applications: st,
		Healer:       orch,
		Notifier:     buildNotifier(logger, cfg, metrics),
		Observer:     metrics,
		Interval:     cfg.DiagnosisInterval,
		Concurrency:  cfg.FleetConcurrency,
	})
	sched.Start(ctx)
	defer sched.Stop()

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := handler.SetupRouter(
		handler.NewApplicationHandler(orch, logger),
		esm,
		metrics,
		nil,
		cfg.CORSAllowOrigin,
	)
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("port", cfg.ServerPort).Strs("stacks", registry.Tags()).Msg("stackhealer starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, logger zerolog.Logger, cfg *config.Config) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn().Msg("DATABASE_URL not set; using in-memory store")
		return store.NewMemory(), nil
	}
	pool, err := db.NewPool(ctx, logger, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return store.NewPostgres(pool), nil
}

func seedInventory(ctx context.Context, logger zerolog.Logger, st store.Store, path string) error {
	inv, err := config.LoadInventory(path)
	if err != nil || inv == nil {
		return err
	}
	if err := store.Seed(ctx, st, inv.DomainServers(), inv.DomainApplications()); err != nil {
		return err
	}
	logger.Info().Int("servers", len(inv.Servers)).Int("applications", len(inv.Applications)).
		Str("file", path).Msg("inventory loaded")
	return nil
}

// buildExecutor wires every transport that can be configured. SSH is the
// default for servers without an explicit transport.
func buildExecutor(logger zerolog.Logger, cfg *config.Config) (executor.Executor, []check.Check, func()) {
	transports := map[string]executor.Transport{"local": executor.NewLocalTransport()}
	fallback := "local"
	closers := []func(){}

	sshT, err := executor.NewSSHTransport(logger, executor.SSHConfig{
		User:           cfg.SSHUser,
		KeyPath:        cfg.SSHKeyPath,
		Password:       cfg.SSHPassword,
		KnownHostsPath: cfg.SSHKnownHosts,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("SSH transport disabled")
	} else {
		transports["ssh"] = sshT
		fallback = "ssh"
		closers = append(closers, sshT.Close)
	}

	opts := executor.DefaultOptions()
	opts.RatePerSecond = cfg.ExecutorRatePerSec
	var shared []check.Check

	clientset, restCfg, err := executor.NewK8sClient(cfg.KubeConfig)
	if err != nil {
		logger.Info().Err(err).Msg("Kubernetes transport disabled")
	} else {
		transports["k8s"] = executor.NewK8sTransport(clientset, restCfg)
		shared = append(shared, check.NewK8sDeploymentCheck(clientset, ""))
	}

	exec := executor.New(logger, transports, fallback, opts)
	shared = append([]check.Check{
		check.NewCPUCheck(exec),
		check.NewMemoryCheck(exec),
		check.NewDiskCheck(exec),
	}, shared...)

	return exec, shared, func() {
		for _, c := range closers {
			c()
		}
	}
}

func prometheusChecks(endpoint string) ([]check.Check, error) {
	errorRate, err := check.NewPromCheck(check.PromCheckConfig{
		Metadata: domain.CheckMetadata{
			Name:        "http_error_rate",
			Category:    domain.CategoryAvailability,
			RiskLevel:   domain.RiskHigh,
			Description: "Share of 5xx responses over the last five minutes",
		},
		Endpoint: endpoint,
		Query: `sum(rate(http_requests_total{app="{{app}}",code=~"5.."}[5m]))` +
			` / sum(rate(http_requests_total{app="{{app}}"}[5m]))`,
		Comparator:   "<",
		Threshold:    0.05,
		SuggestedFix: "Restart the application",
	})
	if err != nil {
		return nil, err
	}
	return []check.Check{errorRate}, nil
}

func buildNotifier(logger zerolog.Logger, cfg *config.Config, metrics *observability.Metrics) notify.Notifier {
	timing := notify.DefaultTiming()
	if cfg.NotifyRatePerMinute > 0 {
		timing.PerAppInterval = time.Minute / time.Duration(cfg.NotifyRatePerMinute)
	}

	multi := notify.NewMultiNotifier(metrics).
		Add("webhook", notify.NewWebhookNotifier(logger, cfg.NotifyWebhookURL, timing))
	if cfg.NotifySlackWebhookURL != "" {
		multi.Add("slack", notify.NewSlackNotifier(logger, cfg.NotifySlackWebhookURL, timing))
	}
	if multi.Len() == 0 {
		return notify.NewNoop(logger, "no notification channel configured")
	}
	return multi
}
