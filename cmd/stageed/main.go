// Stage E Execution Engine — accepts validated execution plans and carries
// them out against remote asset fleets under the Safety Kernel's guards.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/marcus-qen/stagee/internal/adapters/asset"
	"github.com/marcus-qen/stagee/internal/adapters/assetquery"
	"github.com/marcus-qen/stagee/internal/adapters/automation"
	"github.com/marcus-qen/stagee/internal/adapters/checks"
	"github.com/marcus-qen/stagee/internal/adapters/exec"
	"github.com/marcus-qen/stagee/internal/adapters/filexfer"
	"github.com/marcus-qen/stagee/internal/adapters/httpcall"
	"github.com/marcus-qen/stagee/internal/adapters/rbacdirectory"
	"github.com/marcus-qen/stagee/internal/adapters/secretstore"
	"github.com/marcus-qen/stagee/internal/adapters/sqlquery"
	"github.com/marcus-qen/stagee/internal/config"
	"github.com/marcus-qen/stagee/internal/executor"
	"github.com/marcus-qen/stagee/internal/observability"
	"github.com/marcus-qen/stagee/internal/queue"
	"github.com/marcus-qen/stagee/internal/router"
	"github.com/marcus-qen/stagee/internal/safety"
	"github.com/marcus-qen/stagee/internal/safety/masking"
	"github.com/marcus-qen/stagee/internal/store"
	"github.com/marcus-qen/stagee/internal/telemetry"
	"github.com/marcus-qen/stagee/internal/tenant"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		zap.NewExample().Fatal("failed to load config", zap.Error(err))
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		zap.NewExample().Fatal("failed to build logger", zap.Error(err))
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.InitTraceProvider(ctx, cfg.OTLPEndpoint, cfg.ServiceVersion)
	if err != nil {
		logger.Fatal("failed to init tracing", zap.Error(err))
	}
	defer shutdownTracing(context.Background())

	st, err := store.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer st.Close()

	if cfg.TimeoutPolicyFile != "" {
		if err := seedTimeoutPolicies(ctx, st, cfg); err != nil {
			logger.Fatal("failed to seed timeout policies", zap.Error(err))
		}
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	directory := rbacdirectory.NewHTTPDirectory(os.Getenv("STAGEE_RBAC_DIRECTORY_URL"), nil)
	rbacGuard := safety.NewRBACGuard(directory)
	mutex := safety.NewAssetMutex(st)
	cancellation := safety.NewCancellationChecker(rdb, st, cfg.CancellationTokenTTL)
	deadlines := safety.NewDeadlines(st)

	assets := asset.NewHTTPClient(os.Getenv("STAGEE_ASSET_SERVICE_URL"), nil)
	automationClient := automation.NewHTTPClient(os.Getenv("STAGEE_AUTOMATION_SERVICE_URL"), nil)
	secrets := safety.NewSecretResolver(secretstore.NewHTTPClient(os.Getenv("STAGEE_SECRET_STORE_URL"), nil))

	registry := executor.NewRegistry()
	registry.Register(exec.New(assets, automationClient, secrets, nil))
	registry.Register(assetquery.New(assets))
	registry.Register(checks.New(automationClient))
	registry.Register(filexfer.New(automationClient, secrets))
	registry.Register(httpcall.New(secrets))
	if sqlHandler, err := sqlquery.New(nil); err != nil {
		logger.Warn("sql handler not registered: opening a configured channel failed", zap.Error(err))
	} else {
		registry.Register(sqlHandler)
	}

	metrics := observability.NewMetrics()
	events := observability.NewBus()
	health := observability.NewChecker(st, rdb)
	dlq := queue.NewDLQAdmin(st)
	tenantQuota := tenant.NewEnforcer()
	for tenantID, quota := range cfg.TenantQuotas {
		tenantQuota.SetQuota(tenantID, tenant.Quota{
			MaxConcurrentExecutions: quota.MaxConcurrentExecutions,
			MaxExecutionsPerDay:     quota.MaxExecutionsPerDay,
		})
	}

	exec_ := executor.New(st, registry, mutex, cancellation, deadlines, cfg.LeaseRenewInterval, logger).
		WithObservability(metrics, events)

	pool := queue.New(st, exec_, rbacGuard, directory, queue.Config{
		WorkerCount:     cfg.WorkerCount,
		LeaseDuration:   cfg.LeaseDuration,
		ShutdownTimeout: cfg.WorkerShutdownGrace,
	}, logger).WithMetrics(metrics).WithTenantQuota(tenantQuota)
	pool.Start(ctx)
	defer pool.Stop()

	srv := router.New(router.Deps{
		Store:        st,
		Executor:     exec_,
		DLQ:          dlq,
		RBAC:         rbacGuard,
		Cancellation: cancellation,
		Deadlines:    deadlines,
		Metrics:      metrics,
		Events:       events,
		Health:       health,
		TenantQuota:  tenantQuota,
	}, router.Config{
		ImmediateBudget: cfg.ImmediateBudget,
		DedupWindow:     cfg.DedupWindow,
	}, logger)

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // the event stream endpoint holds connections open indefinitely
		IdleTimeout:  120 * time.Second,
	}

	logger.Info("starting stage e execution engine",
		zap.String("addr", cfg.ListenAddr),
		zap.String("version", version),
		zap.String("commit", commit),
	)

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	go runApprovalReaper(ctx, st, logger, cfg.ReaperInterval)
	go runDailyQuotaReset(ctx, tenantQuota)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", zap.Error(err))
	}
}

// buildLogger wraps a production zap core with the masking core so no
// secret material reaches a log sink regardless of call site.
func buildLogger(cfg config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}
	prodCfg := zap.NewProductionConfig()
	prodCfg.Level = zap.NewAtomicLevelAt(level)
	base, err := prodCfg.Build()
	if err != nil {
		return nil, err
	}
	masker := masking.New(cfg.LogMaskPatterns...)
	return base.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return masking.WrapCore(core, masker)
	})), nil
}

// seedTimeoutPolicies installs the read-only per-SLA-class timeout table
// from the built-in step timeouts and execution budgets below, with
// max_attempts taken from the config. main calls it at startup only when
// timeout_policy_file is set; the contents of that file are not read.
// Re-running it upserts the same rows.
func seedTimeoutPolicies(ctx context.Context, st *store.Store, cfg config.Config) error {
	policies := []store.TimeoutPolicy{
		{SLAClass: store.SLAFast, StepTimeout: 5 * time.Second, ExecutionBudget: 10 * time.Second, MaxAttempts: cfg.MaxAttemptsFor("fast", store.DefaultMaxAttempts(store.SLAFast))},
		{SLAClass: store.SLAMedium, StepTimeout: 30 * time.Second, ExecutionBudget: 5 * time.Minute, MaxAttempts: cfg.MaxAttemptsFor("medium", store.DefaultMaxAttempts(store.SLAMedium))},
		{SLAClass: store.SLALong, StepTimeout: 5 * time.Minute, ExecutionBudget: 2 * time.Hour, MaxAttempts: cfg.MaxAttemptsFor("long", store.DefaultMaxAttempts(store.SLALong))},
	}
	return st.SeedTimeoutPolicies(ctx, policies)
}

// runDailyQuotaReset zeroes every tenant's daily execution counter once
// every 24 hours so MaxExecutionsPerDay quotas roll over.
func runDailyQuotaReset(ctx context.Context, enforcer *tenant.Enforcer) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			enforcer.ResetDaily()
		}
	}
}

// runApprovalReaper periodically expires approval requests that outlived
// their deadline, mirroring the teacher's offline-checker background-loop
// shape (ticker + ctx.Done select).
func runApprovalReaper(ctx context.Context, st *store.Store, log *zap.Logger, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := st.ExpirePendingApprovals(ctx)
			if err != nil {
				log.Error("expire pending approvals", zap.Error(err))
				continue
			}
			if len(expired) > 0 {
				log.Info("expired pending approvals", zap.Int("count", len(expired)))
			}
		}
	}
}
