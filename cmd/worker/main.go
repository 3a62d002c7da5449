package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-strategy/internal/activity"
	"github.com/odyssey-erp/odyssey-strategy/internal/app"
	"github.com/odyssey-erp/odyssey-strategy/internal/audit"
	"github.com/odyssey-erp/odyssey-strategy/internal/observability"
	"github.com/odyssey-erp/odyssey-strategy/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-strategy/internal/platform/db"
	"github.com/odyssey-erp/odyssey-strategy/internal/shared"
	"github.com/odyssey-erp/odyssey-strategy/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditService := audit.NewService(audit.NewRepository(pool))
	recorder := audit.Observed(audit.NewAsyncRecorder(auditService, logger, cfg.AuditTimeout), metrics.AuditEvent)
	sessionManager := shared.NewSessionManager(redisClient, cfg.SessionCookie, cfg.SessionTTL, cfg.IsProduction())
	monitor := activity.NewMonitor(redisClient, sessionManager, recorder, logger, activity.Options{
		IdleTimeout: cfg.SessionIdleTimeout,
		OnExpire:    metrics.SessionExpired,
	})

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: audit.TaskTypeRecord, Handler: jobs.Tracked(metrics, audit.TaskTypeRecord, audit.HandleRecordTask(auditService))},
			{Type: activity.TaskTypeSweep, Handler: jobs.Tracked(metrics, activity.TaskTypeSweep, activity.HandleSweepTask(monitor, logger))},
		},
		Cron: []jobs.CronRegistration{jobs.SweepCron(cfg.SessionSweepInterval)},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("worker metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
