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
	audithttp "github.com/odyssey-erp/odyssey-strategy/internal/audit/http"
	"github.com/odyssey-erp/odyssey-strategy/internal/auth"
	"github.com/odyssey-erp/odyssey-strategy/internal/guard"
	"github.com/odyssey-erp/odyssey-strategy/internal/observability"
	"github.com/odyssey-erp/odyssey-strategy/internal/planning"
	"github.com/odyssey-erp/odyssey-strategy/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-strategy/internal/platform/db"
	"github.com/odyssey-erp/odyssey-strategy/internal/ratelimit"
	"github.com/odyssey-erp/odyssey-strategy/internal/rbac"
	"github.com/odyssey-erp/odyssey-strategy/internal/shared"
	"github.com/odyssey-erp/odyssey-strategy/internal/view"
	"github.com/odyssey-erp/odyssey-strategy/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	if len(os.Args) > 1 {
		os.Exit(runCommand(ctx, cfg, logger, os.Args[1:]))
	}

	if err := serve(ctx, stop, cfg, logger); err != nil {
		logger.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) error {
	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns})
	if err != nil {
		return err
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, redisOptions(cfg))
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	sessionManager := shared.NewSessionManager(redisClient, cfg.SessionCookie, cfg.SessionTTL, cfg.IsProduction())

	templates, err := view.NewEngine()
	if err != nil {
		return err
	}

	auditService := audit.NewService(audit.NewRepository(dbpool))
	var recorder audit.Recorder
	if cfg.AuditAsync {
		jobClient := jobs.NewClient(asynqRedis(cfg))
		defer func() {
			if err := jobClient.Close(); err != nil {
				logger.Warn("asynq client close", slog.Any("error", err))
			}
		}()
		recorder = audit.NewDispatcher(jobClient, jobs.QueueSecurity, logger)
	} else {
		recorder = audit.NewAsyncRecorder(auditService, logger, cfg.AuditTimeout)
	}
	recorder = audit.Observed(recorder, metrics.AuditEvent)

	resolver := rbac.NewResolver(rbac.NewRoleStore(dbpool), recorder, logger)
	rbacMiddleware := rbac.Middleware{Resolver: resolver, Logger: logger}

	monitor := activity.NewMonitor(redisClient, sessionManager, recorder, logger, activity.Options{
		IdleTimeout: cfg.SessionIdleTimeout,
		OnExpire:    metrics.SessionExpired,
	})

	authRepo := auth.NewRepository(dbpool)
	ipRestriction := guard.NewIPRestriction(
		authRepo,
		guard.NewLookupResolver(cfg.IPLookupURL, cfg.IPLookupTimeout, cfg.IPLookupTTL, nil, logger),
		logger,
	)

	g := guard.New(guard.Config{
		Roles:             resolver,
		Recorder:          recorder,
		Activity:          monitor,
		IP:                ipRestriction,
		Sessions:          sessionManager,
		Views:             templates,
		PreviewHostSuffix: cfg.PreviewHostSuffix,
		Logger:            logger,
		Observe:           func(o guard.Outcome) { metrics.GuardDecision(string(o)) },
	})

	attempts := ratelimit.New(ratelimit.Config{
		Capacity: cfg.AttemptStoreCapacity,
		Limit:    cfg.LoginMaxAttempts,
		Window:   cfg.LoginLockout,
	})
	authService := auth.NewService(authRepo, attempts, cfg.MFAIssuer)
	authHandler := auth.NewHandler(logger, authService, templates, sessionManager, recorder, monitor)

	summaries := planning.NewSummaryCache(redisClient, cfg.DashboardCacheTTL)
	planningService := planning.NewService(planning.NewRepository(dbpool), summaries, logger)
	go func() {
		err := summaries.Subscribe(ctx, func(version int64) {
			planningService.ForgetSummary()
			logger.Debug("planning summary cache bumped", slog.Int64("version", version))
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("planning cache subscription", slog.Any("error", err))
		}
	}()
	planningHandler := planning.NewHandler(logger, planningService, g, rbacMiddleware)

	inspector := asynq.NewInspector(asynqRedis(cfg))
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Templates:          templates,
		Sessions:           sessionManager,
		Guard:              g,
		Resolver:           resolver,
		AuthHandler:        authHandler,
		ActivityHandler:    activity.NewHandler(monitor, logger),
		PlanningHandler:    planningHandler,
		PermissionsHandler: rbac.NewPermissionsHandler(logger, resolver),
		AuditHandler:       audithttp.NewHandler(logger, auditService),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func redisOptions(cfg *app.Config) cache.Options {
	return cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
}

func asynqRedis(cfg *app.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
}
