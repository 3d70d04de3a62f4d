package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"

	"github.com/meridian-ims/meridian/internal/app"
	"github.com/meridian-ims/meridian/internal/approval"
	"github.com/meridian-ims/meridian/internal/auth"
	"github.com/meridian-ims/meridian/internal/catalog"
	"github.com/meridian-ims/meridian/internal/ledger"
	"github.com/meridian-ims/meridian/internal/observability"
	"github.com/meridian-ims/meridian/internal/platform/cache"
	"github.com/meridian-ims/meridian/internal/platform/db"
	"github.com/meridian-ims/meridian/internal/rbac"
	"github.com/meridian-ims/meridian/internal/shared"
	"github.com/meridian-ims/meridian/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	validate := validator.New()
	metrics := observability.NewMetrics()

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	authService := auth.NewService(pool, redisClient)
	authHandler := auth.NewHandler(logger, authService)

	rbacService := rbac.NewService(pool)
	rbacMiddleware := rbac.Middleware{Service: rbacService, Logger: logger}
	rbacHandler := rbac.NewHandler(logger, rbacService, rbacMiddleware)

	catalogRepo := catalog.NewRepository(pool)
	catalogCache := catalog.NewRedisCache(redisClient, time.Minute)
	catalogService := catalog.NewService(catalogRepo, catalogCache)
	catalogHandler := catalog.NewHandler(logger, catalogService, validate, rbacMiddleware, cfg.LowStockFallback)

	ledgerRepo := ledger.NewRepository(pool)
	ledgerService := ledger.NewService(ledgerRepo, catalogService, auditLogger, ledger.ServiceConfig{
		AllowNegativeStock: cfg.AllowNegativeStock,
		AdjustmentReasons:  cfg.AdjustmentReasons,
		Metrics:            metrics,
	})
	ledgerHandler := ledger.NewHandler(logger, ledgerService, rbacMiddleware)

	approvalRepo := approval.NewRepository(pool)
	approvalService := approval.NewService(approvalRepo, ledgerService, rbacService, idempotencyStore, auditLogger)
	approvalHandler := approval.NewHandler(logger, approvalService, validate, rbacMiddleware)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		AuthMiddleware:  auth.Middleware(authService),
		AuthHandler:     authHandler,
		CatalogHandler:  catalogHandler,
		LedgerHandler:   ledgerHandler,
		ApprovalHandler: approvalHandler,
		RBACHandler:     rbacHandler,
		JobHandler:      jobHandler,
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
