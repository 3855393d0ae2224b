package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/campusledger/campusledger/internal/app"
	"github.com/campusledger/campusledger/internal/billing"
	"github.com/campusledger/campusledger/internal/feeplan"
	"github.com/campusledger/campusledger/internal/ledger"
	"github.com/campusledger/campusledger/internal/observability"
	"github.com/campusledger/campusledger/internal/payment"
	"github.com/campusledger/campusledger/internal/platform/cache"
	"github.com/campusledger/campusledger/internal/platform/db"
	"github.com/campusledger/campusledger/internal/shared"
	"github.com/campusledger/campusledger/internal/students"
	"github.com/campusledger/campusledger/internal/term"
	"github.com/campusledger/campusledger/jobs"
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

	metrics := observability.NewMetrics()
	locks := shared.NewStudentLocks()
	auditLogger := shared.NewAuditLogger(pool)

	termRepo := term.NewRepository(pool)
	termService := term.NewService(termRepo)
	termHandler := term.NewHandler(logger, termService)

	feeplanRepo := feeplan.NewRepository(pool)
	feeplanService := feeplan.NewService(feeplanRepo)
	feeplanHandler := feeplan.NewHandler(logger, feeplanService)

	studentRepo := students.NewRepository(pool)

	ledgerRepo := ledger.NewRepository(pool)
	cascade := ledger.NewService(ledgerRepo)

	unpaidCache := payment.NewRedisCache(redisClient, cfg.UnpaidCacheTTL)

	billingRepo := billing.NewRepository(pool)
	billingService := billing.NewService(billing.ServiceParams{
		Logger:    logger,
		Students:  studentRepo,
		Terms:     termService,
		Templates: feeplanService,
		Ledger:    ledgerRepo,
		Cascade:   cascade,
		Cache:     unpaidCache,
		Stats:     billingRepo,
		Audit:     auditLogger,
		Locks:     locks,
		Metrics:   metrics,
		Workers:   cfg.BillingWorkers,
	})
	billingHandler := billing.NewHandler(logger, billingService)

	paymentRepo := payment.NewRepository(pool)
	paymentService := payment.NewService(payment.ServiceParams{
		Logger:   logger,
		Repo:     paymentRepo,
		Ledger:   ledgerRepo,
		Students: studentRepo,
		Terms:    termService,
		Cascade:  cascade,
		Tx:       db.NewTx(pool),
		Cache:    unpaidCache,
		Locks:    locks,
		Metrics:  metrics,
	})
	paymentHandler := payment.NewHandler(logger, paymentService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		TermHandler:    termHandler,
		FeePlanHandler: feeplanHandler,
		BillingHandler: billingHandler,
		PaymentHandler: paymentHandler,
		JobHandler:     jobHandler,
		Metrics:        metrics,
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
