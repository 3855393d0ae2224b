package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/campusledger/campusledger/internal/app"
	"github.com/campusledger/campusledger/internal/billing"
	"github.com/campusledger/campusledger/internal/feeplan"
	jobmetrics "github.com/campusledger/campusledger/internal/jobs"
	"github.com/campusledger/campusledger/internal/ledger"
	"github.com/campusledger/campusledger/internal/notify"
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

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
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

	metrics := jobmetrics.NewMetrics(nil)
	auditLogger := shared.NewAuditLogger(pool)

	termRepo := term.NewRepository(pool)
	termService := term.NewService(termRepo)

	feeplanRepo := feeplan.NewRepository(pool)
	feeplanService := feeplan.NewService(feeplanRepo)

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
		Metrics:   nil,
		Workers:   cfg.BillingWorkers,
	})

	queueClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init queue client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()

	// The sweep enqueues one task per reminder, so a slow SMS gateway only
	// delays the reminder queue, not the sweep itself.
	sweeper := billing.NewSweeper(logger, billingRepo, notify.QueueSender{Queue: queueClient})
	sender := notify.LogSender{Logger: logger}

	// Scheduled billing carries no term id; the handler resolves the
	// current term at run time.
	billingTask, err := jobs.NewTermBillingTask(jobs.TermBillingPayload{})
	if err != nil {
		logger.Error("build billing task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTermBilling, Handler: jobs.HandleTermBilling(billingService, termService, logger, metrics)},
			{Type: jobs.TaskTermTransition, Handler: jobs.HandleTermTransition(termService, logger, metrics)},
			{Type: jobs.TaskOverdueSweep, Handler: jobs.HandleOverdueSweep(sweeper, metrics)},
			{Type: jobs.TaskSendReminder, Handler: jobs.HandleSendReminder(sender, metrics)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.TermTransitionCron, Task: jobs.NewTermTransitionTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.TermBillingCron, Task: billingTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.OverdueSweepCron, Task: jobs.NewOverdueSweepTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
