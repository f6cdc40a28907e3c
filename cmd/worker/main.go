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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/partnerportal/portal/internal/app"
	jobmetrics "github.com/partnerportal/portal/internal/jobs"
	"github.com/partnerportal/portal/internal/platform/cache"
	"github.com/partnerportal/portal/internal/platform/db"
	"github.com/partnerportal/portal/internal/tuplesync"
	"github.com/partnerportal/portal/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN, cfg.DBOptions("portal-worker"))
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisOptions())
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	fgaClient, err := app.NewFGAClient(cfg, logger)
	if err != nil {
		logger.Error("init fga client", slog.Any("error", err))
		os.Exit(1)
	}
	publisher := app.NewPublisher(cfg, logger)
	defer publisher.Close()

	synchronizer := app.NewSynchronizer(cfg, tuplesync.NewRepository(pool), fgaClient, redisClient, publisher, prometheus.DefaultRegisterer, logger)
	syncJobs := jobs.NewTupleSyncJobs(synchronizer, logger, jobmetrics.NewMetrics(nil))

	if cfg.WorkerMetricsAddr != "" {
		metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("worker metrics server", slog.Any("error", err))
			}
		}()
		defer metricsServer.Close()
	}

	drainTask, err := jobs.NewDrainTask(0)
	if err != nil {
		logger.Error("build drain task", slog.Any("error", err))
		os.Exit(1)
	}
	reconcileTask, err := jobs.NewReconcileTask("")
	if err != nil {
		logger.Error("build reconcile task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: cfg.RedisOptions().AsynqOpt(),
		Logger:    logger,
		Handlers:  syncJobs.Handlers(),
		Cron: []jobs.CronRegistration{
			{Spec: cfg.DrainCron, Task: drainTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
			{Spec: cfg.ReconcileCron, Task: reconcileTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker started", slog.String("drain_cron", cfg.DrainCron), slog.String("reconcile_cron", cfg.ReconcileCron))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
