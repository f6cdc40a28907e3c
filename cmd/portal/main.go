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

	"github.com/partnerportal/portal/internal/app"
	"github.com/partnerportal/portal/internal/members"
	"github.com/partnerportal/portal/internal/metroareas"
	"github.com/partnerportal/portal/internal/observability"
	"github.com/partnerportal/portal/internal/partners"
	"github.com/partnerportal/portal/internal/platform/cache"
	"github.com/partnerportal/portal/internal/platform/db"
	"github.com/partnerportal/portal/internal/policy"
	"github.com/partnerportal/portal/internal/resources"
	"github.com/partnerportal/portal/internal/shared"
	"github.com/partnerportal/portal/internal/tuplesync"
	"github.com/partnerportal/portal/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping server startup")
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
	slog.SetDefault(logger)

	if err := run(ctx, stop, cfg, logger); err != nil {
		logger.Error("portal exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN, cfg.DBOptions("portal"))
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisOptions())
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	fgaClient, err := app.NewFGAClient(cfg, logger)
	if err != nil {
		return err
	}
	publisher := app.NewPublisher(cfg, logger)
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("publisher close", slog.Any("error", err))
		}
	}()
	directory, err := app.NewDirectory(ctx, cfg, logger)
	if err != nil {
		return err
	}
	authn, err := app.NewAuthenticator(ctx, cfg, redisClient, logger)
	if err != nil {
		return err
	}

	for _, userID := range cfg.BootstrapSuperAdmins {
		if err := policy.GrantSuperAdmin(ctx, fgaClient, cfg.PlatformID, userID); err != nil {
			return err
		}
		logger.Info("super admin bootstrapped", slog.String("user_id", userID))
	}

	metrics := observability.NewMetrics()
	evaluator := policy.NewEvaluator(fgaClient, cfg.PlatformID, logger)
	guard := policy.Middleware{Evaluator: evaluator, Logger: logger}
	synchronizer := app.NewSynchronizer(cfg, tuplesync.NewRepository(pool), fgaClient, redisClient, publisher, metrics.Registerer(), logger)
	audit := shared.NewAuditLogger(pool)
	idempotency := shared.NewIdempotencyStore(pool)

	partnerService := partners.NewService(partners.NewRepository(pool), evaluator, directory, audit, idempotency, logger)
	memberService := members.NewService(synchronizer, partnerService, evaluator, directory, audit, logger)
	resourceService := resources.NewService(resources.NewRepository(pool), synchronizer, evaluator, partnerService, audit, idempotency,
		resources.Config{DetachOnArchive: cfg.SoftDeletePolicy == "detach"}, logger)
	metroService := metroareas.NewService(metroareas.NewRepository(pool), audit, logger)

	inspector := asynq.NewInspector(cfg.RedisOptions().AsynqOpt())
	defer inspector.Close()

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		Metrics:           metrics,
		Authenticate:      authn.Authenticate,
		Policy:            guard,
		PartnersHandler:   partners.NewHandler(logger, partnerService, guard),
		MembersHandler:    members.NewHandler(logger, memberService, guard),
		ResourcesHandler:  resources.NewHandler(logger, resourceService, guard),
		MetroAreasHandler: metroareas.NewHandler(logger, metroService, guard),
		JobHandler:        jobs.NewHandler(inspector, logger),
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("env", cfg.AppEnv))
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
