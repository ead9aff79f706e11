package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/sla-engine/internal/api/http"
	"github.com/spec-kit/sla-engine/internal/api/http/handlers"
	"github.com/spec-kit/sla-engine/internal/auth"
	"github.com/spec-kit/sla-engine/internal/config"
	"github.com/spec-kit/sla-engine/internal/events"
	"github.com/spec-kit/sla-engine/internal/notify"
	"github.com/spec-kit/sla-engine/internal/observability"
	"github.com/spec-kit/sla-engine/internal/persistence"
	"github.com/spec-kit/sla-engine/internal/queue"
	"github.com/spec-kit/sla-engine/internal/repository"
	"github.com/spec-kit/sla-engine/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	metrics := observability.DefaultMetrics()
	pool := pg.PoolHandle()
	ticketRepo := repository.NewTicketRepository(pool)
	historyRepo := repository.NewTicketHistoryRepository(pool)
	levelRepo := repository.NewEscalationLevelRepository(pool)

	notificationQueue, err := queue.FromConfig(cfg.Queue, redis.Client, pool)
	if err != nil {
		logger.Fatal("failed to build notification queue", zap.Error(err))
	}

	dispatcher := events.NewInMemoryDispatcher()
	events.NewRedisBroadcaster(redis.Client, cfg.Timer.RedisChannel, logger).Register(dispatcher)

	pauseService := service.NewPauseService(service.PauseDependencies{
		TicketRepo:    ticketRepo,
		HistoryRepo:   historyRepo,
		Dispatcher:    dispatcher,
		Metrics:       metrics,
		Logger:        logger,
		MaxCASRetries: cfg.SLA.MaxCASRetries,
	})
	escalationService := service.NewEscalationService(service.EscalationDependencies{
		TicketRepo:         ticketRepo,
		HistoryRepo:        historyRepo,
		LevelRepo:          levelRepo,
		Queue:              notificationQueue,
		Dispatcher:         dispatcher,
		Metrics:            metrics,
		Logger:             logger,
		DedupWindow:        cfg.SLA.DedupWindow,
		HalfWarningEnabled: cfg.SLA.HalfWarningEnabled,
		MaxCASRetries:      cfg.SLA.MaxCASRetries,
		BatchSize:          cfg.SLA.SweepBatchSize,
	})
	notificationService := service.NewNotificationService(service.NotificationDependencies{
		Queue:             notificationQueue,
		Notifier:          notify.New(cfg.Notification.WebhookURL, cfg.Notification.Timeout, logger),
		Metrics:           metrics,
		Logger:            logger,
		ProcessingTimeout: cfg.Queue.ProcessingTimeout,
	})
	snapshotService := service.NewSnapshotService(service.SnapshotDependencies{
		TicketRepo:  ticketRepo,
		HistoryRepo: historyRepo,
	})

	tokens := auth.NewTokenManager(cfg.Auth)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health: handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, map[string]handlers.Pinger{
			"postgres": pg,
			"redis":    redis,
		}),
		SLA:            handlers.NewSLAHandler(snapshotService, pauseService, service.NewMessageObserver(pauseService)),
		Escalation:     handlers.NewEscalationHandler(escalationService, notificationService, logger),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
		Metrics:        metrics,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
