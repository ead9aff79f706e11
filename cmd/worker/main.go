package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"go.uber.org/zap"

	"github.com/spec-kit/sla-engine/internal/config"
	"github.com/spec-kit/sla-engine/internal/events"
	"github.com/spec-kit/sla-engine/internal/notify"
	"github.com/spec-kit/sla-engine/internal/observability"
	"github.com/spec-kit/sla-engine/internal/persistence"
	"github.com/spec-kit/sla-engine/internal/queue"
	"github.com/spec-kit/sla-engine/internal/repository"
	"github.com/spec-kit/sla-engine/internal/service"
	"github.com/spec-kit/sla-engine/internal/sla"
	"github.com/spec-kit/sla-engine/internal/worker"
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	calendar, err := config.LoadCalendar(cfg.SLA)
	if err != nil {
		logger.Fatal("failed to load business calendar", zap.Error(err))
	}

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	metrics := observability.DefaultMetrics()
	pool := pg.PoolHandle()
	ticketRepo := repository.NewTicketRepository(pool)
	historyRepo := repository.NewTicketHistoryRepository(pool)

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
	businessHours := service.NewBusinessHoursService(service.BusinessHoursDependencies{
		TicketRepo: ticketRepo,
		Calendar:   sla.StaticCalendar{Cal: calendar},
		Pause:      pauseService,
		Metrics:    metrics,
		Logger:     logger,
		BatchSize:  cfg.SLA.SweepBatchSize,
	})
	escalation := service.NewEscalationService(service.EscalationDependencies{
		TicketRepo:         ticketRepo,
		HistoryRepo:        historyRepo,
		LevelRepo:          repository.NewEscalationLevelRepository(pool),
		Queue:              notificationQueue,
		Dispatcher:         dispatcher,
		Metrics:            metrics,
		Logger:             logger,
		DedupWindow:        cfg.SLA.DedupWindow,
		HalfWarningEnabled: cfg.SLA.HalfWarningEnabled,
		MaxCASRetries:      cfg.SLA.MaxCASRetries,
		BatchSize:          cfg.SLA.SweepBatchSize,
	})
	notifications := service.NewNotificationService(service.NotificationDependencies{
		Queue:             notificationQueue,
		Notifier:          notify.New(cfg.Notification.WebhookURL, cfg.Notification.Timeout, logger),
		Metrics:           metrics,
		Logger:            logger,
		ClaimBatch:        cfg.Queue.ClaimBatch,
		Concurrency:       cfg.Queue.Concurrency,
		ProcessingTimeout: cfg.Queue.ProcessingTimeout,
	})

	metricsServer := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener stopped", zap.Error(err))
		}
	}()

	reclaimInterval := cfg.Queue.ProcessingTimeout / 5
	if reclaimInterval < cfg.Queue.PollInterval {
		reclaimInterval = cfg.Queue.PollInterval
	}

	jobs := worker.SweepJobs(businessHours, escalation, cfg.SLA.BusinessHoursInterval, cfg.SLA.EscalationInterval)
	jobs = append(jobs, worker.NotificationJobs(notifications, cfg.Queue.PollInterval, reclaimInterval)...)

	logger.Info("sla worker started",
		zap.String("queue_backend", cfg.Queue.Backend),
		zap.Int("jobs", len(jobs)))
	if err := worker.NewRunner(logger, metrics).Run(ctx, jobs...); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
	logger.Info("sla worker stopped")
}
