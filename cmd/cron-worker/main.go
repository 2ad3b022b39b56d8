package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/marketplace-fulfillment/internal/cron"
	"github.com/angelmondragon/marketplace-fulfillment/internal/delivery"
	"github.com/angelmondragon/marketplace-fulfillment/internal/notifications"
	"github.com/angelmondragon/marketplace-fulfillment/internal/queue"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/config"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/db"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/logger"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/metrics"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/migrate"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/outbox"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	reg := prometheus.NewRegistry()
	metricsCollector := metrics.NewCronJobMetrics(reg)

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron"), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry, err := buildRegistry(cfg, logg, dbClient)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Registry:   registry,
		Lock:       lock,
		Metrics:    metricsCollector,
		Tick:       cfg.Cron.Interval,
		JobTimeout: cfg.Cron.JobTimeout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})

	if cfg.Metrics.Addr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, reg); err != nil {
				logg.Error(ctx, "metrics listener stopped", err)
			}
		}()
	}

	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client) (*cron.Registry, error) {
	conn := dbClient.DB()
	outboxRepo := outbox.NewRepository(conn)
	jobRepo := queue.NewRepository(conn)
	grantRepo := delivery.NewRepository(conn)
	notificationRepo := notifications.NewRepository(conn)

	params := []cron.RetentionJobParams{
		{
			Name:      "outbox-retention",
			Every:     time.Hour,
			Retention: cfg.Cron.OutboxRetention,
			Purge:     cron.InTx(dbClient, outboxRepo.DeletePublishedBefore),
		},
		{
			Name:      "fulfillment-job-retention",
			Every:     6 * time.Hour,
			Retention: cfg.Cron.JobRetention,
			Purge:     jobRepo.DeleteSucceededBefore,
		},
		{
			Name:      "expired-grant-cleanup",
			Every:     time.Hour,
			Retention: cfg.Cron.ExpiredGrantRetention,
			Purge:     grantRepo.DeleteExpiredBefore,
		},
		{
			Name:      "notification-cleanup",
			Every:     24 * time.Hour,
			Retention: cfg.Cron.NotificationRetention,
			Purge:     notificationRepo.DeleteReadBefore,
		},
	}

	jobs := make([]cron.Job, 0, len(params))
	for _, p := range params {
		p.Logger = logg
		job, err := cron.NewRetentionJob(p)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return cron.NewRegistry(jobs...)
}
