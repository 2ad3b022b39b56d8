package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/marketplace-fulfillment/internal/commission"
	analyticsconsumer "github.com/angelmondragon/marketplace-fulfillment/internal/consumers/analytics"
	"github.com/angelmondragon/marketplace-fulfillment/internal/delivery"
	"github.com/angelmondragon/marketplace-fulfillment/internal/fulfillment"
	"github.com/angelmondragon/marketplace-fulfillment/internal/inventory"
	"github.com/angelmondragon/marketplace-fulfillment/internal/notifications"
	"github.com/angelmondragon/marketplace-fulfillment/internal/orders"
	"github.com/angelmondragon/marketplace-fulfillment/internal/queue"
	"github.com/angelmondragon/marketplace-fulfillment/internal/settlements"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/bigquery"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/config"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/db"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/logger"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/metrics"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/migrate"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/outbox"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/outbox/idempotency"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/pubsub"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "worker"

	logg = logger.New(logger.Options{
		ServiceName: "worker",
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

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap pubsub", err)
		os.Exit(1)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub client", err)
		}
	}()

	bigqueryClient, err := bigquery.NewClient(context.Background(), cfg.GCP, cfg.BigQuery, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap bigquery", err)
		os.Exit(1)
	}
	defer func() {
		if err := bigqueryClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing bigquery client", err)
		}
	}()

	reg := prometheus.NewRegistry()

	pool, err := buildPool(cfg, logg, dbClient, metrics.NewQueueMetrics(reg))
	if err != nil {
		logg.Error(context.Background(), "failed to build fulfillment pool", err)
		os.Exit(1)
	}

	idempotencyManager, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create idempotency manager", err)
		os.Exit(1)
	}

	components := []component{{name: "fulfillment-pool", run: pool}}

	if sub := pubsubClient.NotificationSubscription(); sub != nil {
		notificationConsumer, err := buildNotificationConsumer(cfg, logg, dbClient, sub, idempotencyManager)
		if err != nil {
			logg.Error(context.Background(), "failed to create notification consumer", err)
			os.Exit(1)
		}
		components = append(components, component{name: "notifications", run: notificationConsumer})
	} else {
		logg.Warn(context.Background(), "notification subscription not configured; notifications disabled")
	}

	if sub := pubsubClient.AnalyticsSubscription(); sub != nil {
		factConsumer, err := analyticsconsumer.NewConsumer(bigqueryClient, cfg.BigQuery.FulfillmentTable, sub, idempotencyManager, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to create analytics consumer", err)
			os.Exit(1)
		}
		components = append(components, component{name: "analytics", run: factConsumer})
	} else {
		logg.Warn(context.Background(), "analytics subscription not configured; fulfillment facts disabled")
	}

	service, err := NewService(ServiceParams{
		Logger: logg,
		Dependencies: []dependency{
			{name: "database", ping: dbClient},
			{name: "redis", ping: redisClient},
			{name: "pubsub", ping: pubsubClient},
			{name: "bigquery", ping: bigqueryClient},
		},
		Components: components,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create worker service", err)
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

	logg.Info(ctx, "starting worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "worker shutting down gracefully")
}

func buildPool(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, queueMetrics *metrics.QueueMetrics) (*queue.Pool, error) {
	conn := dbClient.DB()
	emitter := outbox.NewService(outbox.NewRepository(conn), logg)

	calc, err := commission.NewCalculator(cfg.Commission)
	if err != nil {
		return nil, err
	}
	settlementSvc, err := settlements.NewService(dbClient, settlements.NewRepository(conn), emitter, logg)
	if err != nil {
		return nil, err
	}
	issuer, err := delivery.NewIssuer(cfg.Delivery)
	if err != nil {
		return nil, err
	}

	engine, err := fulfillment.NewEngine(fulfillment.Deps{
		DB:          dbClient,
		Orders:      orders.NewRepository(conn),
		Ledger:      inventory.NewLedger(conn),
		Commission:  calc,
		Settlements: settlementSvc,
		Issuer:      issuer,
		Grants:      delivery.NewRepository(conn),
		Outbox:      emitter,
		Logger:      logg,
	}, fulfillment.Config{OneTimeGrants: cfg.Delivery.OneTime})
	if err != nil {
		return nil, err
	}

	return queue.NewPool(queue.NewRepository(conn), engine, queue.PoolConfigFrom(cfg.Queue), queueMetrics, logg)
}

func buildNotificationConsumer(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, sub *gcppubsub.Subscriber, manager *idempotency.Manager) (*notifications.Consumer, error) {
	inApp, err := notifications.NewInAppDispatcher(notifications.NewRepository(dbClient.DB()), logg)
	if err != nil {
		return nil, err
	}
	channels := []notifications.Channel{{Name: "in_app", Dispatcher: inApp}}

	if cfg.Sendgrid.APIKey != "" {
		email, err := notifications.NewEmailDispatcher(cfg.Sendgrid, logg)
		if err != nil {
			return nil, err
		}
		channels = append(channels, notifications.Channel{Name: "email", Dispatcher: email})
	} else {
		logg.Warn(context.Background(), "sendgrid api key not set; buyer emails disabled")
	}

	return notifications.NewConsumer(sub, channels, manager, logg)
}
