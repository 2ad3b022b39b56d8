package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/marketplace-fulfillment/api/controllers"
	"github.com/angelmondragon/marketplace-fulfillment/api/routes"
	"github.com/angelmondragon/marketplace-fulfillment/internal/checkout"
	"github.com/angelmondragon/marketplace-fulfillment/internal/delivery"
	"github.com/angelmondragon/marketplace-fulfillment/internal/inventory"
	"github.com/angelmondragon/marketplace-fulfillment/internal/notifications"
	"github.com/angelmondragon/marketplace-fulfillment/internal/orders"
	"github.com/angelmondragon/marketplace-fulfillment/internal/queue"
	"github.com/angelmondragon/marketplace-fulfillment/internal/settlements"
	paymentwebhook "github.com/angelmondragon/marketplace-fulfillment/internal/webhooks/payment"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/config"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/db"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/logger"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/metrics"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/migrate"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/outbox"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/redis"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/square"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/storage/gcs"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "api"

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	squareClient, err := square.NewClient(context.Background(), cfg.Square, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap square client", err)
		os.Exit(1)
	}

	gcsClient, err := gcs.NewClient(context.Background(), cfg.GCS, cfg.GCP, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap gcs", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()

	deps, err := buildDependencies(cfg, logg, dbClient, redisClient, squareClient, gcsClient, reg)
	if err != nil {
		logg.Error(context.Background(), "failed to wire api dependencies", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"addr":        addr,
		"serviceKind": cfg.Service.Kind,
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(ctx, "api server shutdown failed", err)
	}
	logg.Info(ctx, "api server shut down gracefully")
}

func buildDependencies(
	cfg *config.Config,
	logg *logger.Logger,
	dbClient *db.Client,
	redisClient *redis.Client,
	squareClient *square.Client,
	gcsClient *gcs.Client,
	reg *prometheus.Registry,
) (routes.Dependencies, error) {
	conn := dbClient.DB()
	emitter := outbox.NewService(outbox.NewRepository(conn), logg)

	queueSvc, err := queue.NewService(queue.NewRepository(conn), metrics.NewQueueMetrics(reg), logg)
	if err != nil {
		return routes.Dependencies{}, err
	}

	guard, err := paymentwebhook.NewIdempotencyGuard(redisClient, cfg.Webhook.IdempotencyTTL, "payment")
	if err != nil {
		return routes.Dependencies{}, err
	}
	checkoutRepo := checkout.NewRepository(conn)
	webhookSvc, err := paymentwebhook.NewService(paymentwebhook.ServiceParams{
		Payments:      squareClient,
		Sessions:      checkoutRepo,
		Queue:         queueSvc,
		Guard:         guard,
		VerifyTimeout: cfg.Webhook.VerifyTimeout,
		Logger:        logg,
	})
	if err != nil {
		return routes.Dependencies{}, err
	}

	checkoutSvc, err := checkout.NewService(checkoutRepo, inventory.NewLedger(conn), logg)
	if err != nil {
		return routes.Dependencies{}, err
	}

	ordersSvc, err := orders.NewService(orders.NewRepository(conn), dbClient, emitter, queueSvc, logg)
	if err != nil {
		return routes.Dependencies{}, err
	}

	settlementSvc, err := settlements.NewService(dbClient, settlements.NewRepository(conn), emitter, logg)
	if err != nil {
		return routes.Dependencies{}, err
	}

	notificationSvc, err := notifications.NewService(notifications.NewRepository(conn))
	if err != nil {
		return routes.Dependencies{}, err
	}

	issuer, err := delivery.NewIssuer(cfg.Delivery)
	if err != nil {
		return routes.Dependencies{}, err
	}
	redeemer, err := delivery.NewRedeemer(issuer, delivery.NewRepository(conn), gcsClient, redisClient, delivery.RedeemerConfig{
		SignedURLExpiry: cfg.GCS.DownloadURLExpiry,
		PerMinute:       cfg.Delivery.RedemptionsPerMinute,
	}, logg)
	if err != nil {
		return routes.Dependencies{}, err
	}

	return routes.Dependencies{
		Readiness: []controllers.ReadinessCheck{
			{Name: "database", Pinger: dbClient},
			{Name: "redis", Pinger: redisClient},
			{Name: "gcs", Pinger: gcsClient},
		},
		Redis:          redisClient,
		PaymentWebhook: webhookSvc,
		Checkout:       checkoutSvc,
		Orders:         ordersSvc,
		Settlements:    settlementSvc,
		Notifications:  notificationSvc,
		Downloads:      redeemer,
		Jobs:           queueSvc,
		OutboxDLQ:      outbox.NewDLQRepository(conn),
		WebhookMetrics: metrics.NewWebhookMetrics(reg),
		HTTPMetrics:    metrics.NewHTTPMetrics(reg),
		MetricsHandler: metrics.Handler(reg),
	}, nil
}
