package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-fulfillment/api/controllers"
	ordercontrollers "github.com/angelmondragon/marketplace-fulfillment/api/controllers/orders"
	settlementcontrollers "github.com/angelmondragon/marketplace-fulfillment/api/controllers/settlements"
	webhookcontrollers "github.com/angelmondragon/marketplace-fulfillment/api/controllers/webhooks"
	"github.com/angelmondragon/marketplace-fulfillment/api/middleware"
	checkoutsvc "github.com/angelmondragon/marketplace-fulfillment/internal/checkout"
	"github.com/angelmondragon/marketplace-fulfillment/internal/notifications"
	"github.com/angelmondragon/marketplace-fulfillment/internal/orders"
	"github.com/angelmondragon/marketplace-fulfillment/internal/queue"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/config"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/db/models"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/logger"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/metrics"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/outbox"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/pagination"
	pkgredis "github.com/angelmondragon/marketplace-fulfillment/pkg/redis"
)

// RedisStore backs request idempotency and per-IP rate limits.
type RedisStore interface {
	pkgredis.IdempotencyStore
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	RateLimitKey(scope string) string
}

// SettlementService is the seller read side plus the admin payout transitions.
type SettlementService interface {
	settlementcontrollers.SellerLedger
	settlementcontrollers.PayoutTransitions
}

type DownloadRedeemer interface {
	Redeem(ctx context.Context, token string) (string, error)
}

type DeadLetterQueue interface {
	ListDeadLettered(ctx context.Context, params pagination.Params) (queue.ListResult, error)
	Requeue(ctx context.Context, jobID uuid.UUID) (*queue.JobView, error)
}

type OutboxDLQReader interface {
	List(ctx context.Context, filter outbox.DLQFilter) ([]models.OutboxDLQ, error)
}

// Dependencies are the services the HTTP surface dispatches to. Nil services
// answer 500 from their handlers rather than failing router construction.
type Dependencies struct {
	Readiness      []controllers.ReadinessCheck
	Redis          RedisStore
	PaymentWebhook webhookcontrollers.PaymentWebhookService
	Checkout       checkoutsvc.Service
	Orders         orders.Service
	Settlements    SettlementService
	Notifications  notifications.Service
	Downloads      DownloadRedeemer
	Jobs           DeadLetterQueue
	OutboxDLQ      OutboxDLQReader
	WebhookMetrics *metrics.WebhookMetrics
	HTTPMetrics    *metrics.HTTPMetrics
	MetricsHandler http.Handler
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.Metrics(deps.HTTPMetrics),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	webhookPolicy := middleware.RateLimitPolicy{
		Name:   "webhook",
		Window: cfg.RateLimit.WebhookWindow,
		Limit:  cfg.RateLimit.WebhookIPLimit,
	}
	downloadPolicy := middleware.RateLimitPolicy{
		Name:   "download",
		Window: cfg.RateLimit.DownloadWindow,
		Limit:  cfg.RateLimit.DownloadIPLimit,
	}

	// A nil interface keeps the middlewares in their pass-through mode.
	var idemStore pkgredis.IdempotencyStore
	var limiter middleware.CounterStore
	if deps.Redis != nil {
		idemStore = deps.Redis
		limiter = deps.Redis
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.Readiness...))
	})
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.With(middleware.IPRateLimit(webhookPolicy, limiter, logg)).
		Post("/webhooks/payment", webhookcontrollers.PaymentWebhook(deps.PaymentWebhook, cfg.Webhook.Secret, deps.WebhookMetrics, logg))

	r.With(middleware.IPRateLimit(downloadPolicy, limiter, logg)).
		Get("/api/v1/downloads/{token}", controllers.RedeemDownload(deps.Downloads, logg))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(idemStore, logg))

		r.Route("/checkout/sessions", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.ActorRoleBuyer))
			r.Post("/", controllers.CaptureCheckout(deps.Checkout, logg))
			r.Get("/{sessionId}", controllers.GetCheckoutSession(deps.Checkout, logg))
		})

		r.With(middleware.RequireRole(logg, enums.ActorRoleBuyer, enums.ActorRoleAdmin)).
			Get("/orders/{reference}", ordercontrollers.StatusByReference(deps.Orders, logg))

		r.With(middleware.RequireRole(logg, enums.ActorRoleSeller, enums.ActorRoleCourier, enums.ActorRoleAdmin)).
			Post("/sub-orders/{subOrderId}/delivery-status", ordercontrollers.TransitionDelivery(deps.Orders, logg))

		r.Route("/sellers/{sellerId}", func(r chi.Router) {
			r.Use(middleware.SellerScope("sellerId", logg))
			r.Get("/settlements", settlementcontrollers.List(deps.Settlements, logg))
			r.Get("/account", settlementcontrollers.Account(deps.Settlements, logg))
			r.Get("/notifications", controllers.ListNotifications(deps.Notifications, logg))
			r.Post("/notifications/read-all", controllers.MarkAllNotificationsRead(deps.Notifications, logg))
			r.Post("/notifications/{notificationId}/read", controllers.MarkNotificationRead(deps.Notifications, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(logg, enums.ActorRoleAdmin))
		r.Use(middleware.Idempotency(idemStore, logg))

		r.Get("/fulfillment-jobs/dead-letter", controllers.AdminDeadLetteredJobs(deps.Jobs, logg))
		r.Post("/fulfillment-jobs/{jobId}/requeue", controllers.AdminRequeueJob(deps.Jobs, logg))

		r.Route("/settlements/{settlementId}", func(r chi.Router) {
			r.Post("/processing", settlementcontrollers.MarkProcessing(deps.Settlements, logg))
			r.Post("/paid", settlementcontrollers.MarkPaid(deps.Settlements, logg))
			r.Post("/failed", settlementcontrollers.MarkFailed(deps.Settlements, logg))
			r.Post("/retry", settlementcontrollers.RetryFailed(deps.Settlements, logg))
		})

		r.Get("/outbox/dlq", controllers.AdminOutboxDLQ(deps.OutboxDLQ, logg))
	})

	return r
}
