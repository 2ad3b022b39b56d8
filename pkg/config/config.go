package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "MARKETPLACE"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv = "MARKETPLACE_APP_ENV"
	EnvPort   = "MARKETPLACE_APP_PORT"
	EnvDBDSN  = "MARKETPLACE_DB_DSN"
	EnvDBHost = "MARKETPLACE_DB_HOST"
	EnvDBUser = "MARKETPLACE_DB_USER"
	EnvDBName = "MARKETPLACE_DB_NAME"

	EnvRedisURL = "MARKETPLACE_REDIS_URL"

	EnvJWTSecret = "MARKETPLACE_JWT_SECRET"
	EnvJWTIssuer = "MARKETPLACE_JWT_ISSUER"

	EnvWebhookSecret        = "MARKETPLACE_WEBHOOK_SECRET"
	EnvWebhookVerifyTimeout = "MARKETPLACE_WEBHOOK_VERIFY_TIMEOUT"

	EnvCommissionMode     = "MARKETPLACE_COMMISSION_MODE"
	EnvCommissionRateBPS  = "MARKETPLACE_COMMISSION_RATE_BPS"
	EnvCommissionTiers    = "MARKETPLACE_COMMISSION_TIERS"
	EnvCommissionFixedFee = "MARKETPLACE_COMMISSION_FIXED_FEE_CENTS"

	EnvQueueWorkers     = "MARKETPLACE_QUEUE_WORKERS"
	EnvQueueMaxAttempts = "MARKETPLACE_QUEUE_MAX_ATTEMPTS"

	EnvDeliveryGrantTTL    = "MARKETPLACE_DELIVERY_GRANT_TTL"
	EnvDeliveryTokenSecret = "MARKETPLACE_DELIVERY_TOKEN_SECRET"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	RateLimit    RateLimitConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	GCS          GCSConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Square       SquareConfig
	Webhook      WebhookConfig
	Commission   CommissionConfig
	Queue        QueueConfig
	Delivery     DeliveryConfig
	Sendgrid     SendgridConfig
	Outbox       OutboxConfig
	Cron         CronConfig
	Metrics      MetricsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if _, err := cfg.Commission.ParseTiers(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"MARKETPLACE_APP_ENV" required:"true"`
	Port         string `envconfig:"MARKETPLACE_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"MARKETPLACE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"MARKETPLACE_LOG_WARN_STACK" default:"false"`
	// CORSOrigins is a comma-separated allow list; empty disables CORS headers.
	CORSOrigins []string `envconfig:"MARKETPLACE_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"MARKETPLACE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"MARKETPLACE_DB_DSN"`
	Driver string `envconfig:"MARKETPLACE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"MARKETPLACE_DB_HOST"`
	LegacyPort     int    `envconfig:"MARKETPLACE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"MARKETPLACE_DB_USER"`
	LegacyPassword string `envconfig:"MARKETPLACE_DB_PASSWORD"`
	LegacyName     string `envconfig:"MARKETPLACE_DB_NAME"`
	LegacySSLMode  string `envconfig:"MARKETPLACE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MARKETPLACE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MARKETPLACE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MARKETPLACE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MARKETPLACE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"MARKETPLACE_REDIS_URL"`
	Address      string        `envconfig:"MARKETPLACE_REDIS_ADDR"`
	Password     string        `envconfig:"MARKETPLACE_REDIS_PASSWORD"`
	DB           int           `envconfig:"MARKETPLACE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MARKETPLACE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MARKETPLACE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MARKETPLACE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MARKETPLACE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MARKETPLACE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig describes the access tokens minted by the identity service and
// verified by the API.
type JWTConfig struct {
	Secret            string `envconfig:"MARKETPLACE_JWT_SECRET"`
	Issuer            string `envconfig:"MARKETPLACE_JWT_ISSUER" default:"marketplace"`
	ExpirationMinutes int    `envconfig:"MARKETPLACE_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"MARKETPLACE_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"MARKETPLACE_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"MARKETPLACE_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"MARKETPLACE_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"MARKETPLACE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"MARKETPLACE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type GCSConfig struct {
	BucketName        string        `envconfig:"MARKETPLACE_GCS_BUCKET_NAME"`
	DownloadURLExpiry time.Duration `envconfig:"MARKETPLACE_GCS_DOWNLOAD_URL_EXPIRY" default:"5m"`
}

type PubSubConfig struct {
	NotificationTopic        string `envconfig:"MARKETPLACE_PUBSUB_NOTIFICATION_TOPIC" default:"mp-notification-events"`
	NotificationSubscription string `envconfig:"MARKETPLACE_PUBSUB_NOTIFICATION_SUBSCRIPTION" default:"mp-notification-events-sub"`
	AnalyticsTopic           string `envconfig:"MARKETPLACE_PUBSUB_ANALYTICS_TOPIC" default:"mp-analytics-events"`
	AnalyticsSubscription    string `envconfig:"MARKETPLACE_PUBSUB_ANALYTICS_SUBSCRIPTION" default:"mp-analytics-events-sub"`
}

type BigQueryConfig struct {
	Dataset          string `envconfig:"MARKETPLACE_BIGQUERY_DATASET" default:"marketplace"`
	FulfillmentTable string `envconfig:"MARKETPLACE_BIGQUERY_FULFILLMENT_TABLE" default:"fulfillment_facts"`
}

type SquareConfig struct {
	AccessToken string `envconfig:"MARKETPLACE_SQUARE_ACCESS_TOKEN"`
	Env         string `envconfig:"MARKETPLACE_SQUARE_ENV" default:"sandbox"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	switch env {
	case "", "test", "sandbox":
		return "sandbox"
	case "live", "prod", "production":
		return "production"
	default:
		return env
	}
}

type WebhookConfig struct {
	Secret         string        `envconfig:"MARKETPLACE_WEBHOOK_SECRET"`
	VerifyTimeout  time.Duration `envconfig:"MARKETPLACE_WEBHOOK_VERIFY_TIMEOUT" default:"5s"`
	IdempotencyTTL time.Duration `envconfig:"MARKETPLACE_WEBHOOK_IDEMPOTENCY_TTL" default:"720h"`
}

const (
	CommissionModeFlat   = "flat"
	CommissionModeTiered = "tiered"
)

type CommissionConfig struct {
	Mode          string `envconfig:"MARKETPLACE_COMMISSION_MODE" default:"flat"`
	RateBPS       int64  `envconfig:"MARKETPLACE_COMMISSION_RATE_BPS" default:"1000"`
	Tiers         string `envconfig:"MARKETPLACE_COMMISSION_TIERS"`
	FixedFeeCents int64  `envconfig:"MARKETPLACE_COMMISSION_FIXED_FEE_CENTS" default:"0"`
}

// CommissionTier applies RateBPS to any gross amount of at least MinCents.
type CommissionTier struct {
	MinCents int64
	RateBPS  int64
}

// ParseTiers decodes the "minCents:bps,minCents:bps" schedule, sorted ascending.
func (c CommissionConfig) ParseTiers() ([]CommissionTier, error) {
	raw := strings.TrimSpace(c.Tiers)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	tiers := make([]CommissionTier, 0, len(parts))
	for _, part := range parts {
		pair := strings.SplitN(strings.TrimSpace(part), ":", 2)
		if len(pair) != 2 {
			return nil, fmt.Errorf("invalid commission tier %q", part)
		}
		minCents, err := strconv.ParseInt(strings.TrimSpace(pair[0]), 10, 64)
		if err != nil || minCents < 0 {
			return nil, fmt.Errorf("invalid commission tier threshold %q", pair[0])
		}
		bps, err := strconv.ParseInt(strings.TrimSpace(pair[1]), 10, 64)
		if err != nil || bps < 0 || bps > 10000 {
			return nil, fmt.Errorf("invalid commission tier rate %q", pair[1])
		}
		if n := len(tiers); n > 0 && tiers[n-1].MinCents >= minCents {
			return nil, fmt.Errorf("commission tiers must be strictly ascending at %q", part)
		}
		tiers = append(tiers, CommissionTier{MinCents: minCents, RateBPS: bps})
	}
	return tiers, nil
}

type QueueConfig struct {
	Workers       int           `envconfig:"MARKETPLACE_QUEUE_WORKERS" default:"4"`
	MaxAttempts   int           `envconfig:"MARKETPLACE_QUEUE_MAX_ATTEMPTS" default:"8"`
	BaseBackoff   time.Duration `envconfig:"MARKETPLACE_QUEUE_BASE_BACKOFF" default:"2s"`
	MaxBackoff    time.Duration `envconfig:"MARKETPLACE_QUEUE_MAX_BACKOFF" default:"5m"`
	PollInterval  time.Duration `envconfig:"MARKETPLACE_QUEUE_POLL_INTERVAL" default:"500ms"`
	LeaseDuration time.Duration `envconfig:"MARKETPLACE_QUEUE_LEASE_DURATION" default:"2m"`
	JobTimeout    time.Duration `envconfig:"MARKETPLACE_QUEUE_JOB_TIMEOUT" default:"60s"`
}

// RateLimitConfig caps unauthenticated traffic per client IP.
type RateLimitConfig struct {
	WebhookWindow   time.Duration `envconfig:"MARKETPLACE_RATE_LIMIT_WEBHOOK_WINDOW" default:"1m"`
	WebhookIPLimit  int64         `envconfig:"MARKETPLACE_RATE_LIMIT_WEBHOOK_IP_LIMIT" default:"300"`
	DownloadWindow  time.Duration `envconfig:"MARKETPLACE_RATE_LIMIT_DOWNLOAD_WINDOW" default:"1m"`
	DownloadIPLimit int64         `envconfig:"MARKETPLACE_RATE_LIMIT_DOWNLOAD_IP_LIMIT" default:"60"`
}

type DeliveryConfig struct {
	GrantTTL      time.Duration `envconfig:"MARKETPLACE_DELIVERY_GRANT_TTL" default:"1h"`
	TokenSecret   string        `envconfig:"MARKETPLACE_DELIVERY_TOKEN_SECRET"`
	PublicBaseURL string        `envconfig:"MARKETPLACE_PUBLIC_BASE_URL" default:"http://localhost:8080"`
	OneTime       bool          `envconfig:"MARKETPLACE_DELIVERY_ONE_TIME" default:"false"`
	// RedemptionsPerMinute caps redemption attempts per grant; 0 disables the limit.
	RedemptionsPerMinute int64 `envconfig:"MARKETPLACE_DELIVERY_REDEMPTIONS_PER_MINUTE" default:"20"`
}

type SendgridConfig struct {
	APIKey      string `envconfig:"MARKETPLACE_SENDGRID_API_KEY"`
	DefaultFrom string `envconfig:"MARKETPLACE_SENDGRID_FROM_EMAIL" default:"orders@marketplace.local"`
	FromName    string `envconfig:"MARKETPLACE_SENDGRID_FROM_NAME" default:"Marketplace"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"MARKETPLACE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"MARKETPLACE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"MARKETPLACE_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type CronConfig struct {
	Interval              time.Duration `envconfig:"MARKETPLACE_CRON_INTERVAL" default:"5m"`
	JobTimeout            time.Duration `envconfig:"MARKETPLACE_CRON_JOB_TIMEOUT" default:"5m"`
	LockTTL               time.Duration `envconfig:"MARKETPLACE_CRON_LOCK_TTL" default:"10m"`
	OutboxRetention       time.Duration `envconfig:"MARKETPLACE_CRON_OUTBOX_RETENTION" default:"720h"`
	JobRetention          time.Duration `envconfig:"MARKETPLACE_CRON_JOB_RETENTION" default:"720h"`
	ExpiredGrantRetention time.Duration `envconfig:"MARKETPLACE_CRON_GRANT_RETENTION" default:"168h"`
	NotificationRetention time.Duration `envconfig:"MARKETPLACE_CRON_NOTIFICATION_RETENTION" default:"2160h"`
}

type MetricsConfig struct {
	Addr string `envconfig:"MARKETPLACE_METRICS_ADDR" default:":9090"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if strings.EqualFold(db.Driver, "sqlite") {
		db.DSN = "file::memory:?cache=shared"
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
