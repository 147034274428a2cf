package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Stripe       StripeConfig
	Checkout     CheckoutConfig
	Events       EventsConfig
	PrintJobs    PrintJobsConfig
	Deliverables DeliverablesConfig
	Storage      StorageConfig
	GCP          GCPConfig
	GCS          GCSConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Cron         CronConfig
	RateLimit    RateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Storage.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env           string `envconfig:"FULFILLMENT_APP_ENV" required:"true"`
	Port          string `envconfig:"FULFILLMENT_APP_PORT" required:"true"`
	LogLevel      string `envconfig:"FULFILLMENT_LOG_LEVEL" default:"info"`
	LogWarnStack  bool   `envconfig:"FULFILLMENT_LOG_WARN_STACK" default:"false"`
	PublicBaseURL string `envconfig:"FULFILLMENT_PUBLIC_BASE_URL" default:"http://localhost:8080"`
	// Browser origins allowed to call the user and admin APIs. Empty disables CORS.
	CORSAllowedOrigins []string `envconfig:"FULFILLMENT_CORS_ALLOWED_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"FULFILLMENT_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"FULFILLMENT_DB_DSN"`
	Driver string `envconfig:"FULFILLMENT_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"FULFILLMENT_DB_HOST"`
	LegacyPort     int    `envconfig:"FULFILLMENT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"FULFILLMENT_DB_USER"`
	LegacyPassword string `envconfig:"FULFILLMENT_DB_PASSWORD"`
	LegacyName     string `envconfig:"FULFILLMENT_DB_NAME"`
	LegacySSLMode  string `envconfig:"FULFILLMENT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"FULFILLMENT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"FULFILLMENT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"FULFILLMENT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"FULFILLMENT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"FULFILLMENT_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"FULFILLMENT_REDIS_URL" required:"true"`
	Address      string        `envconfig:"FULFILLMENT_REDIS_ADDR"`
	Password     string        `envconfig:"FULFILLMENT_REDIS_PASSWORD"`
	DB           int           `envconfig:"FULFILLMENT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"FULFILLMENT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"FULFILLMENT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"FULFILLMENT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"FULFILLMENT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"FULFILLMENT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string        `envconfig:"FULFILLMENT_JWT_SECRET" required:"true"`
	Issuer            string        `envconfig:"FULFILLMENT_JWT_ISSUER" required:"true"`
	ExpirationMinutes int           `envconfig:"FULFILLMENT_JWT_EXPIRATION_MINUTES" default:"60"`
	Leeway            time.Duration `envconfig:"FULFILLMENT_JWT_LEEWAY" default:"30s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"FULFILLMENT_AUTO_MIGRATE" default:"false"`
}

type StripeConfig struct {
	APIKey string `envconfig:"FULFILLMENT_STRIPE_API_KEY"`
	Secret string `envconfig:"FULFILLMENT_STRIPE_SECRET"`
	Env    string `envconfig:"FULFILLMENT_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

// CheckoutConfig maps purchase purposes to provider prices and redirect URLs.
type CheckoutConfig struct {
	SuccessURL          string `envconfig:"FULFILLMENT_CHECKOUT_SUCCESS_URL" default:"http://localhost:3000/checkout/success"`
	CancelURL           string `envconfig:"FULFILLMENT_CHECKOUT_CANCEL_URL" default:"http://localhost:3000/checkout/cancel"`
	ListingUnlockPrice  string `envconfig:"FULFILLMENT_PRICE_LISTING_UNLOCK"`
	SignPrice           string `envconfig:"FULFILLMENT_PRICE_SIGN"`
	SmartSignPrice      string `envconfig:"FULFILLMENT_PRICE_SMART_SIGN"`
	ListingKitPrice     string `envconfig:"FULFILLMENT_PRICE_LISTING_KIT"`
	SubscriptionPriceID string `envconfig:"FULFILLMENT_PRICE_SUBSCRIPTION"`
}

// PriceFor returns the configured provider price for a purchase purpose.
func (c CheckoutConfig) PriceFor(purpose string) string {
	switch purpose {
	case "listing_unlock":
		return c.ListingUnlockPrice
	case "sign":
		return c.SignPrice
	case "smart_sign":
		return c.SmartSignPrice
	case "listing_kit":
		return c.ListingKitPrice
	case "subscription":
		return c.SubscriptionPriceID
	}
	return ""
}

type EventsConfig struct {
	ProcessingLease time.Duration `envconfig:"FULFILLMENT_EVENTS_PROCESSING_LEASE" default:"10m"`
}

type PrintJobsConfig struct {
	WorkerToken  string        `envconfig:"FULFILLMENT_PRINT_WORKER_TOKEN"`
	LeaseTimeout time.Duration `envconfig:"FULFILLMENT_PRINT_LEASE_TIMEOUT" default:"10m"`
	DefaultClaim int           `envconfig:"FULFILLMENT_PRINT_CLAIM_DEFAULT" default:"10"`
	MaxClaim     int           `envconfig:"FULFILLMENT_PRINT_CLAIM_MAX" default:"50"`
}

type DeliverablesConfig struct {
	BatchSize      int           `envconfig:"FULFILLMENT_DELIVERABLES_BATCH_SIZE" default:"5"`
	PollIntervalMS int           `envconfig:"FULFILLMENT_DELIVERABLES_POLL_MS" default:"2000"`
	LeaseDuration  time.Duration `envconfig:"FULFILLMENT_DELIVERABLES_LEASE" default:"5m"`
	MaxAttempts    int           `envconfig:"FULFILLMENT_DELIVERABLES_MAX_ATTEMPTS" default:"5"`
	BackoffBase    time.Duration `envconfig:"FULFILLMENT_DELIVERABLES_BACKOFF_BASE" default:"60s"`
	BackoffMax     time.Duration `envconfig:"FULFILLMENT_DELIVERABLES_BACKOFF_MAX" default:"1h"`
}

type StorageConfig struct {
	Driver    string `envconfig:"FULFILLMENT_STORAGE_DRIVER" default:"local"`
	LocalRoot string `envconfig:"FULFILLMENT_STORAGE_LOCAL_ROOT" default:"./var/artifacts"`
}

func (s StorageConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(s.Driver)) {
	case StorageDriverLocal, StorageDriverGCS:
		return nil
	default:
		return fmt.Errorf("%s must be %q or %q", EnvStorageDriver, StorageDriverLocal, StorageDriverGCS)
	}
}

// UsesGCS reports whether artifacts live in a GCS bucket.
func (s StorageConfig) UsesGCS() bool {
	return strings.EqualFold(strings.TrimSpace(s.Driver), StorageDriverGCS)
}

type GCPConfig struct {
	ProjectID              string `envconfig:"FULFILLMENT_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"FULFILLMENT_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"FULFILLMENT_GOOGLE_APPLICATION_CREDENTIALS"`
}

type GCSConfig struct {
	BucketName string `envconfig:"FULFILLMENT_GCS_BUCKET_NAME"`
}

type PubSubConfig struct {
	FulfillmentTopic        string `envconfig:"FULFILLMENT_PUBSUB_FULFILLMENT_TOPIC" default:"fulfillment-events"`
	FulfillmentSubscription string `envconfig:"FULFILLMENT_PUBSUB_FULFILLMENT_SUBSCRIPTION"`
	OperatorTopic           string `envconfig:"FULFILLMENT_PUBSUB_OPERATOR_TOPIC" default:"fulfillment-operator-alerts"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"FULFILLMENT_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"FULFILLMENT_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"FULFILLMENT_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Concurrency    int `envconfig:"FULFILLMENT_OUTBOX_PUBLISH_CONCURRENCY" default:"8"`
}

type CronConfig struct {
	Interval      time.Duration `envconfig:"FULFILLMENT_CRON_INTERVAL" default:"5m"`
	OutboxKeepFor time.Duration `envconfig:"FULFILLMENT_CRON_OUTBOX_RETENTION" default:"720h"`
	DLQKeepFor    time.Duration `envconfig:"FULFILLMENT_CRON_DLQ_RETENTION" default:"2160h"`
}

// RateLimitConfig bounds unauthenticated code scans per client IP and claim
// polling per print worker. A zero limit disables the policy.
type RateLimitConfig struct {
	Window         time.Duration `envconfig:"FULFILLMENT_RATE_LIMIT_WINDOW" default:"1m"`
	ResolvePerIP   int           `envconfig:"FULFILLMENT_RATE_LIMIT_RESOLVE_PER_IP" default:"120"`
	ClaimPerWorker int           `envconfig:"FULFILLMENT_RATE_LIMIT_CLAIM_PER_WORKER" default:"30"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
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
