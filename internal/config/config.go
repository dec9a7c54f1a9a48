package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Kafka    KafkaConfig
	Redis    RedisConfig
	Upstream UpstreamConfig
	Supabase SupabaseConfig
	Stripe   StripeConfig
	Billing  BillingConfig
	Poller   PollerConfig
	Image    ImageConfig
}

type ServerConfig struct {
	Port            string        `env:"PORT" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"5s"`
	MaxRequests     int           `env:"SERVER_MAX_REQUESTS" envDefault:"100"`
	RequestTimeout  time.Duration `env:"SERVER_REQUEST_TIMEOUT" envDefault:"60s"`
	BodyLimit       int           `env:"SERVER_BODY_LIMIT" envDefault:"104857600"` // 100MB
	Environment     string        `env:"GO_ENV" envDefault:"development"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"text"`
}

// DatabaseConfig points at the Postgres profile store. An empty URL leaves
// the ledger routes unconfigured instead of failing startup.
type DatabaseConfig struct {
	URL           string `env:"DATABASE_URL"`
	MigrateOnBoot bool   `env:"DATABASE_MIGRATE" envDefault:"true"`
}

type KafkaConfig struct {
	Broker       string        `env:"KAFKA_BROKER"`
	Topic        string        `env:"KAFKA_TOPIC" envDefault:"rename-jobs"`
	Group        string        `env:"KAFKA_GROUP" envDefault:"rename-job-settlers"`
	RetryMax     int           `env:"KAFKA_RETRY_MAX" envDefault:"5"`
	RetryBackoff time.Duration `env:"KAFKA_RETRY_BACKOFF" envDefault:"500ms"`
}

type RedisConfig struct {
	Addr     string        `env:"REDIS_ADDR"`
	Password string        `env:"REDIS_PASSWORD"`
	DB       int           `env:"REDIS_DB" envDefault:"0"`
	JobTTL   time.Duration `env:"REDIS_JOB_TTL" envDefault:"24h"`
}

// UpstreamConfig describes the external job API. APIKey is the server-held
// credential and is never the end user's token.
type UpstreamConfig struct {
	BaseURL string        `env:"RENAMER_API_BASE"`
	APIKey  string        `env:"JOB_PERSONAL_API_KEY"`
	Timeout time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"120s"`
	// Aggregate request rate shared by every caller in the process.
	RateLimit float64 `env:"UPSTREAM_RATE_LIMIT" envDefault:"10"`
	RateBurst int     `env:"UPSTREAM_RATE_BURST" envDefault:"20"`
}

type SupabaseConfig struct {
	URL        string `env:"SUPABASE_URL"`
	ServiceKey string `env:"SUPABASE_SERVICE_KEY"`
	JWTSecret  string `env:"SUPABASE_JWT_SECRET"`
}

type StripeConfig struct {
	SecretKey        string        `env:"STRIPE_SECRET_KEY"`
	WebhookSecret    string        `env:"STRIPE_WEBHOOK_SECRET"`
	WebhookTolerance time.Duration `env:"STRIPE_WEBHOOK_TOLERANCE" envDefault:"5m"`
}

type BillingConfig struct {
	StartingCredits int   `env:"STARTING_CREDITS" envDefault:"10"`
	Tier1Cents      int64 `env:"CREDIT_TIER1_CENTS" envDefault:"1000"`
	Tier1Credits    int   `env:"CREDIT_TIER1_CREDITS" envDefault:"1000"`
	Tier2Cents      int64 `env:"CREDIT_TIER2_CENTS" envDefault:"10000"`
	Tier2Credits    int   `env:"CREDIT_TIER2_CREDITS" envDefault:"10000"`
}

type PollerConfig struct {
	Interval    time.Duration `env:"POLL_INTERVAL" envDefault:"5s"`
	MaxAttempts int           `env:"POLL_MAX_ATTEMPTS" envDefault:"120"`
	Concurrency int           `env:"WORKER_CONCURRENCY" envDefault:"16"`
	// Unbound holds older than this are refunded by the worker sweep.
	StaleHoldAge  time.Duration `env:"STALE_HOLD_AGE" envDefault:"15m"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
	NotifyURL     string        `env:"JOB_NOTIFY_URL"`
	MetricsAddr   string        `env:"WORKER_METRICS_ADDR" envDefault:":9091"`
}

type ImageConfig struct {
	MinSide   int `env:"IMAGE_MIN_SIDE" envDefault:"224"`
	Tile      int `env:"IMAGE_TILE" envDefault:"28"`
	MaxPixels int `env:"IMAGE_MAX_PIXELS" envDefault:"24000000"`
}

// LoadConfig reads an optional .env file and then the process environment.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// Configured reports whether the proxy can reach the upstream job API.
func (u UpstreamConfig) Configured() bool {
	return u.BaseURL != "" && u.APIKey != ""
}
