// Package config defines the process configuration for the trigger engine.
// Configuration is loaded once at startup and is immutable thereafter.
//
// Values are resolved from the OS environment, falling back to a .env file in
// local mode. Any missing required value or invalid format fails startup.
package config

import (
	"time"

	"hyperlocal/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only the
// config subset they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"hyperlocal-engine"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Engine   EngineConfig
	Risk     RiskConfig
	Events   EventsConfig
	AWS      AWSConfig
	Kafka    KafkaConfig
	Metrics  MetricsConfig
	Feed     FeedConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string        `envconfig:"PORT" default:"8080"`
	BasePath           string        `envconfig:"BASE_PATH" default:"/api" validate:"startswith=/"`
	CorsAllowedOrigins []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	RequestTimeout     time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
	ShutdownTimeout    time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
}

// DatabaseConfig holds Postgres connection and pool tuning parameters.
// An empty URL selects the in-memory stores.
type DatabaseConfig struct {
	URL               SecretString  `envconfig:"DATABASE_URL"`
	MaxConns          int32         `envconfig:"DB_MAX_CONNS" default:"10" validate:"min=1"`
	MinConns          int32         `envconfig:"DB_MIN_CONNS" default:"1"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
	EnsureSchema      bool          `envconfig:"DB_ENSURE_SCHEMA" default:"true"`
}

// Enabled reports whether Postgres persistence is configured.
func (d DatabaseConfig) Enabled() bool { return d.URL.IsSet() }

// RedisConfig selects the Redis-backed streak store when Addr is set.
type RedisConfig struct {
	Addr      string        `envconfig:"REDIS_ADDR"`
	Password  SecretString  `envconfig:"REDIS_PASSWORD"`
	DB        int           `envconfig:"REDIS_DB" default:"0"`
	StreakTTL time.Duration `envconfig:"STREAK_TTL" default:"336h"`
}

// Enabled reports whether a Redis address is configured.
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// EngineConfig tunes evaluation scheduling and forecast retention.
type EngineConfig struct {
	PollIntervalSeconds int           `envconfig:"POLL_INTERVAL_SECONDS" default:"300" validate:"min=1"`
	RetentionHours      int           `envconfig:"RETENTION_HOURS" default:"168" validate:"min=1"`
	SampleResolution    time.Duration `envconfig:"SAMPLE_RESOLUTION" default:"1h"`
	MaxSampleGap        time.Duration `envconfig:"MAX_SAMPLE_GAP" default:"3h"`
	Concurrency         int           `envconfig:"EVAL_CONCURRENCY" default:"8" validate:"min=1,max=256"`
	QueueSize           int           `envconfig:"EVAL_QUEUE_SIZE" default:"1024" validate:"min=1"`
}

// PollInterval returns the periodic sweep interval.
func (e EngineConfig) PollInterval() time.Duration {
	return time.Duration(e.PollIntervalSeconds) * time.Second
}

// Retention returns how long forecast samples are kept.
func (e EngineConfig) Retention() time.Duration {
	return time.Duration(e.RetentionHours) * time.Hour
}

// RiskConfig points at an optional YAML file overriding score spans and actions.
type RiskConfig struct {
	PolicyFile string `envconfig:"RISK_POLICY_FILE"`
}

// EventsConfig selects where alert lifecycle events are published.
type EventsConfig struct {
	Sink        string `envconfig:"EVENTS_SINK" default:"log" validate:"oneof=none log sqs kafka"`
	SQSQueueURL string `envconfig:"SQS_ALERT_QUEUE_URL" validate:"omitempty,url"`
	IngestQueue string `envconfig:"SQS_INGEST_QUEUE_URL" validate:"omitempty,url"`
}

// AWSConfig holds regional configuration shared by the AWS clients.
type AWSConfig struct {
	Region      string `envconfig:"AWS_REGION" default:"us-east-1"`
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// KafkaConfig configures the Kafka alert event producer.
type KafkaConfig struct {
	Brokers    []string `envconfig:"KAFKA_BROKERS"`
	AlertTopic string   `envconfig:"KAFKA_ALERT_TOPIC" default:"hyperlocal.alerts"`
}

// MetricsConfig selects the metrics backend.
type MetricsConfig struct {
	Backend       string        `envconfig:"METRICS_BACKEND" default:"prometheus" validate:"oneof=none prometheus cloudwatch"`
	Namespace     string        `envconfig:"METRIC_NAMESPACE" default:"Hyperlocal"`
	FlushInterval time.Duration `envconfig:"METRIC_FLUSH_INTERVAL" default:"60s"`
}

// FeedConfig configures the upstream forecast poller. The poller is disabled
// when no API key is configured.
type FeedConfig struct {
	APIKey      SecretString  `envconfig:"WEATHER_API_KEY"`
	BaseURL     string        `envconfig:"WEATHER_API_BASE_URL" default:"https://api.openweathermap.org/data/2.5" validate:"url"`
	Interval    time.Duration `envconfig:"FEED_INTERVAL" default:"1h"`
	Concurrency int           `envconfig:"FEED_CONCURRENCY" default:"4" validate:"min=1,max=64"`
	Timeout     time.Duration `envconfig:"FEED_TIMEOUT" default:"10s"`
}

// Enabled reports whether the upstream poller should run.
func (f FeedConfig) Enabled() bool { return f.APIKey.IsSet() }

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
	// ErrConsistency indicates settings that are individually valid but
	// cannot be combined.
	ErrConsistency ConfigErrorType = "INCONSISTENT"
)
