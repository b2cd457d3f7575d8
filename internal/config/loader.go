// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC timezone so forecast timestamps never drift.
//  2. Load .env file via godotenv when APP_ENV is local (non-fatal if absent).
//  3. Use envconfig to process struct tags and populate the Config struct.
//  4. Populate BuildInfo from linker-injected variables.
//  5. Validate the struct using go-playground/validator, then cross-field rules.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is a diagnostic error type returned by LoadConfig to aid debugging.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// localEnv is the APP_ENV value that enables .env loading.
const localEnv = "local"

// loaderDeps holds the injectable dependencies for the loader, enabling
// testing without touching the working directory.
type loaderDeps struct {
	lookupEnv  func(key string) (string, bool)
	loadDotenv func(filenames ...string) error
}

func defaultDeps() loaderDeps {
	return loaderDeps{
		lookupEnv:  os.LookupEnv,
		loadDotenv: godotenv.Load,
	}
}

// LoadConfig loads and validates the process configuration.
func LoadConfig() (*Config, error) {
	return loadConfigWithDeps(defaultDeps())
}

func loadConfigWithDeps(deps loaderDeps) (*Config, error) {
	time.Local = time.UTC

	// godotenv does NOT override variables that are already set.
	if appEnv, _ := deps.lookupEnv("APP_ENV"); appEnv == localEnv || appEnv == "" {
		_ = deps.loadDotenv()
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	cfg.Build = NewBuildInfo()
	cfg.Server.BasePath = normalizeBasePath(cfg.Server.BasePath)

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	if err := checkConsistency(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// checkConsistency enforces rules that span several config sections.
func checkConsistency(cfg *Config) error {
	switch cfg.Events.Sink {
	case "sqs":
		if cfg.Events.SQSQueueURL == "" {
			return &ConfigError{Type: ErrConsistency, Message: "EVENTS_SINK=sqs requires SQS_ALERT_QUEUE_URL"}
		}
	case "kafka":
		if len(cfg.Kafka.Brokers) == 0 {
			return &ConfigError{Type: ErrConsistency, Message: "EVENTS_SINK=kafka requires KAFKA_BROKERS"}
		}
	}
	if cfg.Engine.MaxSampleGap < cfg.Engine.SampleResolution {
		return &ConfigError{
			Type:    ErrConsistency,
			Message: fmt.Sprintf("MAX_SAMPLE_GAP (%s) must not be shorter than SAMPLE_RESOLUTION (%s)", cfg.Engine.MaxSampleGap, cfg.Engine.SampleResolution),
		}
	}
	if cfg.Engine.SampleResolution <= 0 {
		return &ConfigError{Type: ErrConsistency, Message: "SAMPLE_RESOLUTION must be positive"}
	}
	return nil
}

// normalizeBasePath strips trailing slashes so routes mount cleanly.
func normalizeBasePath(p string) string {
	p = strings.TrimRight(strings.TrimSpace(p), "/")
	if p == "" {
		return "/"
	}
	return p
}
