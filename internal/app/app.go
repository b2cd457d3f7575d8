// Package app assembles the engine from configuration. The API server and the
// ingest worker share this wiring so both processes see the same stores,
// sinks and metrics backend.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/redis/go-redis/v9"

	"hyperlocal/internal/alerts"
	"hyperlocal/internal/config"
	"hyperlocal/internal/core"
	"hyperlocal/internal/db"
	"hyperlocal/internal/engine"
	"hyperlocal/internal/events"
	"hyperlocal/internal/forecasts"
	"hyperlocal/internal/locations"
	"hyperlocal/internal/metrics"
	"hyperlocal/internal/risk"
	"hyperlocal/internal/triggers"
)

// Collector is the union of the metric hooks the components record through.
// Both metrics backends implement it.
type Collector interface {
	core.MetricsCollector
	engine.Metrics
	RecordIngest(source string, n int)
	RecordFeedFetch(result string)
}

// App holds the assembled components. Fields are read-only after Build.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Locations     *locations.Registry
	Triggers      *triggers.Registry
	Alerts        *alerts.Service
	Forecasts     *forecasts.Service
	ForecastStore forecasts.Store
	Engine        *engine.Engine

	// Metrics is nil when METRICS_BACKEND=none.
	Metrics    Collector
	Prometheus *metrics.PrometheusCollector
	CloudWatch *metrics.CloudWatchCollector

	Probes []core.HealthProbe

	awsCfg  *aws.Config
	closers []func(ctx context.Context) error
}

// stores groups the persistence backends chosen by configuration. The
// location registry is built alongside them since the in-memory forecast
// store checks locations through it.
type stores struct {
	triggers  triggers.Repository
	alerts    alerts.Store
	forecasts forecasts.Store
	streaks   engine.StreakStore
	purgers   []locations.Purger
}

// Build wires every component. On error, resources opened so far are closed.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (a *App, err error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	a = &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = a.Close(closeCtx)
		}
	}()

	policy := risk.DefaultPolicy()
	if cfg.Risk.PolicyFile != "" {
		policy, err = risk.LoadPolicyFile(cfg.Risk.PolicyFile)
		if err != nil {
			return nil, fmt.Errorf("loading risk policy: %w", err)
		}
		logger.Info("risk policy loaded", "path", cfg.Risk.PolicyFile)
	}
	scorer := risk.NewScorer(policy)

	if err := a.buildMetrics(ctx); err != nil {
		return nil, err
	}

	publisher, err := a.buildPublisher(ctx)
	if err != nil {
		return nil, err
	}

	st, err := a.buildStores(ctx)
	if err != nil {
		return nil, err
	}

	a.Triggers = triggers.NewRegistry(st.triggers, a.Locations, logger)
	a.Alerts = alerts.NewService(st.alerts, publisher, logger)
	a.Locations.SetGuards(a.Triggers, a.Alerts)
	for _, p := range st.purgers {
		a.Locations.AddPurger(p)
	}

	deps := engine.Deps{
		Triggers:  a.Triggers,
		Samples:   st.forecasts,
		Alerts:    st.alerts,
		Streaks:   st.streaks,
		Scorer:    scorer,
		Actions:   risk.NewActionTable(policy),
		Publisher: publisher,
	}
	if a.Metrics != nil {
		deps.Metrics = a.Metrics
	}
	a.Engine = engine.New(engine.Config{
		SampleResolution: cfg.Engine.SampleResolution,
		MaxSampleGap:     cfg.Engine.MaxSampleGap,
		Concurrency:      cfg.Engine.Concurrency,
	}, deps, logger)
	a.Triggers.SetStreakResetter(a.Engine)

	a.ForecastStore = st.forecasts
	// The notifier is installed by the process: the API server uses the
	// background scheduler, the ingest worker evaluates inline.
	a.Forecasts = forecasts.NewService(st.forecasts, a.Locations, a.Triggers, scorer, nil, logger)

	return a, nil
}

func (a *App) buildStores(ctx context.Context) (stores, error) {
	cfg := a.Config
	var st stores

	if cfg.Database.Enabled() {
		pool, err := db.NewPool(ctx, cfg.Database)
		if err != nil {
			return st, fmt.Errorf("connecting to database: %w", err)
		}
		a.OnClose(func(context.Context) error {
			pool.Close()
			return nil
		})
		if cfg.Database.EnsureSchema {
			if err := db.EnsureSchema(ctx, pool); err != nil {
				return st, fmt.Errorf("applying schema: %w", err)
			}
		}
		a.Probes = append(a.Probes, core.ProbeFunc{ProbeName: "database", Fn: pool.Ping})

		// Rows owned by a location cascade on delete, so no purgers are needed.
		a.Locations = locations.NewRegistry(db.NewLocationRepository(pool), a.Logger)
		st.triggers = db.NewTriggerRepository(pool)
		st.alerts = db.NewAlertRepository(pool)
		st.forecasts = db.NewForecastRepository(pool)
		st.streaks = db.NewStreakRepository(pool)
		a.Logger.Info("using postgres stores")
	} else {
		a.Locations = locations.NewRegistry(locations.NewMemoryRepository(), a.Logger)
		trgRepo := triggers.NewMemoryRepository()
		alertStore := alerts.NewMemoryStore()
		forecastStore := forecasts.NewMemoryStore(a.Locations)

		st.triggers = trgRepo
		st.alerts = alertStore
		st.forecasts = forecastStore
		st.streaks = engine.NewMemoryStreakStore()
		st.purgers = []locations.Purger{forecastStore, alertStore, trgRepo}
		a.Logger.Warn("DATABASE_URL not set, using in-memory stores")
	}

	if cfg.Redis.Enabled() {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password.Unmask(),
			DB:       cfg.Redis.DB,
		})
		a.OnClose(func(context.Context) error { return client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			return st, fmt.Errorf("connecting to redis: %w", err)
		}
		a.Probes = append(a.Probes, core.ProbeFunc{ProbeName: "redis", Fn: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}})
		st.streaks = engine.NewRedisStreakStore(client, cfg.Redis.StreakTTL)
		a.Logger.Info("using redis streak store", "addr", cfg.Redis.Addr)
	}

	return st, nil
}

func (a *App) buildPublisher(ctx context.Context) (events.Publisher, error) {
	cfg := a.Config
	switch cfg.Events.Sink {
	case "sqs":
		awsCfg, err := a.AWS(ctx)
		if err != nil {
			return nil, err
		}
		return events.NewSQSPublisher(a.SQSClient(awsCfg), cfg.Events.SQSQueueURL, a.Logger), nil
	case "kafka":
		pub := events.NewKafkaPublisher(events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.AlertTopic), a.Logger)
		a.OnClose(func(context.Context) error { return pub.Close() })
		return pub, nil
	case "log":
		return events.NewLogPublisher(a.Logger), nil
	default:
		return events.Noop{}, nil
	}
}

func (a *App) buildMetrics(ctx context.Context) error {
	cfg := a.Config
	switch cfg.Metrics.Backend {
	case "prometheus":
		a.Prometheus = metrics.NewPrometheusCollector()
		a.Metrics = a.Prometheus
	case "cloudwatch":
		awsCfg, err := a.AWS(ctx)
		if err != nil {
			return err
		}
		client := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		a.CloudWatch = metrics.NewCloudWatchCollector(client, cfg.Metrics.Namespace, a.Logger)
		a.Metrics = a.CloudWatch
		a.OnClose(func(ctx context.Context) error {
			a.CloudWatch.Flush(ctx)
			return nil
		})
	}
	return nil
}

// AWS loads the shared SDK configuration once.
func (a *App) AWS(ctx context.Context) (aws.Config, error) {
	if a.awsCfg != nil {
		return *a.awsCfg, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(a.Config.AWS.Region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	a.awsCfg = &awsCfg
	return awsCfg, nil
}

// SQSClient builds an SQS client honouring AWS_ENDPOINT_URL for local stacks.
func (a *App) SQSClient(awsCfg aws.Config) *sqs.Client {
	return sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if a.Config.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(a.Config.AWS.EndpointURL)
		}
	})
}

// OnClose registers a release hook. Hooks run in reverse order.
func (a *App) OnClose(fn func(ctx context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close releases every resource opened by Build.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
