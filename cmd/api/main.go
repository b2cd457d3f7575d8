// Package main is the entry point for the trigger engine API server.
//
// It loads configuration, assembles the stores and the evaluation engine,
// mounts the REST API under the configured base path and starts the
// background loops: sample-driven evaluation with its catch-up sweep, the
// upstream forecast feed, forecast retention and the CloudWatch flusher.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"hyperlocal/internal/api/handlers"
	"hyperlocal/internal/app"
	"hyperlocal/internal/config"
	"hyperlocal/internal/core"
	"hyperlocal/internal/external"
	"hyperlocal/internal/queue"
	"hyperlocal/internal/scheduler"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("trigger engine API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("assembling engine: %w", err)
	}

	srv, err := newServer(a)
	if err != nil {
		_ = a.Close(context.Background())
		return err
	}

	loops, err := newBackgroundLoops(ctx, a)
	if err != nil {
		_ = srv.Shutdown(context.Background())
		return err
	}

	return serve(ctx, srv, loops, cfg, logger)
}

// newServer mounts the API handlers on the core chassis.
func newServer(a *app.App) (*core.Server, error) {
	srv, err := core.NewServer(a.Config, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}
	if a.Metrics != nil {
		srv.Metrics = a.Metrics
	}
	if a.Prometheus != nil {
		srv.MetricsHandler = a.Prometheus.Handler()
	}
	srv.HealthProbes = append(srv.HealthProbes, a.Probes...)
	srv.OnShutdown(a.Close)

	var ingestMetrics handlers.IngestRecorder
	if a.Metrics != nil {
		ingestMetrics = a.Metrics
	}

	locationHandler := handlers.NewLocationHandler(a.Locations, srv.Validator, a.Logger)
	triggerHandler := handlers.NewTriggerHandler(a.Triggers, srv.Validator, a.Logger)
	forecastHandler := handlers.NewForecastHandler(a.Forecasts, ingestMetrics, a.Logger)
	alertHandler := handlers.NewAlertHandler(a.Alerts, a.Logger)

	srv.APIRouteRegistrars = append(srv.APIRouteRegistrars,
		locationHandler.RegisterRoutes,
		triggerHandler.RegisterRoutes,
		forecastHandler.RegisterRoutes,
		alertHandler.RegisterRoutes,
	)

	srv.MountRoutes()
	a.Logger.Debug("routes mounted", "routes", routePatterns(srv))
	return srv, nil
}

// loop is one background goroutine. It must return when ctx ends.
type loop struct {
	name string
	run  func(ctx context.Context) error
}

// newBackgroundLoops creates the evaluation scheduler and installs it as the
// ingest notifier, then lists the periodic jobs enabled by configuration.
func newBackgroundLoops(ctx context.Context, a *app.App) ([]loop, error) {
	cfg := a.Config

	evaluations := scheduler.NewEvaluationScheduler(a.Engine, a.ForecastStore, scheduler.EvaluationConfig{
		QueueSize:    cfg.Engine.QueueSize,
		PollInterval: cfg.Engine.PollInterval(),
	}, a.Logger)
	a.Forecasts.SetNotifier(evaluations)

	retention := scheduler.NewRetentionSweeper(a.ForecastStore, cfg.Engine.Retention(), a.Logger)

	loops := []loop{
		{name: "evaluation", run: evaluations.Run},
		{name: "retention", run: func(ctx context.Context) error {
			return retention.Run(ctx, time.Hour)
		}},
	}

	if cfg.Feed.Enabled() {
		source := external.NewWeatherClient(external.WeatherClientConfig{
			APIKey:  cfg.Feed.APIKey,
			BaseURL: cfg.Feed.BaseURL,
			Timeout: cfg.Feed.Timeout,
		})

		var sink scheduler.SampleIngester = a.Forecasts
		if cfg.Events.IngestQueue != "" {
			awsCfg, err := a.AWS(ctx)
			if err != nil {
				return nil, err
			}
			sink = queue.NewIngestProducer(a.SQSClient(awsCfg), cfg.Events.IngestQueue, source.Provider(), a.Logger)
			a.Logger.Info("feed samples routed through the ingest queue", "queue_url", cfg.Events.IngestQueue)
		}

		var feedMetrics scheduler.FeedMetrics
		if a.Metrics != nil {
			feedMetrics = a.Metrics
		}
		poller := scheduler.NewFeedPoller(source, a.Locations, sink, feedMetrics, cfg.Feed.Concurrency, a.Logger)
		loops = append(loops, loop{name: "feed", run: func(ctx context.Context) error {
			return poller.Run(ctx, cfg.Feed.Interval)
		}})
	} else {
		a.Logger.Info("WEATHER_API_KEY not set, upstream feed disabled")
	}

	if a.CloudWatch != nil {
		loops = append(loops, loop{name: "cloudwatch", run: func(ctx context.Context) error {
			a.CloudWatch.Run(ctx, cfg.Metrics.FlushInterval)
			return nil
		}})
	}

	return loops, nil
}

// serve runs the HTTP server and the background loops until ctx is cancelled
// or one of them fails, then shuts everything down within the configured
// deadline.
func serve(ctx context.Context, srv *core.Server, loops []loop, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, l := range loops {
		l := l
		g.Go(func() error {
			logger.Info("background loop started", "loop", l.name)
			err := l.run(gctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("%s loop: %w", l.name, err)
			}
			logger.Info("background loop stopped", "loop", l.name)
			return nil
		})
	}

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", addr, "base_path", cfg.Server.BasePath)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("initiating graceful shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "error", err)
		}
		return nil
	})

	runErr := g.Wait()

	// Release stores and sinks after every loop has returned.
	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(closeCtx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		if runErr == nil {
			runErr = fmt.Errorf("server shutdown: %w", err)
		}
	}

	if runErr != nil {
		return runErr
	}
	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: false,
	})
	return slog.New(handler)
}

// routePatterns lists the mounted routes as "METHOD /pattern".
func routePatterns(srv *core.Server) []string {
	var patterns []string
	_ = chi.Walk(srv.Router(), func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		patterns = append(patterns, method+" "+route)
		return nil
	})
	return patterns
}
