// Package main is the entrypoint for the forecast ingest worker Lambda.
//
// The worker consumes the forecast ingest queue fed by the API's upstream
// poller. Each message carries one batch of samples for one location; the
// batch is stored and every active trigger at the location is evaluated
// inline before the message is acknowledged.
//
// Cold start (main):
//  1. Load configuration and initialize the structured logger.
//  2. Assemble stores, sinks and the evaluation engine.
//  3. Install an inline evaluation notifier on the forecast service.
//  4. Register the handler and call lambda.Start.
//
// With APP_ENV=local the worker reads one SQS event from stdin instead.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"hyperlocal/internal/app"
	"hyperlocal/internal/config"
	"hyperlocal/internal/scheduler"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	logger.Info("ingest worker initializing (cold start)",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
	)
	if !cfg.Database.Enabled() {
		logger.Warn("DATABASE_URL not set, samples will not outlive this process")
	}

	ctx := context.Background()
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("assembling engine: %w", err)
	}
	defer a.Close(ctx)

	handler := newHandler(a)

	if cfg.Environment == "local" {
		return runLocal(ctx, handler, os.Stdin, logger)
	}

	lambda.Start(handler.Handle)
	return nil
}

// newHandler wires the forecast service for synchronous evaluation.
func newHandler(a *app.App) *Handler {
	a.Forecasts.SetNotifier(scheduler.NewInline(a.Engine, a.Logger))

	h := &Handler{ingest: a.Forecasts, logger: a.Logger}
	if a.Metrics != nil {
		h.metrics = a.Metrics
	}
	if a.CloudWatch != nil {
		h.flush = a.CloudWatch.Flush
	}
	return h
}

// runLocal reads a JSON SQS event from r and processes it once.
// Usage: echo '{"Records":[{"messageId":"1","body":"{...}"}]}' | go run ./cmd/ingest-worker
func runLocal(ctx context.Context, h *Handler, r io.Reader, logger *slog.Logger) error {
	logger.Info("APP_ENV=local: reading SQS event from stdin")
	payload, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}
	if len(payload) == 0 {
		return fmt.Errorf("no input received on stdin")
	}

	var sqsEvent events.SQSEvent
	if err := json.Unmarshal(payload, &sqsEvent); err != nil {
		return fmt.Errorf("parsing stdin as SQS event: %w", err)
	}

	response, err := h.Handle(ctx, sqsEvent)
	if err != nil {
		return fmt.Errorf("handler execution failed: %w", err)
	}
	if len(response.BatchItemFailures) > 0 {
		logger.Warn("handler reported partial failures",
			"failed_count", len(response.BatchItemFailures),
		)
		respJSON, _ := json.MarshalIndent(response, "", "  ")
		fmt.Fprintln(os.Stderr, string(respJSON))
	}
	logger.Info("handler execution completed",
		"records_processed", len(sqsEvent.Records),
		"failures", len(response.BatchItemFailures),
	)
	return nil
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
