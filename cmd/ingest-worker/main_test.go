package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"hyperlocal/internal/alerts"
	"hyperlocal/internal/app"
	"hyperlocal/internal/config"
	"hyperlocal/internal/locations"
	"hyperlocal/internal/queue"
	"hyperlocal/internal/triggers"
	"hyperlocal/internal/types"
)

type mockIngester struct {
	ingestFn func(ctx context.Context, locationID string, samples []types.ForecastSample) (int, error)
	calls    int
}

func (m *mockIngester) Ingest(ctx context.Context, locationID string, samples []types.ForecastSample) (int, error) {
	m.calls++
	return m.ingestFn(ctx, locationID, samples)
}

type mockRecorder struct {
	sources map[string]int
}

func (m *mockRecorder) RecordIngest(source string, n int) {
	if m.sources == nil {
		m.sources = map[string]int{}
	}
	m.sources[source] += n
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var start = time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)

func messageBody(t *testing.T, locationID string, rainfall ...float64) string {
	t.Helper()
	msg := queue.IngestMessage{BatchID: "batch-1", LocationID: locationID, Source: "openweathermap", SentAt: start}
	for i, r := range rainfall {
		msg.Samples = append(msg.Samples, types.ForecastSample{ForecastTime: start.Add(time.Duration(i) * time.Hour), RainfallAmount: r})
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal message: %v", err)
	}
	return string(raw)
}

func TestHandle_ReportsOnlyTransientFailures(t *testing.T) {
	ingester := &mockIngester{ingestFn: func(_ context.Context, locationID string, samples []types.ForecastSample) (int, error) {
		switch locationID {
		case "loc_unknown":
			return 0, types.NewValidationError(types.ErrCodeValidationUnknownLocation, "location_id", "unknown")
		case "loc_db_down":
			return 0, types.NewAppError(types.ErrCodeInternalDB, "insert failed", errors.New("connection refused"))
		case "loc_plain_err":
			return 0, errors.New("context deadline exceeded")
		}
		return len(samples), nil
	}}
	recorder := &mockRecorder{}
	flushed := 0
	h := &Handler{ingest: ingester, metrics: recorder, flush: func(context.Context) { flushed++ }, logger: discardLogger()}

	resp, err := h.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "m1", Body: messageBody(t, "loc_1", 10, 20)},
		{MessageId: "m2", Body: "not json"},
		{MessageId: "m3", Body: messageBody(t, "loc_unknown", 10)},
		{MessageId: "m4", Body: messageBody(t, "loc_db_down", 10)},
		{MessageId: "m5", Body: messageBody(t, "loc_plain_err", 10)},
	}})
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}

	var failed []string
	for _, f := range resp.BatchItemFailures {
		failed = append(failed, f.ItemIdentifier)
	}
	if strings.Join(failed, ",") != "m4,m5" {
		t.Errorf("BatchItemFailures = %v, want [m4 m5]", failed)
	}
	if ingester.calls != 4 {
		t.Errorf("expected 4 ingest calls, got %d", ingester.calls)
	}
	if recorder.sources["openweathermap"] != 2 {
		t.Errorf("expected 2 samples recorded for openweathermap, got %d", recorder.sources["openweathermap"])
	}
	if flushed != 1 {
		t.Errorf("expected one metrics flush per invocation, got %d", flushed)
	}
}

func memoryApp(t *testing.T) *app.App {
	t.Helper()
	cfg := &config.Config{
		Environment: "local",
		Engine: config.EngineConfig{
			SampleResolution: time.Hour,
			MaxSampleGap:     3 * time.Hour,
			Concurrency:      2,
		},
		Events:  config.EventsConfig{Sink: "none"},
		Metrics: config.MetricsConfig{Backend: "none"},
	}
	a, err := app.Build(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

func TestRunLocal_EvaluatesInline(t *testing.T) {
	ctx := context.Background()
	a := memoryApp(t)
	h := newHandler(a)

	lat, lon := 1.5, 36.8
	loc, err := a.Locations.Register(ctx, locations.CreateRequest{Name: "Nyeri plot", Latitude: &lat, Longitude: &lon})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	threshold := 50.0
	if _, err := a.Triggers.Create(ctx, triggers.CreateRequest{
		LocationID: loc.ID, TriggerType: "rainfall", ThresholdOperator: "gte", ThresholdValue: &threshold, DurationHours: 2,
	}); err != nil {
		t.Fatalf("Create trigger: %v", err)
	}

	event, err := json.Marshal(events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "m1", Body: messageBody(t, loc.ID, 55, 65)},
	}})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}

	if err := runLocal(ctx, h, strings.NewReader(string(event)), discardLogger()); err != nil {
		t.Fatalf("runLocal: %v", err)
	}

	open, err := a.Alerts.List(ctx, alerts.Filter{ActiveOnly: true, LocationID: loc.ID})
	if err != nil {
		t.Fatalf("List alerts: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("expected the batch to open 1 alert before acknowledgement, got %d", len(open))
	}
}

func TestRunLocal_RejectsBadInput(t *testing.T) {
	h := &Handler{ingest: &mockIngester{}, logger: discardLogger()}

	if err := runLocal(context.Background(), h, strings.NewReader(""), discardLogger()); err == nil {
		t.Error("expected error for empty stdin")
	}
	if err := runLocal(context.Background(), h, strings.NewReader("{"), discardLogger()); err == nil {
		t.Error("expected error for malformed event")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
