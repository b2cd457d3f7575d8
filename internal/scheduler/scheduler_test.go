package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"hyperlocal/internal/engine"
	"hyperlocal/internal/locations"
	"hyperlocal/internal/types"
)

var t0 = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ============================================================
// Mock Implementations
// ============================================================

type mockEvaluator struct {
	mu      sync.Mutex
	samples []types.ForecastSample
	err     error
	report  engine.Report
	seen    chan struct{}
}

func (m *mockEvaluator) EvaluateSample(_ context.Context, s types.ForecastSample) (engine.Report, error) {
	m.mu.Lock()
	m.samples = append(m.samples, s)
	m.mu.Unlock()
	if m.seen != nil {
		m.seen <- struct{}{}
	}
	return m.report, m.err
}

func (m *mockEvaluator) calls() []types.ForecastSample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.ForecastSample(nil), m.samples...)
}

type mockLatest struct {
	latest map[string]types.ForecastSample
	err    error
}

func (m *mockLatest) Locations(context.Context) ([]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	ids := make([]string, 0, len(m.latest))
	for id := range m.latest {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *mockLatest) Latest(_ context.Context, id string) (*types.ForecastSample, error) {
	s, ok := m.latest[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundForecast, "none", nil)
	}
	return &s, nil
}

type mockSource struct {
	samples map[float64][]types.ForecastSample // keyed by latitude
	fail    map[float64]error
}

func (m *mockSource) Provider() string { return "mock" }

func (m *mockSource) GetForecast(_ context.Context, lat, _ float64) ([]types.ForecastSample, error) {
	if err := m.fail[lat]; err != nil {
		return nil, err
	}
	return append([]types.ForecastSample(nil), m.samples[lat]...), nil
}

type mockLocations struct {
	locs []types.Location
	err  error
}

func (m *mockLocations) List(context.Context, locations.Filter) ([]types.Location, error) {
	return m.locs, m.err
}

type mockIngester struct {
	mu      sync.Mutex
	batches map[string][]types.ForecastSample
	err     error
}

func (m *mockIngester) Ingest(_ context.Context, id string, samples []types.ForecastSample) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.batches == nil {
		m.batches = map[string][]types.ForecastSample{}
	}
	m.batches[id] = samples
	return len(samples), nil
}

type mockFeedMetrics struct {
	mu      sync.Mutex
	fetches map[string]int
	ingests int
}

func (m *mockFeedMetrics) RecordFeedFetch(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetches == nil {
		m.fetches = map[string]int{}
	}
	m.fetches[result]++
}

func (m *mockFeedMetrics) RecordIngest(_ string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ingests += n
}

type mockPruner struct {
	before time.Time
	n      int
	err    error
}

func (m *mockPruner) Prune(_ context.Context, before time.Time) (int, error) {
	m.before = before
	return m.n, m.err
}

// ============================================================
// EvaluationScheduler
// ============================================================

func TestNotifyDropsWhenQueueFull(t *testing.T) {
	s := NewEvaluationScheduler(&mockEvaluator{}, &mockLatest{}, EvaluationConfig{QueueSize: 2}, quietLogger())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		s.Notify(ctx, types.ForecastSample{LocationID: "loc_1", ForecastTime: t0.Add(time.Duration(i) * time.Hour)})
	}

	if got := s.Pending(); got != 2 {
		t.Errorf("expected 2 pending, got %d", got)
	}
	if got := s.Dropped(); got != 3 {
		t.Errorf("expected 3 dropped, got %d", got)
	}
}

func TestRunDrainsQueueInOrder(t *testing.T) {
	eval := &mockEvaluator{seen: make(chan struct{}, 8)}
	s := NewEvaluationScheduler(eval, &mockLatest{}, EvaluationConfig{QueueSize: 8, PollInterval: time.Hour}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	for i := 0; i < 3; i++ {
		s.Notify(ctx, types.ForecastSample{LocationID: "loc_1", ForecastTime: t0.Add(time.Duration(i) * time.Hour)})
	}
	for i := 0; i < 3; i++ {
		select {
		case <-eval.seen:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for evaluation")
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}

	calls := eval.calls()
	if len(calls) != 3 {
		t.Fatalf("expected 3 evaluations, got %d", len(calls))
	}
	for i, c := range calls {
		if !c.ForecastTime.Equal(t0.Add(time.Duration(i) * time.Hour)) {
			t.Errorf("evaluation %d out of order: %v", i, c.ForecastTime)
		}
	}
}

func TestSweepEvaluatesLatestPerLocation(t *testing.T) {
	eval := &mockEvaluator{report: engine.Report{Evaluated: 2, Opened: 1}}
	latest := &mockLatest{latest: map[string]types.ForecastSample{
		"loc_a": {LocationID: "loc_a", ForecastTime: t0},
		"loc_b": {LocationID: "loc_b", ForecastTime: t0.Add(time.Hour)},
	}}
	s := NewEvaluationScheduler(eval, latest, EvaluationConfig{}, quietLogger())

	report, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if report.Evaluated != 4 || report.Opened != 2 {
		t.Errorf("unexpected merged report %+v", report)
	}
	calls := eval.calls()
	if len(calls) != 2 || calls[0].LocationID != "loc_a" || calls[1].LocationID != "loc_b" {
		t.Errorf("unexpected evaluations %+v", calls)
	}
}

func TestSweepContinuesPastEvaluationError(t *testing.T) {
	eval := &mockEvaluator{err: errors.New("list failed")}
	latest := &mockLatest{latest: map[string]types.ForecastSample{
		"loc_a": {LocationID: "loc_a", ForecastTime: t0},
		"loc_b": {LocationID: "loc_b", ForecastTime: t0},
	}}
	s := NewEvaluationScheduler(eval, latest, EvaluationConfig{}, quietLogger())

	if _, err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if got := len(eval.calls()); got != 2 {
		t.Errorf("expected both locations evaluated, got %d", got)
	}
}

func TestSweepReturnsListError(t *testing.T) {
	s := NewEvaluationScheduler(&mockEvaluator{}, &mockLatest{err: errors.New("db down")}, EvaluationConfig{}, quietLogger())
	if _, err := s.Sweep(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestInlineEvaluatesImmediately(t *testing.T) {
	eval := &mockEvaluator{}
	n := NewInline(eval, quietLogger())
	n.Notify(context.Background(), types.ForecastSample{LocationID: "loc_1", ForecastTime: t0})
	if got := len(eval.calls()); got != 1 {
		t.Errorf("expected 1 evaluation, got %d", got)
	}
}

// ============================================================
// FeedPoller
// ============================================================

func TestFeedPollerIngestsPerLocation(t *testing.T) {
	source := &mockSource{
		samples: map[float64][]types.ForecastSample{
			1: {{ForecastTime: t0, RainfallAmount: 3}, {ForecastTime: t0.Add(time.Hour)}},
			2: {{ForecastTime: t0}},
		},
		fail: map[float64]error{3: types.NewAppError(types.ErrCodeUpstreamUnavailable, "down", nil)},
	}
	locs := &mockLocations{locs: []types.Location{
		{ID: "loc_1", Latitude: 1},
		{ID: "loc_2", Latitude: 2},
		{ID: "loc_3", Latitude: 3},
	}}
	ingest := &mockIngester{}
	metrics := &mockFeedMetrics{}

	p := NewFeedPoller(source, locs, ingest, metrics, 2, quietLogger())
	report, err := p.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("PollOnce: %v", err)
	}

	if report.Locations != 3 || report.Samples != 3 || report.Failed != 1 {
		t.Errorf("unexpected report %+v", report)
	}
	got := ingest.batches["loc_1"]
	if len(got) != 2 || got[0].LocationID != "loc_1" || got[1].LocationID != "loc_1" {
		t.Errorf("samples not stamped with location id: %+v", got)
	}
	if metrics.fetches["success"] != 2 || metrics.fetches["error"] != 1 {
		t.Errorf("unexpected fetch metrics %v", metrics.fetches)
	}
	if metrics.ingests != 3 {
		t.Errorf("expected 3 ingested samples recorded, got %d", metrics.ingests)
	}
}

func TestFeedPollerCountsRejectedIngest(t *testing.T) {
	source := &mockSource{samples: map[float64][]types.ForecastSample{1: {{ForecastTime: t0}}}}
	locs := &mockLocations{locs: []types.Location{{ID: "loc_1", Latitude: 1}}}
	ingest := &mockIngester{err: types.NewAppError(types.ErrCodeValidationUnknownLocation, "gone", nil)}
	metrics := &mockFeedMetrics{}

	report, err := NewFeedPoller(source, locs, ingest, metrics, 1, quietLogger()).PollOnce(context.Background())
	if err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if report.Failed != 1 || metrics.fetches["rejected"] != 1 {
		t.Errorf("expected one rejected location, got %+v %v", report, metrics.fetches)
	}
}

func TestFeedPollerSkipsEmptyForecast(t *testing.T) {
	source := &mockSource{}
	locs := &mockLocations{locs: []types.Location{{ID: "loc_1", Latitude: 1}}}
	ingest := &mockIngester{}

	report, err := NewFeedPoller(source, locs, ingest, nil, 1, quietLogger()).PollOnce(context.Background())
	if err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if report.Samples != 0 || report.Failed != 0 || len(ingest.batches) != 0 {
		t.Errorf("empty forecast should be a no-op, got %+v", report)
	}
}

func TestFeedPollerListError(t *testing.T) {
	p := NewFeedPoller(&mockSource{}, &mockLocations{err: errors.New("db down")}, &mockIngester{}, nil, 1, quietLogger())
	if _, err := p.PollOnce(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

// ============================================================
// RetentionSweeper
// ============================================================

func TestRetentionSweepUsesCutoff(t *testing.T) {
	store := &mockPruner{n: 12}
	r := NewRetentionSweeper(store, 168*time.Hour, quietLogger())
	r.SetClock(types.NewFixedClock(t0))

	n, err := r.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 12 {
		t.Errorf("expected 12 pruned, got %d", n)
	}
	if want := t0.Add(-168 * time.Hour); !store.before.Equal(want) {
		t.Errorf("expected cutoff %v, got %v", want, store.before)
	}
}

func TestRetentionSweepPropagatesError(t *testing.T) {
	r := NewRetentionSweeper(&mockPruner{err: errors.New("boom")}, time.Hour, quietLogger())
	if _, err := r.Sweep(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestEveryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var runs int
	done := make(chan error, 1)
	go func() {
		done <- every(ctx, time.Hour, true, func(context.Context) {
			runs++
			cancel()
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("every did not stop after cancel")
	}
	if runs != 1 {
		t.Errorf("expected one immediate run, got %d", runs)
	}
}
