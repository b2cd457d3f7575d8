// Package scheduler runs the background loops of the engine: sample-driven
// trigger evaluation with a periodic catch-up sweep, the upstream forecast
// feed and forecast retention.
package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"hyperlocal/internal/engine"
	"hyperlocal/internal/types"
)

// Evaluator re-checks every active trigger at a sample's location.
type Evaluator interface {
	EvaluateSample(ctx context.Context, sample types.ForecastSample) (engine.Report, error)
}

// LatestReader exposes the newest sample of every location holding data.
type LatestReader interface {
	Locations(ctx context.Context) ([]string, error)
	Latest(ctx context.Context, locationID string) (*types.ForecastSample, error)
}

// EvaluationConfig tunes the EvaluationScheduler.
type EvaluationConfig struct {
	QueueSize    int
	PollInterval time.Duration
}

// EvaluationScheduler decouples sample ingestion from evaluation. Ingestion
// enqueues samples through Notify; Run drains the queue on a single goroutine
// and, on every poll tick, re-evaluates the newest sample of each location so
// triggers created after their samples arrived still get evaluated.
type EvaluationScheduler struct {
	eval     Evaluator
	samples  LatestReader
	queue    chan types.ForecastSample
	interval time.Duration
	dropped  atomic.Int64
	logger   *slog.Logger
}

// NewEvaluationScheduler creates an EvaluationScheduler.
func NewEvaluationScheduler(eval Evaluator, samples LatestReader, cfg EvaluationConfig, logger *slog.Logger) *EvaluationScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Minute
	}
	return &EvaluationScheduler{
		eval:     eval,
		samples:  samples,
		queue:    make(chan types.ForecastSample, cfg.QueueSize),
		interval: cfg.PollInterval,
		logger:   logger,
	}
}

// Notify implements forecasts.Notifier. It never blocks: when the queue is
// full the sample is dropped and left to the next sweep.
func (s *EvaluationScheduler) Notify(ctx context.Context, sample types.ForecastSample) {
	select {
	case s.queue <- sample:
	default:
		n := s.dropped.Add(1)
		s.logger.WarnContext(ctx, "evaluation queue full; sample deferred to next sweep",
			"location_id", sample.LocationID,
			"forecast_time", sample.ForecastTime,
			"dropped_total", n,
		)
	}
}

// Dropped reports how many notifications were discarded because the queue
// was full.
func (s *EvaluationScheduler) Dropped() int64 {
	return s.dropped.Load()
}

// Pending reports the number of queued samples.
func (s *EvaluationScheduler) Pending() int {
	return len(s.queue)
}

// Run processes the queue until ctx is cancelled. Samples still queued at
// shutdown are abandoned; the next process start sweeps them.
func (s *EvaluationScheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "evaluation scheduler started",
		"poll_interval", s.interval.String(),
		"queue_size", cap(s.queue),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "evaluation scheduler stopped", "pending", len(s.queue))
			return nil
		case sample := <-s.queue:
			s.evaluate(ctx, sample)
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.ErrorContext(ctx, "evaluation sweep failed", "error", err)
			}
		}
	}
}

// Sweep re-evaluates the newest sample of every location and returns the
// summed report. A failing location is logged and skipped.
func (s *EvaluationScheduler) Sweep(ctx context.Context) (engine.Report, error) {
	var total engine.Report

	ids, err := s.samples.Locations(ctx)
	if err != nil {
		return total, err
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		latest, err := s.samples.Latest(ctx, id)
		if err != nil {
			if !types.IsNotFound(err) {
				s.logger.WarnContext(ctx, "failed to read latest sample", "location_id", id, "error", err)
			}
			continue
		}
		total = merge(total, s.evaluate(ctx, *latest))
	}

	s.logger.DebugContext(ctx, "evaluation sweep complete",
		"locations", len(ids),
		"evaluated", total.Evaluated,
		"opened", total.Opened,
		"failed", total.Failed,
	)
	return total, nil
}

func (s *EvaluationScheduler) evaluate(ctx context.Context, sample types.ForecastSample) engine.Report {
	report, err := s.eval.EvaluateSample(ctx, sample)
	if err != nil {
		s.logger.ErrorContext(ctx, "evaluation failed",
			"location_id", sample.LocationID,
			"forecast_time", sample.ForecastTime,
			"error", err,
		)
	}
	return report
}

// Inline evaluates synchronously on the caller's goroutine. The ingest
// worker uses it so a batch is evaluated before the message is acknowledged.
type Inline struct {
	eval   Evaluator
	logger *slog.Logger
}

// NewInline creates an Inline notifier.
func NewInline(eval Evaluator, logger *slog.Logger) *Inline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inline{eval: eval, logger: logger}
}

// Notify implements forecasts.Notifier.
func (n *Inline) Notify(ctx context.Context, sample types.ForecastSample) {
	if _, err := n.eval.EvaluateSample(ctx, sample); err != nil {
		n.logger.ErrorContext(ctx, "evaluation failed",
			"location_id", sample.LocationID,
			"forecast_time", sample.ForecastTime,
			"error", err,
		)
	}
}

func merge(a, b engine.Report) engine.Report {
	return engine.Report{
		Evaluated:  a.Evaluated + b.Evaluated,
		Opened:     a.Opened + b.Opened,
		Updated:    a.Updated + b.Updated,
		Normalized: a.Normalized + b.Normalized,
		Failed:     a.Failed + b.Failed,
	}
}
