package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"hyperlocal/internal/locations"
	"hyperlocal/internal/types"
)

// ForecastSource fetches upstream forecast samples for a coordinate pair.
type ForecastSource interface {
	Provider() string
	GetForecast(ctx context.Context, lat, lon float64) ([]types.ForecastSample, error)
}

// LocationLister enumerates registered locations.
type LocationLister interface {
	List(ctx context.Context, f locations.Filter) ([]types.Location, error)
}

// SampleIngester accepts a batch of samples for one location.
type SampleIngester interface {
	Ingest(ctx context.Context, locationID string, samples []types.ForecastSample) (int, error)
}

// FeedMetrics records feed activity.
type FeedMetrics interface {
	RecordFeedFetch(result string)
	RecordIngest(source string, n int)
}

// FeedReport summarizes one poll cycle.
type FeedReport struct {
	Locations int
	Samples   int
	Failed    int
}

// FeedPoller refreshes every registered location from an upstream forecast
// provider. Fetches run in parallel up to the configured concurrency; one
// location failing does not affect the others.
type FeedPoller struct {
	source      ForecastSource
	locations   LocationLister
	ingest      SampleIngester
	metrics     FeedMetrics
	concurrency int
	logger      *slog.Logger
}

// NewFeedPoller creates a FeedPoller. metrics may be nil.
func NewFeedPoller(source ForecastSource, locs LocationLister, ingest SampleIngester, metrics FeedMetrics, concurrency int, logger *slog.Logger) *FeedPoller {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &FeedPoller{
		source:      source,
		locations:   locs,
		ingest:      ingest,
		metrics:     metrics,
		concurrency: concurrency,
		logger:      logger,
	}
}

// PollOnce fetches and ingests forecasts for all locations. Only a failure
// to list locations is returned; per-location failures are counted.
func (p *FeedPoller) PollOnce(ctx context.Context) (FeedReport, error) {
	var report FeedReport

	locs, err := p.locations.List(ctx, locations.Filter{})
	if err != nil {
		return report, err
	}
	report.Locations = len(locs)

	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for _, loc := range locs {
		loc := loc
		g.Go(func() error {
			n, err := p.refresh(gCtx, loc)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed++
				return nil
			}
			report.Samples += n
			return nil
		})
	}
	_ = g.Wait()

	p.logger.InfoContext(ctx, "forecast feed cycle complete",
		"provider", p.source.Provider(),
		"locations", report.Locations,
		"samples", report.Samples,
		"failed", report.Failed,
	)
	return report, nil
}

func (p *FeedPoller) refresh(ctx context.Context, loc types.Location) (int, error) {
	samples, err := p.source.GetForecast(ctx, loc.Latitude, loc.Longitude)
	if err != nil {
		p.record("error")
		p.logger.WarnContext(ctx, "forecast fetch failed",
			"provider", p.source.Provider(),
			"location_id", loc.ID,
			"error", err,
		)
		return 0, err
	}
	if len(samples) > types.MaxSampleBatch {
		samples = samples[:types.MaxSampleBatch]
	}
	for i := range samples {
		samples[i].LocationID = loc.ID
	}
	if len(samples) == 0 {
		p.record("empty")
		return 0, nil
	}

	n, err := p.ingest.Ingest(ctx, loc.ID, samples)
	if err != nil {
		p.record("rejected")
		p.logger.WarnContext(ctx, "forecast ingest failed",
			"location_id", loc.ID,
			"error", err,
		)
		return 0, err
	}
	p.record("success")
	if p.metrics != nil {
		p.metrics.RecordIngest("feed", n)
	}
	return n, nil
}

func (p *FeedPoller) record(result string) {
	if p.metrics != nil {
		p.metrics.RecordFeedFetch(result)
	}
}

// Run polls once immediately and then every interval until ctx is done.
func (p *FeedPoller) Run(ctx context.Context, interval time.Duration) error {
	return every(ctx, interval, true, func(ctx context.Context) {
		if _, err := p.PollOnce(ctx); err != nil {
			p.logger.ErrorContext(ctx, "forecast feed cycle failed", "error", err)
		}
	})
}

// every runs fn on each tick until ctx is cancelled, optionally once up front.
func every(ctx context.Context, interval time.Duration, immediate bool, fn func(context.Context)) error {
	if immediate {
		fn(ctx)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn(ctx)
		}
	}
}
