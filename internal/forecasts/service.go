package forecasts

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"hyperlocal/internal/types"
)

// DefaultQueryLimit caps a forecast listing when the caller gives no limit.
const DefaultQueryLimit = 168

// MaxQueryLimit is the largest accepted limit.
const MaxQueryLimit = 24 * 16

// TriggerLister returns the active triggers bound to a location.
type TriggerLister interface {
	ListActive(ctx context.Context, locationID string) ([]types.Trigger, error)
}

// RiskScorer scores a sample against a set of triggers.
type RiskScorer interface {
	MaxScore(sample types.ForecastSample, triggers []types.Trigger) float64
}

// Notifier is told about every accepted sample, in ascending time order.
type Notifier interface {
	Notify(ctx context.Context, sample types.ForecastSample)
}

// ForecastQuery selects a window of samples. A zero From means the start of
// the current hour.
type ForecastQuery struct {
	From  time.Time
	To    time.Time
	Limit int
}

// Service is the entry point for sample ingestion and forecast reads.
type Service struct {
	store     Store
	locations LocationChecker
	triggers  TriggerLister
	scorer    RiskScorer
	notifier  Notifier
	clock     types.Clock
	logger    *slog.Logger
}

// NewService creates a Service. notifier may be nil when evaluation is wired
// elsewhere.
func NewService(store Store, locations LocationChecker, triggers TriggerLister, scorer RiskScorer, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		locations: locations,
		triggers:  triggers,
		scorer:    scorer,
		notifier:  notifier,
		clock:     types.RealClock{},
		logger:    logger,
	}
}

// SetClock overrides the time source used for default query windows.
func (s *Service) SetClock(c types.Clock) {
	s.clock = c
}

// SetNotifier wires the evaluation scheduler after construction.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// Ingest validates and stores samples for one location, then notifies the
// evaluator. Samples without a location_id inherit locationID; a different
// location_id is rejected. It returns the number of samples accepted.
func (s *Service) Ingest(ctx context.Context, locationID string, samples []types.ForecastSample) (int, error) {
	if len(samples) == 0 {
		return 0, types.NewValidationError(types.ErrCodeValidationMissingField, "samples", "at least one sample is required")
	}
	if len(samples) > types.MaxSampleBatch {
		return 0, types.NewValidationError(types.ErrCodeValidationBatchSize, "samples",
			fmt.Sprintf("at most %d samples per request", types.MaxSampleBatch))
	}

	batch := make([]types.ForecastSample, len(samples))
	for i, sample := range samples {
		if sample.LocationID == "" {
			sample.LocationID = locationID
		}
		if sample.LocationID != locationID {
			return 0, types.NewValidationError(types.ErrCodeValidationInvalidField, "location_id",
				fmt.Sprintf("sample %d names location %q, expected %q", i, sample.LocationID, locationID))
		}
		sample.ForecastTime = types.NormalizeSampleTime(sample.ForecastTime)
		batch[i] = sample
	}

	if err := s.store.AppendBatch(ctx, batch); err != nil {
		return 0, err
	}

	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].ForecastTime.Before(batch[j].ForecastTime)
	})
	if s.notifier != nil {
		for _, sample := range batch {
			s.notifier.Notify(ctx, sample)
		}
	}

	s.logger.DebugContext(ctx, "forecast samples ingested",
		"location_id", locationID,
		"count", len(batch),
		"first", batch[0].ForecastTime,
		"last", batch[len(batch)-1].ForecastTime,
	)
	return len(batch), nil
}

// Forecast returns samples for a location in ascending time order with
// risk_score filled in.
func (s *Service) Forecast(ctx context.Context, locationID string, q ForecastQuery) ([]types.ForecastSample, error) {
	if err := s.requireLocation(ctx, locationID); err != nil {
		return nil, err
	}
	if q.Limit < 0 || q.Limit > MaxQueryLimit {
		return nil, types.NewValidationError(types.ErrCodeValidationInvalidField, "limit",
			fmt.Sprintf("limit must be between 1 and %d", MaxQueryLimit))
	}
	if q.Limit == 0 {
		q.Limit = DefaultQueryLimit
	}
	if q.From.IsZero() {
		q.From = s.clock.Now().UTC().Truncate(time.Hour)
	}

	samples, err := s.store.Query(ctx, locationID, q.From, q.To)
	if err != nil {
		return nil, err
	}
	if len(samples) > q.Limit {
		samples = samples[:q.Limit]
	}
	if err := s.fillRisk(ctx, locationID, samples); err != nil {
		return nil, err
	}
	return samples, nil
}

// Current returns the newest sample for a location.
func (s *Service) Current(ctx context.Context, locationID string) (*types.ForecastSample, error) {
	if err := s.requireLocation(ctx, locationID); err != nil {
		return nil, err
	}
	latest, err := s.store.Latest(ctx, locationID)
	if err != nil {
		return nil, err
	}
	one := []types.ForecastSample{*latest}
	if err := s.fillRisk(ctx, locationID, one); err != nil {
		return nil, err
	}
	return &one[0], nil
}

func (s *Service) fillRisk(ctx context.Context, locationID string, samples []types.ForecastSample) error {
	var active []types.Trigger
	loaded := false
	for i := range samples {
		if samples[i].RiskScore != nil {
			continue
		}
		if !loaded {
			var err error
			if active, err = s.triggers.ListActive(ctx, locationID); err != nil {
				return err
			}
			loaded = true
		}
		score := s.scorer.MaxScore(samples[i], active)
		samples[i].RiskScore = &score
	}
	return nil
}

func (s *Service) requireLocation(ctx context.Context, locationID string) error {
	ok, err := s.locations.Exists(ctx, locationID)
	if err != nil {
		return err
	}
	if !ok {
		return types.NewAppErrorWithDetails(types.ErrCodeNotFoundLocation, "location not found", nil,
			map[string]any{"location_id": locationID})
	}
	return nil
}
