// Package forecasts holds the time-ordered weather samples per location and
// the ingestion service that feeds them to the evaluation scheduler.
package forecasts

import (
	"context"
	"time"

	"hyperlocal/internal/types"
)

// Store is the forecast persistence contract. Samples are ordered by
// forecast_time per location; a sample at an existing (location_id,
// forecast_time) overwrites the previous one.
type Store interface {
	// Append stores one sample. Unknown locations fail with
	// validation_unknown_location.
	Append(ctx context.Context, s types.ForecastSample) error
	// AppendBatch stores samples all-or-nothing.
	AppendBatch(ctx context.Context, samples []types.ForecastSample) error
	// Query returns samples in [from, to] ascending. A zero to is unbounded.
	Query(ctx context.Context, locationID string, from, to time.Time) ([]types.ForecastSample, error)
	// Latest returns the newest sample or not_found_forecast.
	Latest(ctx context.Context, locationID string) (*types.ForecastSample, error)
	// Locations lists location ids that currently hold samples.
	Locations(ctx context.Context) ([]string, error)
	// Prune deletes samples older than before and reports how many went.
	Prune(ctx context.Context, before time.Time) (int, error)
}

// LocationChecker confirms a location id before samples are accepted.
type LocationChecker interface {
	Exists(ctx context.Context, id string) (bool, error)
}

func unknownLocation(id string) error {
	return types.NewAppErrorWithDetails(types.ErrCodeValidationUnknownLocation,
		"location_id does not name a registered location", nil,
		map[string]any{"field": "location_id", "location_id": id})
}

func noForecast(id string) error {
	return types.NewAppErrorWithDetails(types.ErrCodeNotFoundForecast, "no forecast samples for location", nil,
		map[string]any{"location_id": id})
}
