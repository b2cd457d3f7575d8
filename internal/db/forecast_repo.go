package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"hyperlocal/internal/types"
)

const sampleColumns = `location_id, forecast_time, temperature, rainfall_amount, wind_speed, risk_score`

// ForecastRepository implements forecasts.Store on forecast_samples. A sample
// for an existing (location_id, forecast_time) overwrites the previous row.
type ForecastRepository struct {
	db DBTX
}

// NewForecastRepository creates a ForecastRepository.
func NewForecastRepository(db DBTX) *ForecastRepository {
	return &ForecastRepository{db: db}
}

func scanSample(row scanner) (types.ForecastSample, error) {
	var s types.ForecastSample
	err := row.Scan(&s.LocationID, &s.ForecastTime, &s.Temperature, &s.RainfallAmount, &s.WindSpeed, &s.RiskScore)
	s.ForecastTime = s.ForecastTime.UTC()
	return s, err
}

func (r *ForecastRepository) Append(ctx context.Context, s types.ForecastSample) error {
	return r.AppendBatch(ctx, []types.ForecastSample{s})
}

// AppendBatch upserts every sample in one statement so the batch is
// all-or-nothing. A sample naming an unknown location fails the batch with
// validation_unknown_location.
func (r *ForecastRepository) AppendBatch(ctx context.Context, samples []types.ForecastSample) error {
	if len(samples) == 0 {
		return nil
	}

	n := len(samples)
	var (
		locs   = make([]string, n)
		times  = make([]time.Time, n)
		temps  = make([]float64, n)
		rain   = make([]float64, n)
		wind   = make([]float64, n)
		scores = make([]*float64, n)
	)
	for i, s := range samples {
		s.ForecastTime = types.NormalizeSampleTime(s.ForecastTime)
		if err := types.ValidateSample(s); err != nil {
			return err
		}
		locs[i], times[i], temps[i], rain[i], wind[i], scores[i] =
			s.LocationID, s.ForecastTime, s.Temperature, s.RainfallAmount, s.WindSpeed, s.RiskScore
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO forecast_samples (`+sampleColumns+`)
		 SELECT DISTINCT ON (l, t) l, t, tp, rn, wd, rs
		 FROM unnest($1::text[], $2::timestamptz[], $3::float8[], $4::float8[], $5::float8[], $6::float8[])
		      WITH ORDINALITY AS b(l, t, tp, rn, wd, rs, ord)
		 ORDER BY l, t, ord DESC
		 ON CONFLICT (location_id, forecast_time) DO UPDATE
		   SET temperature = EXCLUDED.temperature,
		       rainfall_amount = EXCLUDED.rainfall_amount,
		       wind_speed = EXCLUDED.wind_speed,
		       risk_score = EXCLUDED.risk_score`,
		locs, times, temps, rain, wind, scores,
	)
	if err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return types.NewValidationError(types.ErrCodeValidationUnknownLocation, "location_id",
				"location_id does not name a registered location")
		}
		return dbError("failed to append forecast samples", err)
	}
	return nil
}

// Query returns samples in [from, to] ascending. A zero to is unbounded.
func (r *ForecastRepository) Query(ctx context.Context, locationID string, from, to time.Time) ([]types.ForecastSample, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+sampleColumns+`
		 FROM forecast_samples
		 WHERE location_id = $1 AND forecast_time >= $2 AND ($3::timestamptz IS NULL OR forecast_time <= $3)
		 ORDER BY forecast_time`,
		locationID, from.UTC(), nullTime(to),
	)
	if err != nil {
		return nil, dbError("failed to query forecast samples", err)
	}
	defer rows.Close()

	out := []types.ForecastSample{}
	for rows.Next() {
		s, err := scanSample(rows)
		if err != nil {
			return nil, dbError("failed to scan forecast sample", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("failed to iterate forecast samples", err)
	}
	return out, nil
}

func (r *ForecastRepository) Latest(ctx context.Context, locationID string) (*types.ForecastSample, error) {
	s, err := scanSample(r.db.QueryRow(ctx,
		`SELECT `+sampleColumns+`
		 FROM forecast_samples WHERE location_id = $1
		 ORDER BY forecast_time DESC LIMIT 1`,
		locationID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppErrorWithDetails(types.ErrCodeNotFoundForecast, "no forecast samples for location", nil,
				map[string]any{"location_id": locationID})
		}
		return nil, dbError("failed to read latest forecast sample", err)
	}
	return &s, nil
}

func (r *ForecastRepository) Locations(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT DISTINCT location_id FROM forecast_samples ORDER BY location_id`)
	if err != nil {
		return nil, dbError("failed to list forecast locations", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, dbError("failed to scan location id", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("failed to iterate forecast locations", err)
	}
	return out, nil
}

func (r *ForecastRepository) Prune(ctx context.Context, before time.Time) (int, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM forecast_samples WHERE forecast_time < $1`, before.UTC())
	if err != nil {
		return 0, dbError("failed to prune forecast samples", err)
	}
	return int(tag.RowsAffected()), nil
}
