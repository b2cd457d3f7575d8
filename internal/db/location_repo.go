package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"hyperlocal/internal/locations"
	"hyperlocal/internal/types"
)

// scanner is satisfied by pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

const locationColumns = `id, name, latitude, longitude, insurer_id, policy_ids, created_at`

// LocationRepository implements locations.Repository on the locations table.
type LocationRepository struct {
	db DBTX
}

// NewLocationRepository creates a LocationRepository.
func NewLocationRepository(db DBTX) *LocationRepository {
	return &LocationRepository{db: db}
}

func scanLocation(row scanner) (*types.Location, error) {
	var loc types.Location
	if err := row.Scan(&loc.ID, &loc.Name, &loc.Latitude, &loc.Longitude, &loc.InsurerID, &loc.PolicyIDs, &loc.CreatedAt); err != nil {
		return nil, err
	}
	if loc.PolicyIDs == nil {
		loc.PolicyIDs = []string{}
	}
	loc.CreatedAt = loc.CreatedAt.UTC()
	return &loc, nil
}

func (r *LocationRepository) Create(ctx context.Context, loc types.Location) error {
	policies := loc.PolicyIDs
	if policies == nil {
		policies = []string{}
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO locations (id, name, latitude, longitude, insurer_id, policy_ids, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		loc.ID, loc.Name, loc.Latitude, loc.Longitude, loc.InsurerID, policies, loc.CreatedAt,
	)
	if err != nil {
		return dbError("failed to create location", err)
	}
	return nil
}

func (r *LocationRepository) Get(ctx context.Context, id string) (*types.Location, error) {
	loc, err := scanLocation(r.db.QueryRow(ctx,
		`SELECT `+locationColumns+` FROM locations WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, locationNotFound(id)
		}
		return nil, dbError("failed to get location", err)
	}
	return loc, nil
}

func (r *LocationRepository) List(ctx context.Context, f locations.Filter) ([]types.Location, error) {
	query := `SELECT ` + locationColumns + ` FROM locations`
	var args []any
	if f.InsurerID != "" {
		query += ` WHERE insurer_id = $1`
		args = append(args, f.InsurerID)
	}
	query += ` ORDER BY created_at, id`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, dbError("failed to list locations", err)
	}
	defer rows.Close()

	out := []types.Location{}
	for rows.Next() {
		loc, err := scanLocation(rows)
		if err != nil {
			return nil, dbError("failed to scan location row", err)
		}
		out = append(out, *loc)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("failed to iterate locations", err)
	}
	return out, nil
}

func (r *LocationRepository) Update(ctx context.Context, loc types.Location) error {
	policies := loc.PolicyIDs
	if policies == nil {
		policies = []string{}
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE locations SET name = $2, policy_ids = $3 WHERE id = $1`,
		loc.ID, loc.Name, policies,
	)
	if err != nil {
		return dbError("failed to update location", err)
	}
	if tag.RowsAffected() == 0 {
		return locationNotFound(loc.ID)
	}
	return nil
}

// Delete removes the location. Triggers, samples, alerts and streaks cascade.
func (r *LocationRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM locations WHERE id = $1`, id)
	if err != nil {
		return dbError("failed to delete location", err)
	}
	if tag.RowsAffected() == 0 {
		return locationNotFound(id)
	}
	return nil
}

func locationNotFound(id string) error {
	return types.NewAppErrorWithDetails(types.ErrCodeNotFoundLocation, "location not found", nil,
		map[string]any{"location_id": id})
}
