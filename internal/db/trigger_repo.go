package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"hyperlocal/internal/triggers"
	"hyperlocal/internal/types"
)

const triggerColumns = `id, location_id, trigger_type, threshold_operator, threshold_value,
	duration_hours, payout_amount, active, created_at`

// TriggerRepository implements triggers.Repository on the triggers table.
type TriggerRepository struct {
	db DBTX
}

// NewTriggerRepository creates a TriggerRepository.
func NewTriggerRepository(db DBTX) *TriggerRepository {
	return &TriggerRepository{db: db}
}

func scanTrigger(row scanner) (*types.Trigger, error) {
	var t types.Trigger
	err := row.Scan(&t.ID, &t.LocationID, &t.TriggerType, &t.ThresholdOperator, &t.ThresholdValue,
		&t.DurationHours, &t.PayoutAmount, &t.Active, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.CreatedAt = t.CreatedAt.UTC()
	return &t, nil
}

func (r *TriggerRepository) Create(ctx context.Context, t types.Trigger) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO triggers (id, location_id, trigger_type, threshold_operator, threshold_value,
		                       duration_hours, payout_amount, active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.LocationID, string(t.TriggerType), string(t.ThresholdOperator), t.ThresholdValue,
		t.DurationHours, t.PayoutAmount, t.Active, t.CreatedAt,
	)
	if err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return types.NewValidationError(types.ErrCodeValidationUnknownLocation, "location_id",
				"location_id does not name a registered location")
		}
		return dbError("failed to create trigger", err)
	}
	return nil
}

func (r *TriggerRepository) Get(ctx context.Context, id string) (*types.Trigger, error) {
	t, err := scanTrigger(r.db.QueryRow(ctx, `SELECT `+triggerColumns+` FROM triggers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, triggerNotFound(id)
		}
		return nil, dbError("failed to get trigger", err)
	}
	return t, nil
}

func (r *TriggerRepository) List(ctx context.Context, f triggers.Filter) ([]types.Trigger, error) {
	var conditions []string
	var args []any
	if f.LocationID != "" {
		args = append(args, f.LocationID)
		conditions = append(conditions, fmt.Sprintf("location_id = $%d", len(args)))
	}
	if f.Active != nil {
		args = append(args, *f.Active)
		conditions = append(conditions, fmt.Sprintf("active = $%d", len(args)))
	}

	query := `SELECT ` + triggerColumns + ` FROM triggers`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY created_at, id`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, dbError("failed to list triggers", err)
	}
	defer rows.Close()

	out := []types.Trigger{}
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, dbError("failed to scan trigger row", err)
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("failed to iterate triggers", err)
	}
	return out, nil
}

// SetActive sets the flag and reports whether it changed. The CTE reads the
// previous value in the same statement.
func (r *TriggerRepository) SetActive(ctx context.Context, id string, active bool) (*types.Trigger, bool, error) {
	var wasActive bool
	row := r.db.QueryRow(ctx,
		`WITH prev AS (SELECT active FROM triggers WHERE id = $1 FOR UPDATE)
		 UPDATE triggers t SET active = $2
		 FROM prev
		 WHERE t.id = $1
		 RETURNING prev.active, t.id, t.location_id, t.trigger_type, t.threshold_operator, t.threshold_value,
		           t.duration_hours, t.payout_amount, t.active, t.created_at`,
		id, active,
	)
	var t types.Trigger
	err := row.Scan(&wasActive, &t.ID, &t.LocationID, &t.TriggerType, &t.ThresholdOperator, &t.ThresholdValue,
		&t.DurationHours, &t.PayoutAmount, &t.Active, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, triggerNotFound(id)
		}
		return nil, false, dbError("failed to set trigger activation", err)
	}
	t.CreatedAt = t.CreatedAt.UTC()
	return &t, wasActive != active, nil
}

func (r *TriggerRepository) Toggle(ctx context.Context, id string) (*types.Trigger, error) {
	t, err := scanTrigger(r.db.QueryRow(ctx,
		`UPDATE triggers SET active = NOT active WHERE id = $1 RETURNING `+triggerColumns, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, triggerNotFound(id)
		}
		return nil, dbError("failed to toggle trigger", err)
	}
	return t, nil
}

func triggerNotFound(id string) error {
	return types.NewAppErrorWithDetails(types.ErrCodeNotFoundTrigger, "trigger not found", nil,
		map[string]any{"trigger_id": id})
}
