package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"hyperlocal/internal/alerts"
	"hyperlocal/internal/types"
)

const alertColumns = `id, trigger_id, location_id, risk_level, risk_score, message, current_value,
	threshold_value, triggered_at, updated_at, resolved, resolved_at, prescriptive_actions`

// openAlertIndex is the partial unique index enforcing one unresolved alert
// per trigger.
const openAlertIndex = "alerts_one_open_per_trigger"

// AlertRepository implements alerts.Store on the alerts table. The partial
// unique index makes Open a conditional write across processes.
type AlertRepository struct {
	db DBTX
}

// NewAlertRepository creates an AlertRepository.
func NewAlertRepository(db DBTX) *AlertRepository {
	return &AlertRepository{db: db}
}

func scanAlert(row scanner) (*types.Alert, error) {
	var a types.Alert
	err := row.Scan(&a.ID, &a.TriggerID, &a.LocationID, &a.RiskLevel, &a.RiskScore, &a.Message, &a.CurrentValue,
		&a.ThresholdValue, &a.TriggeredAt, &a.UpdatedAt, &a.Resolved, &a.ResolvedAt, &a.PrescriptiveActions)
	if err != nil {
		return nil, err
	}
	a.TriggeredAt = a.TriggeredAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	if a.ResolvedAt != nil {
		t := a.ResolvedAt.UTC()
		a.ResolvedAt = &t
	}
	if a.PrescriptiveActions == nil {
		a.PrescriptiveActions = []string{}
	}
	return &a, nil
}

// Open inserts an unresolved alert. A concurrent or existing open alert for
// the trigger surfaces as conflict_open_alert.
func (r *AlertRepository) Open(ctx context.Context, a types.Alert) (*types.Alert, error) {
	actions := a.PrescriptiveActions
	if actions == nil {
		actions = []string{}
	}
	out, err := scanAlert(r.db.QueryRow(ctx,
		`INSERT INTO alerts (id, trigger_id, location_id, risk_level, risk_score, message, current_value,
		                     threshold_value, triggered_at, updated_at, resolved, resolved_at, prescriptive_actions)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, FALSE, NULL, $11)
		 RETURNING `+alertColumns,
		a.ID, a.TriggerID, a.LocationID, string(a.RiskLevel), a.RiskScore, a.Message, a.CurrentValue,
		a.ThresholdValue, a.TriggeredAt, a.UpdatedAt, actions,
	))
	if err != nil {
		if pgCode(err) == pgUniqueViolation && pgConstraint(err) == openAlertIndex {
			return nil, types.NewAppErrorWithDetails(types.ErrCodeConflictOpenAlert, "trigger already has an open alert", err,
				map[string]any{"trigger_id": a.TriggerID})
		}
		return nil, dbError("failed to open alert", err)
	}
	return out, nil
}

// Update mutates an unresolved alert. When no row matches, a follow-up read
// tells a missing alert from a resolved one.
func (r *AlertRepository) Update(ctx context.Context, id string, snap types.AlertSnapshot) (*types.Alert, error) {
	actions := snap.PrescriptiveActions
	if actions == nil {
		actions = []string{}
	}
	out, err := scanAlert(r.db.QueryRow(ctx,
		`UPDATE alerts
		 SET risk_level = $2, risk_score = $3, message = $4, current_value = $5,
		     prescriptive_actions = $6, updated_at = $7
		 WHERE id = $1 AND NOT resolved
		 RETURNING `+alertColumns,
		id, string(snap.RiskLevel), snap.RiskScore, snap.Message, snap.CurrentValue, actions, snap.At,
	))
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, dbError("failed to update alert", err)
	}

	existing, getErr := r.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if existing.Resolved {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeConflictAlertResolved, "alert is already resolved", nil,
			map[string]any{"alert_id": id})
	}
	return nil, dbError("alert update matched no rows", nil)
}

// Resolve marks the alert resolved. Resolving a resolved alert returns it
// unchanged with changed=false.
func (r *AlertRepository) Resolve(ctx context.Context, id string, at time.Time) (*types.Alert, bool, error) {
	out, err := scanAlert(r.db.QueryRow(ctx,
		`UPDATE alerts SET resolved = TRUE, resolved_at = $2, updated_at = $2
		 WHERE id = $1 AND NOT resolved
		 RETURNING `+alertColumns,
		id, at,
	))
	if err == nil {
		return out, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, dbError("failed to resolve alert", err)
	}

	existing, getErr := r.Get(ctx, id)
	if getErr != nil {
		return nil, false, getErr
	}
	return existing, false, nil
}

func (r *AlertRepository) Get(ctx context.Context, id string) (*types.Alert, error) {
	a, err := scanAlert(r.db.QueryRow(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppErrorWithDetails(types.ErrCodeNotFoundAlert, "alert not found", nil,
				map[string]any{"alert_id": id})
		}
		return nil, dbError("failed to get alert", err)
	}
	return a, nil
}

func (r *AlertRepository) OpenForTrigger(ctx context.Context, triggerID string) (*types.Alert, error) {
	a, err := scanAlert(r.db.QueryRow(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE trigger_id = $1 AND NOT resolved`, triggerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppErrorWithDetails(types.ErrCodeNotFoundAlert, "no open alert for trigger", nil,
				map[string]any{"trigger_id": triggerID})
		}
		return nil, dbError("failed to get open alert", err)
	}
	return a, nil
}

// List returns alerts newest first by triggered_at.
func (r *AlertRepository) List(ctx context.Context, f alerts.Filter) ([]types.Alert, error) {
	var conditions []string
	var args []any
	if f.ActiveOnly {
		conditions = append(conditions, "NOT resolved")
	}
	if f.LocationID != "" {
		args = append(args, f.LocationID)
		conditions = append(conditions, fmt.Sprintf("location_id = $%d", len(args)))
	}
	if f.TriggerID != "" {
		args = append(args, f.TriggerID)
		conditions = append(conditions, fmt.Sprintf("trigger_id = $%d", len(args)))
	}
	if f.RiskLevel != "" {
		args = append(args, string(f.RiskLevel))
		conditions = append(conditions, fmt.Sprintf("risk_level = $%d", len(args)))
	}

	query := `SELECT ` + alertColumns + ` FROM alerts`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY triggered_at DESC, id DESC`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, dbError("failed to list alerts", err)
	}
	defer rows.Close()

	out := []types.Alert{}
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, dbError("failed to scan alert row", err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("failed to iterate alerts", err)
	}
	return out, nil
}

func (r *AlertRepository) CountOpen(ctx context.Context, locationID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM alerts WHERE location_id = $1 AND NOT resolved`, locationID).Scan(&n)
	if err != nil {
		return 0, dbError("failed to count open alerts", err)
	}
	return n, nil
}
