// Package alerts owns alert persistence and the at-most-one-unresolved-alert
// per trigger invariant.
package alerts

import (
	"context"
	"time"

	"hyperlocal/internal/types"
)

// Filter narrows List results. Zero values match everything.
type Filter struct {
	ActiveOnly bool
	LocationID string
	TriggerID  string
	RiskLevel  types.RiskLevel
}

// Store is the alert persistence contract.
//
// Open must be a conditional write: it fails with conflict_open_alert when an
// unresolved alert already exists for the trigger, even under concurrent
// callers.
type Store interface {
	Open(ctx context.Context, a types.Alert) (*types.Alert, error)
	// Update mutates an unresolved alert. Resolved alerts fail with
	// conflict_alert_resolved.
	Update(ctx context.Context, id string, snap types.AlertSnapshot) (*types.Alert, error)
	// Resolve marks an alert resolved. The bool reports whether this call
	// changed it; resolving twice is not an error.
	Resolve(ctx context.Context, id string, at time.Time) (*types.Alert, bool, error)
	Get(ctx context.Context, id string) (*types.Alert, error)
	// OpenForTrigger returns the unresolved alert of a trigger or
	// not_found_alert.
	OpenForTrigger(ctx context.Context, triggerID string) (*types.Alert, error)
	// List returns alerts newest first by triggered_at.
	List(ctx context.Context, f Filter) ([]types.Alert, error)
	CountOpen(ctx context.Context, locationID string) (int, error)
}

func notFound(id string) error {
	return types.NewAppErrorWithDetails(types.ErrCodeNotFoundAlert, "alert not found", nil,
		map[string]any{"alert_id": id})
}

func noOpenAlert(triggerID string) error {
	return types.NewAppErrorWithDetails(types.ErrCodeNotFoundAlert, "no open alert for trigger", nil,
		map[string]any{"trigger_id": triggerID})
}

func openConflict(triggerID, existing string) error {
	return types.NewAppErrorWithDetails(types.ErrCodeConflictOpenAlert, "trigger already has an open alert", nil,
		map[string]any{"trigger_id": triggerID, "alert_id": existing})
}

func resolvedConflict(id string) error {
	return types.NewAppErrorWithDetails(types.ErrCodeConflictAlertResolved, "alert is already resolved", nil,
		map[string]any{"alert_id": id})
}
