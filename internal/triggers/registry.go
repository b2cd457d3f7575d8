// Package triggers is the source of truth for trigger definitions: creation,
// lookup, listing and activation state.
package triggers

import (
	"context"
	"log/slog"

	"hyperlocal/internal/types"
)

// Filter narrows List results. A nil Active matches both states.
type Filter struct {
	LocationID string
	Active     *bool
}

// Repository is the persistence contract for triggers. Triggers are never
// physically deleted.
type Repository interface {
	Create(ctx context.Context, t types.Trigger) error
	Get(ctx context.Context, id string) (*types.Trigger, error)
	List(ctx context.Context, f Filter) ([]types.Trigger, error)
	SetActive(ctx context.Context, id string, active bool) (*types.Trigger, bool, error)
	Toggle(ctx context.Context, id string) (*types.Trigger, error)
}

// LocationChecker confirms a location id before a trigger is bound to it.
type LocationChecker interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// StreakResetter clears evaluation state when a trigger changes activation.
type StreakResetter interface {
	ResetStreak(ctx context.Context, triggerID string) error
}

// CreateRequest is the trigger creation payload.
type CreateRequest struct {
	LocationID        string   `json:"location_id" validate:"required"`
	TriggerType       string   `json:"trigger_type" validate:"required"`
	ThresholdOperator string   `json:"threshold_operator" validate:"required"`
	ThresholdValue    *float64 `json:"threshold_value" validate:"required"`
	DurationHours     int      `json:"duration_hours"`
	PayoutAmount      *float64 `json:"payout_amount"`
	Active            *bool    `json:"active"`
}

// Registry validates trigger changes and delegates storage to a Repository.
type Registry struct {
	repo      Repository
	locations LocationChecker
	streaks   StreakResetter
	logger    *slog.Logger
	clock     types.Clock
}

// NewRegistry creates a Registry.
func NewRegistry(repo Repository, locations LocationChecker, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		repo:      repo,
		locations: locations,
		logger:    logger,
		clock:     types.RealClock{},
	}
}

// SetStreakResetter wires the evaluation engine after construction.
func (r *Registry) SetStreakResetter(s StreakResetter) {
	r.streaks = s
}

// Create validates req and stores a new trigger, active unless told otherwise.
func (r *Registry) Create(ctx context.Context, req CreateRequest) (*types.Trigger, error) {
	if req.LocationID == "" {
		return nil, types.NewValidationError(types.ErrCodeValidationMissingField, "location_id", "location_id is required")
	}
	if req.ThresholdValue == nil {
		return nil, types.NewValidationError(types.ErrCodeValidationMissingField, "threshold_value", "threshold_value is required")
	}

	t := types.Trigger{
		ID:                types.NewID(types.TriggerIDPrefix),
		LocationID:        req.LocationID,
		TriggerType:       types.TriggerType(req.TriggerType),
		ThresholdOperator: types.Operator(req.ThresholdOperator),
		ThresholdValue:    *req.ThresholdValue,
		DurationHours:     req.DurationHours,
		PayoutAmount:      req.PayoutAmount,
		Active:            true,
		CreatedAt:         r.clock.Now(),
	}
	if req.Active != nil {
		t.Active = *req.Active
	}
	if err := types.ValidateTriggerDefinition(t); err != nil {
		return nil, err
	}

	ok, err := r.locations.Exists(ctx, t.LocationID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, types.NewValidationError(types.ErrCodeValidationUnknownLocation, "location_id", "location_id does not name a registered location")
	}

	if err := r.repo.Create(ctx, t); err != nil {
		return nil, err
	}

	r.logger.InfoContext(ctx, "trigger created",
		"trigger_id", t.ID,
		"location_id", t.LocationID,
		"trigger_type", t.TriggerType,
		"operator", t.ThresholdOperator,
		"threshold", t.ThresholdValue,
		"duration_hours", t.DurationHours,
	)
	return &t, nil
}

// Get returns a trigger or not_found_trigger.
func (r *Registry) Get(ctx context.Context, id string) (*types.Trigger, error) {
	return r.repo.Get(ctx, id)
}

// List returns triggers ordered by creation time.
func (r *Registry) List(ctx context.Context, f Filter) ([]types.Trigger, error) {
	return r.repo.List(ctx, f)
}

// ListActive returns the active triggers bound to a location.
func (r *Registry) ListActive(ctx context.Context, locationID string) ([]types.Trigger, error) {
	active := true
	return r.repo.List(ctx, Filter{LocationID: locationID, Active: &active})
}

// CountActive implements locations.ActiveTriggerCounter.
func (r *Registry) CountActive(ctx context.Context, locationID string) (int, error) {
	list, err := r.ListActive(ctx, locationID)
	if err != nil {
		return 0, err
	}
	return len(list), nil
}

// Deactivate is idempotent: deactivating an inactive trigger succeeds.
func (r *Registry) Deactivate(ctx context.Context, id string) (*types.Trigger, error) {
	return r.SetActive(ctx, id, false)
}

// SetActive sets the activation flag, resetting the streak when it changes.
func (r *Registry) SetActive(ctx context.Context, id string, active bool) (*types.Trigger, error) {
	t, changed, err := r.repo.SetActive(ctx, id, active)
	if err != nil {
		return nil, err
	}
	if changed {
		r.activationChanged(ctx, t)
	}
	return t, nil
}

// Toggle flips the activation flag.
func (r *Registry) Toggle(ctx context.Context, id string) (*types.Trigger, error) {
	t, err := r.repo.Toggle(ctx, id)
	if err != nil {
		return nil, err
	}
	r.activationChanged(ctx, t)
	return t, nil
}

func (r *Registry) activationChanged(ctx context.Context, t *types.Trigger) {
	r.logger.InfoContext(ctx, "trigger activation changed", "trigger_id", t.ID, "active", t.Active)
	if r.streaks == nil {
		return
	}
	if err := r.streaks.ResetStreak(ctx, t.ID); err != nil {
		r.logger.WarnContext(ctx, "failed to reset streak", "trigger_id", t.ID, "error", err)
	}
}
