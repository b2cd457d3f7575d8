// Package locations manages monitored sites: registration, lookup, renaming,
// policy assignment and guarded deregistration.
package locations

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"hyperlocal/internal/types"
)

// Filter narrows List results.
type Filter struct {
	InsurerID string
}

// Repository is the persistence contract for locations. Implementations
// return not_found_location when an id is unknown.
type Repository interface {
	Create(ctx context.Context, loc types.Location) error
	Get(ctx context.Context, id string) (*types.Location, error)
	List(ctx context.Context, f Filter) ([]types.Location, error)
	Update(ctx context.Context, loc types.Location) error
	Delete(ctx context.Context, id string) error
}

// ActiveTriggerCounter reports how many active triggers reference a location.
type ActiveTriggerCounter interface {
	CountActive(ctx context.Context, locationID string) (int, error)
}

// OpenAlertCounter reports how many unresolved alerts reference a location.
type OpenAlertCounter interface {
	CountOpen(ctx context.Context, locationID string) (int, error)
}

// Purger drops data owned by a deregistered location.
type Purger interface {
	PurgeLocation(ctx context.Context, locationID string) error
}

// CreateRequest is the registration payload.
type CreateRequest struct {
	Name      string   `json:"name" validate:"required,max=200"`
	Latitude  *float64 `json:"latitude" validate:"required"`
	Longitude *float64 `json:"longitude" validate:"required"`
	InsurerID string   `json:"insurer_id" validate:"max=200"`
	PolicyIDs []string `json:"policy_ids" validate:"max=100,dive,max=200"`
}

// UpdateRequest carries the mutable fields; nil means unchanged.
type UpdateRequest struct {
	Name      *string   `json:"name" validate:"omitempty,min=1,max=200"`
	PolicyIDs *[]string `json:"policy_ids" validate:"omitempty,max=100,dive,max=200"`
}

// Registry is the location service used by the API and by other registries
// to check that a location exists.
type Registry struct {
	repo     Repository
	logger   *slog.Logger
	clock    types.Clock
	triggers ActiveTriggerCounter
	alerts   OpenAlertCounter
	purgers  []Purger
}

// NewRegistry creates a Registry over repo.
func NewRegistry(repo Repository, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{repo: repo, logger: logger, clock: types.RealClock{}}
}

// SetGuards installs the counters consulted before deregistration.
func (r *Registry) SetGuards(triggers ActiveTriggerCounter, alerts OpenAlertCounter) {
	r.triggers = triggers
	r.alerts = alerts
}

// AddPurger registers a store that must drop location data on deregistration.
func (r *Registry) AddPurger(p Purger) {
	r.purgers = append(r.purgers, p)
}

// Register validates and stores a new location.
func (r *Registry) Register(ctx context.Context, req CreateRequest) (*types.Location, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, types.NewValidationError(types.ErrCodeValidationMissingField, "name", "name is required")
	}
	if req.Latitude == nil {
		return nil, types.NewValidationError(types.ErrCodeValidationMissingField, "latitude", "latitude is required")
	}
	if req.Longitude == nil {
		return nil, types.NewValidationError(types.ErrCodeValidationMissingField, "longitude", "longitude is required")
	}
	if err := types.ValidateCoordinates(*req.Latitude, *req.Longitude); err != nil {
		return nil, err
	}

	loc := types.Location{
		ID:        types.NewID(types.LocationIDPrefix),
		Name:      name,
		Latitude:  *req.Latitude,
		Longitude: *req.Longitude,
		InsurerID: strings.TrimSpace(req.InsurerID),
		PolicyIDs: types.DedupeStrings(req.PolicyIDs),
		CreatedAt: r.clock.Now(),
	}
	if err := r.repo.Create(ctx, loc); err != nil {
		return nil, err
	}

	r.logger.InfoContext(ctx, "location registered", "location_id", loc.ID, "insurer_id", loc.InsurerID)
	return &loc, nil
}

// Get returns a location or not_found_location.
func (r *Registry) Get(ctx context.Context, id string) (*types.Location, error) {
	return r.repo.Get(ctx, id)
}

// List returns locations ordered by creation time.
func (r *Registry) List(ctx context.Context, f Filter) ([]types.Location, error) {
	return r.repo.List(ctx, f)
}

// Exists reports whether id names a registered location.
func (r *Registry) Exists(ctx context.Context, id string) (bool, error) {
	_, err := r.repo.Get(ctx, id)
	if err == nil {
		return true, nil
	}
	if types.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// Update renames a location or replaces its policy set.
func (r *Registry) Update(ctx context.Context, id string, req UpdateRequest) (*types.Location, error) {
	loc, err := r.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, types.NewValidationError(types.ErrCodeValidationMissingField, "name", "name must not be empty")
		}
		loc.Name = name
	}
	if req.PolicyIDs != nil {
		loc.PolicyIDs = types.DedupeStrings(*req.PolicyIDs)
	}

	if err := r.repo.Update(ctx, *loc); err != nil {
		return nil, err
	}
	return loc, nil
}

// Deregister removes a location once nothing live references it. Active
// triggers must be deactivated and open alerts resolved first.
func (r *Registry) Deregister(ctx context.Context, id string) error {
	if _, err := r.repo.Get(ctx, id); err != nil {
		return err
	}

	if r.triggers != nil {
		n, err := r.triggers.CountActive(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return types.NewAppErrorWithDetails(types.ErrCodeConflictLocationInUse,
				fmt.Sprintf("location has %d active trigger(s); deactivate them first", n), nil,
				map[string]any{"active_triggers": n})
		}
	}
	if r.alerts != nil {
		n, err := r.alerts.CountOpen(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return types.NewAppErrorWithDetails(types.ErrCodeConflictLocationInUse,
				fmt.Sprintf("location has %d open alert(s); resolve them first", n), nil,
				map[string]any{"open_alerts": n})
		}
	}

	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	for _, p := range r.purgers {
		if err := p.PurgeLocation(ctx, id); err != nil {
			r.logger.WarnContext(ctx, "failed to purge location data", "location_id", id, "error", err)
		}
	}

	r.logger.InfoContext(ctx, "location deregistered", "location_id", id)
	return nil
}
