package alerts

import (
	"context"
	"log/slog"

	"hyperlocal/internal/types"
)

// EventPublisher receives alert lifecycle events.
type EventPublisher interface {
	Publish(ctx context.Context, evt types.AlertEvent) error
}

// Service is the API-facing alert service.
type Service struct {
	store     Store
	publisher EventPublisher
	clock     types.Clock
	logger    *slog.Logger
}

// NewService creates a Service. publisher may be nil.
func NewService(store Store, publisher EventPublisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		publisher: publisher,
		clock:     types.RealClock{},
		logger:    logger,
	}
}

// SetClock overrides the time source used for resolved_at.
func (s *Service) SetClock(c types.Clock) {
	s.clock = c
}

// Get returns one alert.
func (s *Service) Get(ctx context.Context, id string) (*types.Alert, error) {
	return s.store.Get(ctx, id)
}

// List validates the filter and returns matching alerts, newest first.
func (s *Service) List(ctx context.Context, f Filter) ([]types.Alert, error) {
	if f.RiskLevel != "" && !f.RiskLevel.Valid() {
		return nil, types.NewValidationError(types.ErrCodeValidationRiskLevel, "risk_level",
			"risk_level must be one of low, medium, high, critical")
	}
	return s.store.List(ctx, f)
}

// CountOpen implements locations.OpenAlertCounter.
func (s *Service) CountOpen(ctx context.Context, locationID string) (int, error) {
	return s.store.CountOpen(ctx, locationID)
}

// Resolve marks an alert resolved. Resolving an already resolved alert
// returns it unchanged and publishes nothing.
func (s *Service) Resolve(ctx context.Context, id string) (*types.Alert, error) {
	now := s.clock.Now()
	a, changed, err := s.store.Resolve(ctx, id, now)
	if err != nil {
		return nil, err
	}
	if !changed {
		return a, nil
	}

	s.logger.InfoContext(ctx, "alert resolved",
		"alert_id", a.ID,
		"trigger_id", a.TriggerID,
		"location_id", a.LocationID,
	)
	if s.publisher != nil {
		evt := types.AlertEvent{Type: types.AlertEventResolved, Alert: *a, OccurredAt: now}
		if err := s.publisher.Publish(ctx, evt); err != nil {
			s.logger.WarnContext(ctx, "failed to publish alert event",
				"event", evt.Type, "alert_id", a.ID, "error", err)
		}
	}
	return a, nil
}
