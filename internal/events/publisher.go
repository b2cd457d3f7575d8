// Package events publishes alert lifecycle events to downstream consumers.
// Delivery of push, SMS or email notifications happens outside this service.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"hyperlocal/internal/types"
)

// Publisher sends one alert lifecycle event.
type Publisher interface {
	Publish(ctx context.Context, evt types.AlertEvent) error
}

// Encode renders the wire form of an event.
func Encode(evt types.AlertEvent) ([]byte, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("events: failed to marshal %s: %w", evt.Type, err)
	}
	return body, nil
}

// LogPublisher writes events as structured log records. It is the default
// sink for local runs.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher creates a LogPublisher.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, evt types.AlertEvent) error {
	p.logger.InfoContext(ctx, "alert event",
		"event", evt.Type,
		"alert_id", evt.Alert.ID,
		"trigger_id", evt.Alert.TriggerID,
		"location_id", evt.Alert.LocationID,
		"risk_level", evt.Alert.RiskLevel,
		"resolved", evt.Alert.Resolved,
		"occurred_at", evt.OccurredAt,
	)
	return nil
}

// Noop discards events.
type Noop struct{}

func (Noop) Publish(context.Context, types.AlertEvent) error { return nil }
