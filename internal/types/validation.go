package types

import (
	"fmt"
	"math"
)

// Validation constraint constants.
const (
	MinLat         = -90.0
	MaxLat         = 90.0
	MinLon         = -180.0
	MaxLon         = 180.0
	MaxNameLength  = 200
	MaxDurationHrs = 24 * 14 // matches the duration_hours CHECK in the schema
	MaxSampleBatch = 500
	MaxPolicyIDs   = 100
)

// ValidateCoordinates checks the latitude and longitude ranges of a location.
func ValidateCoordinates(lat, lon float64) error {
	if !isFinite(lat) || lat < MinLat || lat > MaxLat {
		return NewValidationError(ErrCodeValidationInvalidLat, "latitude",
			fmt.Sprintf("latitude must be between %.0f and %.0f", MinLat, MaxLat))
	}
	if !isFinite(lon) || lon < MinLon || lon > MaxLon {
		return NewValidationError(ErrCodeValidationInvalidLon, "longitude",
			fmt.Sprintf("longitude must be between %.0f and %.0f", MinLon, MaxLon))
	}
	return nil
}

// ValidateTriggerDefinition checks the fields of a trigger that do not depend on storage.
func ValidateTriggerDefinition(t Trigger) error {
	if !t.TriggerType.Valid() {
		return NewValidationError(ErrCodeValidationTriggerType, "trigger_type",
			fmt.Sprintf("trigger_type %q is not one of rainfall, wind_speed, temperature", t.TriggerType))
	}
	if !t.ThresholdOperator.Valid() {
		return NewValidationError(ErrCodeValidationOperator, "threshold_operator",
			fmt.Sprintf("threshold_operator %q is not one of gt, gte, lt, lte", t.ThresholdOperator))
	}
	if !isFinite(t.ThresholdValue) {
		return NewValidationError(ErrCodeValidationThreshold, "threshold_value", "threshold_value must be a finite number")
	}
	if t.DurationHours < 1 || t.DurationHours > MaxDurationHrs {
		return NewValidationError(ErrCodeValidationDuration, "duration_hours",
			fmt.Sprintf("duration_hours must be between 1 and %d", MaxDurationHrs))
	}
	if t.PayoutAmount != nil && (!isFinite(*t.PayoutAmount) || *t.PayoutAmount < 0) {
		return NewValidationError(ErrCodeValidationInvalidField, "payout_amount", "payout_amount must be a non-negative number")
	}
	return nil
}

// ValidateSample checks a forecast sample's timestamp and measurements.
// Location existence is checked by the store.
func ValidateSample(s ForecastSample) error {
	if s.LocationID == "" {
		return NewValidationError(ErrCodeValidationMissingField, "location_id", "location_id is required")
	}
	if s.ForecastTime.IsZero() {
		return NewValidationError(ErrCodeValidationForecastTime, "forecast_time", "forecast_time is required")
	}
	for field, v := range map[string]float64{
		"temperature":     s.Temperature,
		"rainfall_amount": s.RainfallAmount,
		"wind_speed":      s.WindSpeed,
	} {
		if !isFinite(v) {
			return NewValidationError(ErrCodeValidationMeasurement, field, field+" must be a finite number")
		}
	}
	if s.RiskScore != nil && (!isFinite(*s.RiskScore) || *s.RiskScore < 0 || *s.RiskScore > 1) {
		return NewValidationError(ErrCodeValidationRiskScore, "risk_score", "risk_score must be between 0 and 1")
	}
	return nil
}

// DedupeStrings removes empty and repeated values, keeping first-seen order.
func DedupeStrings(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
