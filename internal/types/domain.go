package types

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// ID prefixes for the entities owned by the service.
const (
	LocationIDPrefix = "loc_"
	TriggerIDPrefix  = "trg_"
	AlertIDPrefix    = "alt_"
)

// NewID returns a fresh identifier with the given prefix.
func NewID(prefix string) string {
	return prefix + uuid.New().String()
}

// Location is a monitored site covered by one or more parametric policies.
type Location struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Latitude  float64   `json:"latitude" db:"latitude"`
	Longitude float64   `json:"longitude" db:"longitude"`
	InsurerID string    `json:"insurer_id" db:"insurer_id"`
	PolicyIDs []string  `json:"policy_ids" db:"policy_ids"`
	CreatedAt time.Time `json:"-" db:"created_at"`
}

// ForecastSample is one timestamped weather reading or forecast for a location.
// RainfallAmount is a rate in mm/h.
type ForecastSample struct {
	LocationID     string    `json:"location_id" db:"location_id"`
	ForecastTime   time.Time `json:"forecast_time" db:"forecast_time"`
	Temperature    float64   `json:"temperature" db:"temperature"`
	RainfallAmount float64   `json:"rainfall_amount" db:"rainfall_amount"`
	WindSpeed      float64   `json:"wind_speed" db:"wind_speed"`
	RiskScore      *float64  `json:"risk_score,omitempty" db:"risk_score"`
}

// Trigger binds a location, a measurement, a threshold and a sustained duration.
type Trigger struct {
	ID                string      `json:"id" db:"id"`
	LocationID        string      `json:"location_id" db:"location_id"`
	TriggerType       TriggerType `json:"trigger_type" db:"trigger_type"`
	ThresholdOperator Operator    `json:"threshold_operator" db:"threshold_operator"`
	ThresholdValue    float64     `json:"threshold_value" db:"threshold_value"`
	DurationHours     int         `json:"duration_hours" db:"duration_hours"`
	PayoutAmount      *float64    `json:"payout_amount" db:"payout_amount"`
	Active            bool        `json:"active" db:"active"`
	CreatedAt         time.Time   `json:"created_at" db:"created_at"`
}

// Alert is the materialized consequence of a trigger condition holding long enough.
type Alert struct {
	ID                  string     `json:"id" db:"id"`
	TriggerID           string     `json:"trigger_id" db:"trigger_id"`
	LocationID          string     `json:"location_id" db:"location_id"`
	RiskLevel           RiskLevel  `json:"risk_level" db:"risk_level"`
	RiskScore           float64    `json:"risk_score" db:"risk_score"`
	Message             string     `json:"message" db:"message"`
	CurrentValue        float64    `json:"current_value" db:"current_value"`
	ThresholdValue      float64    `json:"threshold_value" db:"threshold_value"`
	TriggeredAt         time.Time  `json:"triggered_at" db:"triggered_at"`
	UpdatedAt           time.Time  `json:"updated_at" db:"updated_at"`
	Resolved            bool       `json:"resolved" db:"resolved"`
	ResolvedAt          *time.Time `json:"resolved_at" db:"resolved_at"`
	PrescriptiveActions []string   `json:"prescriptive_actions" db:"prescriptive_actions"`
}

// AlertSnapshot carries the mutable fields of an open alert.
type AlertSnapshot struct {
	RiskLevel           RiskLevel
	RiskScore           float64
	Message             string
	CurrentValue        float64
	PrescriptiveActions []string
	At                  time.Time
}

// Apply copies the snapshot onto the alert.
func (s AlertSnapshot) Apply(a *Alert) {
	a.RiskLevel = s.RiskLevel
	a.RiskScore = s.RiskScore
	a.Message = s.Message
	a.CurrentValue = s.CurrentValue
	a.PrescriptiveActions = append([]string(nil), s.PrescriptiveActions...)
	a.UpdatedAt = s.At
}

// StreakState is the per-trigger evaluation record kept alongside the trigger.
// ConsecutiveSamples counts qualifying samples since StreakStart.
//
// Recent holds the outcomes of the latest samples in time order, so a
// re-delivered sample can be recognised without reading history. RearmedAt is
// the sample at which the streak restarted after a manual resolve; samples
// before it never count toward a new alert.
type StreakState struct {
	TriggerID          string          `json:"trigger_id" db:"trigger_id"`
	Phase              StreakPhase     `json:"phase" db:"phase"`
	ConsecutiveSamples int             `json:"consecutive_samples" db:"consecutive_samples"`
	StreakStart        time.Time       `json:"streak_start" db:"streak_start"`
	LastSampleTime     time.Time       `json:"last_sample_time" db:"last_sample_time"`
	LastQualified      bool            `json:"last_qualified" db:"last_qualified"`
	NormalizedNoted    bool            `json:"normalized_noted" db:"normalized_noted"`
	RearmedAt          time.Time       `json:"rearmed_at,omitempty" db:"rearmed_at"`
	Recent             []SampleOutcome `json:"recent,omitempty" db:"recent"`
}

// SampleOutcome records whether the sample at At satisfied the trigger.
type SampleOutcome struct {
	At        time.Time `json:"at"`
	Qualified bool      `json:"qualified"`
}

// MaxRecentOutcomes bounds StreakState.Recent. It covers a week of hourly
// samples, longer than any upstream forecast window that gets re-delivered.
const MaxRecentOutcomes = 168

// QualifyingHours is the continuous span covered by the current streak, counting
// each sample as covering resolution.
func (s StreakState) QualifyingHours(resolution time.Duration) float64 {
	if s.ConsecutiveSamples == 0 {
		return 0
	}
	return (s.LastSampleTime.Sub(s.StreakStart) + resolution).Hours()
}

// OutcomeAt returns the recorded outcome of the sample at t, if it is still
// in the window.
func (s StreakState) OutcomeAt(t time.Time) (qualified, ok bool) {
	i := sort.Search(len(s.Recent), func(i int) bool { return !s.Recent[i].At.Before(t) })
	if i < len(s.Recent) && s.Recent[i].At.Equal(t) {
		return s.Recent[i].Qualified, true
	}
	return false, false
}

// Remember records the outcome of the sample at t, replacing an earlier
// outcome for the same time and dropping the oldest entries past
// MaxRecentOutcomes. The receiver's slice is never modified in place.
func (s *StreakState) Remember(t time.Time, qualified bool) {
	i := sort.Search(len(s.Recent), func(i int) bool { return !s.Recent[i].At.Before(t) })
	out := make([]SampleOutcome, 0, len(s.Recent)+1)
	out = append(out, s.Recent[:i]...)
	out = append(out, SampleOutcome{At: t, Qualified: qualified})
	if i < len(s.Recent) && s.Recent[i].At.Equal(t) {
		i++
	}
	out = append(out, s.Recent[i:]...)
	if len(out) > MaxRecentOutcomes {
		out = out[len(out)-MaxRecentOutcomes:]
	}
	s.Recent = out
}

// AlertEvent is the lifecycle message published for downstream consumers.
type AlertEvent struct {
	Type       AlertEventType `json:"type"`
	Alert      Alert          `json:"alert"`
	OccurredAt time.Time      `json:"occurred_at"`
}
