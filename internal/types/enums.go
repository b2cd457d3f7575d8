package types

// TriggerType identifies the weather measurement a trigger watches.
type TriggerType string

const (
	TriggerRainfall    TriggerType = "rainfall"
	TriggerWindSpeed   TriggerType = "wind_speed"
	TriggerTemperature TriggerType = "temperature"
)

// TriggerTypes lists every supported trigger type in display order.
var TriggerTypes = []TriggerType{TriggerRainfall, TriggerWindSpeed, TriggerTemperature}

// Valid reports whether t is a supported trigger type.
func (t TriggerType) Valid() bool {
	switch t {
	case TriggerRainfall, TriggerWindSpeed, TriggerTemperature:
		return true
	}
	return false
}

// Operator is the threshold comparison applied to a measurement.
type Operator string

const (
	OpGreaterThan   Operator = "gt"
	OpGreaterThanEq Operator = "gte"
	OpLessThan      Operator = "lt"
	OpLessThanEq    Operator = "lte"
)

// Valid reports whether o is a supported operator.
func (o Operator) Valid() bool {
	switch o {
	case OpGreaterThan, OpGreaterThanEq, OpLessThan, OpLessThanEq:
		return true
	}
	return false
}

// Exceeding reports whether the unsafe direction of o is above the threshold.
func (o Operator) Exceeding() bool {
	return o == OpGreaterThan || o == OpGreaterThanEq
}

// Holds evaluates value <o> threshold.
func (o Operator) Holds(value, threshold float64) bool {
	switch o {
	case OpGreaterThan:
		return value > threshold
	case OpGreaterThanEq:
		return value >= threshold
	case OpLessThan:
		return value < threshold
	case OpLessThanEq:
		return value <= threshold
	}
	return false
}

// RiskLevel is the bucketed severity attached to an alert.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RiskLevels lists the levels from least to most severe.
var RiskLevels = []RiskLevel{RiskLow, RiskMedium, RiskHigh, RiskCritical}

// Valid reports whether l is a known risk level.
func (l RiskLevel) Valid() bool {
	switch l {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// StreakPhase is the evaluation state of a single trigger.
type StreakPhase string

const (
	PhaseDormant      StreakPhase = "dormant"
	PhaseAccumulating StreakPhase = "accumulating"
	PhaseFired        StreakPhase = "fired"
)

// AlertEventType names an alert lifecycle event published to downstream consumers.
type AlertEventType string

const (
	AlertEventOpened     AlertEventType = "alert.opened"
	AlertEventUpdated    AlertEventType = "alert.updated"
	AlertEventNormalized AlertEventType = "alert.normalized"
	AlertEventResolved   AlertEventType = "alert.resolved"
)
