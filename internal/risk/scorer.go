// Package risk maps forecast samples to bounded risk scores, risk levels and
// prescriptive actions.
//
// The score for a sample against a trigger is
//
//	clamp(distance / span, 0, 1)
//
// where distance is how far the measurement lies past the threshold in the
// unsafe direction (value-threshold for gt/gte, threshold-value for lt/lte)
// and span = max(|threshold| * factor, min) for the trigger type. With the
// default rainfall and wind factors of 1.0 the score reaches 1 when the
// measurement doubles the threshold. Temperature uses a fixed 10 degree span
// because thresholds near zero make doubling meaningless.
package risk

import (
	"math"

	"hyperlocal/internal/types"
)

// Level boundaries. These are part of the public contract of the API.
const (
	MediumFrom   = 0.2
	HighFrom     = 0.4
	CriticalFrom = 0.7
)

// Scorer computes risk scores. It is immutable after construction and safe
// for concurrent use.
type Scorer struct {
	spans map[types.TriggerType]Span
}

// NewScorer builds a Scorer from the span section of a policy.
func NewScorer(p Policy) *Scorer {
	spans := make(map[types.TriggerType]Span, len(p.Spans))
	for k, v := range p.Spans {
		spans[k] = v
	}
	return &Scorer{spans: spans}
}

// Score returns the risk score of sample for trigger, in [0,1].
func (s *Scorer) Score(sample types.ForecastSample, trigger types.Trigger) float64 {
	value, ok := Measurement(sample, trigger.TriggerType)
	if !ok {
		return 0
	}
	return s.ScoreValue(value, trigger)
}

// ScoreValue scores a raw measurement against trigger.
func (s *Scorer) ScoreValue(value float64, trigger types.Trigger) float64 {
	distance := value - trigger.ThresholdValue
	if !trigger.ThresholdOperator.Exceeding() {
		distance = -distance
	}
	if distance <= 0 || math.IsNaN(distance) {
		return 0
	}
	return clamp(distance/s.span(trigger), 0, 1)
}

// MaxScore returns the highest score of sample across triggers, 0 when empty.
func (s *Scorer) MaxScore(sample types.ForecastSample, triggers []types.Trigger) float64 {
	best := 0.0
	for _, t := range triggers {
		if score := s.Score(sample, t); score > best {
			best = score
		}
	}
	return best
}

func (s *Scorer) span(trigger types.Trigger) float64 {
	sp, ok := s.spans[trigger.TriggerType]
	if !ok {
		sp = fallbackSpan
	}
	return math.Max(math.Abs(trigger.ThresholdValue)*sp.Factor, sp.Min)
}

// LevelFor buckets a score: <0.2 low, [0.2,0.4) medium, [0.4,0.7) high, >=0.7 critical.
func LevelFor(score float64) types.RiskLevel {
	switch {
	case score >= CriticalFrom:
		return types.RiskCritical
	case score >= HighFrom:
		return types.RiskHigh
	case score >= MediumFrom:
		return types.RiskMedium
	default:
		return types.RiskLow
	}
}

// Measurement selects the sample field a trigger type watches.
func Measurement(sample types.ForecastSample, t types.TriggerType) (float64, bool) {
	switch t {
	case types.TriggerRainfall:
		return sample.RainfallAmount, true
	case types.TriggerWindSpeed:
		return sample.WindSpeed, true
	case types.TriggerTemperature:
		return sample.Temperature, true
	}
	return 0, false
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
