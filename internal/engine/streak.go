package engine

import (
	"fmt"
	"strconv"
	"time"

	"hyperlocal/internal/types"
)

// advance applies one sample outcome at t to s.
//
// A failing sample ends any streak and drops the phase to dormant. A
// qualifying sample extends the streak when the previous sample also
// qualified and is no more than maxGap older; otherwise the streak restarts
// at t. A fired trigger stays fired while samples keep qualifying.
func advance(s types.StreakState, t time.Time, qualifies bool, duration int, resolution, maxGap time.Duration) types.StreakState {
	next := s
	next.LastSampleTime = t
	next.LastQualified = qualifies

	if !qualifies {
		next.Phase = types.PhaseDormant
		next.ConsecutiveSamples = 0
		next.StreakStart = time.Time{}
		return next
	}

	continuing := s.ConsecutiveSamples > 0 &&
		s.LastQualified &&
		!s.LastSampleTime.IsZero() &&
		t.Sub(s.LastSampleTime) <= maxGap
	if continuing {
		next.ConsecutiveSamples++
	} else {
		next.ConsecutiveSamples = 1
		next.StreakStart = t
	}

	if s.Phase == types.PhaseFired {
		return next
	}
	if next.QualifyingHours(resolution) >= float64(duration) {
		next.Phase = types.PhaseFired
		next.NormalizedNoted = false
	} else {
		next.Phase = types.PhaseAccumulating
	}
	return next
}

// sampleRelation classifies a sample against the last one the streak saw.
type sampleRelation int

const (
	relationNext sampleRelation = iota
	relationRepeat
	relationStale
	relationRebuild
)

// relate decides how a sample at t with the given outcome affects s without
// reading history. Only a changed outcome inside the live streak window needs
// a rebuild:
//   - samples before the re-arm point belong to a resolved alert;
//   - when the newest sample failed, the trigger is dormant whatever came before;
//   - a sample more than maxGap before the streak start cannot join the streak;
//   - a re-delivered sample with its recorded outcome changes nothing.
func relate(s types.StreakState, t time.Time, qualifies bool, maxGap time.Duration) sampleRelation {
	switch {
	case s.LastSampleTime.IsZero() || t.After(s.LastSampleTime):
		return relationNext
	case t.Equal(s.LastSampleTime):
		if qualifies == s.LastQualified {
			return relationRepeat
		}
		return relationRebuild
	case !s.RearmedAt.IsZero() && t.Before(s.RearmedAt):
		return relationStale
	case !s.LastQualified || s.ConsecutiveSamples == 0:
		return relationStale
	case t.Before(s.StreakStart.Add(-maxGap)):
		return relationStale
	}
	if recorded, ok := s.OutcomeAt(t); ok && recorded == qualifies {
		return relationStale
	}
	return relationRebuild
}

// Message renders the alert message for a measurement against a trigger,
// e.g. "rainfall threshold exceeded: 60 gt 50".
func Message(t types.Trigger, value float64) string {
	verb := "exceeded"
	if !t.ThresholdOperator.Exceeding() {
		verb = "undercut"
	}
	return fmt.Sprintf("%s threshold %s: %s %s %s",
		t.TriggerType, verb, formatValue(value), t.ThresholdOperator, formatValue(t.ThresholdValue))
}

// NormalizedNote is appended once to an open alert whose conditions stopped
// holding.
func NormalizedNote(at time.Time) string {
	return "; conditions normalized at " + at.UTC().Format(time.RFC3339)
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
