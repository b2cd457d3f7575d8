package types

import (
	"testing"
	"time"
)

func TestStreakStateRemember(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	hour := func(h int) time.Time { return t0.Add(time.Duration(h) * time.Hour) }

	var s StreakState
	s.Remember(hour(2), true)
	s.Remember(hour(0), false)
	s.Remember(hour(1), true)

	for h, want := range []bool{false, true, true} {
		got, ok := s.OutcomeAt(hour(h))
		if !ok || got != want {
			t.Errorf("OutcomeAt(h%d) = %v, %v; want %v, true", h, got, ok, want)
		}
	}
	if _, ok := s.OutcomeAt(hour(3)); ok {
		t.Error("OutcomeAt(h3) found an outcome that was never recorded")
	}

	shared := s
	s.Remember(hour(1), false)
	if got, _ := s.OutcomeAt(hour(1)); got {
		t.Error("overwrite did not replace the outcome at h1")
	}
	if got, _ := shared.OutcomeAt(hour(1)); !got {
		t.Error("overwrite changed a copy of the state")
	}
	if len(s.Recent) != 3 {
		t.Errorf("len(Recent) = %d, want 3", len(s.Recent))
	}
}

func TestStreakStateRememberDropsOldest(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	var s StreakState
	for h := 0; h < MaxRecentOutcomes+10; h++ {
		s.Remember(t0.Add(time.Duration(h)*time.Hour), true)
	}

	if len(s.Recent) != MaxRecentOutcomes {
		t.Fatalf("len(Recent) = %d, want %d", len(s.Recent), MaxRecentOutcomes)
	}
	if _, ok := s.OutcomeAt(t0.Add(9 * time.Hour)); ok {
		t.Error("outcome at h9 should have been dropped")
	}
	if _, ok := s.OutcomeAt(t0.Add(10 * time.Hour)); !ok {
		t.Error("outcome at h10 should be kept")
	}
}
