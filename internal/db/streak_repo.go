package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"hyperlocal/internal/engine"
	"hyperlocal/internal/types"
)

// StreakRepository implements engine.StreakStore on trigger_streaks.
type StreakRepository struct {
	db DBTX
}

// NewStreakRepository creates a StreakRepository.
func NewStreakRepository(db DBTX) *StreakRepository {
	return &StreakRepository{db: db}
}

// Get returns the stored state, or a dormant state when none exists.
func (r *StreakRepository) Get(ctx context.Context, triggerID string) (types.StreakState, error) {
	var (
		s                    types.StreakState
		start, last, rearmed *time.Time
		recentJSON           []byte
	)
	err := r.db.QueryRow(ctx,
		`SELECT trigger_id, phase, consecutive_samples, streak_start, last_sample_time, last_qualified,
		        normalized_noted, rearmed_at, recent
		 FROM trigger_streaks WHERE trigger_id = $1`,
		triggerID,
	).Scan(&s.TriggerID, &s.Phase, &s.ConsecutiveSamples, &start, &last, &s.LastQualified,
		&s.NormalizedNoted, &rearmed, &recentJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return engine.DormantState(triggerID), nil
		}
		return types.StreakState{}, dbError("failed to read streak state", err)
	}
	s.StreakStart = fromNullTime(start)
	s.LastSampleTime = fromNullTime(last)
	s.RearmedAt = fromNullTime(rearmed)
	if len(recentJSON) > 0 {
		if err := json.Unmarshal(recentJSON, &s.Recent); err != nil {
			return types.StreakState{}, dbError("failed to decode recent outcomes", err)
		}
	}
	return s, nil
}

func (r *StreakRepository) Put(ctx context.Context, s types.StreakState) error {
	recent := s.Recent
	if recent == nil {
		recent = []types.SampleOutcome{}
	}
	recentJSON, err := json.Marshal(recent)
	if err != nil {
		return fmt.Errorf("encode recent outcomes for %s: %w", s.TriggerID, err)
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO trigger_streaks (trigger_id, phase, consecutive_samples, streak_start, last_sample_time,
		                              last_qualified, normalized_noted, rearmed_at, recent)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (trigger_id) DO UPDATE
		   SET phase = EXCLUDED.phase,
		       consecutive_samples = EXCLUDED.consecutive_samples,
		       streak_start = EXCLUDED.streak_start,
		       last_sample_time = EXCLUDED.last_sample_time,
		       last_qualified = EXCLUDED.last_qualified,
		       normalized_noted = EXCLUDED.normalized_noted,
		       rearmed_at = EXCLUDED.rearmed_at,
		       recent = EXCLUDED.recent`,
		s.TriggerID, string(s.Phase), s.ConsecutiveSamples, nullTime(s.StreakStart), nullTime(s.LastSampleTime),
		s.LastQualified, s.NormalizedNoted, nullTime(s.RearmedAt), recentJSON,
	)
	if err != nil {
		return dbError("failed to store streak state", err)
	}
	return nil
}

func (r *StreakRepository) Delete(ctx context.Context, triggerID string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM trigger_streaks WHERE trigger_id = $1`, triggerID); err != nil {
		return dbError("failed to delete streak state", err)
	}
	return nil
}
