// Package engine evaluates forecast samples against active triggers and drives
// the alert lifecycle.
//
// Each trigger has a streak state machine with three phases:
//
//	dormant -> accumulating   qualifying sample
//	accumulating -> dormant   failing sample (no partial credit)
//	accumulating -> fired     qualifying hours reach duration_hours; alert opened
//	fired -> fired            qualifying sample; open alert updated in place
//	fired -> dormant          failing sample; alert stays open, note appended once
//
// Evaluations of one trigger are serialized by a KeyedMutex and backed by the
// alert store's conditional Open, so a trigger never has two open alerts.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"hyperlocal/internal/risk"
	"hyperlocal/internal/types"
)

// Outcome labels the result of evaluating one trigger against one sample.
type Outcome string

const (
	OutcomeNoop         Outcome = "noop"
	OutcomeDormant      Outcome = "dormant"
	OutcomeAccumulating Outcome = "accumulating"
	OutcomeOpened       Outcome = "opened"
	OutcomeUpdated      Outcome = "updated"
	OutcomeNormalized   Outcome = "normalized"
	OutcomeFailed       Outcome = "failed"
)

// TriggerLister returns the active triggers bound to a location.
type TriggerLister interface {
	ListActive(ctx context.Context, locationID string) ([]types.Trigger, error)
}

// SampleReader reads retained samples when a streak must be rebuilt.
type SampleReader interface {
	Query(ctx context.Context, locationID string, from, to time.Time) ([]types.ForecastSample, error)
}

// AlertStore is the subset of alerts.Store the engine writes through.
type AlertStore interface {
	Open(ctx context.Context, a types.Alert) (*types.Alert, error)
	Update(ctx context.Context, id string, snap types.AlertSnapshot) (*types.Alert, error)
	OpenForTrigger(ctx context.Context, triggerID string) (*types.Alert, error)
}

// Scorer scores one sample against one trigger.
type Scorer interface {
	Score(sample types.ForecastSample, trigger types.Trigger) float64
}

// EventPublisher receives alert lifecycle events.
type EventPublisher interface {
	Publish(ctx context.Context, evt types.AlertEvent) error
}

// Metrics records evaluation outcomes and phase transitions.
type Metrics interface {
	ObserveEvaluation(outcome Outcome, d time.Duration)
	ObserveTransition(from, to types.StreakPhase)
}

// Config holds the tunables of the engine.
type Config struct {
	// SampleResolution is the span each sample is taken to cover.
	SampleResolution time.Duration
	// MaxSampleGap is the largest gap between samples that keeps a streak.
	MaxSampleGap time.Duration
	// Concurrency bounds the per-trigger fan-out of one evaluation.
	Concurrency int
}

// Deps are the collaborators of the engine. Publisher and Metrics are optional.
type Deps struct {
	Triggers  TriggerLister
	Samples   SampleReader
	Alerts    AlertStore
	Streaks   StreakStore
	Scorer    Scorer
	Actions   risk.ActionRegistry
	Publisher EventPublisher
	Metrics   Metrics
}

// Report summarizes one EvaluateSample call.
type Report struct {
	Evaluated  int
	Opened     int
	Updated    int
	Normalized int
	Failed     int
}

func (r *Report) add(o Outcome) {
	r.Evaluated++
	switch o {
	case OutcomeOpened:
		r.Opened++
	case OutcomeUpdated:
		r.Updated++
	case OutcomeNormalized:
		r.Normalized++
	case OutcomeFailed:
		r.Failed++
	}
}

// Engine evaluates samples against the active triggers of their location.
type Engine struct {
	cfg    Config
	deps   Deps
	locks  *KeyedMutex
	clock  types.Clock
	logger *slog.Logger
}

// New creates an Engine.
func New(cfg Config, deps Deps, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SampleResolution <= 0 {
		cfg.SampleResolution = time.Hour
	}
	if cfg.MaxSampleGap < cfg.SampleResolution {
		cfg.MaxSampleGap = 3 * cfg.SampleResolution
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if deps.Metrics == nil {
		deps.Metrics = noopMetrics{}
	}
	return &Engine{
		cfg:    cfg,
		deps:   deps,
		locks:  NewKeyedMutex(),
		clock:  types.RealClock{},
		logger: logger,
	}
}

// SetClock overrides the time source used for event timestamps.
func (e *Engine) SetClock(c types.Clock) {
	e.clock = c
}

// EvaluateSample re-checks every active trigger of the sample's location.
// Failures are isolated per trigger and counted in the report; only a failure
// to list triggers is returned as an error.
func (e *Engine) EvaluateSample(ctx context.Context, sample types.ForecastSample) (Report, error) {
	var report Report
	triggers, err := e.deps.Triggers.ListActive(ctx, sample.LocationID)
	if err != nil {
		return report, fmt.Errorf("list active triggers for %s: %w", sample.LocationID, err)
	}
	if len(triggers) == 0 {
		return report, nil
	}

	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)

	for _, trigger := range triggers {
		trigger := trigger
		g.Go(func() error {
			start := time.Now()
			outcome, err := e.evaluateTrigger(gCtx, trigger, sample)
			if err != nil {
				e.logger.ErrorContext(gCtx, "trigger evaluation failed",
					"trigger_id", trigger.ID,
					"location_id", trigger.LocationID,
					"forecast_time", sample.ForecastTime,
					"error", err,
				)
				outcome = OutcomeFailed
			}
			e.deps.Metrics.ObserveEvaluation(outcome, time.Since(start))

			mu.Lock()
			report.add(outcome)
			mu.Unlock()
			// Errors stay in the report so other triggers keep running.
			return nil
		})
	}
	_ = g.Wait()
	return report, nil
}

// ResetStreak clears the streak state of a trigger. It is called when a
// trigger is activated or deactivated.
func (e *Engine) ResetStreak(ctx context.Context, triggerID string) error {
	unlock := e.locks.Lock(triggerID)
	defer unlock()
	return e.deps.Streaks.Delete(ctx, triggerID)
}

func (e *Engine) evaluateTrigger(ctx context.Context, trigger types.Trigger, sample types.ForecastSample) (Outcome, error) {
	unlock := e.locks.Lock(trigger.ID)
	defer unlock()

	prev, err := e.deps.Streaks.Get(ctx, trigger.ID)
	if err != nil {
		return OutcomeFailed, err
	}
	if prev.Phase == "" {
		prev.Phase = types.PhaseDormant
	}

	current := sample
	qualifies := e.qualifies(trigger, sample)
	var next types.StreakState

	relation := relate(prev, sample.ForecastTime, qualifies, e.cfg.MaxSampleGap)
	switch relation {
	case relationStale:
		return OutcomeNoop, nil
	case relationRepeat:
		if prev.Phase != types.PhaseFired {
			return OutcomeNoop, nil
		}
		next = prev
	case relationRebuild:
		next, current, err = e.rebuild(ctx, trigger, prev, sample)
		if err != nil {
			return OutcomeFailed, err
		}
	default:
		next = e.step(prev, trigger, sample.ForecastTime, qualifies)
		next.Remember(sample.ForecastTime, qualifies)
	}

	outcome, next, err := e.reconcile(ctx, trigger, prev, next, current)
	if err != nil {
		return OutcomeFailed, err
	}
	if relation == relationRepeat && outcome == OutcomeNoop {
		return OutcomeNoop, nil
	}
	if err := e.deps.Streaks.Put(ctx, next); err != nil {
		return OutcomeFailed, err
	}
	if prev.Phase != next.Phase {
		e.deps.Metrics.ObserveTransition(prev.Phase, next.Phase)
		e.logger.InfoContext(ctx, "trigger phase changed",
			"trigger_id", trigger.ID,
			"location_id", trigger.LocationID,
			"from", prev.Phase,
			"to", next.Phase,
			"forecast_time", current.ForecastTime,
		)
	}
	return outcome, nil
}

func (e *Engine) step(s types.StreakState, trigger types.Trigger, t time.Time, qualifies bool) types.StreakState {
	return advance(s, t, qualifies, trigger.DurationHours, e.cfg.SampleResolution, e.cfg.MaxSampleGap)
}

func (e *Engine) qualifies(trigger types.Trigger, sample types.ForecastSample) bool {
	value, ok := risk.Measurement(sample, trigger.TriggerType)
	return ok && trigger.ThresholdOperator.Holds(value, trigger.ThresholdValue)
}

// rebuild recomputes the streak after a changed outcome inside the live
// window. It replays samples from MaxSampleGap before the streak start, never
// earlier than the re-arm point, up to the newest sample seen. An
// accumulating streak that begins at the first replayed sample may continue
// further back, so the window then widens one duration at a time.
//
// It returns the rebuilt state and the newest replayed sample.
func (e *Engine) rebuild(ctx context.Context, trigger types.Trigger, prev types.StreakState, sample types.ForecastSample) (types.StreakState, types.ForecastSample, error) {
	anchor := prev.LastSampleTime
	if prev.LastQualified && prev.ConsecutiveSamples > 0 {
		anchor = prev.StreakStart
	}
	if sample.ForecastTime.Before(anchor) {
		anchor = sample.ForecastTime
	}
	floor := prev.RearmedAt
	from := later(anchor.Add(-e.cfg.MaxSampleGap), floor)
	to := prev.LastSampleTime
	if sample.ForecastTime.After(to) {
		to = sample.ForecastTime
	}

	samples, err := e.window(ctx, trigger, from, to)
	if err != nil {
		return prev, sample, err
	}
	if len(samples) == 0 {
		samples = []types.ForecastSample{sample}
	}

	// A fired trigger stays fired across the replay unless a sample fails.
	seed := DormantState(trigger.ID)
	if prev.Phase == types.PhaseFired {
		seed.Phase = types.PhaseFired
	}
	seed.NormalizedNoted = prev.NormalizedNoted

	s := e.replay(seed, trigger, samples)
	widen := e.cfg.SampleResolution * time.Duration(trigger.DurationHours)
	if widen < e.cfg.MaxSampleGap {
		widen = e.cfg.MaxSampleGap
	}
	for s.Phase == types.PhaseAccumulating && s.StreakStart.Equal(samples[0].ForecastTime) {
		head := samples[0].ForecastTime
		if !floor.IsZero() && !head.After(floor) {
			break
		}
		earlier, err := e.window(ctx, trigger, later(head.Add(-widen), floor), head.Add(-time.Second))
		if err != nil {
			return prev, sample, err
		}
		if len(earlier) == 0 || head.Sub(earlier[len(earlier)-1].ForecastTime) > e.cfg.MaxSampleGap {
			break
		}
		samples = append(earlier, samples...)
		s = e.replay(seed, trigger, samples)
	}

	s.RearmedAt = prev.RearmedAt
	s.Recent = prev.Recent
	for _, smp := range samples {
		s.Remember(smp.ForecastTime, e.qualifies(trigger, smp))
	}
	e.logger.DebugContext(ctx, "streak rebuilt",
		"trigger_id", trigger.ID,
		"from", samples[0].ForecastTime,
		"samples", len(samples),
		"phase", s.Phase,
	)
	return s, samples[len(samples)-1], nil
}

// window reads the retained samples in [from, to] in time order.
func (e *Engine) window(ctx context.Context, trigger types.Trigger, from, to time.Time) ([]types.ForecastSample, error) {
	samples, err := e.deps.Samples.Query(ctx, trigger.LocationID, from, to)
	if err != nil {
		return nil, fmt.Errorf("replay samples for %s: %w", trigger.ID, err)
	}
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].ForecastTime.Before(samples[j].ForecastTime)
	})
	return samples, nil
}

func (e *Engine) replay(seed types.StreakState, trigger types.Trigger, samples []types.ForecastSample) types.StreakState {
	s := seed
	for _, smp := range samples {
		s = e.step(s, trigger, smp.ForecastTime, e.qualifies(trigger, smp))
	}
	return s
}

func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

// reconcile brings the alert store in line with the phase change prev->next
// and returns the state to persist.
func (e *Engine) reconcile(ctx context.Context, trigger types.Trigger, prev, next types.StreakState, sample types.ForecastSample) (Outcome, types.StreakState, error) {
	switch {
	case next.Phase == types.PhaseFired && prev.Phase == types.PhaseFired:
		open, err := e.deps.Alerts.OpenForTrigger(ctx, trigger.ID)
		if types.IsNotFound(err) {
			// Resolved by a user while conditions held; a new alert needs a
			// full duration again, counted from this sample.
			rearmed := e.step(DormantState(trigger.ID), trigger, sample.ForecastTime, true)
			rearmed.RearmedAt = sample.ForecastTime
			rearmed.Recent = next.Recent
			if rearmed.Phase != types.PhaseFired {
				return OutcomeAccumulating, rearmed, nil
			}
			return e.openAlert(ctx, trigger, rearmed, sample)
		}
		if err != nil {
			return OutcomeFailed, prev, err
		}
		snap := e.snapshot(trigger, sample)
		if sample.ForecastTime.Equal(prev.LastSampleTime) && unchanged(open, snap) {
			// Re-evaluation of the sample the alert already reflects.
			return OutcomeNoop, next, nil
		}
		if err := e.updateAlert(ctx, open, snap, types.AlertEventUpdated); err != nil {
			return OutcomeFailed, prev, err
		}
		return OutcomeUpdated, next, nil

	case next.Phase == types.PhaseFired:
		return e.openAlert(ctx, trigger, next, sample)

	case prev.Phase == types.PhaseFired && !next.NormalizedNoted:
		open, err := e.deps.Alerts.OpenForTrigger(ctx, trigger.ID)
		if types.IsNotFound(err) {
			return OutcomeDormant, next, nil
		}
		if err != nil {
			return OutcomeFailed, prev, err
		}
		snap := types.AlertSnapshot{
			RiskLevel:           open.RiskLevel,
			RiskScore:           open.RiskScore,
			Message:             open.Message + NormalizedNote(sample.ForecastTime),
			CurrentValue:        open.CurrentValue,
			PrescriptiveActions: open.PrescriptiveActions,
			At:                  e.clock.Now(),
		}
		if err := e.updateAlert(ctx, open, snap, types.AlertEventNormalized); err != nil {
			return OutcomeFailed, prev, err
		}
		next.NormalizedNoted = true
		return OutcomeNormalized, next, nil

	case next.Phase == types.PhaseAccumulating:
		return OutcomeAccumulating, next, nil
	default:
		return OutcomeDormant, next, nil
	}
}

// openAlert opens a new alert, falling back to updating the open one when
// the store reports a conflict.
func (e *Engine) openAlert(ctx context.Context, trigger types.Trigger, next types.StreakState, sample types.ForecastSample) (Outcome, types.StreakState, error) {
	snap := e.snapshot(trigger, sample)
	a := types.Alert{
		ID:             types.NewID(types.AlertIDPrefix),
		TriggerID:      trigger.ID,
		LocationID:     trigger.LocationID,
		ThresholdValue: trigger.ThresholdValue,
		TriggeredAt:    snap.At,
	}
	snap.Apply(&a)

	opened, err := e.deps.Alerts.Open(ctx, a)
	if err == nil {
		e.logger.InfoContext(ctx, "alert opened",
			"alert_id", opened.ID,
			"trigger_id", trigger.ID,
			"location_id", trigger.LocationID,
			"risk_level", opened.RiskLevel,
			"risk_score", opened.RiskScore,
		)
		e.publish(ctx, types.AlertEventOpened, *opened)
		return OutcomeOpened, next, nil
	}
	if !types.IsConflict(err) {
		return OutcomeFailed, next, err
	}

	open, err := e.deps.Alerts.OpenForTrigger(ctx, trigger.ID)
	if err != nil {
		return OutcomeFailed, next, storageFailure(trigger.ID, err)
	}
	if err := e.updateAlert(ctx, open, snap, types.AlertEventUpdated); err != nil {
		return OutcomeFailed, next, storageFailure(trigger.ID, err)
	}
	return OutcomeUpdated, next, nil
}

func (e *Engine) updateAlert(ctx context.Context, open *types.Alert, snap types.AlertSnapshot, evt types.AlertEventType) error {
	updated, err := e.deps.Alerts.Update(ctx, open.ID, snap)
	if err != nil {
		return err
	}
	e.publish(ctx, evt, *updated)
	return nil
}

// unchanged reports whether applying snap would leave the open alert as it is.
func unchanged(open *types.Alert, snap types.AlertSnapshot) bool {
	return open.RiskLevel == snap.RiskLevel &&
		open.RiskScore == snap.RiskScore &&
		open.Message == snap.Message &&
		open.CurrentValue == snap.CurrentValue &&
		slices.Equal(open.PrescriptiveActions, snap.PrescriptiveActions)
}

func (e *Engine) snapshot(trigger types.Trigger, sample types.ForecastSample) types.AlertSnapshot {
	value, _ := risk.Measurement(sample, trigger.TriggerType)
	score := e.deps.Scorer.Score(sample, trigger)
	level := risk.LevelFor(score)
	return types.AlertSnapshot{
		RiskLevel:           level,
		RiskScore:           score,
		Message:             Message(trigger, value),
		CurrentValue:        value,
		PrescriptiveActions: e.deps.Actions.Actions(trigger.TriggerType, level),
		At:                  e.clock.Now(),
	}
}

func (e *Engine) publish(ctx context.Context, typ types.AlertEventType, a types.Alert) {
	if e.deps.Publisher == nil {
		return
	}
	evt := types.AlertEvent{Type: typ, Alert: a, OccurredAt: e.clock.Now()}
	if err := e.deps.Publisher.Publish(ctx, evt); err != nil {
		e.logger.WarnContext(ctx, "failed to publish alert event",
			"event", typ, "alert_id", a.ID, "error", err)
	}
}

func storageFailure(triggerID string, err error) error {
	return types.NewAppErrorWithDetails(types.ErrCodeInternalDB, "failed to reconcile open alert", err,
		map[string]any{"trigger_id": triggerID})
}

type noopMetrics struct{}

func (noopMetrics) ObserveEvaluation(Outcome, time.Duration) {}
func (noopMetrics) ObserveTransition(types.StreakPhase, types.StreakPhase) {}
