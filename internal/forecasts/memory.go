package forecasts

import (
	"context"
	"sort"
	"sync"
	"time"

	"hyperlocal/internal/types"
)

// MemoryStore keeps samples in one shard per location. Each shard has its
// own lock, so ingestion for one location never blocks reads of another, and
// a batch for a location becomes visible all at once.
type MemoryStore struct {
	locations LocationChecker

	mu     sync.RWMutex
	shards map[string]*shard
}

type shard struct {
	mu      sync.RWMutex
	samples []types.ForecastSample // ascending by ForecastTime
}

// NewMemoryStore returns an empty store that validates locations through lc.
func NewMemoryStore(lc LocationChecker) *MemoryStore {
	return &MemoryStore{
		locations: lc,
		shards:    make(map[string]*shard),
	}
}

func (m *MemoryStore) Append(ctx context.Context, s types.ForecastSample) error {
	return m.AppendBatch(ctx, []types.ForecastSample{s})
}

func (m *MemoryStore) AppendBatch(ctx context.Context, samples []types.ForecastSample) error {
	grouped := make(map[string][]types.ForecastSample)
	order := make([]string, 0, 1)
	for _, s := range samples {
		s = normalize(s)
		if err := types.ValidateSample(s); err != nil {
			return err
		}
		if _, seen := grouped[s.LocationID]; !seen {
			ok, err := m.locations.Exists(ctx, s.LocationID)
			if err != nil {
				return err
			}
			if !ok {
				return unknownLocation(s.LocationID)
			}
			order = append(order, s.LocationID)
		}
		grouped[s.LocationID] = append(grouped[s.LocationID], s)
	}

	for _, id := range order {
		sh := m.shardFor(id, true)
		sh.mu.Lock()
		for _, s := range grouped[id] {
			sh.upsert(s)
		}
		sh.mu.Unlock()
	}
	return nil
}

func (m *MemoryStore) Query(_ context.Context, locationID string, from, to time.Time) ([]types.ForecastSample, error) {
	out := []types.ForecastSample{}
	sh := m.shardFor(locationID, false)
	if sh == nil {
		return out, nil
	}

	sh.mu.RLock()
	defer sh.mu.RUnlock()
	start := sort.Search(len(sh.samples), func(i int) bool {
		return !sh.samples[i].ForecastTime.Before(from)
	})
	for _, s := range sh.samples[start:] {
		if !to.IsZero() && s.ForecastTime.After(to) {
			break
		}
		out = append(out, cloneSample(s))
	}
	return out, nil
}

func (m *MemoryStore) Latest(_ context.Context, locationID string) (*types.ForecastSample, error) {
	sh := m.shardFor(locationID, false)
	if sh == nil {
		return nil, noForecast(locationID)
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	if len(sh.samples) == 0 {
		return nil, noForecast(locationID)
	}
	s := cloneSample(sh.samples[len(sh.samples)-1])
	return &s, nil
}

func (m *MemoryStore) Locations(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.shards))
	for id := range m.shards {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) Prune(_ context.Context, before time.Time) (int, error) {
	m.mu.RLock()
	shards := make([]*shard, 0, len(m.shards))
	for _, sh := range m.shards {
		shards = append(shards, sh)
	}
	m.mu.RUnlock()

	removed := 0
	for _, sh := range shards {
		sh.mu.Lock()
		cut := sort.Search(len(sh.samples), func(i int) bool {
			return !sh.samples[i].ForecastTime.Before(before)
		})
		if cut > 0 {
			sh.samples = append([]types.ForecastSample(nil), sh.samples[cut:]...)
			removed += cut
		}
		sh.mu.Unlock()
	}
	return removed, nil
}

// PurgeLocation drops every sample of a deregistered location.
func (m *MemoryStore) PurgeLocation(_ context.Context, locationID string) error {
	m.mu.Lock()
	delete(m.shards, locationID)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) shardFor(locationID string, create bool) *shard {
	m.mu.RLock()
	sh := m.shards[locationID]
	m.mu.RUnlock()
	if sh != nil || !create {
		return sh
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if sh = m.shards[locationID]; sh == nil {
		sh = &shard{}
		m.shards[locationID] = sh
	}
	return sh
}

// upsert inserts s in time order, overwriting an equal timestamp.
// Caller holds sh.mu.
func (sh *shard) upsert(s types.ForecastSample) {
	i := sort.Search(len(sh.samples), func(i int) bool {
		return !sh.samples[i].ForecastTime.Before(s.ForecastTime)
	})
	if i < len(sh.samples) && sh.samples[i].ForecastTime.Equal(s.ForecastTime) {
		sh.samples[i] = s
		return
	}
	sh.samples = append(sh.samples, types.ForecastSample{})
	copy(sh.samples[i+1:], sh.samples[i:])
	sh.samples[i] = s
}

func normalize(s types.ForecastSample) types.ForecastSample {
	s.ForecastTime = types.NormalizeSampleTime(s.ForecastTime)
	if s.RiskScore != nil {
		v := *s.RiskScore
		s.RiskScore = &v
	}
	return s
}

func cloneSample(s types.ForecastSample) types.ForecastSample {
	if s.RiskScore != nil {
		v := *s.RiskScore
		s.RiskScore = &v
	}
	return s
}
