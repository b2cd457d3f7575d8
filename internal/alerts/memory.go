package alerts

import (
	"context"
	"sort"
	"sync"
	"time"

	"hyperlocal/internal/types"
)

// MemoryStore keeps alerts in process memory. openByTrigger is the index that
// makes Open a conditional insert.
type MemoryStore struct {
	mu            sync.RWMutex
	byID          map[string]*types.Alert
	openByTrigger map[string]string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:          make(map[string]*types.Alert),
		openByTrigger: make(map[string]string),
	}
}

func (m *MemoryStore) Open(_ context.Context, a types.Alert) (*types.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.openByTrigger[a.TriggerID]; ok {
		return nil, openConflict(a.TriggerID, existing)
	}
	stored := clone(a)
	stored.Resolved = false
	stored.ResolvedAt = nil
	m.byID[stored.ID] = &stored
	m.openByTrigger[stored.TriggerID] = stored.ID
	out := clone(stored)
	return &out, nil
}

func (m *MemoryStore) Update(_ context.Context, id string, snap types.AlertSnapshot) (*types.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return nil, notFound(id)
	}
	if a.Resolved {
		return nil, resolvedConflict(id)
	}
	snap.Apply(a)
	out := clone(*a)
	return &out, nil
}

func (m *MemoryStore) Resolve(_ context.Context, id string, at time.Time) (*types.Alert, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return nil, false, notFound(id)
	}
	if a.Resolved {
		out := clone(*a)
		return &out, false, nil
	}
	at = at.UTC()
	a.Resolved = true
	a.ResolvedAt = &at
	a.UpdatedAt = at
	if m.openByTrigger[a.TriggerID] == id {
		delete(m.openByTrigger, a.TriggerID)
	}
	out := clone(*a)
	return &out, true, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*types.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.byID[id]
	if !ok {
		return nil, notFound(id)
	}
	out := clone(*a)
	return &out, nil
}

func (m *MemoryStore) OpenForTrigger(_ context.Context, triggerID string) (*types.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.openByTrigger[triggerID]
	if !ok {
		return nil, noOpenAlert(triggerID)
	}
	out := clone(*m.byID[id])
	return &out, nil
}

func (m *MemoryStore) List(_ context.Context, f Filter) ([]types.Alert, error) {
	m.mu.RLock()
	out := make([]types.Alert, 0, len(m.byID))
	for _, a := range m.byID {
		if matches(a, f) {
			out = append(out, clone(*a))
		}
	}
	m.mu.RUnlock()

	sortNewestFirst(out)
	return out, nil
}

func (m *MemoryStore) CountOpen(_ context.Context, locationID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, id := range m.openByTrigger {
		if m.byID[id].LocationID == locationID {
			n++
		}
	}
	return n, nil
}

// PurgeLocation drops the alert history of a deregistered location.
func (m *MemoryStore) PurgeLocation(_ context.Context, locationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, a := range m.byID {
		if a.LocationID != locationID {
			continue
		}
		if m.openByTrigger[a.TriggerID] == id {
			delete(m.openByTrigger, a.TriggerID)
		}
		delete(m.byID, id)
	}
	return nil
}

func matches(a *types.Alert, f Filter) bool {
	if f.ActiveOnly && a.Resolved {
		return false
	}
	if f.LocationID != "" && a.LocationID != f.LocationID {
		return false
	}
	if f.TriggerID != "" && a.TriggerID != f.TriggerID {
		return false
	}
	if f.RiskLevel != "" && a.RiskLevel != f.RiskLevel {
		return false
	}
	return true
}

func sortNewestFirst(list []types.Alert) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].TriggeredAt.Equal(list[j].TriggeredAt) {
			return list[i].ID > list[j].ID
		}
		return list[i].TriggeredAt.After(list[j].TriggeredAt)
	})
}

func clone(a types.Alert) types.Alert {
	a.PrescriptiveActions = append([]string{}, a.PrescriptiveActions...)
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		a.ResolvedAt = &t
	}
	return a
}
