package engine

import (
	"context"
	"sync"

	"hyperlocal/internal/types"
)

// StreakStore persists per-trigger streak state. Get returns a dormant state
// for a trigger that has none.
type StreakStore interface {
	Get(ctx context.Context, triggerID string) (types.StreakState, error)
	Put(ctx context.Context, s types.StreakState) error
	Delete(ctx context.Context, triggerID string) error
}

// DormantState is the state of a trigger that has seen no samples.
func DormantState(triggerID string) types.StreakState {
	return types.StreakState{TriggerID: triggerID, Phase: types.PhaseDormant}
}

// MemoryStreakStore keeps streak state in process memory.
type MemoryStreakStore struct {
	mu     sync.RWMutex
	states map[string]types.StreakState
}

// NewMemoryStreakStore returns an empty store.
func NewMemoryStreakStore() *MemoryStreakStore {
	return &MemoryStreakStore{states: make(map[string]types.StreakState)}
}

func (m *MemoryStreakStore) Get(_ context.Context, triggerID string) (types.StreakState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[triggerID]
	if !ok {
		return DormantState(triggerID), nil
	}
	return s, nil
}

func (m *MemoryStreakStore) Put(_ context.Context, s types.StreakState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[s.TriggerID] = s
	return nil
}

func (m *MemoryStreakStore) Delete(_ context.Context, triggerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, triggerID)
	return nil
}
