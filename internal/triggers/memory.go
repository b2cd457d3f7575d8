package triggers

import (
	"context"
	"sort"
	"sync"

	"hyperlocal/internal/types"
)

// MemoryRepository keeps triggers in process memory, indexed by location.
// Locks are held only for map access; readers receive copies.
type MemoryRepository struct {
	mu         sync.RWMutex
	byID       map[string]*types.Trigger
	byLocation map[string][]string
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:       make(map[string]*types.Trigger),
		byLocation: make(map[string][]string),
	}
}

func (m *MemoryRepository) Create(_ context.Context, t types.Trigger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := clone(t)
	m.byID[t.ID] = &stored
	m.byLocation[t.LocationID] = append(m.byLocation[t.LocationID], t.ID)
	return nil
}

func (m *MemoryRepository) Get(_ context.Context, id string) (*types.Trigger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.byID[id]
	if !ok {
		return nil, notFound(id)
	}
	out := clone(*t)
	return &out, nil
}

func (m *MemoryRepository) List(_ context.Context, f Filter) ([]types.Trigger, error) {
	m.mu.RLock()
	var out []types.Trigger
	if f.LocationID != "" {
		for _, id := range m.byLocation[f.LocationID] {
			if t := m.byID[id]; matches(t, f) {
				out = append(out, clone(*t))
			}
		}
	} else {
		for _, t := range m.byID {
			if matches(t, f) {
				out = append(out, clone(*t))
			}
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if out == nil {
		out = []types.Trigger{}
	}
	return out, nil
}

func (m *MemoryRepository) SetActive(_ context.Context, id string, active bool) (*types.Trigger, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byID[id]
	if !ok {
		return nil, false, notFound(id)
	}
	changed := t.Active != active
	t.Active = active
	out := clone(*t)
	return &out, changed, nil
}

func (m *MemoryRepository) Toggle(_ context.Context, id string) (*types.Trigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byID[id]
	if !ok {
		return nil, notFound(id)
	}
	t.Active = !t.Active
	out := clone(*t)
	return &out, nil
}

// PurgeLocation drops the triggers of a deregistered location.
func (m *MemoryRepository) PurgeLocation(_ context.Context, locationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.byLocation[locationID] {
		delete(m.byID, id)
	}
	delete(m.byLocation, locationID)
	return nil
}

func matches(t *types.Trigger, f Filter) bool {
	if t == nil {
		return false
	}
	if f.LocationID != "" && t.LocationID != f.LocationID {
		return false
	}
	if f.Active != nil && t.Active != *f.Active {
		return false
	}
	return true
}

func clone(t types.Trigger) types.Trigger {
	if t.PayoutAmount != nil {
		v := *t.PayoutAmount
		t.PayoutAmount = &v
	}
	return t
}

func notFound(id string) error {
	return types.NewAppErrorWithDetails(types.ErrCodeNotFoundTrigger, "trigger not found", nil,
		map[string]any{"trigger_id": id})
}
