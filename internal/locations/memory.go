package locations

import (
	"context"
	"sort"
	"sync"

	"hyperlocal/internal/types"
)

// MemoryRepository keeps locations in process memory. Values are copied on
// the way in and out so callers never share slices with the store.
type MemoryRepository struct {
	mu   sync.RWMutex
	byID map[string]types.Location
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]types.Location)}
}

func (m *MemoryRepository) Create(_ context.Context, loc types.Location) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[loc.ID] = clone(loc)
	return nil
}

func (m *MemoryRepository) Get(_ context.Context, id string) (*types.Location, error) {
	m.mu.RLock()
	loc, ok := m.byID[id]
	m.mu.RUnlock()
	if !ok {
		return nil, notFound(id)
	}
	out := clone(loc)
	return &out, nil
}

func (m *MemoryRepository) List(_ context.Context, f Filter) ([]types.Location, error) {
	m.mu.RLock()
	out := make([]types.Location, 0, len(m.byID))
	for _, loc := range m.byID {
		if f.InsurerID != "" && loc.InsurerID != f.InsurerID {
			continue
		}
		out = append(out, clone(loc))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryRepository) Update(_ context.Context, loc types.Location) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[loc.ID]; !ok {
		return notFound(loc.ID)
	}
	m.byID[loc.ID] = clone(loc)
	return nil
}

func (m *MemoryRepository) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return notFound(id)
	}
	delete(m.byID, id)
	return nil
}

func clone(loc types.Location) types.Location {
	loc.PolicyIDs = append([]string{}, loc.PolicyIDs...)
	return loc
}

func notFound(id string) error {
	return types.NewAppErrorWithDetails(types.ErrCodeNotFoundLocation, "location not found", nil,
		map[string]any{"location_id": id})
}
