package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hyperlocal/internal/types"
)

type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string
	ttls map[string]time.Duration
	err  error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestRedisStreakStoreRoundTrip(t *testing.T) {
	client := newFakeRedis()
	store := NewRedisStreakStore(client, 336*time.Hour)
	ctx := context.Background()

	missing, err := store.Get(ctx, "trg_1")
	require.NoError(t, err)
	assert.Equal(t, DormantState("trg_1"), missing)

	state := types.StreakState{
		TriggerID:          "trg_1",
		Phase:              types.PhaseAccumulating,
		ConsecutiveSamples: 2,
		StreakStart:        t0,
		LastSampleTime:     t0.Add(time.Hour),
		LastQualified:      true,
	}
	require.NoError(t, store.Put(ctx, state))
	assert.Equal(t, 336*time.Hour, client.ttls["streak:trg_1"])
	assert.Contains(t, client.data["streak:trg_1"], `"phase":"accumulating"`)

	got, err := store.Get(ctx, "trg_1")
	require.NoError(t, err)
	assert.Equal(t, state, got)

	require.NoError(t, store.Delete(ctx, "trg_1"))
	again, err := store.Get(ctx, "trg_1")
	require.NoError(t, err)
	assert.Equal(t, types.PhaseDormant, again.Phase)
}

func TestRedisStreakStoreErrors(t *testing.T) {
	client := newFakeRedis()
	client.err = errors.New("connection refused")
	store := NewRedisStreakStore(client, 0)
	ctx := context.Background()

	_, err := store.Get(ctx, "trg_1")
	assert.Equal(t, types.ErrCodeInternalCache, types.CodeOf(err))
	assert.ErrorIs(t, err, client.err)

	err = store.Put(ctx, DormantState("trg_1"))
	assert.Equal(t, types.ErrCodeInternalCache, types.CodeOf(err))

	err = store.Delete(ctx, "trg_1")
	assert.Equal(t, types.ErrCodeInternalCache, types.CodeOf(err))
}

func TestRedisStreakStoreRejectsCorruptState(t *testing.T) {
	client := newFakeRedis()
	client.data["streak:trg_1"] = "{not json"
	store := NewRedisStreakStore(client, 0)

	_, err := store.Get(context.Background(), "trg_1")
	assert.Equal(t, types.ErrCodeInternalCache, types.CodeOf(err))
}

func TestKeyedMutexSerializesPerKey(t *testing.T) {
	km := NewKeyedMutex()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  = map[string]int{}
		maxSeen = map[string]int{}
	)
	for i := 0; i < 40; i++ {
		key := []string{"a", "b"}[i%2]
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock(key)
			mu.Lock()
			active[key]++
			if active[key] > maxSeen[key] {
				maxSeen[key] = active[key]
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active[key]--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen["a"])
	assert.Equal(t, 1, maxSeen["b"])
	assert.Zero(t, km.Len())
}

func TestKeyedMutexDoesNotBlockOtherKeys(t *testing.T) {
	km := NewKeyedMutex()
	unlockA := km.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := km.Lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
}
