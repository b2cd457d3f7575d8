package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"hyperlocal/internal/types"
)

const streakKeyPrefix = "streak:"

// RedisClient is the subset of redis.Cmdable used by RedisStreakStore.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStreakStore keeps streak state as JSON under streak:<trigger_id>.
// Entries expire after ttl so state of abandoned triggers does not linger.
type RedisStreakStore struct {
	client RedisClient
	ttl    time.Duration
}

// NewRedisStreakStore creates a store. A zero ttl keeps entries forever.
func NewRedisStreakStore(client RedisClient, ttl time.Duration) *RedisStreakStore {
	return &RedisStreakStore{client: client, ttl: ttl}
}

func (r *RedisStreakStore) Get(ctx context.Context, triggerID string) (types.StreakState, error) {
	data, err := r.client.Get(ctx, streakKey(triggerID)).Result()
	if errors.Is(err, redis.Nil) {
		return DormantState(triggerID), nil
	}
	if err != nil {
		return types.StreakState{}, cacheError("failed to get streak state", triggerID, err)
	}

	var s types.StreakState
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return types.StreakState{}, cacheError("failed to decode streak state", triggerID, err)
	}
	s.TriggerID = triggerID
	return s, nil
}

func (r *RedisStreakStore) Put(ctx context.Context, s types.StreakState) error {
	data, err := json.Marshal(s)
	if err != nil {
		return cacheError("failed to encode streak state", s.TriggerID, err)
	}
	if err := r.client.Set(ctx, streakKey(s.TriggerID), data, r.ttl).Err(); err != nil {
		return cacheError("failed to store streak state", s.TriggerID, err)
	}
	return nil
}

func (r *RedisStreakStore) Delete(ctx context.Context, triggerID string) error {
	if err := r.client.Del(ctx, streakKey(triggerID)).Err(); err != nil {
		return cacheError("failed to delete streak state", triggerID, err)
	}
	return nil
}

func streakKey(triggerID string) string {
	return streakKeyPrefix + triggerID
}

func cacheError(msg, triggerID string, err error) error {
	return types.NewAppErrorWithDetails(types.ErrCodeInternalCache, msg,
		fmt.Errorf("redis streak %s: %w", triggerID, err),
		map[string]any{"trigger_id": triggerID})
}
