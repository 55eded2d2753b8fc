// Package cache provides the per-user cooldown stores consumed by the
// bid acceptance service: an in-process map for the default
// single-process deployment and a redis-backed variant for anyone
// running the engine behind a shared cache.
package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CooldownStore records the last bid attempt per user. Cooldown is an
// anti-spam measure, not a ledger guarantee: implementations do not
// need atomic check-and-set across concurrent attempts by one user.
type CooldownStore interface {
	// Touch stamps the user's last attempt time.
	Touch(ctx context.Context, userID string, at time.Time) error
	// Last returns the user's last attempt time, if any.
	Last(ctx context.Context, userID string) (time.Time, bool, error)
}

// MemoryCooldowns is the default process-local store. State is lost on
// restart, which is acceptable: a restart is rare and cooldown guards
// against spam, not correctness.
type MemoryCooldowns struct {
	mu   sync.RWMutex
	last map[string]time.Time
}

func NewMemoryCooldowns() *MemoryCooldowns {
	return &MemoryCooldowns{last: make(map[string]time.Time)}
}

func (m *MemoryCooldowns) Touch(_ context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	m.last[userID] = at
	m.mu.Unlock()
	return nil
}

func (m *MemoryCooldowns) Last(_ context.Context, userID string) (time.Time, bool, error) {
	m.mu.RLock()
	t, ok := m.last[userID]
	m.mu.RUnlock()
	return t, ok, nil
}

const cooldownKeyPrefix = "auctiond:cooldown:"

// RedisCooldowns stores attempt timestamps in redis with a TTL, so
// stale entries clean themselves up. Redis errors degrade to "no
// cooldown on record" rather than blocking bids.
type RedisCooldowns struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCooldowns builds a redis-backed store. ttl should be at
// least the configured cooldown window; entries expire on their own
// after it.
func NewRedisCooldowns(client *redis.Client, ttl time.Duration) *RedisCooldowns {
	return &RedisCooldowns{client: client, ttl: ttl}
}

func (r *RedisCooldowns) Touch(ctx context.Context, userID string, at time.Time) error {
	return r.client.Set(ctx, cooldownKeyPrefix+userID,
		strconv.FormatInt(at.UnixNano(), 10), r.ttl).Err()
}

func (r *RedisCooldowns) Last(ctx context.Context, userID string) (time.Time, bool, error) {
	val, err := r.client.Get(ctx, cooldownKeyPrefix+userID).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	ns, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, false, nil
	}
	return time.Unix(0, ns), true, nil
}
