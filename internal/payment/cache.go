package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// UnpaidCache memoizes a student's ordered unpaid items between payment
// applications. Implementations must be safe for concurrent use and support
// per-student eviction; a stale entry served across a mutation is a
// correctness bug, not a performance one.
type UnpaidCache interface {
	Get(ctx context.Context, studentID int64) ([]UnpaidItem, bool, error)
	Put(ctx context.Context, studentID int64, items []UnpaidItem) error
	Invalidate(ctx context.Context, studentID int64) error
}

// RedisCache is the Redis backed UnpaidCache. Entries are keyed per student,
// so eviction never interferes across students.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache instantiates the cache helper.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func cacheKey(studentID int64) string {
	return fmt.Sprintf("billing:student:%d:unpaid", studentID)
}

// Get loads a cached entry. The second return reports a hit.
func (c *RedisCache) Get(ctx context.Context, studentID int64) ([]UnpaidItem, bool, error) {
	if c == nil || c.client == nil {
		return nil, false, nil
	}
	raw, err := c.client.Get(ctx, cacheKey(studentID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var items []UnpaidItem
	if err := json.Unmarshal(raw, &items); err != nil {
		// Corrupt entry: drop it and treat as a miss.
		_ = c.client.Del(ctx, cacheKey(studentID)).Err()
		return nil, false, nil
	}
	return items, true, nil
}

// Put stores a student's unpaid items.
func (c *RedisCache) Put(ctx context.Context, studentID int64, items []UnpaidItem) error {
	if c == nil || c.client == nil {
		return nil
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cacheKey(studentID), raw, c.ttl).Err()
}

// Invalidate evicts one student's entry.
func (c *RedisCache) Invalidate(ctx context.Context, studentID int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, cacheKey(studentID)).Err()
}

// NoopCache disables memoization; every read recomputes from storage. Used
// in tests that need deterministic reads.
type NoopCache struct{}

// Get always misses.
func (NoopCache) Get(ctx context.Context, studentID int64) ([]UnpaidItem, bool, error) {
	return nil, false, nil
}

// Put discards the entry.
func (NoopCache) Put(ctx context.Context, studentID int64, items []UnpaidItem) error { return nil }

// Invalidate is a no-op.
func (NoopCache) Invalidate(ctx context.Context, studentID int64) error { return nil }
