package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidTTL indicates a write was attempted without a positive TTL
	ErrInvalidTTL = errors.New("cache ttl must be positive")
)

// Manager is the fast cache tier backed by Redis. Values are opaque
// serialized response bodies; Redis TTLs are authoritative for expiry.
type Manager struct {
	redis *redis.Client
}

// NewManager creates a new cache manager with Redis backend.
func NewManager(redisClient *redis.Client) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Manager{
		redis: redisClient,
	}
}

// Get retrieves the cached body for key.
// Returns ErrCacheMiss if the key doesn't exist.
func (m *Manager) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := m.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			CacheMisses.Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	CacheHits.WithLabelValues("redis").Inc()
	return data, nil
}

// Set stores body under key for ttl. The write is a single SET with EX, so
// readers never observe a value without an expiry.
func (m *Manager) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}

	if err := m.redis.Set(ctx, key, data, ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	CacheWrittenBytes.WithLabelValues("redis").Add(float64(len(data)))
	return nil
}

// Delete removes a cache entry. Only used by explicit invalidation flows.
func (m *Manager) Delete(ctx context.Context, key string) error {
	if err := m.redis.Del(ctx, key).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// TTL returns the remaining lifetime of key, or ErrCacheMiss.
func (m *Manager) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := m.redis.TTL(ctx, key).Result()
	if err != nil {
		CacheErrors.WithLabelValues("ttl").Inc()
		return 0, fmt.Errorf("redis ttl: %w", err)
	}
	// -2 means the key does not exist
	if ttl == -2 {
		return 0, ErrCacheMiss
	}
	return ttl, nil
}

// flushBatch bounds the keys per SCAN page and per UNLINK.
const flushBatch = 500

// Flush removes every fast cache entry and returns how many were deleted.
// Only keys under KeyPrefix are touched, so rate-limit and quota state
// shared with other instances in the same database survive a restart.
func (m *Manager) Flush(ctx context.Context) (int, error) {
	iter := m.redis.Scan(ctx, 0, KeyPrefix+":*", flushBatch).Iterator()

	deleted := 0
	batch := make([]string, 0, flushBatch)
	unlink := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := m.redis.Unlink(ctx, batch...).Result()
		if err != nil {
			return err
		}
		deleted += int(n)
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == flushBatch {
			if err := unlink(); err != nil {
				CacheErrors.WithLabelValues("flush").Inc()
				return deleted, fmt.Errorf("redis unlink: %w", err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		CacheErrors.WithLabelValues("flush").Inc()
		return deleted, fmt.Errorf("redis scan: %w", err)
	}
	if err := unlink(); err != nil {
		CacheErrors.WithLabelValues("flush").Inc()
		return deleted, fmt.Errorf("redis unlink: %w", err)
	}
	return deleted, nil
}
