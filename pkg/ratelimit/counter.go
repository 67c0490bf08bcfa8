package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter performs one atomic admission attempt: increment the counter for
// key, start its expiry window on the first increment, and report whether
// the post-increment value is within max.
type Counter interface {
	Admit(ctx context.Context, key string, max int64, window time.Duration) (bool, error)
}

// admitScript runs the whole increment/expire/check sequence server-side.
// A counter that somehow lost its expiry (PTTL == -1) gets one again, so a
// crashed writer can never leave a permanent lockout behind.
//
// KEYS[1] counter key
// ARGV[1] max requests per window
// ARGV[2] window in milliseconds
var admitScript = redis.NewScript(`
local current = redis.call('INCR', KEYS[1])
if current == 1 or redis.call('PTTL', KEYS[1]) == -1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
	return 0
end
return 1
`)

// RedisCounter is the shared Counter used in production; every proxy
// process admitting against the same Redis shares one outbound budget.
type RedisCounter struct {
	redis redis.Scripter
}

// NewRedisCounter creates a Counter backed by a Lua script.
func NewRedisCounter(redisClient redis.Scripter) *RedisCounter {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisCounter{redis: redisClient}
}

// Admit implements Counter. Run uses EVALSHA and falls back to EVAL when the
// script is not yet cached on the server.
func (c *RedisCounter) Admit(ctx context.Context, key string, max int64, window time.Duration) (bool, error) {
	// PEXPIRE 0 deletes the key, which would reset the window on every call
	if window < MinWindow {
		return false, fmt.Errorf("rate limit window %v is below %v", window, MinWindow)
	}
	allowed, err := admitScript.Run(ctx, c.redis, []string{key}, max, window.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit script: %w", err)
	}
	return allowed == 1, nil
}

// MemoryCounter is a process-local Counter with the same fixed-window
// semantics as the Redis script. Useful for single-process deployments
// and tests.
type MemoryCounter struct {
	mu       sync.Mutex
	counters map[string]*windowCounter
	now      func() time.Time
}

type windowCounter struct {
	count     int64
	expiresAt time.Time
}

// NewMemoryCounter creates an empty in-memory counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		counters: make(map[string]*windowCounter),
		now:      time.Now,
	}
}

// Admit implements Counter.
func (c *MemoryCounter) Admit(_ context.Context, key string, max int64, window time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	wc, ok := c.counters[key]
	if !ok || !now.Before(wc.expiresAt) {
		wc = &windowCounter{}
		c.counters[key] = wc
	}

	wc.count++
	if wc.count == 1 {
		wc.expiresAt = now.Add(window)
	}
	return wc.count <= max, nil
}
