// Package cache provides the fast cache tier of the hotel proxy with a Redis backend.
//
// The fast cache absorbs bursts of identical requests arriving within seconds
// of each other:
//
// - Values are the raw upstream JSON bodies, opaque to the cache
// - Every write carries a TTL; Redis expiry is the only eviction in steady state
// - Deterministic, order-insensitive cache key generation
// - Prometheus metrics for observability
//
// # Basic Usage
//
//	// Create Redis client
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	// Create cache manager
//	manager := cache.NewManager(redisClient)
//
//	// Create cache key
//	key := cache.CacheKey{
//		Endpoint: "data",
//		Params:   query.MustNew("hotel_id", 4469654, "locale", "en-gb"),
//	}
//
//	// Get from cache
//	body, err := manager.Get(ctx, key.String())
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// Cache miss - consult the durable store or fetch upstream
//	}
//
//	// Store for five seconds
//	err = manager.Set(ctx, key.String(), body, 5*time.Second)
//
// # Metrics
//
// The cache manager exports Prometheus metrics:
//
//   - hotelproxy_cache_hits_total{layer="redis"} - Cache hits
//   - hotelproxy_cache_misses_total - Cache misses
//   - hotelproxy_cache_written_bytes_total{layer="redis"} - Bytes written
//   - hotelproxy_cache_errors_total{operation} - Cache operation errors
//
// # Startup
//
// The proxy flushes the cache database once at startup (see Manager.Flush),
// so a restart never serves bodies written by an older build.
package cache
