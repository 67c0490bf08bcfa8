package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks fast cache hits by layer (redis)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hotelproxy_cache_hits_total",
			Help: "Total number of fast cache hits",
		},
		[]string{"layer"}, // "redis"
	)

	// CacheMisses tracks fast cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hotelproxy_cache_misses_total",
			Help: "Total number of fast cache misses",
		},
	)

	// CacheWrittenBytes tracks the volume written into the fast cache
	CacheWrittenBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hotelproxy_cache_written_bytes_total",
			Help: "Total bytes written into the fast cache",
		},
		[]string{"layer"}, // "redis"
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hotelproxy_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "flush"
	)
)
