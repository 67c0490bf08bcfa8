// Package fetch implements the tiered lookup that answers every hotel data
// request: Fast Cache, then Durable Store with a freshness check, then one
// rate-limited upstream call with write-back to both tiers.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/Sternrassler/hotel-cache-proxy/pkg/cache"
	"github.com/Sternrassler/hotel-cache-proxy/pkg/logging"
	"github.com/Sternrassler/hotel-cache-proxy/pkg/query"
	"github.com/Sternrassler/hotel-cache-proxy/pkg/ratelimit"
	"github.com/Sternrassler/hotel-cache-proxy/pkg/store"
	"github.com/Sternrassler/hotel-cache-proxy/pkg/upstream"
)

var (
	fetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hotelproxy_fetch_total",
		Help: "Total answered requests by endpoint and serving tier",
	}, []string{"endpoint", "source"})

	durableStaleTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hotelproxy_durable_stale_total",
		Help: "Durable records passed over by endpoint and reason",
	}, []string{"endpoint", "reason"})
)

// Source names the tier that produced a result.
type Source string

const (
	SourceFastCache    Source = "fast_cache"
	SourceDurableStore Source = "durable_store"
	SourceUpstream     Source = "upstream"
)

// FastCache is the short-TTL tier. cache.Manager satisfies it.
type FastCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
}

// Admitter blocks until one upstream call may proceed. ratelimit.Limiter satisfies it.
type Admitter interface {
	Acquire(ctx context.Context, key string, max int64, window time.Duration) error
}

// Fetcher performs the upstream GET. upstream.Client satisfies it.
type Fetcher interface {
	Get(ctx context.Context, endpoint string, params query.Params) (*upstream.Response, error)
}

// Request is one logical lookup.
type Request struct {
	// Endpoint is both the upstream endpoint and the durable collection name.
	Endpoint string

	// Params is the exact upstream query.
	Params query.Params

	// CacheKey addresses the Fast Cache entry.
	CacheKey string

	// CacheTTL is the Fast Cache expiry for entries written by this call.
	CacheTTL time.Duration

	// Freshness is how long a durable record may be served.
	Freshness time.Duration
}

// Validate checks that the request can be served.
func (r Request) Validate() error {
	if r.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	if r.CacheKey == "" {
		return errors.New("cache key is required")
	}
	if r.CacheTTL <= 0 {
		return fmt.Errorf("cache ttl must be positive (got %v)", r.CacheTTL)
	}
	if r.Freshness < 0 {
		return fmt.Errorf("freshness must not be negative (got %v)", r.Freshness)
	}
	return nil
}

// Result is a successful lookup.
type Result struct {
	Payload json.RawMessage
	Source  Source
}

// Options tunes the pipeline.
type Options struct {
	// RateLimitKey is the shared admission counter for all endpoints.
	RateLimitKey string
	MaxRequests  int64
	Window       time.Duration

	// PromoteDurableHits writes fresh durable hits back into the Fast Cache.
	PromoteDurableHits bool

	// Coalesce merges concurrent misses for the same key into one upstream call.
	Coalesce bool
}

// DefaultOptions returns the shared 5 requests per second budget with
// durable hit promotion on and coalescing off.
func DefaultOptions() Options {
	return Options{
		RateLimitKey:       ratelimit.DefaultKey,
		MaxRequests:        ratelimit.DefaultMaxRequests,
		Window:             ratelimit.DefaultWindow,
		PromoteDurableHits: true,
	}
}

// Orchestrator runs GetOrFetch against injected tiers.
type Orchestrator struct {
	cache    FastCache
	store    store.Store
	limiter  Admitter
	upstream Fetcher
	opts     Options
	now      func() time.Time
	group    singleflight.Group
	logger   zerolog.Logger
}

// New creates an orchestrator. All collaborators are required.
func New(fc FastCache, st store.Store, limiter Admitter, up Fetcher, opts Options, logger zerolog.Logger) *Orchestrator {
	if fc == nil || st == nil || limiter == nil || up == nil {
		panic("fetch: cache, store, limiter and upstream are required")
	}
	if opts.RateLimitKey == "" {
		opts.RateLimitKey = ratelimit.DefaultKey
	}
	if opts.MaxRequests <= 0 {
		opts.MaxRequests = ratelimit.DefaultMaxRequests
	}
	if opts.Window <= 0 {
		opts.Window = ratelimit.DefaultWindow
	}
	return &Orchestrator{
		cache:    fc,
		store:    st,
		limiter:  limiter,
		upstream: up,
		opts:     opts,
		now:      time.Now,
		logger:   logging.WithComponent(logger, "fetch"),
	}
}

// SetClock replaces the time source (for testing).
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
}

// GetOrFetch answers req from the cheapest tier that has a usable payload.
// Every call makes at most one upstream request, at most one Fast Cache
// write and at most one durable upsert. Failures are returned as *Error.
func (o *Orchestrator) GetOrFetch(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, &Error{Kind: KindTransport, Err: fmt.Errorf("invalid request: %w", err)}
	}

	log := o.logger.With().
		Str("endpoint", req.Endpoint).
		Str("cache_key", req.CacheKey).
		Logger()

	// Fast path
	data, err := o.cache.Get(ctx, req.CacheKey)
	switch {
	case err == nil && json.Valid(data):
		return o.served(req, SourceFastCache, data), nil
	case err == nil:
		log.Warn().Msg("Fast cache entry is not valid JSON, treating as miss")
	case !errors.Is(err, cache.ErrCacheMiss):
		return nil, storageError("fast cache get", err)
	}

	// Durable lookup
	rec, err := o.store.FindOne(ctx, req.Endpoint, req.Params)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return nil, storageError("durable find", err)
	case rec.CreatedAt == nil:
		durableStaleTotal.WithLabelValues(req.Endpoint, "missing_timestamp").Inc()
		log.Warn().Msg("Durable record has no created_at, refetching")
	case !rec.IsFresh(o.now(), req.Freshness):
		durableStaleTotal.WithLabelValues(req.Endpoint, "expired").Inc()
		log.Debug().Time("created_at", *rec.CreatedAt).Msg("Durable record is stale")
	default:
		if o.opts.PromoteDurableHits {
			if err := o.cache.Set(ctx, req.CacheKey, rec.Payload, req.CacheTTL); err != nil {
				return nil, storageError("fast cache promote", err)
			}
		}
		return o.served(req, SourceDurableStore, rec.Payload), nil
	}

	if !o.opts.Coalesce {
		return o.fetchAndStore(ctx, req, log)
	}

	// The shared fetch outlives any single waiter. It stays bounded by the
	// admission wait limit and the upstream client timeout.
	shared := context.WithoutCancel(ctx)
	ch := o.group.DoChan(req.Endpoint+"|"+req.CacheKey, func() (any, error) {
		return o.fetchAndStore(shared, req, log)
	})
	select {
	case <-ctx.Done():
		return nil, &Error{Kind: KindTimeout, Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Result), nil
	}
}

func (o *Orchestrator) fetchAndStore(ctx context.Context, req Request, log zerolog.Logger) (*Result, error) {
	if err := o.limiter.Acquire(ctx, o.opts.RateLimitKey, o.opts.MaxRequests, o.opts.Window); err != nil {
		return nil, fromAdmission(err)
	}

	start := o.now()
	resp, err := o.upstream.Get(ctx, req.Endpoint, req.Params)
	if err != nil {
		return nil, fromUpstream(err)
	}
	if !json.Valid(resp.Body) {
		return nil, &Error{Kind: KindTransport, Err: fmt.Errorf("upstream %s returned a non-JSON body", req.Endpoint)}
	}

	if err := o.cache.Set(ctx, req.CacheKey, resp.Body, req.CacheTTL); err != nil {
		return nil, storageError("fast cache set", err)
	}

	createdAt := o.now().UTC()
	if err := o.store.ReplaceOne(ctx, &store.Record{
		Collection: req.Endpoint,
		Params:     req.Params,
		Payload:    resp.Body,
		CreatedAt:  &createdAt,
	}); err != nil {
		return nil, storageError("durable upsert", err)
	}

	log.Debug().
		Int("status_code", resp.StatusCode).
		Dur("duration", o.now().Sub(start)).
		Msg("Fetched from upstream")

	return o.served(req, SourceUpstream, resp.Body), nil
}

func (o *Orchestrator) served(req Request, source Source, payload []byte) *Result {
	fetchTotal.WithLabelValues(req.Endpoint, string(source)).Inc()
	o.logger.Debug().
		Str("endpoint", req.Endpoint).
		Str("source", string(source)).
		Msg("Request served")
	return &Result{Payload: json.RawMessage(payload), Source: source}
}
