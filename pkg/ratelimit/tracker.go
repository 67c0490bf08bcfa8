package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var quotaRemaining = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "hotelproxy_upstream_quota_remaining",
	Help: "Requests remaining in the provider quota window, as last reported",
})

// Tracker records provider quota headers. It never blocks requests; the
// Limiter is the only admission control.
type Tracker struct {
	redis  *redis.Client
	logger zerolog.Logger
}

// NewTracker creates a new quota tracker.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:  redisClient,
		logger: logger,
	}
}

// GetState retrieves the last recorded quota state from Redis.
// Returns an unknown state if nothing was recorded yet.
func (t *Tracker) GetState(ctx context.Context) (*QuotaState, error) {
	vals, err := t.redis.MGet(ctx,
		RedisKeyQuotaLimit,
		RedisKeyQuotaRemaining,
		RedisKeyQuotaResetAt,
		RedisKeyQuotaUpdatedAt,
	).Result()
	if err != nil {
		return nil, fmt.Errorf("get quota state: %w", err)
	}

	if vals[1] == nil {
		return &QuotaState{}, nil
	}

	ints := make([]int64, len(vals))
	for i, v := range vals {
		if v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("quota field %d: unexpected type %T", i, v)
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("quota field %d: %w", i, err)
		}
		ints[i] = n
	}

	return &QuotaState{
		Limit:     int(ints[0]),
		Remaining: int(ints[1]),
		ResetAt:   time.Unix(ints[2], 0),
		UpdatedAt: time.UnixMilli(ints[3]),
		Known:     true,
	}, nil
}

// ParseHeaders extracts the quota state from provider response headers.
// Returns nil, nil when the response carries no quota headers.
func ParseHeaders(headers http.Header, now time.Time) (*QuotaState, error) {
	remainStr := headers.Get(HeaderQuotaRemaining)
	if remainStr == "" {
		return nil, nil
	}

	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return nil, fmt.Errorf("parse %s header: %w", HeaderQuotaRemaining, err)
	}

	state := &QuotaState{
		Remaining: remain,
		UpdatedAt: now,
		Known:     true,
	}

	if limitStr := headers.Get(HeaderQuotaLimit); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, fmt.Errorf("parse %s header: %w", HeaderQuotaLimit, err)
		}
		state.Limit = limit
	}

	if resetStr := headers.Get(HeaderQuotaReset); resetStr != "" {
		resetSeconds, err := strconv.Atoi(resetStr)
		if err != nil {
			return nil, fmt.Errorf("parse %s header: %w", HeaderQuotaReset, err)
		}
		state.ResetAt = now.Add(time.Duration(resetSeconds) * time.Second)
	}

	return state, nil
}

// UpdateFromHeaders parses quota headers and stores them in Redis.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	state, err := ParseHeaders(headers, time.Now())
	if err != nil {
		return err
	}
	if state == nil {
		// Header not present - this is OK for mocks and some endpoints
		return nil
	}
	if t.redis == nil {
		return errors.New("quota tracker has no redis client")
	}

	pipe := t.redis.Pipeline()
	pipe.Set(ctx, RedisKeyQuotaLimit, state.Limit, 0)
	pipe.Set(ctx, RedisKeyQuotaRemaining, state.Remaining, 0)
	pipe.Set(ctx, RedisKeyQuotaResetAt, state.ResetAt.Unix(), 0)
	pipe.Set(ctx, RedisKeyQuotaUpdatedAt, state.UpdatedAt.UnixMilli(), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store quota state in redis: %w", err)
	}

	quotaRemaining.Set(float64(state.Remaining))

	switch {
	case state.IsCritical():
		t.logger.Error().
			Int("quota_remaining", state.Remaining).
			Time("reset_at", state.ResetAt).
			Msg("Provider quota CRITICAL")
	case state.IsLow():
		t.logger.Warn().
			Int("quota_remaining", state.Remaining).
			Time("reset_at", state.ResetAt).
			Msg("Provider quota running low")
	default:
		t.logger.Debug().
			Int("quota_remaining", state.Remaining).
			Msg("Provider quota updated")
	}

	return nil
}
