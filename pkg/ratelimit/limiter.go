// Package ratelimit bounds outbound calls to the hotel data provider.
//
// Limiter is a blocking fixed-window throttle shared by every endpoint: each
// attempt is a single atomic counter operation (see Counter), and rejected
// attempts back off a short fixed delay and try again. Tracker records the
// provider's own quota headers for observability.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for admission control.
var (
	rateLimitWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hotelproxy_rate_limit_waits_total",
		Help: "Total number of rejected admission attempts that backed off",
	})

	rateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hotelproxy_rate_limit_wait_seconds",
		Help:    "Time spent waiting for an upstream admission slot",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})
)

// ErrAdmissionTimeout is returned when Config.MaxWait elapses before a slot frees up.
var ErrAdmissionTimeout = errors.New("rate limit admission timed out")

// Defaults for a single global outbound budget.
const (
	DefaultKey         = "hotelproxy:rate_limit:upstream"
	DefaultMaxRequests = 5
	DefaultWindow      = 1 * time.Second
	DefaultBackoff     = 50 * time.Millisecond

	// MinWindow is the smallest window the Redis script can express, since
	// PEXPIRE takes whole milliseconds.
	MinWindow = time.Millisecond
)

// Config holds the limiter configuration.
type Config struct {
	// Backoff is the fixed delay between rejected attempts.
	Backoff time.Duration

	// MaxWait bounds the total time spent in Acquire. Zero waits indefinitely;
	// the window's own expiry is then the only bound.
	MaxWait time.Duration
}

// DefaultConfig returns the reference configuration: 50ms backoff, no deadline.
func DefaultConfig() Config {
	return Config{
		Backoff: DefaultBackoff,
	}
}

// Limiter gates upstream requests against a Counter.
type Limiter struct {
	counter Counter
	config  Config
	logger  zerolog.Logger
}

// NewLimiter creates a new limiter.
func NewLimiter(counter Counter, cfg Config, logger zerolog.Logger) *Limiter {
	if counter == nil {
		panic("rate limit counter cannot be nil")
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	return &Limiter{
		counter: counter,
		config:  cfg,
		logger:  logger,
	}
}

// Acquire blocks until the counter for key admits one more request within
// window, the context is cancelled, or MaxWait elapses. Counter errors are
// returned as-is; there is no retry on a broken backend.
func (l *Limiter) Acquire(ctx context.Context, key string, max int64, window time.Duration) error {
	if max <= 0 {
		return fmt.Errorf("max requests must be positive (got %d)", max)
	}
	if window < MinWindow {
		return fmt.Errorf("window must be at least %v (got %v)", MinWindow, window)
	}

	start := time.Now()
	var deadline <-chan time.Time
	if l.config.MaxWait > 0 {
		timer := time.NewTimer(l.config.MaxWait)
		defer timer.Stop()
		deadline = timer.C
	}

	for attempt := 1; ; attempt++ {
		allowed, err := l.counter.Admit(ctx, key, max, window)
		if err != nil {
			return err
		}
		if allowed {
			if attempt > 1 {
				waited := time.Since(start)
				rateLimitWaitSeconds.Observe(waited.Seconds())
				l.logger.Debug().
					Str("key", key).
					Int("attempts", attempt).
					Dur("waited", waited).
					Msg("Admission granted after backoff")
			}
			return nil
		}

		rateLimitWaitsTotal.Inc()
		if attempt == 1 {
			l.logger.Debug().
				Str("key", key).
				Int64("max_requests", max).
				Dur("window", window).
				Msg("Upstream budget exhausted, backing off")
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("rate limit acquire: %w", ctx.Err())
		case <-deadline:
			l.logger.Warn().
				Str("key", key).
				Int("attempts", attempt).
				Dur("max_wait", l.config.MaxWait).
				Msg("Admission deadline exceeded")
			return ErrAdmissionTimeout
		case <-time.After(l.config.Backoff):
		}
	}
}
