// Package upstream is the HTTP client for the hotel data provider. Every Get
// issues at most one request: there is no retry at this layer, so the rate
// limiter's admission count stays exact.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/Sternrassler/hotel-cache-proxy/pkg/logging"
	"github.com/Sternrassler/hotel-cache-proxy/pkg/query"
)

// Prometheus metrics for upstream calls.
var (
	upstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hotelproxy_upstream_requests_total",
		Help: "Total upstream requests by endpoint and status",
	}, []string{"endpoint", "status"})

	upstreamRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hotelproxy_upstream_request_duration_seconds",
		Help:    "Upstream request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"endpoint"})

	upstreamErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hotelproxy_upstream_errors_total",
		Help: "Total upstream errors by class",
	}, []string{"class"})
)

const (
	// DefaultPathPrefix is prepended to every endpoint.
	DefaultPathPrefix = "/api/v1/hotels"

	// DefaultKeyHeader carries the API key.
	DefaultKeyHeader = "x-rapidapi-key"

	// DefaultHostHeader carries the provider host name.
	DefaultHostHeader = "x-rapidapi-host"

	// DefaultTimeout bounds a single upstream request.
	DefaultTimeout = 2 * time.Minute
)

// HeaderObserver receives the headers of every upstream response.
// ratelimit.Tracker satisfies it.
type HeaderObserver interface {
	UpdateFromHeaders(ctx context.Context, headers http.Header) error
}

// BreakerConfig configures the circuit breaker. Zero ConsecutiveFailures disables it.
type BreakerConfig struct {
	// Open after this many consecutive transport or 5xx failures.
	ConsecutiveFailures uint32

	// Time spent open before allowing a half-open trial request.
	OpenTimeout time.Duration

	// Probes allowed while half-open.
	HalfOpenRequests uint32
}

// Config holds the client configuration.
type Config struct {
	// Provider base URL, e.g. https://booking-com.p.rapidapi.com
	BaseURL string

	// Path prepended to endpoints (default DefaultPathPrefix)
	PathPrefix string

	// Provider host, sent in HostHeader
	Host string

	// API key, sent in KeyHeader
	APIKey string

	KeyHeader  string
	HostHeader string

	// Per-request timeout (default DefaultTimeout)
	Timeout time.Duration

	// Process-local smoothing. Zero disables it; the shared limit lives in Redis.
	RequestsPerSecond float64
	Burst             int

	Breaker BreakerConfig

	// Optional quota header observer
	Observer HeaderObserver
}

// DefaultConfig returns a configuration with default header names and timeout.
func DefaultConfig(baseURL, host, apiKey string) Config {
	return Config{
		BaseURL:    baseURL,
		PathPrefix: DefaultPathPrefix,
		Host:       host,
		APIKey:     apiKey,
		KeyHeader:  DefaultKeyHeader,
		HostHeader: DefaultHostHeader,
		Timeout:    DefaultTimeout,
		Breaker: BreakerConfig{
			ConsecutiveFailures: 5,
			OpenTimeout:         30 * time.Second,
			HalfOpenRequests:    1,
		},
	}
}

// Response is a successful upstream response with its body fully read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client performs upstream GET requests.
type Client struct {
	httpClient *http.Client
	config     Config
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	logger     zerolog.Logger
}

// New creates a new upstream client.
func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.PathPrefix == "" {
		cfg.PathPrefix = DefaultPathPrefix
	}
	if cfg.KeyHeader == "" {
		cfg.KeyHeader = DefaultKeyHeader
	}
	if cfg.HostHeader == "" {
		cfg.HostHeader = DefaultHostHeader
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	c := &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		config:     cfg,
		logger:     logging.WithComponent(logger, "upstream"),
	}

	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	if cfg.Breaker.ConsecutiveFailures > 0 {
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "upstream",
			MaxRequests: cfg.Breaker.HalfOpenRequests,
			Timeout:     cfg.Breaker.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.Breaker.ConsecutiveFailures
			},
			IsSuccessful: func(err error) bool {
				return !countsAsFailure(err)
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				c.logger.Warn().
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("Circuit breaker state changed")
			},
		})
	}

	return c, nil
}

// Get requests <base_url><prefix>/<endpoint> with params as the query string.
// Non-2xx responses return *UpstreamError; failures to get any response
// return *TransportError.
func (c *Client) Get(ctx context.Context, endpoint string, params query.Params) (*Response, error) {
	endpoint = strings.Trim(endpoint, "/")

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, c.fail(endpoint, transportError(ctx, endpoint, fmt.Errorf("local rate limit: %w", err)))
		}
	}

	if c.breaker == nil {
		return c.do(ctx, endpoint, params)
	}

	result, err := c.breaker.Execute(func() (any, error) {
		return c.do(ctx, endpoint, params)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, c.fail(endpoint, &TransportError{Endpoint: endpoint, Err: fmt.Errorf("%w: %v", ErrCircuitOpen, err)})
	}
	if err != nil {
		return nil, err
	}
	return result.(*Response), nil
}

func (c *Client) do(ctx context.Context, endpoint string, params query.Params) (*Response, error) {
	url := c.config.BaseURL + c.config.PathPrefix + "/" + endpoint
	if params.Len() > 0 {
		url += "?" + params.Values().Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, c.fail(endpoint, &TransportError{Endpoint: endpoint, Err: fmt.Errorf("create request: %w", err)})
	}
	req.Header.Set(c.config.KeyHeader, c.config.APIKey)
	if c.config.Host != "" {
		req.Header.Set(c.config.HostHeader, c.config.Host)
	}
	req.Header.Set("Accept", "application/json")

	startTime := time.Now()
	defer func() {
		upstreamRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	c.logger.Debug().
		Str("endpoint", endpoint).
		Msg("Executing upstream request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		upstreamRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return nil, c.fail(endpoint, transportError(ctx, endpoint, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		upstreamRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return nil, c.fail(endpoint, transportError(ctx, endpoint, fmt.Errorf("read body: %w", err)))
	}

	upstreamRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if c.config.Observer != nil {
		if err := c.config.Observer.UpdateFromHeaders(ctx, resp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to record quota headers")
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.fail(endpoint, &UpstreamError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: body})
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Int("status_code", resp.StatusCode).
		Dur("duration", time.Since(startTime)).
		Msg("Upstream request completed")

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// transportError marks err as canceled when ctx ended first. An http.Client
// timeout leaves ctx alive and stays a network failure.
func transportError(ctx context.Context, endpoint string, err error) *TransportError {
	return &TransportError{Endpoint: endpoint, Err: err, Canceled: ctx.Err() != nil}
}

type classified interface {
	error
	Class() ErrorClass
}

// fail counts and logs err, then returns it unchanged.
func (c *Client) fail(endpoint string, err classified) error {
	class := err.Class()
	upstreamErrorsTotal.WithLabelValues(string(class)).Inc()

	var event *zerolog.Event
	switch class {
	case ErrorClassServer, ErrorClassNetwork:
		event = c.logger.Error()
	case ErrorClassCanceled:
		event = c.logger.Debug()
	default:
		event = c.logger.Warn()
	}
	event.Err(err).
		Str("endpoint", endpoint).
		Str("error_class", string(class)).
		Msg("Upstream request failed")
	return err
}

// BreakerState returns the breaker state, or "disabled".
func (c *Client) BreakerState() string {
	if c.breaker == nil {
		return "disabled"
	}
	return c.breaker.State().String()
}
