package upstream

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/hotel-cache-proxy/internal/testutil"
	"github.com/Sternrassler/hotel-cache-proxy/pkg/query"
)

type recordingObserver struct {
	mu      sync.Mutex
	headers []http.Header
}

func (o *recordingObserver) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.headers = append(o.headers, headers)
	return nil
}

func newTestClient(t *testing.T, mock *testutil.MockUpstream, mutate func(*Config)) *Client {
	t.Helper()
	cfg := DefaultConfig(mock.URL(), "booking-com.p.rapidapi.com", "test-key")
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
	}{
		{name: "valid", config: DefaultConfig("https://example.com", "example.com", "k")},
		{name: "missing base url", config: DefaultConfig("", "example.com", "k"), expectError: true},
		{name: "missing api key", config: DefaultConfig("https://example.com", "example.com", ""), expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.config, zerolog.Nop())
			if (err != nil) != tt.expectError {
				t.Errorf("New() error = %v, expectError %v", err, tt.expectError)
			}
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	c, err := New(Config{BaseURL: "https://example.com/", APIKey: "k"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if c.config.Timeout != DefaultTimeout {
		t.Errorf("Timeout = %v, want %v", c.config.Timeout, DefaultTimeout)
	}
	if c.httpClient.Timeout != DefaultTimeout {
		t.Errorf("http timeout = %v, want %v", c.httpClient.Timeout, DefaultTimeout)
	}
	if c.config.KeyHeader != DefaultKeyHeader || c.config.HostHeader != DefaultHostHeader {
		t.Errorf("unexpected header names %q %q", c.config.KeyHeader, c.config.HostHeader)
	}
	if c.config.BaseURL != "https://example.com" {
		t.Errorf("BaseURL = %q", c.config.BaseURL)
	}
	if c.BreakerState() != "disabled" {
		t.Errorf("BreakerState = %q, want disabled", c.BreakerState())
	}
}

func TestGet_Success(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.SetResponse("data", testutil.NewHealthyResponse(`{"hotel_id":4469654}`))

	obs := &recordingObserver{}
	c := newTestClient(t, mock, func(cfg *Config) { cfg.Observer = obs })

	resp, err := c.Get(context.Background(), "data", query.MustNew("hotel_id", 4469654, "locale", "en-gb"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d", resp.StatusCode)
	}
	if string(resp.Body) != `{"hotel_id":4469654}` {
		t.Errorf("Body = %s", resp.Body)
	}

	req := mock.LastRequest()
	if req.URL.Path != "/api/v1/hotels/data" {
		t.Errorf("path = %s", req.URL.Path)
	}
	if req.URL.Query().Get("hotel_id") != "4469654" || req.URL.Query().Get("locale") != "en-gb" {
		t.Errorf("query = %s", req.URL.RawQuery)
	}
	if req.Header.Get("x-rapidapi-key") != "test-key" {
		t.Errorf("key header = %q", req.Header.Get("x-rapidapi-key"))
	}
	if req.Header.Get("x-rapidapi-host") != "booking-com.p.rapidapi.com" {
		t.Errorf("host header = %q", req.Header.Get("x-rapidapi-host"))
	}

	if len(obs.headers) != 1 || obs.headers[0].Get("X-RateLimit-Requests-Remaining") != "100" {
		t.Errorf("observer not called with response headers: %v", obs.headers)
	}
}

func TestGet_CustomHeaderNames(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()

	c := newTestClient(t, mock, func(cfg *Config) {
		cfg.KeyHeader = "X-Api-Key"
		cfg.HostHeader = "X-Api-Host"
	})
	if _, err := c.Get(context.Background(), "photos", query.MustNew("hotel_id", 1)); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if mock.LastRequest().Header.Get("X-Api-Key") != "test-key" {
		t.Error("custom key header not sent")
	}
}

func TestGet_UpstreamErrorKeepsBody(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.SetResponse("reviews", testutil.NewNotFoundResponse())

	c := newTestClient(t, mock, nil)
	_, err := c.Get(context.Background(), "reviews", query.MustNew("hotel_id", 1))

	var upErr *UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("expected UpstreamError, got %T: %v", err, err)
	}
	if upErr.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d", upErr.StatusCode)
	}
	if string(upErr.Body) != `{"message":"hotel not found"}` {
		t.Errorf("Body = %s", upErr.Body)
	}
}

func TestGet_TransportError(t *testing.T) {
	mock := testutil.NewMockUpstream()
	c := newTestClient(t, mock, nil)
	mock.Close()

	_, err := c.Get(context.Background(), "data", query.MustNew("hotel_id", 1))
	var trErr *TransportError
	if !errors.As(err, &trErr) {
		t.Fatalf("expected TransportError, got %T: %v", err, err)
	}
}

func TestGet_Timeout(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.SetResponse("data", testutil.MockResponse{StatusCode: 200, Body: `{}`, Delay: 500 * time.Millisecond})

	c := newTestClient(t, mock, func(cfg *Config) { cfg.Timeout = 50 * time.Millisecond })

	_, err := c.Get(context.Background(), "data", query.MustNew("hotel_id", 1))
	var trErr *TransportError
	if !errors.As(err, &trErr) {
		t.Fatalf("expected TransportError on timeout, got %T: %v", err, err)
	}
}

func TestGet_SingleAttempt(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.SetResponse("data", testutil.NewServerErrorResponse())

	c := newTestClient(t, mock, nil)
	_, _ = c.Get(context.Background(), "data", query.MustNew("hotel_id", 1))

	if got := mock.RequestCount(); got != 1 {
		t.Errorf("expected exactly 1 upstream request, got %d", got)
	}
}

func TestGet_BreakerOpensOnServerErrors(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.SetResponse("data", testutil.NewServerErrorResponse())

	c := newTestClient(t, mock, func(cfg *Config) {
		cfg.Breaker = BreakerConfig{ConsecutiveFailures: 3, OpenTimeout: time.Minute, HalfOpenRequests: 1}
	})
	ctx := context.Background()
	params := query.MustNew("hotel_id", 1)

	for i := 0; i < 3; i++ {
		_, err := c.Get(ctx, "data", params)
		var upErr *UpstreamError
		if !errors.As(err, &upErr) {
			t.Fatalf("call %d: expected UpstreamError, got %v", i, err)
		}
	}
	if c.BreakerState() != "open" {
		t.Fatalf("BreakerState = %q, want open", c.BreakerState())
	}

	_, err := c.Get(ctx, "data", params)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	var trErr *TransportError
	if !errors.As(err, &trErr) {
		t.Fatalf("open circuit should surface as TransportError, got %T", err)
	}
	if got := mock.RequestCount(); got != 3 {
		t.Errorf("open breaker must not reach the network: %d requests", got)
	}
}

func TestGet_ClientErrorsDoNotTripBreaker(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.SetResponse("data", testutil.NewNotFoundResponse())

	c := newTestClient(t, mock, func(cfg *Config) {
		cfg.Breaker = BreakerConfig{ConsecutiveFailures: 2, OpenTimeout: time.Minute, HalfOpenRequests: 1}
	})

	for i := 0; i < 5; i++ {
		_, _ = c.Get(context.Background(), "data", query.MustNew("hotel_id", 1))
	}
	if c.BreakerState() != "closed" {
		t.Errorf("BreakerState = %q, want closed", c.BreakerState())
	}
	if mock.RequestCount() != 5 {
		t.Errorf("RequestCount = %d, want 5", mock.RequestCount())
	}
}

func TestGet_CallerCancellationDoesNotTripBreaker(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.SetResponse("data", testutil.MockResponse{StatusCode: 200, Body: `{"ok":true}`, Delay: 50 * time.Millisecond})

	c := newTestClient(t, mock, nil)
	params := query.MustNew("hotel_id", 1)

	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		_, err := c.Get(ctx, "data", params)
		cancel()

		var trErr *TransportError
		if !errors.As(err, &trErr) {
			t.Fatalf("call %d: expected TransportError, got %T: %v", i, err, err)
		}
		if !trErr.Canceled || trErr.Class() != ErrorClassCanceled {
			t.Errorf("call %d: Canceled = %v, Class = %q", i, trErr.Canceled, trErr.Class())
		}
	}

	if c.BreakerState() != "closed" {
		t.Fatalf("BreakerState = %q, want closed", c.BreakerState())
	}
	resp, err := c.Get(context.Background(), "data", params)
	if err != nil {
		t.Fatalf("healthy upstream rejected after caller cancellations: %v", err)
	}
	if string(resp.Body) != `{"ok":true}` {
		t.Errorf("Body = %s", resp.Body)
	}
}

func TestGet_ClientTimeoutTripsBreaker(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.SetResponse("data", testutil.MockResponse{StatusCode: 200, Body: `{}`, Delay: 500 * time.Millisecond})

	c := newTestClient(t, mock, func(cfg *Config) {
		cfg.Timeout = 20 * time.Millisecond
		cfg.Breaker = BreakerConfig{ConsecutiveFailures: 2, OpenTimeout: time.Minute, HalfOpenRequests: 1}
	})

	for i := 0; i < 2; i++ {
		_, err := c.Get(context.Background(), "data", query.MustNew("hotel_id", 1))
		var trErr *TransportError
		if !errors.As(err, &trErr) || trErr.Canceled {
			t.Fatalf("call %d: expected non-canceled TransportError, got %v", i, err)
		}
	}
	if c.BreakerState() != "open" {
		t.Errorf("BreakerState = %q, want open", c.BreakerState())
	}
}

func TestGet_LocalRateLimitHonorsContext(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()

	c := newTestClient(t, mock, func(cfg *Config) {
		cfg.RequestsPerSecond = 0.1
		cfg.Burst = 1
	})
	params := query.MustNew("hotel_id", 1)

	if _, err := c.Get(context.Background(), "data", params); err != nil {
		t.Fatalf("first Get failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Get(ctx, "data", params)
	var trErr *TransportError
	if !errors.As(err, &trErr) {
		t.Fatalf("expected TransportError from local limiter, got %v", err)
	}
	if mock.RequestCount() != 1 {
		t.Errorf("RequestCount = %d, want 1", mock.RequestCount())
	}
}
