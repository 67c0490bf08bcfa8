// Package testutil provides testing utilities for the hotel proxy.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock upstream endpoint.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockUpstream is a configurable mock hotel data provider.
// Handlers are keyed by endpoint name, the path segment after /api/v1/hotels/.
type MockUpstream struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	requestCount  int
	endpointCount map[string]int
	lastRequest   *http.Request
}

// NewMockUpstream starts a new mock upstream server.
func NewMockUpstream() *MockUpstream {
	mock := &MockUpstream{
		handlers:      make(map[string]func(w http.ResponseWriter, r *http.Request)),
		endpointCount: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := strings.TrimPrefix(r.URL.Path, "/api/v1/hotels/")

		mock.mu.Lock()
		mock.requestCount++
		mock.endpointCount[endpoint]++
		mock.lastRequest = r.Clone(r.Context())
		handler, exists := mock.handlers[endpoint]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}
		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server base URL.
func (m *MockUpstream) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockUpstream) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockUpstream) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.endpointCount = make(map[string]int)
	m.lastRequest = nil
}

// SetHandler sets a custom handler for an endpoint.
func (m *MockUpstream) SetHandler(endpoint string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[endpoint] = handler
}

// SetResponse configures a fixed response for an endpoint.
func (m *MockUpstream) SetResponse(endpoint string, resp MockResponse) {
	m.SetHandler(endpoint, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			select {
			case <-time.After(resp.Delay):
			case <-r.Context().Done():
				return
			}
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// RequestCount returns the total number of requests served.
func (m *MockUpstream) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// EndpointCount returns the number of requests served for one endpoint.
func (m *MockUpstream) EndpointCount(endpoint string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.endpointCount[endpoint]
}

// LastRequest returns a clone of the most recent request, or nil.
func (m *MockUpstream) LastRequest() *http.Request {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastRequest
}

func (m *MockUpstream) defaultHandler(w http.ResponseWriter, r *http.Request) {
	for k, v := range quotaHeaders("100", "500") {
		w.Header().Set(k, v)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func quotaHeaders(remaining, limit string) map[string]string {
	return map[string]string{
		"X-RateLimit-Requests-Limit":     limit,
		"X-RateLimit-Requests-Remaining": remaining,
		"X-RateLimit-Requests-Reset":     "3600",
		"Content-Type":                   "application/json",
	}
}

// NewHealthyResponse creates a 200 OK response with quota headers.
func NewHealthyResponse(data string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers:    quotaHeaders("100", "500"),
	}
}

// NewNotFoundResponse creates a 404 response with a provider-style body.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{"message":"hotel not found"}`,
		Headers:    quotaHeaders("99", "500"),
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"message":"You have exceeded the rate limit per second for your plan"}`,
		Headers:    quotaHeaders("0", "500"),
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"message":"internal error"}`,
		Headers:    quotaHeaders("98", "500"),
	}
}
