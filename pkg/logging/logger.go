// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel `mapstructure:"level"`

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool `mapstructure:"pretty"`

	// Service is attached to every entry as "service" when set.
	Service string `mapstructure:"service"`

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer `mapstructure:"-"`
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:   LevelInfo,
		Service: "hotel-proxy",
		Output:  os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(output).With().Timestamp()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	logger := ctx.Logger()

	log.Logger = logger
	return logger
}

// ValidLevel reports whether level is one of the supported names.
func ValidLevel(level LogLevel) bool {
	switch strings.ToLower(string(level)) {
	case "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// WithComponent derives a logger tagged with a component name.
func WithComponent(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// Middleware logs one entry per HTTP request. 5xx responses log at error
// level, 4xx at warn, the rest at debug.
func Middleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			if rec.status == 0 {
				rec.status = http.StatusOK
			}

			var event *zerolog.Event
			switch {
			case rec.status >= 500:
				event = logger.Error()
			case rec.status >= 400:
				event = logger.Warn()
			default:
				event = logger.Debug()
			}
			event.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status_code", rec.status).
				Int("bytes", rec.bytes).
				Dur("duration", time.Since(start)).
				Msg("HTTP request")
		})
	}
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Tier decisions (fast cache hit, durable hit, upstream fetch)
//   - Admission backoff
//   - Successful HTTP requests
//
// Info: Normal operation events
//   - Server startup/shutdown
//   - Fast cache flush on startup
//
// Warn: Warning conditions that don't prevent operation
//   - Durable records without created_at (refetched)
//   - Invalid fast cache entries (treated as miss)
//   - Provider quota running low
//   - Circuit breaker state changes
//   - 4xx responses
//
// Error: Error conditions requiring attention
//   - Upstream 5xx and transport failures
//   - Storage backend failures
//   - Provider quota critical
//
// Context Fields:
//   - component: emitting package (fetch, upstream, ratelimit, aggregator, http)
//   - endpoint: upstream endpoint / durable collection
//   - cache_key: fast cache key
//   - source: serving tier (fast_cache, durable_store, upstream)
//   - status_code: HTTP status code
//   - duration: request duration
//   - error_class: upstream error class (client, server, network, circuit_open)
