package ratelimit

import (
	"time"
)

// Redis keys for provider quota state storage. They live outside the
// cache.KeyPrefix namespace so a cache flush keeps them.
const (
	RedisKeyQuotaLimit     = "hotelproxy:quota:limit"
	RedisKeyQuotaRemaining = "hotelproxy:quota:remaining"
	RedisKeyQuotaResetAt   = "hotelproxy:quota:reset_at"
	RedisKeyQuotaUpdatedAt = "hotelproxy:quota:updated_at"
)

// Provider quota headers.
const (
	HeaderQuotaLimit     = "X-RateLimit-Requests-Limit"
	HeaderQuotaRemaining = "X-RateLimit-Requests-Remaining"
	HeaderQuotaReset     = "X-RateLimit-Requests-Reset"
)

// Thresholds for quota warnings.
const (
	// QuotaThresholdCritical logs an error when fewer requests remain in the billing window.
	QuotaThresholdCritical = 10

	// QuotaThresholdWarning logs a warning when fewer requests remain.
	QuotaThresholdWarning = 100
)

// QuotaState is the provider-reported request quota, shared across proxy
// instances via Redis.
type QuotaState struct {
	// Limit is the total quota for the current window (0 if not reported).
	Limit int `json:"limit"`

	// Remaining is the number of requests left in the current window.
	Remaining int `json:"remaining"`

	// ResetAt is when the provider resets the quota.
	ResetAt time.Time `json:"reset_at"`

	// UpdatedAt is when this state was last refreshed from response headers.
	UpdatedAt time.Time `json:"updated_at"`

	// Known is false until at least one response carried quota headers.
	Known bool `json:"known"`
}

// IsStale returns true if the state data is older than the given duration.
func (s *QuotaState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.UpdatedAt) > maxAge
}

// IsCritical returns true when the quota is nearly spent.
func (s *QuotaState) IsCritical() bool {
	return s.Known && s.Remaining < QuotaThresholdCritical
}

// IsLow returns true when the quota is in the warning band.
func (s *QuotaState) IsLow() bool {
	return s.Known && s.Remaining < QuotaThresholdWarning && !s.IsCritical()
}

// TimeUntilReset returns the duration until the quota resets.
// Returns 0 if the reset time has already passed.
func (s *QuotaState) TimeUntilReset() time.Duration {
	d := time.Until(s.ResetAt)
	if d < 0 {
		return 0
	}
	return d
}
