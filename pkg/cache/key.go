package cache

import (
	"strings"

	"github.com/Sternrassler/hotel-cache-proxy/pkg/query"
)

// KeyPrefix namespaces every fast cache key written by the proxy.
const KeyPrefix = "hotels"

// CacheKey identifies a cached upstream response.
type CacheKey struct {
	// Endpoint is the upstream endpoint identifier (e.g., "data", "room-list")
	Endpoint string

	// Params is the full upstream query parameter set
	Params query.Params
}

// String generates a deterministic cache key string.
// Format: hotels:endpoint:canonical-params
//
// Example:
//
//	hotels:data:hotel_id=4469654&locale=en-gb
//
// Parameters are sorted and escaped, so the same logical set always yields
// the same key and distinct sets never collide.
func (k CacheKey) String() string {
	parts := []string{KeyPrefix}

	endpoint := strings.Trim(k.Endpoint, "/")
	if endpoint != "" {
		parts = append(parts, endpoint)
	}

	if k.Params.Len() > 0 {
		parts = append(parts, k.Params.Canonical())
	}

	return strings.Join(parts, ":")
}
