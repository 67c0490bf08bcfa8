// Package store defines the durable record tier: previously fetched
// upstream payloads addressed by the exact query parameters used to fetch
// them, partitioned into one collection per endpoint.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Sternrassler/hotel-cache-proxy/pkg/query"
)

// ErrNotFound is returned by FindOne when no record matches.
var ErrNotFound = errors.New("record not found")

// Record is one stored upstream response.
type Record struct {
	// Collection is the endpoint identifier ("data", "photos", "reviews", "room-list").
	Collection string `json:"collection"`

	// Params is the exact parameter set the payload was fetched with.
	Params query.Params `json:"params"`

	// Payload is the raw upstream JSON body.
	Payload json.RawMessage `json:"payload"`

	// CreatedAt is when the payload was fetched. Nil marks a malformed
	// record, which readers must treat as stale.
	CreatedAt *time.Time `json:"created_at"`
}

// IsFresh reports whether the record was created less than window ago.
// Records without a creation timestamp are never fresh.
func (r *Record) IsFresh(now time.Time, window time.Duration) bool {
	if r.CreatedAt == nil {
		return false
	}
	return now.Sub(*r.CreatedAt) < window
}

// Store is the durable record tier.
type Store interface {
	// FindOne returns the record in collection whose parameters exactly
	// match params, or ErrNotFound.
	FindOne(ctx context.Context, collection string, params query.Params) (*Record, error)

	// ReplaceOne upserts rec by (collection, params): an existing record is
	// replaced, otherwise one is inserted. It is a single atomic operation,
	// never a check followed by a write.
	ReplaceOne(ctx context.Context, rec *Record) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// Validate checks the fields every backend relies on.
func (r *Record) Validate() error {
	if r == nil {
		return errors.New("record cannot be nil")
	}
	if r.Collection == "" {
		return errors.New("record collection is required")
	}
	if len(r.Payload) == 0 {
		return errors.New("record payload is required")
	}
	if !json.Valid(r.Payload) {
		return errors.New("record payload is not valid JSON")
	}
	return nil
}
