// Package memory is an in-process durable store for development and tests.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/Sternrassler/hotel-cache-proxy/pkg/query"
	"github.com/Sternrassler/hotel-cache-proxy/pkg/store"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("memory store is closed")

var _ store.Store = (*Store)(nil)

type recordKey struct {
	collection string
	hash       string
}

// Store keeps records in a mutex-guarded map keyed by (collection, params hash).
type Store struct {
	mu      sync.RWMutex
	records map[recordKey]store.Record
	closed  bool
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{records: make(map[recordKey]store.Record)}
}

// FindOne returns a copy of the stored record.
func (s *Store) FindOne(ctx context.Context, collection string, params query.Params) (*store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	rec, ok := s.records[recordKey{collection, params.Hash()}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneRecord(rec), nil
}

// ReplaceOne upserts rec under the write lock.
func (s *Store) ReplaceOne(ctx context.Context, rec *store.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.records[recordKey{rec.Collection, rec.Params.Hash()}] = *cloneRecord(*rec)
	return nil
}

// Ping fails once the store is closed.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Close drops all records.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.records = nil
	return nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func cloneRecord(rec store.Record) *store.Record {
	out := rec
	out.Payload = append(json.RawMessage(nil), rec.Payload...)
	if rec.CreatedAt != nil {
		ts := *rec.CreatedAt
		out.CreatedAt = &ts
	}
	return &out
}
