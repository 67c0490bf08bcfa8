// Package sqlite implements the durable record store on an embedded SQLite
// database (modernc.org/sqlite, no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/Sternrassler/hotel-cache-proxy/pkg/query"
	"github.com/Sternrassler/hotel-cache-proxy/pkg/store"
)

// Compile-time check that DB satisfies store.Store.
var _ store.Store = (*DB)(nil)

const timeFormat = time.RFC3339Nano

// DB is the SQLite-backed durable store.
type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path and runs migrations.
func New(ctx context.Context, path string) (*DB, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &DB{db: db}, nil
}

// FindOne looks up a record by collection and params hash.
func (d *DB) FindOne(ctx context.Context, collection string, params query.Params) (*store.Record, error) {
	var (
		rawParams string
		payload   string
		createdAt sql.NullString
	)
	err := d.db.QueryRowContext(ctx, `
		SELECT params, payload, created_at
		FROM upstream_records
		WHERE collection = ? AND params_hash = ?`,
		collection, params.Hash(),
	).Scan(&rawParams, &payload, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find record: %w", err)
	}

	rec := &store.Record{
		Collection: collection,
		Payload:    json.RawMessage(payload),
	}
	if err := json.Unmarshal([]byte(rawParams), &rec.Params); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	if createdAt.Valid {
		// An unparseable timestamp leaves CreatedAt nil so the record reads as stale.
		if ts, err := time.Parse(timeFormat, createdAt.String); err == nil {
			rec.CreatedAt = &ts
		}
	}
	return rec, nil
}

// ReplaceOne upserts rec in a single INSERT ... ON CONFLICT statement.
func (d *DB) ReplaceOne(ctx context.Context, rec *store.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	rawParams, err := json.Marshal(rec.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}

	var createdAt *string
	if rec.CreatedAt != nil {
		s := rec.CreatedAt.UTC().Format(timeFormat)
		createdAt = &s
	}

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO upstream_records (id, collection, params_hash, params, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (collection, params_hash) DO UPDATE SET
			params     = excluded.params,
			payload    = excluded.payload,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`,
		uuid.NewString(), rec.Collection, rec.Params.Hash(), string(rawParams),
		string(rec.Payload), createdAt, time.Now().UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

// Count returns the number of records in collection.
func (d *DB) Count(ctx context.Context, collection string) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM upstream_records WHERE collection = ?`, collection,
	).Scan(&n)
	return n, err
}

// Ping checks database connectivity.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}
