// Package postgres implements the durable record store on PostgreSQL via gorm.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/Sternrassler/hotel-cache-proxy/pkg/query"
	"github.com/Sternrassler/hotel-cache-proxy/pkg/store"
)

var _ store.Store = (*DB)(nil)

// UpstreamRecord is the gorm model for one stored upstream response.
type UpstreamRecord struct {
	ID         string         `gorm:"primaryKey;type:varchar(36)"`
	Collection string         `gorm:"not null;type:varchar(64);uniqueIndex:idx_upstream_records_natural_key,priority:1"`
	ParamsHash string         `gorm:"not null;type:char(64);uniqueIndex:idx_upstream_records_natural_key,priority:2"`
	Params     datatypes.JSON `gorm:"type:jsonb;not null"`
	Payload    datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt  *time.Time     `gorm:"autoCreateTime:false"`
	UpdatedAt  time.Time
}

// TableName pins the table name.
func (UpstreamRecord) TableName() string {
	return "upstream_records"
}

// DB is the PostgreSQL-backed durable store.
type DB struct {
	db *gorm.DB
}

// Open connects to dsn and migrates the schema.
func Open(ctx context.Context, dsn string) (*DB, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return New(ctx, gdb)
}

// New wraps an existing gorm handle and migrates the schema.
func New(ctx context.Context, gdb *gorm.DB) (*DB, error) {
	if gdb == nil {
		panic("gorm db cannot be nil")
	}
	if err := gdb.WithContext(ctx).AutoMigrate(&UpstreamRecord{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &DB{db: gdb}, nil
}

// FindOne looks up a record by collection and params hash.
func (d *DB) FindOne(ctx context.Context, collection string, params query.Params) (*store.Record, error) {
	var row UpstreamRecord
	err := d.db.WithContext(ctx).
		Where("collection = ? AND params_hash = ?", collection, params.Hash()).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find record: %w", err)
	}

	rec := &store.Record{
		Collection: row.Collection,
		Payload:    json.RawMessage(row.Payload),
		CreatedAt:  row.CreatedAt,
	}
	if err := json.Unmarshal(row.Params, &rec.Params); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	return rec, nil
}

// ReplaceOne upserts rec with INSERT ... ON CONFLICT DO UPDATE.
func (d *DB) ReplaceOne(ctx context.Context, rec *store.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	rawParams, err := json.Marshal(rec.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}

	row := UpstreamRecord{
		ID:         uuid.NewString(),
		Collection: rec.Collection,
		ParamsHash: rec.Params.Hash(),
		Params:     datatypes.JSON(rawParams),
		Payload:    datatypes.JSON(rec.Payload),
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  time.Now().UTC(),
	}

	err = d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "collection"}, {Name: "params_hash"}},
		DoUpdates: clause.AssignmentColumns([]string{"params", "payload", "created_at", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (d *DB) Ping(ctx context.Context) error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (d *DB) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
