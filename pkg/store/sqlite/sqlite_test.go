package sqlite_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/hotel-cache-proxy/pkg/query"
	"github.com/Sternrassler/hotel-cache-proxy/pkg/store"
	"github.com/Sternrassler/hotel-cache-proxy/pkg/store/sqlite"
)

func newTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.New(context.Background(), t.TempDir()+"/test.db")
	if err != nil {
		t.Fatalf("new test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPing(t *testing.T) {
	db := newTestDB(t)
	if err := db.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestReopenKeepsSchema(t *testing.T) {
	path := t.TempDir() + "/reopen.db"
	ctx := context.Background()

	db, err := sqlite.New(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	rec := &store.Record{Collection: "data", Params: query.MustNew("hotel_id", 1), Payload: json.RawMessage(`{}`)}
	if err := db.ReplaceOne(ctx, rec); err != nil {
		t.Fatalf("replace: %v", err)
	}
	db.Close()

	db, err = sqlite.New(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	if _, err := db.FindOne(ctx, "data", rec.Params); err != nil {
		t.Fatalf("find after reopen: %v", err)
	}
}

func TestFindOne_NotFound(t *testing.T) {
	db := newTestDB(t)
	_, err := db.FindOne(context.Background(), "data", query.MustNew("hotel_id", 1))
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestReplaceOne_Upsert(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	created := time.Date(2026, 10, 1, 8, 30, 0, 0, time.UTC)
	params := query.MustNew("hotel_id", 4469654, "locale", "en-gb")

	// Same payload twice yields exactly one record.
	for i := 0; i < 2; i++ {
		rec := &store.Record{Collection: "data", Params: params, Payload: json.RawMessage(`{"name":"x"}`), CreatedAt: &created}
		if err := db.ReplaceOne(ctx, rec); err != nil {
			t.Fatalf("replace #%d: %v", i, err)
		}
	}
	n, err := db.Count(ctx, "data")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}

	// Reordered params address the same record.
	updated := created.Add(time.Hour)
	rec := &store.Record{
		Collection: "data",
		Params:     query.MustNew("locale", "en-gb", "hotel_id", "4469654"),
		Payload:    json.RawMessage(`{"name":"y"}`),
		CreatedAt:  &updated,
	}
	if err := db.ReplaceOne(ctx, rec); err != nil {
		t.Fatalf("replace: %v", err)
	}

	got, err := db.FindOne(ctx, "data", params)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if string(got.Payload) != `{"name":"y"}` {
		t.Fatalf("payload = %s", got.Payload)
	}
	if got.CreatedAt == nil || !got.CreatedAt.Equal(updated) {
		t.Fatalf("created_at = %v, want %v", got.CreatedAt, updated)
	}
	if !got.Params.Equal(params) {
		t.Fatalf("params = %v", got.Params.Map())
	}
	if n, _ := db.Count(ctx, "data"); n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}
}

func TestReplaceOne_NilCreatedAt(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	params := query.MustNew("hotel_id", 2)

	if err := db.ReplaceOne(ctx, &store.Record{Collection: "photos", Params: params, Payload: json.RawMessage(`[]`)}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	got, err := db.FindOne(ctx, "photos", params)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.CreatedAt != nil {
		t.Fatalf("created_at = %v, want nil", got.CreatedAt)
	}
	if got.IsFresh(time.Now(), time.Hour) {
		t.Fatal("record without created_at must not be fresh")
	}
}

func TestReplaceOne_Invalid(t *testing.T) {
	db := newTestDB(t)
	err := db.ReplaceOne(context.Background(), &store.Record{Collection: "data", Payload: json.RawMessage(`not json`)})
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestReplaceOne_Concurrent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	params := query.MustNew("hotel_id", 3)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			now := time.Now().UTC()
			errs <- db.ReplaceOne(ctx, &store.Record{Collection: "reviews", Params: params, Payload: json.RawMessage(`{}`), CreatedAt: &now})
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("replace: %v", err)
		}
	}
	if n, _ := db.Count(ctx, "reviews"); n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}
}
