package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shelfapp/shelf/internal/schema"
)

// setupStore opens a fresh store in a temp directory with the default
// registry.
func setupStore(t *testing.T) (*Store, *schema.Registry) {
	t.Helper()

	reg, err := schema.Default()
	if err != nil {
		t.Fatalf("failed to load registry: %v", err)
	}

	path := filepath.Join(t.TempDir(), "shelf.db")
	st, err := Open(path, reg)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	return st, reg
}

// gameRecord builds a full game row for tests.
func gameRecord(reg *schema.Registry, id, title string) schema.Record {
	games, _ := reg.Table("games")
	rec := games.NewRecord(id)
	rec["title"] = schema.Text(title)
	return rec
}

func TestOpenCreatesParentDirs(t *testing.T) {
	reg, err := schema.Default()
	if err != nil {
		t.Fatalf("failed to load registry: %v", err)
	}

	path := filepath.Join(t.TempDir(), "deep", "nested", "shelf.db")
	st, err := Open(path, reg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer st.Close()
}

func TestUpsertAndFetch(t *testing.T) {
	st, reg := setupStore(t)
	ctx := context.Background()

	rec := gameRecord(reg, "g-1", "Spelunky")
	rec["min_price"] = schema.Int(500)
	rec["can_be_bought"] = schema.Bool(true)
	rec["platforms"] = schema.JSON(`{"windows":true,"linux":true}`)
	rec["published_at"] = schema.Time(time.Date(2020, 9, 15, 0, 0, 0, 0, time.UTC))

	if err := st.UpsertMany(ctx, "games", []schema.Record{rec}); err != nil {
		t.Fatalf("UpsertMany failed: %v", err)
	}

	got, err := st.FetchByIDs(ctx, "games", []string{"g-1", "g-missing"})
	if err != nil {
		t.Fatalf("FetchByIDs failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got))
	}

	stored := got["g-1"]
	if stored == nil {
		t.Fatal("g-1 not returned")
	}
	if stored["title"] != schema.Text("Spelunky") {
		t.Errorf("title = %v", stored["title"])
	}
	if stored["min_price"] != schema.Int(500) {
		t.Errorf("min_price = %v", stored["min_price"])
	}
	if stored["can_be_bought"] != schema.Bool(true) {
		t.Errorf("can_be_bought = %v", stored["can_be_bought"])
	}
	if !stored["platforms"].Equal(schema.JSON(`{"linux":true,"windows":true}`)) {
		t.Errorf("platforms = %v", stored["platforms"])
	}
	if !stored["published_at"].Equal(schema.Time(time.Date(2020, 9, 15, 0, 0, 0, 0, time.UTC))) {
		t.Errorf("published_at = %v", stored["published_at"])
	}
}

func TestUpsertReplacesByID(t *testing.T) {
	st, reg := setupStore(t)
	ctx := context.Background()

	if err := st.UpsertMany(ctx, "games", []schema.Record{gameRecord(reg, "g-1", "Old")}); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	if err := st.UpsertMany(ctx, "games", []schema.Record{gameRecord(reg, "g-1", "New")}); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	count, err := st.Count(ctx, "games")
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 row after replace, got %d", count)
	}

	got, err := st.FetchByIDs(ctx, "games", []string{"g-1"})
	if err != nil {
		t.Fatalf("FetchByIDs failed: %v", err)
	}
	if got["g-1"]["title"] != schema.Text("New") {
		t.Errorf("title = %v", got["g-1"]["title"])
	}
}

func TestFetchEmptyIDs(t *testing.T) {
	st, _ := setupStore(t)

	got, err := st.FetchByIDs(context.Background(), "games", nil)
	if err != nil {
		t.Fatalf("FetchByIDs failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty result, got %d records", len(got))
	}
}

func TestUnknownTable(t *testing.T) {
	st, _ := setupStore(t)
	ctx := context.Background()

	if _, err := st.FetchByIDs(ctx, "achievements", []string{"a-1"}); !errors.Is(err, ErrUnknownTable) {
		t.Errorf("FetchByIDs: expected ErrUnknownTable, got %v", err)
	}
	if err := st.UpsertMany(ctx, "achievements", []schema.Record{{"id": schema.Text("a-1")}}); !errors.Is(err, ErrUnknownTable) {
		t.Errorf("UpsertMany: expected ErrUnknownTable, got %v", err)
	}
	if _, err := st.DeleteMany(ctx, "achievements", []string{"a-1"}); !errors.Is(err, ErrUnknownTable) {
		t.Errorf("DeleteMany: expected ErrUnknownTable, got %v", err)
	}
}

func TestDeleteMany(t *testing.T) {
	st, reg := setupStore(t)
	ctx := context.Background()

	records := []schema.Record{
		gameRecord(reg, "g-1", "One"),
		gameRecord(reg, "g-2", "Two"),
	}
	if err := st.UpsertMany(ctx, "games", records); err != nil {
		t.Fatalf("UpsertMany failed: %v", err)
	}

	deleted, err := st.DeleteMany(ctx, "games", []string{"g-1", "g-nope"})
	if err != nil {
		t.Fatalf("DeleteMany failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted, got %d", deleted)
	}

	// Deleting again is a no-op, not an error
	deleted, err = st.DeleteMany(ctx, "games", []string{"g-1"})
	if err != nil {
		t.Fatalf("repeat DeleteMany failed: %v", err)
	}
	if deleted != 0 {
		t.Errorf("expected 0 deleted on repeat, got %d", deleted)
	}

	count, err := st.Count(ctx, "games")
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 row remaining, got %d", count)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	st, _ := setupStore(t)

	if err := st.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}

func TestOperationsAfterClose(t *testing.T) {
	st, reg := setupStore(t)
	ctx := context.Background()

	if err := st.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := st.FetchByIDs(ctx, "games", []string{"g-1"}); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("FetchByIDs: expected ErrStoreClosed, got %v", err)
	}
	if err := st.UpsertMany(ctx, "games", []schema.Record{gameRecord(reg, "g-1", "X")}); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("UpsertMany: expected ErrStoreClosed, got %v", err)
	}
	if _, err := st.DeleteMany(ctx, "games", []string{"g-1"}); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("DeleteMany: expected ErrStoreClosed, got %v", err)
	}
	if _, err := st.Count(ctx, "games"); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("Count: expected ErrStoreClosed, got %v", err)
	}
}

func TestReopenWithConflictingSchema(t *testing.T) {
	reg, err := schema.Default()
	if err != nil {
		t.Fatalf("failed to load registry: %v", err)
	}

	path := filepath.Join(t.TempDir(), "shelf.db")
	st, err := Open(path, reg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Same table name, different column set
	conflicting, err := schema.Parse([]byte(`
[[table]]
name = "games"
  [[table.column]]
  name = "id"
  type = "text"
  [[table.column]]
  name = "rating"
  type = "int"
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if _, err := Open(path, conflicting); !errors.Is(err, ErrSchemaMismatch) {
		t.Errorf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestZeroTimestampRoundTrip(t *testing.T) {
	st, reg := setupStore(t)
	ctx := context.Background()

	rec := gameRecord(reg, "g-1", "Untitled")
	if err := st.UpsertMany(ctx, "games", []schema.Record{rec}); err != nil {
		t.Fatalf("UpsertMany failed: %v", err)
	}

	got, err := st.FetchByIDs(ctx, "games", []string{"g-1"})
	if err != nil {
		t.Fatalf("FetchByIDs failed: %v", err)
	}
	published, ok := got["g-1"]["published_at"].(schema.Time)
	if !ok {
		t.Fatalf("published_at has wrong type: %T", got["g-1"]["published_at"])
	}
	if !published.IsZero() {
		t.Errorf("expected unset timestamp to stay zero, got %v", published)
	}
}
