package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	if err := SetupSchema(db); err != nil {
		t.Fatalf("failed to set up schema: %v", err)
	}

	s, err := New(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestPutGet(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	info, err := s.Put(ctx, "greet", "Hello, {{ name }}!")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if info.Id == "" || info.Name != "greet" {
		t.Errorf("unexpected info: %+v", info)
	}

	st, err := s.Get(ctx, "greet")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if st.Source != "Hello, {{ name }}!" {
		t.Errorf("Get returned source %q", st.Source)
	}
	if st.Info.Id != info.Id {
		t.Errorf("Get returned id %q, want %q", st.Info.Id, info.Id)
	}
}

func TestPutUpdatesInPlace(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	first, err := s.Put(ctx, "t", "one")
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Put(ctx, "t", "two")
	if err != nil {
		t.Fatal(err)
	}
	if second.Id != first.Id {
		t.Errorf("update changed the id: %q -> %q", first.Id, second.Id)
	}

	st, err := s.Get(ctx, "t")
	if err != nil {
		t.Fatal(err)
	}
	if st.Source != "two" {
		t.Errorf("source after update = %q, want %q", st.Source, "two")
	}

	infos, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 1 {
		t.Errorf("expected a single row after update, got %d", len(infos))
	}
}

func TestPutConcurrentSameName(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	// Racing Puts of a brand-new name must both succeed and leave a
	// single row behind.
	const writers = 4
	done := make(chan error, writers)
	for i := 0; i < writers; i++ {
		go func(i int) {
			_, err := s.Put(ctx, "shared", fmt.Sprintf("body %d", i))
			done <- err
		}(i)
	}
	for i := 0; i < writers; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent Put failed: %v", err)
		}
	}

	infos, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 1 || infos[0].Name != "shared" {
		t.Errorf("expected a single row for %q, got %+v", "shared", infos)
	}
}

func TestPutRejectsInvalidTemplate(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	if _, err := s.Put(ctx, "bad", "{{ if x }}no close"); err == nil {
		t.Fatal("an uncompilable template should be rejected")
	}
	if _, err := s.Get(ctx, "bad"); !errors.Is(err, ErrNotFound) {
		t.Error("a rejected template must not be stored")
	}

	if _, err := s.Put(ctx, "", "x"); err == nil {
		t.Error("an empty name should be rejected")
	}
}

func TestGetNotFound(t *testing.T) {
	s := setupStore(t)
	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListOrdering(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	for _, name := range []string{"charlie", "alpha", "bravo"} {
		if _, err := s.Put(ctx, name, "x"); err != nil {
			t.Fatal(err)
		}
	}
	infos, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, info := range infos {
		names = append(names, info.Name)
	}
	want := []string{"alpha", "bravo", "charlie"}
	if len(names) != len(want) {
		t.Fatalf("List returned %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("List returned %v, want %v", names, want)
		}
	}
}

func TestDelete(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	if _, err := s.Put(ctx, "t", "x"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "t"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, "t"); !errors.Is(err, ErrNotFound) {
		t.Error("template should be gone after Delete")
	}
	if err := s.Delete(ctx, "t"); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleting a missing template should return ErrNotFound, got %v", err)
	}
}

func TestRename(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	info, err := s.Put(ctx, "old", "body")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Rename(ctx, "old", "new"); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}

	st, err := s.Get(ctx, "new")
	if err != nil {
		t.Fatalf("Get after rename failed: %v", err)
	}
	if st.Info.Id != info.Id || st.Source != "body" {
		t.Errorf("rename must keep id and source, got %+v", st)
	}
	if _, err := s.Get(ctx, "old"); !errors.Is(err, ErrNotFound) {
		t.Error("old name should be gone after rename")
	}

	if err := s.Rename(ctx, "missing", "other"); !errors.Is(err, ErrNotFound) {
		t.Errorf("renaming a missing template should return ErrNotFound, got %v", err)
	}
	if err := s.Rename(ctx, "new", ""); err == nil {
		t.Error("renaming to an empty name should be rejected")
	}
}

func TestLoadAll(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	want := map[string]string{
		"a": "A {{ x }}",
		"b": "B",
	}
	for name, src := range want {
		if _, err := s.Put(ctx, name, src); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("LoadAll returned %d templates, want %d", len(got), len(want))
	}
	for name, src := range want {
		if got[name] != src {
			t.Errorf("LoadAll[%q] = %q, want %q", name, got[name], src)
		}
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	src := setupStore(t)
	dst := setupStore(t)
	ctx := context.Background()

	sources := map[string]string{
		"greet": "Hello, {{ name }}!",
		"list":  "{{ for x in items }}{{ x }},{{ endfor }}",
	}
	var ids = map[string]string{}
	for name, body := range sources {
		info, err := src.Put(ctx, name, body)
		if err != nil {
			t.Fatal(err)
		}
		ids[name] = info.Id
	}

	var sb strings.Builder
	if err := src.Export(ctx, &sb); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	if err := dst.Import(ctx, strings.NewReader(sb.String())); err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	for name, body := range sources {
		st, err := dst.Get(ctx, name)
		if err != nil {
			t.Fatalf("Get(%q) after import failed: %v", name, err)
		}
		if st.Source != body {
			t.Errorf("imported source for %q = %q, want %q", name, st.Source, body)
		}
		if st.Info.Id != ids[name] {
			t.Errorf("import should preserve ids, got %q want %q", st.Info.Id, ids[name])
		}
	}
}

func TestImportRejectsInvalid(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	if _, err := s.Put(ctx, "keep", "ok"); err != nil {
		t.Fatal(err)
	}

	payload := `[
  {"name": "good", "source": "fine"},
  {"name": "bad", "source": "{{ endif }}"}
]`
	if err := s.Import(ctx, strings.NewReader(payload)); err == nil {
		t.Fatal("import with an invalid template should fail")
	}
	if _, err := s.Get(ctx, "good"); !errors.Is(err, ErrNotFound) {
		t.Error("a failed import must not apply any of its templates")
	}
	if _, err := s.Get(ctx, "keep"); err != nil {
		t.Errorf("a failed import must keep existing templates: %v", err)
	}

	if err := s.Import(ctx, strings.NewReader(`[{"name": "", "source": "x"}]`)); err == nil {
		t.Error("import with an empty name should fail")
	}
	if err := s.Import(ctx, strings.NewReader(`not json`)); err == nil {
		t.Error("import with malformed JSON should fail")
	}
}

func TestImportOverwritesExisting(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	if _, err := s.Put(ctx, "t", "old"); err != nil {
		t.Fatal(err)
	}
	if err := s.Import(ctx, strings.NewReader(`[{"name": "t", "source": "new"}]`)); err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	st, err := s.Get(ctx, "t")
	if err != nil {
		t.Fatal(err)
	}
	if st.Source != "new" {
		t.Errorf("import should overwrite matching names, got %q", st.Source)
	}
}
