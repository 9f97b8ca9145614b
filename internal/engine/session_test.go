package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"faramita/internal/archive"
	"faramita/internal/config"
	"faramita/internal/store"
	"faramita/internal/world"
)

const worldBook = `{
  "world_meta": {"uuid": "w-42", "name": "Oakenreach"},
  "entries": {
    "setting_cards": [
      {"id": "set-001", "type": "setting", "category": "rules", "title": "Iron Law", "content": "No magic inside the walls"}
    ],
    "character_cards": [
      {"id": "char-001", "type": "character", "name": "Aldric"},
      {"id": "char-002", "type": "character", "name": "Mirelle"}
    ]
  }
}`

func bareEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "world.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	e := New(st, &scriptedChat{}, archive.NewManager(t.TempDir(), nil), config.Default(), nil)
	return e, st
}

func writeTemplate(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "book.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestImportTemplate(t *testing.T) {
	e, st := bareEngine(t)
	ctx := context.Background()
	path := writeTemplate(t, worldBook)

	if err := e.ImportTemplate(ctx, path); err != nil {
		t.Fatalf("import: %v", err)
	}

	count, _ := st.CountCards(ctx)
	if count != 3 {
		t.Errorf("card count = %d, want 3", count)
	}
	meta, ok, _ := st.WorldMeta(ctx)
	if !ok || meta.UUID != "w-42" || meta.Name != "Oakenreach" {
		t.Errorf("world meta = %+v, ok = %v", meta, ok)
	}

	// Imported cards without a visibility record get the permissive
	// default.
	doc, ok, _ := st.GetCard(ctx, "char-001")
	if !ok {
		t.Fatal("char-001 not imported")
	}
	if _, ok := doc["visible"]; !ok {
		t.Error("imported card missing default visibility")
	}
}

func TestImportTemplate_NoOpOnPopulatedStore(t *testing.T) {
	e, st := bareEngine(t)
	ctx := context.Background()
	if err := st.PutCard(ctx, world.Doc{"id": "existing", "type": "custom"}); err != nil {
		t.Fatal(err)
	}

	if err := e.ImportTemplate(ctx, writeTemplate(t, worldBook)); err != nil {
		t.Fatalf("import: %v", err)
	}
	count, _ := st.CountCards(ctx)
	if count != 1 {
		t.Errorf("card count = %d, want 1 (import must not touch a populated store)", count)
	}
}

func TestSyncTemplate(t *testing.T) {
	e, st := bareEngine(t)
	ctx := context.Background()
	path := writeTemplate(t, worldBook)

	if err := e.ImportTemplate(ctx, path); err != nil {
		t.Fatal(err)
	}

	// Identical template: nothing to do.
	added, updated, err := e.SyncTemplate(ctx, path)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if added != 0 || updated != 0 {
		t.Errorf("sync of identical template = %d added, %d updated", added, updated)
	}

	// Drift the stored copy of one card, drop another; the template
	// wins for both.
	drifted, _, _ := st.GetCard(ctx, "char-001")
	drifted["name"] = "Aldric the Renamed"
	if err := st.PutCard(ctx, drifted); err != nil {
		t.Fatal(err)
	}
	if err := st.DeleteCard(ctx, "char-002"); err != nil {
		t.Fatal(err)
	}

	added, updated, err = e.SyncTemplate(ctx, path)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if added != 1 || updated != 1 {
		t.Errorf("sync = %d added, %d updated, want 1 and 1", added, updated)
	}
	restored, _, _ := st.GetCard(ctx, "char-001")
	if restored["name"] != "Aldric" {
		t.Errorf("char-001 name = %v, want template version restored", restored["name"])
	}
	if _, ok, _ := st.GetCard(ctx, "char-002"); !ok {
		t.Error("char-002 not re-added by sync")
	}
}

func TestExportTemplate_RoundTrip(t *testing.T) {
	e, st := bareEngine(t)
	ctx := context.Background()
	if err := e.ImportTemplate(ctx, writeTemplate(t, worldBook)); err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(t.TempDir(), "export.json")
	if err := e.ExportTemplate(ctx, out); err != nil {
		t.Fatalf("export: %v", err)
	}

	// The exported file re-imports into a fresh store with nothing
	// lost.
	e2, st2 := bareEngine(t)
	if err := e2.ImportTemplate(ctx, out); err != nil {
		t.Fatalf("re-import: %v", err)
	}
	want, _ := st.CountCards(ctx)
	got, _ := st2.CountCards(ctx)
	if got != want {
		t.Errorf("re-imported card count = %d, want %d", got, want)
	}
	meta, ok, _ := st2.WorldMeta(ctx)
	if !ok || meta.UUID != "w-42" {
		t.Errorf("re-imported meta = %+v, ok = %v", meta, ok)
	}
	doc, ok, _ := st2.GetCard(ctx, "set-001")
	if !ok || doc["title"] != "Iron Law" {
		t.Errorf("set-001 after round trip = %v", doc)
	}
}

func TestExportTemplate_RequiresWorldMeta(t *testing.T) {
	e, _ := bareEngine(t)
	out := filepath.Join(t.TempDir(), "export.json")
	if err := e.ExportTemplate(context.Background(), out); !errors.Is(err, ErrNoWorldMeta) {
		t.Fatalf("err = %v, want ErrNoWorldMeta", err)
	}
}

func TestSaveArchive_RequiresWorldMeta(t *testing.T) {
	e, _ := bareEngine(t)
	if _, err := e.SaveArchive(context.Background()); !errors.Is(err, ErrNoWorldMeta) {
		t.Fatalf("err = %v, want ErrNoWorldMeta", err)
	}
}

func TestReset(t *testing.T) {
	e, st := bareEngine(t)
	ctx := context.Background()
	if err := e.ImportTemplate(ctx, writeTemplate(t, worldBook)); err != nil {
		t.Fatal(err)
	}

	if err := e.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	count, _ := st.CountCards(ctx)
	if count != 0 {
		t.Errorf("card count after reset = %d", count)
	}
	if _, ok, _ := st.WorldMeta(ctx); ok {
		t.Error("world meta survived reset")
	}
}
