package importer

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/openlectern/lectern/internal/content"
	"github.com/openlectern/lectern/internal/store"
)

// setupTestDB opens a fresh canonical store in a temp directory.
func setupTestDB(t *testing.T) *store.DB {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "content.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.InitSchema(); err != nil {
		t.Fatalf("Failed to initialize schema: %v", err)
	}
	return db
}

// setupCorpus writes a small but complete corpus tree.
func setupCorpus(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()

	writeFile(t, dir, "translations/web/translation.toml", `
id = "web"
name = "World English Bible"
language = "en"
`)
	writeFile(t, dir, "translations/web/genesis/1.json", `{
		"translation": "web", "book": "genesis", "chapter": 1,
		"verses": [{"number": 1, "text": "In the beginning"}]
	}`)
	writeFile(t, dir, "translations/web/genesis/2.json", `{
		"translation": "web", "book": "genesis", "chapter": 2,
		"verses": [{"number": 1, "text": "The heavens and the earth"}]
	}`)
	writeFile(t, dir, "timeline.json", `{
		"events": [{"title": "Creation", "year": 4000, "era": "BC"}]
	}`)
	writeFile(t, dir, "prophecies.json", `{
		"prophecies": [{"title": "Messiah's birthplace", "prophecy": "micah/5"}]
	}`)
	writeFile(t, dir, "persons/moses.json", `{"id": "moses", "name": "Moses"}`)
	writeFile(t, dir, "plans/gospels.yaml", `
id: gospels-30
title: Gospels in 30 Days
days:
  - day: 1
    readings: ["matthew/1"]
`)

	return dir
}

func writeFile(t *testing.T, root, rel, data string) {
	t.Helper()

	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create directory for %s: %v", rel, err)
	}
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", rel, err)
	}
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestRun_InitialImport(t *testing.T) {
	db := setupTestDB(t)
	corpus := setupCorpus(t)
	imp := New(db, corpus, quietLogger())
	ctx := context.Background()

	result, err := imp.Run(ctx, false)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if result.Version != 1 || !result.Bumped {
		t.Errorf("first run version = %d bumped = %v, want 1/true", result.Version, result.Bumped)
	}
	if got := result.Counts[content.TypeChapters].Updated; got != 2 {
		t.Errorf("chapters updated = %d, want 2", got)
	}
	if got := result.Counts[content.TypeTimeline].Updated; got != 1 {
		t.Errorf("timeline updated = %d, want 1", got)
	}
	if got := result.Counts[content.TypePersons].Updated; got != 1 {
		t.Errorf("persons updated = %d, want 1", got)
	}
	if got := result.Counts[content.TypeReadingPlans].Updated; got != 1 {
		t.Errorf("plans updated = %d, want 1", got)
	}

	if _, err := db.GetRecord(ctx, content.TypeChapters, "web/genesis/1"); err != nil {
		t.Errorf("imported chapter not retrievable: %v", err)
	}

	meta, err := db.Meta(ctx)
	if err != nil {
		t.Fatalf("Meta() error: %v", err)
	}
	if meta.SyncVersion != 1 || meta.VersionString == "" || meta.LastImportAt.IsZero() {
		t.Errorf("metadata surface not refreshed: %+v", meta)
	}
}

func TestRun_SecondRunIsNoOp(t *testing.T) {
	db := setupTestDB(t)
	corpus := setupCorpus(t)
	imp := New(db, corpus, quietLogger())
	ctx := context.Background()

	if _, err := imp.Run(ctx, false); err != nil {
		t.Fatalf("first Run() error: %v", err)
	}

	result, err := imp.Run(ctx, false)
	if err != nil {
		t.Fatalf("second Run() error: %v", err)
	}

	if result.Bumped {
		t.Error("unchanged corpus must not bump the version")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
	if got := result.TotalUpdated(); got != 0 {
		t.Errorf("TotalUpdated() = %d, want 0", got)
	}
	if got := result.Counts[content.TypeChapters].Unchanged; got != 2 {
		t.Errorf("chapters unchanged = %d, want 2", got)
	}
}

func TestRun_DetectsSingleChange(t *testing.T) {
	db := setupTestDB(t)
	corpus := setupCorpus(t)
	imp := New(db, corpus, quietLogger())
	ctx := context.Background()

	if _, err := imp.Run(ctx, false); err != nil {
		t.Fatalf("first Run() error: %v", err)
	}

	writeFile(t, corpus, "translations/web/genesis/1.json", `{
		"translation": "web", "book": "genesis", "chapter": 1,
		"verses": [{"number": 1, "text": "In the beginning God created"}]
	}`)

	result, err := imp.Run(ctx, false)
	if err != nil {
		t.Fatalf("second Run() error: %v", err)
	}

	if result.Version != 2 || !result.Bumped {
		t.Errorf("version = %d bumped = %v, want 2/true", result.Version, result.Bumped)
	}
	counts := result.Counts[content.TypeChapters]
	if counts.Updated != 1 || counts.Unchanged != 1 {
		t.Errorf("chapters = %+v, want 1 updated 1 unchanged", counts)
	}

	// Only the changed chapter appears in the delta for version 1 clients.
	status, err := db.Status(ctx, 1)
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if len(status.Changes.Chapters) != 1 || status.Changes.Chapters[0] != "web/genesis/1" {
		t.Errorf("delta chapters = %v, want [web/genesis/1]", status.Changes.Chapters)
	}
	if status.Changes.Timeline || len(status.Changes.Persons) != 0 {
		t.Errorf("unchanged types leaked into the delta: %+v", status.Changes)
	}
}

func TestRun_PrunesRemovedSource(t *testing.T) {
	db := setupTestDB(t)
	corpus := setupCorpus(t)
	imp := New(db, corpus, quietLogger())
	ctx := context.Background()

	if _, err := imp.Run(ctx, false); err != nil {
		t.Fatalf("first Run() error: %v", err)
	}

	if err := os.Remove(filepath.Join(corpus, "persons", "moses.json")); err != nil {
		t.Fatalf("Failed to remove source file: %v", err)
	}

	result, err := imp.Run(ctx, false)
	if err != nil {
		t.Fatalf("second Run() error: %v", err)
	}

	if got := result.Counts[content.TypePersons].Removed; got != 1 {
		t.Errorf("persons removed = %d, want 1", got)
	}
	if !result.Bumped {
		t.Error("a removal must bump the version")
	}
	if _, err := db.GetRecord(ctx, content.TypePersons, "moses"); err == nil {
		t.Error("pruned record still retrievable")
	}
}

func TestRun_FullRebuildAlwaysBumps(t *testing.T) {
	db := setupTestDB(t)
	corpus := setupCorpus(t)
	imp := New(db, corpus, quietLogger())
	ctx := context.Background()

	if _, err := imp.Run(ctx, false); err != nil {
		t.Fatalf("first Run() error: %v", err)
	}

	result, err := imp.Run(ctx, true)
	if err != nil {
		t.Fatalf("full Run() error: %v", err)
	}

	if result.Version != 2 || !result.Bumped {
		t.Errorf("full rebuild version = %d bumped = %v, want 2/true", result.Version, result.Bumped)
	}
	if got := result.Counts[content.TypeChapters].Updated; got != 2 {
		t.Errorf("full rebuild chapters updated = %d, want 2", got)
	}
}

func TestRun_SkipsInvalidFiles(t *testing.T) {
	db := setupTestDB(t)
	corpus := setupCorpus(t)
	writeFile(t, corpus, "translations/web/genesis/3.json", `not json at all`)
	writeFile(t, corpus, "persons/broken.json", `{"id": "broken"}`)
	imp := New(db, corpus, quietLogger())
	ctx := context.Background()

	result, err := imp.Run(ctx, false)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if got := result.Counts[content.TypeChapters].Failed; got != 1 {
		t.Errorf("chapters failed = %d, want 1", got)
	}
	if got := result.Counts[content.TypePersons].Failed; got != 1 {
		t.Errorf("persons failed = %d, want 1", got)
	}

	// Valid files around the bad ones still imported.
	if got := result.Counts[content.TypeChapters].Updated; got != 2 {
		t.Errorf("chapters updated = %d, want 2", got)
	}
	if got := result.Counts[content.TypePersons].Updated; got != 1 {
		t.Errorf("persons updated = %d, want 1", got)
	}
}

func TestRun_MismatchedTranslationSkipped(t *testing.T) {
	db := setupTestDB(t)
	corpus := setupCorpus(t)
	writeFile(t, corpus, "translations/web/genesis/4.json", `{
		"translation": "kjv", "book": "genesis", "chapter": 4,
		"verses": [{"number": 1, "text": "wrong home"}]
	}`)
	imp := New(db, corpus, quietLogger())

	result, err := imp.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	counts := result.Counts[content.TypeChapters]
	if counts.Failed != 1 || counts.Updated != 2 {
		t.Errorf("chapters = %+v, want 1 failed 2 updated", counts)
	}
}
