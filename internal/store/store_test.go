package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/openlectern/lectern/internal/content"
)

// setupTestDB opens a fresh store in a temp directory.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "content.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.InitSchema(); err != nil {
		t.Fatalf("Failed to initialize schema: %v", err)
	}
	return db
}

func TestHasChanged(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Unknown keys always count as changed.
	changed, err := db.HasChanged(ctx, content.TypeChapters, "web/genesis/1", "fp1")
	if err != nil {
		t.Fatalf("HasChanged() error: %v", err)
	}
	if !changed {
		t.Error("unknown key should report changed")
	}

	if err := db.CommitFingerprint(ctx, content.TypeChapters, "web/genesis/1", "fp1", now); err != nil {
		t.Fatalf("CommitFingerprint() error: %v", err)
	}

	// Same fingerprint: unchanged.
	changed, err = db.HasChanged(ctx, content.TypeChapters, "web/genesis/1", "fp1")
	if err != nil {
		t.Fatalf("HasChanged() error: %v", err)
	}
	if changed {
		t.Error("identical fingerprint should report unchanged")
	}

	// Different fingerprint: changed.
	changed, err = db.HasChanged(ctx, content.TypeChapters, "web/genesis/1", "fp2")
	if err != nil {
		t.Fatalf("HasChanged() error: %v", err)
	}
	if !changed {
		t.Error("different fingerprint should report changed")
	}

	// Same key under a different type is independent.
	changed, err = db.HasChanged(ctx, content.TypePersons, "web/genesis/1", "fp1")
	if err != nil {
		t.Fatalf("HasChanged() error: %v", err)
	}
	if !changed {
		t.Error("fingerprints must be scoped per content type")
	}
}

func TestVersionLedger(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	v, err := db.CurrentVersion(ctx)
	if err != nil {
		t.Fatalf("CurrentVersion() error: %v", err)
	}
	if v != 0 {
		t.Errorf("fresh store version = %d, want 0", v)
	}

	t1 := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	v1, err := db.IncrementVersion(ctx, t1)
	if err != nil {
		t.Fatalf("IncrementVersion() error: %v", err)
	}
	v2, err := db.IncrementVersion(ctx, t2)
	if err != nil {
		t.Fatalf("IncrementVersion() error: %v", err)
	}

	if v1 != 1 || v2 != 2 {
		t.Errorf("versions = %d, %d, want 1, 2", v1, v2)
	}

	ts, ok, err := db.VersionTimestamp(ctx, v1)
	if err != nil {
		t.Fatalf("VersionTimestamp() error: %v", err)
	}
	if !ok {
		t.Fatal("VersionTimestamp() did not resolve a recorded version")
	}
	if !ts.Equal(t1) {
		t.Errorf("version 1 timestamp = %v, want %v", ts, t1)
	}

	// Unknown and zero versions do not resolve.
	if _, ok, err := db.VersionTimestamp(ctx, 99); err != nil || ok {
		t.Errorf("VersionTimestamp(99) = ok=%v err=%v, want unresolved", ok, err)
	}
	if _, ok, err := db.VersionTimestamp(ctx, 0); err != nil || ok {
		t.Errorf("VersionTimestamp(0) = ok=%v err=%v, want unresolved", ok, err)
	}
}

func TestRecords(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	payload := json.RawMessage(`{"translation":"web","book":"genesis","chapter":1}`)
	if err := db.PutRecord(ctx, content.TypeChapters, "web/genesis/1", payload, now); err != nil {
		t.Fatalf("PutRecord() error: %v", err)
	}

	got, err := db.GetRecord(ctx, content.TypeChapters, "web/genesis/1")
	if err != nil {
		t.Fatalf("GetRecord() error: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("GetRecord() = %s, want %s", got, payload)
	}

	// Overwrite is wholesale.
	updated := json.RawMessage(`{"translation":"web","book":"genesis","chapter":1,"rev":2}`)
	if err := db.PutRecord(ctx, content.TypeChapters, "web/genesis/1", updated, now); err != nil {
		t.Fatalf("PutRecord() overwrite error: %v", err)
	}
	got, err = db.GetRecord(ctx, content.TypeChapters, "web/genesis/1")
	if err != nil {
		t.Fatalf("GetRecord() after overwrite error: %v", err)
	}
	if string(got) != string(updated) {
		t.Errorf("GetRecord() after overwrite = %s, want %s", got, updated)
	}

	if _, err := db.GetRecord(ctx, content.TypeChapters, "web/exodus/1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRecord() missing key error = %v, want ErrNotFound", err)
	}
}

func TestGetRecords_OmitsMissingKeys(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, key := range []string{"web/genesis/1", "web/genesis/2"} {
		if err := db.PutRecord(ctx, content.TypeChapters, key, json.RawMessage(`{}`), now); err != nil {
			t.Fatalf("PutRecord(%s) error: %v", key, err)
		}
	}

	records, err := db.GetRecords(ctx, content.TypeChapters,
		[]string{"web/genesis/1", "web/genesis/2", "web/genesis/99"})
	if err != nil {
		t.Fatalf("GetRecords() error: %v", err)
	}

	if len(records) != 2 {
		t.Errorf("GetRecords() returned %d records, want 2", len(records))
	}
	if _, found := records["web/genesis/99"]; found {
		t.Error("missing key should be omitted, not present")
	}
}

func TestStatus_FailOpen(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	t1 := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	commit := func(contentType, key string, at time.Time) {
		t.Helper()
		if err := db.PutRecord(ctx, contentType, key, json.RawMessage(`{}`), at); err != nil {
			t.Fatalf("PutRecord() error: %v", err)
		}
		if err := db.CommitFingerprint(ctx, contentType, key, "fp-"+key, at); err != nil {
			t.Fatalf("CommitFingerprint() error: %v", err)
		}
	}

	// Version 1: two chapters, timeline, one person.
	commit(content.TypeChapters, "web/genesis/1", t1)
	commit(content.TypeChapters, "web/genesis/2", t1)
	commit(content.TypeTimeline, content.SingletonKey(content.TypeTimeline), t1)
	commit(content.TypePersons, "moses", t1)
	if _, err := db.IncrementVersion(ctx, t1); err != nil {
		t.Fatalf("IncrementVersion() error: %v", err)
	}

	// Version 2: one more chapter.
	t2 := t1.Add(time.Hour)
	commit(content.TypeChapters, "web/genesis/3", t2)
	if _, err := db.IncrementVersion(ctx, t2); err != nil {
		t.Fatalf("IncrementVersion() error: %v", err)
	}

	// since=0 fails open to the full catalog.
	status, err := db.Status(ctx, 0)
	if err != nil {
		t.Fatalf("Status(0) error: %v", err)
	}
	if status.CurrentVersion != 2 {
		t.Errorf("CurrentVersion = %d, want 2", status.CurrentVersion)
	}
	if len(status.Changes.Chapters) != 3 {
		t.Errorf("Status(0) chapters = %v, want all 3", status.Changes.Chapters)
	}
	if !status.Changes.Timeline {
		t.Error("Status(0) should report timeline")
	}
	if len(status.Changes.Persons) != 1 {
		t.Errorf("Status(0) persons = %v, want [moses]", status.Changes.Persons)
	}

	// Unknown versions also fail open.
	status, err = db.Status(ctx, 42)
	if err != nil {
		t.Fatalf("Status(42) error: %v", err)
	}
	if len(status.Changes.Chapters) != 3 {
		t.Errorf("Status(unknown) chapters = %v, want full catalog", status.Changes.Chapters)
	}

	// since=1 reports only the delta.
	status, err = db.Status(ctx, 1)
	if err != nil {
		t.Fatalf("Status(1) error: %v", err)
	}
	if len(status.Changes.Chapters) != 1 || status.Changes.Chapters[0] != "web/genesis/3" {
		t.Errorf("Status(1) chapters = %v, want [web/genesis/3]", status.Changes.Chapters)
	}
	if status.Changes.Timeline {
		t.Error("Status(1) should not report an unchanged timeline")
	}
	if len(status.Changes.Persons) != 0 {
		t.Errorf("Status(1) persons = %v, want empty", status.Changes.Persons)
	}

	// Fully current client sees no changes.
	status, err = db.Status(ctx, 2)
	if err != nil {
		t.Fatalf("Status(2) error: %v", err)
	}
	if !status.Changes.Empty() {
		t.Errorf("Status(current) changes = %+v, want empty", status.Changes)
	}
}

func TestClearContent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := db.PutRecord(ctx, content.TypeChapters, "web/genesis/1", json.RawMessage(`{}`), now); err != nil {
		t.Fatalf("PutRecord() error: %v", err)
	}
	if err := db.CommitFingerprint(ctx, content.TypeChapters, "web/genesis/1", "fp", now); err != nil {
		t.Fatalf("CommitFingerprint() error: %v", err)
	}
	if _, err := db.IncrementVersion(ctx, now); err != nil {
		t.Fatalf("IncrementVersion() error: %v", err)
	}

	if err := db.ClearContent(ctx); err != nil {
		t.Fatalf("ClearContent() error: %v", err)
	}

	count, err := db.RecordCount(ctx, content.TypeChapters)
	if err != nil {
		t.Fatalf("RecordCount() error: %v", err)
	}
	if count != 0 {
		t.Errorf("RecordCount() after clear = %d, want 0", count)
	}

	keys, err := db.KeysForType(ctx, content.TypeChapters)
	if err != nil {
		t.Fatalf("KeysForType() error: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("KeysForType() after clear = %v, want empty", keys)
	}

	// The ledger survives a content wipe.
	v, err := db.CurrentVersion(ctx)
	if err != nil {
		t.Fatalf("CurrentVersion() error: %v", err)
	}
	if v != 1 {
		t.Errorf("CurrentVersion() after clear = %d, want 1", v)
	}
}

func TestMeta(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	value, err := db.GetMeta(ctx, "missing")
	if err != nil {
		t.Fatalf("GetMeta() error: %v", err)
	}
	if value != "" {
		t.Errorf("GetMeta(missing) = %q, want empty", value)
	}

	if err := db.SetMeta(ctx, MetaVersionString, "January 10, 2026 12:00 UTC"); err != nil {
		t.Fatalf("SetMeta() error: %v", err)
	}
	if err := db.SetMeta(ctx, MetaSyncVersion, "7"); err != nil {
		t.Fatalf("SetMeta() error: %v", err)
	}
	if err := db.SetMeta(ctx, MetaLastImportAt, "2026-01-10T12:00:00Z"); err != nil {
		t.Fatalf("SetMeta() error: %v", err)
	}

	meta, err := db.Meta(ctx)
	if err != nil {
		t.Fatalf("Meta() error: %v", err)
	}
	if meta.VersionString != "January 10, 2026 12:00 UTC" {
		t.Errorf("VersionString = %q", meta.VersionString)
	}
	if meta.SyncVersion != 7 {
		t.Errorf("SyncVersion = %d, want 7", meta.SyncVersion)
	}
	if meta.LastImportAt.IsZero() {
		t.Error("LastImportAt not parsed")
	}
}
