package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/openlectern/lectern/internal/api"
	"github.com/openlectern/lectern/internal/content"
	"github.com/openlectern/lectern/internal/store"
)

// setupServer starts a server over a seeded store on an ephemeral port.
func setupServer(t *testing.T) (*Server, *store.DB, string) {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "content.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.InitSchema(); err != nil {
		t.Fatalf("Failed to initialize schema: %v", err)
	}

	srv := New(db, &Config{
		Addr:                "127.0.0.1:0",
		VersionPollInterval: 50 * time.Millisecond,
		Logger:              log.New(io.Discard, "", 0),
	})
	if err := srv.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })

	return srv, db, "http://" + srv.Addr()
}

// seedContent commits one record plus fingerprint.
func seedContent(t *testing.T, db *store.DB, contentType, key, payload string, at time.Time) {
	t.Helper()
	ctx := context.Background()

	if err := db.PutRecord(ctx, contentType, key, json.RawMessage(payload), at); err != nil {
		t.Fatalf("PutRecord() error: %v", err)
	}
	if err := db.CommitFingerprint(ctx, contentType, key, "fp-"+key, at); err != nil {
		t.Fatalf("CommitFingerprint() error: %v", err)
	}
}

func getJSON(t *testing.T, url string, v interface{}) int {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()

	if v != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("Failed to decode %s response: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestHandleStatus(t *testing.T) {
	_, db, base := setupServer(t)
	ctx := context.Background()

	t1 := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	seedContent(t, db, content.TypeChapters, "web/genesis/1", `{}`, t1)
	seedContent(t, db, content.TypeTimeline, content.SingletonKey(content.TypeTimeline), `{}`, t1)
	if _, err := db.IncrementVersion(ctx, t1); err != nil {
		t.Fatalf("IncrementVersion() error: %v", err)
	}

	t2 := t1.Add(time.Hour)
	seedContent(t, db, content.TypeChapters, "web/genesis/2", `{}`, t2)
	if _, err := db.IncrementVersion(ctx, t2); err != nil {
		t.Fatalf("IncrementVersion() error: %v", err)
	}

	var status api.StatusResponse

	// No since parameter: full catalog.
	if code := getJSON(t, base+"/api/sync/status", &status); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if status.CurrentVersion != 2 || len(status.Changes.Chapters) != 2 || !status.Changes.Timeline {
		t.Errorf("full status = %+v", status)
	}

	// Delta for a version-1 client.
	if code := getJSON(t, base+"/api/sync/status?since=1", &status); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if len(status.Changes.Chapters) != 1 || status.Changes.Chapters[0] != "web/genesis/2" {
		t.Errorf("delta chapters = %v, want [web/genesis/2]", status.Changes.Chapters)
	}
	if status.Changes.Timeline {
		t.Error("unchanged timeline reported in delta")
	}

	// Malformed since is rejected.
	if code := getJSON(t, base+"/api/sync/status?since=banana", nil); code != http.StatusBadRequest {
		t.Errorf("malformed since status code = %d, want 400", code)
	}
	if code := getJSON(t, base+"/api/sync/status?since=-1", nil); code != http.StatusBadRequest {
		t.Errorf("negative since status code = %d, want 400", code)
	}
}

func TestHandleChapterBatch(t *testing.T) {
	_, db, base := setupServer(t)
	now := time.Now().UTC()

	seedContent(t, db, content.TypeChapters, "web/genesis/1", `{"chapter":1}`, now)
	seedContent(t, db, content.TypeChapters, "kjv/genesis/1", `{"chapter":1}`, now)

	post := func(req api.ChapterBatchRequest) (int, api.ChapterBatchResponse) {
		t.Helper()
		body, _ := json.Marshal(req)
		resp, err := http.Post(base+"/api/chapters/batch", "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatalf("POST batch failed: %v", err)
		}
		defer resp.Body.Close()

		var batch api.ChapterBatchResponse
		if resp.StatusCode == http.StatusOK {
			if err := json.NewDecoder(resp.Body).Decode(&batch); err != nil {
				t.Fatalf("Failed to decode batch response: %v", err)
			}
		}
		return resp.StatusCode, batch
	}

	// Missing keys are omitted, never errored.
	code, batch := post(api.ChapterBatchRequest{Keys: []string{"web/genesis/1", "web/genesis/99"}})
	if code != http.StatusOK {
		t.Fatalf("batch status code = %d", code)
	}
	if len(batch.Chapters) != 1 {
		t.Errorf("batch returned %d chapters, want 1", len(batch.Chapters))
	}
	if _, found := batch.Chapters["web/genesis/99"]; found {
		t.Error("missing key present in batch response")
	}

	// Translation filter drops foreign keys.
	code, batch = post(api.ChapterBatchRequest{
		Keys:        []string{"web/genesis/1", "kjv/genesis/1"},
		Translation: "web",
	})
	if code != http.StatusOK {
		t.Fatalf("filtered batch status code = %d", code)
	}
	if len(batch.Chapters) != 1 {
		t.Errorf("filtered batch returned %d chapters, want 1", len(batch.Chapters))
	}

	// Empty key list is a valid empty response.
	code, batch = post(api.ChapterBatchRequest{})
	if code != http.StatusOK || len(batch.Chapters) != 0 {
		t.Errorf("empty batch: code = %d chapters = %d", code, len(batch.Chapters))
	}

	// Oversized batches are rejected.
	big := make([]string, maxBatchKeys+1)
	for i := range big {
		big[i] = fmt.Sprintf("web/psalms/%d", i)
	}
	code, _ = post(api.ChapterBatchRequest{Keys: big})
	if code != http.StatusBadRequest {
		t.Errorf("oversized batch status code = %d, want 400", code)
	}
}

func TestHandleRecords(t *testing.T) {
	_, db, base := setupServer(t)
	now := time.Now().UTC()

	seedContent(t, db, content.TypeTimeline, content.SingletonKey(content.TypeTimeline), `{"events":[]}`, now)
	seedContent(t, db, content.TypePersons, "moses", `{"id":"moses"}`, now)
	seedContent(t, db, content.TypeReadingPlans, "gospels-30", `{"id":"gospels-30"}`, now)

	var person map[string]string
	if code := getJSON(t, base+"/api/persons/moses", &person); code != http.StatusOK {
		t.Errorf("person status code = %d", code)
	}
	if person["id"] != "moses" {
		t.Errorf("person payload = %v", person)
	}

	if code := getJSON(t, base+"/api/persons/nobody", nil); code != http.StatusNotFound {
		t.Errorf("unknown person status code = %d, want 404", code)
	}
	if code := getJSON(t, base+"/api/plans/gospels-30", nil); code != http.StatusOK {
		t.Errorf("plan status code = %d", code)
	}
	if code := getJSON(t, base+"/api/timeline", nil); code != http.StatusOK {
		t.Errorf("timeline status code = %d", code)
	}
	// Prophecies was never imported.
	if code := getJSON(t, base+"/api/prophecies", nil); code != http.StatusNotFound {
		t.Errorf("missing prophecies status code = %d, want 404", code)
	}
}

func TestHandleMetaAndHealth(t *testing.T) {
	_, db, base := setupServer(t)
	ctx := context.Background()

	if err := db.SetMeta(ctx, store.MetaVersionString, "January 10, 2026 12:00 UTC"); err != nil {
		t.Fatalf("SetMeta() error: %v", err)
	}
	if err := db.SetMeta(ctx, store.MetaSyncVersion, "4"); err != nil {
		t.Fatalf("SetMeta() error: %v", err)
	}

	var meta api.MetaResponse
	if code := getJSON(t, base+"/api/meta", &meta); code != http.StatusOK {
		t.Fatalf("meta status code = %d", code)
	}
	if meta.SyncVersion != 4 || meta.VersionString == "" {
		t.Errorf("meta = %+v", meta)
	}

	var health map[string]interface{}
	if code := getJSON(t, base+"/health", &health); code != http.StatusOK {
		t.Fatalf("health status code = %d", code)
	}
	if health["status"] != "ok" {
		t.Errorf("health = %v", health)
	}
}

func TestWebSocketVersionEvents(t *testing.T) {
	_, db, base := setupServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+base[len("http"):]+"/ws", nil)
	if err != nil {
		t.Fatalf("WebSocket dial failed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	readEvent := func() api.VersionEvent {
		t.Helper()
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("WebSocket read failed: %v", err)
		}
		var event api.VersionEvent
		if err := json.Unmarshal(data, &event); err != nil {
			t.Fatalf("Failed to decode version event: %v", err)
		}
		return event
	}

	// Current version arrives immediately on connect.
	event := readEvent()
	if event.Type != "version" || event.SyncVersion != 0 {
		t.Errorf("initial event = %+v, want version 0", event)
	}

	// A ledger bump is broadcast by the poll loop.
	if _, err := db.IncrementVersion(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("IncrementVersion() error: %v", err)
	}

	event = readEvent()
	if event.SyncVersion != 1 {
		t.Errorf("broadcast event = %+v, want version 1", event)
	}
}
