// Package api defines the wire types for the sync HTTP API and a client
// for consuming it.
package api

import (
	"encoding/json"
	"time"
)

// Changes lists what changed since a client's version, per content type.
// Multi-key types carry changed key lists; singleton aggregate types carry
// a boolean.
type Changes struct {
	Chapters     []string `json:"chapters"`
	Timeline     bool     `json:"timeline"`
	Prophecies   bool     `json:"prophecies"`
	Persons      []string `json:"persons"`
	ReadingPlans []string `json:"readingPlans"`
}

// Empty reports whether nothing changed.
func (c *Changes) Empty() bool {
	return len(c.Chapters) == 0 && !c.Timeline && !c.Prophecies &&
		len(c.Persons) == 0 && len(c.ReadingPlans) == 0
}

// StatusResponse is the body of GET /api/sync/status.
type StatusResponse struct {
	CurrentVersion int64   `json:"currentVersion"`
	Changes        Changes `json:"changes"`
}

// ChapterBatchRequest is the body of POST /api/chapters/batch.
// Translation optionally restricts results to keys of one translation.
type ChapterBatchRequest struct {
	Keys        []string `json:"keys"`
	Translation string   `json:"translation,omitempty"`
}

// ChapterBatchResponse maps requested keys to hydrated chapter payloads.
// Keys that do not exist are omitted, not errored.
type ChapterBatchResponse struct {
	Chapters map[string]json.RawMessage `json:"chapters"`
}

// MetaResponse is the body of GET /api/meta: the cheap is-anything-new
// probe, independent of the full status call.
type MetaResponse struct {
	VersionString string    `json:"versionString"`
	LastImportAt  time.Time `json:"lastImportAt"`
	SyncVersion   int64     `json:"syncVersion"`
}

// VersionEvent is broadcast on the /ws endpoint whenever the stored sync
// version changes.
type VersionEvent struct {
	Type        string    `json:"type"` // always "version"
	SyncVersion int64     `json:"syncVersion"`
	Timestamp   time.Time `json:"timestamp"`
}
