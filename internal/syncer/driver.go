package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/openlectern/lectern/internal/api"
	"github.com/openlectern/lectern/internal/content"
	"github.com/openlectern/lectern/internal/replica"
)

// Phase is one ordered stage of a sync pass.
type Phase string

const (
	PhaseChecking   Phase = "checking"
	PhaseChapters   Phase = "chapters"
	PhaseTimeline   Phase = "timeline"
	PhaseProphecies Phase = "prophecies"
	PhasePersons    Phase = "persons"
	PhasePlans      Phase = "plans"
	PhaseComplete   Phase = "complete"
)

// chapterBatchSize bounds one chapter batch request.
const chapterBatchSize = 10

// Progress reports per-phase sync progress.
type Progress struct {
	Phase Phase

	// Done and Total count items within the phase; both are zero for
	// phases without itemized work.
	Done  int
	Total int
}

// ProgressFunc receives progress callbacks during a pass.
type ProgressFunc func(Progress)

// Result summarizes one sync pass.
type Result struct {
	// FromVersion is the replica's version when the pass started.
	FromVersion int64

	// ToVersion is the server version the replica advanced to.
	ToVersion int64

	// UpToDate is set when the server reported no changes and the
	// replica was not touched.
	UpToDate bool

	// Committed counts records written into the replica.
	Committed int

	// Failures counts batch/item fetches or commits that were logged
	// and skipped. The version still advances; see the replica's
	// last_sync_dirty meta flag.
	Failures int

	Duration time.Duration
}

// Driver runs incremental sync passes against a sync API server.
type Driver struct {
	client     *api.Client
	store      *replica.Store
	logger     *log.Logger
	onProgress ProgressFunc
}

// New creates a sync driver. If logger is nil, a default logger writing
// to stderr is used.
func New(client *api.Client, store *replica.Store, logger *log.Logger) *Driver {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Driver{
		client: client,
		store:  store,
		logger: logger,
	}
}

// OnProgress registers a progress callback. Must be called before Sync.
func (d *Driver) OnProgress(fn ProgressFunc) {
	d.onProgress = fn
}

// report emits one progress callback if registered.
func (d *Driver) report(p Progress) {
	if d.onProgress != nil {
		d.onProgress(p)
	}
}

// Sync runs one full incremental pass.
//
// Phases execute strictly in order: checking, chapters, timeline,
// prophecies, persons, plans, complete. Commits are per item, so partial
// progress survives an interrupted pass. After all phases are attempted,
// the local version advances to the server's reported current version
// regardless of individual failures; when failures occurred the replica's
// last_sync_dirty meta flag is set so callers can schedule a full resync.
func (d *Driver) Sync(ctx context.Context) (*Result, error) {
	started := time.Now()

	d.report(Progress{Phase: PhaseChecking})

	local, err := d.store.LocalVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read local version: %w", err)
	}

	status, err := d.client.Status(ctx, local)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch sync status: %w", err)
	}

	result := &Result{
		FromVersion: local,
		ToVersion:   status.CurrentVersion,
	}

	if status.Changes.Empty() {
		d.logger.Printf("Up to date at version %d", local)
		result.UpToDate = true
		result.Duration = time.Since(started)
		d.report(Progress{Phase: PhaseComplete})
		return result, nil
	}

	d.logger.Printf("Syncing %d -> %d: chapters=%d timeline=%v prophecies=%v persons=%d plans=%d",
		local, status.CurrentVersion,
		len(status.Changes.Chapters), status.Changes.Timeline, status.Changes.Prophecies,
		len(status.Changes.Persons), len(status.Changes.ReadingPlans))

	d.syncChapters(ctx, status.Changes.Chapters, result)
	d.syncSingleton(ctx, PhaseTimeline, content.TypeTimeline, status.Changes.Timeline, d.client.Timeline, result)
	d.syncSingleton(ctx, PhaseProphecies, content.TypeProphecies, status.Changes.Prophecies, d.client.Prophecies, result)
	d.syncKeyed(ctx, PhasePersons, content.TypePersons, status.Changes.Persons, d.client.Person, result)
	d.syncKeyed(ctx, PhasePlans, content.TypeReadingPlans, status.Changes.ReadingPlans, d.client.Plan, result)

	// The version advances even when some fetches failed; the failed
	// keys would otherwise look already-synced next pass, so the dirty
	// flag records that a forced resync is advisable.
	if err := d.store.SetLocalVersion(ctx, status.CurrentVersion); err != nil {
		return nil, fmt.Errorf("failed to advance local version: %w", err)
	}
	dirty := "0"
	if result.Failures > 0 {
		dirty = "1"
	}
	if err := d.store.SetMeta(ctx, replica.MetaLastSyncDirty, dirty); err != nil {
		return nil, fmt.Errorf("failed to record sync outcome: %w", err)
	}

	finished := time.Now()
	if err := d.store.LogSyncPass(ctx, started, finished, status.CurrentVersion, result.Failures); err != nil {
		d.logger.Printf("WARNING: failed to log sync pass: %v", err)
	}

	result.Duration = finished.Sub(started)
	d.report(Progress{Phase: PhaseComplete})
	d.logger.Printf("Sync complete: version=%d committed=%d failures=%d in %v",
		status.CurrentVersion, result.Committed, result.Failures,
		result.Duration.Round(time.Millisecond))

	return result, nil
}

// syncChapters fetches changed chapters in fixed-size batches, committing
// every returned payload. Batches run sequentially; a failed batch is
// logged, counted, and skipped.
func (d *Driver) syncChapters(ctx context.Context, keys []string, result *Result) {
	total := len(keys)
	d.report(Progress{Phase: PhaseChapters, Total: total})
	if total == 0 {
		return
	}

	done := 0
	for start := 0; start < total; start += chapterBatchSize {
		end := start + chapterBatchSize
		if end > total {
			end = total
		}
		batch := keys[start:end]

		chapters, err := d.client.Chapters(ctx, batch, "")
		if err != nil {
			d.logger.Printf("WARNING: chapter batch failed (%d keys): %v", len(batch), err)
			result.Failures += len(batch)
			done += len(batch)
			d.report(Progress{Phase: PhaseChapters, Done: done, Total: total})
			continue
		}

		now := time.Now()
		for key, payload := range chapters {
			if err := d.store.PutContent(ctx, content.TypeChapters, key, payload, now); err != nil {
				d.logger.Printf("WARNING: failed to commit chapter %s: %v", key, err)
				result.Failures++
				continue
			}
			result.Committed++
		}

		done += len(batch)
		d.report(Progress{Phase: PhaseChapters, Done: done, Total: total})
	}
}

// syncSingleton fetches and overwrites one aggregate record when its
// changed flag is set.
func (d *Driver) syncSingleton(ctx context.Context, phase Phase, contentType string, changed bool, fetch func(context.Context) (json.RawMessage, error), result *Result) {
	if !changed {
		d.report(Progress{Phase: phase})
		return
	}

	d.report(Progress{Phase: phase, Total: 1})

	payload, err := fetch(ctx)
	if err != nil {
		d.logger.Printf("WARNING: failed to fetch %s: %v", contentType, err)
		result.Failures++
		d.report(Progress{Phase: phase, Done: 1, Total: 1})
		return
	}

	if err := d.store.PutContent(ctx, contentType, content.SingletonKey(contentType), payload, time.Now()); err != nil {
		d.logger.Printf("WARNING: failed to commit %s: %v", contentType, err)
		result.Failures++
	} else {
		result.Committed++
	}

	d.report(Progress{Phase: phase, Done: 1, Total: 1})
}

// syncKeyed fetches and overwrites one record per changed key.
func (d *Driver) syncKeyed(ctx context.Context, phase Phase, contentType string, keys []string, fetch func(context.Context, string) (json.RawMessage, error), result *Result) {
	total := len(keys)
	d.report(Progress{Phase: phase, Total: total})

	for i, key := range keys {
		payload, err := fetch(ctx, key)
		if err != nil {
			d.logger.Printf("WARNING: failed to fetch %s/%s: %v", contentType, key, err)
			result.Failures++
			d.report(Progress{Phase: phase, Done: i + 1, Total: total})
			continue
		}

		if err := d.store.PutContent(ctx, contentType, key, payload, time.Now()); err != nil {
			d.logger.Printf("WARNING: failed to commit %s/%s: %v", contentType, key, err)
			result.Failures++
		} else {
			result.Committed++
		}

		d.report(Progress{Phase: phase, Done: i + 1, Total: total})
	}
}
