// Package importer walks the source corpus, detects changed content via
// fingerprints, writes only changed records into the canonical store, and
// advances the version ledger at most once per run.
//
// The importer is the single writer of canonical state. It is resilient:
// individual file failures are logged and skipped, and the run continues
// with other files.
package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/openlectern/lectern/internal/content"
	"github.com/openlectern/lectern/internal/store"
)

// Importer performs fingerprint-compared import runs from a corpus
// directory into the canonical store.
type Importer struct {
	db        *store.DB
	corpusDir string
	logger    *log.Logger
}

// New creates an Importer. If logger is nil, a default logger writing to
// stderr is used.
func New(db *store.DB, corpusDir string, logger *log.Logger) *Importer {
	if logger == nil {
		logger = log.New(os.Stderr, "[import] ", log.LstdFlags)
	}
	return &Importer{
		db:        db,
		corpusDir: corpusDir,
		logger:    logger,
	}
}

// TypeCounts summarizes one content type's outcome for a run.
type TypeCounts struct {
	Updated   int
	Unchanged int
	Removed   int
	Failed    int
}

// Result summarizes an import run.
type Result struct {
	// Version is the ledger version after the run. Unchanged source data
	// leaves it where it was.
	Version int64

	// Bumped reports whether this run advanced the ledger.
	Bumped bool

	// Counts holds per-type updated/unchanged/removed/failed counts.
	Counts map[string]TypeCounts

	Started  time.Time
	Duration time.Duration
}

// TotalUpdated returns the number of records written across all types.
func (r *Result) TotalUpdated() int {
	total := 0
	for _, c := range r.Counts {
		total += c.Updated + c.Removed
	}
	return total
}

// Run performs one import pass.
//
// Each content type is re-scanned in full; unchanged items (byte-identical
// source, same fingerprint) are skipped without touching their records or
// updated_at. The ledger is advanced once at the end iff any commit
// occurred, or unconditionally when full is set. Running twice on
// unchanged source data is therefore a ledger no-op.
//
// When full is set the destination store is cleared first and every key is
// treated as changed.
func (imp *Importer) Run(ctx context.Context, full bool) (*Result, error) {
	started := time.Now().UTC()
	imp.logger.Printf("Starting import from %s (full=%v)", imp.corpusDir, full)

	if full {
		if err := imp.db.ClearContent(ctx); err != nil {
			return nil, fmt.Errorf("failed to clear content for full rebuild: %w", err)
		}
	}

	result := &Result{
		Counts:  make(map[string]TypeCounts),
		Started: started,
	}

	type scan struct {
		contentType string
		run         func(context.Context, time.Time, bool) (TypeCounts, map[string]bool, error)
	}
	scans := []scan{
		{content.TypeChapters, imp.scanChapters},
		{content.TypeTimeline, imp.scanTimeline},
		{content.TypeProphecies, imp.scanProphecies},
		{content.TypePersons, imp.scanPersons},
		{content.TypeReadingPlans, imp.scanPlans},
	}

	for _, s := range scans {
		counts, seen, err := s.run(ctx, started, full)
		if err != nil {
			return nil, fmt.Errorf("failed to import %s: %w", s.contentType, err)
		}

		removed, err := imp.pruneMissing(ctx, s.contentType, seen)
		if err != nil {
			return nil, fmt.Errorf("failed to prune %s: %w", s.contentType, err)
		}
		counts.Removed = removed

		result.Counts[s.contentType] = counts
		imp.logger.Printf("%s: updated=%d unchanged=%d removed=%d failed=%d",
			s.contentType, counts.Updated, counts.Unchanged, counts.Removed, counts.Failed)
	}

	if err := imp.finish(ctx, started, full, result); err != nil {
		return nil, err
	}

	result.Duration = time.Since(started)
	imp.logger.Printf("Import complete in %v: version=%d (bumped=%v)",
		result.Duration.Round(time.Millisecond), result.Version, result.Bumped)

	return result, nil
}

// finish advances the ledger (at most once) and refreshes the metadata
// surface.
func (imp *Importer) finish(ctx context.Context, started time.Time, full bool, result *Result) error {
	bump := full || result.TotalUpdated() > 0

	if bump {
		version, err := imp.db.IncrementVersion(ctx, started)
		if err != nil {
			return fmt.Errorf("failed to increment version: %w", err)
		}
		result.Version = version
		result.Bumped = true

		if err := imp.db.SetMeta(ctx, store.MetaVersionString, started.Format("January 2, 2006 15:04 UTC")); err != nil {
			return err
		}
		if err := imp.db.SetMeta(ctx, store.MetaSyncVersion, strconv.FormatInt(version, 10)); err != nil {
			return err
		}
	} else {
		version, err := imp.db.CurrentVersion(ctx)
		if err != nil {
			return err
		}
		result.Version = version
	}

	return imp.db.SetMeta(ctx, store.MetaLastImportAt, started.Format(time.RFC3339))
}

// importItem fingerprints one source item and, when changed, commits the
// fingerprint and the hydrated record. Returns whether the item counted as
// updated.
func (imp *Importer) importItem(ctx context.Context, contentType, key string, source []byte, payload any, at time.Time, full bool) (bool, error) {
	fp := content.Fingerprint(source)

	if !full {
		changed, err := imp.db.HasChanged(ctx, contentType, key, fp)
		if err != nil {
			return false, err
		}
		if !changed {
			return false, nil
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("failed to marshal payload for %s/%s: %w", contentType, key, err)
	}

	if err := imp.db.PutRecord(ctx, contentType, key, data, at); err != nil {
		return false, err
	}
	if err := imp.db.CommitFingerprint(ctx, contentType, key, fp, at); err != nil {
		return false, err
	}
	return true, nil
}

// pruneMissing removes fingerprints and records whose source files
// disappeared since the last run.
func (imp *Importer) pruneMissing(ctx context.Context, contentType string, seen map[string]bool) (int, error) {
	known, err := imp.db.KeysForType(ctx, contentType)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, key := range known {
		if seen[key] {
			continue
		}
		imp.logger.Printf("Removing %s/%s (source gone)", contentType, key)
		if err := imp.db.DeleteRecord(ctx, contentType, key); err != nil {
			return removed, err
		}
		if err := imp.db.DeleteFingerprint(ctx, contentType, key); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// scanChapters walks translations/<tid>/<book>/<n>.json beneath the corpus
// directory. Each translation directory must carry a translation.toml
// descriptor; directories without one are skipped with a warning.
func (imp *Importer) scanChapters(ctx context.Context, at time.Time, full bool) (TypeCounts, map[string]bool, error) {
	var counts TypeCounts
	seen := make(map[string]bool)

	translationsDir := filepath.Join(imp.corpusDir, "translations")
	entries, err := os.ReadDir(translationsDir)
	if os.IsNotExist(err) {
		imp.logger.Printf("Translations directory doesn't exist: %s (skipping)", translationsDir)
		return counts, seen, nil
	}
	if err != nil {
		return counts, seen, fmt.Errorf("failed to read translations directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		tdir := filepath.Join(translationsDir, entry.Name())
		info, err := content.ReadTranslationInfo(filepath.Join(tdir, "translation.toml"))
		if err != nil {
			imp.logger.Printf("WARNING: skipping translation dir %s: %v", entry.Name(), err)
			counts.Failed++
			continue
		}

		if err := imp.scanTranslation(ctx, tdir, info.ID, at, full, &counts, seen); err != nil {
			return counts, seen, err
		}
	}

	return counts, seen, nil
}

// scanTranslation imports every chapter file of one translation.
func (imp *Importer) scanTranslation(ctx context.Context, tdir, translationID string, at time.Time, full bool, counts *TypeCounts, seen map[string]bool) error {
	books, err := os.ReadDir(tdir)
	if err != nil {
		return fmt.Errorf("failed to read translation directory %s: %w", tdir, err)
	}

	for _, book := range books {
		if !book.IsDir() {
			continue
		}

		bookDir := filepath.Join(tdir, book.Name())
		chapters, err := os.ReadDir(bookDir)
		if err != nil {
			return fmt.Errorf("failed to read book directory %s: %w", bookDir, err)
		}

		for _, ch := range chapters {
			if ch.IsDir() || !strings.HasSuffix(ch.Name(), ".json") {
				continue
			}

			path := filepath.Join(bookDir, ch.Name())
			data, err := os.ReadFile(path)
			if err != nil {
				imp.logger.Printf("WARNING: failed to read chapter %s: %v", path, err)
				counts.Failed++
				continue
			}

			chapter, err := content.ParseChapter(data)
			if err != nil {
				imp.logger.Printf("WARNING: skipping invalid chapter %s: %v", path, err)
				counts.Failed++
				continue
			}
			if chapter.Translation != translationID {
				imp.logger.Printf("WARNING: chapter %s declares translation %q, expected %q (skipping)",
					path, chapter.Translation, translationID)
				counts.Failed++
				continue
			}

			key := chapter.Key()
			seen[key] = true

			updated, err := imp.importItem(ctx, content.TypeChapters, key, data, chapter, at, full)
			if err != nil {
				imp.logger.Printf("WARNING: failed to import chapter %s: %v", key, err)
				counts.Failed++
				continue
			}
			if updated {
				counts.Updated++
			} else {
				counts.Unchanged++
			}
		}
	}

	return nil
}

// scanTimeline imports the singleton timeline aggregate from timeline.json.
func (imp *Importer) scanTimeline(ctx context.Context, at time.Time, full bool) (TypeCounts, map[string]bool, error) {
	return imp.scanSingleton(ctx, content.TypeTimeline, "timeline.json", at, full,
		func(data []byte) (any, error) { return content.ParseTimeline(data) })
}

// scanProphecies imports the singleton prophecies aggregate from
// prophecies.json.
func (imp *Importer) scanProphecies(ctx context.Context, at time.Time, full bool) (TypeCounts, map[string]bool, error) {
	return imp.scanSingleton(ctx, content.TypeProphecies, "prophecies.json", at, full,
		func(data []byte) (any, error) { return content.ParseProphecies(data) })
}

// scanSingleton imports one aggregate file under its type's fixed key.
func (imp *Importer) scanSingleton(ctx context.Context, contentType, filename string, at time.Time, full bool, parse func([]byte) (any, error)) (TypeCounts, map[string]bool, error) {
	var counts TypeCounts
	seen := make(map[string]bool)

	path := filepath.Join(imp.corpusDir, filename)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		imp.logger.Printf("%s doesn't exist (skipping)", path)
		return counts, seen, nil
	}
	if err != nil {
		return counts, seen, fmt.Errorf("failed to read %s: %w", path, err)
	}

	payload, err := parse(data)
	if err != nil {
		imp.logger.Printf("WARNING: skipping invalid %s: %v", path, err)
		counts.Failed++
		return counts, seen, nil
	}

	key := content.SingletonKey(contentType)
	seen[key] = true

	updated, err := imp.importItem(ctx, contentType, key, data, payload, at, full)
	if err != nil {
		imp.logger.Printf("WARNING: failed to import %s: %v", key, err)
		counts.Failed++
		return counts, seen, nil
	}
	if updated {
		counts.Updated++
	} else {
		counts.Unchanged++
	}

	return counts, seen, nil
}

// scanPersons imports persons/<id>.json files, keyed by the declared
// person ID.
func (imp *Importer) scanPersons(ctx context.Context, at time.Time, full bool) (TypeCounts, map[string]bool, error) {
	return imp.scanKeyedDir(ctx, content.TypePersons, "persons", ".json", at, full,
		func(data []byte) (string, any, error) {
			p, err := content.ParsePerson(data)
			if err != nil {
				return "", nil, err
			}
			return p.ID, p, nil
		})
}

// scanPlans imports plans/<id>.yaml files, keyed by the declared plan ID.
func (imp *Importer) scanPlans(ctx context.Context, at time.Time, full bool) (TypeCounts, map[string]bool, error) {
	return imp.scanKeyedDir(ctx, content.TypeReadingPlans, "plans", ".yaml", at, full,
		func(data []byte) (string, any, error) {
			p, err := content.ParseReadingPlan(data)
			if err != nil {
				return "", nil, err
			}
			return p.ID, p, nil
		})
}

// scanKeyedDir imports one directory of per-id source files.
func (imp *Importer) scanKeyedDir(ctx context.Context, contentType, dirname, ext string, at time.Time, full bool, parse func([]byte) (string, any, error)) (TypeCounts, map[string]bool, error) {
	var counts TypeCounts
	seen := make(map[string]bool)

	dir := filepath.Join(imp.corpusDir, dirname)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		imp.logger.Printf("%s directory doesn't exist: %s (skipping)", contentType, dir)
		return counts, seen, nil
	}
	if err != nil {
		return counts, seen, fmt.Errorf("failed to read %s directory: %w", contentType, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ext) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			imp.logger.Printf("WARNING: failed to read %s: %v", path, err)
			counts.Failed++
			continue
		}

		key, payload, err := parse(data)
		if err != nil {
			imp.logger.Printf("WARNING: skipping invalid file %s: %v", path, err)
			counts.Failed++
			continue
		}

		seen[key] = true

		updated, err := imp.importItem(ctx, contentType, key, data, payload, at, full)
		if err != nil {
			imp.logger.Printf("WARNING: failed to import %s/%s: %v", contentType, key, err)
			counts.Failed++
			continue
		}
		if updated {
			counts.Updated++
		} else {
			counts.Unchanged++
		}
	}

	return counts, seen, nil
}
