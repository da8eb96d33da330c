package store

import (
	"context"
	"fmt"
	"time"

	"github.com/openlectern/lectern/internal/api"
	"github.com/openlectern/lectern/internal/content"
)

// Status answers "what changed since version sinceVersion".
//
// For sinceVersion = 0, or when the ledger has no entry for sinceVersion,
// the full catalog is returned for every type - the query fails open
// toward more data, never silently returning nothing. Otherwise each
// type's changed keys are the ones with updated_at after the version's
// ledger timestamp.
//
// Read-only and safe to poll frequently; mutates no ledger or fingerprint
// state.
func (db *DB) Status(ctx context.Context, sinceVersion int64) (*api.StatusResponse, error) {
	current, err := db.CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}

	since, ok, err := db.VersionTimestamp(ctx, sinceVersion)
	if err != nil {
		return nil, err
	}

	changes := api.Changes{
		Chapters:     []string{},
		Persons:      []string{},
		ReadingPlans: []string{},
	}

	for _, contentType := range content.Types() {
		keys, err := db.keysForStatus(ctx, contentType, since, ok)
		if err != nil {
			return nil, err
		}

		switch contentType {
		case content.TypeChapters:
			changes.Chapters = keys
		case content.TypeTimeline:
			changes.Timeline = len(keys) > 0
		case content.TypeProphecies:
			changes.Prophecies = len(keys) > 0
		case content.TypePersons:
			changes.Persons = keys
		case content.TypeReadingPlans:
			changes.ReadingPlans = keys
		default:
			return nil, fmt.Errorf("unknown content type %q", contentType)
		}
	}

	return &api.StatusResponse{
		CurrentVersion: current,
		Changes:        changes,
	}, nil
}

// keysForStatus returns the changed keys for one type: everything when the
// since version could not be resolved, the since-timestamp scan otherwise.
func (db *DB) keysForStatus(ctx context.Context, contentType string, since time.Time, resolved bool) ([]string, error) {
	if !resolved {
		return db.KeysForType(ctx, contentType)
	}
	return db.KeysChangedSince(ctx, contentType, since)
}
