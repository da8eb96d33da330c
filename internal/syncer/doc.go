// Package syncer orchestrates the client's incremental sync pass: ask the
// server what changed since the replica's last synced version, fetch the
// delta in bounded batches, commit each payload into the replica store,
// and advance the local version.
//
// The driver is resilient: a failed batch or item fetch is logged and
// skipped, never aborting the pass. Phases run in a fixed order and
// chapter batches run sequentially, keeping memory bounded and progress
// reporting monotonic.
package syncer
