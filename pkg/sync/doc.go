// Package sync bridges local state to a remote server: an upload path
// hands completed-and-unsynced operations, grouped by entity type, to an
// injected Transport; a download path applies server-originated changes
// since a per-entity-type watermark, delegating to pkg/conflict whenever
// a local entry still has sync_required set. The Coordinator runs on its
// own ticker, independent of and slower than the scheduler's.
package sync
