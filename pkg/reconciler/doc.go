// Package reconciler implements the compaction driver: a very-slow ticker
// loop that removes expired cache entries and prunes synced or terminal
// operations older than the retention horizon. It is stateless between
// cycles — each RunOnce reads current store state and acts on it, so a
// missed tick is never a correctness problem, only a delay.
package reconciler
