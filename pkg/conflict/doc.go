// Package conflict reconciles a local cache payload against a
// server-originated payload when the sync coordinator's download path
// finds an entry with sync_required still set. Strategies are pure,
// deterministic functions of (entity type, local payload, server payload,
// previous payload, timestamps) — no clock reads, no randomness — kept in
// a small lookup table rather than an interface hierarchy.
package conflict
