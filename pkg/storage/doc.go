// Package storage is the durable store: operations, cache entries,
// schemas, rules, sync watermarks, dead letters, and parked conflicts,
// persisted with BoltDB. Each logical table is one bucket; secondary
// indexes (by status, by entity, by sync_required) are full-bucket scans
// filtered in Go, matching bbolt's lack of built-in secondary indexes.
// ClaimOperation is the one method that must be atomic across workers: it
// reads and conditionally rewrites a record inside a single bolt.Update
// transaction, relying on bbolt's serialized-writer guarantee.
package storage
