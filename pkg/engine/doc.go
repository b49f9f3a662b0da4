// Package engine is the façade gluing the durable store, schema registry,
// rule engine, validator, scheduler, sync coordinator, and conflict table
// into the single type an embedding application imports. It exposes
// Enqueue, GetOperation, GetEntity, QueryEntities, CancelOperation,
// Statistics, and a review API for parked conflicts, and owns the
// lifecycle of the three ticker-driven drivers (scheduler, sync,
// compaction).
package engine
