/*
Package types defines the core data structures shared by every component of
the offline operation engine: the durable store, schema registry, rule
engine, validator, scheduler, and sync coordinator all read and write these
same four shapes.

# Core Types

Operation — a proposed mutation against one ERP entity, tracked through
pending → executing → {completed, failed, cancelled} and optionally
→ synced.

CacheEntry — the local materialized view of one remote entity, keyed by
(entity type, entity id). Soft-deletes use a `_deleted` tombstone in the
payload rather than row removal.

EntitySchema — the field contract for an entity type: required fields,
per-field type/constraints, indexed fields for cache lookups.

BusinessRule — a declarative condition/action rule evaluated against a
candidate payload by the rule engine.

Payloads are untyped (map[string]any) by design — the engine has no
compile-time knowledge of ERP entity shapes, only what the Schema Registry
declares at runtime.
*/
package types
