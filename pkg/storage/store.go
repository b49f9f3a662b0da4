package storage

import (
	"time"

	"github.com/fieldsync/opqueue/pkg/types"
)

// PendingFilter narrows ListPending to a subset of the pending queue.
type PendingFilter struct {
	EntityType string
	UserID     string
	Limit      int
}

// CacheFilter is an equality-only predicate over a cache entry's payload.
type CacheFilter map[string]interface{}

// Store defines the durable persistence contract for operations, cache
// entries, schemas, rules, sync watermarks, dead letters, and parked
// conflicts. Implementations must make a single write call atomic: a
// caller never observes a partially-applied Put.
type Store interface {
	// Operations
	PutOperation(op *types.Operation) error
	GetOperation(id string) (*types.Operation, error)
	ListPending(filter PendingFilter) ([]*types.Operation, error)
	ListCompletedUnsynced(entityType string, limit int) ([]*types.Operation, error)
	// ClaimOperation atomically transitions an operation from pending to
	// executing and returns the claimed record, or (nil, ErrNotFound) if
	// it no longer exists, or (nil, ErrAlreadyClaimed) if it is no longer
	// pending (claimed by a concurrent caller, or already terminal).
	ClaimOperation(id string) (*types.Operation, error)
	CountOperationsByStatus() (map[types.OperationStatus]int, error)
	PruneOperations(before time.Time) (int, error)

	// Cache entries
	PutCacheEntry(entry *types.CacheEntry) error
	GetCacheEntry(entityType, entityID string) (*types.CacheEntry, error)
	QueryCache(entityType string, filter CacheFilter, limit int) ([]*types.CacheEntry, error)
	CompactExpired(now time.Time) (int, error)
	CountCacheEntries() (int, error)

	// Schema registry
	PutSchema(schema *types.EntitySchema) error
	GetSchema(entityType string) (*types.EntitySchema, error)

	// Rule engine
	PutRule(rule *types.BusinessRule) error
	ListRulesForType(entityType string) ([]*types.BusinessRule, error)

	// Sync watermarks, keyed per entity type
	GetWatermark(entityType string) (string, error)
	SetWatermark(entityType, watermark string) error

	// Dead letters and parked conflicts, surfaced through the engine's
	// review API
	PutDeadLetter(dl *types.DeadLetter) error
	ListDeadLetters() ([]*types.DeadLetter, error)
	PutParkedConflict(c *types.ParkedConflict) error
	GetParkedConflict(id string) (*types.ParkedConflict, error)
	ListParkedConflicts() ([]*types.ParkedConflict, error)
	DeleteParkedConflict(id string) error

	Close() error
}
