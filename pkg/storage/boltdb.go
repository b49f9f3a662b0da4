package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fieldsync/opqueue/pkg/types"
	bolt "go.etcd.io/bbolt"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrAlreadyClaimed is returned by ClaimOperation when the operation is no
// longer pending (claimed by a concurrent worker, or already terminal).
var ErrAlreadyClaimed = errors.New("storage: operation already claimed")

var (
	bucketOperations = []byte("operations")
	bucketCache      = []byte("cache_entries")
	bucketSchemas    = []byte("schemas")
	bucketRules      = []byte("rules")
	bucketWatermarks = []byte("watermarks")
	bucketDeadLetter = []byte("dead_letters")
	bucketConflicts  = []byte("parked_conflicts")
)

// BoltStore implements Store using BoltDB. Each logical table is one
// bucket; secondary indexes (by status, by entity, by sync_required) are
// full-bucket scans filtered in Go rather than maintained separately,
// since bbolt has no secondary-index support of its own.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) a BoltDB-backed store rooted at
// dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "opqueue.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketOperations, bucketCache, bucketSchemas,
			bucketRules, bucketWatermarks, bucketDeadLetter, bucketConflicts,
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// --- Operations ---

func (s *BoltStore) PutOperation(op *types.Operation) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOperations)
		data, err := json.Marshal(op)
		if err != nil {
			return err
		}
		return b.Put([]byte(op.ID), data)
	})
}

func (s *BoltStore) GetOperation(id string) (*types.Operation, error) {
	var op types.Operation
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOperations)
		data := b.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &op)
	})
	if err != nil {
		return nil, err
	}
	return &op, nil
}

func (s *BoltStore) listOperations() ([]*types.Operation, error) {
	var ops []*types.Operation
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOperations)
		return b.ForEach(func(k, v []byte) error {
			var op types.Operation
			if err := json.Unmarshal(v, &op); err != nil {
				return err
			}
			ops = append(ops, &op)
			return nil
		})
	})
	return ops, err
}

func (s *BoltStore) ListPending(filter PendingFilter) ([]*types.Operation, error) {
	all, err := s.listOperations()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var matched []*types.Operation
	for _, op := range all {
		if op.Status != types.StatusPending {
			continue
		}
		if !op.NotBefore.IsZero() && op.NotBefore.After(now) {
			continue
		}
		if filter.EntityType != "" && op.EntityType != filter.EntityType {
			continue
		}
		if filter.UserID != "" && op.UserID != filter.UserID {
			continue
		}
		matched = append(matched, op)
	}

	sortByPriorityThenCreation(matched)

	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func (s *BoltStore) ListCompletedUnsynced(entityType string, limit int) ([]*types.Operation, error) {
	all, err := s.listOperations()
	if err != nil {
		return nil, err
	}

	var matched []*types.Operation
	for _, op := range all {
		if op.Status != types.StatusCompleted {
			continue
		}
		if op.DeadLettered {
			continue
		}
		if entityType != "" && op.EntityType != entityType {
			continue
		}
		matched = append(matched, op)
	}

	sortByPriorityThenCreation(matched)

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func sortByPriorityThenCreation(ops []*types.Operation) {
	// insertion sort: the candidate lists here are bounded by worker/batch
	// sizes (tens of entries), not worth pulling in sort for.
	for i := 1; i < len(ops); i++ {
		j := i
		for j > 0 && lessOperation(ops[j], ops[j-1]) {
			ops[j], ops[j-1] = ops[j-1], ops[j]
			j--
		}
	}
}

// lessOperation orders a before b when a should be scheduled first:
// higher priority rank wins, ties broken by earlier creation time.
func lessOperation(a, b *types.Operation) bool {
	if a.Priority.Rank() != b.Priority.Rank() {
		return a.Priority.Rank() > b.Priority.Rank()
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func (s *BoltStore) ClaimOperation(id string) (*types.Operation, error) {
	var claimed types.Operation
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOperations)
		data := b.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		var op types.Operation
		if err := json.Unmarshal(data, &op); err != nil {
			return err
		}
		if op.Status != types.StatusPending {
			return ErrAlreadyClaimed
		}
		op.Status = types.StatusExecuting
		claimed = op

		newData, err := json.Marshal(&op)
		if err != nil {
			return err
		}
		return b.Put([]byte(op.ID), newData)
	})
	if err != nil {
		return nil, err
	}
	return &claimed, nil
}

func (s *BoltStore) CountOperationsByStatus() (map[types.OperationStatus]int, error) {
	all, err := s.listOperations()
	if err != nil {
		return nil, err
	}
	counts := make(map[types.OperationStatus]int)
	for _, op := range all {
		counts[op.Status]++
	}
	return counts, nil
}

func (s *BoltStore) PruneOperations(before time.Time) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOperations)
		c := b.Cursor()
		var toDelete [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var op types.Operation
			if err := json.Unmarshal(v, &op); err != nil {
				return err
			}
			if !isRetained(&op, before) {
				key := make([]byte, len(k))
				copy(key, k)
				toDelete = append(toDelete, key)
			}
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

// isRetained reports whether an operation survives compaction: it survives
// if it isn't synced-or-terminal yet, or if it reached that state after the
// retention horizon.
func isRetained(op *types.Operation, before time.Time) bool {
	terminal := op.Status == types.StatusSynced ||
		op.Status == types.StatusFailed ||
		op.Status == types.StatusCancelled
	if !terminal {
		return true
	}
	reference := op.SyncedAt
	if reference.IsZero() {
		reference = op.ExecutedAt
	}
	if reference.IsZero() {
		reference = op.CreatedAt
	}
	return reference.After(before)
}

// --- Cache entries ---

func (s *BoltStore) PutCacheEntry(entry *types.CacheEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCache)
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return b.Put([]byte(entry.CacheKey()), data)
	})
}

func (s *BoltStore) GetCacheEntry(entityType, entityID string) (*types.CacheEntry, error) {
	key := entityType + "/" + entityID
	var entry types.CacheEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCache)
		data := b.Get([]byte(key))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *BoltStore) QueryCache(entityType string, filter CacheFilter, limit int) ([]*types.CacheEntry, error) {
	var matched []*types.CacheEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCache)
		return b.ForEach(func(k, v []byte) error {
			var entry types.CacheEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			if entry.EntityType != entityType {
				return nil
			}
			if entry.Deleted() {
				return nil
			}
			if !matchesFilter(entry.Payload, filter) {
				return nil
			}
			matched = append(matched, &entry)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func matchesFilter(payload map[string]interface{}, filter CacheFilter) bool {
	for field, want := range filter {
		got, ok := payload[field]
		if !ok {
			return false
		}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func (s *BoltStore) CompactExpired(now time.Time) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCache)
		c := b.Cursor()
		var toDelete [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var entry types.CacheEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			if entry.ExpiresAt.IsZero() || entry.ExpiresAt.After(now) {
				continue
			}
			key := make([]byte, len(k))
			copy(key, k)
			toDelete = append(toDelete, key)
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

func (s *BoltStore) CountCacheEntries() (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCache)
		stats := b.Stats()
		count = stats.KeyN
		return nil
	})
	return count, err
}

// --- Schema registry ---

func (s *BoltStore) PutSchema(schema *types.EntitySchema) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSchemas)
		data, err := json.Marshal(schema)
		if err != nil {
			return err
		}
		return b.Put([]byte(schema.EntityType), data)
	})
}

func (s *BoltStore) GetSchema(entityType string) (*types.EntitySchema, error) {
	var schema types.EntitySchema
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSchemas)
		data := b.Get([]byte(entityType))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &schema)
	})
	if err != nil {
		return nil, err
	}
	return &schema, nil
}

// --- Rule engine ---

func (s *BoltStore) PutRule(rule *types.BusinessRule) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRules)
		data, err := json.Marshal(rule)
		if err != nil {
			return err
		}
		return b.Put([]byte(rule.ID), data)
	})
}

func (s *BoltStore) ListRulesForType(entityType string) ([]*types.BusinessRule, error) {
	var matched []*types.BusinessRule
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRules)
		return b.ForEach(func(k, v []byte) error {
			var rule types.BusinessRule
			if err := json.Unmarshal(v, &rule); err != nil {
				return err
			}
			if rule.EntityType == entityType && rule.Enabled {
				matched = append(matched, &rule)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortRulesByPriority(matched)
	return matched, nil
}

func sortRulesByPriority(rules []*types.BusinessRule) {
	for i := 1; i < len(rules); i++ {
		j := i
		for j > 0 && rules[j].Priority < rules[j-1].Priority {
			rules[j], rules[j-1] = rules[j-1], rules[j]
			j--
		}
	}
}

// --- Sync watermarks ---

func (s *BoltStore) GetWatermark(entityType string) (string, error) {
	var watermark string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWatermarks)
		data := b.Get([]byte(entityType))
		if data != nil {
			watermark = string(data)
		}
		return nil
	})
	return watermark, err
}

func (s *BoltStore) SetWatermark(entityType, watermark string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWatermarks)
		return b.Put([]byte(entityType), []byte(watermark))
	})
}

// --- Dead letters ---

func (s *BoltStore) PutDeadLetter(dl *types.DeadLetter) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeadLetter)
		data, err := json.Marshal(dl)
		if err != nil {
			return err
		}
		return b.Put([]byte(dl.OperationID), data)
	})
}

func (s *BoltStore) ListDeadLetters() ([]*types.DeadLetter, error) {
	var dls []*types.DeadLetter
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeadLetter)
		return b.ForEach(func(k, v []byte) error {
			var dl types.DeadLetter
			if err := json.Unmarshal(v, &dl); err != nil {
				return err
			}
			dls = append(dls, &dl)
			return nil
		})
	})
	return dls, err
}

// --- Parked conflicts ---

func (s *BoltStore) PutParkedConflict(conflict *types.ParkedConflict) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketConflicts)
		data, err := json.Marshal(conflict)
		if err != nil {
			return err
		}
		return b.Put([]byte(conflict.ID), data)
	})
}

func (s *BoltStore) GetParkedConflict(id string) (*types.ParkedConflict, error) {
	var conflict types.ParkedConflict
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketConflicts)
		data := b.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &conflict)
	})
	if err != nil {
		return nil, err
	}
	return &conflict, nil
}

func (s *BoltStore) ListParkedConflicts() ([]*types.ParkedConflict, error) {
	var conflicts []*types.ParkedConflict
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketConflicts)
		return b.ForEach(func(k, v []byte) error {
			var conflict types.ParkedConflict
			if err := json.Unmarshal(v, &conflict); err != nil {
				return err
			}
			conflicts = append(conflicts, &conflict)
			return nil
		})
	})
	return conflicts, err
}

func (s *BoltStore) DeleteParkedConflict(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketConflicts)
		return b.Delete([]byte(id))
	})
}
