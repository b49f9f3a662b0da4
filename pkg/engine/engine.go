package engine

import (
	"errors"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/fieldsync/opqueue/pkg/events"
	"github.com/fieldsync/opqueue/pkg/health"
	"github.com/fieldsync/opqueue/pkg/log"
	"github.com/fieldsync/opqueue/pkg/metrics"
	"github.com/fieldsync/opqueue/pkg/reconciler"
	"github.com/fieldsync/opqueue/pkg/rules"
	"github.com/fieldsync/opqueue/pkg/scheduler"
	"github.com/fieldsync/opqueue/pkg/schema"
	"github.com/fieldsync/opqueue/pkg/storage"
	"github.com/fieldsync/opqueue/pkg/sync"
	"github.com/fieldsync/opqueue/pkg/types"
	"github.com/fieldsync/opqueue/pkg/validate"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned when a requested operation, entity, or parked
// conflict does not exist.
var ErrNotFound = storage.ErrNotFound

// ErrIllegalState is returned by CancelOperation when the operation is no
// longer in a cancellable state. ResolveConflict reports an unknown or
// already-resolved conflict id as ErrNotFound instead.
var ErrIllegalState = errors.New("engine: illegal state")

// ErrBackpressure is returned by Enqueue when the number of
// completed-and-unsynced operations for the target entity type has
// reached the configured high-water mark.
var ErrBackpressure = errors.New("engine: backpressure, retry later")

const (
	// DefaultBackpressureHighWater is the completed-and-unsynced count
	// at or above which Enqueue starts rejecting new operations for an
	// entity type.
	DefaultBackpressureHighWater = 5000
	// DefaultBackpressureLowWater is the completed-and-unsynced count
	// below which Enqueue resumes accepting operations for an entity
	// type once backpressure has engaged.
	DefaultBackpressureLowWater = 2000
)

// EnqueueRequest carries the external caller's intent for one operation.
type EnqueueRequest struct {
	EntityType string
	EntityID   string
	Kind       types.OperationKind
	Payload    map[string]any

	UserID    string
	SessionID string
	DeviceID  string

	Priority  types.Priority
	DependsOn []string

	ConflictStrategy types.ConflictStrategy
}

// EnqueueResult is Enqueue's synchronous response: the persisted
// operation id and any validation errors found along the way.
type EnqueueResult struct {
	OperationID      string
	ValidationErrors []string
}

// Accepted reports whether the enqueued operation passed validation and
// was handed to the scheduler.
func (r EnqueueResult) Accepted() bool {
	return len(r.ValidationErrors) == 0
}

// Statistics is the snapshot Statistics() returns.
type Statistics struct {
	CountsByStatus   map[types.OperationStatus]int
	CacheSize        int
	PendingSyncCount int
	QueueDepth       int
	ParkedConflicts  int
}

// Config configures an Engine's drivers. Zero values fall back to each
// sub-component's own defaults.
type Config struct {
	SchedulerConcurrency int
	SchedulerBatchSize   int
	SchedulerInterval    time.Duration

	SyncEntityTypes         []string
	SyncInterval            time.Duration
	SyncUploadBatchSize     int
	SyncMaxRetries          int
	SyncTransportTimeout    time.Duration
	DefaultConflictStrategy types.ConflictStrategy

	// HealthCheckURL, when set, gates every sync tick behind an HTTP
	// liveness probe against the remote server so a known-down remote
	// costs one cheap request instead of a full transport timeout.
	HealthCheckURL      string
	HealthCheckInterval time.Duration
	HealthCheckRetries  int

	CompactionInterval time.Duration
	RetentionHorizon   time.Duration

	BackpressureHighWater int
	BackpressureLowWater  int
}

// Engine is the embedding application's single entry point: it wires the
// durable store, schema registry, rule engine, validator, scheduler, sync
// coordinator, and conflict table together and owns their lifecycle.
type Engine struct {
	store     storage.Store
	schemas   *schema.Registry
	rules     *rules.Engine
	validator *validate.Validator
	scheduler *scheduler.Scheduler
	sync      *sync.Coordinator
	compactor *reconciler.Compactor
	broker    *events.Broker
	logger    zerolog.Logger

	backpressureHighWater int
	backpressureLowWater  int
	throttleMu            stdsync.Mutex
	throttled             map[string]bool
}

// New builds an Engine over store using transport for sync and cfg for
// driver tuning. The caller must call Start before operations begin
// executing and Shutdown to stop all drivers cleanly.
func New(store storage.Store, transport sync.Transport, cfg Config) *Engine {
	broker := events.NewBroker()
	schemas := schema.NewRegistry(store)
	ruleEngine := rules.NewEngine(store)
	validator := validate.NewValidator(schemas, ruleEngine)

	coord := sync.NewCoordinator(store, transport, broker, syncOptions(cfg)...)

	schedOpts := append(schedulerOptions(cfg), scheduler.WithSyncGate(coord.HandshakeCompleted))
	sched := scheduler.NewScheduler(store, broker, schedOpts...)

	compactionInterval := cfg.CompactionInterval
	if compactionInterval <= 0 {
		compactionInterval = 5 * time.Minute
	}
	retentionHorizon := cfg.RetentionHorizon
	if retentionHorizon <= 0 {
		retentionHorizon = 30 * 24 * time.Hour
	}
	compactor := reconciler.NewCompactor(store, compactionInterval, retentionHorizon)

	highWater := cfg.BackpressureHighWater
	if highWater <= 0 {
		highWater = DefaultBackpressureHighWater
	}
	lowWater := cfg.BackpressureLowWater
	if lowWater <= 0 {
		lowWater = DefaultBackpressureLowWater
	}

	e := &Engine{
		store:                 store,
		schemas:               schemas,
		rules:                 ruleEngine,
		validator:             validator,
		scheduler:             sched,
		sync:                  coord,
		compactor:             compactor,
		broker:                broker,
		logger:                log.WithComponent("engine"),
		backpressureHighWater: highWater,
		backpressureLowWater:  lowWater,
		throttled:             make(map[string]bool),
	}
	return e
}

// backpressureEngaged reports whether entityType should be rejected,
// applying hysteresis: once the high-water mark trips, the entity type
// stays throttled until the count drains below the low-water mark, so
// borderline counts don't flap admission on and off tick to tick.
func (e *Engine) backpressureEngaged(entityType string, unsyncedCount int) bool {
	e.throttleMu.Lock()
	defer e.throttleMu.Unlock()

	if e.throttled[entityType] {
		if unsyncedCount < e.backpressureLowWater {
			delete(e.throttled, entityType)
			return false
		}
		return true
	}
	if unsyncedCount >= e.backpressureHighWater {
		e.throttled[entityType] = true
		return true
	}
	return false
}

func schedulerOptions(cfg Config) []scheduler.Option {
	var opts []scheduler.Option
	if cfg.SchedulerConcurrency > 0 {
		opts = append(opts, scheduler.WithConcurrency(cfg.SchedulerConcurrency))
	}
	if cfg.SchedulerBatchSize > 0 {
		opts = append(opts, scheduler.WithBatchSize(cfg.SchedulerBatchSize))
	}
	if cfg.SchedulerInterval > 0 {
		opts = append(opts, scheduler.WithTickInterval(cfg.SchedulerInterval))
	}
	return opts
}

func syncOptions(cfg Config) []sync.Option {
	var opts []sync.Option
	if len(cfg.SyncEntityTypes) > 0 {
		opts = append(opts, sync.WithEntityTypes(cfg.SyncEntityTypes...))
	}
	if cfg.SyncInterval > 0 {
		opts = append(opts, sync.WithTickInterval(cfg.SyncInterval))
	}
	if cfg.SyncUploadBatchSize > 0 {
		opts = append(opts, sync.WithUploadBatchSize(cfg.SyncUploadBatchSize))
	}
	if cfg.SyncMaxRetries > 0 {
		opts = append(opts, sync.WithMaxSyncRetries(cfg.SyncMaxRetries))
	}
	if cfg.SyncTransportTimeout > 0 {
		opts = append(opts, sync.WithTransportTimeout(cfg.SyncTransportTimeout))
	}
	if cfg.DefaultConflictStrategy != "" {
		opts = append(opts, sync.WithDefaultConflictStrategy(cfg.DefaultConflictStrategy))
	}
	if cfg.HealthCheckURL != "" {
		checker := health.NewHTTPChecker(cfg.HealthCheckURL)
		healthCfg := health.DefaultConfig()
		if cfg.HealthCheckInterval > 0 {
			healthCfg.Interval = cfg.HealthCheckInterval
		}
		if cfg.HealthCheckRetries > 0 {
			healthCfg.Retries = cfg.HealthCheckRetries
		}
		opts = append(opts, sync.WithHealthChecker(checker, healthCfg))
	}
	return opts
}

// RegisterSchema adds or replaces an entity schema.
func (e *Engine) RegisterSchema(s *types.EntitySchema) error {
	return e.schemas.Register(s)
}

// RegisterRule adds or replaces a business rule.
func (e *Engine) RegisterRule(r *types.BusinessRule) error {
	return e.rules.Register(r)
}

// Start launches the scheduler, sync coordinator, and compactor drivers.
func (e *Engine) Start() {
	e.scheduler.Start()
	e.sync.Start()
	e.compactor.Start()
	e.logger.Info().Msg("engine started")
}

// Shutdown stops all drivers. It does not close the underlying store;
// the caller owns the store's lifetime.
func (e *Engine) Shutdown() {
	e.scheduler.Stop()
	e.sync.Stop()
	e.compactor.Stop()
	e.broker.Stop()
	e.logger.Info().Msg("engine stopped")
}

// Enqueue validates and persists a proposed mutation. The operation is
// always persisted, even when validation fails, for audit; it is handed
// to the scheduler only when validation passed.
func (e *Engine) Enqueue(req EnqueueRequest) (EnqueueResult, error) {
	if req.Priority == "" {
		req.Priority = types.PriorityNormal
	}

	unsynced, err := e.store.ListCompletedUnsynced(req.EntityType, 0)
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("engine: check backpressure: %w", err)
	}
	if e.backpressureEngaged(req.EntityType, len(unsynced)) {
		metrics.BackpressureRejectionsTotal.WithLabelValues(req.EntityType).Inc()
		return EnqueueResult{}, ErrBackpressure
	}

	outcome, err := e.validator.Validate(req.EntityType, req.Payload)
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("engine: validate: %w", err)
	}

	op := &types.Operation{
		ID:                       uuid.New().String(),
		EntityType:               req.EntityType,
		EntityID:                 req.EntityID,
		Kind:                     req.Kind,
		Payload:                  outcome.Payload,
		UserID:                   req.UserID,
		SessionID:                req.SessionID,
		DeviceID:                 req.DeviceID,
		CreatedAt:                time.Now(),
		Status:                   types.StatusPending,
		Priority:                 req.Priority,
		DependsOn:                req.DependsOn,
		ConflictStrategy:         req.ConflictStrategy,
		ValidationErrors:         outcome.Errors,
		RequireSyncBeforeExecute: outcome.RequireSyncBeforeExecute,
	}
	if op.ConflictStrategy == "" {
		op.ConflictStrategy = types.ConflictLastWriterWins
	}

	if err := e.store.PutOperation(op); err != nil {
		return EnqueueResult{}, fmt.Errorf("engine: persist operation: %w", err)
	}

	metrics.OperationsEnqueuedTotal.WithLabelValues(req.EntityType, string(req.Kind)).Inc()
	if len(outcome.Errors) > 0 {
		metrics.ValidationErrorsTotal.WithLabelValues(req.EntityType).Inc()
		e.logger.Warn().Str("operation_id", op.ID).Strs("errors", outcome.Errors).Msg("enqueue rejected by validation")
	} else {
		e.broker.Publish(&events.Event{
			ID:   uuid.New().String(),
			Type: events.EventOperationEnqueued,
			Metadata: map[string]string{
				"operation_id": op.ID,
				"entity_type":  op.EntityType,
				"entity_id":    op.EntityID,
			},
		})
	}

	return EnqueueResult{OperationID: op.ID, ValidationErrors: outcome.Errors}, nil
}

// GetOperation returns the operation with the given id.
func (e *Engine) GetOperation(id string) (*types.Operation, error) {
	op, err := e.store.GetOperation(id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	return op, err
}

// GetEntity reads the cache for (entityType, entityID). It returns
// ErrNotFound for entries that do not exist or carry a tombstone.
func (e *Engine) GetEntity(entityType, entityID string) (map[string]any, error) {
	entry, err := e.store.GetCacheEntry(entityType, entityID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if entry.Deleted() {
		return nil, ErrNotFound
	}
	return entry.Payload, nil
}

// QueryEntities runs an equality-predicate query over the cache for
// entityType, returning at most limit non-tombstoned payloads.
func (e *Engine) QueryEntities(entityType string, filter map[string]any, limit int) ([]map[string]any, error) {
	entries, err := e.store.QueryCache(entityType, storage.CacheFilter(filter), limit)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		if entry.Deleted() {
			continue
		}
		out = append(out, entry.Payload)
	}
	return out, nil
}

// CancelOperation cancels a pending operation. It returns ErrIllegalState
// for operations that are already executing or terminal, and ErrNotFound
// for unknown ids.
func (e *Engine) CancelOperation(id string) error {
	op, err := e.store.GetOperation(id)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if op.Status != types.StatusPending {
		return ErrIllegalState
	}
	op.Status = types.StatusCancelled
	if err := e.store.PutOperation(op); err != nil {
		return err
	}
	e.broker.Publish(&events.Event{
		ID:   uuid.New().String(),
		Type: events.EventOperationCancelled,
		Metadata: map[string]string{
			"operation_id": op.ID,
			"entity_type":  op.EntityType,
			"entity_id":    op.EntityID,
		},
	})
	return nil
}

// Statistics returns a snapshot of queue depth, cache size, and counts by
// operation status.
func (e *Engine) Statistics() (Statistics, error) {
	counts, err := e.store.CountOperationsByStatus()
	if err != nil {
		return Statistics{}, err
	}
	cacheSize, err := e.store.CountCacheEntries()
	if err != nil {
		return Statistics{}, err
	}
	pendingSync, err := e.store.ListCompletedUnsynced("", 0)
	if err != nil {
		return Statistics{}, err
	}
	parked, err := e.store.ListParkedConflicts()
	if err != nil {
		return Statistics{}, err
	}

	return Statistics{
		CountsByStatus:   counts,
		CacheSize:        cacheSize,
		PendingSyncCount: len(pendingSync),
		QueueDepth:       counts[types.StatusPending],
		ParkedConflicts:  len(parked),
	}, nil
}

// ListConflicts returns every conflict currently parked for manual
// review.
func (e *Engine) ListConflicts() ([]*types.ParkedConflict, error) {
	return e.store.ListParkedConflicts()
}

// ResolveConflict settles a parked conflict per resolution and removes it
// from the review queue, applying the chosen payload to the cache.
func (e *Engine) ResolveConflict(id string, resolution types.ConflictResolution) error {
	parked, err := e.store.GetParkedConflict(id)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	entry, err := e.store.GetCacheEntry(parked.EntityType, parked.EntityID)
	if errors.Is(err, storage.ErrNotFound) {
		entry = &types.CacheEntry{EntityType: parked.EntityType, EntityID: parked.EntityID}
	} else if err != nil {
		return err
	}

	switch resolution {
	case types.ResolutionKeepLocal:
		entry.SyncRequired = true
	case types.ResolutionKeepServer:
		entry.Payload = parked.ServerPayload
		entry.SyncRequired = false
		entry.LastSynced = time.Now()
	case types.ResolutionMerge:
		entry.Payload = mergeKeepingLocalPreference(parked.ServerPayload, parked.LocalPayload)
		entry.SyncRequired = true
	default:
		return fmt.Errorf("engine: unknown resolution %q", resolution)
	}
	entry.UpdatedAt = time.Now()

	if err := e.store.PutCacheEntry(entry); err != nil {
		return err
	}
	if err := e.store.DeleteParkedConflict(id); err != nil {
		return err
	}
	metrics.ConflictsParkedGauge.Dec()
	e.broker.Publish(&events.Event{
		ID:      uuid.New().String(),
		Type:    events.EventConflictResolved,
		Message: string(resolution),
		Metadata: map[string]string{
			"entity_type": parked.EntityType,
			"entity_id":   parked.EntityID,
		},
	})
	return nil
}

func mergeKeepingLocalPreference(server, local map[string]any) map[string]any {
	out := make(map[string]any, len(server)+len(local))
	for k, v := range server {
		out[k] = v
	}
	for k, v := range local {
		out[k] = v
	}
	return out
}
