package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/fieldsync/opqueue/pkg/conflict"
	"github.com/fieldsync/opqueue/pkg/events"
	"github.com/fieldsync/opqueue/pkg/health"
	"github.com/fieldsync/opqueue/pkg/log"
	"github.com/fieldsync/opqueue/pkg/metrics"
	"github.com/fieldsync/opqueue/pkg/storage"
	"github.com/fieldsync/opqueue/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultTickInterval is how often the coordinator runs an upload+download
// cycle. Longer than the scheduler's tick since network round-trips are
// expensive relative to local cache mutations.
const DefaultTickInterval = 30 * time.Second

// DefaultUploadBatchSize is the number of completed-unsynced operations
// fetched per entity-type group, per tick.
const DefaultUploadBatchSize = 50

// DefaultMaxSyncRetries bounds per-operation sync-retry attempts before an
// operation is moved to the dead-letter state.
const DefaultMaxSyncRetries = 5

// DefaultTransportTimeout bounds a single UploadBatch/DownloadChanges call.
const DefaultTransportTimeout = 30 * time.Second

// DefaultConflictStrategy is used when no operation on record names a
// strategy for the entity under conflict.
const DefaultConflictStrategy = types.ConflictLastWriterWins

// Coordinator drives the upload and download paths against a Transport on
// its own recurring tick.
type Coordinator struct {
	store     storage.Store
	transport Transport
	broker    *events.Broker
	logger    zerolog.Logger

	entityTypes      []string
	interval         time.Duration
	uploadBatchSize  int
	maxSyncRetries   int
	transportTimeout time.Duration
	defaultStrategy  types.ConflictStrategy

	handshakeDone bool

	healthChecker health.Checker
	healthConfig  health.Config
	healthStatus  *health.Status

	stopCh chan struct{}
}

// Option configures a Coordinator at construction time.
type Option func(*Coordinator)

// WithEntityTypes declares the entity types the download path polls. The
// upload path needs no such declaration — it discovers entity types from
// completed-unsynced operations on record.
func WithEntityTypes(entityTypes ...string) Option {
	return func(c *Coordinator) { c.entityTypes = entityTypes }
}

// WithTickInterval overrides the coordinator's poll interval.
func WithTickInterval(d time.Duration) Option {
	return func(c *Coordinator) { c.interval = d }
}

// WithUploadBatchSize overrides how many operations are uploaded per
// entity-type group, per tick.
func WithUploadBatchSize(n int) Option {
	return func(c *Coordinator) { c.uploadBatchSize = n }
}

// WithMaxSyncRetries overrides the dead-letter bound.
func WithMaxSyncRetries(n int) Option {
	return func(c *Coordinator) { c.maxSyncRetries = n }
}

// WithTransportTimeout overrides the per-call transport timeout.
func WithTransportTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.transportTimeout = d }
}

// WithDefaultConflictStrategy overrides the strategy used when no
// operation on record names one for the entity under conflict.
func WithDefaultConflictStrategy(s types.ConflictStrategy) Option {
	return func(c *Coordinator) { c.defaultStrategy = s }
}

// WithHealthChecker attaches a liveness probe (typically a
// health.HTTPChecker against the remote server's health endpoint) that
// gates each tick: a remote known to be down is skipped rather than
// spending a transport timeout on it. cfg controls the consecutive-
// failure/success thresholds behind the rolling verdict; the zero value
// uses health.DefaultConfig.
func WithHealthChecker(checker health.Checker, cfg health.Config) Option {
	return func(c *Coordinator) {
		c.healthChecker = checker
		if cfg.Retries > 0 {
			c.healthConfig = cfg
		}
	}
}

// NewCoordinator creates a Coordinator over store, using transport for
// remote communication and broker for lifecycle events.
func NewCoordinator(store storage.Store, transport Transport, broker *events.Broker, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:            store,
		transport:        transport,
		broker:           broker,
		logger:           log.WithComponent("sync"),
		interval:         DefaultTickInterval,
		uploadBatchSize:  DefaultUploadBatchSize,
		maxSyncRetries:   DefaultMaxSyncRetries,
		transportTimeout: DefaultTransportTimeout,
		defaultStrategy:  DefaultConflictStrategy,
		healthConfig:     health.DefaultConfig(),
		healthStatus:     health.NewStatus(),
		stopCh:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start begins the coordinator's ticker-driven loop.
func (c *Coordinator) Start() {
	go c.run()
}

// Stop signals the loop to exit.
func (c *Coordinator) Stop() {
	close(c.stopCh)
}

// HandshakeCompleted reports whether the coordinator has completed at
// least one sync cycle since it started, satisfying operations whose
// validation required a prior handshake before execution.
func (c *Coordinator) HandshakeCompleted() bool {
	return c.handshakeDone
}

func (c *Coordinator) run() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.RunOnce(context.Background()); err != nil {
				c.logger.Error().Err(err).Msg("sync cycle failed")
			}
		case <-c.stopCh:
			return
		}
	}
}

// RunOnce performs one upload-then-download cycle. Exported so a CLI
// subcommand can trigger a cycle synchronously.
func (c *Coordinator) RunOnce(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SyncTickDuration)

	if c.healthChecker != nil {
		result := c.healthChecker.Check(ctx)
		c.healthStatus.Update(result, c.healthConfig)
		if !c.healthStatus.Healthy {
			c.logger.Warn().Str("message", result.Message).Msg("remote unhealthy, skipping sync tick")
			return nil
		}
	}

	if err := c.uploadOnce(ctx); err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	if err := c.downloadOnce(ctx); err != nil {
		return fmt.Errorf("download: %w", err)
	}
	c.handshakeDone = true
	return nil
}

func (c *Coordinator) uploadOnce(ctx context.Context) error {
	pending, err := c.store.ListCompletedUnsynced("", c.uploadBatchSize*8)
	if err != nil {
		return err
	}

	groups := groupByEntityType(pending)
	for entityType, ops := range groups {
		batch := ops
		if len(batch) > c.uploadBatchSize {
			batch = batch[:c.uploadBatchSize]
		}
		metrics.SyncUploadBatchSize.WithLabelValues(entityType).Observe(float64(len(batch)))

		callCtx, cancel := context.WithTimeout(ctx, c.transportTimeout)
		results, err := c.transport.UploadBatch(callCtx, entityType, batch)
		cancel()
		if err != nil {
			c.logger.Warn().Err(err).Str("entity_type", entityType).Msg("upload batch failed, will retry next tick")
			continue
		}

		byID := make(map[string]*types.Operation, len(batch))
		for _, op := range batch {
			byID[op.ID] = op
		}
		for _, result := range results {
			op, ok := byID[result.OperationID]
			if !ok {
				continue
			}
			if result.Ack {
				c.handleUploadAck(op, result)
			} else {
				c.handleUploadFailure(op, result)
			}
		}
	}
	return nil
}

func (c *Coordinator) handleUploadAck(op *types.Operation, result UploadResult) {
	op.Status = types.StatusSynced
	op.SyncedAt = time.Now()
	if err := c.store.PutOperation(op); err != nil {
		c.logger.Error().Err(err).Str("operation_id", op.ID).Msg("failed to persist synced operation")
		return
	}

	entry, err := c.store.GetCacheEntry(op.EntityType, op.EntityID)
	if err == nil {
		entry.SyncRequired = false
		entry.LastSynced = time.Now()
		if result.ServerVersion != "" {
			entry.ServerVersion = result.ServerVersion
		}
		if err := c.store.PutCacheEntry(entry); err != nil {
			c.logger.Error().Err(err).Str("entity_id", op.EntityID).Msg("failed to persist cache entry after sync ack")
		}
	}

	c.publish(events.EventOperationSynced, op, "")
}

func (c *Coordinator) handleUploadFailure(op *types.Operation, result UploadResult) {
	op.SyncRetryCount++
	if op.SyncRetryCount >= c.maxSyncRetries {
		op.DeadLettered = true
		reason := "sync retries exhausted"
		if result.Err != nil {
			reason = result.Err.Error()
		}
		op.ErrorMessage = reason
		if err := c.store.PutOperation(op); err != nil {
			c.logger.Error().Err(err).Str("operation_id", op.ID).Msg("failed to persist dead-lettered operation")
		}
		if err := c.store.PutDeadLetter(&types.DeadLetter{
			OperationID: op.ID,
			EntityType:  op.EntityType,
			EntityID:    op.EntityID,
			Reason:      reason,
			RecordedAt:  time.Now(),
		}); err != nil {
			c.logger.Error().Err(err).Str("operation_id", op.ID).Msg("failed to record dead letter")
		}
		metrics.OperationDeadLettersTotal.Inc()
		c.publish(events.EventOperationDeadLettered, op, reason)
		return
	}

	if err := c.store.PutOperation(op); err != nil {
		c.logger.Error().Err(err).Str("operation_id", op.ID).Msg("failed to persist sync-retry counter")
	}
}

func (c *Coordinator) downloadOnce(ctx context.Context) error {
	for _, entityType := range c.entityTypes {
		if err := c.downloadEntityType(ctx, entityType); err != nil {
			c.logger.Warn().Err(err).Str("entity_type", entityType).Msg("download failed, will retry next tick")
		}
	}
	return nil
}

func (c *Coordinator) downloadEntityType(ctx context.Context, entityType string) error {
	watermark, err := c.store.GetWatermark(entityType)
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.transportTimeout)
	result, err := c.transport.DownloadChanges(callCtx, entityType, watermark)
	cancel()
	if err != nil {
		return err
	}

	for _, change := range result.Changes {
		if err := c.applyChange(entityType, change); err != nil {
			c.logger.Error().Err(err).Str("entity_type", entityType).Str("entity_id", change.EntityID).Msg("failed to apply downloaded change")
			continue
		}
	}
	metrics.SyncDownloadChangesTotal.WithLabelValues(entityType).Add(float64(len(result.Changes)))

	if result.NewWatermark != "" {
		return c.store.SetWatermark(entityType, result.NewWatermark)
	}
	return nil
}

func (c *Coordinator) applyChange(entityType string, change Change) error {
	existing, err := c.store.GetCacheEntry(entityType, change.EntityID)
	if err != nil && err != storage.ErrNotFound {
		return err
	}

	now := time.Now()
	payload := change.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	if change.Deleted {
		payload["_deleted"] = true
	}

	if existing == nil {
		return c.store.PutCacheEntry(&types.CacheEntry{
			EntityType:    entityType,
			EntityID:      change.EntityID,
			Payload:       payload,
			ServerVersion: change.ServerVersion,
			CreatedAt:     now,
			UpdatedAt:     change.UpdatedAt,
			LastSynced:    now,
		})
	}

	if !existing.SyncRequired {
		existing.Payload = payload
		existing.ServerVersion = change.ServerVersion
		existing.UpdatedAt = change.UpdatedAt
		existing.LastSynced = now
		return c.store.PutCacheEntry(existing)
	}

	return c.resolveConflict(entityType, change, existing)
}

// resolveConflict delegates a local/server divergence to pkg/conflict
// using the strategy named by the most relevant operation on record for
// (entityType, change.EntityID), falling back to defaultStrategy.
func (c *Coordinator) resolveConflict(entityType string, change Change, existing *types.CacheEntry) error {
	strategy, previous := c.conflictContextFor(entityType, change.EntityID)

	out, err := conflict.Resolve(strategy, conflict.Input{
		EntityType:      entityType,
		Local:           existing.Payload,
		Server:          change.Payload,
		Previous:        previous,
		LocalUpdatedAt:  existing.UpdatedAt,
		ServerUpdatedAt: change.UpdatedAt,
	})
	if err != nil {
		return err
	}
	metrics.ConflictsTotal.WithLabelValues(string(strategy)).Inc()

	if out.RequiresManualReview {
		park := &types.ParkedConflict{
			ID:              uuid.New().String(),
			EntityType:      entityType,
			EntityID:        change.EntityID,
			LocalPayload:    existing.Payload,
			ServerPayload:   change.Payload,
			PreviousPayload: existing.Payload,
			DetectedAt:      time.Now(),
		}
		if err := c.store.PutParkedConflict(park); err != nil {
			return err
		}
		metrics.ConflictsParkedGauge.Inc()
		c.broker.Publish(&events.Event{
			ID:   uuid.New().String(),
			Type: events.EventConflictDetected,
			Metadata: map[string]string{
				"entity_type": entityType,
				"entity_id":   change.EntityID,
				"conflict_id": park.ID,
			},
		})
		return nil
	}

	now := time.Now()
	existing.Payload = out.Payload
	existing.ServerVersion = change.ServerVersion
	existing.UpdatedAt = now
	if out.ClearSyncRequired {
		existing.SyncRequired = false
		existing.LastSynced = now
	}
	if err := c.store.PutCacheEntry(existing); err != nil {
		return err
	}

	if strategy == types.ConflictServerWins {
		if err := c.cancelPendingOperationsFor(entityType, change.EntityID); err != nil {
			return err
		}
	}

	c.broker.Publish(&events.Event{
		ID:   uuid.New().String(),
		Type: events.EventConflictResolved,
		Metadata: map[string]string{
			"entity_type": entityType,
			"entity_id":   change.EntityID,
			"strategy":    string(strategy),
		},
	})
	return nil
}

// conflictContextFor returns the ConflictStrategy and recorded previous
// payload from the most recently created pending-or-completed-unsynced
// operation on (entityType, entityID), falling back to defaultStrategy
// and a nil previous payload if no such operation exists.
func (c *Coordinator) conflictContextFor(entityType, entityID string) (types.ConflictStrategy, map[string]any) {
	var best *types.Operation

	if candidates, err := c.store.ListPending(storage.PendingFilter{EntityType: entityType}); err == nil {
		if found := latestForEntity(candidates, entityID); found != nil {
			best = found
		}
	}
	if unsynced, err := c.store.ListCompletedUnsynced(entityType, 0); err == nil {
		if found := latestForEntity(unsynced, entityID); found != nil && (best == nil || found.CreatedAt.After(best.CreatedAt)) {
			best = found
		}
	}

	if best == nil || best.ConflictStrategy == "" {
		return c.defaultStrategy, nil
	}
	return best.ConflictStrategy, best.PreviousPayload
}

func latestForEntity(ops []*types.Operation, entityID string) *types.Operation {
	var best *types.Operation
	for _, op := range ops {
		if op.EntityID != entityID {
			continue
		}
		if best == nil || op.CreatedAt.After(best.CreatedAt) {
			best = op
		}
	}
	return best
}

func (c *Coordinator) cancelPendingOperationsFor(entityType, entityID string) error {
	pending, err := c.store.ListPending(storage.PendingFilter{EntityType: entityType})
	if err != nil {
		return err
	}
	for _, op := range pending {
		if op.EntityID != entityID {
			continue
		}
		op.Status = types.StatusCancelled
		if err := c.store.PutOperation(op); err != nil {
			return err
		}
		c.publish(events.EventOperationCancelled, op, "cancelled by server-wins conflict resolution")
	}
	return nil
}

func (c *Coordinator) publish(eventType events.EventType, op *types.Operation, message string) {
	if c.broker == nil {
		return
	}
	c.broker.Publish(&events.Event{
		ID:      uuid.New().String(),
		Type:    eventType,
		Message: message,
		Metadata: map[string]string{
			"operation_id": op.ID,
			"entity_type":  op.EntityType,
			"entity_id":    op.EntityID,
		},
	})
}

func groupByEntityType(ops []*types.Operation) map[string][]*types.Operation {
	groups := make(map[string][]*types.Operation)
	for _, op := range ops {
		groups[op.EntityType] = append(groups[op.EntityType], op)
	}
	return groups
}
