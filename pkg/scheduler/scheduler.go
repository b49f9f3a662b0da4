package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/fieldsync/opqueue/pkg/events"
	"github.com/fieldsync/opqueue/pkg/log"
	"github.com/fieldsync/opqueue/pkg/metrics"
	"github.com/fieldsync/opqueue/pkg/storage"
	"github.com/fieldsync/opqueue/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultConcurrency bounds the number of operations a Scheduler executes
// at once. A small constant suits a mobile/edge deployment.
const DefaultConcurrency = 10

// DefaultBatchSize is the number of pending operations read per tick.
const DefaultBatchSize = 50

// DefaultTickInterval is how often the scheduler looks for ready work.
const DefaultTickInterval = 1 * time.Second

// Scheduler drives operations through pending -> executing -> terminal with
// bounded concurrency, dependency-aware ordering, and retry with backoff.
type Scheduler struct {
	store       storage.Store
	broker      *events.Broker
	logger      zerolog.Logger
	concurrency int
	batchSize   int
	interval    time.Duration

	syncGate func() bool // reports whether the sync coordinator has completed a handshake

	jobs chan *types.Operation
	wg   sync.WaitGroup

	mu       sync.Mutex
	inFlight map[string]struct{}

	stopCh chan struct{}
}

// Option configures a Scheduler at construction time.
type Option func(*Scheduler)

// WithConcurrency overrides the worker pool size.
func WithConcurrency(n int) Option {
	return func(s *Scheduler) { s.concurrency = n }
}

// WithBatchSize overrides how many pending operations are read per tick.
func WithBatchSize(n int) Option {
	return func(s *Scheduler) { s.batchSize = n }
}

// WithTickInterval overrides the scheduling loop's poll interval.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.interval = d }
}

// WithSyncGate installs a predicate consulted before executing an
// operation whose validation result requires a prior sync handshake.
func WithSyncGate(fn func() bool) Option {
	return func(s *Scheduler) { s.syncGate = fn }
}

// NewScheduler creates a Scheduler over store, publishing lifecycle events
// to broker.
func NewScheduler(store storage.Store, broker *events.Broker, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:       store,
		broker:      broker,
		logger:      log.WithComponent("scheduler"),
		concurrency: DefaultConcurrency,
		batchSize:   DefaultBatchSize,
		interval:    DefaultTickInterval,
		syncGate:    func() bool { return true },
		inFlight:    make(map[string]struct{}),
		stopCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.jobs = make(chan *types.Operation, s.concurrency)
	return s
}

// Start launches the worker pool and the tick-driven claim loop.
func (s *Scheduler) Start() {
	for i := 0; i < s.concurrency; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	go s.run()
}

// Stop signals the claim loop and worker pool to exit and waits for any
// in-flight execution to finish.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	close(s.jobs)
	s.wg.Wait()
}

func (s *Scheduler) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.tick(); err != nil {
				s.logger.Error().Err(err).Msg("scheduling tick failed")
			}
		case <-s.stopCh:
			return
		}
	}
}

// tick performs one scheduling cycle: read candidates, filter to the
// dependency-ready and unclaimed subset, and hand each to the worker pool.
func (s *Scheduler) tick() error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SchedulerTickDuration)

	candidates, err := s.store.ListPending(storage.PendingFilter{Limit: s.batchSize})
	if err != nil {
		return fmt.Errorf("list pending: %w", err)
	}

	for _, op := range candidates {
		// Rejected at enqueue time: persisted for audit but never scheduled.
		if len(op.ValidationErrors) > 0 {
			continue
		}
		if !s.isReady(op) {
			continue
		}
		if s.requiresSyncGate(op) && !s.syncGate() {
			continue
		}

		s.mu.Lock()
		if _, claimed := s.inFlight[op.ID]; claimed {
			s.mu.Unlock()
			continue
		}
		s.inFlight[op.ID] = struct{}{}
		s.mu.Unlock()

		claimed, err := s.store.ClaimOperation(op.ID)
		if err != nil {
			s.mu.Lock()
			delete(s.inFlight, op.ID)
			s.mu.Unlock()
			if err == storage.ErrAlreadyClaimed || err == storage.ErrNotFound {
				continue
			}
			s.logger.Error().Err(err).Str("operation_id", op.ID).Msg("failed to claim operation")
			continue
		}

		select {
		case s.jobs <- claimed:
		case <-s.stopCh:
			s.mu.Lock()
			delete(s.inFlight, op.ID)
			s.mu.Unlock()
			return nil
		}
	}

	return nil
}

// requiresSyncGate reports whether op carries a validation-time flag
// requiring at least one sync handshake before it may execute.
func (s *Scheduler) requiresSyncGate(op *types.Operation) bool {
	return op.RequireSyncBeforeExecute
}

// isReady reports whether every dependency of op has resolved to a
// completed or synced operation. A dependency missing from the store is
// treated as not-yet-ready, not as an error.
func (s *Scheduler) isReady(op *types.Operation) bool {
	for _, depID := range op.DependsOn {
		dep, err := s.store.GetOperation(depID)
		if err != nil {
			return false
		}
		if dep.Status != types.StatusCompleted && dep.Status != types.StatusSynced {
			return false
		}
	}
	return true
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()
	for op := range s.jobs {
		s.logger.Debug().Int("worker_id", id).Str("operation_id", op.ID).Msg("executing operation")
		s.execute(op)
		s.mu.Lock()
		delete(s.inFlight, op.ID)
		s.mu.Unlock()
	}
}

// execute applies op's kind-specific cache mutation and transitions its
// status according to the outcome.
func (s *Scheduler) execute(op *types.Operation) {
	s.publish(events.EventOperationExecuting, op, "")

	timer := metrics.NewTimer()
	err := s.applyKind(op)
	timer.ObserveDurationVec(metrics.OperationExecutionDuration, string(op.Kind))

	if err == nil {
		op.Status = types.StatusCompleted
		op.ExecutedAt = time.Now()
		op.ErrorMessage = ""
		if putErr := s.store.PutOperation(op); putErr != nil {
			s.logger.Error().Err(putErr).Str("operation_id", op.ID).Msg("failed to persist completed operation")
			return
		}
		s.publish(events.EventOperationCompleted, op, "")
		return
	}

	s.handleFailure(op, err)
}

func (s *Scheduler) handleFailure(op *types.Operation, execErr error) {
	op.RetryCount++
	metrics.OperationRetriesTotal.Inc()

	if op.RetryCount < op.MaxRetries {
		op.Status = types.StatusPending
		op.NotBefore = time.Now().Add(backoff(op.RetryCount))
		op.ErrorMessage = execErr.Error()
		if putErr := s.store.PutOperation(op); putErr != nil {
			s.logger.Error().Err(putErr).Str("operation_id", op.ID).Msg("failed to persist retryable operation")
		}
		s.logger.Warn().Err(execErr).Str("operation_id", op.ID).Int("retry_count", op.RetryCount).Msg("operation execution failed, will retry")
		return
	}

	op.Status = types.StatusFailed
	op.ErrorMessage = execErr.Error()
	if putErr := s.store.PutOperation(op); putErr != nil {
		s.logger.Error().Err(putErr).Str("operation_id", op.ID).Msg("failed to persist failed operation")
	}
	s.logger.Error().Err(execErr).Str("operation_id", op.ID).Msg("operation exhausted retries")
	s.publish(events.EventOperationFailed, op, execErr.Error())
}

// backoff returns an exponential delay for the given retry count, capped
// to keep a misbehaving operation from starving the tick loop indefinitely.
func backoff(retryCount int) time.Duration {
	d := time.Duration(1<<uint(retryCount)) * time.Second
	const maxBackoff = 5 * time.Minute
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// applyKind performs the cache mutation for op.Kind against the durable
// store, recording the pre-image on op where the spec requires it.
func (s *Scheduler) applyKind(op *types.Operation) error {
	switch op.Kind {
	case types.OperationCreate:
		return s.applyCreate(op)
	case types.OperationUpdate:
		return s.applyUpdate(op)
	case types.OperationDelete:
		return s.applyDelete(op)
	case types.OperationApprove:
		return s.applyApprovalLike(op, "approved_by")
	case types.OperationReject:
		return s.applyApprovalLike(op, "rejected_by")
	case types.OperationSubmit, types.OperationCancel:
		return nil
	default:
		return nil
	}
}

func (s *Scheduler) applyCreate(op *types.Operation) error {
	existing, err := s.store.GetCacheEntry(op.EntityType, op.EntityID)
	if err == nil && existing != nil {
		return s.mergeAndWrite(op, existing)
	}
	if err != nil && err != storage.ErrNotFound {
		return err
	}

	now := time.Now()
	entry := &types.CacheEntry{
		EntityType:   op.EntityType,
		EntityID:     op.EntityID,
		Payload:      op.Payload,
		CreatedAt:    now,
		UpdatedAt:    now,
		AccessedAt:   now,
		SyncRequired: true,
	}
	return s.store.PutCacheEntry(entry)
}

func (s *Scheduler) applyUpdate(op *types.Operation) error {
	existing, err := s.store.GetCacheEntry(op.EntityType, op.EntityID)
	if err != nil && err != storage.ErrNotFound {
		return err
	}
	if existing == nil {
		existing = &types.CacheEntry{
			EntityType: op.EntityType,
			EntityID:   op.EntityID,
			Payload:    map[string]any{},
			CreatedAt:  time.Now(),
		}
	}
	return s.mergeAndWrite(op, existing)
}

// mergeAndWrite records the pre-image onto op, shallow-merges op.Payload
// over the existing entry's payload, and writes the result back.
func (s *Scheduler) mergeAndWrite(op *types.Operation, existing *types.CacheEntry) error {
	previous := make(map[string]any, len(existing.Payload))
	for k, v := range existing.Payload {
		previous[k] = v
	}
	op.PreviousPayload = previous

	merged := make(map[string]any, len(existing.Payload)+len(op.Payload))
	for k, v := range existing.Payload {
		merged[k] = v
	}
	for k, v := range op.Payload {
		merged[k] = v
	}

	now := time.Now()
	existing.Payload = merged
	existing.UpdatedAt = now
	existing.AccessedAt = now
	existing.SyncRequired = true
	return s.store.PutCacheEntry(existing)
}

func (s *Scheduler) applyDelete(op *types.Operation) error {
	existing, err := s.store.GetCacheEntry(op.EntityType, op.EntityID)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil
		}
		return err
	}

	previous := make(map[string]any, len(existing.Payload))
	for k, v := range existing.Payload {
		previous[k] = v
	}
	op.PreviousPayload = previous

	if existing.Payload == nil {
		existing.Payload = map[string]any{}
	}
	existing.Payload["_deleted"] = true

	now := time.Now()
	existing.UpdatedAt = now
	existing.AccessedAt = now
	existing.SyncRequired = true
	return s.store.PutCacheEntry(existing)
}

func (s *Scheduler) applyApprovalLike(op *types.Operation, actorField string) error {
	existing, err := s.store.GetCacheEntry(op.EntityType, op.EntityID)
	if err != nil {
		if err == storage.ErrNotFound {
			existing = &types.CacheEntry{
				EntityType: op.EntityType,
				EntityID:   op.EntityID,
				Payload:    map[string]any{},
				CreatedAt:  time.Now(),
			}
		} else {
			return err
		}
	}
	if existing.Payload == nil {
		existing.Payload = map[string]any{}
	}

	now := time.Now()
	existing.Payload["status"] = string(op.Kind)
	existing.Payload[actorField] = op.UserID
	existing.Payload[actorField+"_at"] = now
	existing.UpdatedAt = now
	existing.AccessedAt = now
	existing.SyncRequired = true
	return s.store.PutCacheEntry(existing)
}

func (s *Scheduler) publish(eventType events.EventType, op *types.Operation, message string) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(&events.Event{
		ID:      uuid.New().String(),
		Type:    eventType,
		Message: message,
		Metadata: map[string]string{
			"operation_id": op.ID,
			"entity_type":  op.EntityType,
			"entity_id":    op.EntityID,
			"kind":         string(op.Kind),
		},
	})
}
