package reconciler

import (
	"sync"
	"time"

	"github.com/fieldsync/opqueue/pkg/log"
	"github.com/fieldsync/opqueue/pkg/metrics"
	"github.com/fieldsync/opqueue/pkg/storage"
	"github.com/rs/zerolog"
)

// Compactor is the very-slow-tick driver that reclaims space: it removes
// cache entries past their expiry and prunes operations that are synced or
// terminal and older than the retention horizon. Operations and tombstoned
// cache entries are otherwise retained indefinitely for audit.
type Compactor struct {
	store            storage.Store
	interval         time.Duration
	retentionHorizon time.Duration
	logger           zerolog.Logger
	mu               sync.Mutex
	stopCh           chan struct{}
}

// NewCompactor creates a new compaction driver over store.
func NewCompactor(store storage.Store, interval, retentionHorizon time.Duration) *Compactor {
	return &Compactor{
		store:            store,
		interval:         interval,
		retentionHorizon: retentionHorizon,
		logger:           log.WithComponent("compactor"),
		stopCh:           make(chan struct{}),
	}
}

// Start begins the compaction loop.
func (c *Compactor) Start() {
	go c.run()
}

// Stop stops the compactor.
func (c *Compactor) Stop() {
	close(c.stopCh)
}

func (c *Compactor) run() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.logger.Info().Dur("interval", c.interval).Msg("compactor started")

	for {
		select {
		case <-ticker.C:
			if err := c.RunOnce(); err != nil {
				c.logger.Error().Err(err).Msg("compaction cycle failed")
			}
		case <-c.stopCh:
			c.logger.Info().Msg("compactor stopped")
			return
		}
	}
}

// RunOnce performs a single compaction cycle and is safe to call directly
// (e.g. from the `compact` CLI subcommand) outside the ticker loop.
func (c *Compactor) RunOnce() error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.CompactionDuration)
	}()

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()

	expired, err := c.store.CompactExpired(now)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to compact expired cache entries")
		return err
	}

	pruned, err := c.store.PruneOperations(now.Add(-c.retentionHorizon))
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to prune retained operations")
		return err
	}

	total := expired + pruned
	if total > 0 {
		metrics.CompactedEntriesTotal.Add(float64(total))
		c.logger.Info().
			Int("expired_cache_entries", expired).
			Int("pruned_operations", pruned).
			Msg("compaction cycle removed entries")
	}

	return nil
}
