package metrics

import (
	"time"

	"github.com/fieldsync/opqueue/pkg/storage"
	"github.com/fieldsync/opqueue/pkg/types"
)

// Collector periodically samples the durable store and updates the gauge
// metrics that can't be updated incrementally at the point of mutation
// (operation counts by status, cache size).
type Collector struct {
	store  storage.Store
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector over store.
func NewCollector(store storage.Store) *Collector {
	return &Collector{
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics on a 15-second tick.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectOperationMetrics()
	c.collectCacheMetrics()
}

func (c *Collector) collectOperationMetrics() {
	counts, err := c.store.CountOperationsByStatus()
	if err != nil {
		return
	}

	for _, status := range []types.OperationStatus{
		types.StatusPending, types.StatusExecuting, types.StatusCompleted,
		types.StatusFailed, types.StatusCancelled, types.StatusSynced,
	} {
		OperationsTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

func (c *Collector) collectCacheMetrics() {
	n, err := c.store.CountCacheEntries()
	if err != nil {
		return
	}
	CacheSizeGauge.Set(float64(n))
}
