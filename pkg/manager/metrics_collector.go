package manager

import (
	"time"

	"github.com/cuemby/nimbus/pkg/metrics"
)

// MetricsCollector publishes Raft state as Prometheus gauges
type MetricsCollector struct {
	store  *ReplicatedStore
	stopCh chan struct{}
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(store *ReplicatedStore) *MetricsCollector {
	return &MetricsCollector{
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *MetricsCollector) Start() {
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

// Stop stops the collector
func (c *MetricsCollector) Stop() {
	close(c.stopCh)
}

func (c *MetricsCollector) collect() {
	if c.store.IsLeader() {
		metrics.RaftLeader.Set(1)
	} else {
		metrics.RaftLeader.Set(0)
	}

	stats := c.store.Stats()
	if lastIndex, ok := stats["last_log_index"].(uint64); ok {
		metrics.RaftLogIndex.Set(float64(lastIndex))
	}
	if appliedIndex, ok := stats["applied_index"].(uint64); ok {
		metrics.RaftAppliedIndex.Set(float64(appliedIndex))
	}
	if peers, ok := stats["peers"].(int); ok {
		metrics.RaftPeers.Set(float64(peers))
	}
}
