package metrics

import (
	"sync"
	"time"

	"github.com/cuemby/nimbus/pkg/log"
	"github.com/cuemby/nimbus/pkg/types"
)

// DefaultCollectInterval is how often resource gauges are refreshed
const DefaultCollectInterval = 15 * time.Second

// RecordLister lists every resource record. The desired store satisfies it.
type RecordLister interface {
	List() ([]*types.ResourceRecord, error)
}

// Collector periodically publishes resource counts by kind and phase
type Collector struct {
	lister   RecordLister
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCollector creates a new metrics collector
func NewCollector(lister RecordLister) *Collector {
	return &Collector{
		lister:   lister,
		interval: DefaultCollectInterval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.Collect()

		for {
			select {
			case <-ticker.C:
				c.Collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Collect recomputes the resource gauges once. Every kind and phase pair
// is set, so counts drop back to zero when resources go away.
func (c *Collector) Collect() {
	recs, err := c.lister.List()
	if err != nil {
		log.Logger.Warn().Err(err).Msg("Failed to list resources for metrics")
		return
	}

	counts := make(map[types.Kind]map[types.Phase]int, len(types.AllKinds))
	for _, kind := range types.AllKinds {
		counts[kind] = make(map[types.Phase]int, len(types.AllPhases))
	}
	for _, rec := range recs {
		if byPhase, ok := counts[rec.Kind]; ok {
			byPhase[rec.Phase]++
		}
	}

	for kind, byPhase := range counts {
		for _, phase := range types.AllPhases {
			ResourcesTotal.WithLabelValues(string(kind), string(phase)).Set(float64(byPhase[phase]))
		}
	}
}
