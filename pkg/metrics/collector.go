package metrics

import "time"

// JobStateCounter reports watch counts keyed by label value. The controller
// satisfies it with the registration loop, reporting the number of
// benchmarks dispatched to a processing loop so far under the label
// "watched".
type JobStateCounter interface {
	JobCountsByState() map[string]int
}

// PoolStats is satisfied by the host bridge; it reports pool saturation.
type PoolStats interface {
	PoolSize() int
	InUse() int
}

// Collector periodically samples gauges that aren't updated inline by the
// components that own them (counters and histograms are, since those are
// cheap to touch on the hot path; gauges that require iterating live state
// are sampled here instead).
type Collector struct {
	jobs   JobStateCounter
	bridge PoolStats
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector.
func NewCollector(jobs JobStateCounter, bridge PoolStats) *Collector {
	return &Collector{
		jobs:   jobs,
		bridge: bridge,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics every 15 seconds.
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
	if c.jobs != nil {
		for state, count := range c.jobs.JobCountsByState() {
			JobsInFlight.WithLabelValues(state).Set(float64(count))
		}
	}
	if c.bridge != nil {
		HostBridgePoolSize.Set(float64(c.bridge.PoolSize()))
		HostBridgeInUse.Set(float64(c.bridge.InUse()))
	}
}
