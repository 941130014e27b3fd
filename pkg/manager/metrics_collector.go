package manager

import (
	"time"

	"github.com/protojour/authly/pkg/metrics"
)

// MetricsCollector periodically samples this manager's store and Raft
// state into Prometheus gauges.
type MetricsCollector struct {
	manager *Manager
	stopCh  chan struct{}
}

// NewMetricsCollector creates a new metrics collector for mgr.
func NewMetricsCollector(mgr *Manager) *MetricsCollector {
	return &MetricsCollector{
		manager: mgr,
		stopCh:  make(chan struct{}),
	}
}

// Start begins collecting metrics on a 15s interval.
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

// Stop stops the collector.
func (c *MetricsCollector) Stop() {
	close(c.stopCh)
}

func (c *MetricsCollector) collect() {
	c.collectDirectoryMetrics()
	c.collectRaftMetrics()
}

func (c *MetricsCollector) collectDirectoryMetrics() {
	store := c.manager.Store()
	dirs, err := store.ListDirectories()
	if err != nil {
		return
	}
	metrics.DirectoriesTotal.Set(float64(len(dirs)))

	for _, dir := range dirs {
		services, err := store.ListServicesByDirectory(dir.Key)
		if err == nil {
			metrics.ServicesTotal.WithLabelValues(dir.ID.String()).Set(float64(len(services)))
		}
		policies, err := store.ListPoliciesByDirectory(dir.Key)
		if err == nil {
			metrics.PoliciesTotal.WithLabelValues(dir.ID.String()).Set(float64(len(policies)))
		}
	}
}

func (c *MetricsCollector) collectRaftMetrics() {
	if c.manager.IsLeader() {
		metrics.RaftLeader.Set(1)
	} else {
		metrics.RaftLeader.Set(0)
	}

	stats := c.manager.GetRaftStats()
	if stats == nil {
		return
	}
	if lastIndex, ok := stats["last_log_index"].(uint64); ok {
		metrics.RaftLogIndex.Set(float64(lastIndex))
	}
	if appliedIndex, ok := stats["applied_index"].(uint64); ok {
		metrics.RaftAppliedIndex.Set(float64(appliedIndex))
	}
	if peers, ok := stats["peers"].(uint64); ok {
		metrics.RaftPeers.Set(float64(peers))
	}
}
