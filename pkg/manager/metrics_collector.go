package manager

import (
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
)

// stateSource is the part of Manager the collector reads
type stateSource interface {
	ListPools() ([]*types.Pool, error)
	GetAvailableItemCount(poolID string) (int, error)
	ListProjects() ([]*types.Project, error)
	ListOutbox(limit int) ([]*types.OutboxEntry, error)
	IsLeader() bool
	GetRaftStats() map[string]interface{}
}

// MetricsCollector collects metrics from the manager
type MetricsCollector struct {
	source   stateSource
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(mgr *Manager) *MetricsCollector {
	return newMetricsCollector(mgr, 15*time.Second)
}

func newMetricsCollector(source stateSource, interval time.Duration) *MetricsCollector {
	return &MetricsCollector{
		source:   source,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *MetricsCollector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
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
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *MetricsCollector) collect() {
	c.collectPoolMetrics()
	c.collectProjectMetrics()
	c.collectOutboxMetrics()
	c.collectRaftMetrics()
}

func (c *MetricsCollector) collectPoolMetrics() {
	pools, err := c.source.ListPools()
	if err != nil {
		metrics.SetComponent(metrics.ComponentStore, err)
		return
	}
	metrics.SetComponent(metrics.ComponentStore, nil)
	metrics.PoolsTotal.Set(float64(len(pools)))

	for _, pool := range pools {
		count, err := c.source.GetAvailableItemCount(pool.ID)
		if err != nil {
			continue
		}
		projectType := string(pool.ProjectType)
		metrics.PoolAvailableItems.WithLabelValues(pool.ID, projectType).Set(float64(count))
		metrics.PoolTargetItems.WithLabelValues(pool.ID, projectType).Set(float64(pool.TargetCount))
	}
}

func (c *MetricsCollector) collectProjectMetrics() {
	projects, err := c.source.ListProjects()
	if err != nil {
		return
	}

	counts := make(map[types.ProjectState]int)
	for _, project := range projects {
		counts[project.State]++
	}

	for _, state := range []types.ProjectState{
		types.ProjectStateStopped,
		types.ProjectStateStarting,
		types.ProjectStateRunning,
		types.ProjectStateFailed,
	} {
		metrics.ProjectsTotal.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
}

func (c *MetricsCollector) collectOutboxMetrics() {
	entries, err := c.source.ListOutbox(0)
	if err != nil {
		return
	}
	metrics.OutboxPending.Set(float64(len(entries)))
}

func (c *MetricsCollector) collectRaftMetrics() {
	if c.source.IsLeader() {
		metrics.RaftLeader.Set(1)
	} else {
		metrics.RaftLeader.Set(0)
	}

	stats := c.source.GetRaftStats()
	if stats == nil {
		metrics.SetComponent(metrics.ComponentRaft, errRaftNotInitialized)
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

	if leader, _ := stats["leader"].(string); leader == "" {
		metrics.SetComponent(metrics.ComponentRaft, errNoLeader)
	} else {
		metrics.SetComponent(metrics.ComponentRaft, nil)
	}
}
