package manager

import (
	"errors"
	"testing"
	"time"

	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type fakeState struct {
	pools    []*types.Pool
	counts   map[string]int
	projects []*types.Project
	outbox   []*types.OutboxEntry
	listErr  error
	leader   bool
	stats    map[string]interface{}
}

func (f *fakeState) ListPools() ([]*types.Pool, error) { return f.pools, f.listErr }
func (f *fakeState) GetAvailableItemCount(poolID string) (int, error) {
	return f.counts[poolID], nil
}
func (f *fakeState) ListProjects() ([]*types.Project, error)            { return f.projects, nil }
func (f *fakeState) ListOutbox(limit int) ([]*types.OutboxEntry, error) { return f.outbox, nil }
func (f *fakeState) IsLeader() bool                                     { return f.leader }
func (f *fakeState) GetRaftStats() map[string]interface{}               { return f.stats }

func TestMetricsCollector_Collect(t *testing.T) {
	state := &fakeState{
		pools: []*types.Pool{
			{ID: "collector-pool", TargetCount: 4, ProjectType: types.ProjectTypeStatic},
		},
		counts: map[string]int{"collector-pool": 3},
		projects: []*types.Project{
			{State: types.ProjectStateStopped},
			{State: types.ProjectStateStopped},
			{State: types.ProjectStateRunning},
		},
		outbox: []*types.OutboxEntry{{ID: "e1"}, {ID: "e2"}},
		leader: true,
		stats: map[string]interface{}{
			"last_log_index": uint64(12),
			"applied_index":  uint64(11),
			"peers":          uint64(3),
			"leader":         "127.0.0.1:7946",
		},
	}

	c := newMetricsCollector(state, time.Hour)
	c.collect()

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PoolsTotal))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.PoolAvailableItems.WithLabelValues("collector-pool", "static")))
	assert.Equal(t, 4.0, testutil.ToFloat64(metrics.PoolTargetItems.WithLabelValues("collector-pool", "static")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.ProjectsTotal.WithLabelValues("stopped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ProjectsTotal.WithLabelValues("running")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.ProjectsTotal.WithLabelValues("failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.OutboxPending))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RaftLeader))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.RaftPeers))
	assert.Equal(t, 12.0, testutil.ToFloat64(metrics.RaftLogIndex))

	health := metrics.GetHealth()
	assert.Equal(t, "healthy", health.Components["store"])
	assert.Equal(t, "healthy", health.Components["raft"])
}

func TestMetricsCollector_UnhealthyComponents(t *testing.T) {
	state := &fakeState{listErr: errors.New("bolt closed")}

	c := newMetricsCollector(state, time.Hour)
	c.collect()

	health := metrics.GetHealth()
	assert.Equal(t, "unhealthy: bolt closed", health.Components["store"])
	assert.Equal(t, "unhealthy: raft not initialized", health.Components["raft"])
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.RaftLeader))

	// Leave the registry healthy for other tests in the package
	metrics.SetComponent(metrics.ComponentStore, nil)
	metrics.SetComponent(metrics.ComponentRaft, nil)
}

func TestMetricsCollector_StartStop(t *testing.T) {
	c := newMetricsCollector(&fakeState{}, 10*time.Millisecond)
	c.Start()
	time.Sleep(30 * time.Millisecond)
	c.Stop()
	c.Stop()
}
