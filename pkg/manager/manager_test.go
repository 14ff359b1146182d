package manager

import (
	"net"
	"testing"
	"time"

	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func newLeader(t *testing.T) *Manager {
	t.Helper()
	mgr, err := NewManager(&Config{NodeID: "node-1", BindAddr: freeAddr(t), DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Shutdown() })

	require.NoError(t, mgr.Bootstrap())
	require.Eventually(t, mgr.IsLeader, 10*time.Second, 50*time.Millisecond)
	return mgr
}

func TestManager_WritesThroughRaft(t *testing.T) {
	mgr := newLeader(t)

	location := &types.Location{Name: "fra1"}
	require.NoError(t, mgr.CreateLocation(location))
	assert.NotEmpty(t, location.ID)

	tier := &types.ServerTier{Name: "small"}
	require.NoError(t, mgr.CreateServerTier(tier))

	pool := &types.Pool{
		Name: "static", TargetCount: 2, ServerTierID: tier.ID, LocationID: location.ID, ProjectType: types.ProjectTypeStatic,
	}
	require.NoError(t, mgr.CreatePool(pool))
	assert.False(t, pool.CreatedAt.IsZero())

	got, err := mgr.GetPool(pool.ID)
	require.NoError(t, err)
	assert.Equal(t, "static", got.Name)

	project := &types.Project{State: types.ProjectStateStopped, Type: types.ProjectTypeStatic}
	item := &types.PoolItem{PoolID: pool.ID}
	entries := []*types.OutboxEntry{{Type: types.EventProjectCreated, PoolID: pool.ID}}
	require.NoError(t, mgr.CreatePooledInstance(project, item, entries))
	assert.Equal(t, project.ID, item.ProjectID)
	assert.Equal(t, project.ID, entries[0].ProjectID)

	count, err := mgr.GetAvailableItemCount(pool.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	outbox, err := mgr.ListOutbox(10)
	require.NoError(t, err)
	require.Len(t, outbox, 1)
	require.NoError(t, mgr.DeleteOutbox([]string{outbox[0].ID}))

	stats := mgr.GetRaftStats()
	assert.Equal(t, "Leader", stats["state"])
	assert.Equal(t, uint64(1), stats["peers"])
}

func TestManager_DeletePoolItemPublishesConsumed(t *testing.T) {
	mgr := newLeader(t)
	sub := mgr.GetEventBroker().Subscribe()

	location := &types.Location{Name: "fra1"}
	require.NoError(t, mgr.CreateLocation(location))
	tier := &types.ServerTier{Name: "small"}
	require.NoError(t, mgr.CreateServerTier(tier))
	pool := &types.Pool{TargetCount: 1, ServerTierID: tier.ID, LocationID: location.ID, ProjectType: types.ProjectTypeStatic}
	require.NoError(t, mgr.CreatePool(pool))

	item := &types.PoolItem{PoolID: pool.ID}
	require.NoError(t, mgr.CreatePooledInstance(&types.Project{Type: types.ProjectTypeStatic}, item, nil))
	require.NoError(t, mgr.DeletePoolItem(item.ID))

	select {
	case event := <-sub:
		assert.Equal(t, events.EventPoolItemConsumed, event.Type)
		assert.Equal(t, item.ID, event.Metadata["item_id"])
	case <-time.After(time.Second):
		t.Fatal("consumed event not published")
	}

	count, err := mgr.GetAvailableItemCount(pool.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	// A failed delete announces nothing
	assert.Error(t, mgr.DeletePoolItem(item.ID))
	assert.Empty(t, sub)
}

func TestManager_RejectsInvalidPool(t *testing.T) {
	mgr := newLeader(t)

	err := mgr.CreatePool(&types.Pool{TargetCount: -1, ProjectType: types.ProjectTypeStatic})
	assert.ErrorIs(t, err, types.ErrInvalidPool)
}

func TestManager_LeaseThroughRaft(t *testing.T) {
	mgr := newLeader(t)
	now := time.Now()

	ok, err := mgr.AcquireLease("pool/p", "a", now.Add(time.Minute), now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = mgr.AcquireLease("pool/p", "b", now.Add(time.Minute), now)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mgr.ReleaseLease("pool/p", "a"))
	ok, err = mgr.AcquireLease("pool/p", "b", now.Add(time.Minute), now)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestManager_JoinToken(t *testing.T) {
	mgr := newLeader(t)

	jt, err := mgr.GenerateJoinToken()
	require.NoError(t, err)
	assert.NoError(t, mgr.ValidateJoinToken(jt.Token))
	assert.ErrorIs(t, mgr.AdmitVoter("node-2", "127.0.0.1:1", "bogus"), ErrInvalidToken)
}

func TestManager_FollowerWrites(t *testing.T) {
	mgr, err := NewManager(&Config{NodeID: "node-1", BindAddr: freeAddr(t), DataDir: t.TempDir()})
	require.NoError(t, err)
	defer mgr.Shutdown()

	assert.False(t, mgr.IsLeader())
	assert.Error(t, mgr.CreateLocation(&types.Location{Name: "fra1"}))
	_, err = mgr.GenerateJoinToken()
	assert.ErrorIs(t, err, ErrNotLeader)
}
