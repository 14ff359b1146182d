package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedPool(t *testing.T, store *BoltStore) *types.Pool {
	t.Helper()
	require.NoError(t, store.CreateLocation(&types.Location{ID: "loc-1", Name: "fra1"}))
	require.NoError(t, store.CreateServer(&types.Server{ID: "srv-1", Name: "fra1-a", LocationID: "loc-1"}))
	require.NoError(t, store.CreateServerTier(&types.ServerTier{ID: "tier-1", Name: "small", CPUCores: 1}))

	pool := &types.Pool{
		ID:           "pool-1",
		Name:         "small-fra1-static",
		TargetCount:  3,
		ServerTierID: "tier-1",
		ServerID:     "srv-1",
		ProjectType:  types.ProjectTypeStatic,
	}
	require.NoError(t, store.CreatePool(pool))
	return pool
}

func TestNewBoltStore(t *testing.T) {
	store := newTestStore(t)
	assert.NotNil(t, store.db)
}

func TestBoltStore_ListPoolsResolvesReferences(t *testing.T) {
	store := newTestStore(t)
	seedPool(t, store)

	pools, err := store.ListPools()
	require.NoError(t, err)
	require.Len(t, pools, 1)

	pool := pools[0]
	require.NotNil(t, pool.Server)
	require.NotNil(t, pool.Location)
	require.NotNil(t, pool.ServerTier)
	assert.Equal(t, "srv-1", pool.Server.ID)
	assert.Equal(t, "loc-1", pool.Location.ID, "location should be derived from the server")
	assert.Equal(t, "small", pool.ServerTier.Name)
}

func TestBoltStore_GetPoolNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetPool("missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestBoltStore_UpdatePool(t *testing.T) {
	store := newTestStore(t)
	pool := seedPool(t, store)

	pool.TargetCount = 5
	require.NoError(t, store.UpdatePool(pool))

	got, err := store.GetPool(pool.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.TargetCount)

	err = store.UpdatePool(&types.Pool{ID: "missing"})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestBoltStore_AvailableItemCount(t *testing.T) {
	store := newTestStore(t)
	pool := seedPool(t, store)

	count, err := store.GetAvailableItemCount(pool.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	project := &types.Project{Name: "warm", State: types.ProjectStateStopped}
	require.NoError(t, store.AddProject(project))
	assert.NotEmpty(t, project.ID, "AddProject should assign an ID")

	item := &types.PoolItem{PoolID: pool.ID, ProjectID: project.ID}
	require.NoError(t, store.AddPoolItem(item))
	assert.NotEmpty(t, item.ID)

	// Items of other pools are not counted
	require.NoError(t, store.AddPoolItem(&types.PoolItem{PoolID: "other", ProjectID: "x"}))

	count, err = store.GetAvailableItemCount(pool.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, store.DeletePoolItem(item.ID))
	count, err = store.GetAvailableItemCount(pool.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	assert.True(t, errors.Is(store.DeletePoolItem(item.ID), ErrNotFound))
}

func TestBoltStore_CreatePooledInstance(t *testing.T) {
	store := newTestStore(t)
	pool := seedPool(t, store)

	project := &types.Project{Name: "warm", State: types.ProjectStateStopped, Type: types.ProjectTypeStatic}
	item := &types.PoolItem{PoolID: pool.ID}
	now := time.Now()
	entries := []*types.OutboxEntry{
		{Type: types.EventProjectCreated, PoolID: pool.ID, Timestamp: now},
		{Type: types.EventContainerProjectCreated, PoolID: pool.ID, Timestamp: now.Add(time.Millisecond)},
	}

	require.NoError(t, store.CreatePooledInstance(project, item, entries))
	assert.Equal(t, project.ID, item.ProjectID)

	got, err := store.GetProject(project.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ProjectStateStopped, got.State)

	items, err := store.ListPoolItems(pool.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, project.ID, items[0].ProjectID)

	outbox, err := store.ListOutbox(0)
	require.NoError(t, err)
	require.Len(t, outbox, 2)
	assert.Equal(t, types.EventProjectCreated, outbox[0].Type)
	for _, entry := range outbox {
		assert.Equal(t, project.ID, entry.ProjectID)
	}
}

func TestBoltStore_CreatePooledInstanceUnknownPoolWritesNothing(t *testing.T) {
	store := newTestStore(t)

	project := &types.Project{Name: "orphan"}
	item := &types.PoolItem{PoolID: "missing"}
	entries := []*types.OutboxEntry{{Type: types.EventProjectCreated, Timestamp: time.Now()}}

	err := store.CreatePooledInstance(project, item, entries)
	assert.True(t, errors.Is(err, ErrNotFound))

	projects, err := store.ListProjects()
	require.NoError(t, err)
	assert.Empty(t, projects, "project must not be persisted when the item write fails")

	outbox, err := store.ListOutbox(0)
	require.NoError(t, err)
	assert.Empty(t, outbox)
}

func TestBoltStore_Outbox(t *testing.T) {
	store := newTestStore(t)
	pool := seedPool(t, store)

	base := time.Now()
	for i := 0; i < 3; i++ {
		entries := []*types.OutboxEntry{{
			Type:      types.EventProjectCreated,
			PoolID:    pool.ID,
			Timestamp: base.Add(time.Duration(i) * time.Millisecond),
		}}
		require.NoError(t, store.CreatePooledInstance(&types.Project{}, &types.PoolItem{PoolID: pool.ID}, entries))
	}

	limited, err := store.ListOutbox(2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
	assert.True(t, limited[0].Timestamp.Before(limited[1].Timestamp))

	require.NoError(t, store.DeleteOutbox([]string{limited[0].ID, limited[1].ID}))

	rest, err := store.ListOutbox(0)
	require.NoError(t, err)
	assert.Len(t, rest, 1)

	assert.NoError(t, store.DeleteOutbox(nil))
}

func TestBoltStore_Leases(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	ok, err := store.AcquireLease("pool/1", "node-a", now.Add(time.Minute), now)
	require.NoError(t, err)
	assert.True(t, ok)

	// Held by someone else
	ok, err = store.AcquireLease("pool/1", "node-b", now.Add(time.Minute), now)
	require.NoError(t, err)
	assert.False(t, ok)

	// Re-entrant for the holder
	ok, err = store.AcquireLease("pool/1", "node-a", now.Add(2*time.Minute), now)
	require.NoError(t, err)
	assert.True(t, ok)

	// Expired leases can be taken over
	later := now.Add(3 * time.Minute)
	ok, err = store.AcquireLease("pool/1", "node-b", later.Add(time.Minute), later)
	require.NoError(t, err)
	assert.True(t, ok)

	// Release by a non-holder is ignored
	require.NoError(t, store.ReleaseLease("pool/1", "node-a"))
	ok, err = store.AcquireLease("pool/1", "node-a", later.Add(time.Minute), later)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.ReleaseLease("pool/1", "node-b"))
	ok, err = store.AcquireLease("pool/1", "node-a", later.Add(time.Minute), later)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBoltStore_DeletePoolRemovesItems(t *testing.T) {
	store := newTestStore(t)
	pool := seedPool(t, store)

	require.NoError(t, store.AddPoolItem(&types.PoolItem{PoolID: pool.ID, ProjectID: "p1"}))
	require.NoError(t, store.AddPoolItem(&types.PoolItem{PoolID: pool.ID, ProjectID: "p2"}))

	require.NoError(t, store.DeletePool(pool.ID))

	_, err := store.GetPool(pool.ID)
	assert.True(t, errors.Is(err, ErrNotFound))

	count, err := store.GetAvailableItemCount(pool.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestBoltStore_ReplaceDropsPreviousContents(t *testing.T) {
	store := newTestStore(t)
	pool := seedPool(t, store)

	require.NoError(t, store.AddPoolItem(&types.PoolItem{ID: "stale-item", PoolID: pool.ID}))
	require.NoError(t, store.AddProject(&types.Project{ID: "stale-project"}))
	require.NoError(t, store.CreateLocation(&types.Location{ID: "stale-loc", Name: "ams3"}))
	now := time.Now()
	ok, err := store.AcquireLease("pool/"+pool.ID, "node-a", now.Add(time.Minute), now)
	require.NoError(t, err)
	require.True(t, ok)

	state := &State{
		Locations:   []*types.Location{{ID: "loc-1", Name: "fra1"}},
		ServerTiers: []*types.ServerTier{{ID: "tier-1", Name: "small"}},
		Pools: []*types.Pool{{
			ID: pool.ID, TargetCount: 3, ServerTierID: "tier-1", LocationID: "loc-1", ProjectType: types.ProjectTypeStatic,
		}},
		PoolItems: []*types.PoolItem{{ID: "item-1", PoolID: pool.ID, ProjectID: "proj-1"}},
		Projects:  []*types.Project{{ID: "proj-1"}},
		Outbox:    []*types.OutboxEntry{{ID: "evt-1", Type: types.EventProjectCreated, Timestamp: now}},
	}
	require.NoError(t, store.Replace(state))

	count, err := store.GetAvailableItemCount(pool.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = store.GetProject("stale-project")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = store.GetLocation("stale-loc")
	assert.True(t, errors.Is(err, ErrNotFound))

	servers, err := store.ListServers()
	require.NoError(t, err)
	assert.Empty(t, servers)

	got, err := store.GetPool(pool.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Location)
	assert.Equal(t, "fra1", got.Location.Name)

	outbox, err := store.ListOutbox(0)
	require.NoError(t, err)
	require.Len(t, outbox, 1)
	assert.Equal(t, "evt-1", outbox[0].ID)

	// Leases are dropped with the rest
	ok, err = store.AcquireLease("pool/"+pool.ID, "node-b", now.Add(time.Minute), now)
	require.NoError(t, err)
	assert.True(t, ok)
}
