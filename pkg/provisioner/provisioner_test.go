package provisioner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	mu       sync.Mutex
	projects []*types.Project
	items    []*types.PoolItem
	entries  []*types.OutboxEntry
	err      error
}

func (r *fakeRepo) CreatePooledInstance(project *types.Project, item *types.PoolItem, entries []*types.OutboxEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.projects = append(r.projects, project)
	r.items = append(r.items, item)
	r.entries = append(r.entries, entries...)
	return nil
}

func testPool(projectType types.ProjectType) *types.Pool {
	return &types.Pool{
		ID:           "pool-1",
		TargetCount:  2,
		ServerTierID: "tier-1",
		ServerID:     "srv-1",
		Server:       &types.Server{ID: "srv-1", LocationID: "loc-1"},
		ProjectType:  projectType,
	}
}

func countType(entries []*types.OutboxEntry, t types.EventType) int {
	n := 0
	for _, e := range entries {
		if e.Type == t {
			n++
		}
	}
	return n
}

func TestFactory_VariantsUseDistinctDefaults(t *testing.T) {
	f := NewFactory(&fakeRepo{})

	static, err := f.CreateProvisioner(testPool(types.ProjectTypeStatic))
	require.NoError(t, err)
	container, err := f.CreateProvisioner(testPool(types.ProjectTypeContainer))
	require.NoError(t, err)

	assert.Equal(t, types.ProjectTypeStatic, static.Variant().Type)
	assert.Equal(t, types.ProjectTypeContainer, container.Variant().Type)
	assert.NotEqual(t, static.Variant().TemplateRepositoryURL, container.Variant().TemplateRepositoryURL)
	assert.NotEqual(t, static.Variant().DefaultName, container.Variant().DefaultName)
}

func TestFactory_UnsupportedProjectType(t *testing.T) {
	repo := &fakeRepo{}
	f := NewFactory(repo, DefaultVariants()[0]) // static only

	p, err := f.CreateProvisioner(testPool(types.ProjectTypeContainer))
	assert.Nil(t, p)
	assert.True(t, errors.Is(err, ErrUnsupportedProjectType))

	_, err = f.CreateProvisioner(testPool("lambda"))
	assert.True(t, errors.Is(err, ErrUnsupportedProjectType))

	assert.Empty(t, repo.projects, "factory must not create anything")
}

func TestFactory_DerivesPlacement(t *testing.T) {
	tests := []struct {
		name         string
		pool         *types.Pool
		wantLocation string
		wantErr      error
	}{
		{
			name:         "location from server",
			pool:         testPool(types.ProjectTypeStatic),
			wantLocation: "loc-1",
		},
		{
			name: "explicit location wins",
			pool: &types.Pool{
				ID: "p", ServerTierID: "tier-1", LocationID: "loc-2",
				Server: &types.Server{LocationID: "loc-1"}, ProjectType: types.ProjectTypeStatic,
			},
			wantLocation: "loc-2",
		},
		{
			name:    "no location",
			pool:    &types.Pool{ID: "p", ServerTierID: "tier-1", ServerID: "srv-x", ProjectType: types.ProjectTypeStatic},
			wantErr: ErrMissingPlacement,
		},
		{
			name:    "no tier",
			pool:    &types.Pool{ID: "p", LocationID: "loc-1", ProjectType: types.ProjectTypeStatic},
			wantErr: ErrMissingPlacement,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewFactory(&fakeRepo{}).CreateProvisioner(tt.pool)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLocation, p.locationID)
			assert.Equal(t, "tier-1", p.tierID)
			assert.Same(t, tt.pool, p.Pool())
		})
	}
}

func TestFactory_RegisterOverridesVariant(t *testing.T) {
	f := NewFactory(&fakeRepo{})
	f.Register(Variant{Type: types.ProjectTypeStatic, TemplateRepositoryURL: "https://example.com/custom.git", DefaultName: "custom"})

	v, ok := f.Lookup(types.ProjectTypeStatic)
	require.True(t, ok)
	assert.Equal(t, "custom", v.DefaultName)
}

func TestCreateNewInstance_Static(t *testing.T) {
	repo := &fakeRepo{}
	p, err := NewFactory(repo).CreateProvisioner(testPool(types.ProjectTypeStatic))
	require.NoError(t, err)

	project, err := p.CreateNewInstance(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, project.ID)
	assert.True(t, project.Unowned())
	assert.Equal(t, types.ProjectStateStopped, project.State)
	assert.Equal(t, types.ProjectTypeStatic, project.Type)
	assert.Equal(t, DefaultStaticTemplate, project.RepositoryURL)
	assert.True(t, strings.HasPrefix(project.Name, "static-site-"))
	assert.Equal(t, "loc-1", project.LocationID)
	assert.Equal(t, "tier-1", project.ServerTierID)

	require.Len(t, repo.items, 1)
	assert.Equal(t, "pool-1", repo.items[0].PoolID)
	assert.Equal(t, project.ID, repo.items[0].ProjectID)

	assert.Equal(t, 1, countType(repo.entries, types.EventProjectCreated))
	assert.Equal(t, 0, countType(repo.entries, types.EventContainerProjectCreated))
}

func TestCreateNewInstance_ContainerEmitsExtraSignalOnce(t *testing.T) {
	repo := &fakeRepo{}
	p, err := NewFactory(repo).CreateProvisioner(testPool(types.ProjectTypeContainer))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := p.CreateNewInstance(context.Background())
		require.NoError(t, err)
	}

	require.Len(t, repo.projects, 3)
	assert.Equal(t, 3, countType(repo.entries, types.EventProjectCreated))
	assert.Equal(t, 3, countType(repo.entries, types.EventContainerProjectCreated))

	// Base signal comes first for every project
	perProject := make(map[string][]*types.OutboxEntry)
	for _, e := range repo.entries {
		perProject[e.ProjectID] = append(perProject[e.ProjectID], e)
	}
	for _, project := range repo.projects {
		entries := perProject[project.ID]
		require.Len(t, entries, 2)
		assert.Equal(t, types.EventProjectCreated, entries[0].Type)
		assert.Equal(t, types.EventContainerProjectCreated, entries[1].Type)
		assert.True(t, entries[0].Timestamp.Before(entries[1].Timestamp))
		assert.Equal(t, DefaultContainerTemplate, entries[1].Metadata["template_repository"])
	}
}

func TestCreateNewInstance_PersistenceFailurePropagates(t *testing.T) {
	repo := &fakeRepo{err: errors.New("connection reset")}
	p, err := NewFactory(repo).CreateProvisioner(testPool(types.ProjectTypeStatic))
	require.NoError(t, err)

	project, err := p.CreateNewInstance(context.Background())
	assert.Nil(t, project)
	assert.ErrorContains(t, err, "connection reset")
}

func TestCreateNewInstance_CanceledContext(t *testing.T) {
	repo := &fakeRepo{}
	p, err := NewFactory(repo).CreateProvisioner(testPool(types.ProjectTypeStatic))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = p.CreateNewInstance(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, repo.projects)
}

func TestCreateNewInstance_NilSignalSkipped(t *testing.T) {
	repo := &fakeRepo{}
	f := NewFactory(repo, Variant{
		Type:        types.ProjectTypeStatic,
		DefaultName: "quiet",
		Signals: []SignalBuilder{func(*types.Pool, *types.Project) *types.OutboxEntry {
			return nil
		}},
	})
	p, err := f.CreateProvisioner(testPool(types.ProjectTypeStatic))
	require.NoError(t, err)

	_, err = p.CreateNewInstance(context.Background())
	require.NoError(t, err)
	assert.Len(t, repo.entries, 1)
}
