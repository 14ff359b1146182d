package provisioner

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/burrow/pkg/types"
	"github.com/google/uuid"
)

// Repository persists pooled instances
type Repository interface {
	CreatePooledInstance(project *types.Project, item *types.PoolItem, entries []*types.OutboxEntry) error
}

// SignalBuilder produces one follow-up signal for a freshly built project.
// Returning nil attaches nothing.
type SignalBuilder func(pool *types.Pool, project *types.Project) *types.OutboxEntry

// Variant holds the project-type specific defaults for warm instances
type Variant struct {
	Type                  types.ProjectType
	TemplateRepositoryURL string
	DefaultName           string

	// Signals run after the base "project created" signal, in order
	Signals []SignalBuilder
}

// Provisioner creates warm instances for one pool
type Provisioner struct {
	repo       Repository
	variant    Variant
	pool       *types.Pool
	tierID     string
	locationID string
	now        func() time.Time
}

// Pool returns the pool the provisioner is bound to
func (p *Provisioner) Pool() *types.Pool {
	return p.pool
}

// Variant returns the variant the provisioner was built from
func (p *Provisioner) Variant() Variant {
	return p.variant
}

// CreateNewInstance builds one unowned, stopped project for the pool and
// persists it together with its pool item and signals
func (p *Provisioner) CreateNewInstance(ctx context.Context) (*types.Project, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := p.now()
	project := p.buildProject(now)
	entries := p.signals(project, now)

	item := &types.PoolItem{
		ID:        uuid.New().String(),
		PoolID:    p.pool.ID,
		ProjectID: project.ID,
		CreatedAt: now,
	}

	if err := p.repo.CreatePooledInstance(project, item, entries); err != nil {
		return nil, fmt.Errorf("failed to persist instance for pool %s: %w", p.pool.ID, err)
	}

	return project, nil
}

func (p *Provisioner) buildProject(now time.Time) *types.Project {
	id := uuid.New().String()
	return &types.Project{
		ID:            id,
		Name:          fmt.Sprintf("%s-%s", p.variant.DefaultName, id[:8]),
		RepositoryURL: p.variant.TemplateRepositoryURL,
		LocationID:    p.locationID,
		ServerTierID:  p.tierID,
		State:         types.ProjectStateStopped,
		Type:          p.variant.Type,
		CreatedAt:     now,
	}
}

// signals returns the base signal followed by the variant's extras. Entry
// timestamps are spaced by a nanosecond so the outbox keeps their order.
func (p *Provisioner) signals(project *types.Project, now time.Time) []*types.OutboxEntry {
	builders := append([]SignalBuilder{ProjectCreated}, p.variant.Signals...)

	entries := make([]*types.OutboxEntry, 0, len(builders))
	for _, build := range builders {
		entry := build(p.pool, project)
		if entry == nil {
			continue
		}
		if entry.ID == "" {
			entry.ID = uuid.New().String()
		}
		entry.PoolID = p.pool.ID
		entry.ProjectID = project.ID
		entry.ProjectType = project.Type
		entry.Timestamp = now.Add(time.Duration(len(entries)))
		entries = append(entries, entry)
	}
	return entries
}

// ProjectCreated is the generic signal attached to every pooled project;
// handlers use it to allocate default services for the project
func ProjectCreated(pool *types.Pool, project *types.Project) *types.OutboxEntry {
	return &types.OutboxEntry{
		Type: types.EventProjectCreated,
		Metadata: map[string]string{
			"server_tier_id": project.ServerTierID,
			"location_id":    project.LocationID,
		},
	}
}

// ContainerProjectCreated asks downstream handlers to deploy the template
// immediately and open the billing subscription
func ContainerProjectCreated(pool *types.Pool, project *types.Project) *types.OutboxEntry {
	return &types.OutboxEntry{
		Type: types.EventContainerProjectCreated,
		Metadata: map[string]string{
			"template_repository": project.RepositoryURL,
			"server_tier_id":      project.ServerTierID,
		},
	}
}
