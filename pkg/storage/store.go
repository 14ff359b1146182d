package storage

import (
	"errors"
	"time"

	"github.com/cuemby/burrow/pkg/types"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("not found")

// Store defines the interface for pool state storage
type Store interface {
	// Locations, servers and tiers
	CreateLocation(location *types.Location) error
	GetLocation(id string) (*types.Location, error)
	ListLocations() ([]*types.Location, error)
	CreateServer(server *types.Server) error
	GetServer(id string) (*types.Server, error)
	ListServers() ([]*types.Server, error)
	CreateServerTier(tier *types.ServerTier) error
	GetServerTier(id string) (*types.ServerTier, error)
	ListServerTiers() ([]*types.ServerTier, error)

	// Pools
	CreatePool(pool *types.Pool) error
	GetPool(id string) (*types.Pool, error)
	ListPools() ([]*types.Pool, error)
	UpdatePool(pool *types.Pool) error
	DeletePool(id string) error

	// Pool items
	AddPoolItem(item *types.PoolItem) error
	ListPoolItems(poolID string) ([]*types.PoolItem, error)
	GetAvailableItemCount(poolID string) (int, error)
	DeletePoolItem(id string) error

	// Projects
	AddProject(project *types.Project) error
	GetProject(id string) (*types.Project, error)
	ListProjects() ([]*types.Project, error)

	// CreatePooledInstance writes a project, its pool item and the outbox
	// entries describing them in one transaction
	CreatePooledInstance(project *types.Project, item *types.PoolItem, entries []*types.OutboxEntry) error

	// Replace swaps the whole store contents for state atomically
	Replace(state *State) error

	// Outbox
	ListOutbox(limit int) ([]*types.OutboxEntry, error)
	DeleteOutbox(ids []string) error

	// Leases
	AcquireLease(key, holder string, expiresAt, now time.Time) (bool, error)
	ReleaseLease(key, holder string) error

	// Utility
	Close() error
}

// State is the full replicated contents of a store. Leases are not part of
// it: they expire on their own and are re-acquired after a restore.
type State struct {
	Locations   []*types.Location
	Servers     []*types.Server
	ServerTiers []*types.ServerTier
	Pools       []*types.Pool
	PoolItems   []*types.PoolItem
	Projects    []*types.Project
	Outbox      []*types.OutboxEntry
}
