package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/burrow/pkg/client"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/google/uuid"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/rs/zerolog"
)

// ErrNotLeader is returned for writes issued on a follower
var ErrNotLeader = errors.New("not the leader")

var (
	errRaftNotInitialized = errors.New("raft not initialized")
	errNoLeader           = errors.New("no leader")
)

const applyTimeout = 5 * time.Second

// Manager is a burrow control plane node. It owns the replicated pool state
// and the event broker.
type Manager struct {
	nodeID   string
	bindAddr string
	dataDir  string

	raft         *raft.Raft
	fsm          *BurrowFSM
	store        storage.Store
	tokenManager *TokenManager
	eventBroker  *events.Broker
	logger       zerolog.Logger
}

// Config holds configuration for creating a Manager
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// NewManager creates a new Manager instance
func NewManager(cfg *Config) (*Manager, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	eventBroker := events.NewBroker()

	return &Manager{
		nodeID:       cfg.NodeID,
		bindAddr:     cfg.BindAddr,
		dataDir:      cfg.DataDir,
		fsm:          NewBurrowFSM(store),
		store:        store,
		tokenManager: NewTokenManager(),
		eventBroker:  eventBroker,
		logger:       log.WithComponent("manager").With().Str("node_id", cfg.NodeID).Logger(),
	}, nil
}

func raftConfig(nodeID string) *raft.Config {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(nodeID)

	// Tuned for LAN failover in a few seconds:
	// heartbeats every ~250ms, elections after 500ms of silence
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond

	return config
}

// startRaft creates the raft node with bolt-backed log and stable stores
func (m *Manager) startRaft() (*raft.Config, raft.Transport, error) {
	config := raftConfig(m.nodeID)

	addr, err := net.ResolveTCPAddr("tcp", m.bindAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve bind address: %w", err)
	}

	transport, err := raft.NewTCPTransport(m.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(m.dataDir, 2, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-log.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-stable.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stable store: %w", err)
	}

	r, err := raft.NewRaft(config, m.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create raft: %w", err)
	}
	m.raft = r

	return config, transport, nil
}

// Bootstrap initializes a new single-node Raft cluster. Restarting a node
// whose cluster already exists is not an error.
func (m *Manager) Bootstrap() error {
	config, transport, err := m.startRaft()
	if err != nil {
		return err
	}

	configuration := raft.Configuration{
		Servers: []raft.Server{
			{
				ID:      config.LocalID,
				Address: transport.LocalAddr(),
			},
		},
	}

	future := m.raft.BootstrapCluster(configuration)
	if err := future.Error(); err != nil {
		if errors.Is(err, raft.ErrCantBootstrap) {
			m.logger.Info().Msg("Existing raft state found, resuming cluster")
			return nil
		}
		return fmt.Errorf("failed to bootstrap cluster: %w", err)
	}

	m.logger.Info().Str("bind_addr", m.bindAddr).Msg("Bootstrapped new cluster")
	return nil
}

// Join starts raft without bootstrapping and asks the leader, reached through
// its HTTP API, to add this node as a voter
func (m *Manager) Join(ctx context.Context, leaderAPI, token string) error {
	if _, _, err := m.startRaft(); err != nil {
		return err
	}

	m.logger.Info().Str("leader", leaderAPI).Msg("Joining cluster")

	c, err := client.NewClient(leaderAPI)
	if err != nil {
		return fmt.Errorf("failed to connect to leader: %w", err)
	}
	defer c.Close()

	if err := c.JoinCluster(ctx, m.nodeID, m.bindAddr, token); err != nil {
		return fmt.Errorf("failed to join cluster: %w", err)
	}

	m.logger.Info().Msg("Joined cluster")
	return nil
}

// AddVoter adds a new manager node to the Raft cluster
func (m *Manager) AddVoter(nodeID, address string) error {
	if m.raft == nil {
		return errRaftNotInitialized
	}

	if !m.IsLeader() {
		return fmt.Errorf("%w, current leader: %s", ErrNotLeader, m.LeaderAddr())
	}

	future := m.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to add voter: %w", err)
	}

	m.logger.Info().Str("voter_id", nodeID).Str("address", address).Msg("Added voter")
	return nil
}

// RemoveServer removes a server from the Raft cluster
func (m *Manager) RemoveServer(nodeID string) error {
	if m.raft == nil {
		return errRaftNotInitialized
	}

	if !m.IsLeader() {
		return ErrNotLeader
	}

	future := m.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to remove server: %w", err)
	}

	return nil
}

// GetClusterServers returns all servers in the Raft configuration
func (m *Manager) GetClusterServers() ([]raft.Server, error) {
	if m.raft == nil {
		return nil, errRaftNotInitialized
	}

	future := m.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("failed to get configuration: %w", err)
	}

	return future.Configuration().Servers, nil
}

// NodeID returns this manager's raft server id
func (m *Manager) NodeID() string {
	return m.nodeID
}

// IsLeader returns true if this manager is the Raft leader
func (m *Manager) IsLeader() bool {
	if m.raft == nil {
		return false
	}
	return m.raft.State() == raft.Leader
}

// LeaderAddr returns the address of the current Raft leader
func (m *Manager) LeaderAddr() string {
	if m.raft == nil {
		return ""
	}
	return string(m.raft.Leader())
}

// GetRaftStats returns Raft statistics
func (m *Manager) GetRaftStats() map[string]interface{} {
	if m.raft == nil {
		return nil
	}

	stats := make(map[string]interface{})
	stats["state"] = m.raft.State().String()
	stats["last_log_index"] = m.raft.LastIndex()
	stats["applied_index"] = m.raft.AppliedIndex()
	stats["leader"] = string(m.raft.Leader())
	if servers, err := m.GetClusterServers(); err == nil {
		stats["peers"] = uint64(len(servers))
	}

	return stats
}

// GetEventBroker returns the event broker
func (m *Manager) GetEventBroker() *events.Broker {
	return m.eventBroker
}

// PublishEvent publishes an event to all subscribers
func (m *Manager) PublishEvent(event *events.Event) {
	if m.eventBroker != nil {
		m.eventBroker.Publish(event)
	}
}

// Apply submits a command to the Raft cluster
func (m *Manager) Apply(cmd Command) error {
	_, err := m.apply(cmd)
	return err
}

// apply submits cmd and returns the FSM's non-error response
func (m *Manager) apply(cmd Command) (interface{}, error) {
	if m.raft == nil {
		return nil, errRaftNotInitialized
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal command: %w", err)
	}

	future := m.raft.Apply(data, applyTimeout)
	if err := future.Error(); err != nil {
		if errors.Is(err, raft.ErrNotLeader) {
			return nil, fmt.Errorf("%s: %w", cmd.Op, ErrNotLeader)
		}
		return nil, fmt.Errorf("failed to apply command: %w", err)
	}

	resp := future.Response()
	if err, ok := resp.(error); ok && err != nil {
		return nil, err
	}
	return resp, nil
}

func command(op string, v interface{}) (Command, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Command{}, fmt.Errorf("failed to marshal %s: %w", op, err)
	}
	return Command{Op: op, Data: data}, nil
}

func (m *Manager) applyOp(op string, v interface{}) error {
	cmd, err := command(op, v)
	if err != nil {
		return err
	}
	return m.Apply(cmd)
}

// IDs and timestamps are fixed before a command enters the log so every
// replica stores the same record

func assignID(id *string) {
	if *id == "" {
		*id = uuid.New().String()
	}
}

func stamp(t *time.Time) {
	if t.IsZero() {
		*t = time.Now().UTC()
	}
}

// CreateLocation adds a location
func (m *Manager) CreateLocation(location *types.Location) error {
	assignID(&location.ID)
	stamp(&location.CreatedAt)
	return m.applyOp(opCreateLocation, location)
}

// CreateServer adds a server
func (m *Manager) CreateServer(server *types.Server) error {
	assignID(&server.ID)
	stamp(&server.CreatedAt)
	return m.applyOp(opCreateServer, server)
}

// CreateServerTier adds a server tier
func (m *Manager) CreateServerTier(tier *types.ServerTier) error {
	assignID(&tier.ID)
	stamp(&tier.CreatedAt)
	return m.applyOp(opCreateServerTier, tier)
}

// CreatePool validates and adds a pool
func (m *Manager) CreatePool(pool *types.Pool) error {
	if err := pool.Validate(); err != nil {
		return err
	}
	assignID(&pool.ID)
	stamp(&pool.CreatedAt)
	pool.UpdatedAt = pool.CreatedAt
	return m.applyOp(opCreatePool, pool)
}

// UpdatePool validates and replaces a pool
func (m *Manager) UpdatePool(pool *types.Pool) error {
	if err := pool.Validate(); err != nil {
		return err
	}
	pool.UpdatedAt = time.Now().UTC()
	return m.applyOp(opUpdatePool, pool)
}

// DeletePool removes a pool and its items
func (m *Manager) DeletePool(id string) error {
	return m.applyOp(opDeletePool, id)
}

// AddProject stores a project on its own
func (m *Manager) AddProject(project *types.Project) error {
	assignID(&project.ID)
	stamp(&project.CreatedAt)
	return m.applyOp(opAddProject, project)
}

// AddPoolItem stores a pool item on its own
func (m *Manager) AddPoolItem(item *types.PoolItem) error {
	assignID(&item.ID)
	stamp(&item.CreatedAt)
	return m.applyOp(opAddPoolItem, item)
}

// DeletePoolItem removes an item, taking it out of the available count, and
// announces the consumption so the pool is refilled without waiting a tick
func (m *Manager) DeletePoolItem(id string) error {
	if err := m.applyOp(opDeletePoolItem, id); err != nil {
		return err
	}
	m.PublishEvent(&events.Event{
		ID:       uuid.New().String(),
		Type:     events.EventPoolItemConsumed,
		Metadata: map[string]string{"item_id": id},
	})
	return nil
}

// CreatePooledInstance commits a project, its pool item and its outbox
// entries as one log entry
func (m *Manager) CreatePooledInstance(project *types.Project, item *types.PoolItem, entries []*types.OutboxEntry) error {
	assignID(&project.ID)
	stamp(&project.CreatedAt)
	assignID(&item.ID)
	stamp(&item.CreatedAt)
	item.ProjectID = project.ID
	for _, entry := range entries {
		assignID(&entry.ID)
		stamp(&entry.Timestamp)
		entry.ProjectID = project.ID
	}

	return m.applyOp(opCreatePooledInstance, &pooledInstance{
		Project: project,
		Item:    item,
		Entries: entries,
	})
}

// DeleteOutbox removes delivered outbox entries
func (m *Manager) DeleteOutbox(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return m.applyOp(opDeleteOutbox, ids)
}

// AcquireLease grants key to holder until expiresAt, cluster-wide
func (m *Manager) AcquireLease(key, holder string, expiresAt, now time.Time) (bool, error) {
	cmd, err := command(opAcquireLease, &leaseRequest{Key: key, Holder: holder, ExpiresAt: expiresAt, Now: now})
	if err != nil {
		return false, err
	}

	resp, err := m.apply(cmd)
	if err != nil {
		return false, err
	}
	result, ok := resp.(leaseResult)
	if !ok {
		return false, fmt.Errorf("unexpected lease response %T", resp)
	}
	return result.Acquired, result.Err
}

// ReleaseLease drops the lease if holder still owns it
func (m *Manager) ReleaseLease(key, holder string) error {
	return m.applyOp(opReleaseLease, &leaseRequest{Key: key, Holder: holder})
}

// GetLocation retrieves a location by ID (read from local store)
func (m *Manager) GetLocation(id string) (*types.Location, error) {
	return m.store.GetLocation(id)
}

// ListLocations returns all locations (read from local store)
func (m *Manager) ListLocations() ([]*types.Location, error) {
	return m.store.ListLocations()
}

// ListServers returns all servers (read from local store)
func (m *Manager) ListServers() ([]*types.Server, error) {
	return m.store.ListServers()
}

// ListServerTiers returns all server tiers (read from local store)
func (m *Manager) ListServerTiers() ([]*types.ServerTier, error) {
	return m.store.ListServerTiers()
}

// GetPool retrieves a pool by ID (read from local store)
func (m *Manager) GetPool(id string) (*types.Pool, error) {
	return m.store.GetPool(id)
}

// ListPools returns all pools with references resolved (read from local store)
func (m *Manager) ListPools() ([]*types.Pool, error) {
	return m.store.ListPools()
}

// ListPoolItems returns a pool's available items (read from local store)
func (m *Manager) ListPoolItems(poolID string) ([]*types.PoolItem, error) {
	return m.store.ListPoolItems(poolID)
}

// GetAvailableItemCount counts a pool's available items (read from local store)
func (m *Manager) GetAvailableItemCount(poolID string) (int, error) {
	return m.store.GetAvailableItemCount(poolID)
}

// GetProject retrieves a project by ID (read from local store)
func (m *Manager) GetProject(id string) (*types.Project, error) {
	return m.store.GetProject(id)
}

// ListProjects returns all projects (read from local store)
func (m *Manager) ListProjects() ([]*types.Project, error) {
	return m.store.ListProjects()
}

// ListOutbox returns pending outbox entries, oldest first (read from local store)
func (m *Manager) ListOutbox(limit int) ([]*types.OutboxEntry, error) {
	return m.store.ListOutbox(limit)
}

// GenerateJoinToken generates a new join token for adding managers
func (m *Manager) GenerateJoinToken() (*JoinToken, error) {
	if !m.IsLeader() {
		return nil, fmt.Errorf("tokens can only be generated by the leader: %w", ErrNotLeader)
	}

	m.tokenManager.CleanupExpiredTokens()

	// Token valid for 24 hours
	return m.tokenManager.GenerateToken(24 * time.Hour)
}

// ValidateJoinToken validates a join token
func (m *Manager) ValidateJoinToken(token string) error {
	return m.tokenManager.ValidateToken(token)
}

// AdmitVoter adds nodeID as a voter when token is valid. Tokens are single use.
func (m *Manager) AdmitVoter(nodeID, address, token string) error {
	if err := m.ValidateJoinToken(token); err != nil {
		return err
	}
	if err := m.AddVoter(nodeID, address); err != nil {
		return err
	}
	m.tokenManager.RevokeToken(token)
	return nil
}

// Shutdown gracefully shuts down the manager
func (m *Manager) Shutdown() error {
	if m.eventBroker != nil {
		m.eventBroker.Stop()
	}

	if m.raft != nil {
		future := m.raft.Shutdown()
		if err := future.Error(); err != nil {
			return fmt.Errorf("failed to shutdown raft: %w", err)
		}
	}

	if m.store != nil {
		if err := m.store.Close(); err != nil {
			return fmt.Errorf("failed to close store: %w", err)
		}
	}

	return nil
}
