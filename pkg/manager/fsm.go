package manager

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/hashicorp/raft"
)

// Command ops
const (
	opCreateLocation       = "create_location"
	opCreateServer         = "create_server"
	opCreateServerTier     = "create_server_tier"
	opCreatePool           = "create_pool"
	opUpdatePool           = "update_pool"
	opDeletePool           = "delete_pool"
	opAddProject           = "add_project"
	opAddPoolItem          = "add_pool_item"
	opDeletePoolItem       = "delete_pool_item"
	opCreatePooledInstance = "create_pooled_instance"
	opDeleteOutbox         = "delete_outbox"
	opAcquireLease         = "acquire_lease"
	opReleaseLease         = "release_lease"
)

// BurrowFSM implements the Raft Finite State Machine for pool state.
// It applies log entries to the bolt store and handles snapshots.
type BurrowFSM struct {
	mu    sync.RWMutex
	store storage.Store
}

// NewBurrowFSM creates a new FSM instance
func NewBurrowFSM(store storage.Store) *BurrowFSM {
	return &BurrowFSM{
		store: store,
	}
}

// Command represents a state change operation in the Raft log
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

// pooledInstance is the payload of create_pooled_instance
type pooledInstance struct {
	Project *types.Project       `json:"project"`
	Item    *types.PoolItem      `json:"item"`
	Entries []*types.OutboxEntry `json:"entries"`
}

// leaseRequest carries the caller's clock so every replica decides the same way
type leaseRequest struct {
	Key       string    `json:"key"`
	Holder    string    `json:"holder"`
	ExpiresAt time.Time `json:"expires_at"`
	Now       time.Time `json:"now"`
}

// leaseResult is returned by Apply for acquire_lease
type leaseResult struct {
	Acquired bool
	Err      error
}

// Apply applies a Raft log entry to the FSM.
// This is called by Raft when a log entry is committed.
func (f *BurrowFSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("failed to unmarshal command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case opCreateLocation:
		var location types.Location
		if err := json.Unmarshal(cmd.Data, &location); err != nil {
			return err
		}
		return f.store.CreateLocation(&location)

	case opCreateServer:
		var server types.Server
		if err := json.Unmarshal(cmd.Data, &server); err != nil {
			return err
		}
		return f.store.CreateServer(&server)

	case opCreateServerTier:
		var tier types.ServerTier
		if err := json.Unmarshal(cmd.Data, &tier); err != nil {
			return err
		}
		return f.store.CreateServerTier(&tier)

	// Pool operations
	case opCreatePool:
		var pool types.Pool
		if err := json.Unmarshal(cmd.Data, &pool); err != nil {
			return err
		}
		return f.store.CreatePool(&pool)

	case opUpdatePool:
		var pool types.Pool
		if err := json.Unmarshal(cmd.Data, &pool); err != nil {
			return err
		}
		return f.store.UpdatePool(&pool)

	case opDeletePool:
		var poolID string
		if err := json.Unmarshal(cmd.Data, &poolID); err != nil {
			return err
		}
		return f.store.DeletePool(poolID)

	// Projects and pool items
	case opAddProject:
		var project types.Project
		if err := json.Unmarshal(cmd.Data, &project); err != nil {
			return err
		}
		return f.store.AddProject(&project)

	case opAddPoolItem:
		var item types.PoolItem
		if err := json.Unmarshal(cmd.Data, &item); err != nil {
			return err
		}
		return f.store.AddPoolItem(&item)

	case opDeletePoolItem:
		var itemID string
		if err := json.Unmarshal(cmd.Data, &itemID); err != nil {
			return err
		}
		return f.store.DeletePoolItem(itemID)

	case opCreatePooledInstance:
		var p pooledInstance
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return err
		}
		if p.Project == nil || p.Item == nil {
			return fmt.Errorf("pooled instance without project or item")
		}
		return f.store.CreatePooledInstance(p.Project, p.Item, p.Entries)

	// Outbox
	case opDeleteOutbox:
		var ids []string
		if err := json.Unmarshal(cmd.Data, &ids); err != nil {
			return err
		}
		return f.store.DeleteOutbox(ids)

	// Leases
	case opAcquireLease:
		var req leaseRequest
		if err := json.Unmarshal(cmd.Data, &req); err != nil {
			return err
		}
		acquired, err := f.store.AcquireLease(req.Key, req.Holder, req.ExpiresAt, req.Now)
		return leaseResult{Acquired: acquired, Err: err}

	case opReleaseLease:
		var req leaseRequest
		if err := json.Unmarshal(cmd.Data, &req); err != nil {
			return err
		}
		return f.store.ReleaseLease(req.Key, req.Holder)

	default:
		return fmt.Errorf("unknown command: %s", cmd.Op)
	}
}

// Snapshot creates a point-in-time snapshot of the FSM.
// Leases are left out: they are short-lived and expire on their own.
func (f *BurrowFSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	locations, err := f.store.ListLocations()
	if err != nil {
		return nil, fmt.Errorf("failed to list locations: %w", err)
	}

	servers, err := f.store.ListServers()
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}

	tiers, err := f.store.ListServerTiers()
	if err != nil {
		return nil, fmt.Errorf("failed to list server tiers: %w", err)
	}

	pools, err := f.store.ListPools()
	if err != nil {
		return nil, fmt.Errorf("failed to list pools: %w", err)
	}

	var items []*types.PoolItem
	for _, pool := range pools {
		poolItems, err := f.store.ListPoolItems(pool.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list items of pool %s: %w", pool.ID, err)
		}
		items = append(items, poolItems...)
	}

	projects, err := f.store.ListProjects()
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}

	outbox, err := f.store.ListOutbox(0)
	if err != nil {
		return nil, fmt.Errorf("failed to list outbox: %w", err)
	}

	return &BurrowSnapshot{State: storage.State{
		Locations:   locations,
		Servers:     servers,
		ServerTiers: tiers,
		Pools:       pools,
		PoolItems:   items,
		Projects:    projects,
		Outbox:      outbox,
	}}, nil
}

// Restore replaces the FSM state with a snapshot.
// This is called when a node restarts or falls behind the leader's log, so
// anything the node holds that the snapshot does not is dropped.
func (f *BurrowFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snapshot BurrowSnapshot
	if err := json.NewDecoder(rc).Decode(&snapshot); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.store.Replace(&snapshot.State); err != nil {
		return fmt.Errorf("failed to restore snapshot: %w", err)
	}
	return nil
}

// BurrowSnapshot represents a point-in-time snapshot of pool state
type BurrowSnapshot struct {
	storage.State
}

// Persist writes the snapshot to the given SnapshotSink
func (s *BurrowSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()

	if err != nil {
		sink.Cancel()
	}

	return err
}

// Release releases the snapshot resources
func (s *BurrowSnapshot) Release() {}
