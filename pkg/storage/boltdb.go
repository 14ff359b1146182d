package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cuemby/burrow/pkg/types"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
	bolterrors "go.etcd.io/bbolt/errors"
)

var (
	// Bucket names
	bucketLocations   = []byte("locations")
	bucketServers     = []byte("servers")
	bucketServerTiers = []byte("server_tiers")
	bucketPools       = []byte("pools")
	bucketPoolItems   = []byte("pool_items")
	bucketProjects    = []byte("projects")
	bucketOutbox      = []byte("outbox")
	bucketLeases      = []byte("leases")

	allBuckets = [][]byte{
		bucketLocations,
		bucketServers,
		bucketServerTiers,
		bucketPools,
		bucketPoolItems,
		bucketProjects,
		bucketOutbox,
		bucketLeases,
	}
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "burrow.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func put(tx *bolt.Tx, bucket []byte, id string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return tx.Bucket(bucket).Put([]byte(id), data)
}

func get(tx *bolt.Tx, bucket []byte, kind, id string, v interface{}) error {
	data := tx.Bucket(bucket).Get([]byte(id))
	if data == nil {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return json.Unmarshal(data, v)
}

func ensureID(id *string) {
	if *id == "" {
		*id = uuid.New().String()
	}
}

// Location operations
func (s *BoltStore) CreateLocation(location *types.Location) error {
	ensureID(&location.ID)
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketLocations, location.ID, location)
	})
}

func (s *BoltStore) GetLocation(id string) (*types.Location, error) {
	var location types.Location
	err := s.db.View(func(tx *bolt.Tx) error {
		return get(tx, bucketLocations, "location", id, &location)
	})
	if err != nil {
		return nil, err
	}
	return &location, nil
}

func (s *BoltStore) ListLocations() ([]*types.Location, error) {
	var locations []*types.Location
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLocations).ForEach(func(k, v []byte) error {
			var location types.Location
			if err := json.Unmarshal(v, &location); err != nil {
				return err
			}
			locations = append(locations, &location)
			return nil
		})
	})
	return locations, err
}

// Server operations
func (s *BoltStore) CreateServer(server *types.Server) error {
	ensureID(&server.ID)
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketServers, server.ID, server)
	})
}

func (s *BoltStore) GetServer(id string) (*types.Server, error) {
	var server types.Server
	err := s.db.View(func(tx *bolt.Tx) error {
		return get(tx, bucketServers, "server", id, &server)
	})
	if err != nil {
		return nil, err
	}
	return &server, nil
}

func (s *BoltStore) ListServers() ([]*types.Server, error) {
	var servers []*types.Server
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketServers).ForEach(func(k, v []byte) error {
			var server types.Server
			if err := json.Unmarshal(v, &server); err != nil {
				return err
			}
			servers = append(servers, &server)
			return nil
		})
	})
	return servers, err
}

// Server tier operations
func (s *BoltStore) CreateServerTier(tier *types.ServerTier) error {
	ensureID(&tier.ID)
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketServerTiers, tier.ID, tier)
	})
}

func (s *BoltStore) GetServerTier(id string) (*types.ServerTier, error) {
	var tier types.ServerTier
	err := s.db.View(func(tx *bolt.Tx) error {
		return get(tx, bucketServerTiers, "server tier", id, &tier)
	})
	if err != nil {
		return nil, err
	}
	return &tier, nil
}

func (s *BoltStore) ListServerTiers() ([]*types.ServerTier, error) {
	var tiers []*types.ServerTier
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketServerTiers).ForEach(func(k, v []byte) error {
			var tier types.ServerTier
			if err := json.Unmarshal(v, &tier); err != nil {
				return err
			}
			tiers = append(tiers, &tier)
			return nil
		})
	})
	return tiers, err
}

// Pool operations
func (s *BoltStore) CreatePool(pool *types.Pool) error {
	ensureID(&pool.ID)
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketPools, pool.ID, pool)
	})
}

func (s *BoltStore) GetPool(id string) (*types.Pool, error) {
	var pool types.Pool
	err := s.db.View(func(tx *bolt.Tx) error {
		if err := get(tx, bucketPools, "pool", id, &pool); err != nil {
			return err
		}
		resolvePool(tx, &pool)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &pool, nil
}

// ListPools returns all pools with their server, location and tier resolved
func (s *BoltStore) ListPools() ([]*types.Pool, error) {
	var pools []*types.Pool
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPools).ForEach(func(k, v []byte) error {
			var pool types.Pool
			if err := json.Unmarshal(v, &pool); err != nil {
				return err
			}
			resolvePool(tx, &pool)
			pools = append(pools, &pool)
			return nil
		})
	})
	return pools, err
}

// resolvePool fills in the pool's references. Dangling references are left
// nil; the provisioner factory reports them.
func resolvePool(tx *bolt.Tx, pool *types.Pool) {
	if pool.ServerID != "" {
		var server types.Server
		if err := get(tx, bucketServers, "server", pool.ServerID, &server); err == nil {
			pool.Server = &server
		}
	}
	if locationID := pool.EffectiveLocationID(); locationID != "" {
		var location types.Location
		if err := get(tx, bucketLocations, "location", locationID, &location); err == nil {
			pool.Location = &location
		}
	}
	if pool.ServerTierID != "" {
		var tier types.ServerTier
		if err := get(tx, bucketServerTiers, "server tier", pool.ServerTierID, &tier); err == nil {
			pool.ServerTier = &tier
		}
	}
}

func (s *BoltStore) UpdatePool(pool *types.Pool) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketPools).Get([]byte(pool.ID)) == nil {
			return fmt.Errorf("pool %s: %w", pool.ID, ErrNotFound)
		}
		return put(tx, bucketPools, pool.ID, pool)
	})
}

// DeletePool removes the pool and its items. Pooled projects are left in
// place for the allocation flow to clean up.
func (s *BoltStore) DeletePool(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		items := tx.Bucket(bucketPoolItems)
		var stale [][]byte
		err := items.ForEach(func(k, v []byte) error {
			var item types.PoolItem
			if err := json.Unmarshal(v, &item); err != nil {
				return err
			}
			if item.PoolID == id {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := items.Delete(k); err != nil {
				return err
			}
		}
		return tx.Bucket(bucketPools).Delete([]byte(id))
	})
}

// Pool item operations
func (s *BoltStore) AddPoolItem(item *types.PoolItem) error {
	ensureID(&item.ID)
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketPoolItems, item.ID, item)
	})
}

func (s *BoltStore) ListPoolItems(poolID string) ([]*types.PoolItem, error) {
	var items []*types.PoolItem
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPoolItems).ForEach(func(k, v []byte) error {
			var item types.PoolItem
			if err := json.Unmarshal(v, &item); err != nil {
				return err
			}
			if item.PoolID == poolID {
				items = append(items, &item)
			}
			return nil
		})
	})
	return items, err
}

func (s *BoltStore) GetAvailableItemCount(poolID string) (int, error) {
	items, err := s.ListPoolItems(poolID)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

func (s *BoltStore) DeletePoolItem(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPoolItems)
		if b.Get([]byte(id)) == nil {
			return fmt.Errorf("pool item %s: %w", id, ErrNotFound)
		}
		return b.Delete([]byte(id))
	})
}

// Project operations
func (s *BoltStore) AddProject(project *types.Project) error {
	ensureID(&project.ID)
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketProjects, project.ID, project)
	})
}

func (s *BoltStore) GetProject(id string) (*types.Project, error) {
	var project types.Project
	err := s.db.View(func(tx *bolt.Tx) error {
		return get(tx, bucketProjects, "project", id, &project)
	})
	if err != nil {
		return nil, err
	}
	return &project, nil
}

func (s *BoltStore) ListProjects() ([]*types.Project, error) {
	var projects []*types.Project
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProjects).ForEach(func(k, v []byte) error {
			var project types.Project
			if err := json.Unmarshal(v, &project); err != nil {
				return err
			}
			projects = append(projects, &project)
			return nil
		})
	})
	return projects, err
}

// CreatePooledInstance writes the project, the item linking it to its pool
// and the outbox entries in a single transaction
func (s *BoltStore) CreatePooledInstance(project *types.Project, item *types.PoolItem, entries []*types.OutboxEntry) error {
	ensureID(&project.ID)
	ensureID(&item.ID)
	item.ProjectID = project.ID
	for _, entry := range entries {
		ensureID(&entry.ID)
		entry.ProjectID = project.ID
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketPools).Get([]byte(item.PoolID)) == nil {
			return fmt.Errorf("pool %s: %w", item.PoolID, ErrNotFound)
		}
		if err := put(tx, bucketProjects, project.ID, project); err != nil {
			return fmt.Errorf("failed to write project: %w", err)
		}
		if err := put(tx, bucketPoolItems, item.ID, item); err != nil {
			return fmt.Errorf("failed to write pool item: %w", err)
		}
		for _, entry := range entries {
			if err := put(tx, bucketOutbox, outboxKey(entry), entry); err != nil {
				return fmt.Errorf("failed to write outbox entry: %w", err)
			}
		}
		return nil
	})
}

// outboxKey orders entries by timestamp so the relay publishes in commit order
func outboxKey(entry *types.OutboxEntry) string {
	return fmt.Sprintf("%020d-%s", entry.Timestamp.UnixNano(), entry.ID)
}

// Outbox operations
func (s *BoltStore) ListOutbox(limit int) ([]*types.OutboxEntry, error) {
	var entries []*types.OutboxEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketOutbox).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if limit > 0 && len(entries) >= limit {
				break
			}
			var entry types.OutboxEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, &entry)
		}
		return nil
	})
	return entries, err
}

func (s *BoltStore) DeleteOutbox(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	remove := make(map[string]bool, len(ids))
	for _, id := range ids {
		remove[id] = true
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOutbox)
		var keys [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var entry types.OutboxEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			if remove[entry.ID] {
				keys = append(keys, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// Replace drops every bucket, leases included, and writes state in the
// same transaction. A failed write leaves the previous contents in place.
func (s *BoltStore) Replace(state *State) error {
	for _, entry := range state.Outbox {
		ensureID(&entry.ID)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range allBuckets {
			if err := tx.DeleteBucket(bucket); err != nil && !errors.Is(err, bolterrors.ErrBucketNotFound) {
				return fmt.Errorf("failed to drop bucket %s: %w", bucket, err)
			}
			if _, err := tx.CreateBucket(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}

		for _, location := range state.Locations {
			if err := put(tx, bucketLocations, location.ID, location); err != nil {
				return err
			}
		}
		for _, server := range state.Servers {
			if err := put(tx, bucketServers, server.ID, server); err != nil {
				return err
			}
		}
		for _, tier := range state.ServerTiers {
			if err := put(tx, bucketServerTiers, tier.ID, tier); err != nil {
				return err
			}
		}
		for _, pool := range state.Pools {
			if err := put(tx, bucketPools, pool.ID, pool); err != nil {
				return err
			}
		}
		for _, project := range state.Projects {
			if err := put(tx, bucketProjects, project.ID, project); err != nil {
				return err
			}
		}
		for _, item := range state.PoolItems {
			if err := put(tx, bucketPoolItems, item.ID, item); err != nil {
				return err
			}
		}
		for _, entry := range state.Outbox {
			if err := put(tx, bucketOutbox, outboxKey(entry), entry); err != nil {
				return err
			}
		}
		return nil
	})
}

// Lease operations

// AcquireLease grants key to holder until expiresAt when the key is free,
// expired, or already held by holder
func (s *BoltStore) AcquireLease(key, holder string, expiresAt, now time.Time) (bool, error) {
	acquired := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		var current types.Lease
		err := get(tx, bucketLeases, "lease", key, &current)
		if err == nil && current.Holder != holder && !current.Expired(now) {
			return nil
		}
		acquired = true
		return put(tx, bucketLeases, key, &types.Lease{Key: key, Holder: holder, ExpiresAt: expiresAt})
	})
	return acquired, err
}

// ReleaseLease drops the lease if holder still owns it
func (s *BoltStore) ReleaseLease(key, holder string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var current types.Lease
		if err := get(tx, bucketLeases, "lease", key, &current); err != nil {
			return nil
		}
		if current.Holder != holder {
			return nil
		}
		return tx.Bucket(bucketLeases).Delete([]byte(key))
	})
}
