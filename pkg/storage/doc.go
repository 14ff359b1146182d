/*
Package storage provides BoltDB-backed persistence for Burrow's pool state.

Every record is JSON-encoded into its own bucket, keyed by ID:

	locations      (Location ID)
	servers        (Server ID)
	server_tiers   (ServerTier ID)
	pools          (Pool ID)
	pool_items     (PoolItem ID)
	projects       (Project ID)
	outbox         (<unix nanos>-<entry ID>, ordered by commit time)
	leases         (lease key)

# Pooled instance writes

CreatePooledInstance writes a project, the pool item that makes it available
and the outbox entries announcing it inside one bbolt transaction. A failed
write leaves no project behind, and the reconciler never counts a pool item
whose project does not exist.

AddProject and AddPoolItem remain available as individual writes for callers
that manage their own consistency.

# Leases

AcquireLease is a compare-and-set on the leases bucket: the key is granted
when no lease exists, the existing lease has expired, or the caller already
holds it. The reconciler keys leases by pool ID so that overlapping cycles
never fill the same pool at once.

# Errors

Lookups of missing records wrap ErrNotFound:

	if _, err := store.GetPool(id); errors.Is(err, storage.ErrNotFound) {
		...
	}
*/
package storage
