/*
Package manager replicates burrow's pool state with Raft.

A Manager wraps a hashicorp/raft node whose FSM writes the local bolt store.
Every mutation is encoded as a Command and applied through the log; reads go
straight to the local store, so followers may serve slightly stale data.

# Architecture

	┌──────────────────────── Manager ───────────────────────────┐
	│                                                            │
	│   CreatePool / CreatePooledInstance / AcquireLease / ...   │
	│                        │                                   │
	│                        ▼                                   │
	│              Command{Op, Data} (JSON)                      │
	│                        │ raft.Apply                        │
	│                        ▼                                   │
	│   ┌─────────────┐   ┌────────────┐   ┌─────────────────┐   │
	│   │  raft log   │──▶│ BurrowFSM  │──▶│  storage.Store  │   │
	│   │ (raft-boltdb)│  └────────────┘   │   (bbolt)       │   │
	│   └─────────────┘                    └─────────────────┘   │
	│                                                            │
	│   Broker ◀── PublishEvent                                  │
	└────────────────────────────────────────────────────────────┘

IDs and timestamps are assigned before a command is submitted, so every
replica stores byte-identical records. Lease commands carry the caller's
clock for the same reason; AcquireLease returns the FSM's decision.

# Cluster Membership

The first node calls Bootstrap. Further managers call Join with a token
issued by the leader:

	// on the leader
	jt, _ := mgr.GenerateJoinToken()

	// on the new node
	err := mgr.Join(ctx, "leader:8080", jt.Token)

Join posts to the leader's HTTP API, which validates the token and adds the
node as a voter. Tokens are single use and expire after 24 hours.

Only the leader accepts writes. Writes on a follower fail with ErrNotLeader,
and the reconciler only runs cycles while IsLeader reports true.

# Snapshots

Snapshots contain locations, servers, tiers, pools, pool items, projects
and pending outbox entries. Leases are not included; they expire on their
own after a restore.
*/
package manager
