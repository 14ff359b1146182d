/*
Package types defines the data model shared by every Burrow package.

# Pools

A Pool is a configured target of warm projects for one server tier, location
and project type. Pool identity is a surrogate ID; the (tier, location, type)
triple is what makes two pools different in practice.

	Pool (target=3, tier=small, location=fra1, type=container)
	 ├── PoolItem ──► Project (stopped, unowned)
	 ├── PoolItem ──► Project (stopped, unowned)
	 └── (missing)   reconciler creates one more

A PoolItem references exactly one pool and exactly one project. Items are
created by the provisioner and consumed once by the allocation flow that hands
the project to a user.

# Location derivation

Pools may name their location directly or through an associated Server.
EffectiveLocationID resolves the two; list operations populate the Server,
Location and ServerTier pointers so callers never need another lookup.

# Signals

OutboxEntry values are written in the same transaction as the project they
describe and relayed to the event broker afterwards. EventProjectCreated is
emitted for every pooled project; container projects additionally emit
EventContainerProjectCreated, which downstream handlers use to run the first
deployment and open a billing subscription.
*/
package types
