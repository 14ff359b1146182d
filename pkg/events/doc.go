/*
Package events distributes Burrow's domain signals.

Signals are never published straight from the code that creates a project.
The provisioner writes them as outbox entries in the same transaction as the
project and pool item; the Relay later reads committed entries, publishes them
to the Broker, and deletes them:

	provisioner ──tx──► projects + pool_items + outbox
	                                     │
	                             Relay.Drain()
	                                     │
	                                     ▼
	                      Broker ──► subscribers (deployments, billing, logs)

Delivery is at-least-once. Broker.Publish hands an event to every
subscriber's buffered channel without blocking and reports whether all of
them took it. A stopped broker, a broker with no subscribers, or a full
subscriber buffer makes Publish return false; the Relay then keeps that
entry and everything after it for the next pass, so an entry leaves the
outbox only once it reached the subscribers.

Relay.Stop waits for a drain in progress, so callers can stop the relay
before the broker and store go away.
*/
package events
