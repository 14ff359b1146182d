/*
Package reconciler keeps every warm pool topped up to its target count.

Each cycle lists all pools, counts the pool items still available for
allocation and creates the missing instances through the provisioner chosen
for the pool's project type.

# Architecture

	┌────────────────────────────────────────────────────────────┐
	│               Reconciliation Cycle                         │
	│      (interval tick, Trigger, or RunReconciliationCycle)   │
	└────────────────┬───────────────────────────────────────────┘
	                 │ ListPools
	    ┌────────────┼────────────┐
	    ▼            ▼            ▼
	 pool A       pool B       pool C        one goroutine per pool
	    │
	    ├─ AcquireLease("pool/A")            skip if held elsewhere
	    ├─ GetAvailableItemCount
	    ├─ count >= target → done
	    └─ deficit = target - count
	         │
	    ┌────┼────┐
	    ▼    ▼    ▼
	 CreateNewInstance × deficit             errgroup, optional limit

Pools and instances are independent. A failing or panicking instance is
logged and counted, and the pool's other creates still complete. A pool
whose count, lease or factory lookup fails is logged with its pool_id and
the remaining pools are unaffected. The cycle itself never returns an error;
the returned CycleResult carries the tallies.

# Leases

Before touching a pool the reconciler takes a lease keyed "pool/<id>" with
a TTL of Config.LeaseTTL. The holder is "<node>/<cycle uuid>", so two
overlapping cycles, on one node or on several, never fill the same pool at
the same time. An expired lease may be taken over, which bounds the damage
of a node that died mid-cycle.

Within a process, concurrent calls to RunReconciliationCycle share the
in-flight cycle.

# Scheduling

	r := reconciler.NewReconciler(store, factory, reconciler.Config{
		Interval: 30 * time.Second,
		IsLeader: mgr.IsLeader,
		Publisher: broker,
	})
	r.Start()
	defer r.Stop()

	r.Trigger() // out-of-band cycle, merged with any pending trigger

	go r.TriggerOn(broker.Subscribe()) // trigger on every consumed pool item

Scheduled and triggered cycles only run when IsLeader reports true. Stop
waits for the running cycle to finish; it does not cancel it.

The reconciler reports itself to the metrics health registry as the
"reconciler" component: healthy on Start and after a cycle that could list
pools, unhealthy when listing fails or after Stop.
*/
package reconciler
