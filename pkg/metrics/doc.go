/*
Package metrics provides Prometheus metrics and health reporting for Burrow.

All metrics are registered with the default Prometheus registry at package
init and exposed by Handler on /metrics.

Pool state:
  - burrow_pools_total
  - burrow_pool_available_items{pool_id, project_type}
  - burrow_pool_target_items{pool_id, project_type}
  - burrow_projects_total{state}
  - burrow_outbox_pending

Reconciler and provisioning:
  - burrow_reconciliation_duration_seconds
  - burrow_reconciliation_cycles_total
  - burrow_pool_errors_total
  - burrow_instances_provisioned_total{project_type}
  - burrow_instances_failed_total{project_type}
  - burrow_provisioning_latency_seconds{project_type}

Raft, API and events:
  - burrow_raft_is_leader, burrow_raft_peers_total
  - burrow_raft_log_index, burrow_raft_applied_index
  - burrow_api_requests_total{method, status}
  - burrow_api_request_duration_seconds{route}
  - burrow_events_relayed_total{type}

# Timer

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconciliationDuration)

	timer := metrics.NewTimer()
	...
	timer.ObserveDurationVec(metrics.ProvisioningLatency, string(pool.ProjectType))

# Health

Components report their state with SetComponent, passing nil when healthy
and the failure otherwise. The collector reports raft and store, the API
server reports api, and the reconciler reports itself on Start, Stop and
after every cycle.

A Registry is created with the components its readiness waits on. The
process-wide registry waits on raft, store and api, so a failing reconciler
marks the node unhealthy without taking it out of rotation.
HealthHandler, ReadyHandler and LivenessHandler serve the results as JSON.
*/
package metrics
