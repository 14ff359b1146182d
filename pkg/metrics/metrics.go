package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Pool state metrics
	PoolsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_pools_total",
			Help: "Total number of configured pools",
		},
	)

	PoolAvailableItems = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "burrow_pool_available_items",
			Help: "Available warm items per pool",
		},
		[]string{"pool_id", "project_type"},
	)

	PoolTargetItems = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "burrow_pool_target_items",
			Help: "Target warm items per pool",
		},
		[]string{"pool_id", "project_type"},
	)

	ProjectsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "burrow_projects_total",
			Help: "Total number of projects by state",
		},
		[]string{"state"},
	)

	OutboxPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_outbox_pending",
			Help: "Outbox entries waiting to be relayed",
		},
	)

	// Raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_raft_peers_total",
			Help: "Total number of Raft peers in the cluster",
		},
	)

	RaftLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_raft_log_index",
			Help: "Current Raft log index",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_api_requests_total",
			Help: "Total number of API requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burrow_api_request_duration_seconds",
			Help:    "API request duration in seconds by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	APIRateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_api_rate_limited_total",
			Help: "Mutating API requests rejected by the per-client rate limit",
		},
	)

	// Reconciler metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "burrow_reconciliation_duration_seconds",
			Help:    "Time taken by one pool reconciliation cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles",
		},
	)

	PoolErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_pool_errors_total",
			Help: "Pools whose processing failed during a cycle",
		},
	)

	// Provisioning metrics
	InstancesProvisioned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_instances_provisioned_total",
			Help: "Warm instances created by project type",
		},
		[]string{"project_type"},
	)

	InstancesFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_instances_failed_total",
			Help: "Failed warm instance creations by project type",
		},
		[]string{"project_type"},
	)

	ProvisioningLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burrow_provisioning_latency_seconds",
			Help:    "Time taken to create one warm instance in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"project_type"},
	)

	// Event metrics
	EventsRelayed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_events_relayed_total",
			Help: "Outbox entries published to the event broker by type",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(PoolsTotal)
	prometheus.MustRegister(PoolAvailableItems)
	prometheus.MustRegister(PoolTargetItems)
	prometheus.MustRegister(ProjectsTotal)
	prometheus.MustRegister(OutboxPending)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftPeers)
	prometheus.MustRegister(RaftLogIndex)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(APIRateLimited)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(PoolErrorsTotal)
	prometheus.MustRegister(InstancesProvisioned)
	prometheus.MustRegister(InstancesFailed)
	prometheus.MustRegister(ProvisioningLatency)
	prometheus.MustRegister(EventsRelayed)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
