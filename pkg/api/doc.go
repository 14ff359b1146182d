/*
Package api implements burrow's HTTP API and gRPC health endpoint.

The HTTP API is a chi router in front of the manager. Reads are served from
the local replica; writes go through raft and are only accepted by the
leader, followers answer 503 with an X-Burrow-Leader header.

# Routes

	GET    /health                 liveness
	GET    /ready                  raft leader known and store readable
	GET    /healthz /readyz /livez component health registry
	GET    /metrics                Prometheus metrics

	POST   /v1/reconcile           trigger a cycle, 202 with no body
	GET    /v1/pools               pools with their available count
	POST   /v1/pools               create a pool
	GET    /v1/pools/{id}          one pool
	DELETE /v1/pools/{id}          delete a pool and its items
	GET    /v1/pools/{id}/items    available items
	POST   /v1/locations           create a location
	POST   /v1/servers             create a server
	POST   /v1/tiers               create a server tier
	GET    /v1/cluster             raft stats and voters
	POST   /v1/cluster/tokens      issue a join token
	POST   /v1/cluster/join        add a voter

Errors are JSON objects with a single "error" field. Invalid pools map to
400, storage.ErrNotFound to 404, bad join tokens to 403 and
manager.ErrNotLeader to 503.

SetRateLimit caps mutating requests per client IP; a client over its budget
gets 429 with Retry-After.

# gRPC Health

HealthService serves grpc.health.v1.Health on its own address. The service
"burrow.reconciler" and the overall status "" report SERVING while the
reconciliation loop runs:

	burrow status --health-addr localhost:9090
*/
package api
