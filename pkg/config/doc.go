/*
Package config loads the burrow server configuration from YAML.

	nodeID: burrow-1
	bindAddr: 127.0.0.1:7946     # raft
	apiAddr: 127.0.0.1:8080      # HTTP API
	healthAddr: 127.0.0.1:9090   # gRPC health
	dataDir: ./burrow-data
	reconciler:
	  interval: 30s
	  leaseTTL: 2m
	  maxConcurrentProvisions: 0 # 0 = unbounded
	events:
	  pollInterval: 1s
	  batchSize: 100
	api:
	  rateLimit: 10              # writes/s per client, 0 = off
	  rateBurst: 20
	log:
	  level: info
	  json: false
	variants:
	  container:
	    template: https://github.com/acme/container-app.git
	    defaultName: container-app

Every field is optional; missing fields keep the values from Default.
Command-line flags override the file.
*/
package config
