package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/manager"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/raft"
	"github.com/rs/zerolog"
)

// Backend is the control plane the API serves
type Backend interface {
	NodeID() string
	IsLeader() bool
	LeaderAddr() string
	GetRaftStats() map[string]interface{}
	GetClusterServers() ([]raft.Server, error)

	CreateLocation(location *types.Location) error
	CreateServer(server *types.Server) error
	CreateServerTier(tier *types.ServerTier) error

	CreatePool(pool *types.Pool) error
	GetPool(id string) (*types.Pool, error)
	ListPools() ([]*types.Pool, error)
	DeletePool(id string) error
	ListPoolItems(poolID string) ([]*types.PoolItem, error)
	GetAvailableItemCount(poolID string) (int, error)
	DeletePoolItem(id string) error

	GenerateJoinToken() (*manager.JoinToken, error)
	AdmitVoter(nodeID, address, token string) error
}

// Trigger requests an out-of-band reconciliation cycle
type Trigger interface {
	Trigger()
}

// Server serves the burrow HTTP API
type Server struct {
	backend Backend
	trigger Trigger
	router  chi.Router
	http    *http.Server
	limiter *writeLimiter
	logger  zerolog.Logger
}

// NewServer creates the API server and its routes
func NewServer(backend Backend, trigger Trigger) *Server {
	s := &Server{
		backend: backend,
		trigger: trigger,
		router:  chi.NewRouter(),
		limiter: newWriteLimiter(),
		logger:  log.WithComponent("api"),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(requestMetrics)

	r.Get("/health", s.healthHandler)
	r.Get("/ready", s.readyHandler)
	r.Get("/healthz", metrics.HealthHandler())
	r.Get("/readyz", metrics.ReadyHandler())
	r.Get("/livez", metrics.LivenessHandler())
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(leaderOnlyWrites(s.backend))
		r.Use(s.rateLimitWrites)

		r.Post("/reconcile", s.reconcile)

		r.Get("/pools", s.listPools)
		r.Post("/pools", s.createPool)
		r.Get("/pools/{id}", s.getPool)
		r.Delete("/pools/{id}", s.deletePool)
		r.Get("/pools/{id}/items", s.listPoolItems)
		r.Delete("/pools/{id}/items/{itemID}", s.consumePoolItem)

		r.Post("/locations", s.createLocation)
		r.Post("/servers", s.createServer)
		r.Post("/tiers", s.createServerTier)

		r.Get("/cluster", s.clusterInfo)
		r.Post("/cluster/tokens", s.createJoinToken)
		r.Post("/cluster/join", s.joinCluster)
	})
}

// Handler returns the router for embedding in other servers and tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves the API on addr until Shutdown
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("HTTP API listening")
	metrics.SetComponent(metrics.ComponentAPI, nil)

	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		metrics.SetComponent(metrics.ComponentAPI, err)
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// PoolStatus is a pool together with its current available count and the
// location it places projects in, resolved through its server when the pool
// names none
type PoolStatus struct {
	*types.Pool
	Available           int
	EffectiveLocationID string
}

func newPoolStatus(pool *types.Pool, available int) PoolStatus {
	return PoolStatus{Pool: pool, Available: available, EffectiveLocationID: pool.EffectiveLocationID()}
}

// ClusterInfo describes the raft cluster as seen by this node
type ClusterInfo struct {
	NodeID   string                 `json:"node_id"`
	Leader   string                 `json:"leader"`
	IsLeader bool                   `json:"is_leader"`
	Stats    map[string]interface{} `json:"stats"`
	Servers  []ClusterServer        `json:"servers"`
}

// ClusterServer is one raft voter
type ClusterServer struct {
	ID       string `json:"id"`
	Address  string `json:"address"`
	Suffrage string `json:"suffrage"`
}

// JoinRequest asks the leader to add a manager as a voter
type JoinRequest struct {
	NodeID  string `json:"node_id"`
	Address string `json:"address"`
	Token   string `json:"token"`
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) reconcile(w http.ResponseWriter, r *http.Request) {
	s.trigger.Trigger()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) listPools(w http.ResponseWriter, r *http.Request) {
	pools, err := s.backend.ListPools()
	if err != nil {
		s.writeError(w, err)
		return
	}

	statuses := make([]PoolStatus, 0, len(pools))
	for _, pool := range pools {
		count, err := s.backend.GetAvailableItemCount(pool.ID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		statuses = append(statuses, newPoolStatus(pool, count))
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (s *Server) createPool(w http.ResponseWriter, r *http.Request) {
	var pool types.Pool
	if !s.decode(w, r, &pool) {
		return
	}
	if err := s.backend.CreatePool(&pool); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info().Str("pool_id", pool.ID).Int("target", pool.TargetCount).Msg("Pool created")
	s.trigger.Trigger()
	writeJSON(w, http.StatusCreated, &pool)
}

func (s *Server) getPool(w http.ResponseWriter, r *http.Request) {
	pool, err := s.backend.GetPool(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	count, err := s.backend.GetAvailableItemCount(pool.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newPoolStatus(pool, count))
}

func (s *Server) deletePool(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.backend.GetPool(id); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.backend.DeletePool(id); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info().Str("pool_id", id).Msg("Pool deleted")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listPoolItems(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.backend.GetPool(id); err != nil {
		s.writeError(w, err)
		return
	}
	items, err := s.backend.ListPoolItems(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if items == nil {
		items = []*types.PoolItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

// consumePoolItem hands an available item out of its pool. The backend
// announces the consumption, which schedules a refill.
func (s *Server) consumePoolItem(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "id")
	itemID := chi.URLParam(r, "itemID")

	items, err := s.backend.ListPoolItems(poolID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	found := false
	for _, item := range items {
		if item.ID == itemID {
			found = true
			break
		}
	}
	if !found {
		s.writeError(w, fmt.Errorf("pool item %s in pool %s: %w", itemID, poolID, storage.ErrNotFound))
		return
	}

	if err := s.backend.DeletePoolItem(itemID); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info().Str("pool_id", poolID).Str("item_id", itemID).Msg("Pool item consumed")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) createLocation(w http.ResponseWriter, r *http.Request) {
	var location types.Location
	if !s.decode(w, r, &location) {
		return
	}
	if location.Name == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "location name is required"})
		return
	}
	if err := s.backend.CreateLocation(&location); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, &location)
}

func (s *Server) createServer(w http.ResponseWriter, r *http.Request) {
	var server types.Server
	if !s.decode(w, r, &server) {
		return
	}
	if server.LocationID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "server location is required"})
		return
	}
	if err := s.backend.CreateServer(&server); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, &server)
}

func (s *Server) createServerTier(w http.ResponseWriter, r *http.Request) {
	var tier types.ServerTier
	if !s.decode(w, r, &tier) {
		return
	}
	if tier.Name == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "server tier name is required"})
		return
	}
	if err := s.backend.CreateServerTier(&tier); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, &tier)
}

func (s *Server) clusterInfo(w http.ResponseWriter, r *http.Request) {
	info := ClusterInfo{
		NodeID:   s.backend.NodeID(),
		Leader:   s.backend.LeaderAddr(),
		IsLeader: s.backend.IsLeader(),
		Stats:    s.backend.GetRaftStats(),
	}

	servers, err := s.backend.GetClusterServers()
	if err != nil {
		s.writeError(w, err)
		return
	}
	for _, srv := range servers {
		info.Servers = append(info.Servers, ClusterServer{
			ID:       string(srv.ID),
			Address:  string(srv.Address),
			Suffrage: srv.Suffrage.String(),
		})
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) createJoinToken(w http.ResponseWriter, r *http.Request) {
	token, err := s.backend.GenerateJoinToken()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, token)
}

func (s *Server) joinCluster(w http.ResponseWriter, r *http.Request) {
	var req JoinRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.NodeID == "" || req.Address == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "node_id and address are required"})
		return
	}
	if err := s.backend.AdmitVoter(req.NodeID, req.Address, req.Token); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("invalid request body: %v", err)})
		return false
	}
	return true
}

// writeError maps domain errors to status codes
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrInvalidPool):
		status = http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, manager.ErrNotLeader):
		status = http.StatusServiceUnavailable
	case errors.Is(err, manager.ErrInvalidToken), errors.Is(err, manager.ErrTokenExpired):
		status = http.StatusForbidden
	}

	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("Request failed")
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
