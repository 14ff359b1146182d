package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cuemby/burrow/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ErrNotFound is returned when the server answers 404
var ErrNotFound = errors.New("not found")

// Client talks to a burrow manager's HTTP API
type Client struct {
	baseURL string
	http    *http.Client
}

// PoolStatus is a pool with its available item count and resolved location
type PoolStatus struct {
	types.Pool
	Available           int
	EffectiveLocationID string
}

// JoinToken is a token issued by the leader for adding managers
type JoinToken struct {
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ClusterInfo describes the raft cluster as seen by the contacted node
type ClusterInfo struct {
	NodeID   string                 `json:"node_id"`
	Leader   string                 `json:"leader"`
	IsLeader bool                   `json:"is_leader"`
	Stats    map[string]interface{} `json:"stats"`
	Servers  []struct {
		ID       string `json:"id"`
		Address  string `json:"address"`
		Suffrage string `json:"suffrage"`
	} `json:"servers"`
}

// APIError is a non-2xx answer from the server
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// Is lets errors.Is(err, ErrNotFound) match 404 answers
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// NewClient creates a client for addr, given as host:port or a full URL
func NewClient(addr string) (*Client, error) {
	if addr == "" {
		return nil, fmt.Errorf("manager address is required")
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid manager address %q: %w", addr, err)
	}

	return &Client{
		baseURL: strings.TrimRight(u.String(), "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Close releases idle connections
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// Reconcile triggers a reconciliation cycle on the leader
func (c *Client) Reconcile(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/reconcile", nil, nil)
}

// ListPools returns all pools with their available counts
func (c *Client) ListPools(ctx context.Context) ([]PoolStatus, error) {
	var pools []PoolStatus
	err := c.do(ctx, http.MethodGet, "/v1/pools", nil, &pools)
	return pools, err
}

// GetPool returns one pool with its available count
func (c *Client) GetPool(ctx context.Context, id string) (*PoolStatus, error) {
	var pool PoolStatus
	if err := c.do(ctx, http.MethodGet, "/v1/pools/"+url.PathEscape(id), nil, &pool); err != nil {
		return nil, err
	}
	return &pool, nil
}

// CreatePool creates a pool and returns it with its assigned ID
func (c *Client) CreatePool(ctx context.Context, pool *types.Pool) (*types.Pool, error) {
	var created types.Pool
	if err := c.do(ctx, http.MethodPost, "/v1/pools", pool, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// DeletePool removes a pool and its items
func (c *Client) DeletePool(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/pools/"+url.PathEscape(id), nil, nil)
}

// ListPoolItems returns a pool's available items
func (c *Client) ListPoolItems(ctx context.Context, poolID string) ([]*types.PoolItem, error) {
	var items []*types.PoolItem
	err := c.do(ctx, http.MethodGet, "/v1/pools/"+url.PathEscape(poolID)+"/items", nil, &items)
	return items, err
}

// ConsumePoolItem takes an available item out of its pool
func (c *Client) ConsumePoolItem(ctx context.Context, poolID, itemID string) error {
	path := "/v1/pools/" + url.PathEscape(poolID) + "/items/" + url.PathEscape(itemID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// CreateLocation creates a location
func (c *Client) CreateLocation(ctx context.Context, location *types.Location) (*types.Location, error) {
	var created types.Location
	if err := c.do(ctx, http.MethodPost, "/v1/locations", location, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// CreateServer creates a server
func (c *Client) CreateServer(ctx context.Context, server *types.Server) (*types.Server, error) {
	var created types.Server
	if err := c.do(ctx, http.MethodPost, "/v1/servers", server, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// CreateServerTier creates a server tier
func (c *Client) CreateServerTier(ctx context.Context, tier *types.ServerTier) (*types.ServerTier, error) {
	var created types.ServerTier
	if err := c.do(ctx, http.MethodPost, "/v1/tiers", tier, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// GetClusterInfo returns raft stats and voters
func (c *Client) GetClusterInfo(ctx context.Context) (*ClusterInfo, error) {
	var info ClusterInfo
	if err := c.do(ctx, http.MethodGet, "/v1/cluster", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GenerateJoinToken asks the leader for a new join token
func (c *Client) GenerateJoinToken(ctx context.Context) (*JoinToken, error) {
	var token JoinToken
	if err := c.do(ctx, http.MethodPost, "/v1/cluster/tokens", nil, &token); err != nil {
		return nil, err
	}
	return &token, nil
}

// JoinCluster asks the leader to add nodeID at bindAddr as a voter
func (c *Client) JoinCluster(ctx context.Context, nodeID, bindAddr, token string) error {
	req := map[string]string{
		"node_id": nodeID,
		"address": bindAddr,
		"token":   token,
	}
	return c.do(ctx, http.MethodPost, "/v1/cluster/join", req, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		msg := resp.Status
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// CheckHealth queries the gRPC health service at addr. An empty service
// checks the server as a whole.
func CheckHealth(ctx context.Context, addr, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("health check failed: %w", err)
	}
	return resp.Status, nil
}
