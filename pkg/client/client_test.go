package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	tests := []struct {
		addr    string
		want    string
		wantErr bool
	}{
		{addr: "localhost:8080", want: "http://localhost:8080"},
		{addr: "https://burrow.example.com/", want: "https://burrow.example.com"},
		{addr: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			c, err := NewClient(tt.addr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.baseURL)
		})
	}
}

func TestClient_Requests(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		gotBody = nil
		_ = json.NewDecoder(r.Body).Decode(&gotBody)

		switch r.URL.Path {
		case "/v1/reconcile":
			w.WriteHeader(http.StatusAccepted)
		case "/v1/pools":
			if r.Method == http.MethodPost {
				w.WriteHeader(http.StatusCreated)
				_ = json.NewEncoder(w).Encode(&types.Pool{ID: "pool-1", TargetCount: 2})
				return
			}
			_ = json.NewEncoder(w).Encode([]map[string]interface{}{
				{"ID": "pool-1", "TargetCount": 2, "Available": 1, "EffectiveLocationID": "loc-1"},
			})
		case "/v1/cluster/join", "/v1/pools/pool-1/items/item-1":
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "pool missing: not found"})
		}
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Reconcile(ctx))
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/v1/reconcile", gotPath)

	pools, err := c.ListPools(ctx)
	require.NoError(t, err)
	require.Len(t, pools, 1)
	assert.Equal(t, "pool-1", pools[0].ID)
	assert.Equal(t, 1, pools[0].Available)
	assert.Equal(t, "loc-1", pools[0].EffectiveLocationID)

	require.NoError(t, c.ConsumePoolItem(ctx, "pool-1", "item-1"))
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/v1/pools/pool-1/items/item-1", gotPath)

	created, err := c.CreatePool(ctx, &types.Pool{TargetCount: 2, ProjectType: types.ProjectTypeStatic})
	require.NoError(t, err)
	assert.Equal(t, "pool-1", created.ID)
	assert.Equal(t, "static", gotBody["ProjectType"])

	require.NoError(t, c.JoinCluster(ctx, "node-2", "10.0.0.2:7946", "tok"))
	assert.Equal(t, "node-2", gotBody["node_id"])
	assert.Equal(t, "tok", gotBody["token"])

	_, err = c.GetPool(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "pool missing: not found", apiErr.Message)
}
