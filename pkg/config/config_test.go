package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/burrow/pkg/provisioner"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "burrow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
nodeID: node-a
apiAddr: 0.0.0.0:8080
reconciler:
  interval: 10s
  maxConcurrentProvisions: 4
log:
  level: debug
  json: true
variants:
  container:
    template: https://git.example.com/container.git
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "node-a", cfg.NodeID)
	assert.Equal(t, "0.0.0.0:8080", cfg.APIAddr)
	assert.Equal(t, 10*time.Second, cfg.Reconciler.Interval)
	assert.Equal(t, 4, cfg.Reconciler.MaxConcurrentProvisions)
	assert.Equal(t, 2*time.Minute, cfg.Reconciler.LeaseTTL, "unset fields keep defaults")
	assert.Equal(t, "127.0.0.1:7946", cfg.BindAddr)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.JSON)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		invalid bool
	}{
		{name: "malformed yaml", content: "nodeID: [unterminated"},
		{name: "negative concurrency", content: "reconciler:\n  maxConcurrentProvisions: -1", invalid: true},
		{name: "zero interval", content: "reconciler:\n  interval: 0s", invalid: true},
		{name: "negative rate limit", content: "api:\n  rateLimit: -1", invalid: true},
		{name: "unknown variant", content: "variants:\n  lambda:\n    template: x", invalid: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Equal(t, tt.invalid, errors.Is(err, ErrInvalidConfig))
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestProvisionerVariants(t *testing.T) {
	cfg := Default()
	cfg.Variants = map[types.ProjectType]VariantConfig{
		types.ProjectTypeContainer: {Template: "https://git.example.com/container.git", DefaultName: "app"},
	}

	variants := cfg.ProvisionerVariants()
	require.Len(t, variants, len(provisioner.DefaultVariants()))

	byType := make(map[types.ProjectType]provisioner.Variant)
	for _, v := range variants {
		byType[v.Type] = v
	}

	assert.Equal(t, provisioner.DefaultStaticTemplate, byType[types.ProjectTypeStatic].TemplateRepositoryURL)
	assert.Equal(t, "https://git.example.com/container.git", byType[types.ProjectTypeContainer].TemplateRepositoryURL)
	assert.Equal(t, "app", byType[types.ProjectTypeContainer].DefaultName)
	assert.Len(t, byType[types.ProjectTypeContainer].Signals, 1, "overrides keep the variant's signals")
}
