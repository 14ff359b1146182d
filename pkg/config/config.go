package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/burrow/pkg/provisioner"
	"github.com/cuemby/burrow/pkg/types"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned by Validate
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the burrow server configuration
type Config struct {
	NodeID     string `yaml:"nodeID"`
	BindAddr   string `yaml:"bindAddr"`
	APIAddr    string `yaml:"apiAddr"`
	HealthAddr string `yaml:"healthAddr"`
	DataDir    string `yaml:"dataDir"`

	Reconciler ReconcilerConfig `yaml:"reconciler"`
	Events     EventsConfig     `yaml:"events"`
	API        APIConfig        `yaml:"api"`
	Log        LogConfig        `yaml:"log"`

	// Variants overrides the template and default name per project type
	Variants map[types.ProjectType]VariantConfig `yaml:"variants"`
}

// ReconcilerConfig controls the pool reconciliation loop
type ReconcilerConfig struct {
	Interval                time.Duration `yaml:"interval"`
	LeaseTTL                time.Duration `yaml:"leaseTTL"`
	MaxConcurrentProvisions int           `yaml:"maxConcurrentProvisions"`
}

// EventsConfig controls the outbox relay
type EventsConfig struct {
	PollInterval time.Duration `yaml:"pollInterval"`
	BatchSize    int           `yaml:"batchSize"`
}

// APIConfig controls the HTTP API
type APIConfig struct {
	// Per-client limit on mutating requests; 0 disables it
	RateLimit float64 `yaml:"rateLimit"`
	RateBurst int     `yaml:"rateBurst"`
}

// LogConfig controls log output
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// VariantConfig customises one project type
type VariantConfig struct {
	Template    string `yaml:"template"`
	DefaultName string `yaml:"defaultName"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		NodeID:     "burrow-1",
		BindAddr:   "127.0.0.1:7946",
		APIAddr:    "127.0.0.1:8080",
		HealthAddr: "127.0.0.1:9090",
		DataDir:    "./burrow-data",
		Reconciler: ReconcilerConfig{
			Interval: 30 * time.Second,
			LeaseTTL: 2 * time.Minute,
		},
		Events: EventsConfig{
			PollInterval: time.Second,
			BatchSize:    100,
		},
		API: APIConfig{
			RateLimit: 10,
			RateBurst: 20,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the YAML file at path over the defaults. An empty path returns
// the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the server cannot run with
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("%w: nodeID is required", ErrInvalidConfig)
	}
	if c.DataDir == "" {
		return fmt.Errorf("%w: dataDir is required", ErrInvalidConfig)
	}
	if c.Reconciler.Interval <= 0 {
		return fmt.Errorf("%w: reconciler.interval must be positive", ErrInvalidConfig)
	}
	if c.Reconciler.LeaseTTL <= 0 {
		return fmt.Errorf("%w: reconciler.leaseTTL must be positive", ErrInvalidConfig)
	}
	if c.Reconciler.MaxConcurrentProvisions < 0 {
		return fmt.Errorf("%w: reconciler.maxConcurrentProvisions must be >= 0", ErrInvalidConfig)
	}
	if c.API.RateLimit < 0 || c.API.RateBurst < 0 {
		return fmt.Errorf("%w: api rate limits must be >= 0", ErrInvalidConfig)
	}
	for t := range c.Variants {
		if !t.Valid() {
			return fmt.Errorf("%w: unknown project type %q in variants", ErrInvalidConfig, t)
		}
	}
	return nil
}

// ProvisionerVariants returns the built-in variants with configured
// overrides applied
func (c *Config) ProvisionerVariants() []provisioner.Variant {
	variants := provisioner.DefaultVariants()
	for i, v := range variants {
		override, ok := c.Variants[v.Type]
		if !ok {
			continue
		}
		if override.Template != "" {
			variants[i].TemplateRepositoryURL = override.Template
		}
		if override.DefaultName != "" {
			variants[i].DefaultName = override.DefaultName
		}
	}
	return variants
}
