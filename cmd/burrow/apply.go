package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cuemby/burrow/pkg/client"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a configuration file",
	Long: `Apply burrow resources from a YAML file.

A file may hold several documents separated by "---". Documents are applied
in order, and a Pool may refer to a Location, Server or ServerTier created
earlier in the same file by its metadata name.

Examples:
  # Create placement and a pool
  burrow apply -f pools.yaml`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML file to apply (required)")
	_ = applyCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(applyCmd)
}

// Resource is one document of an apply file
type Resource struct {
	APIVersion string                 `yaml:"apiVersion"`
	Kind       string                 `yaml:"kind"`
	Metadata   ResourceMetadata       `yaml:"metadata"`
	Spec       map[string]interface{} `yaml:"spec"`
}

type ResourceMetadata struct {
	Name   string            `yaml:"name"`
	Labels map[string]string `yaml:"labels,omitempty"`
}

// applier creates resources and remembers the IDs of named ones
type applier struct {
	c   *client.Client
	ids map[string]string
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	f, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	defer f.Close()

	resources, err := decodeResources(f)
	if err != nil {
		return err
	}

	c, ctx, cancel, err := connect(cmd)
	if err != nil {
		return err
	}
	defer cancel()
	defer c.Close()

	a := &applier{c: c, ids: make(map[string]string)}
	for _, resource := range resources {
		if err := a.apply(ctx, resource); err != nil {
			return fmt.Errorf("%s %q: %w", resource.Kind, resource.Metadata.Name, err)
		}
	}
	return nil
}

// decodeResources reads every YAML document from r
func decodeResources(r io.Reader) ([]*Resource, error) {
	var resources []*Resource
	dec := yaml.NewDecoder(r)
	for {
		var resource Resource
		err := dec.Decode(&resource)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
		if resource.Kind == "" {
			continue
		}
		resources = append(resources, &resource)
	}
	if len(resources) == 0 {
		return nil, fmt.Errorf("no resources found")
	}
	return resources, nil
}

func (a *applier) apply(ctx context.Context, resource *Resource) error {
	switch resource.Kind {
	case "Location":
		return a.applyLocation(ctx, resource)
	case "Server":
		return a.applyServer(ctx, resource)
	case "ServerTier":
		return a.applyServerTier(ctx, resource)
	case "Pool":
		return a.applyPool(ctx, resource)
	default:
		return fmt.Errorf("unsupported resource kind: %s", resource.Kind)
	}
}

func (a *applier) applyLocation(ctx context.Context, resource *Resource) error {
	location, err := a.c.CreateLocation(ctx, &types.Location{
		Name:   resource.Metadata.Name,
		Region: getString(resource.Spec, "region", ""),
	})
	if err != nil {
		return err
	}
	a.remember("Location", resource.Metadata.Name, location.ID)
	fmt.Printf("✓ Location created: %s (ID: %s)\n", location.Name, location.ID)
	return nil
}

func (a *applier) applyServer(ctx context.Context, resource *Resource) error {
	server, err := a.c.CreateServer(ctx, &types.Server{
		Name:       resource.Metadata.Name,
		LocationID: a.resolve("Location", getString(resource.Spec, "location", "")),
	})
	if err != nil {
		return err
	}
	a.remember("Server", resource.Metadata.Name, server.ID)
	fmt.Printf("✓ Server created: %s (ID: %s)\n", server.Name, server.ID)
	return nil
}

func (a *applier) applyServerTier(ctx context.Context, resource *Resource) error {
	tier, err := a.c.CreateServerTier(ctx, &types.ServerTier{
		Name:        resource.Metadata.Name,
		CPUCores:    getInt(resource.Spec, "cpuCores", 0),
		MemoryBytes: int64(getInt(resource.Spec, "memoryBytes", 0)),
	})
	if err != nil {
		return err
	}
	a.remember("ServerTier", resource.Metadata.Name, tier.ID)
	fmt.Printf("✓ Server tier created: %s (ID: %s)\n", tier.Name, tier.ID)
	return nil
}

func (a *applier) applyPool(ctx context.Context, resource *Resource) error {
	pool, err := a.c.CreatePool(ctx, &types.Pool{
		Name:         resource.Metadata.Name,
		TargetCount:  getInt(resource.Spec, "targetCount", 0),
		ProjectType:  types.ProjectType(getString(resource.Spec, "projectType", "")),
		ServerTierID: a.resolve("ServerTier", getString(resource.Spec, "serverTier", "")),
		LocationID:   a.resolve("Location", getString(resource.Spec, "location", "")),
		ServerID:     a.resolve("Server", getString(resource.Spec, "server", "")),
	})
	if err != nil {
		return err
	}
	fmt.Printf("✓ Pool created: %s (ID: %s, target=%d)\n", pool.Name, pool.ID, pool.TargetCount)
	return nil
}

func (a *applier) remember(kind, name, id string) {
	if name != "" {
		a.ids[kind+"/"+name] = id
	}
}

// resolve maps a name created earlier in the file to its ID; anything else
// is taken to be an ID already
func (a *applier) resolve(kind, ref string) string {
	if id, ok := a.ids[kind+"/"+ref]; ok {
		return id
	}
	return ref
}

// Helper functions
func getString(m map[string]interface{}, key, defaultValue string) string {
	if v, ok := m[key]; ok && v != nil {
		return fmt.Sprintf("%v", v)
	}
	return defaultValue
}

func getInt(m map[string]interface{}, key string, defaultValue int) int {
	if v, ok := m[key]; ok {
		switch val := v.(type) {
		case int:
			return val
		case int64:
			return int(val)
		case float64:
			return int(val)
		}
	}
	return defaultValue
}
