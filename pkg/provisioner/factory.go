package provisioner

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/types"
)

var (
	// ErrUnsupportedProjectType is returned for project types with no registered variant
	ErrUnsupportedProjectType = errors.New("unsupported project type")

	// ErrMissingPlacement is returned when a pool's tier or location cannot be derived
	ErrMissingPlacement = errors.New("pool placement incomplete")
)

const (
	DefaultStaticTemplate    = "https://github.com/burrow-templates/static-site.git"
	DefaultContainerTemplate = "https://github.com/burrow-templates/container-app.git"
)

// DefaultVariants returns the built-in variants for every known project type
func DefaultVariants() []Variant {
	return []Variant{
		{
			Type:                  types.ProjectTypeStatic,
			TemplateRepositoryURL: DefaultStaticTemplate,
			DefaultName:           "static-site",
		},
		{
			Type:                  types.ProjectTypeContainer,
			TemplateRepositoryURL: DefaultContainerTemplate,
			DefaultName:           "container-app",
			Signals:               []SignalBuilder{ContainerProjectCreated},
		},
	}
}

// Factory selects the provisioner variant for a pool's project type
type Factory struct {
	repo     Repository
	mu       sync.RWMutex
	variants map[types.ProjectType]Variant
	now      func() time.Time
}

// NewFactory creates a factory with the given variants registered. With no
// variants, DefaultVariants is used.
func NewFactory(repo Repository, variants ...Variant) *Factory {
	if len(variants) == 0 {
		variants = DefaultVariants()
	}
	f := &Factory{
		repo:     repo,
		variants: make(map[types.ProjectType]Variant, len(variants)),
		now:      time.Now,
	}
	for _, v := range variants {
		f.Register(v)
	}
	return f
}

// Register adds or replaces the variant for v.Type
func (f *Factory) Register(v Variant) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.variants[v.Type] = v
}

// Lookup returns the variant registered for t
func (f *Factory) Lookup(t types.ProjectType) (Variant, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.variants[t]
	return v, ok
}

// CreateProvisioner returns a provisioner bound to the pool, its server tier
// and its location
func (f *Factory) CreateProvisioner(pool *types.Pool) (*Provisioner, error) {
	variant, ok := f.Lookup(pool.ProjectType)
	if !ok {
		return nil, fmt.Errorf("%w: %q (pool %s)", ErrUnsupportedProjectType, pool.ProjectType, pool.ID)
	}

	tierID := pool.ServerTierID
	if pool.ServerTier != nil {
		tierID = pool.ServerTier.ID
	}
	if tierID == "" {
		return nil, fmt.Errorf("%w: pool %s has no server tier", ErrMissingPlacement, pool.ID)
	}

	locationID := pool.EffectiveLocationID()
	if pool.Location != nil {
		locationID = pool.Location.ID
	}
	if locationID == "" {
		return nil, fmt.Errorf("%w: pool %s has no location", ErrMissingPlacement, pool.ID)
	}

	return &Provisioner{
		repo:       f.repo,
		variant:    variant,
		pool:       pool,
		tierID:     tierID,
		locationID: locationID,
		now:        f.now,
	}, nil
}
