package reconciler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/provisioner"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

var errStopped = errors.New("stopped")

// Repository is the pool state the reconciler reads and locks
type Repository interface {
	ListPools() ([]*types.Pool, error)
	GetAvailableItemCount(poolID string) (int, error)
	AcquireLease(key, holder string, expiresAt, now time.Time) (bool, error)
	ReleaseLease(key, holder string) error
}

// Factory hands out the provisioner for a pool
type Factory interface {
	CreateProvisioner(pool *types.Pool) (*provisioner.Provisioner, error)
}

// Config holds reconciler settings
type Config struct {
	// Interval between scheduled cycles
	Interval time.Duration

	// LeaseTTL bounds how long one cycle may hold a pool
	LeaseTTL time.Duration

	// MaxConcurrentProvisions caps parallel creates per pool; 0 means no cap
	MaxConcurrentProvisions int

	// NodeID prefixes lease holder names
	NodeID string

	// IsLeader gates scheduled and triggered cycles; nil means always run
	IsLeader func() bool

	// Publisher receives a pool.reconciled event per processed pool; optional
	Publisher events.Publisher
}

// CycleResult summarises one reconciliation cycle
type CycleResult struct {
	PoolsChecked       int
	PoolsSkipped       int
	PoolErrors         int
	InstancesRequested int
	InstancesCreated   int
	InstancesFailed    int
}

type cycleStats struct {
	checked   atomic.Int64
	skipped   atomic.Int64
	errors    atomic.Int64
	requested atomic.Int64
	created   atomic.Int64
	failed    atomic.Int64
}

func (s *cycleStats) result() CycleResult {
	return CycleResult{
		PoolsChecked:       int(s.checked.Load()),
		PoolsSkipped:       int(s.skipped.Load()),
		PoolErrors:         int(s.errors.Load()),
		InstancesRequested: int(s.requested.Load()),
		InstancesCreated:   int(s.created.Load()),
		InstancesFailed:    int(s.failed.Load()),
	}
}

// Reconciler keeps every pool's available items at its target count
type Reconciler struct {
	repo    Repository
	factory Factory
	cfg     Config
	logger  zerolog.Logger
	now     func() time.Time

	cycles    singleflight.Group
	started   atomic.Bool
	triggerCh chan struct{}
	stopCh    chan struct{}
	stopOnce  sync.Once
	doneCh    chan struct{}
}

// NewReconciler creates a new reconciler
func NewReconciler(repo Repository, factory Factory, cfg Config) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 2 * time.Minute
	}
	if cfg.NodeID == "" {
		cfg.NodeID = "burrow"
	}
	return &Reconciler{
		repo:      repo,
		factory:   factory,
		cfg:       cfg,
		logger:    log.WithComponent("reconciler"),
		now:       time.Now,
		triggerCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start begins the reconciliation loop. A cycle runs immediately, then on
// every interval tick and every Trigger.
func (r *Reconciler) Start() {
	if r.started.CompareAndSwap(false, true) {
		metrics.SetComponent(metrics.ComponentReconciler, nil)
		go r.run()
	}
}

// Stop stops the loop and waits for an in-flight cycle to finish
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	if r.started.Load() {
		<-r.doneCh
		metrics.SetComponent(metrics.ComponentReconciler, errStopped)
	}
}

// Trigger requests a cycle without waiting for it. Requests made while one
// is already pending are merged.
func (r *Reconciler) Trigger() {
	select {
	case r.triggerCh <- struct{}{}:
	default:
	}
}

// TriggerOn requests a cycle for every consumed pool item seen on sub. It
// returns when sub is closed and keeps reading after Stop so the publisher
// never sees a full subscription.
func (r *Reconciler) TriggerOn(sub events.Subscriber) {
	for event := range sub {
		if event.Type != events.EventPoolItemConsumed {
			continue
		}
		r.logger.Debug().Str("item_id", event.Metadata["item_id"]).Msg("Pool item consumed, triggering reconciliation")
		r.Trigger()
	}
}

func (r *Reconciler) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.runScheduled()
	for {
		select {
		case <-ticker.C:
			r.runScheduled()
		case <-r.triggerCh:
			r.runScheduled()
		case <-r.stopCh:
			return
		}
	}
}

// runScheduled runs a cycle to completion when this node is the leader.
// Cycles are not cancelled by Stop.
func (r *Reconciler) runScheduled() {
	if r.cfg.IsLeader != nil && !r.cfg.IsLeader() {
		r.logger.Debug().Msg("Not the leader, skipping reconciliation")
		return
	}
	r.RunReconciliationCycle(context.Background())
}

// RunReconciliationCycle compares every pool against its target and creates
// the missing instances. Pools and instances are processed concurrently; a
// failure in one never stops the others. Concurrent callers share a single
// in-flight cycle.
func (r *Reconciler) RunReconciliationCycle(ctx context.Context) CycleResult {
	v, _, _ := r.cycles.Do("cycle", func() (interface{}, error) {
		return r.reconcile(ctx), nil
	})
	return v.(CycleResult)
}

func (r *Reconciler) reconcile(ctx context.Context) CycleResult {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	stats := &cycleStats{}
	pools, err := r.repo.ListPools()
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to list pools")
		metrics.SetComponent(metrics.ComponentReconciler, fmt.Errorf("failed to list pools: %w", err))
		return stats.result()
	}
	metrics.SetComponent(metrics.ComponentReconciler, nil)
	metrics.PoolsTotal.Set(float64(len(pools)))

	holder := fmt.Sprintf("%s/%s", r.cfg.NodeID, uuid.New().String())

	var wg sync.WaitGroup
	for _, pool := range pools {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.reconcilePool(ctx, pool, holder, stats); err != nil {
				stats.errors.Add(1)
				metrics.PoolErrorsTotal.Inc()
				r.logger.Error().Err(err).Str("pool_id", pool.ID).Msg("Failed to reconcile pool")
			}
		}()
	}
	wg.Wait()

	result := stats.result()
	r.logger.Debug().
		Int("pools", result.PoolsChecked).
		Int("created", result.InstancesCreated).
		Int("failed", result.InstancesFailed).
		Msg("Reconciliation cycle complete")
	return result
}

// reconcilePool fills one pool. Panics are turned into errors so that one
// pool cannot take down the cycle.
func (r *Reconciler) reconcilePool(ctx context.Context, pool *types.Pool, holder string, stats *cycleStats) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()

	key := leaseKey(pool.ID)
	now := r.now()
	acquired, err := r.repo.AcquireLease(key, holder, now.Add(r.cfg.LeaseTTL), now)
	if err != nil {
		return fmt.Errorf("failed to acquire lease: %w", err)
	}
	if !acquired {
		stats.skipped.Add(1)
		r.logger.Debug().Str("pool_id", pool.ID).Msg("Pool is being reconciled elsewhere, skipping")
		return nil
	}
	defer func() {
		if err := r.repo.ReleaseLease(key, holder); err != nil {
			r.logger.Warn().Err(err).Str("pool_id", pool.ID).Msg("Failed to release pool lease")
		}
	}()

	stats.checked.Add(1)

	count, err := r.repo.GetAvailableItemCount(pool.ID)
	if err != nil {
		return fmt.Errorf("failed to count pool items: %w", err)
	}

	projectType := string(pool.ProjectType)
	metrics.PoolAvailableItems.WithLabelValues(pool.ID, projectType).Set(float64(count))
	metrics.PoolTargetItems.WithLabelValues(pool.ID, projectType).Set(float64(pool.TargetCount))

	r.logger.Info().
		Str("pool_id", pool.ID).
		Int("count", count).
		Int("target", pool.TargetCount).
		Msg("Pool checked")

	if count >= pool.TargetCount {
		return nil
	}

	deficit := pool.TargetCount - count
	stats.requested.Add(int64(deficit))

	p, err := r.factory.CreateProvisioner(pool)
	if err != nil {
		stats.failed.Add(int64(deficit))
		metrics.InstancesFailed.WithLabelValues(projectType).Add(float64(deficit))
		return fmt.Errorf("failed to create provisioner: %w", err)
	}

	created := r.fill(ctx, p, deficit, stats)
	r.publishReconciled(pool, count, created, deficit)
	return nil
}

// fill launches deficit creates and waits for all of them to settle
func (r *Reconciler) fill(ctx context.Context, p *provisioner.Provisioner, deficit int, stats *cycleStats) int {
	var g errgroup.Group
	if r.cfg.MaxConcurrentProvisions > 0 {
		g.SetLimit(r.cfg.MaxConcurrentProvisions)
	}

	var created atomic.Int64
	for range deficit {
		g.Go(func() error {
			if r.createInstance(ctx, p) {
				created.Add(1)
				stats.created.Add(1)
			} else {
				stats.failed.Add(1)
			}
			// Failures are logged per instance; siblings keep going
			return nil
		})
	}
	_ = g.Wait()

	return int(created.Load())
}

func (r *Reconciler) createInstance(ctx context.Context, p *provisioner.Provisioner) (ok bool) {
	pool := p.Pool()
	projectType := string(pool.ProjectType)
	logger := log.WithPoolID(pool.ID)
	timer := metrics.NewTimer()

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error().Interface("panic", rec).Msg("Instance provisioning panicked")
			ok = false
		}
		if ok {
			metrics.InstancesProvisioned.WithLabelValues(projectType).Inc()
			timer.ObserveDurationVec(metrics.ProvisioningLatency, projectType)
		} else {
			metrics.InstancesFailed.WithLabelValues(projectType).Inc()
		}
	}()

	project, err := p.CreateNewInstance(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to provision instance")
		return false
	}

	logger.Info().
		Str("project_id", project.ID).
		Str("project_type", projectType).
		Msg("Provisioned warm instance")
	return true
}

func (r *Reconciler) publishReconciled(pool *types.Pool, count, created, requested int) {
	if r.cfg.Publisher == nil {
		return
	}
	r.cfg.Publisher.Publish(&events.Event{
		ID:          uuid.New().String(),
		Type:        events.EventPoolReconciled,
		PoolID:      pool.ID,
		ProjectType: pool.ProjectType,
		Metadata: map[string]string{
			"previous_count": strconv.Itoa(count),
			"requested":      strconv.Itoa(requested),
			"created":        strconv.Itoa(created),
		},
	})
}

func leaseKey(poolID string) string {
	return "pool/" + poolID
}
