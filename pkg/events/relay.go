package events

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
)

// ErrUndelivered is returned by Drain when the publisher refused an entry
var ErrUndelivered = errors.New("outbox entry not delivered")

// Outbox is the committed signal queue the relay drains
type Outbox interface {
	ListOutbox(limit int) ([]*types.OutboxEntry, error)
	DeleteOutbox(ids []string) error
}

// Publisher accepts events for delivery and reports whether they were
// delivered
type Publisher interface {
	Publish(event *Event) bool
}

// RelayConfig controls how the outbox is drained
type RelayConfig struct {
	Interval  time.Duration
	BatchSize int

	// IsLeader gates scheduled drains; nil means always drain
	IsLeader func() bool
}

// Relay publishes committed outbox entries to the broker and removes the ones
// that were delivered. Delivery is at-least-once: an entry that was refused,
// or published just before a failed delete, is published again on the next
// pass.
type Relay struct {
	outbox    Outbox
	publisher Publisher
	interval  time.Duration
	batchSize int
	isLeader  func() bool

	mu       sync.Mutex
	started  atomic.Bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewRelay creates a new outbox relay
func NewRelay(outbox Outbox, publisher Publisher, cfg RelayConfig) *Relay {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Relay{
		outbox:    outbox,
		publisher: publisher,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		isLeader:  cfg.IsLeader,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start begins draining the outbox on an interval
func (r *Relay) Start() {
	if r.started.CompareAndSwap(false, true) {
		go r.run()
	}
}

// Stop stops the relay and waits for an in-flight drain to finish
func (r *Relay) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	if r.started.Load() {
		<-r.doneCh
	}
}

func (r *Relay) run() {
	defer close(r.doneCh)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	logger := log.WithComponent("relay")
	for {
		select {
		case <-ticker.C:
			// Only the leader can delete relayed entries
			if r.isLeader != nil && !r.isLeader() {
				continue
			}
			_, err := r.Drain()
			switch {
			case errors.Is(err, ErrUndelivered):
				logger.Warn().Msg("Outbox entry not delivered, retrying next pass")
			case err != nil:
				logger.Error().Err(err).Msg("Failed to relay outbox")
			}
		case <-r.stopCh:
			return
		}
	}
}

// Drain publishes pending outbox entries in commit order and returns how
// many were delivered. It stops at the first entry the publisher refuses,
// leaving it and everything after it for the next pass.
func (r *Relay) Drain() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := 0
	for {
		entries, err := r.outbox.ListOutbox(r.batchSize)
		if err != nil {
			return total, fmt.Errorf("failed to list outbox: %w", err)
		}
		if len(entries) == 0 {
			return total, nil
		}

		ids := make([]string, 0, len(entries))
		for _, entry := range entries {
			if !r.publisher.Publish(FromOutbox(entry)) {
				break
			}
			metrics.EventsRelayed.WithLabelValues(string(entry.Type)).Inc()
			ids = append(ids, entry.ID)
		}

		if err := r.outbox.DeleteOutbox(ids); err != nil {
			return total, fmt.Errorf("failed to delete relayed entries: %w", err)
		}
		total += len(ids)

		if len(ids) < len(entries) {
			return total, ErrUndelivered
		}
		if len(entries) < r.batchSize {
			return total, nil
		}
	}
}

// LogEvents writes every event received on sub to the log until the
// subscription is closed
func LogEvents(sub Subscriber) {
	logger := log.WithComponent("events")
	for event := range sub {
		logger.Debug().
			Str("type", string(event.Type)).
			Str("pool_id", event.PoolID).
			Str("project_id", event.ProjectID).
			Msg("Event published")
	}
}
