package events

import (
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/types"
)

// EventType represents the type of event
type EventType = types.EventType

const (
	EventProjectCreated          = types.EventProjectCreated
	EventContainerProjectCreated = types.EventContainerProjectCreated
	EventPoolReconciled          = types.EventPoolReconciled
	EventPoolItemConsumed        = types.EventPoolItemConsumed
)

// Event represents a pool event
type Event struct {
	ID          string
	Type        EventType
	Timestamp   time.Time
	PoolID      string
	ProjectID   string
	ProjectType types.ProjectType
	Message     string
	Metadata    map[string]string
}

// FromOutbox converts a committed outbox entry into a broker event
func FromOutbox(entry *types.OutboxEntry) *Event {
	return &Event{
		ID:          entry.ID,
		Type:        entry.Type,
		Timestamp:   entry.Timestamp,
		PoolID:      entry.PoolID,
		ProjectID:   entry.ProjectID,
		ProjectType: entry.ProjectType,
		Metadata:    entry.Metadata,
	}
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker fans events out to subscribers. Delivery is synchronous so a
// publisher learns whether every subscriber took the event.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	stopped     bool
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
	}
}

// Stop stops the broker; later publishes are refused
func (b *Broker) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50) // Buffer per subscriber
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub)
}

// Publish hands event to every subscriber and reports whether all of them
// accepted it. It returns false once the broker is stopped, when there are no
// subscribers, or when a subscriber's buffer is full.
func (b *Broker) Publish(event *Event) bool {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.stopped || len(b.subscribers) == 0 {
		return false
	}

	delivered := true
	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full
			delivered = false
		}
	}
	return delivered
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
