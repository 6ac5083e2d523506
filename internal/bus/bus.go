// Package bus carries domain events between the reader, the capture
// orchestrator, the delivery worker and any external observers.
//
// Publishing never blocks: if a subscriber's channel is full the event is
// dropped for that subscriber and counted. Subscribers choose which event
// kinds they receive.
package bus

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/bft-labs/tagcam/internal/domain"
)

var (
	// ErrSubscriberExists is returned when Subscribe is called with a duplicate id.
	ErrSubscriberExists = errors.New("bus: subscriber id already exists")

	// ErrSubscriberNotFound is returned when Unsubscribe is called with an unknown id.
	ErrSubscriberNotFound = errors.New("bus: subscriber id not found")

	// ErrBusClosed is returned when operations are attempted on a closed bus.
	ErrBusClosed = errors.New("bus: closed")

	// ErrNilChannel is returned when Subscribe is given a nil channel.
	ErrNilChannel = errors.New("bus: nil subscriber channel")
)

// Stats is a snapshot of bus counters.
type Stats struct {
	Published uint64
	Sent      uint64
	Dropped   uint64

	Subscribers map[string]SubscriberStats
}

// SubscriberStats are the counters of a single subscriber.
type SubscriberStats struct {
	Sent    uint64
	Dropped uint64
}

type subscriber struct {
	ch      chan<- domain.Event
	kinds   map[domain.EventKind]bool // nil means every kind
	sent    atomic.Uint64
	dropped atomic.Uint64
}

func (s *subscriber) wants(k domain.EventKind) bool {
	return s.kinds == nil || s.kinds[k]
}

// Bus is a typed publish/subscribe channel for domain events.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	closed      bool

	published atomic.Uint64
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subscribers: make(map[string]*subscriber)}
}

// Subscribe registers ch under id. If kinds is empty every event is
// delivered; otherwise only events of the listed kinds.
func (b *Bus) Subscribe(id string, ch chan<- domain.Event, kinds ...domain.EventKind) error {
	if ch == nil {
		return ErrNilChannel
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return ErrSubscriberExists
	}

	sub := &subscriber{ch: ch}
	if len(kinds) > 0 {
		sub.kinds = make(map[domain.EventKind]bool, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = true
		}
	}
	b.subscribers[id] = sub
	return nil
}

// Unsubscribe removes the subscriber registered under id.
func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if _, exists := b.subscribers[id]; !exists {
		return ErrSubscriberNotFound
	}
	delete(b.subscribers, id)
	return nil
}

// Publish delivers ev to every interested subscriber without blocking.
// Publishing on a closed bus is a no-op.
func (b *Bus) Publish(ev domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	b.published.Add(1)

	for _, sub := range b.subscribers {
		if !sub.wants(ev.Kind) {
			continue
		}
		select {
		case sub.ch <- ev:
			sub.sent.Add(1)
		default:
			sub.dropped.Add(1)
		}
	}
}

// Stats returns a snapshot of the counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	st := Stats{
		Published:   b.published.Load(),
		Subscribers: make(map[string]SubscriberStats, len(b.subscribers)),
	}
	for id, sub := range b.subscribers {
		s := SubscriberStats{Sent: sub.sent.Load(), Dropped: sub.dropped.Load()}
		st.Sent += s.Sent
		st.Dropped += s.Dropped
		st.Subscribers[id] = s
	}
	return st
}

// Close detaches every subscriber. Subscriber channels are not closed;
// they belong to the subscribers.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	b.closed = true
	b.subscribers = make(map[string]*subscriber)
	return nil
}
