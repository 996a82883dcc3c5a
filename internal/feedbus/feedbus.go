// Package feedbus is the in-process publication bus between the pipeline and
// the gateway. Publishing never blocks: each subscriber owns a bounded queue,
// and when a slow consumer falls behind the bus drops its oldest deliveries
// and coalesces them into a single gap notification carrying the count.
package feedbus

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/alphafeed/marketpipe/internal/domain"
)

var ErrClosed = errors.New("feedbus: subscription closed")

// Delivery is one item handed to a subscriber. Exactly one of Record or Gap
// is set.
type Delivery struct {
	Topic  string
	Record domain.Record
	Gap    *Gap
}

// Gap tells a subscriber how many deliveries were dropped since the last one
// it received.
type Gap struct {
	Dropped uint64
}

// Match reports whether a subscription pattern covers a topic. Patterns are
// either exact ("quotes.600000") or a prefix wildcard ("quotes.*", "news.*").
func Match(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
		return strings.HasPrefix(topic, prefix+".")
	}
	return false
}

// Bus fans records out to pattern subscriptions.
type Bus struct {
	mu       sync.RWMutex
	subs     map[*Subscription]struct{}
	capacity int

	// OnDrop fires once per dropped delivery; the daemon hooks the queue-drop
	// metric here.
	OnDrop func(subscriber string)
}

// New creates a bus whose subscriptions buffer up to capacity deliveries.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 256
	}
	return &Bus{subs: make(map[*Subscription]struct{}), capacity: capacity}
}

// Subscribe registers a named subscription for the given patterns. Patterns
// can be adjusted later through the returned Subscription.
func (b *Bus) Subscribe(name string, patterns ...string) *Subscription {
	s := &Subscription{
		name:     name,
		bus:      b,
		patterns: make(map[string]struct{}, len(patterns)),
		queue:    make([]Delivery, 0, b.capacity),
		capacity: b.capacity,
		wake:     make(chan struct{}, 1),
	}
	for _, p := range patterns {
		s.patterns[p] = struct{}{}
	}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Publish delivers rec to every subscription whose patterns match topic.
// It never blocks on a slow subscriber.
func (b *Bus) Publish(topic string, rec domain.Record) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		s.offer(Delivery{Topic: topic, Record: rec})
	}
}

// Subscribers returns the current subscription count.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}

// Subscription is one consumer's bounded view of the bus.
type Subscription struct {
	name string
	bus  *Bus

	mu       sync.Mutex
	patterns map[string]struct{}
	queue    []Delivery
	capacity int
	dropped  uint64
	closed   bool

	wake chan struct{}
}

func (s *Subscription) Name() string { return s.name }

// Add registers an additional pattern.
func (s *Subscription) Add(pattern string) {
	s.mu.Lock()
	s.patterns[pattern] = struct{}{}
	s.mu.Unlock()
}

// Remove drops a pattern. It reports whether the pattern was present.
func (s *Subscription) Remove(pattern string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.patterns[pattern]
	delete(s.patterns, pattern)
	return ok
}

// Patterns returns a snapshot of the active patterns.
func (s *Subscription) Patterns() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.patterns))
	for p := range s.patterns {
		out = append(out, p)
	}
	return out
}

func (s *Subscription) matches(topic string) bool {
	for p := range s.patterns {
		if Match(p, topic) {
			return true
		}
	}
	return false
}

func (s *Subscription) offer(d Delivery) {
	s.mu.Lock()
	if s.closed || !s.matches(d.Topic) {
		s.mu.Unlock()
		return
	}
	var onDrop func(string)
	if len(s.queue) >= s.capacity {
		// Drop the oldest delivery; the loss is reported as one coalesced gap
		// the next time the subscriber reads.
		copy(s.queue, s.queue[1:])
		s.queue = s.queue[:len(s.queue)-1]
		s.dropped++
		onDrop = s.bus.OnDrop
	}
	s.queue = append(s.queue, d)
	s.mu.Unlock()

	if onDrop != nil {
		onDrop(s.name)
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Next blocks until a delivery is available, the subscription is closed, or
// the context is done. A pending gap is always delivered before newer data so
// the subscriber learns about the loss in order.
func (s *Subscription) Next(ctx context.Context) (Delivery, error) {
	for {
		s.mu.Lock()
		if s.dropped > 0 {
			gap := Delivery{Gap: &Gap{Dropped: s.dropped}}
			s.dropped = 0
			s.mu.Unlock()
			return gap, nil
		}
		if len(s.queue) > 0 {
			d := s.queue[0]
			copy(s.queue, s.queue[1:])
			s.queue = s.queue[:len(s.queue)-1]
			s.mu.Unlock()
			return d, nil
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return Delivery{}, ErrClosed
		}

		select {
		case <-ctx.Done():
			return Delivery{}, ctx.Err()
		case <-s.wake:
		}
	}
}

// Close detaches the subscription from the bus. Buffered deliveries remain
// readable until drained.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.bus.remove(s)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
