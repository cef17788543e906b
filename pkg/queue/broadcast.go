// Package queue fans decoded messages out to bounded subscriber channels.
package queue

import (
	"sync"
	"sync/atomic"
)

// DefaultBufferSize is the per-subscriber capacity used when none is given.
const DefaultBufferSize = 256

// Broadcast delivers each published value to every subscriber. Publishing
// never blocks: a subscriber whose buffer is full misses the value and its
// drop counter is incremented.
type Broadcast[T any] struct {
	mu     sync.RWMutex
	subs   map[*Subscription[T]]struct{}
	size   int
	closed bool
}

// Subscription is one consumer of a Broadcast.
type Subscription[T any] struct {
	c       chan T
	b       *Broadcast[T]
	dropped atomic.Uint64
	once    sync.Once
}

// NewBroadcast creates a broadcast with the given per-subscriber buffer size.
func NewBroadcast[T any](size int) *Broadcast[T] {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Broadcast[T]{
		subs: make(map[*Subscription[T]]struct{}),
		size: size,
	}
}

// Subscribe registers a new consumer. After Close it returns a subscription
// whose channel is already closed.
func (b *Broadcast[T]) Subscribe() *Subscription[T] {
	s := &Subscription[T]{c: make(chan T, b.size), b: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.once.Do(func() { close(s.c) })
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// Publish offers v to all subscribers and returns how many accepted it.
func (b *Broadcast[T]) Publish(v T) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0
	}
	delivered := 0
	for s := range b.subs {
		select {
		case s.c <- v:
			delivered++
		default:
			s.dropped.Add(1)
		}
	}
	return delivered
}

// Len returns the number of subscribers.
func (b *Broadcast[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Later publishes are ignored.
func (b *Broadcast[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		s.once.Do(func() { close(s.c) })
	}
	b.subs = nil
}

// C returns the receive channel. It is closed on Unsubscribe or when the
// broadcast is closed.
func (s *Subscription[T]) C() <-chan T { return s.c }

// Dropped returns the number of values missed because the buffer was full.
func (s *Subscription[T]) Dropped() uint64 { return s.dropped.Load() }

// Unsubscribe detaches the subscription and closes its channel.
func (s *Subscription[T]) Unsubscribe() {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	delete(s.b.subs, s)
	s.once.Do(func() { close(s.c) })
}
