package events

import (
	"sync"
	"sync/atomic"
	"time"
)

const defaultBuffer = 64

// Bus fans events out to subscribers. Each subscriber has its own bounded
// queue; a full queue drops the event for that subscriber only.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*Subscription

	dropped atomic.Int64
	onDrop  func(Kind)
}

func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]*Subscription)}
}

// OnDrop registers a hook called for every dropped delivery. It may be
// swapped while events are being published.
func (b *Bus) OnDrop(fn func(Kind)) *Bus {
	b.mu.Lock()
	b.onDrop = fn
	b.mu.Unlock()
	return b
}

type Subscription struct {
	bus  *Bus
	id   uint64
	ch   chan Event
	once sync.Once
}

func (s *Subscription) C() <-chan Event { return s.ch }

// Unsubscribe detaches the subscription and closes its channel. Calling it
// more than once is a no-op.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s.id)
		close(s.ch)
		s.bus.mu.Unlock()
	})
}

func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	s := &Subscription{bus: b, id: b.nextID, ch: make(chan Event, buffer)}
	b.subs[s.id] = s
	return s
}

// Publish never blocks.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
			if b.onDrop != nil {
				b.onDrop(e.Kind)
			}
		}
	}
}

func (b *Bus) Dropped() int64 { return b.dropped.Load() }

func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
