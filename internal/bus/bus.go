package bus

import (
	"sync"
	"time"
)

// DefaultDepth is the per-subscription buffer used when a subscriber does not
// ask for a specific depth.
const DefaultDepth = 1024

// Subscription is one consumer's bounded FIFO view of the bus. Receive from C
// until it is closed; the final event is always KindEngineStopped.
type Subscription struct {
	Name string
	C    chan Event
}

// Bus is a multi-producer, multi-consumer broadcast of Events.
//
// Publish delivers to every subscription in subscription order and blocks
// while a subscriber's buffer is full. Publishing is serialized, so the
// sequence numbers stamped on events match the order every subscriber
// observes them in.
type Bus struct {
	mu     sync.Mutex
	clock  *Clock
	subs   []*Subscription
	closed bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{clock: NewClock()}
}

// Subscribe registers a new consumer. depth <= 0 selects DefaultDepth.
//
// Consumers that publish from the same goroutine they consume on (the
// scheduler does) must drain their subscription often enough that their own
// publishes never find it full.
func (b *Bus) Subscribe(name string, depth int) *Subscription {
	if depth <= 0 {
		depth = DefaultDepth
	}
	sub := &Subscription{Name: name, C: make(chan Event, depth)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.C)
		return sub
	}
	b.subs = append(b.subs, sub)
	return sub
}

// Publish stamps the event with the next sequence number and an acquisition
// timestamp (unless the producer already set one) and delivers it to every
// subscription. Returns false if the bus is already closed.
func (b *Bus) Publish(e Event) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}

	e.Seq = b.clock.Next()
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	for _, sub := range b.subs {
		sub.C <- e
	}
	return true
}

// Close publishes the final KindEngineStopped event and closes every
// subscription channel. Close is idempotent; publishes after Close are
// dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	final := Event{
		Seq:       b.clock.Next(),
		Timestamp: time.Now(),
		Kind:      KindEngineStopped,
	}
	for _, sub := range b.subs {
		sub.C <- final
		close(sub.C)
	}

	b.closed = true
	b.subs = nil
}

// Seq returns the latest stamped sequence number.
func (b *Bus) Seq() int64 {
	return b.clock.Current()
}
