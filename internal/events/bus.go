package events

import (
	"sync"

	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/pkg/types"
)

const defaultSubscriberBuffer = 64

// Bus fans events out to subscribers with explicit lifecycle. Publish never
// blocks the producer: when a subscriber's buffer is full its oldest event
// is dropped to make room.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan types.Event
	nextID int
	buffer int
	onDrop func()
}

type BusOption func(*Bus)

// WithSubscriberBuffer sets the per-subscriber channel capacity.
func WithSubscriberBuffer(n int) BusOption {
	return func(b *Bus) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// WithDropHook registers a callback invoked once per dropped event.
func WithDropHook(fn func()) BusOption {
	return func(b *Bus) {
		if fn != nil {
			b.onDrop = fn
		}
	}
}

func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		subs:   make(map[int]chan types.Event),
		buffer: defaultSubscriberBuffer,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a new subscriber and returns its channel together
// with a cancel function. Cancel closes the channel; it is safe to call
// more than once.
func (b *Bus) Subscribe() (<-chan types.Event, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan types.Event, b.buffer)
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber without blocking.
func (b *Bus) Publish(event types.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- event:
			continue
		default:
		}
		// Buffer full: evict the oldest and retry once.
		select {
		case <-ch:
			if b.onDrop != nil {
				b.onDrop()
			}
		default:
		}
		select {
		case ch <- event:
		default:
		}
	}
}

// Record implements Recorder so a Bus can sit behind a Multi.
func (b *Bus) Record(event types.Event) {
	b.Publish(event)
}

// SubscriberCount reports how many subscribers are attached.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
