package events

import (
	"sync"

	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/pkg/types"
)

const defaultRingCapacity = 256

// Ring keeps the most recent events in a fixed-size buffer.
type Ring struct {
	mu   sync.Mutex
	buf  []types.Event
	next int
	full bool
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = defaultRingCapacity
	}
	return &Ring{buf: make([]types.Event, capacity)}
}

// Record implements Recorder, overwriting the oldest entry when full.
// Per-second countdown ticks are live-feed noise, not history, and are
// dropped here so they cannot wash out the retained events.
func (r *Ring) Record(event types.Event) {
	if event.Type == types.EventCountdown {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = event
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

// Recent returns up to limit events, oldest first. limit <= 0 returns
// everything retained.
func (r *Ring) Recent(limit int) []types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ordered []types.Event
	if r.full {
		ordered = make([]types.Event, 0, len(r.buf))
		ordered = append(ordered, r.buf[r.next:]...)
		ordered = append(ordered, r.buf[:r.next]...)
	} else {
		ordered = append(ordered, r.buf[:r.next]...)
	}

	if limit > 0 && len(ordered) > limit {
		ordered = ordered[len(ordered)-limit:]
	}
	return ordered
}
