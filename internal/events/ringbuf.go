package events

import (
	"maps"
	"sync"
	"time"
)

// DefaultRingSize is the ring capacity when none is given.
const DefaultRingSize = 1024

// RingBuffer keeps the most recent events in memory.
type RingBuffer struct {
	mu    sync.Mutex
	buf   []Event
	size  int
	head  int // next write slot
	count int
}

// NewRingBuffer creates a ring holding size events.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &RingBuffer{buf: make([]Event, size), size: size}
}

// Push appends e, evicting the oldest event when full. Extra is copied.
func (r *RingBuffer) Push(e Event) {
	if e.Extra != nil {
		e.Extra = maps.Clone(e.Extra)
	}
	r.mu.Lock()
	r.buf[r.head] = e
	r.head = (r.head + 1) % r.size
	if r.count < r.size {
		r.count++
	}
	r.mu.Unlock()
}

// at returns the i-th oldest event. Caller holds r.mu.
func (r *RingBuffer) at(i int) Event {
	start := 0
	if r.count == r.size {
		start = r.head
	}
	return r.buf[(start+i)%r.size]
}

// Snapshot returns all buffered events, oldest first.
func (r *RingBuffer) Snapshot() []Event {
	return r.Last(r.size)
}

// Last returns up to n of the newest events, oldest first.
func (r *RingBuffer) Last(n int) []Event {
	if n <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count == 0 {
		return nil
	}
	if n > r.count {
		n = r.count
	}
	out := make([]Event, 0, n)
	for i := r.count - n; i < r.count; i++ {
		out = append(out, r.at(i))
	}
	return out
}

// Filter returns buffered events of kind at or after since, oldest first.
// An empty kind matches every event.
func (r *RingBuffer) Filter(kind Kind, since time.Time) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for i := 0; i < r.count; i++ {
		e := r.at(i)
		if (kind == "" || e.Kind == kind) && !e.Time.Before(since) {
			out = append(out, e)
		}
	}
	return out
}

// Len is the number of buffered events.
func (r *RingBuffer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Cap is the ring capacity.
func (r *RingBuffer) Cap() int { return r.size }

// Stats counts buffered events by kind.
func (r *RingBuffer) Stats() map[Kind]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[Kind]int)
	for i := 0; i < r.count; i++ {
		counts[r.at(i).Kind]++
	}
	return counts
}
