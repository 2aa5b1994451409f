package logging

import "sync"

// RingBuffer retains the most recent entries up to a fixed capacity.
type RingBuffer struct {
	mu       sync.Mutex
	entries  []LogEntry
	start    int
	count    int
	capacity int
}

func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	return &RingBuffer{
		entries:  make([]LogEntry, capacity),
		capacity: capacity,
	}
}

func (b *RingBuffer) Add(entry LogEntry) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	index := (b.start + b.count) % b.capacity
	b.entries[index] = entry
	if b.count < b.capacity {
		b.count++
		return
	}
	b.start = (b.start + 1) % b.capacity
}

// List returns retained entries oldest first.
func (b *RingBuffer) List() []LogEntry {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]LogEntry, 0, b.count)
	for i := 0; i < b.count; i++ {
		out = append(out, b.entries[(b.start+i)%b.capacity])
	}
	return out
}
