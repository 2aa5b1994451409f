package logging

import "sync"

const subscriberBuffer = 100

type hub struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]chan LogEntry
}

func newHub() *hub {
	return &hub{subs: make(map[uint64]chan LogEntry)}
}

func (h *hub) subscribe() (<-chan LogEntry, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	channel := make(chan LogEntry, subscriberBuffer)
	h.subs[id] = channel
	return channel, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if existing, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(existing)
		}
	}
}

func (h *hub) broadcast(entry LogEntry) {
	h.mu.Lock()
	channels := make([]chan LogEntry, 0, len(h.subs))
	for _, channel := range h.subs {
		channels = append(channels, channel)
	}
	h.mu.Unlock()

	for _, channel := range channels {
		select {
		case channel <- entry:
		default:
		}
	}
}
