package event

import (
	"context"
	"sync"
	"sync/atomic"

	"flowspec/internal/logging"
)

const defaultSubscriberBufferSize = 64

// BusOptions tunes a Bus. The zero value is usable.
type BusOptions struct {
	Name                 string
	SubscriberBufferSize int
	MaxSubscribers       int
	HistorySize          int
	Logger               *logging.Logger
}

// Bus fans events out to subscribers. Delivery is non-blocking: a
// subscriber that stops draining its channel loses events rather than
// stalling the publisher.
type Bus[T any] struct {
	mu           sync.Mutex
	subscribers  map[uint64]subscription[T]
	nextSubID    uint64
	closed       bool
	closeOnce    sync.Once
	options      BusOptions
	published    atomic.Int64
	dropped      atomic.Int64
	history      []T
	historyNext  int
	historyCount int
}

type subscription[T any] struct {
	id     uint64
	ch     chan T
	filter func(T) bool
}

// NewBus creates a bus that closes itself when ctx ends.
func NewBus[T any](ctx context.Context, opts BusOptions) *Bus[T] {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.SubscriberBufferSize <= 0 {
		opts.SubscriberBufferSize = defaultSubscriberBufferSize
	}
	bus := &Bus[T]{
		subscribers: make(map[uint64]subscription[T]),
		options:     opts,
	}
	if opts.HistorySize > 0 {
		bus.history = make([]T, opts.HistorySize)
	}
	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			bus.Close()
		}()
	}
	return bus
}

func (b *Bus[T]) Subscribe() (<-chan T, func()) {
	return b.SubscribeFiltered(nil)
}

// SubscribeFiltered registers a subscriber that only receives events the
// filter accepts. A nil filter accepts everything. The returned cancel
// function is idempotent.
func (b *Bus[T]) SubscribeFiltered(filter func(T) bool) (<-chan T, func()) {
	if b == nil {
		ch := make(chan T)
		close(ch)
		return ch, func() {}
	}

	ch := make(chan T, b.options.SubscriberBufferSize)
	id := atomic.AddUint64(&b.nextSubID, 1)

	b.mu.Lock()
	if b.closed || (b.options.MaxSubscribers > 0 && len(b.subscribers) >= b.options.MaxSubscribers) {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.subscribers[id] = subscription[T]{id: id, ch: ch, filter: filter}
	b.mu.Unlock()

	return ch, func() {
		b.removeSubscriber(id)
	}
}

func (b *Bus[T]) Publish(event T) {
	if b == nil {
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.appendHistoryLocked(event)
	subscribers := make([]subscription[T], 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subscribers = append(subscribers, sub)
	}
	b.mu.Unlock()

	b.published.Add(1)
	for _, sub := range subscribers {
		if !b.filterAllows(sub, event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			b.dropped.Add(1)
			b.logDrop()
		}
	}
}

func (b *Bus[T]) Close() {
	if b == nil {
		return
	}
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		subscribers := b.subscribers
		b.subscribers = make(map[uint64]subscription[T])
		b.mu.Unlock()

		for _, sub := range subscribers {
			close(sub.ch)
		}
	})
}

// ReplayLast copies up to count retained events into subscriber, oldest
// first. It is a no-op on a bus without history.
func (b *Bus[T]) ReplayLast(count int, subscriber chan<- T) {
	if b == nil || subscriber == nil {
		return
	}
	for _, event := range b.historySnapshot(count) {
		subscriber <- event
	}
}

// History returns the retained events in order.
func (b *Bus[T]) History() []T {
	return b.historySnapshot(0)
}

// Dropped reports how many deliveries were skipped because a subscriber
// channel was full.
func (b *Bus[T]) Dropped() int64 {
	if b == nil {
		return 0
	}
	return b.dropped.Load()
}

func (b *Bus[T]) removeSubscriber(id uint64) {
	if b == nil {
		return
	}
	b.mu.Lock()
	existing, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
	if ok {
		close(existing.ch)
	}
}

func (b *Bus[T]) filterAllows(sub subscription[T], event T) (allowed bool) {
	if sub.filter == nil {
		return true
	}
	defer func() {
		if recover() != nil {
			b.logWarn("subscriber filter panicked", nil)
			b.removeSubscriber(sub.id)
			allowed = false
		}
	}()
	return sub.filter(event)
}

func (b *Bus[T]) appendHistoryLocked(event T) {
	if len(b.history) == 0 {
		return
	}
	b.history[b.historyNext] = event
	b.historyNext = (b.historyNext + 1) % len(b.history)
	if b.historyCount < len(b.history) {
		b.historyCount++
	}
}

func (b *Bus[T]) historySnapshot(count int) []T {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.historyCount == 0 {
		return nil
	}
	size := b.historyCount
	if count > 0 && count < size {
		size = count
	}
	events := make([]T, 0, size)
	start := b.historyNext - size
	if start < 0 {
		start += len(b.history)
	}
	for i := 0; i < size; i++ {
		events = append(events, b.history[(start+i)%len(b.history)])
	}
	return events
}

func (b *Bus[T]) logDrop() {
	b.logWarn("subscriber channel full, event dropped", map[string]string{
		"dropped": "1",
	})
}

func (b *Bus[T]) logWarn(message string, fields map[string]string) {
	if b.options.Logger == nil {
		return
	}
	if fields == nil {
		fields = map[string]string{}
	}
	if b.options.Name != "" {
		fields["bus"] = b.options.Name
	}
	b.options.Logger.Warn(message, fields)
}
