package event

import (
	"context"
	"testing"
	"time"
)

type runEvent struct {
	UploadID string
	Message  string
}

func receiveEvent(t *testing.T, ch <-chan runEvent) runEvent {
	t.Helper()
	select {
	case event, ok := <-ch:
		if !ok {
			t.Fatal("channel closed before event arrived")
		}
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return runEvent{}
}

func TestBusDeliversToSubscriber(t *testing.T) {
	bus := NewBus[runEvent](context.Background(), BusOptions{Name: "runs"})
	defer bus.Close()

	ch, cancel := bus.Subscribe()
	defer cancel()

	bus.Publish(runEvent{UploadID: "u1", Message: "analyzing"})

	got := receiveEvent(t, ch)
	if got.UploadID != "u1" || got.Message != "analyzing" {
		t.Fatalf("unexpected event: %+v", got)
	}
}

func TestBusFilteredSubscription(t *testing.T) {
	bus := NewBus[runEvent](context.Background(), BusOptions{})
	defer bus.Close()

	ch, cancel := bus.SubscribeFiltered(func(event runEvent) bool {
		return event.UploadID == "u2"
	})
	defer cancel()

	bus.Publish(runEvent{UploadID: "u1", Message: "ignored"})
	bus.Publish(runEvent{UploadID: "u2", Message: "matched"})

	got := receiveEvent(t, ch)
	if got.UploadID != "u2" {
		t.Fatalf("filter let through %+v", got)
	}
}

func TestBusHistoryReplay(t *testing.T) {
	bus := NewBus[runEvent](context.Background(), BusOptions{HistorySize: 2})
	defer bus.Close()

	bus.Publish(runEvent{Message: "first"})
	bus.Publish(runEvent{Message: "second"})
	bus.Publish(runEvent{Message: "third"})

	history := bus.History()
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].Message != "second" || history[1].Message != "third" {
		t.Fatalf("history order wrong: %+v", history)
	}

	replay := make(chan runEvent, 2)
	bus.ReplayLast(1, replay)
	close(replay)
	got := <-replay
	if got.Message != "third" {
		t.Fatalf("replayed %q, want third", got.Message)
	}
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	bus := NewBus[runEvent](context.Background(), BusOptions{SubscriberBufferSize: 1})
	defer bus.Close()

	_, cancel := bus.Subscribe()
	defer cancel()

	bus.Publish(runEvent{Message: "fits"})
	bus.Publish(runEvent{Message: "dropped"})

	if bus.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", bus.Dropped())
	}
}

func TestBusCloseStopsDelivery(t *testing.T) {
	bus := NewBus[runEvent](context.Background(), BusOptions{})
	ch, cancel := bus.Subscribe()
	defer cancel()

	bus.Close()
	bus.Close()
	bus.Publish(runEvent{Message: "after close"})

	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel after bus close")
	}
}

func TestBusContextCancelCloses(t *testing.T) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	bus := NewBus[runEvent](ctx, BusOptions{})
	ch, cancel := bus.Subscribe()
	defer cancel()

	cancelCtx()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel close, got event")
		}
	case <-time.After(time.Second):
		t.Fatal("bus did not close after context cancel")
	}
}
