package event

import (
	"context"
	"testing"
	"time"
)

func TestBusDeliversToSubscribers(t *testing.T) {
	bus := NewBus[int](context.Background(), BusOptions{Name: "test"})
	defer bus.Close()

	ch, cancel := bus.Subscribe()
	defer cancel()

	bus.Publish(42)

	select {
	case got := <-ch:
		if got != 42 {
			t.Fatalf("expected 42, got %d", got)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timed out waiting for event")
	}
}

func TestBusFilteredSubscription(t *testing.T) {
	bus := NewBus[int](context.Background(), BusOptions{Name: "test"})
	defer bus.Close()

	ch, cancel := bus.SubscribeFiltered(func(v int) bool { return v%2 == 0 })
	defer cancel()

	bus.Publish(1)
	bus.Publish(2)

	select {
	case got := <-ch:
		if got != 2 {
			t.Fatalf("expected filtered value 2, got %d", got)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timed out waiting for filtered event")
	}
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	bus := NewBus[int](context.Background(), BusOptions{Name: "test", SubscriberBufferSize: 1})
	defer bus.Close()

	_, cancel := bus.Subscribe()
	defer cancel()

	bus.Publish(1)
	bus.Publish(2)

	published, dropped := bus.Stats()
	if published != 2 {
		t.Fatalf("expected 2 published, got %d", published)
	}
	if dropped != 1 {
		t.Fatalf("expected 1 dropped, got %d", dropped)
	}
}

func TestBusCloseUnblocksSubscribers(t *testing.T) {
	bus := NewBus[int](context.Background(), BusOptions{Name: "test"})
	ch, _ := bus.Subscribe()
	bus.Close()

	if _, ok := <-ch; ok {
		t.Fatal("expected channel closed")
	}

	// Publishing after close is a no-op.
	bus.Publish(1)
}

func TestBusSubscribeAfterCloseReturnsClosedChannel(t *testing.T) {
	bus := NewBus[int](context.Background(), BusOptions{Name: "test"})
	bus.Close()

	ch, cancel := bus.Subscribe()
	defer cancel()
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel for late subscriber")
	}
}
