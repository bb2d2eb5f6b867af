package service

import (
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func receive(t *testing.T, ch <-chan BusEvent) BusEvent {
	t.Helper()
	select {
	case event, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return event
	case <-time.After(time.Second):
		t.Fatal("no event")
		return BusEvent{}
	}
}

func TestEventBusFiltersByType(t *testing.T) {
	bus := NewEventBus(zaptest.NewLogger(t))
	done := make(chan struct{})
	go func() {
		bus.Start()
		close(done)
	}()

	_, all := bus.Subscribe()
	_, connOnly := bus.Subscribe(EventTypeConnection)

	bus.Publish(BusEvent{Type: EventTypeRaw})
	bus.Publish(BusEvent{Type: EventTypeConnection, Connected: true})

	if got := receive(t, all); got.Type != EventTypeRaw || got.Timestamp.IsZero() {
		t.Errorf("first event = %+v", got)
	}
	if got := receive(t, all); got.Type != EventTypeConnection {
		t.Errorf("second event = %+v", got)
	}
	if got := receive(t, connOnly); got.Type != EventTypeConnection {
		t.Errorf("filtered subscriber got %q", got.Type)
	}

	bus.Close()
	<-done

	if _, ok := <-all; ok {
		t.Error("subscriber channel still open after Close")
	}
	if bus.SubscriberCount() != 0 {
		t.Errorf("subscribers = %d after Close", bus.SubscriberCount())
	}

	// publishing after close is a no-op
	bus.Publish(BusEvent{Type: EventTypeState})
}

func TestEventBusUnsubscribe(t *testing.T) {
	bus := NewEventBus(zaptest.NewLogger(t))

	id, ch := bus.Subscribe()
	if bus.SubscriberCount() != 1 {
		t.Fatalf("subscribers = %d, want 1", bus.SubscriberCount())
	}
	bus.Unsubscribe(id)
	bus.Unsubscribe(id)

	if _, ok := <-ch; ok {
		t.Error("channel open after Unsubscribe")
	}
	if bus.SubscriberCount() != 0 {
		t.Errorf("subscribers = %d, want 0", bus.SubscriberCount())
	}
}
