package events

import (
	"fmt"
	"testing"
	"time"

	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/pkg/types"
)

func TestBusDeliversToAllSubscribers(t *testing.T) {
	bus := NewBus()

	first, cancelFirst := bus.Subscribe()
	second, cancelSecond := bus.Subscribe()
	defer cancelFirst()
	defer cancelSecond()

	bus.Publish(types.Event{Type: types.EventOccupancy, Status: "12/24"})

	for name, ch := range map[string]<-chan types.Event{"first": first, "second": second} {
		select {
		case ev := <-ch:
			if ev.Type != types.EventOccupancy {
				t.Fatalf("%s: unexpected event type %q", name, ev.Type)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s: timeout waiting for event", name)
		}
	}
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()

	ch, cancel := bus.Subscribe()
	if got := bus.SubscriberCount(); got != 1 {
		t.Fatalf("expected 1 subscriber, got %d", got)
	}

	cancel()
	cancel() // second cancel is a no-op

	if got := bus.SubscriberCount(); got != 0 {
		t.Fatalf("expected 0 subscribers after cancel, got %d", got)
	}
	if _, open := <-ch; open {
		t.Fatal("expected channel closed after cancel")
	}

	// Publishing after unsubscribe must not panic.
	bus.Publish(types.Event{Type: types.EventMonitorStopped})
}

func TestBusDropsOldestWhenSubscriberLags(t *testing.T) {
	var drops int
	bus := NewBus(WithSubscriberBuffer(2), WithDropHook(func() { drops++ }))

	ch, cancel := bus.Subscribe()
	defer cancel()

	for i := 0; i < 5; i++ {
		bus.Publish(types.Event{Type: types.EventCountdown, Status: fmt.Sprintf("tick-%d", i)})
	}

	if drops != 3 {
		t.Fatalf("expected 3 dropped events, got %d", drops)
	}

	// The two newest events survive.
	got := []string{(<-ch).Status, (<-ch).Status}
	if got[0] != "tick-3" || got[1] != "tick-4" {
		t.Fatalf("expected newest events retained, got %v", got)
	}
}

func TestBusPublishDoesNotBlockWithoutSubscribers(t *testing.T) {
	bus := NewBus()
	done := make(chan struct{})
	go func() {
		bus.Publish(types.Event{Type: types.EventPollFailed})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked with no subscribers")
	}
}

func TestMultiFansOut(t *testing.T) {
	ring := NewRing(4)
	bus := NewBus()
	ch, cancel := bus.Subscribe()
	defer cancel()

	multi := NewMulti(ring, bus, nil, NoopRecorder{})
	multi.Record(types.Event{Type: types.EventTrigger})

	if got := ring.Recent(0); len(got) != 1 || got[0].Type != types.EventTrigger {
		t.Fatalf("expected ring to record the event, got %v", got)
	}
	select {
	case ev := <-ch:
		if ev.Type != types.EventTrigger {
			t.Fatalf("unexpected event type %q", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for bus delivery")
	}
}
