package events

import (
	"testing"
	"time"

	"github.com/jscyril/golang_clip_player/api"
)

func TestPublishDeliversToTypeSubscribers(t *testing.T) {
	bus := NewEventBus()
	seeks := bus.Subscribe(api.EventSeekComplete)
	states := bus.Subscribe(api.EventStateChange)

	bus.Publish(api.PlayerEvent{Type: api.EventSeekComplete, Payload: 5.0})

	select {
	case ev := <-seeks:
		if ev.Payload.(float64) != 5.0 {
			t.Errorf("Expected payload 5.0, got %v", ev.Payload)
		}
		if ev.At.IsZero() {
			t.Error("Publish should stamp the event time")
		}
	case <-time.After(time.Second):
		t.Fatal("Seek subscriber did not receive the event")
	}

	select {
	case ev := <-states:
		t.Errorf("State subscriber received unrelated event %v", ev)
	default:
	}
}

func TestSubscribeAllReceivesEveryType(t *testing.T) {
	bus := NewEventBus()
	all := bus.SubscribeAll()

	bus.Publish(api.PlayerEvent{Type: api.EventStateChange, Payload: api.StatePlaying})
	bus.Publish(api.PlayerEvent{Type: api.EventEndOfMedia})

	for i := 0; i < 2; i++ {
		select {
		case <-all:
		case <-time.After(time.Second):
			t.Fatalf("Expected 2 events, got %d", i)
		}
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	bus := NewEventBus()
	bus.Subscribe(api.EventDecodeError)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(api.PlayerEvent{Type: api.EventDecodeError})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
}

func TestNilBusDiscards(t *testing.T) {
	var bus *EventBus
	bus.Publish(api.PlayerEvent{Type: api.EventEndOfMedia})
}

func TestUnsubscribeAndClose(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe(api.EventMediaOpened)
	bus.Unsubscribe(ch)

	bus.Publish(api.PlayerEvent{Type: api.EventMediaOpened})
	select {
	case <-ch:
		t.Error("Unsubscribed channel received an event")
	default:
	}

	other := bus.SubscribeAll()
	bus.Close()
	if _, ok := <-other; ok {
		t.Error("Close should close subscriber channels")
	}
}
