package events

import (
	"sync"
	"time"

	"github.com/jscyril/golang_clip_player/api"
)

// EventBus handles event distribution using channels
type EventBus struct {
	subscribers map[api.EventType][]chan api.PlayerEvent
	mu          sync.RWMutex
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[api.EventType][]chan api.PlayerEvent),
	}
}

// Subscribe returns a channel for receiving events of the specified type
func (b *EventBus) Subscribe(eventType api.EventType) <-chan api.PlayerEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan api.PlayerEvent, 10)
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)
	return ch
}

// SubscribeAll returns a channel for receiving all event types
func (b *EventBus) SubscribeAll() <-chan api.PlayerEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan api.PlayerEvent, 20)
	// Subscribe to all known event types
	for _, eventType := range []api.EventType{
		api.EventStateChange,
		api.EventSeekComplete,
		api.EventEndOfMedia,
		api.EventDecodeError,
		api.EventMediaOpened,
	} {
		b.subscribers[eventType] = append(b.subscribers[eventType], ch)
	}
	return ch
}

// Publish broadcasts an event to all subscribers of that event type. A nil
// bus discards the event.
func (b *EventBus) Publish(event api.PlayerEvent) {
	if b == nil {
		return
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	if subs, ok := b.subscribers[event.Type]; ok {
		for _, ch := range subs {
			select {
			case ch <- event:
			default:
				// Channel full, skip to prevent blocking
			}
		}
	}
}

// Unsubscribe removes a subscriber channel
func (b *EventBus) Unsubscribe(ch <-chan api.PlayerEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subscribers {
		for i, sub := range subs {
			if sub == ch {
				b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
}

// Close closes all subscriber channels
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Track closed channels to avoid closing the same channel twice
	closed := make(map[chan api.PlayerEvent]bool)

	for _, subs := range b.subscribers {
		for _, ch := range subs {
			if !closed[ch] {
				close(ch)
				closed[ch] = true
			}
		}
	}
	b.subscribers = make(map[api.EventType][]chan api.PlayerEvent)
}
