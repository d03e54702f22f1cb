package decode

import (
	"fmt"
	"sync"
)

// EventKind identifies a control event.
type EventKind int

const (
	EventNone EventKind = iota
	EventStop
	EventPause
	EventSeek
	EventNextKey
	EventPrevKey
)

// String returns human-readable event name
func (k EventKind) String() string {
	switch k {
	case EventNone:
		return "none"
	case EventStop:
		return "stop"
	case EventPause:
		return "pause"
	case EventSeek:
		return "seek"
	case EventNextKey:
		return "next-key"
	case EventPrevKey:
		return "prev-key"
	default:
		return "unknown"
	}
}

// Event is a control command for the decode goroutine. Seconds carries the
// seek target for EventSeek and the reference time for the key-step events.
// Epoch tags the frames decoded after a seek so the consumer can tell them
// apart from frames of an earlier seek that were still in flight.
type Event struct {
	Kind    EventKind
	Seconds float64
	Epoch   uint64
}

// WithEpoch returns a copy of e tagged with epoch.
func (e Event) WithEpoch(epoch uint64) Event {
	e.Epoch = epoch
	return e
}

func (e Event) String() string {
	switch e.Kind {
	case EventSeek, EventNextKey, EventPrevKey:
		return fmt.Sprintf("%s(%.3f)", e.Kind, e.Seconds)
	default:
		return e.Kind.String()
	}
}

// Convenience constructors.
func None() Event               { return Event{Kind: EventNone} }
func Stop() Event               { return Event{Kind: EventStop} }
func Pause() Event              { return Event{Kind: EventPause} }
func Seek(target float64) Event { return Event{Kind: EventSeek, Seconds: target} }
func NextKey(ref float64) Event { return Event{Kind: EventNextKey, Seconds: ref} }
func PrevKey(ref float64) Event { return Event{Kind: EventPrevKey, Seconds: ref} }

// Mailbox is a single-slot event holder shared by the control goroutine and
// the decode goroutine. A new event overwrites whatever is pending; events
// are never queued. Every Set wakes a decode goroutine blocked on Pause.
type Mailbox struct {
	mu   sync.Mutex
	cond *sync.Cond
	ev   Event
}

// NewMailbox creates a mailbox holding initial.
func NewMailbox(initial Event) *Mailbox {
	m := &Mailbox{ev: initial}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Set replaces the pending event.
func (m *Mailbox) Set(ev Event) {
	m.mu.Lock()
	m.ev = ev
	m.mu.Unlock()
	m.cond.Broadcast()
}

// peek returns the pending event without consuming it.
func (m *Mailbox) peek() Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ev
}

// Take blocks while the pending event is Pause, then returns the pending
// event and resets the slot to None. Stop is left in place so that every
// later Take observes it too.
func (m *Mailbox) Take() Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	for m.ev.Kind == EventPause {
		m.cond.Wait()
	}
	ev := m.ev
	if ev.Kind != EventStop {
		m.ev = None()
	}
	return ev
}
