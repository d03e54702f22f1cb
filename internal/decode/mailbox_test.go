package decode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMailboxLastWriteWins(t *testing.T) {
	t.Parallel()
	m := NewMailbox(None())

	m.Set(Pause())
	m.Set(Seek(4.5))

	ev := m.Take()
	assert.Equal(t, EventSeek, ev.Kind)
	assert.Equal(t, 4.5, ev.Seconds)
	assert.Equal(t, EventNone, m.peek().Kind, "consumed event resets to none")
}

func TestMailboxTakeBlocksWhilePaused(t *testing.T) {
	t.Parallel()
	m := NewMailbox(Pause())

	got := make(chan Event, 1)
	go func() { got <- m.Take() }()

	select {
	case ev := <-got:
		t.Fatalf("Take returned %v while paused", ev)
	case <-time.After(30 * time.Millisecond):
	}

	m.Set(Seek(2).WithEpoch(7))
	select {
	case ev := <-got:
		assert.Equal(t, EventSeek, ev.Kind)
		assert.Equal(t, uint64(7), ev.Epoch)
	case <-time.After(time.Second):
		t.Fatal("Take did not wake after Set")
	}
}

func TestMailboxResumeWithNone(t *testing.T) {
	t.Parallel()
	m := NewMailbox(Pause())

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.Equal(t, EventNone, m.Take().Kind)
	}()

	m.Set(None())
	require.Eventually(t, func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)
}

func TestMailboxStopPersists(t *testing.T) {
	t.Parallel()
	m := NewMailbox(None())
	m.Set(Stop())

	assert.Equal(t, EventStop, m.Take().Kind)
	assert.Equal(t, EventStop, m.Take().Kind)
}

func TestEventString(t *testing.T) {
	t.Parallel()
	tests := []struct {
		ev   Event
		want string
	}{
		{None(), "none"},
		{Stop(), "stop"},
		{Pause(), "pause"},
		{Seek(1.5), "seek(1.500)"},
		{NextKey(2), "next-key(2.000)"},
		{PrevKey(0.25), "prev-key(0.250)"},
		{Event{Kind: EventKind(42)}, "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.ev.String())
	}
}
