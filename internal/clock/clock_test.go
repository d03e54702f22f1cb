package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeWall is a manually advanced time source.
type fakeWall struct {
	t time.Time
}

func (f *fakeWall) now() time.Time          { return f.t }
func (f *fakeWall) advance(d time.Duration) { f.t = f.t.Add(d) }

func newFakeWall() *fakeWall { return &fakeWall{t: time.Unix(1000, 0)} }

func newTestClock(w *fakeWall) *Clock { return New(WithNow(w.now)) }

func TestClockStartsStoppedAtZero(t *testing.T) {
	t.Parallel()
	w := newFakeWall()
	c := newTestClock(w)

	w.advance(time.Second)
	assert.False(t, c.Running())
	assert.Equal(t, 0.0, c.Now())
}

func TestClockAccumulatesWhileRunning(t *testing.T) {
	t.Parallel()
	w := newFakeWall()
	c := newTestClock(w)

	c.Start()
	w.advance(1500 * time.Millisecond)
	assert.InDelta(t, 1.5, c.Now(), 1e-9)

	c.Stop()
	w.advance(10 * time.Second)
	assert.InDelta(t, 1.5, c.Now(), 1e-9, "stopped clock must not advance")

	c.Start()
	w.advance(500 * time.Millisecond)
	assert.InDelta(t, 2.0, c.Now(), 1e-9)
}

func TestClockStartIsIdempotent(t *testing.T) {
	t.Parallel()
	w := newFakeWall()
	c := newTestClock(w)

	c.Start()
	w.advance(time.Second)
	c.Start()
	w.advance(time.Second)
	assert.InDelta(t, 2.0, c.Now(), 1e-9)
}

func TestClockStopIsIdempotent(t *testing.T) {
	t.Parallel()
	w := newFakeWall()
	c := newTestClock(w)

	c.Start()
	w.advance(time.Second)
	c.Stop()
	c.Stop()
	assert.InDelta(t, 1.0, c.Now(), 1e-9)
}

func TestClockSetStopsAndOverwrites(t *testing.T) {
	t.Parallel()
	w := newFakeWall()
	c := newTestClock(w)

	c.Start()
	w.advance(3 * time.Second)
	c.Set(5.0)
	assert.False(t, c.Running())
	assert.InDelta(t, 5.0, c.Now(), 1e-9)

	c.Start()
	w.advance(250 * time.Millisecond)
	assert.InDelta(t, 5.25, c.Now(), 1e-9)

	c.Reset()
	assert.Equal(t, 0.0, c.Now())
}
