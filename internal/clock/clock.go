// Package clock provides the software playback clock that video presentation
// is paced against.
package clock

import "time"

// Clock accumulates played time. While running, Now reports the accumulated
// time plus the wall time elapsed since Start. A Clock is not safe for
// concurrent use; the playback orchestrator is its only owner.
type Clock struct {
	played  time.Duration
	start   time.Time
	running bool
	now     func() time.Time
}

// Option configures a Clock.
type Option func(*Clock)

// WithNow replaces the wall-clock source, used by tests.
func WithNow(now func() time.Time) Option {
	return func(c *Clock) {
		c.now = now
	}
}

// New creates a stopped clock at zero.
func New(opts ...Option) *Clock {
	c := &Clock{now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start begins accumulating wall time. Calling Start on a running clock has
// no effect.
func (c *Clock) Start() {
	if c.running {
		return
	}
	c.start = c.now()
	c.running = true
}

// Stop folds the running interval into the accumulator.
func (c *Clock) Stop() {
	if !c.running {
		return
	}
	c.played += c.now().Sub(c.start)
	c.running = false
}

// Set stops the clock and overwrites the accumulated time.
func (c *Clock) Set(seconds float64) {
	c.Stop()
	c.played = time.Duration(seconds * float64(time.Second))
}

// Reset stops the clock and rewinds it to zero.
func (c *Clock) Reset() {
	c.Set(0)
}

// Now returns the current clock time in seconds.
func (c *Clock) Now() float64 {
	return c.Elapsed().Seconds()
}

// Elapsed returns the current clock time as a duration.
func (c *Clock) Elapsed() time.Duration {
	if c.running {
		return c.played + c.now().Sub(c.start)
	}
	return c.played
}

// Running reports whether the clock is accumulating time.
func (c *Clock) Running() bool {
	return c.running
}
