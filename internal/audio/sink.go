// Package audio implements the output side of the audio rail: a Sink that
// the hardware callback pulls interleaved samples from, and the Device that
// owns the hardware stream.
package audio

import (
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jscyril/golang_clip_player/internal/ringbuf"
	playerrors "github.com/jscyril/golang_clip_player/pkg/errors"
)

// FillFunc is called from the device's real-time callback with a buffer of
// interleaved samples to fill completely.
type FillFunc func(out []float32)

// Device is a hardware output stream running at its native format. Start
// registers the fill callback with the stream in a paused state.
type Device interface {
	Start(fill FillFunc) error
	Play() error
	Pause() error
	SampleRate() int
	Channels() int
	Close() error
}

// GainDevice is a Device that applies gain in its own output stage. When
// the sink's device implements it, Fill passes samples through unscaled.
type GainDevice interface {
	Device
	SetGain(gain float64) error
}

// Stats counts what the callback has done since the sink was created.
type Stats struct {
	Callbacks int64
	Samples   int64
	Underruns int64
	Silence   int64 // zero samples written because the queue ran dry
	Flushed   int64
}

// Sink drains the audio sample queue on the device callback, applying gain
// and filling silence on underrun. It never blocks the callback on the
// decode goroutine.
type Sink struct {
	log     *slog.Logger
	dev     Device
	devGain GainDevice // nil when the sink scales samples itself

	// mu guards the consumer role on queue. Fill and Flush are the only
	// consumers and each holds it for a bounded, non-blocking pop.
	mu    sync.Mutex
	queue *ringbuf.Ring[float32]

	gain    atomic.Uint64 // math.Float64bits
	called  atomic.Bool
	playing atomic.Bool

	callbacks atomic.Int64
	samples   atomic.Int64
	underruns atomic.Int64
	silence   atomic.Int64
	flushed   atomic.Int64
}

// NewSink creates a sink on dev and registers its callback. The stream stays
// paused until Play. If log is nil, slog.Default() is used.
func NewSink(dev Device, log *slog.Logger) (*Sink, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Sink{
		log: log.With("component", "audio"),
		dev: dev,
	}
	s.gain.Store(math.Float64bits(1))
	s.devGain, _ = dev.(GainDevice)
	if err := dev.Start(s.Fill); err != nil {
		return nil, playerrors.NewPlayerError("audio_start", "", err)
	}
	return s, nil
}

// SampleRate returns the device rate the decode side must resample to.
func (s *Sink) SampleRate() int { return s.dev.SampleRate() }

// Channels returns the device channel count.
func (s *Sink) Channels() int { return s.dev.Channels() }

// SetQueue swaps the queue the callback drains, as happens when a new media
// handle is opened. Passing nil detaches the sink; the callback then only
// produces silence.
func (s *Sink) SetQueue(q *ringbuf.Ring[float32]) {
	s.mu.Lock()
	s.queue = q
	s.mu.Unlock()
}

// Fill pops up to len(out) samples, scales them by the gain unless the
// device does that, and zero-fills whatever the queue could not provide.
func (s *Sink) Fill(out []float32) {
	s.mu.Lock()
	n := 0
	if s.queue != nil {
		n = s.queue.PopSlice(out)
	}
	s.mu.Unlock()

	if gain := float32(s.Gain()); s.devGain == nil && gain != 1 {
		for i := range out[:n] {
			out[i] *= gain
		}
	}
	if n < len(out) {
		clear(out[n:])
		s.underruns.Add(1)
		s.silence.Add(int64(len(out) - n))
	}

	s.samples.Add(int64(n))
	s.callbacks.Add(1)
	s.called.Store(true)
}

// Flush discards every queued sample and returns how many were dropped.
// Safe to call from the producer goroutine: it takes the consumer role for
// the duration of the clear.
func (s *Sink) Flush() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue == nil {
		return 0
	}
	n := s.queue.Clear()
	s.flushed.Add(int64(n))
	if n > 0 {
		s.log.Debug("flushed queued audio", "samples", n)
	}
	return n
}

// Play starts the hardware stream. Device failures are logged, not
// returned; the pipeline keeps running without sound.
func (s *Sink) Play() {
	if s.playing.Swap(true) {
		return
	}
	if err := s.dev.Play(); err != nil {
		s.log.Error("audio device play failed", "error", err)
	}
}

// Pause stops the hardware stream.
func (s *Sink) Pause() {
	if !s.playing.Swap(false) {
		return
	}
	if err := s.dev.Pause(); err != nil {
		s.log.Error("audio device pause failed", "error", err)
	}
}

// Playing reports whether the stream has been started.
func (s *Sink) Playing() bool {
	return s.playing.Load()
}

// SetGain sets the linear gain applied to every sample. Values above 1
// amplify and are not clamped.
func (s *Sink) SetGain(gain float64) error {
	if gain < 0 || math.IsNaN(gain) {
		return playerrors.ErrInvalidGain
	}
	if s.devGain != nil {
		if err := s.devGain.SetGain(gain); err != nil {
			return playerrors.NewPlayerError("audio_gain", "", err)
		}
	}
	s.gain.Store(math.Float64bits(gain))
	return nil
}

// Gain returns the current linear gain.
func (s *Sink) Gain() float64 {
	return math.Float64frombits(s.gain.Load())
}

// ResetCallbackFlag clears the "a callback has run" flag.
func (s *Sink) ResetCallbackFlag() {
	s.called.Store(false)
}

// CallbackRan reports whether a callback has run since the last reset.
func (s *Sink) CallbackRan() bool {
	return s.called.Load()
}

// WaitCallback polls until a callback has run since the last reset or the
// timeout expires, and reports which happened.
func (s *Sink) WaitCallback(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for !s.called.Load() {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
	return true
}

// Stats returns a snapshot of the callback counters.
func (s *Sink) Stats() Stats {
	return Stats{
		Callbacks: s.callbacks.Load(),
		Samples:   s.samples.Load(),
		Underruns: s.underruns.Load(),
		Silence:   s.silence.Load(),
		Flushed:   s.flushed.Load(),
	}
}

// Close stops and releases the device.
func (s *Sink) Close() error {
	s.Pause()
	s.SetQueue(nil)
	return s.dev.Close()
}
