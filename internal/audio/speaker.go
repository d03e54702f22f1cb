package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/effects"
	"github.com/faiface/beep/speaker"
)

// SpeakerDevice plays through the system speaker via beep. The stream is
// always stereo; the callback fills interleaved left/right samples.
type SpeakerDevice struct {
	sampleRate beep.SampleRate
	buffer     time.Duration

	mu     sync.Mutex
	ctrl   *beep.Ctrl
	volume *effects.Gain
	gain   float64
	fill   FillFunc
	buf    []float32
}

var (
	_ Device     = (*SpeakerDevice)(nil)
	_ GainDevice = (*SpeakerDevice)(nil)
)

// NewSpeakerDevice creates a device at sampleRate with the given hardware
// buffer length. Nothing is opened until Start.
func NewSpeakerDevice(sampleRate int, buffer time.Duration) *SpeakerDevice {
	if buffer <= 0 {
		buffer = time.Second / 10
	}
	return &SpeakerDevice{
		sampleRate: beep.SampleRate(sampleRate),
		buffer:     buffer,
		gain:       1,
	}
}

// chain builds the paused control and gain stage around fill. The result is
// what Start hands to the speaker.
func (d *SpeakerDevice) chain(fill FillFunc) *beep.Ctrl {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fill = fill
	d.volume = &effects.Gain{Streamer: beep.StreamerFunc(d.stream), Gain: d.gain - 1}
	d.ctrl = &beep.Ctrl{Streamer: d.volume, Paused: true}
	return d.ctrl
}

// Start initialises the speaker and installs fill behind a paused control.
func (d *SpeakerDevice) Start(fill FillFunc) error {
	if err := speaker.Init(d.sampleRate, d.sampleRate.N(d.buffer)); err != nil {
		return fmt.Errorf("speaker init at %d Hz: %w", d.sampleRate, err)
	}
	speaker.Play(d.chain(fill))
	return nil
}

// stream runs on the speaker goroutine with the speaker lock held.
func (d *SpeakerDevice) stream(samples [][2]float64) (int, bool) {
	need := len(samples) * 2
	if cap(d.buf) < need {
		d.buf = make([]float32, need)
	}
	buf := d.buf[:need]
	d.fill(buf)
	for i := range samples {
		samples[i][0] = float64(buf[2*i])
		samples[i][1] = float64(buf[2*i+1])
	}
	return len(samples), true
}

func (d *SpeakerDevice) setPaused(paused bool) error {
	d.mu.Lock()
	ctrl := d.ctrl
	d.mu.Unlock()
	if ctrl == nil {
		return fmt.Errorf("speaker not started")
	}
	speaker.Lock()
	ctrl.Paused = paused
	speaker.Unlock()
	return nil
}

// SetGain implements GainDevice. effects.Gain scales by 1+Gain, so a linear
// gain g is stored as g-1.
func (d *SpeakerDevice) SetGain(gain float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gain = gain
	if d.volume == nil {
		return nil
	}
	speaker.Lock()
	d.volume.Gain = gain - 1
	speaker.Unlock()
	return nil
}

// Play resumes the callback.
func (d *SpeakerDevice) Play() error { return d.setPaused(false) }

// Pause suspends the callback; the speaker outputs silence meanwhile.
func (d *SpeakerDevice) Pause() error { return d.setPaused(true) }

// SampleRate implements Device.
func (d *SpeakerDevice) SampleRate() int { return int(d.sampleRate) }

// Channels implements Device. beep always mixes in stereo.
func (d *SpeakerDevice) Channels() int { return 2 }

// Close clears the mixer and shuts the speaker down.
func (d *SpeakerDevice) Close() error {
	d.mu.Lock()
	started := d.ctrl != nil
	d.ctrl = nil
	d.volume = nil
	d.mu.Unlock()
	if started {
		speaker.Clear()
		speaker.Close()
	}
	return nil
}
