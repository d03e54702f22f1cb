package audio

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jscyril/golang_clip_player/internal/ringbuf"
	playerrors "github.com/jscyril/golang_clip_player/pkg/errors"
)

// fakeDevice records calls and lets the test drive the callback.
type fakeDevice struct {
	mu       sync.Mutex
	fill     FillFunc
	playing  bool
	plays    int
	pauses   int
	closed   bool
	startErr error
	playErr  error
}

func (d *fakeDevice) Start(fill FillFunc) error {
	if d.startErr != nil {
		return d.startErr
	}
	d.fill = fill
	return nil
}

func (d *fakeDevice) Play() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.plays++
	d.playing = true
	return d.playErr
}

func (d *fakeDevice) Pause() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pauses++
	d.playing = false
	return nil
}

func (d *fakeDevice) SampleRate() int { return 48000 }
func (d *fakeDevice) Channels() int   { return 2 }

func (d *fakeDevice) Close() error {
	d.closed = true
	return nil
}

func (d *fakeDevice) callback(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = 99 // must be overwritten
	}
	d.fill(out)
	return out
}

func newTestSink(t *testing.T) (*Sink, *fakeDevice, *ringbuf.Ring[float32]) {
	t.Helper()
	dev := &fakeDevice{}
	sink, err := NewSink(dev, nil)
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	q := ringbuf.New[float32](4096)
	sink.SetQueue(q)
	return sink, dev, q
}

func TestNewSinkDefaults(t *testing.T) {
	sink, dev, _ := newTestSink(t)

	if sink.Gain() != 1 {
		t.Errorf("Expected gain 1, got %f", sink.Gain())
	}
	if sink.Playing() {
		t.Error("Sink should start paused")
	}
	if dev.fill == nil {
		t.Error("Callback was not registered with the device")
	}
	if sink.SampleRate() != 48000 || sink.Channels() != 2 {
		t.Errorf("Unexpected device format %d/%d", sink.SampleRate(), sink.Channels())
	}
}

func TestNewSinkStartError(t *testing.T) {
	dev := &fakeDevice{startErr: errors.New("no device")}
	_, err := NewSink(dev, nil)
	if err == nil {
		t.Fatal("Expected an error when the device cannot start")
	}
	var perr *playerrors.PlayerError
	if !errors.As(err, &perr) || perr.Op != "audio_start" {
		t.Errorf("Expected PlayerError for audio_start, got %v", err)
	}
}

func TestFillUnderrunProducesSilence(t *testing.T) {
	sink, dev, _ := newTestSink(t)

	out := dev.callback(512)
	if len(out) != 512 {
		t.Fatalf("Expected 512 samples, got %d", len(out))
	}
	for i, v := range out {
		if v != 0 {
			t.Fatalf("Sample %d = %f, want silence", i, v)
		}
	}

	stats := sink.Stats()
	if stats.Underruns != 1 || stats.Silence != 512 {
		t.Errorf("Expected one underrun of 512 samples, got %+v", stats)
	}
	if !sink.CallbackRan() {
		t.Error("Callback flag should be set after a fill")
	}
}

func TestFillPartialQueue(t *testing.T) {
	sink, dev, q := newTestSink(t)
	q.PushSlice([]float32{0.1, 0.2, 0.3})

	out := dev.callback(6)
	want := []float32{0.1, 0.2, 0.3, 0, 0, 0}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("Sample %d = %f, want %f", i, out[i], want[i])
		}
	}
	if sink.Stats().Samples != 3 {
		t.Errorf("Expected 3 samples consumed, got %d", sink.Stats().Samples)
	}
}

func TestFillAppliesGain(t *testing.T) {
	tests := []struct {
		name string
		gain float64
		want float32
	}{
		{"unity", 1, 0.5},
		{"mute", 0, 0},
		{"half", 0.5, 0.25},
		{"boost is not clamped", 3, 1.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink, dev, q := newTestSink(t)
			if err := sink.SetGain(tt.gain); err != nil {
				t.Fatalf("SetGain(%f): %v", tt.gain, err)
			}
			q.PushSlice([]float32{0.5, -0.5})

			out := dev.callback(2)
			if out[0] != tt.want || out[1] != -tt.want {
				t.Errorf("Got %v, want ±%f", out, tt.want)
			}
		})
	}
}

func TestSetGainRejectsNegative(t *testing.T) {
	sink, _, _ := newTestSink(t)

	if err := sink.SetGain(-0.1); !errors.Is(err, playerrors.ErrInvalidGain) {
		t.Errorf("SetGain(-0.1) error = %v, want ErrInvalidGain", err)
	}
	if sink.Gain() != 1 {
		t.Errorf("Rejected gain must not be stored, got %f", sink.Gain())
	}
}

func TestPlayPauseAreIdempotent(t *testing.T) {
	sink, dev, _ := newTestSink(t)

	sink.Play()
	sink.Play()
	sink.Pause()
	sink.Pause()

	if dev.plays != 1 || dev.pauses != 1 {
		t.Errorf("Expected one play and one pause, got %d/%d", dev.plays, dev.pauses)
	}
}

func TestDeviceErrorsAreNotFatal(t *testing.T) {
	sink, dev, _ := newTestSink(t)
	dev.playErr = errors.New("device lost")

	sink.Play()
	if !sink.Playing() {
		t.Error("Sink should still consider itself playing")
	}
}

func TestFlushDiscardsQueuedSamples(t *testing.T) {
	sink, dev, q := newTestSink(t)
	q.PushSlice(make([]float32, 100))

	if n := sink.Flush(); n != 100 {
		t.Errorf("Flush() = %d, want 100", n)
	}
	if !q.IsEmpty() {
		t.Error("Queue should be empty after flush")
	}
	dev.callback(4)
	if sink.Stats().Underruns != 1 {
		t.Error("Fill after flush should underrun")
	}

	sink.SetQueue(nil)
	if n := sink.Flush(); n != 0 {
		t.Errorf("Flush() without queue = %d, want 0", n)
	}
}

func TestWaitCallback(t *testing.T) {
	sink, dev, _ := newTestSink(t)

	sink.ResetCallbackFlag()
	if sink.WaitCallback(5 * time.Millisecond) {
		t.Error("WaitCallback should time out without a callback")
	}

	go func() {
		time.Sleep(5 * time.Millisecond)
		dev.callback(8)
	}()
	if !sink.WaitCallback(time.Second) {
		t.Error("WaitCallback should observe the callback")
	}
}

func TestCloseReleasesDevice(t *testing.T) {
	sink, dev, _ := newTestSink(t)
	sink.Play()

	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !dev.closed || sink.Playing() {
		t.Error("Close should pause and close the device")
	}
	out := dev.callback(2)
	if out[0] != 0 || out[1] != 0 {
		t.Error("Detached sink should produce silence")
	}
}

// gainDevice is a fakeDevice with its own gain stage.
type gainDevice struct {
	fakeDevice
	gains []float64
}

func (d *gainDevice) SetGain(g float64) error {
	d.gains = append(d.gains, g)
	return nil
}

func TestSetGainDrivesDeviceStage(t *testing.T) {
	dev := &gainDevice{}
	sink, err := NewSink(dev, nil)
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	q := ringbuf.New[float32](16)
	sink.SetQueue(q)

	if err := sink.SetGain(0.5); err != nil {
		t.Fatalf("SetGain: %v", err)
	}
	if len(dev.gains) != 1 || dev.gains[0] != 0.5 {
		t.Errorf("Device gains = %v, want [0.5]", dev.gains)
	}

	q.PushSlice([]float32{0.5, -0.5})
	out := dev.callback(2)
	if out[0] != 0.5 || out[1] != -0.5 {
		t.Errorf("Fill scaled samples itself: %v", out)
	}

	if err := sink.SetGain(-1); !errors.Is(err, playerrors.ErrInvalidGain) {
		t.Errorf("SetGain(-1) error = %v, want ErrInvalidGain", err)
	}
	if len(dev.gains) != 1 {
		t.Error("Rejected gain must not reach the device")
	}
}
