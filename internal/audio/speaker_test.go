package audio

import (
	"math"
	"testing"
)

func TestSpeakerChainAppliesLinearGain(t *testing.T) {
	tests := []struct {
		name string
		gain float64
		want float64
	}{
		{"unity", 1, 0.5},
		{"mute", 0, 0},
		{"half", 0.5, 0.25},
		{"boost", 2, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewSpeakerDevice(48000, 0)
			d.gain = tt.gain
			ctrl := d.chain(func(out []float32) {
				for i := range out {
					out[i] = 0.5
				}
			})
			ctrl.Paused = false

			samples := make([][2]float64, 4)
			if n, ok := ctrl.Stream(samples); n != 4 || !ok {
				t.Fatalf("Stream() = %d, %v", n, ok)
			}
			for i, s := range samples {
				if math.Abs(s[0]-tt.want) > 1e-9 || math.Abs(s[1]-tt.want) > 1e-9 {
					t.Errorf("Sample %d = %v, want %f", i, s, tt.want)
				}
			}
		})
	}
}

func TestSpeakerGainBeforeStart(t *testing.T) {
	d := NewSpeakerDevice(48000, 0)
	if err := d.SetGain(0.25); err != nil {
		t.Fatalf("SetGain before start: %v", err)
	}
	d.chain(func(out []float32) {})
	if d.volume.Gain != 0.25-1 {
		t.Errorf("Stage gain = %f, want %f", d.volume.Gain, 0.25-1)
	}
}
