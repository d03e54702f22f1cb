// Package media defines the data that flows through the playback pipeline:
// stream metadata, decoded video frames, resampled audio chunks and the
// opaque packet/frame values exchanged with a decode backend.
package media

import "math"

// Queue sizing defaults: roughly one second of lookahead for both rails.
const (
	DefaultVideoQueueFrames   = 30
	DefaultAudioQueueSeconds  = 1.0
	DefaultVideoPacketBacklog = 50
	DefaultAudioPacketBacklog = 100
)

// Rational is a time base in seconds per tick (Num/Den).
type Rational struct {
	Num int
	Den int
}

// Seconds converts a tick count in this time base to seconds.
func (r Rational) Seconds(ticks int64) float64 {
	if r.Den == 0 {
		return 0
	}
	num := r.Num
	if num == 0 {
		num = 1
	}
	return float64(ticks) * float64(num) / float64(r.Den)
}

// Ticks converts seconds to the nearest tick at or below the value in this
// time base.
func (r Rational) Ticks(seconds float64) int64 {
	num := r.Num
	if num == 0 {
		num = 1
	}
	// Small epsilon keeps exact multiples (5.0s at 1/90000) from rounding down.
	return int64(math.Floor(seconds*float64(r.Den)/float64(num) + 1e-9))
}

// StreamInfo describes an opened media handle: which streams were selected
// and how their timestamps map to seconds.
type StreamInfo struct {
	Path      string
	Container string
	Title     string

	VideoStream   int
	VideoCodec    string
	VideoTimeBase Rational
	Width         int
	Height        int
	FrameRate     Rational // frames per second as Num/Den

	AudioStream   int
	AudioCodec    string
	AudioTimeBase Rational
	SampleRate    int
	Channels      int

	// Duration is expressed in video-stream ticks. Zero means unknown.
	Duration int64
}

// DurationSeconds returns the total duration in seconds.
func (s StreamInfo) DurationSeconds() float64 {
	return s.VideoTimeBase.Seconds(s.Duration)
}

// FrameDuration returns the nominal duration of one video frame in seconds,
// or zero if the frame rate is unknown.
func (s StreamInfo) FrameDuration() float64 {
	if s.FrameRate.Num == 0 || s.FrameRate.Den == 0 {
		return 0
	}
	return float64(s.FrameRate.Den) / float64(s.FrameRate.Num)
}

// OutputFormat is what the pipeline converts decoded media into: the render
// resolution for video and the device format for audio.
type OutputFormat struct {
	Width      int // 0 keeps the source width
	Height     int // 0 keeps the source height
	SampleRate int
	Channels   int
}

// Packet is a compressed unit read from the demuxer. Implementations are
// owned by the decode backend that produced them.
type Packet interface {
	StreamIndex() int
	PTS() int64
	Keyframe() bool
	Release()
}

// RawFrame is a decoded but not yet converted picture or sample block.
type RawFrame interface {
	PTS() int64
	Release()
}
