// Package testsrc is a decode backend that synthesises media instead of
// reading a file: colour bars with a moving marker on the video rail and a
// sine tone on the audio rail. Packets, decoder buffering and keyframe seeks
// behave like a real demuxer closely enough to exercise the decode engine
// without FFmpeg.
package testsrc

import (
	"fmt"
	"io"
	"math"

	"github.com/jscyril/golang_clip_player/internal/decode"
	"github.com/jscyril/golang_clip_player/internal/media"
	playerrors "github.com/jscyril/golang_clip_player/pkg/errors"
)

const (
	// 90 kHz video clock, as in MPEG-TS.
	videoClock = 90000

	videoStream = 0
	audioStream = 1

	// decoderDepth is how many decoded frames a decoder buffers before it
	// refuses more input.
	decoderDepth = 2
)

// Options describes the synthetic media.
type Options struct {
	Duration     float64 // seconds
	FPS          int
	GOP          int // frames per keyframe interval
	Width        int
	Height       int
	SampleRate   int // source rate
	SamplesPerPk int // samples per audio packet
	ToneHz       float64

	// Output is the format ScaleVideo and ResampleAudio convert to. Zero
	// fields keep the source size and use 48 kHz stereo.
	Output media.OutputFormat
}

// DefaultOptions is ten seconds of 30 fps 160x90 video with a 440 Hz tone.
func DefaultOptions() Options {
	return Options{
		Duration:     10,
		FPS:          30,
		GOP:          30,
		Width:        160,
		Height:       90,
		SampleRate:   48000,
		SamplesPerPk: 1024,
		ToneHz:       440,
	}
}

func (o *Options) normalize() error {
	def := DefaultOptions()
	if o.Duration <= 0 {
		return fmt.Errorf("testsrc: duration must be positive, got %v", o.Duration)
	}
	if o.FPS <= 0 {
		o.FPS = def.FPS
	}
	if o.GOP <= 0 {
		o.GOP = def.GOP
	}
	if o.Width <= 0 || o.Height <= 0 {
		o.Width, o.Height = def.Width, def.Height
	}
	if o.SampleRate <= 0 {
		o.SampleRate = def.SampleRate
	}
	if o.SamplesPerPk <= 0 {
		o.SamplesPerPk = def.SamplesPerPk
	}
	if o.ToneHz <= 0 {
		o.ToneHz = def.ToneHz
	}
	if o.Output.Width <= 0 || o.Output.Height <= 0 {
		o.Output.Width, o.Output.Height = o.Width, o.Height
	}
	if o.Output.SampleRate <= 0 {
		o.Output.SampleRate = 48000
	}
	if o.Output.Channels <= 0 {
		o.Output.Channels = 2
	}
	return nil
}

type packet struct {
	stream int
	pts    int64
	key    bool
}

func (p *packet) StreamIndex() int { return p.stream }
func (p *packet) PTS() int64       { return p.pts }
func (p *packet) Keyframe() bool   { return p.key }
func (p *packet) Release()         {}

type frame struct {
	pts   int64
	index int
}

func (f *frame) PTS() int64 { return f.pts }
func (f *frame) Release()   {}

// decoder models a codec that turns one packet into one frame and holds a
// small number of decoded frames.
type decoder struct {
	out     []*frame
	drained bool
}

func (d *decoder) send(f *frame) error {
	if d.drained {
		return io.EOF
	}
	if len(d.out) >= decoderDepth {
		return playerrors.ErrAgain
	}
	d.out = append(d.out, f)
	return nil
}

func (d *decoder) receive() (*frame, error) {
	if len(d.out) == 0 {
		if d.drained {
			return nil, io.EOF
		}
		return nil, playerrors.ErrAgain
	}
	f := d.out[0]
	d.out = d.out[1:]
	return f, nil
}

func (d *decoder) reset() {
	d.out = nil
	d.drained = false
}

// Source is the synthetic backend. Like every decode.Backend it must only be
// used from one goroutine.
type Source struct {
	opts Options
	info media.StreamInfo
	pool *media.FramePool

	totalFrames  int
	totalPackets int // audio

	nextFrame  int
	nextPacket int

	video decoder
	audio decoder

	closed bool
}

var _ decode.Backend = (*Source)(nil)

// Open creates a source from opts.
func Open(opts Options) (*Source, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	totalSamples := int(math.Round(opts.Duration * float64(opts.SampleRate)))
	s := &Source{
		opts:         opts,
		pool:         media.NewFramePool(opts.Output.Width, opts.Output.Height),
		totalFrames:  int(math.Round(opts.Duration * float64(opts.FPS))),
		totalPackets: (totalSamples + opts.SamplesPerPk - 1) / opts.SamplesPerPk,
	}
	s.info = media.StreamInfo{
		Path:          "testsrc://bars",
		Container:     "synthetic",
		Title:         "Test pattern",
		VideoStream:   videoStream,
		VideoCodec:    "rawvideo",
		VideoTimeBase: media.Rational{Num: 1, Den: videoClock},
		Width:         opts.Width,
		Height:        opts.Height,
		FrameRate:     media.Rational{Num: opts.FPS, Den: 1},
		AudioStream:   audioStream,
		AudioCodec:    "pcm_f32le",
		AudioTimeBase: media.Rational{Num: 1, Den: opts.SampleRate},
		SampleRate:    opts.SampleRate,
		Channels:      1,
		Duration:      int64(math.Round(opts.Duration * videoClock)),
	}
	return s, nil
}

// Info implements decode.Backend.
func (s *Source) Info() media.StreamInfo { return s.info }

func (s *Source) framePTS(i int) int64 {
	return int64(i) * videoClock / int64(s.opts.FPS)
}

func (s *Source) frameTime(i int) float64 {
	return float64(i) / float64(s.opts.FPS)
}

func (s *Source) packetTime(i int) float64 {
	return float64(i*s.opts.SamplesPerPk) / float64(s.opts.SampleRate)
}

// ReadPacket returns the next packet in presentation order across both
// streams, or io.EOF once both are exhausted.
func (s *Source) ReadPacket() (media.Packet, error) {
	if s.closed {
		return nil, playerrors.ErrNotOpen
	}
	haveVideo := s.nextFrame < s.totalFrames
	haveAudio := s.nextPacket < s.totalPackets
	switch {
	case haveVideo && (!haveAudio || s.frameTime(s.nextFrame) <= s.packetTime(s.nextPacket)):
		i := s.nextFrame
		s.nextFrame++
		return &packet{stream: videoStream, pts: s.framePTS(i), key: i%s.opts.GOP == 0}, nil
	case haveAudio:
		i := s.nextPacket
		s.nextPacket++
		return &packet{stream: audioStream, pts: int64(i * s.opts.SamplesPerPk), key: true}, nil
	default:
		return nil, io.EOF
	}
}

// SendPacket implements decode.Backend.
func (s *Source) SendPacket(pkt media.Packet) error {
	switch pkt.StreamIndex() {
	case videoStream:
		idx := int(pkt.PTS() * int64(s.opts.FPS) / videoClock)
		return s.video.send(&frame{pts: pkt.PTS(), index: idx})
	case audioStream:
		return s.audio.send(&frame{pts: pkt.PTS(), index: int(pkt.PTS()) / s.opts.SamplesPerPk})
	default:
		return fmt.Errorf("%w: stream %d", playerrors.ErrUnsupportedCodec, pkt.StreamIndex())
	}
}

// ReceiveVideo implements decode.Backend.
func (s *Source) ReceiveVideo() (media.RawFrame, error) {
	f, err := s.video.receive()
	if err != nil {
		return nil, err
	}
	return f, nil
}

// ReceiveAudio implements decode.Backend.
func (s *Source) ReceiveAudio() (media.RawFrame, error) {
	f, err := s.audio.receive()
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Drain implements decode.Backend.
func (s *Source) Drain() error {
	s.video.drained = true
	s.audio.drained = true
	return nil
}

// Seek positions the read cursor on a keyframe. Audio resumes with the
// packet containing the keyframe's timestamp.
func (s *Source) Seek(seconds float64, mode decode.SeekMode) error {
	if s.closed {
		return playerrors.ErrNotOpen
	}
	pos := seconds * float64(s.opts.FPS)
	idx := int(math.Floor(pos + 1e-9))
	if mode == decode.SeekForward {
		idx = int(math.Ceil(pos - 1e-9))
	}
	if idx < 0 {
		idx = 0
	}
	lastKey := ((s.totalFrames - 1) / s.opts.GOP) * s.opts.GOP

	key := (idx / s.opts.GOP) * s.opts.GOP
	if mode == decode.SeekForward && key < idx {
		key += s.opts.GOP
	}
	if key > lastKey {
		key = lastKey
	}

	s.nextFrame = key
	s.nextPacket = int(s.frameTime(key) * float64(s.opts.SampleRate) / float64(s.opts.SamplesPerPk))
	return nil
}

// Reset implements decode.Backend.
func (s *Source) Reset() error {
	s.video.reset()
	s.audio.reset()
	return nil
}

// ScaleVideo renders the test pattern for the frame into a pooled buffer:
// eight vertical colour bars with a white marker that sweeps across once a
// second.
func (s *Source) ScaleVideo(raw media.RawFrame) (*media.VideoFrame, error) {
	f, ok := raw.(*frame)
	if !ok {
		return nil, fmt.Errorf("testsrc: foreign frame %T", raw)
	}
	w, h := s.opts.Output.Width, s.opts.Output.Height
	out := s.pool.NewFrame(f.pts, w, h)

	marker := (f.index % s.opts.FPS) * w / s.opts.FPS
	for y := 0; y < h; y++ {
		row := out.Pix[y*out.Stride:]
		for x := 0; x < w; x++ {
			c := bars[x*len(bars)/w]
			if x == marker {
				c = [3]uint8{255, 255, 255}
			}
			i := x * 4
			row[i], row[i+1], row[i+2], row[i+3] = c[0], c[1], c[2], 255
		}
	}
	return out, nil
}

var bars = [...][3]uint8{
	{192, 192, 192},
	{192, 192, 0},
	{0, 192, 192},
	{0, 192, 0},
	{192, 0, 192},
	{192, 0, 0},
	{0, 0, 192},
	{16, 16, 16},
}

// ResampleAudio produces the tone for the packet's time span directly at the
// output rate, one identical sample per output channel.
func (s *Source) ResampleAudio(raw media.RawFrame) (*media.AudioChunk, error) {
	f, ok := raw.(*frame)
	if !ok {
		return nil, fmt.Errorf("testsrc: foreign frame %T", raw)
	}
	out := s.opts.Output
	start := s.info.AudioTimeBase.Seconds(f.pts)
	n := s.opts.SamplesPerPk * out.SampleRate / s.opts.SampleRate
	samples := make([]float32, n*out.Channels)
	for i := 0; i < n; i++ {
		t := start + float64(i)/float64(out.SampleRate)
		v := float32(0.25 * math.Sin(2*math.Pi*s.opts.ToneHz*t))
		for c := 0; c < out.Channels; c++ {
			samples[i*out.Channels+c] = v
		}
	}
	return &media.AudioChunk{PTS: f.pts, Samples: samples}, nil
}

// Close implements decode.Backend.
func (s *Source) Close() error {
	s.closed = true
	s.video.reset()
	s.audio.reset()
	return nil
}
