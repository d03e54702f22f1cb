// Package ffmpeg implements the decode backend on top of FFmpeg through
// go-astiav: demuxing, one video and one audio decoder, RGBA scaling and
// float resampling to the output device format.
package ffmpeg

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/asticode/go-astiav"
	"github.com/dhowden/tag"

	"github.com/jscyril/golang_clip_player/internal/decode"
	"github.com/jscyril/golang_clip_player/internal/media"
	playerrors "github.com/jscyril/golang_clip_player/pkg/errors"
)

// avTimeBase is FFmpeg's AV_TIME_BASE: container durations are in
// microseconds.
const avTimeBase = 1e6

func init() {
	astiav.SetLogLevel(astiav.LogLevelQuiet)
}

var _ decode.Backend = (*Backend)(nil)

type packet struct {
	p *astiav.Packet
}

func (p *packet) StreamIndex() int { return p.p.StreamIndex() }
func (p *packet) PTS() int64       { return p.p.Pts() }
func (p *packet) Keyframe() bool   { return p.p.Flags().Has(astiav.PacketFlagKey) }
func (p *packet) Release()         { p.p.Free() }

type frame struct {
	f *astiav.Frame
}

func (f *frame) PTS() int64 { return f.f.Pts() }
func (f *frame) Release()   { f.f.Free() }

// Backend is one opened media file.
type Backend struct {
	path string
	out  media.OutputFormat
	info media.StreamInfo

	fc          *astiav.FormatContext
	videoStream *astiav.Stream
	audioStream *astiav.Stream
	videoCodec  *astiav.Codec
	audioCodec  *astiav.Codec
	videoCtx    *astiav.CodecContext
	audioCtx    *astiav.CodecContext

	scaler    *astiav.SoftwareScaleContext
	scaled    *astiav.Frame
	scaleFrom astiav.PixelFormat
	scaleW    int
	scaleH    int
	dstW      int
	dstH      int
	pool      *media.FramePool

	resampler *astiav.SoftwareResampleContext
	resampled *astiav.Frame
}

// Open opens path and selects its best video and audio streams. Failures
// are returned as *playerrors.OpenError wrapping one of the open sentinels.
func Open(path string, out media.OutputFormat) (*Backend, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, playerrors.NewOpenError(path, playerrors.ErrNoSuchFile)
		}
		return nil, playerrors.NewOpenError(path, err)
	}
	if out.SampleRate <= 0 {
		out.SampleRate = 48000
	}
	if out.Channels <= 0 {
		out.Channels = 2
	}

	b := &Backend{path: path, out: out}
	if err := b.open(); err != nil {
		b.Close()
		var oe *playerrors.OpenError
		if errors.As(err, &oe) {
			return nil, err
		}
		return nil, playerrors.NewOpenError(path, err)
	}
	return b, nil
}

func (b *Backend) open() error {
	b.fc = astiav.AllocFormatContext()
	if b.fc == nil {
		return errors.New("ffmpeg: allocating format context failed")
	}
	if err := b.fc.OpenInput(b.path, nil, nil); err != nil {
		b.fc.Free()
		b.fc = nil
		return fmt.Errorf("ffmpeg: opening input: %w", err)
	}
	if err := b.fc.FindStreamInfo(nil); err != nil {
		return fmt.Errorf("ffmpeg: finding stream info: %w", err)
	}

	var videoErr, audioErr error
	b.videoStream, b.videoCodec, videoErr = b.pickStream(astiav.MediaTypeVideo)
	if videoErr != nil {
		return playerrors.NewOpenError(b.path, videoErr)
	}
	b.audioStream, b.audioCodec, audioErr = b.pickStream(astiav.MediaTypeAudio)
	if audioErr != nil {
		return playerrors.NewOpenError(b.path, audioErr)
	}

	if err := b.openDecoders(); err != nil {
		return playerrors.NewOpenError(b.path, fmt.Errorf("%w: %v", playerrors.ErrUnsupportedCodec, err))
	}

	b.info = b.describe()
	dst := media.FitRect(b.info.Width, b.info.Height, b.info.Width, b.info.Height)
	if b.out.Width > 0 && b.out.Height > 0 {
		dst = media.FitRect(b.info.Width, b.info.Height, b.out.Width, b.out.Height)
	}
	b.dstW, b.dstH = max(dst.W, 1), max(dst.H, 1)
	b.pool = media.NewFramePool(b.dstW, b.dstH)
	b.resampler = astiav.AllocSoftwareResampleContext()
	return nil
}

// pickStream returns the first stream of the given type that has a decoder.
// A stream of the right type without a decoder reports ErrUnsupportedCodec;
// no stream at all reports the matching missing-stream sentinel.
func (b *Backend) pickStream(kind astiav.MediaType) (*astiav.Stream, *astiav.Codec, error) {
	missing := playerrors.ErrNoVideoStream
	if kind == astiav.MediaTypeAudio {
		missing = playerrors.ErrNoAudioStream
	}
	found := false
	for _, s := range b.fc.Streams() {
		cp := s.CodecParameters()
		if cp.MediaType() != kind {
			continue
		}
		found = true
		if c := astiav.FindDecoder(cp.CodecID()); c != nil {
			return s, c, nil
		}
	}
	if found {
		return nil, nil, fmt.Errorf("%w: no decoder for %v stream", playerrors.ErrUnsupportedCodec, kind)
	}
	return nil, nil, missing
}

func (b *Backend) openDecoders() error {
	var err error
	if b.videoCtx, err = newDecoder(b.videoStream, b.videoCodec); err != nil {
		return fmt.Errorf("video decoder: %w", err)
	}
	if b.audioCtx, err = newDecoder(b.audioStream, b.audioCodec); err != nil {
		return fmt.Errorf("audio decoder: %w", err)
	}
	return nil
}

func newDecoder(s *astiav.Stream, c *astiav.Codec) (*astiav.CodecContext, error) {
	cc := astiav.AllocCodecContext(c)
	if cc == nil {
		return nil, errors.New("allocating codec context failed")
	}
	if err := s.CodecParameters().ToCodecContext(cc); err != nil {
		cc.Free()
		return nil, fmt.Errorf("copying codec parameters: %w", err)
	}
	cc.SetTimeBase(s.TimeBase())
	if err := cc.Open(c, nil); err != nil {
		cc.Free()
		return nil, fmt.Errorf("opening %s: %w", c.Name(), err)
	}
	return cc, nil
}

func (b *Backend) describe() media.StreamInfo {
	vp := b.videoStream.CodecParameters()
	ap := b.audioStream.CodecParameters()
	vtb := rational(b.videoStream.TimeBase())

	info := media.StreamInfo{
		Path:          b.path,
		Title:         readTitle(b.path),
		VideoStream:   b.videoStream.Index(),
		VideoCodec:    b.videoCodec.Name(),
		VideoTimeBase: vtb,
		Width:         vp.Width(),
		Height:        vp.Height(),
		FrameRate:     rational(b.videoStream.AvgFrameRate()),
		AudioStream:   b.audioStream.Index(),
		AudioCodec:    b.audioCodec.Name(),
		AudioTimeBase: rational(b.audioStream.TimeBase()),
		SampleRate:    ap.SampleRate(),
		Channels:      ap.ChannelLayout().Channels(),
	}
	if f := b.fc.InputFormat(); f != nil {
		info.Container = f.Name()
	}
	switch {
	case b.videoStream.Duration() > 0:
		info.Duration = b.videoStream.Duration()
	case b.fc.Duration() > 0:
		info.Duration = vtb.Ticks(float64(b.fc.Duration()) / avTimeBase)
	}
	return info
}

func rational(r astiav.Rational) media.Rational {
	return media.Rational{Num: r.Num(), Den: r.Den()}
}

// readTitle prefers the container's title tag and falls back to the file
// name without its extension.
func readTitle(path string) string {
	if f, err := os.Open(path); err == nil {
		defer f.Close()
		if m, err := tag.ReadFrom(f); err == nil {
			if t := strings.TrimSpace(m.Title()); t != "" {
				return t
			}
		}
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func (b *Backend) Info() media.StreamInfo { return b.info }

// ReadPacket returns the next packet of the selected streams. Packets of
// other streams are skipped here.
func (b *Backend) ReadPacket() (media.Packet, error) {
	for {
		p := astiav.AllocPacket()
		if err := b.fc.ReadFrame(p); err != nil {
			p.Free()
			if errors.Is(err, astiav.ErrEof) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("ffmpeg: reading packet: %w", err)
		}
		idx := p.StreamIndex()
		if idx == b.info.VideoStream || idx == b.info.AudioStream {
			return &packet{p: p}, nil
		}
		p.Free()
	}
}

func (b *Backend) SendPacket(pkt media.Packet) error {
	p, ok := pkt.(*packet)
	if !ok {
		return fmt.Errorf("ffmpeg: foreign packet %T", pkt)
	}
	cc := b.videoCtx
	if p.StreamIndex() == b.info.AudioStream {
		cc = b.audioCtx
	}
	return mapErr(cc.SendPacket(p.p))
}

func (b *Backend) ReceiveVideo() (media.RawFrame, error) {
	return receive(b.videoCtx)
}

func (b *Backend) ReceiveAudio() (media.RawFrame, error) {
	return receive(b.audioCtx)
}

func receive(cc *astiav.CodecContext) (media.RawFrame, error) {
	f := astiav.AllocFrame()
	if err := cc.ReceiveFrame(f); err != nil {
		f.Free()
		return nil, mapErr(err)
	}
	return &frame{f: f}, nil
}

// mapErr translates FFmpeg's EAGAIN and EOF into the codes the engine
// understands.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, astiav.ErrEagain):
		return playerrors.ErrAgain
	case errors.Is(err, astiav.ErrEof):
		return io.EOF
	default:
		return err
	}
}

// ScaleVideo converts a decoded picture to RGBA at the output size.
func (b *Backend) ScaleVideo(raw media.RawFrame) (*media.VideoFrame, error) {
	src, ok := raw.(*frame)
	if !ok {
		return nil, fmt.Errorf("ffmpeg: foreign frame %T", raw)
	}
	if err := b.ensureScaler(src.f); err != nil {
		return nil, err
	}
	if err := b.scaler.ScaleFrame(src.f, b.scaled); err != nil {
		return nil, fmt.Errorf("ffmpeg: scaling frame: %w", err)
	}
	pix, err := b.scaled.Data().Bytes(1)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: reading scaled frame: %w", err)
	}

	vf := b.pool.NewFrame(src.f.Pts(), b.dstW, b.dstH)
	copy(vf.Pix, pix)
	return vf, nil
}

// ensureScaler (re)creates the scale context whenever the decoded picture's
// geometry or pixel format changes mid-stream.
func (b *Backend) ensureScaler(f *astiav.Frame) error {
	if b.scaler != nil && b.scaleFrom == f.PixelFormat() && b.scaleW == f.Width() && b.scaleH == f.Height() {
		return nil
	}
	b.freeScaler()

	ssc, err := astiav.CreateSoftwareScaleContext(
		f.Width(), f.Height(), f.PixelFormat(),
		b.dstW, b.dstH, astiav.PixelFormatRgba,
		astiav.NewSoftwareScaleContextFlags(astiav.SoftwareScaleContextFlagBilinear),
	)
	if err != nil {
		return fmt.Errorf("ffmpeg: creating scaler: %w", err)
	}
	dst := astiav.AllocFrame()
	dst.SetWidth(b.dstW)
	dst.SetHeight(b.dstH)
	dst.SetPixelFormat(astiav.PixelFormatRgba)
	if err := dst.AllocBuffer(1); err != nil {
		ssc.Free()
		dst.Free()
		return fmt.Errorf("ffmpeg: allocating scaled frame: %w", err)
	}
	b.scaler, b.scaled = ssc, dst
	b.scaleFrom, b.scaleW, b.scaleH = f.PixelFormat(), f.Width(), f.Height()
	return nil
}

func (b *Backend) freeScaler() {
	if b.scaler != nil {
		b.scaler.Free()
		b.scaler = nil
	}
	if b.scaled != nil {
		b.scaled.Free()
		b.scaled = nil
	}
}

// ResampleAudio converts a decoded sample block to interleaved float32 at
// the output rate and channel count.
func (b *Backend) ResampleAudio(raw media.RawFrame) (*media.AudioChunk, error) {
	src, ok := raw.(*frame)
	if !ok {
		return nil, fmt.Errorf("ffmpeg: foreign frame %T", raw)
	}
	if b.resampled == nil {
		b.resampled = astiav.AllocFrame()
	}
	dst := b.resampled
	dst.Unref()
	if b.out.Channels == 1 {
		dst.SetChannelLayout(astiav.ChannelLayoutMono)
	} else {
		dst.SetChannelLayout(astiav.ChannelLayoutStereo)
	}
	dst.SetSampleFormat(astiav.SampleFormatFlt)
	dst.SetSampleRate(b.out.SampleRate)

	if err := b.resampler.ConvertFrame(src.f, dst); err != nil {
		return nil, fmt.Errorf("ffmpeg: resampling audio: %w", err)
	}
	n := dst.NbSamples() * b.out.Channels
	if n == 0 {
		return &media.AudioChunk{PTS: src.f.Pts()}, nil
	}
	data, err := dst.Data().Bytes(1)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: reading resampled audio: %w", err)
	}
	if len(data) < n*4 {
		n = len(data) / 4
	}

	samples := make([]float32, n)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return &media.AudioChunk{PTS: src.f.Pts(), Samples: samples}, nil
}

// Drain sends end-of-stream to both decoders.
func (b *Backend) Drain() error {
	if err := b.videoCtx.SendPacket(nil); err != nil && !errors.Is(err, astiav.ErrEof) {
		return fmt.Errorf("ffmpeg: draining video decoder: %w", err)
	}
	if err := b.audioCtx.SendPacket(nil); err != nil && !errors.Is(err, astiav.ErrEof) {
		return fmt.Errorf("ffmpeg: draining audio decoder: %w", err)
	}
	return nil
}

// Seek repositions the demuxer on the video stream. Backward lands on the
// keyframe at or before the target, forward on the one at or after it.
func (b *Backend) Seek(seconds float64, mode decode.SeekMode) error {
	ts := b.info.VideoTimeBase.Ticks(math.Max(seconds, 0))
	flags := astiav.NewSeekFlags()
	if mode == decode.SeekBackward {
		flags = astiav.NewSeekFlags(astiav.SeekFlagBackward)
	}
	if err := b.fc.SeekFrame(b.info.VideoStream, ts, flags); err != nil {
		return fmt.Errorf("ffmpeg: seeking to %.3fs (%s): %w", seconds, mode, err)
	}
	return nil
}

// Reset discards decoder state by rebuilding both codec contexts, and
// starts a fresh resampler so no samples from before the seek survive.
func (b *Backend) Reset() error {
	b.freeDecoders()
	if err := b.openDecoders(); err != nil {
		return fmt.Errorf("ffmpeg: reset: %w", err)
	}
	if b.resampler != nil {
		b.resampler.Free()
	}
	b.resampler = astiav.AllocSoftwareResampleContext()
	return nil
}

func (b *Backend) freeDecoders() {
	if b.videoCtx != nil {
		b.videoCtx.Free()
		b.videoCtx = nil
	}
	if b.audioCtx != nil {
		b.audioCtx.Free()
		b.audioCtx = nil
	}
}

// Close releases every FFmpeg resource. It is safe to call more than once.
func (b *Backend) Close() error {
	b.freeScaler()
	if b.resampled != nil {
		b.resampled.Free()
		b.resampled = nil
	}
	if b.resampler != nil {
		b.resampler.Free()
		b.resampler = nil
	}
	b.freeDecoders()
	if b.fc != nil {
		b.fc.CloseInput()
		b.fc.Free()
		b.fc = nil
	}
	return nil
}
