// Package export writes the selected range of a media file to a new file by
// stream copy. Cuts land on keyframes, so the clip may start slightly
// before the requested time.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/asticode/go-astiav"

	"github.com/jscyril/golang_clip_player/api"
	playerrors "github.com/jscyril/golang_clip_player/pkg/errors"
)

// Request names the source, destination, streams and time range to copy.
type Request = api.ExportRequest

// Report describes what was actually written.
type Report struct {
	Dest           string
	RequestedStart float64
	RequestedEnd   float64
	// ActualStart is the keyframe the clip begins on, in source seconds.
	ActualStart float64
	ActualEnd   float64

	VideoPackets int
	AudioPackets int
}

// Duration is the length of the written clip in seconds.
func (r *Report) Duration() float64 {
	return r.ActualEnd - r.ActualStart
}

// Validate checks a request before any file is touched.
func Validate(req Request) error {
	switch {
	case req.Source == "":
		return fmt.Errorf("%w: missing source", playerrors.ErrExportFailed)
	case req.Dest == "":
		return fmt.Errorf("%w: missing destination", playerrors.ErrExportFailed)
	case filepath.Clean(req.Source) == filepath.Clean(req.Dest):
		return fmt.Errorf("%w: destination would overwrite the source", playerrors.ErrExportFailed)
	case req.Range.Start < 0 || req.Range.Empty():
		return fmt.Errorf("%w: %w: [%.3f, %.3f)", playerrors.ErrExportFailed, playerrors.ErrNoSelection, req.Range.Start, req.Range.End)
	case req.VideoStream < 0 && req.AudioStream < 0:
		return fmt.Errorf("%w: no streams selected", playerrors.ErrExportFailed)
	}
	return nil
}

// Clip copies req.Range of the selected streams into req.Dest with
// timestamps rebased to zero. It stops early when ctx is cancelled, leaving
// a truncated but valid file.
func Clip(ctx context.Context, req Request, log *slog.Logger) (*Report, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "export", "dest", req.Dest)

	if err := Validate(req); err != nil {
		return nil, err
	}
	if _, err := os.Stat(req.Source); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %w", playerrors.ErrExportFailed, playerrors.NewOpenError(req.Source, playerrors.ErrNoSuchFile))
		}
		return nil, fmt.Errorf("%w: %w", playerrors.ErrExportFailed, err)
	}

	c := &clipper{req: req, log: log, rebase: newRebaser(noPts)}
	rep, err := c.run(ctx)
	if err != nil {
		abandon(c.close, req.Dest, log)
		return nil, fmt.Errorf("%w: %w", playerrors.ErrExportFailed, err)
	}
	c.close()
	log.Info("clip exported",
		"requested_start", rep.RequestedStart, "requested_end", rep.RequestedEnd,
		"actual_start", rep.ActualStart, "actual_end", rep.ActualEnd,
		"video_packets", rep.VideoPackets, "audio_packets", rep.AudioPackets)
	return rep, nil
}

// noPts is libavutil's AV_NOPTS_VALUE.
const noPts int64 = math.MinInt64

type clipper struct {
	req Request
	log *slog.Logger

	in      *astiav.FormatContext
	inOpen  bool
	out     *astiav.FormatContext
	outIO   *astiav.IOContext
	mapping map[int]*astiav.Stream // input stream index -> output stream
	rebase  *rebaser
}

func (c *clipper) run(ctx context.Context) (*Report, error) {
	if err := c.openInput(); err != nil {
		return nil, err
	}
	if err := c.openOutput(); err != nil {
		return nil, err
	}

	anchor := c.req.VideoStream
	if anchor < 0 {
		anchor = c.req.AudioStream
	}
	anchorStream := c.in.Streams()[anchor]
	ts := anchorStream.TimeBase()
	target := int64(c.req.Range.Start * float64(ts.Den()) / float64(ts.Num()))
	if err := c.in.SeekFrame(anchor, target, astiav.NewSeekFlags(astiav.SeekFlagBackward)); err != nil {
		return nil, fmt.Errorf("seeking to %.3fs: %w", c.req.Range.Start, err)
	}

	w := newWindow(c.req)
	rep := &Report{
		Dest:           c.req.Dest,
		RequestedStart: c.req.Range.Start,
		RequestedEnd:   c.req.Range.End,
	}

	pkt := astiav.AllocPacket()
	defer pkt.Free()
	for !w.done() {
		if err := ctx.Err(); err != nil {
			c.log.Warn("export cancelled", "error", err)
			break
		}
		if err := c.in.ReadFrame(pkt); err != nil {
			if errors.Is(err, astiav.ErrEof) {
				break
			}
			return nil, fmt.Errorf("reading packet: %w", err)
		}
		if err := c.copyPacket(pkt, w, rep); err != nil {
			pkt.Unref()
			return nil, err
		}
		pkt.Unref()
	}

	if err := c.out.WriteTrailer(); err != nil {
		return nil, fmt.Errorf("writing trailer: %w", err)
	}
	rep.ActualStart = w.base
	rep.ActualEnd = max(w.last, w.base)
	return rep, nil
}

func (c *clipper) copyPacket(pkt *astiav.Packet, w *window, rep *Report) error {
	idx := pkt.StreamIndex()
	outStream, ok := c.mapping[idx]
	if !ok {
		return nil
	}
	inStream := c.in.Streams()[idx]
	tb := inStream.TimeBase()
	secs := func(ticks int64) float64 { return float64(ticks) * float64(tb.Num()) / float64(tb.Den()) }

	pts := pkt.Pts()
	if pts == noPts {
		pts = pkt.Dts()
	}
	video := idx == c.req.VideoStream
	t := secs(pts)
	if !w.admit(video, t, pkt.Flags().Has(astiav.PacketFlagKey)) {
		return nil
	}

	newPts, newDts := c.rebase.apply(idx, pkt.Pts(), pkt.Dts())
	pkt.SetPts(newPts)
	pkt.SetDts(newDts)
	w.extend(t + secs(pkt.Duration()))

	pkt.RescaleTs(tb, outStream.TimeBase())
	pkt.SetStreamIndex(outStream.Index())
	pkt.SetPos(-1)
	if err := c.out.WriteInterleavedFrame(pkt); err != nil {
		return fmt.Errorf("writing packet on stream %d: %w", idx, err)
	}
	if video {
		rep.VideoPackets++
	} else {
		rep.AudioPackets++
	}
	return nil
}

func (c *clipper) openInput() error {
	c.in = astiav.AllocFormatContext()
	if c.in == nil {
		return errors.New("allocating input context failed")
	}
	if err := c.in.OpenInput(c.req.Source, nil, nil); err != nil {
		return fmt.Errorf("opening %s: %w", c.req.Source, err)
	}
	c.inOpen = true
	if err := c.in.FindStreamInfo(nil); err != nil {
		return fmt.Errorf("finding stream info: %w", err)
	}
	n := len(c.in.Streams())
	for _, idx := range []int{c.req.VideoStream, c.req.AudioStream} {
		if idx >= n {
			return fmt.Errorf("stream %d out of range (source has %d)", idx, n)
		}
	}
	return nil
}

func (c *clipper) openOutput() error {
	out, err := astiav.AllocOutputFormatContext(nil, "", c.req.Dest)
	if err != nil {
		return fmt.Errorf("allocating output context: %w", err)
	}
	c.out = out
	c.mapping = make(map[int]*astiav.Stream, 2)

	for _, idx := range []int{c.req.VideoStream, c.req.AudioStream} {
		if idx < 0 {
			continue
		}
		in := c.in.Streams()[idx]
		s := c.out.NewStream(nil)
		if s == nil {
			return fmt.Errorf("creating output stream for %d failed", idx)
		}
		if err := in.CodecParameters().Copy(s.CodecParameters()); err != nil {
			return fmt.Errorf("copying codec parameters of stream %d: %w", idx, err)
		}
		s.CodecParameters().SetCodecTag(0)
		s.SetTimeBase(in.TimeBase())
		c.mapping[idx] = s
	}

	if !c.out.OutputFormat().Flags().Has(astiav.IOFormatFlagNofile) {
		ioc, err := astiav.OpenIOContext(c.req.Dest, astiav.NewIOContextFlags(astiav.IOContextFlagWrite), nil, nil)
		if err != nil {
			return fmt.Errorf("opening %s for writing: %w", c.req.Dest, err)
		}
		c.outIO = ioc
		c.out.SetPb(ioc)
	}
	if err := c.out.WriteHeader(nil); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	return nil
}

// abandon releases the output through closeOutput and then deletes the
// partial file at dest.
func abandon(closeOutput func(), dest string, log *slog.Logger) {
	closeOutput()
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		log.Warn("removing partial clip failed", "error", err)
	}
}

func (c *clipper) close() {
	if c.outIO != nil {
		if err := c.outIO.Close(); err != nil {
			c.log.Warn("closing output failed", "error", err)
		}
	}
	if c.out != nil {
		c.out.Free()
	}
	if c.in != nil {
		if c.inOpen {
			c.in.CloseInput()
		}
		c.in.Free()
	}
}
