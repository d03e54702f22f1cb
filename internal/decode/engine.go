package decode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jscyril/golang_clip_player/internal/media"
	"github.com/jscyril/golang_clip_player/internal/ringbuf"
	playerrors "github.com/jscyril/golang_clip_player/pkg/errors"
)

const (
	// FullSleep is how long the loop sleeps when both output queues are full.
	FullSleep = 10 * time.Millisecond
	// IdleSleep is how long the loop sleeps after an iteration that moved
	// nothing forward.
	IdleSleep = time.Millisecond

	// maxHeldAudio bounds the audio frames kept while a key step waits for
	// its first video frame.
	maxHeldAudio = 64
)

// Config tunes an Engine. Zero values select the defaults.
type Config struct {
	// Low-water marks of the internal packet queues. Reading stops once a
	// queue holds four times its mark.
	VideoPacketBacklog int
	AudioPacketBacklog int

	// FlushAudio, if set, is called from the decode goroutine whenever a
	// seek is handled. It must discard everything queued for the audio
	// device.
	FlushAudio func()

	// Initial is the event the mailbox starts with. The zero value (None)
	// starts decoding immediately; Pause holds the goroutine until the
	// first Send.
	Initial Event
}

func (c *Config) withDefaults() {
	if c.VideoPacketBacklog <= 0 {
		c.VideoPacketBacklog = media.DefaultVideoPacketBacklog
	}
	if c.AudioPacketBacklog <= 0 {
		c.AudioPacketBacklog = media.DefaultAudioPacketBacklog
	}
}

// Stats is a snapshot of the engine counters.
type Stats struct {
	PacketsRead    int64
	VideoFrames    int64
	AudioSamples   int64
	SeekDiscarded  int64
	Seeks          int64
	FullSleeps     int64
	ReadErrors     int64
	HeldAudioDrops int64
}

type counters struct {
	packetsRead    atomic.Int64
	videoFrames    atomic.Int64
	audioSamples   atomic.Int64
	seekDiscarded  atomic.Int64
	seeks          atomic.Int64
	fullSleeps     atomic.Int64
	readErrors     atomic.Int64
	heldAudioDrops atomic.Int64
}

// seekState tracks one seek from the demuxer reposition until both rails
// have produced their first frame at or after the target.
type seekState struct {
	active   bool
	epoch    uint64
	anchored bool
	target   float64

	videoReached bool
	audioReached bool

	// lastVideo is the most recent discarded video frame. It is emitted in
	// place of the target frame if the stream ends first.
	lastVideo media.RawFrame
	held      []media.RawFrame
}

// Engine drives a Backend on its own goroutine, filling the video frame ring
// and the interleaved audio sample ring. It is the only producer on both.
type Engine struct {
	log     *slog.Logger
	cfg     Config
	backend Backend
	info    media.StreamInfo
	mailbox *Mailbox

	video *ringbuf.Ring[*media.VideoFrame]
	audio *ringbuf.Ring[float32]

	// Decode-goroutine state below; never touched from outside.
	videoPkts *ringbuf.Ring[media.Packet]
	audioPkts *ringbuf.Ring[media.Packet]
	sendVideo media.Packet
	sendAudio media.Packet

	pendingVideo *media.VideoFrame
	pendingAudio []float32

	readDone bool
	drained  bool
	videoEOF bool
	audioEOF bool
	epoch    uint64
	seek     seekState

	stats counters

	startOnce sync.Once
	done      chan struct{}
	errMu     sync.Mutex
	err       error
}

// NewEngine creates an engine over backend producing into video and audio.
// The engine takes ownership of backend and closes it when the decode
// goroutine exits. If log is nil, slog.Default() is used.
func NewEngine(backend Backend, video *ringbuf.Ring[*media.VideoFrame], audio *ringbuf.Ring[float32], cfg Config, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	cfg.withDefaults()
	return &Engine{
		log:       log.With("component", "decode"),
		cfg:       cfg,
		backend:   backend,
		info:      backend.Info(),
		mailbox:   NewMailbox(cfg.Initial),
		video:     video,
		audio:     audio,
		videoPkts: ringbuf.New[media.Packet](cfg.VideoPacketBacklog * 4),
		audioPkts: ringbuf.New[media.Packet](cfg.AudioPacketBacklog * 4),
		done:      make(chan struct{}),
	}
}

// Info returns the metadata of the media handle being decoded.
func (e *Engine) Info() media.StreamInfo {
	return e.info
}

// Start spawns the decode goroutine. Cancelling ctx has the same effect as
// sending Stop. Calling Start more than once has no effect.
func (e *Engine) Start(ctx context.Context) {
	e.startOnce.Do(func() {
		go e.run()
		go func() {
			select {
			case <-ctx.Done():
				e.Send(Stop())
			case <-e.done:
			}
		}()
	})
}

// Send delivers ev to the decode goroutine, replacing any event it has not
// consumed yet. It never blocks.
func (e *Engine) Send(ev Event) {
	e.mailbox.Set(ev)
}

// Done is closed once the decode goroutine has exited and the backend has
// been closed.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Err returns the error that terminated the decode goroutine, or nil if it
// is still running or exited on Stop or end of stream.
func (e *Engine) Err() error {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	return e.err
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		PacketsRead:    e.stats.packetsRead.Load(),
		VideoFrames:    e.stats.videoFrames.Load(),
		AudioSamples:   e.stats.audioSamples.Load(),
		SeekDiscarded:  e.stats.seekDiscarded.Load(),
		Seeks:          e.stats.seeks.Load(),
		FullSleeps:     e.stats.fullSleeps.Load(),
		ReadErrors:     e.stats.readErrors.Load(),
		HeldAudioDrops: e.stats.heldAudioDrops.Load(),
	}
}

func (e *Engine) run() {
	defer close(e.done)

	err := e.loop()
	e.releaseAll()
	if cerr := e.backend.Close(); cerr != nil {
		e.log.Warn("closing backend", "error", cerr)
	}
	if err != nil {
		e.log.Error("decode goroutine stopped", "error", err)
		e.errMu.Lock()
		e.err = err
		e.errMu.Unlock()
	}
}

func (e *Engine) loop() error {
	for {
		ev := e.mailbox.Take()
		switch ev.Kind {
		case EventStop:
			e.log.Debug("stop received")
			return nil
		case EventSeek:
			if err := e.beginSeek(ev, ev.Seconds, SeekBackward, true); err != nil {
				return err
			}
		case EventNextKey:
			if err := e.beginSeek(ev, ev.Seconds+0.001, SeekForward, false); err != nil {
				return err
			}
		case EventPrevKey:
			if err := e.beginSeek(ev, ev.Seconds-0.001, SeekBackward, false); err != nil {
				return err
			}
		}

		read := e.refill()
		fed, err := e.feed()
		if err != nil {
			return err
		}
		gotVideo, err := e.stepVideo()
		if err != nil {
			return err
		}
		gotAudio, err := e.stepAudio()
		if err != nil {
			return err
		}
		e.finishSeek()

		if e.endOfStream() {
			e.log.Debug("end of stream")
			return nil
		}

		switch {
		case e.video.IsFull() && e.audio.IsFull():
			e.stats.fullSleeps.Add(1)
			time.Sleep(FullSleep)
		case !read && !fed && !gotVideo && !gotAudio:
			time.Sleep(IdleSleep)
		}
	}
}

func (e *Engine) beginSeek(ev Event, at float64, mode SeekMode, anchored bool) error {
	if at < 0 {
		at = 0
	}
	e.log.Debug("seeking", "event", ev.String(), "at", at, "mode", mode)
	e.stats.seeks.Add(1)

	if err := e.backend.Seek(at, mode); err != nil {
		// The decoders are still usable; decoding continues from wherever
		// the demuxer is now and the target filter still applies.
		e.log.Warn("demuxer seek failed", "target", at, "error", err)
	}
	if err := e.backend.Reset(); err != nil {
		return fmt.Errorf("reset decoders: %w", err)
	}

	e.clearPackets()
	e.pendingVideo.Release()
	e.pendingVideo = nil
	e.pendingAudio = nil
	if e.cfg.FlushAudio != nil {
		e.cfg.FlushAudio()
	}

	e.readDone = false
	e.drained = false
	e.videoEOF = false
	e.audioEOF = false

	e.resetSeekState()
	e.epoch = ev.Epoch
	e.seek = seekState{
		active:   true,
		epoch:    ev.Epoch,
		anchored: anchored,
		target:   ev.Seconds,
	}
	return nil
}

// refill reads from the demuxer while either packet queue is under its
// low-water mark and neither is at its hard cap.
func (e *Engine) refill() bool {
	progress := false
	for !e.readDone &&
		(e.videoPkts.Len() < e.cfg.VideoPacketBacklog || e.audioPkts.Len() < e.cfg.AudioPacketBacklog) &&
		!e.videoPkts.IsFull() && !e.audioPkts.IsFull() {

		pkt, err := e.backend.ReadPacket()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				e.stats.readErrors.Add(1)
				e.log.Warn("read packet failed, treating as end of input", "error", err)
			}
			e.readDone = true
			return true
		}
		progress = true
		e.stats.packetsRead.Add(1)

		switch pkt.StreamIndex() {
		case e.info.VideoStream:
			e.videoPkts.TryPush(pkt)
		case e.info.AudioStream:
			e.audioPkts.TryPush(pkt)
		default:
			pkt.Release()
		}
	}
	return progress
}

// feed sends at most one packet per stream to the decoders. Once the input
// is exhausted and every packet has been accepted, the decoders are drained.
func (e *Engine) feed() (bool, error) {
	sentVideo, err := e.sendOne(&e.sendVideo, e.videoPkts)
	if err != nil {
		return false, err
	}
	sentAudio, err := e.sendOne(&e.sendAudio, e.audioPkts)
	if err != nil {
		return false, err
	}

	if e.readDone && !e.drained && e.sendVideo == nil && e.sendAudio == nil &&
		e.videoPkts.IsEmpty() && e.audioPkts.IsEmpty() {
		if err := e.backend.Drain(); err != nil {
			return false, fmt.Errorf("drain decoders: %w", err)
		}
		e.drained = true
		return true, nil
	}
	return sentVideo || sentAudio, nil
}

func (e *Engine) sendOne(slot *media.Packet, q *ringbuf.Ring[media.Packet]) (bool, error) {
	if *slot == nil {
		pkt, ok := q.TryPop()
		if !ok {
			return false, nil
		}
		*slot = pkt
	}

	err := e.backend.SendPacket(*slot)
	if errors.Is(err, playerrors.ErrAgain) {
		return false, nil
	}
	stream := (*slot).StreamIndex()
	(*slot).Release()
	*slot = nil
	if err != nil {
		return false, fmt.Errorf("send packet on stream %d: %w", stream, err)
	}
	return true, nil
}

func (e *Engine) stepVideo() (bool, error) {
	progress := false
	if e.pendingVideo != nil {
		if !e.video.TryPush(e.pendingVideo) {
			return false, nil
		}
		e.pendingVideo = nil
		progress = true
	}
	if e.videoEOF {
		return progress, nil
	}

	raw, err := e.backend.ReceiveVideo()
	switch {
	case errors.Is(err, playerrors.ErrAgain):
		return progress, nil
	case errors.Is(err, io.EOF):
		e.videoEOF = true
		return true, e.videoEndedDuringSeek()
	case err != nil:
		return progress, fmt.Errorf("receive video: %w", err)
	}

	reseeked := false
	if e.seek.active && !e.seek.videoReached {
		if !e.seek.anchored {
			e.anchor(e.info.VideoTimeBase.Seconds(raw.PTS()))
		}
		if raw.PTS() < e.info.VideoTimeBase.Ticks(e.seek.target) {
			e.stats.seekDiscarded.Add(1)
			e.log.Debug("discarding video before seek target",
				"pts", raw.PTS(), "target", e.seek.target)
			if e.seek.lastVideo != nil {
				e.seek.lastVideo.Release()
			}
			e.seek.lastVideo = raw
			return true, nil
		}
		e.seek.videoReached = true
		reseeked = true
		if e.seek.lastVideo != nil {
			e.seek.lastVideo.Release()
			e.seek.lastVideo = nil
		}
	}
	return true, e.emitVideo(raw, reseeked)
}

// videoEndedDuringSeek handles a video decoder reaching end of stream before
// any frame reached the seek target, as happens when seeking to the very
// end. The last discarded frame stands in for the target frame.
func (e *Engine) videoEndedDuringSeek() error {
	if !e.seek.active || e.seek.videoReached {
		return nil
	}
	e.seek.videoReached = true
	last := e.seek.lastVideo
	e.seek.lastVideo = nil
	if !e.seek.anchored {
		e.anchor(e.seek.target)
	}
	if last == nil {
		e.log.Warn("video ended during seek without a frame", "target", e.seek.target)
		return nil
	}
	return e.emitVideo(last, true)
}

func (e *Engine) emitVideo(raw media.RawFrame, reseeked bool) error {
	frame, err := e.backend.ScaleVideo(raw)
	raw.Release()
	if err != nil {
		return fmt.Errorf("scale video: %w", err)
	}
	frame.Reseeked = reseeked
	frame.Epoch = e.epoch
	e.stats.videoFrames.Add(1)
	if !e.video.TryPush(frame) {
		e.pendingVideo = frame
	}
	return nil
}

func (e *Engine) stepAudio() (bool, error) {
	progress := false
	if len(e.pendingAudio) > 0 {
		n := e.audio.PushSlice(e.pendingAudio)
		e.stats.audioSamples.Add(int64(n))
		e.pendingAudio = e.pendingAudio[n:]
		if len(e.pendingAudio) > 0 {
			return n > 0, nil
		}
		e.pendingAudio = nil
		progress = true
	}

	if e.seek.active && e.seek.anchored && len(e.seek.held) > 0 {
		raw := e.seek.held[0]
		e.seek.held[0] = nil
		e.seek.held = e.seek.held[1:]
		return true, e.acceptAudio(raw)
	}
	if e.audioEOF {
		return progress, nil
	}

	raw, err := e.backend.ReceiveAudio()
	switch {
	case errors.Is(err, playerrors.ErrAgain):
		return progress, nil
	case errors.Is(err, io.EOF):
		e.audioEOF = true
		return true, nil
	case err != nil:
		return progress, fmt.Errorf("receive audio: %w", err)
	}

	if e.seek.active && !e.seek.anchored {
		if len(e.seek.held) >= maxHeldAudio {
			e.seek.held[0].Release()
			e.seek.held[0] = nil
			e.seek.held = e.seek.held[1:]
			e.stats.heldAudioDrops.Add(1)
		}
		e.seek.held = append(e.seek.held, raw)
		return true, nil
	}
	return true, e.acceptAudio(raw)
}

func (e *Engine) acceptAudio(raw media.RawFrame) error {
	if e.seek.active && !e.seek.audioReached {
		if e.info.AudioTimeBase.Seconds(raw.PTS()) < e.seek.target {
			e.stats.seekDiscarded.Add(1)
			e.log.Debug("discarding audio before seek target",
				"pts", raw.PTS(), "target", e.seek.target)
			raw.Release()
			return nil
		}
		e.seek.audioReached = true
	}

	chunk, err := e.backend.ResampleAudio(raw)
	raw.Release()
	if err != nil {
		return fmt.Errorf("resample audio: %w", err)
	}
	if chunk == nil || len(chunk.Samples) == 0 {
		return nil
	}
	n := e.audio.PushSlice(chunk.Samples)
	e.stats.audioSamples.Add(int64(n))
	if n < len(chunk.Samples) {
		e.pendingAudio = chunk.Samples[n:]
	}
	return nil
}

func (e *Engine) anchor(target float64) {
	e.seek.anchored = true
	e.seek.target = target
	e.log.Debug("key step anchored", "target", target)
}

// finishSeek returns the engine to normal decoding once both rails reached
// the target or ran out.
func (e *Engine) finishSeek() {
	if !e.seek.active {
		return
	}
	audioDone := e.seek.audioReached || (e.audioEOF && len(e.seek.held) == 0)
	if e.seek.videoReached && audioDone {
		e.log.Debug("seek complete", "target", e.seek.target, "epoch", e.seek.epoch)
		e.resetSeekState()
	}
}

func (e *Engine) endOfStream() bool {
	return e.readDone && e.drained && e.videoEOF && e.audioEOF &&
		!e.seek.active &&
		e.sendVideo == nil && e.sendAudio == nil &&
		e.videoPkts.IsEmpty() && e.audioPkts.IsEmpty() &&
		e.pendingVideo == nil && len(e.pendingAudio) == 0
}

func (e *Engine) resetSeekState() {
	if e.seek.lastVideo != nil {
		e.seek.lastVideo.Release()
	}
	for _, raw := range e.seek.held {
		raw.Release()
	}
	e.seek = seekState{}
}

func (e *Engine) clearPackets() {
	release := func(p media.Packet) { p.Release() }
	e.videoPkts.Drain(release)
	e.audioPkts.Drain(release)
	if e.sendVideo != nil {
		e.sendVideo.Release()
		e.sendVideo = nil
	}
	if e.sendAudio != nil {
		e.sendAudio.Release()
		e.sendAudio = nil
	}
}

func (e *Engine) releaseAll() {
	e.clearPackets()
	e.resetSeekState()
	e.pendingVideo.Release()
	e.pendingVideo = nil
	e.pendingAudio = nil
}
