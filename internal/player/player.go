// Package player is the playback orchestrator. It owns the clock, the
// consumer end of the video queue, the audio sink and the decode engine of
// the open media, and decides once per UI tick which frame is visible.
package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jscyril/golang_clip_player/api"
	"github.com/jscyril/golang_clip_player/internal/audio"
	"github.com/jscyril/golang_clip_player/internal/clock"
	"github.com/jscyril/golang_clip_player/internal/decode"
	"github.com/jscyril/golang_clip_player/internal/media"
	"github.com/jscyril/golang_clip_player/internal/ringbuf"
	"github.com/jscyril/golang_clip_player/pkg/events"
	playerrors "github.com/jscyril/golang_clip_player/pkg/errors"
)

// Ensure Player implements the api.Player interface at compile time
var _ api.Player = (*Player)(nil)

// Opener opens path as a decode backend converting to out. Errors should be
// *playerrors.OpenError or wrap one of the open sentinels.
type Opener func(path string, out media.OutputFormat) (decode.Backend, error)

// Config tunes a Player. Zero values select the defaults.
type Config struct {
	Tolerance          float64 // seconds
	VideoQueueFrames   int
	AudioQueueSeconds  float64
	VideoPacketBacklog int
	AudioPacketBacklog int

	// Output picture size; zero keeps the source size.
	Width  int
	Height int

	// ResyncTimeout bounds the wait for a fresh audio callback after a seek.
	ResyncTimeout time.Duration

	// Bus receives player events if set.
	Bus *events.EventBus
	// Now replaces the wall clock, for tests.
	Now func() time.Time
}

func (c *Config) withDefaults() {
	if c.Tolerance <= 0 {
		c.Tolerance = DefaultTolerance
	}
	if c.VideoQueueFrames <= 0 {
		c.VideoQueueFrames = media.DefaultVideoQueueFrames
	}
	if c.AudioQueueSeconds <= 0 {
		c.AudioQueueSeconds = media.DefaultAudioQueueSeconds
	}
	if c.ResyncTimeout <= 0 {
		c.ResyncTimeout = 250 * time.Millisecond
	}
}

type stats struct {
	rendered int64
	dropped  int64
	waits    int64
	resyncs  int64
}

// Player implements api.Player. Its methods are safe to call from several
// goroutines but are meant for a single control goroutine; View is cheap
// except right after a seek, when it may wait up to ResyncTimeout for audio.
type Player struct {
	log  *slog.Logger
	cfg  Config
	open Opener
	sink *audio.Sink
	bus  *events.EventBus

	mu    sync.Mutex
	clock *clock.Clock
	state api.PlayState

	// Open media; engine is nil when nothing is open.
	path   string
	info   media.StreamInfo
	engine *decode.Engine
	cancel context.CancelFunc
	video  *ringbuf.Ring[*media.VideoFrame]
	audioQ *ringbuf.Ring[float32]
	// stopped is set once Stop was sent; the engine must be replaced before
	// it can produce again.
	stopped     bool
	errReported bool

	seeking    bool
	seekEpoch  uint64
	seekTarget float64

	held      *media.VideoFrame
	current   *media.VideoFrame
	selection *api.Selection

	consecutiveDrops int
	stats            stats
}

// New creates a player that plays audio through sink and opens media with
// open. If log is nil, slog.Default() is used.
func New(sink *audio.Sink, open Opener, cfg Config, log *slog.Logger) *Player {
	if log == nil {
		log = slog.Default()
	}
	cfg.withDefaults()
	var opts []clock.Option
	if cfg.Now != nil {
		opts = append(opts, clock.WithNow(cfg.Now))
	}
	return &Player{
		log:   log.With("component", "player"),
		cfg:   cfg,
		open:  open,
		sink:  sink,
		bus:   cfg.Bus,
		clock: clock.New(opts...),
		state: api.StateStopped,
	}
}

// Open replaces the current media with path and shows its first frame. The
// player is Stopped afterwards. Errors are *playerrors.OpenError.
func (p *Player) Open(path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closeMedia()
	p.selection = nil
	p.current.Release()
	p.current = nil

	if err := p.openMedia(path); err != nil {
		p.path = ""
		p.info = media.StreamInfo{}
		p.setState(api.StateStopped)
		p.clock.Reset()
		return err
	}
	p.setState(api.StateStopped)
	p.clock.Reset()
	p.publish(api.EventMediaOpened, p.info)

	// Poster frame: decode up to the first frame and hold there.
	p.seekTo(0, false)
	return nil
}

func (p *Player) openMedia(path string) error {
	out := media.OutputFormat{
		Width:      p.cfg.Width,
		Height:     p.cfg.Height,
		SampleRate: p.sink.SampleRate(),
		Channels:   p.sink.Channels(),
	}
	backend, err := p.open(path, out)
	if err != nil {
		var oerr *playerrors.OpenError
		if !errors.As(err, &oerr) {
			err = playerrors.NewOpenError(path, err)
		}
		p.log.Warn("open failed", "path", path, "error", err)
		return err
	}

	info := backend.Info()
	video := ringbuf.New[*media.VideoFrame](p.cfg.VideoQueueFrames)
	audioQ := ringbuf.New[float32](int(float64(out.SampleRate*out.Channels) * p.cfg.AudioQueueSeconds))
	p.sink.SetQueue(audioQ)

	engine := decode.NewEngine(backend, video, audioQ, decode.Config{
		VideoPacketBacklog: p.cfg.VideoPacketBacklog,
		AudioPacketBacklog: p.cfg.AudioPacketBacklog,
		FlushAudio:         func() { p.sink.Flush() },
		Initial:            decode.Pause(),
	}, p.log)
	ctx, cancel := context.WithCancel(context.Background())
	engine.Start(ctx)

	p.path = path
	p.info = info
	p.engine = engine
	p.cancel = cancel
	p.video = video
	p.audioQ = audioQ
	p.stopped = false
	p.errReported = false
	p.seeking = false

	p.log.Info("media opened",
		"path", path,
		"container", info.Container,
		"video", info.VideoCodec,
		"audio", info.AudioCodec,
		"size", fmt.Sprintf("%dx%d", info.Width, info.Height),
		"duration", info.DurationSeconds())
	return nil
}

// closeMedia stops the engine and drops every queued frame. The last
// presented frame is kept for display.
func (p *Player) closeMedia() {
	if p.engine == nil {
		return
	}
	p.engine.Send(decode.Stop())
	p.cancel()
	p.sink.Pause()
	p.sink.SetQueue(nil)
	p.clearVideo()
	p.engine = nil
	p.cancel = nil
	p.video = nil
	p.audioQ = nil
	p.seeking = false
}

// ensureEngine replaces an engine that has stopped, either on Stop or at
// end of stream, with a fresh one on the same media. It reports whether an
// engine is available. An engine that failed is not replaced.
func (p *Player) ensureEngine() bool {
	if p.engine == nil {
		return false
	}
	exited := false
	select {
	case <-p.engine.Done():
		exited = true
	default:
	}
	if !p.stopped && !exited {
		return true
	}
	if exited && p.engine.Err() != nil {
		p.reportEngineError()
		return false
	}

	p.log.Debug("reopening media", "path", p.path, "stopped", p.stopped)
	path := p.path
	p.closeMedia()
	if err := p.openMedia(path); err != nil {
		p.publish(api.EventDecodeError, err)
		return false
	}
	return true
}

func (p *Player) reportEngineError() {
	if p.errReported || p.engine == nil {
		return
	}
	if err := p.engine.Err(); err != nil {
		p.errReported = true
		p.log.Error("decoding stopped", "path", p.path, "error", err)
		p.publish(api.EventDecodeError, err)
	}
}

// StartPlay moves Stopped to Playing.
func (p *Player) StartPlay() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startPlay()
}

func (p *Player) startPlay() {
	if p.state != api.StateStopped || !p.ensureEngine() {
		return
	}
	p.setState(api.StatePlaying)
	if p.seeking {
		// The resync starts clock and audio once the target frame arrives.
		return
	}
	p.engine.Send(decode.None())
	p.clock.Start()
	p.sink.Play()
}

// PausePlay moves Playing to Paused.
func (p *Player) PausePlay() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pausePlay()
}

func (p *Player) pausePlay() {
	if p.state != api.StatePlaying {
		return
	}
	p.setState(api.StatePaused)
	p.clock.Stop()
	p.sink.Pause()
	if !p.seeking {
		// A pending seek must not be overwritten; the resync pauses the
		// engine instead.
		p.engine.Send(decode.Pause())
	}
}

// ResumePlay moves Paused to Playing.
func (p *Player) ResumePlay() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != api.StatePaused {
		return
	}
	p.setState(api.StatePlaying)
	if p.seeking {
		return
	}
	p.engine.Send(decode.None())
	p.clock.Start()
	p.sink.Play()
}

// TogglePlay starts, pauses or resumes depending on the current state.
func (p *Player) TogglePlay() {
	p.mu.Lock()
	state := p.state
	p.mu.Unlock()

	switch state {
	case api.StateStopped:
		p.StartPlay()
	case api.StatePlaying:
		p.PausePlay()
	case api.StatePaused:
		p.ResumePlay()
	}
}

// StopPlay stops decoding and rewinds. The next StartPlay plays from the
// beginning on a fresh engine.
func (p *Player) StopPlay() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == api.StateStopped || p.engine == nil {
		return
	}
	p.engine.Send(decode.Stop())
	p.stopped = true
	p.seeking = false
	p.clock.Reset()
	p.sink.Pause()
	p.clearVideo()
	p.sink.Flush()
	p.setState(api.StateStopped)
}

// SeekTo seeks to seconds, clamped into [0, duration].
func (p *Player) SeekTo(seconds float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seekTo(seconds, true)
}

// SeekPlayer seeks to fn(current, duration).
func (p *Player) SeekPlayer(fn func(current, duration float64) float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seekTo(fn(p.currentPlaytime(), p.info.DurationSeconds()), true)
}

func (p *Player) seekTo(seconds float64, reopen bool) {
	if p.engine == nil {
		return
	}
	if reopen && !p.ensureEngine() {
		return
	}
	target := clamp(seconds, 0, p.info.DurationSeconds())
	p.beginSeek(decode.Seek(target), target)
}

// NextKey steps to the keyframe after the current position.
func (p *Player) NextKey() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keyStep(decode.NextKey)
}

// LastKey steps to the keyframe before the current position.
func (p *Player) LastKey() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keyStep(decode.PrevKey)
}

func (p *Player) keyStep(event func(ref float64) decode.Event) {
	if p.engine == nil || !p.ensureEngine() {
		return
	}
	ref := p.currentPlaytime()
	p.beginSeek(event(ref), ref)
}

func (p *Player) beginSeek(ev decode.Event, target float64) {
	p.seekEpoch++
	p.engine.Send(ev.WithEpoch(p.seekEpoch))
	p.log.Debug("seek requested", "event", ev.String(), "epoch", p.seekEpoch)

	p.seeking = true
	p.seekTarget = target
	p.consecutiveDrops = 0
	p.clearVideo()
	p.sink.Pause()
	p.clock.Set(target)
}

// View returns the frame to show on this tick, or the previous one if
// nothing new is due. It returns nil until a first frame was shown.
func (p *Player) View() *media.VideoFrame {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.engine == nil {
		return p.current
	}
	p.reportEngineError()
	if p.state != api.StatePlaying && !p.seeking {
		return p.current
	}

	var due *media.VideoFrame
	for budget := p.video.Cap() + 1; budget > 0; budget-- {
		f := p.nextFrame()
		if f == nil {
			break
		}
		if f.PTS < 0 || (p.seeking && f.Epoch != p.seekEpoch) {
			p.drop(f, "stale")
			continue
		}

		t := p.info.VideoTimeBase.Seconds(f.PTS)
		switch Decide(t, p.clock.Now(), p.seeking, f.Reseeked, p.cfg.Tolerance) {
		case Resync:
			p.resync(f, t)
			p.present(f)
			return p.current
		case Render:
			if due != nil {
				p.drop(due, "superseded")
			}
			due = f
			continue
		case Wait:
			p.held = f
			p.stats.waits++
		case Drop:
			p.drop(f, "out of tolerance")
			continue
		}
		break
	}

	if due != nil {
		p.present(due)
	}
	p.checkEnd()
	return p.current
}

func (p *Player) nextFrame() *media.VideoFrame {
	if p.held != nil {
		f := p.held
		p.held = nil
		return f
	}
	f, _ := p.video.TryPop()
	return f
}

func (p *Player) present(f *media.VideoFrame) {
	if p.current != nil && p.current != f {
		p.current.Release()
	}
	p.current = f
	p.consecutiveDrops = 0
	p.stats.rendered++
}

func (p *Player) drop(f *media.VideoFrame, reason string) {
	p.consecutiveDrops++
	p.stats.dropped++
	p.log.Debug("frame dropped",
		"pts", f.PTS,
		"reason", reason,
		"clock", p.clock.Now(),
		"consecutive", p.consecutiveDrops)
	f.Release()
}

// resync finishes a seek on its first target frame: the clock jumps to the
// frame and, when playing, starts together with the audio device.
func (p *Player) resync(f *media.VideoFrame, t float64) {
	p.seeking = false
	p.stats.resyncs++
	p.clock.Set(t)

	if p.state == api.StatePlaying {
		p.sink.ResetCallbackFlag()
		p.sink.Play()
		if !p.sink.WaitCallback(p.cfg.ResyncTimeout) {
			p.log.Debug("no audio callback after seek", "timeout", p.cfg.ResyncTimeout)
		}
		p.clock.Start()
	} else {
		p.engine.Send(decode.Pause())
	}
	p.log.Debug("seek complete", "time", t, "epoch", f.Epoch)
	p.publish(api.EventSeekComplete, t)
}

// checkEnd pauses and rewinds once the clock passes the end of the media.
func (p *Player) checkEnd() {
	d := p.info.DurationSeconds()
	if p.state != api.StatePlaying || p.seeking || d <= 0 || p.clock.Now() < d {
		return
	}
	p.log.Info("end of media", "path", p.path)
	p.pausePlay()
	p.publish(api.EventEndOfMedia, d)
	p.seekTo(0, true)
}

// clearVideo empties the held slot and the video queue.
func (p *Player) clearVideo() {
	if p.held != nil {
		p.held.Release()
		p.held = nil
	}
	if p.video != nil {
		p.video.Drain(func(f *media.VideoFrame) { f.Release() })
	}
}

// CurrentPlaytime returns the playback position in seconds. While a seek is
// pending it reports the target.
func (p *Player) CurrentPlaytime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentPlaytime()
}

func (p *Player) currentPlaytime() float64 {
	if p.seeking {
		return p.seekTarget
	}
	return clamp(p.clock.Now(), 0, p.info.DurationSeconds())
}

// Duration returns the media duration in seconds, or zero with nothing open.
func (p *Player) Duration() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.info.DurationSeconds()
}

// PlayPercentage returns the position as a percentage of the duration.
func (p *Player) PlayPercentage() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	d := p.info.DurationSeconds()
	if d <= 0 {
		return 0
	}
	return p.currentPlaytime() / d * 100
}

// State returns the current play state.
func (p *Player) State() api.PlayState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Info returns the stream metadata of the open media.
func (p *Player) Info() media.StreamInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.info
}

// Snapshot returns a copy of the playback state.
func (p *Player) Snapshot() api.PlaybackState {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := api.PlaybackState{
		State:    p.state,
		Position: p.currentPlaytime(),
		Duration: p.info.DurationSeconds(),
		Seeking:  p.seeking,
		Gain:     p.sink.Gain(),
		Title:    p.info.Title,
		Path:     p.path,
		Stats: api.PlaybackStats{
			Rendered:  p.stats.rendered,
			Dropped:   p.stats.dropped,
			Waits:     p.stats.waits,
			Resyncs:   p.stats.resyncs,
			Underruns: p.sink.Stats().Underruns,
		},
	}
	if p.selection != nil {
		sel := *p.selection
		s.Selection = &sel
	}
	if p.engine != nil {
		s.Stats.SeekDiscarded = p.engine.Stats().SeekDiscarded
		s.Stats.VideoQueued = p.video.Len()
		s.Stats.AudioQueued = p.audioQ.Len()
	}
	return s
}

// SetSelection marks [start, end) for export, clamped to the media. The
// bounds may be given in either order.
func (p *Player) SetSelection(start, end float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.engine == nil {
		return playerrors.ErrNotOpen
	}
	d := p.info.DurationSeconds()
	start, end = clamp(start, 0, d), clamp(end, 0, d)
	if end < start {
		start, end = end, start
	}
	if end == start {
		return fmt.Errorf("%w: empty range at %.3fs", playerrors.ErrNoSelection, start)
	}
	p.selection = &api.Selection{Start: start, End: end}
	return nil
}

// ClearSelection removes the export range.
func (p *Player) ClearSelection() {
	p.mu.Lock()
	p.selection = nil
	p.mu.Unlock()
}

// ExportRequest describes an export of the current selection to dest.
func (p *Player) ExportRequest(dest string) (api.ExportRequest, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.engine == nil {
		return api.ExportRequest{}, playerrors.ErrNotOpen
	}
	if p.selection == nil {
		return api.ExportRequest{}, playerrors.ErrNoSelection
	}
	return api.ExportRequest{
		Source:      p.path,
		Dest:        dest,
		VideoStream: p.info.VideoStream,
		AudioStream: p.info.AudioStream,
		Range:       *p.selection,
	}, nil
}

// SetGain sets the audio gain; see audio.Sink.SetGain.
func (p *Player) SetGain(gain float64) error {
	return p.sink.SetGain(gain)
}

// DebugString is a one-line summary of the pipeline for overlays and logs.
func (p *Player) DebugString() string {
	s := p.Snapshot()
	return fmt.Sprintf("%s %.3f/%.3f seeking=%t vq=%d aq=%d rendered=%d dropped=%d waits=%d resyncs=%d underruns=%d",
		s.State, s.Position, s.Duration, s.Seeking,
		s.Stats.VideoQueued, s.Stats.AudioQueued,
		s.Stats.Rendered, s.Stats.Dropped, s.Stats.Waits, s.Stats.Resyncs, s.Stats.Underruns)
}

// Close stops decoding and releases the open media. The sink stays usable.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closeMedia()
	p.current.Release()
	p.current = nil
	p.clock.Reset()
	p.setState(api.StateStopped)
	return nil
}

func (p *Player) setState(s api.PlayState) {
	if p.state == s {
		return
	}
	p.log.Debug("state change", "from", p.state, "to", s)
	p.state = s
	p.publish(api.EventStateChange, s)
}

func (p *Player) publish(t api.EventType, payload interface{}) {
	p.bus.Publish(api.PlayerEvent{Type: t, Payload: payload})
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if hi > lo && v > hi {
		return hi
	}
	return v
}
