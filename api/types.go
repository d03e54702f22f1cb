package api

import (
	"time"

	"github.com/jscyril/golang_clip_player/internal/media"
)

// PlayState is the orchestrator's top-level state.
type PlayState int

const (
	StateStopped PlayState = iota
	StatePlaying
	StatePaused
)

func (s PlayState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Selection is a half-open [Start, End) range in seconds marked for export.
type Selection struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Duration returns the length of the range.
func (s Selection) Duration() float64 {
	return s.End - s.Start
}

// Empty reports whether the range covers no time.
func (s Selection) Empty() bool {
	return s.End <= s.Start
}

// PlaybackStats aggregates pipeline counters for display and debugging.
type PlaybackStats struct {
	Rendered      int64 `json:"rendered"`
	Dropped       int64 `json:"dropped"`
	SeekDiscarded int64 `json:"seek_discarded"`
	Waits         int64 `json:"waits"`
	Resyncs       int64 `json:"resyncs"`
	VideoQueued   int   `json:"video_queued"`
	AudioQueued   int   `json:"audio_queued"`
	Underruns     int64 `json:"underruns"`
}

// PlaybackState is a point-in-time snapshot of the player.
type PlaybackState struct {
	State     PlayState     `json:"state"`
	Position  float64       `json:"position"`
	Duration  float64       `json:"duration"`
	Seeking   bool          `json:"seeking"`
	Gain      float64       `json:"gain"`
	Selection *Selection    `json:"selection,omitempty"`
	Title     string        `json:"title"`
	Path      string        `json:"path"`
	Stats     PlaybackStats `json:"stats"`
}

// ExportRequest carries everything the export tool needs for the current
// selection of the open media.
type ExportRequest struct {
	Source      string    `json:"source"`
	Dest        string    `json:"dest"`
	VideoStream int       `json:"video_stream"`
	AudioStream int       `json:"audio_stream"`
	Range       Selection `json:"range"`
}

// EventType identifies a player event.
type EventType int

const (
	EventStateChange EventType = iota
	EventSeekComplete
	EventEndOfMedia
	EventDecodeError
	EventMediaOpened
)

// PlayerEvent is published on the event bus. Payload depends on Type:
// PlayState for state changes, float64 seconds for seeks, error for decode
// errors and media.StreamInfo for opened media.
type PlayerEvent struct {
	Type    EventType
	Payload interface{}
	At      time.Time
}

// Player is the control surface of the playback core.
type Player interface {
	Open(path string) error
	StartPlay()
	PausePlay()
	ResumePlay()
	TogglePlay()
	StopPlay()
	SeekTo(seconds float64)
	SeekPlayer(fn func(current, duration float64) float64)
	NextKey()
	LastKey()
	View() *media.VideoFrame
	CurrentPlaytime() float64
	Duration() float64
	PlayPercentage() float64
	State() PlayState
	Snapshot() PlaybackState
	SetSelection(start, end float64) error
	ClearSelection()
	ExportRequest(dest string) (ExportRequest, error)
	SetGain(gain float64) error
	Close() error
}
