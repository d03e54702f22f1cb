package decode

import "github.com/jscyril/golang_clip_player/internal/media"

// SeekMode selects which keyframe a demuxer seek lands on.
type SeekMode int

const (
	// SeekBackward lands on the closest keyframe at or before the target.
	SeekBackward SeekMode = iota
	// SeekForward lands on the closest keyframe at or after the target.
	SeekForward
)

func (m SeekMode) String() string {
	if m == SeekForward {
		return "forward"
	}
	return "backward"
}

// Backend is the codec-library capability the engine drives: a demuxer, one
// video and one audio decoder, a scaler and a resampler for a single opened
// media handle. A Backend is owned by exactly one goroutine at a time and is
// never safe for concurrent use.
//
// Receive methods return playerrors.ErrAgain when the decoder needs more
// input and io.EOF once it has been drained completely. SendPacket returns
// playerrors.ErrAgain when the decoder must be read from before it accepts
// the packet; the caller keeps the packet and retries.
type Backend interface {
	Info() media.StreamInfo

	ReadPacket() (media.Packet, error)
	SendPacket(pkt media.Packet) error
	ReceiveVideo() (media.RawFrame, error)
	ReceiveAudio() (media.RawFrame, error)

	ScaleVideo(raw media.RawFrame) (*media.VideoFrame, error)
	ResampleAudio(raw media.RawFrame) (*media.AudioChunk, error)

	// Drain signals end of input to both decoders so buffered frames are
	// released.
	Drain() error
	// Seek repositions the demuxer on a keyframe near seconds.
	Seek(seconds float64, mode SeekMode) error
	// Reset flushes both decoders and rebuilds the resampler.
	Reset() error
	Close() error
}
