package testsrc

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jscyril/golang_clip_player/internal/decode"
	playerrors "github.com/jscyril/golang_clip_player/pkg/errors"
)

func TestOpenRejectsEmptyDuration(t *testing.T) {
	_, err := Open(Options{})
	assert.Error(t, err)
}

func TestInfoDescribesStreams(t *testing.T) {
	src, err := Open(DefaultOptions())
	require.NoError(t, err)

	info := src.Info()
	assert.InDelta(t, 10.0, info.DurationSeconds(), 1e-9)
	assert.InDelta(t, 1.0/30, info.FrameDuration(), 1e-9)
	assert.NotEqual(t, info.VideoStream, info.AudioStream)
}

func TestPacketsInterleaveInTimeOrder(t *testing.T) {
	opts := DefaultOptions()
	opts.Duration = 1
	src, err := Open(opts)
	require.NoError(t, err)
	info := src.Info()

	var video, audio int
	last := -1.0
	for {
		pkt, err := src.ReadPacket()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)

		tb := info.AudioTimeBase
		if pkt.StreamIndex() == info.VideoStream {
			tb = info.VideoTimeBase
			if video%opts.GOP == 0 {
				assert.True(t, pkt.Keyframe())
			}
			video++
		} else {
			audio++
		}
		ts := tb.Seconds(pkt.PTS())
		assert.GreaterOrEqual(t, ts, last)
		last = ts
	}
	assert.Equal(t, 30, video)
	assert.Equal(t, 47, audio)
}

func TestDecoderBuffering(t *testing.T) {
	src, err := Open(DefaultOptions())
	require.NoError(t, err)
	info := src.Info()

	var sent int
	for sent < decoderDepth+1 {
		pkt, err := src.ReadPacket()
		require.NoError(t, err)
		if pkt.StreamIndex() != info.VideoStream {
			continue
		}
		err = src.SendPacket(pkt)
		if sent == decoderDepth {
			assert.ErrorIs(t, err, playerrors.ErrAgain)
		} else {
			assert.NoError(t, err)
		}
		sent++
	}

	_, err = src.ReceiveVideo()
	require.NoError(t, err)
	_, err = src.ReceiveVideo()
	require.NoError(t, err)
	_, err = src.ReceiveVideo()
	assert.ErrorIs(t, err, playerrors.ErrAgain)

	require.NoError(t, src.Drain())
	_, err = src.ReceiveVideo()
	assert.ErrorIs(t, err, io.EOF)

	require.NoError(t, src.Reset())
	_, err = src.ReceiveVideo()
	assert.ErrorIs(t, err, playerrors.ErrAgain)
}

func TestSeekLandsOnKeyframes(t *testing.T) {
	tests := []struct {
		name    string
		seconds float64
		mode    decode.SeekMode
		want    int
	}{
		{"backward mid gop", 5.5, decode.SeekBackward, 150},
		{"backward on key", 5.0, decode.SeekBackward, 150},
		{"forward mid gop", 5.5, decode.SeekForward, 180},
		{"forward on key", 5.0, decode.SeekForward, 150},
		{"past the end", 42, decode.SeekBackward, 270},
		{"negative", -1, decode.SeekBackward, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := Open(DefaultOptions())
			require.NoError(t, err)
			require.NoError(t, src.Seek(tt.seconds, tt.mode))
			assert.Equal(t, tt.want, src.nextFrame)
		})
	}
}

func TestConvertersProduceOutputFormat(t *testing.T) {
	opts := DefaultOptions()
	opts.Output.Width, opts.Output.Height = 32, 18
	opts.Output.SampleRate, opts.Output.Channels = 44100, 2
	src, err := Open(opts)
	require.NoError(t, err)

	vf, err := src.ScaleVideo(&frame{pts: 3000, index: 1})
	require.NoError(t, err)
	assert.Equal(t, 32, vf.Width)
	assert.Len(t, vf.Pix, 32*18*4)
	_, _, _, a := vf.At(0, 0)
	assert.Equal(t, uint8(255), a)
	vf.Release()

	chunk, err := src.ResampleAudio(&frame{pts: 1024, index: 1})
	require.NoError(t, err)
	assert.Len(t, chunk.Samples, 1024*44100/48000*2)
	for i := 0; i < len(chunk.Samples); i += 2 {
		assert.Equal(t, chunk.Samples[i], chunk.Samples[i+1])
		assert.LessOrEqual(t, chunk.Samples[i], float32(0.25))
	}
}
