// Package decode runs the demux/decode side of the playback pipeline.
//
// An [Engine] owns a [Backend] (the codec-library capability: demuxer,
// decoders, scaler and resampler) and drives it from a dedicated goroutine,
// filling a video frame ring and an interleaved audio sample ring. The
// control side steers it exclusively through a [Mailbox] holding the latest
// [Event]; no other goroutine ever touches the backend.
package decode
