package export

// window decides which packets fall inside the clip. The clip starts on the
// first video keyframe read after the seek; audio before that point is
// skipped. Each rail ends at the first packet at or past the requested end.
type window struct {
	end      float64
	base     float64
	last     float64
	anchored bool

	videoDone bool
	audioDone bool
	audioOnly bool
}

func newWindow(req Request) *window {
	w := &window{
		end:       req.Range.End,
		videoDone: req.VideoStream < 0,
		audioDone: req.AudioStream < 0,
		audioOnly: req.VideoStream < 0,
	}
	return w
}

func (w *window) admit(video bool, t float64, key bool) bool {
	if video {
		if w.videoDone {
			return false
		}
		if !w.anchored {
			if !key {
				return false
			}
			w.anchor(t)
		}
		if t >= w.end {
			w.videoDone = true
			return false
		}
		return true
	}

	if w.audioDone {
		return false
	}
	if !w.anchored {
		if !w.audioOnly {
			return false
		}
		w.anchor(t)
	}
	if t < w.base {
		return false
	}
	if t >= w.end {
		w.audioDone = true
		return false
	}
	return true
}

func (w *window) anchor(t float64) {
	w.anchored = true
	w.base = t
	w.last = t
}

// extend records the end time of a written packet.
func (w *window) extend(t float64) {
	if t > w.last {
		w.last = t
	}
}

func (w *window) done() bool {
	return w.videoDone && w.audioDone
}

// rebaser shifts each stream so its first written packet lands at zero.
// pts and dts keep separate offsets, taken from that first packet.
type rebaser struct {
	none    int64 // the "no timestamp" sentinel, left untouched
	offsets map[int]*[2]int64
}

func newRebaser(none int64) *rebaser {
	return &rebaser{none: none, offsets: make(map[int]*[2]int64)}
}

func (r *rebaser) apply(stream int, pts, dts int64) (int64, int64) {
	off, ok := r.offsets[stream]
	if !ok {
		off = &[2]int64{pts, dts}
		if pts == r.none {
			off[0] = dts
		}
		if dts == r.none {
			off[1] = off[0]
		}
		r.offsets[stream] = off
	}
	if pts != r.none {
		pts -= off[0]
	}
	if dts != r.none {
		dts -= off[1]
	}
	return pts, dts
}
