package media

import (
	"math"
	"sync"
)

// VideoFrame is a decoded picture converted to the output pixel format
// (RGBA, 4 bytes per pixel).
type VideoFrame struct {
	PTS    int64
	Width  int
	Height int
	Stride int
	Pix    []byte

	// Reseeked marks the first frame emitted after a seek reached its target.
	Reseeked bool
	// Epoch is the seek generation the frame was decoded in.
	Epoch uint64

	pool *FramePool
}

// Release hands the pixel buffer back to the pool it came from. The frame
// must not be used afterwards. Releasing a nil frame is a no-op.
func (f *VideoFrame) Release() {
	if f == nil || f.pool == nil {
		return
	}
	f.pool.put(f.Pix)
	f.Pix = nil
	f.pool = nil
}

// At returns the RGBA components of the pixel at (x, y).
func (f *VideoFrame) At(x, y int) (r, g, b, a uint8) {
	i := y*f.Stride + x*4
	if x < 0 || y < 0 || i+3 >= len(f.Pix) {
		return 0, 0, 0, 0
	}
	return f.Pix[i], f.Pix[i+1], f.Pix[i+2], f.Pix[i+3]
}

// AudioChunk is a block of interleaved float samples already converted to
// the output device's rate and channel layout.
type AudioChunk struct {
	PTS     int64
	Samples []float32
}

// FramePool recycles pixel buffers of a fixed size so steady-state playback
// does not allocate a new buffer per frame.
type FramePool struct {
	size int
	pool sync.Pool
}

// NewFramePool creates a pool for width x height RGBA buffers.
func NewFramePool(width, height int) *FramePool {
	size := width * height * 4
	p := &FramePool{size: size}
	p.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return p
}

// NewFrame returns a frame backed by a pooled buffer. Pixel contents are
// undefined until written.
func (p *FramePool) NewFrame(pts int64, width, height int) *VideoFrame {
	bp := p.pool.Get().(*[]byte)
	return &VideoFrame{
		PTS:    pts,
		Width:  width,
		Height: height,
		Stride: width * 4,
		Pix:    (*bp)[:p.size],
		pool:   p,
	}
}

func (p *FramePool) put(b []byte) {
	if cap(b) < p.size {
		return
	}
	b = b[:p.size]
	p.pool.Put(&b)
}

// Rect is a destination rectangle on a render surface.
type Rect struct {
	X, Y, W, H int
}

// FitRect scales a srcW x srcH picture into a dstW x dstH surface preserving
// its aspect ratio, centred with letterbox or pillarbox bars.
func FitRect(srcW, srcH, dstW, dstH int) Rect {
	if srcW <= 0 || srcH <= 0 || dstW <= 0 || dstH <= 0 {
		return Rect{}
	}
	scale := float64(dstW) / float64(srcW)
	if s := float64(dstH) / float64(srcH); s < scale {
		scale = s
	}
	w := int(math.Round(float64(srcW) * scale))
	h := int(math.Round(float64(srcH) * scale))
	return Rect{X: (dstW - w) / 2, Y: (dstH - h) / 2, W: w, H: h}
}
