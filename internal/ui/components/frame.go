package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jscyril/golang_clip_player/internal/media"
)

const halfBlock = "▀"

// FrameView draws video frames as half-block cells: every terminal cell
// shows two vertically stacked pixels, the upper one as foreground and the
// lower one as background.
type FrameView struct {
	Width  int // cells
	Height int // cells, i.e. Height*2 pixel rows

	EmptyStyle lipgloss.Style

	rendered string
}

// NewFrameView creates a frame view of the given cell size
func NewFrameView(width, height int) FrameView {
	return FrameView{
		Width:      width,
		Height:     height,
		EmptyStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
	}
}

// SetFrame renders f immediately. The frame may be recycled by the player
// on its next tick, so nothing of it is kept. A nil frame keeps the last
// picture.
func (v *FrameView) SetFrame(f *media.VideoFrame) {
	if f == nil {
		return
	}
	v.rendered = RenderFrame(f, v.Width, v.Height)
}

// Clear drops the last picture.
func (v *FrameView) Clear() {
	v.rendered = ""
}

// View renders the frame area
func (v FrameView) View() string {
	if v.rendered != "" {
		return v.rendered
	}
	if v.Width <= 0 || v.Height <= 0 {
		return ""
	}
	blank := strings.Repeat(" ", v.Width)
	lines := make([]string, v.Height)
	for i := range lines {
		lines[i] = blank
	}
	lines[v.Height/2] = lipgloss.PlaceHorizontal(v.Width, lipgloss.Center, v.EmptyStyle.Render("no picture"))
	return strings.Join(lines, "\n")
}

// RenderFrame scales f into a cols x rows cell area, letterboxed, using
// nearest-neighbour sampling. Runs of identically coloured cells share one
// style.
func RenderFrame(f *media.VideoFrame, cols, rows int) string {
	if f == nil || cols <= 0 || rows <= 0 {
		return ""
	}
	dst := media.FitRect(f.Width, f.Height, cols, rows*2)

	var sb strings.Builder
	for row := 0; row < rows; row++ {
		var run cell
		n := 0
		flush := func() {
			if n > 0 {
				sb.WriteString(run.style().Render(strings.Repeat(halfBlock, n)))
			}
			n = 0
		}
		for col := 0; col < cols; col++ {
			c := cell{
				top:    sample(f, dst, col, row*2),
				bottom: sample(f, dst, col, row*2+1),
			}
			if n > 0 && c == run {
				n++
				continue
			}
			flush()
			run, n = c, 1
		}
		flush()
		if row < rows-1 {
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

type rgb struct{ r, g, b uint8 }

func (c rgb) hex() lipgloss.Color {
	return lipgloss.Color(fmt.Sprintf("#%02x%02x%02x", c.r, c.g, c.b))
}

type cell struct{ top, bottom rgb }

func (c cell) style() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(c.top.hex()).Background(c.bottom.hex())
}

// sample returns the source pixel shown at surface position (x, y); outside
// the destination rectangle is black.
func sample(f *media.VideoFrame, dst media.Rect, x, y int) rgb {
	if x < dst.X || y < dst.Y || x >= dst.X+dst.W || y >= dst.Y+dst.H {
		return rgb{}
	}
	sx := (x - dst.X) * f.Width / dst.W
	sy := (y - dst.Y) * f.Height / dst.H
	r, g, b, _ := f.At(sx, sy)
	return rgb{r, g, b}
}
