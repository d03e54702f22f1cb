package components

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ProgressBar represents a progress bar component with an optional
// highlighted selection range
type ProgressBar struct {
	Width     int
	Current   time.Duration
	Total     time.Duration
	SelStart  time.Duration
	SelEnd    time.Duration
	BarChar   string
	EmptyChar string
	SelChar   string
	ShowTime  bool

	Style       lipgloss.Style
	FilledStyle lipgloss.Style
	EmptyStyle  lipgloss.Style
	SelStyle    lipgloss.Style
}

// NewProgressBar creates a new progress bar
func NewProgressBar(width int) ProgressBar {
	return ProgressBar{
		Width:       width,
		BarChar:     "█",
		EmptyChar:   "░",
		SelChar:     "▓",
		ShowTime:    true,
		Style:       lipgloss.NewStyle(),
		FilledStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("212")),
		EmptyStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		SelStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("86")),
	}
}

// Update handles messages for the progress bar
func (p ProgressBar) Update(msg tea.Msg) (ProgressBar, tea.Cmd) {
	return p, nil
}

// SetProgress sets the current position
func (p *ProgressBar) SetProgress(current, total time.Duration) {
	p.Current = current
	p.Total = total
}

// SetSelection highlights [start, end). An empty range clears it.
func (p *ProgressBar) SetSelection(start, end time.Duration) {
	if end <= start {
		start, end = 0, 0
	}
	p.SelStart, p.SelEnd = start, end
}

// View renders the progress bar
func (p ProgressBar) View() string {
	var sb strings.Builder

	barWidth := p.Width - 20 // Leave room for time display
	if barWidth < 10 {
		barWidth = 10
	}

	filled := p.cells(p.Current, barWidth)
	selFrom, selTo := -1, -1
	if p.SelEnd > p.SelStart {
		selFrom, selTo = p.cells(p.SelStart, barWidth), p.cells(p.SelEnd, barWidth)
		if selTo == selFrom {
			selTo++
		}
	}

	for i := 0; i < barWidth; {
		j := i + 1
		for j < barWidth && p.kind(j, filled, selFrom, selTo) == p.kind(i, filled, selFrom, selTo) {
			j++
		}
		switch p.kind(i, filled, selFrom, selTo) {
		case cellFilled:
			sb.WriteString(p.FilledStyle.Render(strings.Repeat(p.BarChar, j-i)))
		case cellSelected:
			sb.WriteString(p.SelStyle.Render(strings.Repeat(p.SelChar, j-i)))
		default:
			sb.WriteString(p.EmptyStyle.Render(strings.Repeat(p.EmptyChar, j-i)))
		}
		i = j
	}

	if p.ShowTime {
		sb.WriteString(" ")
		sb.WriteString(FormatDuration(p.Current))
		sb.WriteString("/")
		sb.WriteString(FormatDuration(p.Total))
	}

	return p.Style.Render(sb.String())
}

const (
	cellEmpty = iota
	cellFilled
	cellSelected
)

func (p ProgressBar) kind(i, filled, selFrom, selTo int) int {
	switch {
	case i >= selFrom && i < selTo:
		return cellSelected
	case i < filled:
		return cellFilled
	default:
		return cellEmpty
	}
}

// cells maps a position to a cell count on a bar of width cells.
func (p ProgressBar) cells(d time.Duration, width int) int {
	if p.Total <= 0 {
		return 0
	}
	frac := float64(d) / float64(p.Total)
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return int(float64(width) * frac)
}

// FormatDuration formats a duration as MM:SS.t
func FormatDuration(d time.Duration) string {
	d = d.Round(100 * time.Millisecond)
	m := d / time.Minute
	s := (d % time.Minute) / time.Second
	tenths := (d % time.Second) / (100 * time.Millisecond)
	return fmt.Sprintf("%02d:%02d.%d", m, s, tenths)
}

// Seconds converts float seconds to a duration.
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
