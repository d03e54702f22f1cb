package views

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jscyril/golang_clip_player/api"
	"github.com/jscyril/golang_clip_player/internal/ui/components"
)

// PlayerView displays the picture and the playback state below it
type PlayerView struct {
	Width       int
	Height      int
	State       api.PlaybackState
	Frame       components.FrameView
	ProgressBar components.ProgressBar
	ShowStats   bool

	// Styles
	TitleStyle    lipgloss.Style
	StatusStyle   lipgloss.Style
	InfoStyle     lipgloss.Style
	ControlsStyle lipgloss.Style
	BorderStyle   lipgloss.Style
}

// chromeRows is what the border, title, progress, info and help lines take.
const chromeRows = 9

// NewPlayerView creates a new player view
func NewPlayerView(width, height int) PlayerView {
	v := PlayerView{
		Frame:       components.NewFrameView(0, 0),
		ProgressBar: components.NewProgressBar(width - 4),
		TitleStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212")),
		StatusStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true),
		InfoStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")),
		ControlsStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),
		BorderStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1),
	}
	v.Resize(width, height)
	return v
}

// Resize fits the picture area into the remaining rows.
func (v *PlayerView) Resize(width, height int) {
	v.Width, v.Height = width, height
	v.Frame.Width = max(1, width-4)
	v.Frame.Height = max(1, height-chromeRows)
	v.ProgressBar.Width = max(10, width-4)
}

// SetState updates the playback state
func (v *PlayerView) SetState(state api.PlaybackState) {
	v.State = state
	v.ProgressBar.SetProgress(components.Seconds(state.Position), components.Seconds(state.Duration))
	if state.Selection != nil {
		v.ProgressBar.SetSelection(components.Seconds(state.Selection.Start), components.Seconds(state.Selection.End))
	} else {
		v.ProgressBar.SetSelection(0, 0)
	}
}

// Update handles messages
func (v PlayerView) Update(msg tea.Msg) (PlayerView, tea.Cmd) {
	return v, nil
}

// View renders the player view
func (v PlayerView) View() string {
	var sb strings.Builder

	sb.WriteString(v.Frame.View())
	sb.WriteString("\n")

	if v.State.Path == "" {
		sb.WriteString(v.TitleStyle.Render("No media open"))
		sb.WriteString("\n")
		sb.WriteString(v.ControlsStyle.Render("Press o to pick a file"))
		return v.BorderStyle.Width(max(10, v.Width-2)).Render(sb.String())
	}

	sb.WriteString(v.StatusStyle.Render(statusIcon(v.State) + " "))
	sb.WriteString(v.TitleStyle.Render(v.State.Title))
	sb.WriteString("\n")
	sb.WriteString(v.ProgressBar.View())
	sb.WriteString("\n")

	info := fmt.Sprintf("Gain: %s %3d%%", renderGainBar(v.State.Gain), int(v.State.Gain*100+0.5))
	if sel := v.State.Selection; sel != nil {
		info += fmt.Sprintf("   Selection: %s - %s (%.1fs)",
			components.FormatDuration(components.Seconds(sel.Start)),
			components.FormatDuration(components.Seconds(sel.End)),
			sel.Duration())
	}
	sb.WriteString(v.InfoStyle.Render(info))
	sb.WriteString("\n")

	if v.ShowStats {
		s := v.State.Stats
		sb.WriteString(v.InfoStyle.Render(fmt.Sprintf(
			"rendered %d  dropped %d  discarded %d  resyncs %d  vq %d  aq %d  underruns %d",
			s.Rendered, s.Dropped, s.SeekDiscarded, s.Resyncs, s.VideoQueued, s.AudioQueued, s.Underruns)))
		sb.WriteString("\n")
	}

	sb.WriteString(v.ControlsStyle.Render(
		"[Space] Play/Pause  [s] Stop  [←/→] Seek  [,/.] Keyframe  [+/-] Gain  [[/]] In/Out  [e] Export  [o] Open  [q] Quit",
	))

	return v.BorderStyle.Width(max(10, v.Width-2)).Render(sb.String())
}

func statusIcon(s api.PlaybackState) string {
	if s.Seeking {
		return "⇄"
	}
	switch s.State {
	case api.StatePlaying:
		return "▶"
	case api.StatePaused:
		return "⏸"
	default:
		return "⏹"
	}
}

// renderGainBar draws gain in tenths; values above 1 fill the bar.
func renderGainBar(gain float64) string {
	filled := min(10, max(0, int(gain*10+0.5)))
	empty := 10 - filled

	filledStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	emptyStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	return filledStyle.Render(strings.Repeat("●", filled)) + emptyStyle.Render(strings.Repeat("○", empty))
}
