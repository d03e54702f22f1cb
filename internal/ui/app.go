package ui

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jscyril/golang_clip_player/api"
	"github.com/jscyril/golang_clip_player/internal/config"
	"github.com/jscyril/golang_clip_player/internal/export"
	"github.com/jscyril/golang_clip_player/internal/ui/components"
	"github.com/jscyril/golang_clip_player/internal/ui/views"
)

// ExportFunc writes the clip described by req.
type ExportFunc func(ctx context.Context, req api.ExportRequest) (*export.Report, error)

// Options wires the model to the rest of the program.
type Options struct {
	Config *config.Config
	// Events, if set, delivers player events.
	Events <-chan api.PlayerEvent
	Export ExportFunc
	// Browse starts in the file browser instead of the player.
	Browse   bool
	StartDir string
}

const (
	gainStep = 0.1
	maxGain  = 2.0
)

// Model is the main bubbletea model
type Model struct {
	width  int
	height int

	player     api.Player
	cfg        *config.Config
	events     <-chan api.PlayerEvent
	exportFn   ExportFunc
	playerView views.PlayerView
	browser    components.FileBrowser
	browsing   bool
	exporting  bool

	ctx    context.Context
	cancel context.CancelFunc
	status string
	err    error

	statusStyle lipgloss.Style
	errorStyle  lipgloss.Style
}

// TickMsg is sent once per refresh interval
type TickMsg time.Time

// PlayerEventMsg carries an event from the player's bus
type PlayerEventMsg api.PlayerEvent

// ExportDoneMsg reports a finished export
type ExportDoneMsg struct {
	Report *export.Report
	Err    error
}

// NewModel creates a new application model
func NewModel(p api.Player, opts Options) Model {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := opts.Config
	if cfg == nil {
		cfg = config.GetDefaultConfig()
	}
	exportFn := opts.Export
	if exportFn == nil {
		exportFn = func(ctx context.Context, req api.ExportRequest) (*export.Report, error) {
			return export.Clip(ctx, req, nil)
		}
	}

	m := Model{
		width:      80,
		height:     24,
		player:     p,
		cfg:        cfg,
		events:     opts.Events,
		exportFn:   exportFn,
		playerView: views.NewPlayerView(80, 23),
		browser:    components.NewFileBrowser(opts.StartDir, 80, 23),
		browsing:   opts.Browse,
		ctx:        ctx,
		cancel:     cancel,
		statusStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("86")),
		errorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true),
	}
	m.playerView.SetState(p.Snapshot())
	return m
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.tickCmd(), m.listenForEvents())
}

func (m Model) tickCmd() tea.Cmd {
	hz := max(1, m.cfg.RefreshHz)
	return tea.Tick(time.Second/time.Duration(hz), func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// listenForEvents waits for the next player event
func (m Model) listenForEvents() tea.Cmd {
	if m.events == nil {
		return nil
	}
	return func() tea.Msg {
		select {
		case ev, ok := <-m.events:
			if !ok {
				return nil
			}
			return PlayerEventMsg(ev)
		case <-m.ctx.Done():
			return nil
		}
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.playerView.Resize(m.width, m.height-1)
		m.browser.Width, m.browser.Height = m.width, m.height-1

	case TickMsg:
		// View is called exactly once per tick; the frame is rendered now
		// because the player may recycle it on the next call.
		m.playerView.Frame.SetFrame(m.player.View())
		m.playerView.SetState(m.player.Snapshot())
		cmds = append(cmds, m.tickCmd())

	case PlayerEventMsg:
		m.handleEvent(api.PlayerEvent(msg))
		cmds = append(cmds, m.listenForEvents())

	case ExportDoneMsg:
		m.exporting = false
		if msg.Err != nil {
			m.err = msg.Err
		} else {
			m.err = nil
			m.status = fmt.Sprintf("exported %.1fs to %s (from %s)",
				msg.Report.Duration(), msg.Report.Dest,
				components.FormatDuration(components.Seconds(msg.Report.ActualStart)))
		}

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.cancel()
			return m, tea.Quit
		}
		if m.browsing {
			return m.updateBrowser(msg)
		}
		if cmd := m.handleKey(msg.String()); cmd != nil {
			cmds = append(cmds, cmd)
		}
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) handleEvent(ev api.PlayerEvent) {
	switch ev.Type {
	case api.EventDecodeError:
		if err, ok := ev.Payload.(error); ok {
			m.err = err
		}
	case api.EventEndOfMedia:
		m.status = "end of media"
	case api.EventMediaOpened:
		m.err = nil
		m.status = ""
	}
}

func (m *Model) updateBrowser(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.browsing = false
	case "q":
		m.cancel()
		return *m, tea.Quit
	case "enter":
		path := m.browser.EnterSelected()
		if path == "" {
			break
		}
		m.playerView.Frame.Clear()
		if err := m.player.Open(path); err != nil {
			m.err = err
			break
		}
		m.err = nil
		m.status = "opened " + filepath.Base(path)
		m.browsing = false
		m.playerView.Frame.SetFrame(m.player.View())
		m.playerView.SetState(m.player.Snapshot())
	default:
		m.browser, _ = m.browser.Update(msg)
	}
	return *m, nil
}

func (m *Model) handleKey(key string) tea.Cmd {
	keys := m.cfg.KeyBindings
	switch key {
	case keys.Quit:
		m.cancel()
		return tea.Quit
	case keys.PlayPause:
		m.player.TogglePlay()
	case keys.Stop:
		m.player.StopPlay()
	case keys.SeekForward:
		step := m.cfg.SeekStep
		m.player.SeekPlayer(func(cur, _ float64) float64 { return cur + step })
	case keys.SeekBack:
		step := m.cfg.SeekStep
		m.player.SeekPlayer(func(cur, _ float64) float64 { return cur - step })
	case keys.NextKey:
		m.player.NextKey()
	case keys.PrevKey:
		m.player.LastKey()
	case keys.GainUp, "=":
		m.adjustGain(gainStep)
	case keys.GainDown:
		m.adjustGain(-gainStep)
	case keys.MarkIn:
		m.mark(true)
	case keys.MarkOut:
		m.mark(false)
	case "x":
		m.player.ClearSelection()
		m.status = "selection cleared"
	case keys.Export:
		return m.startExport()
	case "d":
		m.playerView.ShowStats = !m.playerView.ShowStats
	case "o":
		dir := filepath.Dir(m.player.Snapshot().Path)
		if m.player.Snapshot().Path != "" && dir != m.browser.CurrentPath {
			m.browser.Navigate(dir)
		}
		m.browsing = true
	}
	return nil
}

func (m *Model) adjustGain(delta float64) {
	gain := m.player.Snapshot().Gain + delta
	gain = min(maxGain, max(0, gain))
	if err := m.player.SetGain(gain); err != nil {
		m.err = err
	}
}

// mark sets one end of the selection at the playhead. The other end is kept
// when it still leaves a non-empty range, otherwise it moves to the media
// boundary.
func (m *Model) mark(in bool) {
	snap := m.player.Snapshot()
	now := m.player.CurrentPlaytime()
	var start, end float64
	if in {
		start, end = now, snap.Duration
		if snap.Selection != nil && snap.Selection.End > now {
			end = snap.Selection.End
		}
	} else {
		start, end = 0, now
		if snap.Selection != nil && snap.Selection.Start < now {
			start = snap.Selection.Start
		}
	}
	if err := m.player.SetSelection(start, end); err != nil {
		m.err = err
		return
	}
	m.err = nil
}

func (m *Model) startExport() tea.Cmd {
	if m.exporting {
		m.status = "export already running"
		return nil
	}
	snap := m.player.Snapshot()
	if snap.Selection == nil {
		m.status = "mark a selection with [ and ] first"
		return nil
	}
	req, err := m.player.ExportRequest(ExportPath(m.cfg.ExportDir, snap.Path, *snap.Selection))
	if err != nil {
		m.err = err
		return nil
	}
	m.exporting = true
	m.status = "exporting to " + req.Dest
	ctx, exportFn := m.ctx, m.exportFn
	return func() tea.Msg {
		rep, err := exportFn(ctx, req)
		return ExportDoneMsg{Report: rep, Err: err}
	}
}

// ExportPath names the clip file for sel of source inside dir.
func ExportPath(dir, source string, sel api.Selection) string {
	base := filepath.Base(source)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	if ext == "" {
		ext = ".mp4"
	}
	clip := fmt.Sprintf("%s_%s-%s%s", name, stamp(sel.Start), stamp(sel.End), ext)
	return filepath.Join(dir, clip)
}

func stamp(seconds float64) string {
	ms := int64(seconds*1000 + 0.5)
	return fmt.Sprintf("%02d%02d%02d.%03d", ms/3600000, ms/60000%60, ms/1000%60, ms%1000)
}

// View renders the UI
func (m Model) View() string {
	var sb strings.Builder

	if m.browsing {
		sb.WriteString(m.browser.View())
	} else {
		sb.WriteString(m.playerView.View())
	}
	sb.WriteString("\n")

	switch {
	case m.err != nil:
		sb.WriteString(m.errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
	case m.status != "":
		sb.WriteString(m.statusStyle.Render(m.status))
	}
	return sb.String()
}

// Run starts the bubbletea program and blocks until the user quits or ctx
// is cancelled.
func Run(ctx context.Context, p api.Player, opts Options) error {
	model := NewModel(p, opts)
	defer model.cancel()
	prog := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := prog.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
