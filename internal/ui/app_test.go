package ui

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jscyril/golang_clip_player/api"
	"github.com/jscyril/golang_clip_player/internal/config"
	"github.com/jscyril/golang_clip_player/internal/export"
	"github.com/jscyril/golang_clip_player/internal/media"
	playerrors "github.com/jscyril/golang_clip_player/pkg/errors"
)

// fakePlayer records control calls and serves a fixed state.
type fakePlayer struct {
	calls     []string
	state     api.PlaybackState
	now       float64
	views     int
	frame     *media.VideoFrame
	openErr   error
	seekInput float64
	seekTo    float64
}

var _ api.Player = (*fakePlayer)(nil)

func newFakePlayer() *fakePlayer {
	return &fakePlayer{state: api.PlaybackState{
		Path:     "/media/clip.mp4",
		Title:    "clip",
		Duration: 20,
		Gain:     1,
	}}
}

func (f *fakePlayer) call(name string) { f.calls = append(f.calls, name) }

func (f *fakePlayer) Open(path string) error {
	f.call("open " + path)
	if f.openErr != nil {
		return f.openErr
	}
	f.state.Path = path
	return nil
}
func (f *fakePlayer) StartPlay()  { f.call("start") }
func (f *fakePlayer) PausePlay()  { f.call("pause") }
func (f *fakePlayer) ResumePlay() { f.call("resume") }
func (f *fakePlayer) TogglePlay() { f.call("toggle") }
func (f *fakePlayer) StopPlay()   { f.call("stop") }
func (f *fakePlayer) SeekTo(s float64) {
	f.call("seek")
	f.seekTo = s
}
func (f *fakePlayer) SeekPlayer(fn func(current, duration float64) float64) {
	f.call("seekplayer")
	f.seekTo = fn(f.seekInput, f.state.Duration)
}
func (f *fakePlayer) NextKey() { f.call("nextkey") }
func (f *fakePlayer) LastKey() { f.call("lastkey") }
func (f *fakePlayer) View() *media.VideoFrame {
	f.views++
	return f.frame
}
func (f *fakePlayer) CurrentPlaytime() float64 { return f.now }
func (f *fakePlayer) Duration() float64        { return f.state.Duration }
func (f *fakePlayer) PlayPercentage() float64  { return 100 * f.now / f.state.Duration }
func (f *fakePlayer) State() api.PlayState     { return f.state.State }
func (f *fakePlayer) Snapshot() api.PlaybackState {
	s := f.state
	s.Position = f.now
	return s
}
func (f *fakePlayer) SetSelection(start, end float64) error {
	if end <= start {
		return playerrors.ErrNoSelection
	}
	f.state.Selection = &api.Selection{Start: start, End: end}
	return nil
}
func (f *fakePlayer) ClearSelection() { f.state.Selection = nil }
func (f *fakePlayer) ExportRequest(dest string) (api.ExportRequest, error) {
	if f.state.Selection == nil {
		return api.ExportRequest{}, playerrors.ErrNoSelection
	}
	return api.ExportRequest{Source: f.state.Path, Dest: dest, VideoStream: 0, AudioStream: 1, Range: *f.state.Selection}, nil
}
func (f *fakePlayer) SetGain(g float64) error {
	if g < 0 {
		return playerrors.ErrInvalidGain
	}
	f.state.Gain = g
	return nil
}
func (f *fakePlayer) Close() error { return nil }

func key(s string) tea.KeyMsg {
	switch s {
	case " ":
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	case "left":
		return tea.KeyMsg{Type: tea.KeyLeft}
	case "right":
		return tea.KeyMsg{Type: tea.KeyRight}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func press(t *testing.T, m Model, keys ...string) (Model, tea.Cmd) {
	t.Helper()
	var cmd tea.Cmd
	for _, k := range keys {
		var next tea.Model
		next, cmd = m.Update(key(k))
		m = next.(Model)
	}
	return m, cmd
}

func TestKeysDriveThePlayer(t *testing.T) {
	t.Parallel()
	fp := newFakePlayer()
	m := NewModel(fp, Options{})

	press(t, m, " ", "s", ".", ",")
	assert.Equal(t, []string{"toggle", "stop", "nextkey", "lastkey"}, fp.calls)
}

func TestArrowKeysSeekByStep(t *testing.T) {
	t.Parallel()
	fp := newFakePlayer()
	fp.seekInput = 10
	cfg := config.GetDefaultConfig()
	cfg.SeekStep = 2.5
	m := NewModel(fp, Options{Config: cfg})

	press(t, m, "right")
	assert.InDelta(t, 12.5, fp.seekTo, 1e-9)
	press(t, m, "left")
	assert.InDelta(t, 7.5, fp.seekTo, 1e-9)
}

func TestGainKeysClamp(t *testing.T) {
	t.Parallel()
	fp := newFakePlayer()
	fp.state.Gain = 0.05
	m := NewModel(fp, Options{})

	press(t, m, "-")
	assert.Equal(t, 0.0, fp.state.Gain)
	press(t, m, "+", "+")
	assert.InDelta(t, 0.2, fp.state.Gain, 1e-9)

	fp.state.Gain = 1.95
	press(t, m, "+", "+")
	assert.Equal(t, maxGain, fp.state.Gain)
}

func TestMarkInAndOut(t *testing.T) {
	t.Parallel()
	fp := newFakePlayer()
	m := NewModel(fp, Options{})

	fp.now = 4
	m, _ = press(t, m, "[")
	require.NotNil(t, fp.state.Selection)
	assert.Equal(t, api.Selection{Start: 4, End: 20}, *fp.state.Selection, "in runs to the end until out is set")

	fp.now = 9
	m, _ = press(t, m, "]")
	assert.Equal(t, api.Selection{Start: 4, End: 9}, *fp.state.Selection)

	fp.now = 6
	m, _ = press(t, m, "[")
	assert.Equal(t, api.Selection{Start: 6, End: 9}, *fp.state.Selection, "out is kept when still after in")

	fp.now = 2
	m, _ = press(t, m, "]")
	assert.Equal(t, api.Selection{Start: 0, End: 2}, *fp.state.Selection, "in resets when out moves before it")

	press(t, m, "x")
	assert.Nil(t, fp.state.Selection)
}

func TestExportRunsInBackground(t *testing.T) {
	t.Parallel()
	fp := newFakePlayer()
	fp.state.Selection = &api.Selection{Start: 1, End: 3}
	cfg := config.GetDefaultConfig()
	cfg.ExportDir = "/out"

	var got api.ExportRequest
	m := NewModel(fp, Options{Config: cfg, Export: func(_ context.Context, req api.ExportRequest) (*export.Report, error) {
		got = req
		return &export.Report{Dest: req.Dest, ActualStart: 0.9, ActualEnd: 3}, nil
	}})

	m, cmd := press(t, m, "e")
	require.NotNil(t, cmd)
	assert.True(t, m.exporting)

	msg := cmd()
	done, ok := msg.(ExportDoneMsg)
	require.True(t, ok)
	require.NoError(t, done.Err)
	assert.Equal(t, "/media/clip.mp4", got.Source)
	assert.Equal(t, filepath.Join("/out", "clip_000001.000-000003.000.mp4"), got.Dest)

	next, _ := m.Update(done)
	m = next.(Model)
	assert.False(t, m.exporting)
	assert.Contains(t, m.status, "exported 2.1s")
}

func TestExportWithoutSelection(t *testing.T) {
	t.Parallel()
	fp := newFakePlayer()
	m := NewModel(fp, Options{})

	m, cmd := press(t, m, "e")
	assert.Nil(t, cmd)
	assert.False(t, m.exporting)
	assert.Contains(t, m.status, "mark a selection")
}

func TestTickCallsViewOnce(t *testing.T) {
	t.Parallel()
	fp := newFakePlayer()
	m := NewModel(fp, Options{})

	next, cmd := m.Update(TickMsg{})
	assert.NotNil(t, cmd)
	assert.Equal(t, 1, fp.views)
	assert.Contains(t, next.(Model).View(), "clip")
}

func TestDecodeErrorEventShown(t *testing.T) {
	t.Parallel()
	fp := newFakePlayer()
	events := make(chan api.PlayerEvent, 1)
	m := NewModel(fp, Options{Events: events})

	next, cmd := m.Update(PlayerEventMsg{Type: api.EventDecodeError, Payload: errors.New("corrupt packet")})
	require.NotNil(t, cmd, "keeps listening")
	assert.Contains(t, next.(Model).View(), "corrupt packet")
}

func TestQuit(t *testing.T) {
	t.Parallel()
	m := NewModel(newFakePlayer(), Options{})
	_, cmd := press(t, m, "q")
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Error(t, m.ctx.Err())
}

func TestBrowserOpensFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "a.mp4")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	fp := newFakePlayer()
	m := NewModel(fp, Options{Browse: true, StartDir: dir})
	require.True(t, m.browsing)

	// entries: "..", "a.mp4"
	m, _ = press(t, m, "down", "enter")
	assert.False(t, m.browsing)
	assert.Contains(t, fp.calls, "open "+path)

	fp.openErr = playerrors.NewOpenError(path, playerrors.ErrNoVideoStream)
	m, _ = press(t, m, "o")
	require.True(t, m.browsing)
	m, _ = press(t, m, "enter")
	assert.True(t, m.browsing, "stays in the browser when open fails")
	assert.ErrorIs(t, m.err, playerrors.ErrNoVideoStream)

	m, _ = press(t, m, "esc")
	assert.False(t, m.browsing)
}

func TestExportPath(t *testing.T) {
	t.Parallel()
	got := ExportPath("out", "/videos/holiday.mkv", api.Selection{Start: 3725.5, End: 3730})
	assert.Equal(t, filepath.Join("out", "holiday_010205.500-010210.000.mkv"), got)
	assert.Equal(t, filepath.Join("out", "raw_000000.000-000001.000.mp4"), ExportPath("out", "raw", api.Selection{End: 1}))
}
