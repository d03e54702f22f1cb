package components

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// MediaExtensions are the containers offered for opening.
var MediaExtensions = []string{".mp4", ".mkv", ".mov", ".webm", ".avi", ".m4v", ".ts", ".mpg", ".flv"}

// FileEntry represents a file or directory in the browser
type FileEntry struct {
	Name  string
	Path  string
	IsDir bool
}

// FileBrowser is a component for picking a media file
type FileBrowser struct {
	Width       int
	Height      int
	CurrentPath string
	Entries     []FileEntry
	Selected    int
	Offset      int
	Extensions  []string
	Err         error

	// Styles
	DirStyle      lipgloss.Style
	FileStyle     lipgloss.Style
	SelectedStyle lipgloss.Style
	PathStyle     lipgloss.Style
	BorderStyle   lipgloss.Style
}

// NewFileBrowser creates a new file browser starting at the given path
func NewFileBrowser(startPath string, width, height int) FileBrowser {
	fb := FileBrowser{
		Width:      width,
		Height:     height,
		Extensions: MediaExtensions,
		DirStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("33")).
			Bold(true),
		FileStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("255")),
		SelectedStyle: lipgloss.NewStyle().
			Background(lipgloss.Color("62")).
			Foreground(lipgloss.Color("255")).
			Bold(true),
		PathStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("212")).
			Bold(true),
		BorderStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1),
	}

	if startPath == "" {
		if wd, err := os.Getwd(); err == nil {
			startPath = wd
		} else {
			startPath = "/"
		}
	}

	fb.Navigate(startPath)
	return fb
}

// Navigate changes to the specified directory
func (fb *FileBrowser) Navigate(path string) {
	fb.CurrentPath = path
	fb.Selected = 0
	fb.Offset = 0
	fb.Err = nil

	entries, err := os.ReadDir(path)
	if err != nil {
		fb.Err = err
		fb.Entries = nil
		return
	}

	fb.Entries = make([]FileEntry, 0, len(entries)+1)
	if path != "/" {
		fb.Entries = append(fb.Entries, FileEntry{Name: "..", Path: filepath.Dir(path), IsDir: true})
	}

	var dirs, files []FileEntry
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		e := FileEntry{Name: entry.Name(), Path: filepath.Join(path, entry.Name()), IsDir: entry.IsDir()}
		switch {
		case e.IsDir:
			dirs = append(dirs, e)
		case slices.Contains(fb.Extensions, strings.ToLower(filepath.Ext(e.Name))):
			files = append(files, e)
		}
	}

	byName := func(list []FileEntry) {
		sort.Slice(list, func(i, j int) bool {
			return strings.ToLower(list[i].Name) < strings.ToLower(list[j].Name)
		})
	}
	byName(dirs)
	byName(files)

	fb.Entries = append(fb.Entries, dirs...)
	fb.Entries = append(fb.Entries, files...)
}

// Update handles navigation keys
func (fb FileBrowser) Update(msg tea.Msg) (FileBrowser, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return fb, nil
	}
	switch key.String() {
	case "up", "k":
		fb.move(-1)
	case "down", "j":
		fb.move(1)
	case "pgup":
		fb.move(-fb.visibleHeight())
	case "pgdown":
		fb.move(fb.visibleHeight())
	case "home":
		fb.move(-len(fb.Entries))
	case "end":
		fb.move(len(fb.Entries))
	case "backspace":
		if fb.CurrentPath != "/" {
			fb.Navigate(filepath.Dir(fb.CurrentPath))
		}
	case "~":
		if home, err := os.UserHomeDir(); err == nil {
			fb.Navigate(home)
		}
	}
	return fb, nil
}

func (fb *FileBrowser) move(delta int) {
	if len(fb.Entries) == 0 {
		return
	}
	fb.Selected = max(0, min(len(fb.Entries)-1, fb.Selected+delta))
	fb.ensureVisible()
}

// SelectedEntry returns the currently selected entry, or nil if none
func (fb *FileBrowser) SelectedEntry() *FileEntry {
	if fb.Selected >= 0 && fb.Selected < len(fb.Entries) {
		return &fb.Entries[fb.Selected]
	}
	return nil
}

// EnterSelected descends into a directory or returns the chosen file path.
// It returns "" when it navigated.
func (fb *FileBrowser) EnterSelected() string {
	entry := fb.SelectedEntry()
	if entry == nil {
		return ""
	}
	if entry.IsDir {
		fb.Navigate(entry.Path)
		return ""
	}
	return entry.Path
}

func (fb *FileBrowser) visibleHeight() int {
	return max(1, fb.Height-6) // border, path, footer
}

func (fb *FileBrowser) ensureVisible() {
	visible := fb.visibleHeight()
	if fb.Selected < fb.Offset {
		fb.Offset = fb.Selected
	} else if fb.Selected >= fb.Offset+visible {
		fb.Offset = fb.Selected - visible + 1
	}
}

// View renders the file browser
func (fb FileBrowser) View() string {
	var sb strings.Builder

	sb.WriteString(fb.PathStyle.Render(fb.CurrentPath))
	sb.WriteString("\n\n")

	if fb.Err != nil {
		errorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
		sb.WriteString(errorStyle.Render("Error: " + fb.Err.Error()))
		sb.WriteString("\n")
	}

	visible := fb.visibleHeight()
	end := min(fb.Offset+visible, len(fb.Entries))
	maxWidth := max(8, fb.Width-8)

	for i := fb.Offset; i < end; i++ {
		entry := fb.Entries[i]
		line := "  " + entry.Name
		if entry.IsDir {
			line = "▸ " + entry.Name + "/"
		}
		if r := []rune(line); len(r) > maxWidth {
			line = string(r[:maxWidth-1]) + "…"
		}

		switch {
		case i == fb.Selected:
			sb.WriteString(fb.SelectedStyle.Render(line))
		case entry.IsDir:
			sb.WriteString(fb.DirStyle.Render(line))
		default:
			sb.WriteString(fb.FileStyle.Render(line))
		}
		sb.WriteString("\n")
	}
	for i := end - fb.Offset; i < visible; i++ {
		sb.WriteString("\n")
	}

	files := 0
	for _, e := range fb.Entries {
		if !e.IsDir {
			files++
		}
	}
	helpStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	sb.WriteString(helpStyle.Render(fmt.Sprintf("%d media files  [Enter] Open  [Backspace] Up  [~] Home  [Esc] Cancel", files)))

	return fb.BorderStyle.Width(max(10, fb.Width-4)).Render(sb.String())
}
