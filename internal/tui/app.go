// internal/tui/app.go
//
// Interactive inspector for a package manager. It follows The Elm
// Architecture like every bubbletea program: a snapshot message updates the
// model and View renders two tables (loaded artifacts and cached
// resolutions) plus a status line.

package tui

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/modload/internal/logging"
	"github.com/kingrea/modload/packagemanager"
)

const (
	refreshInterval = 2 * time.Second
	logTailLines    = 6
)

// Source supplies the snapshots the inspector renders. *packagemanager.Manager
// implements it.
type Source interface {
	Artifacts() []packagemanager.ArtifactInfo
	Resolutions() []packagemanager.ResolutionInfo
}

type pane int

const (
	paneArtifacts pane = iota
	paneResolutions
)

type snapshotMsg struct {
	artifacts   []packagemanager.ArtifactInfo
	resolutions []packagemanager.ResolutionInfo
	logLines    []string
	at          time.Time
}

type tickMsg time.Time

// App is the inspector model.
type App struct {
	source      Source
	title       string
	active      pane
	artifacts   table.Model
	resolutions table.Model
	width       int
	height      int
	refreshedAt time.Time
	statusMsg   string
	logPath     string
	logLines    []string
}

// AppOption customizes App construction.
type AppOption func(*App)

// WithTitle sets the header text, typically the project directory.
func WithTitle(title string) AppOption {
	return func(a *App) {
		if strings.TrimSpace(title) != "" {
			a.title = title
		}
	}
}

// WithLogFile shows the tail of the modload log file under the tables.
func WithLogFile(path string) AppOption {
	return func(a *App) {
		a.logPath = path
	}
}

// NewApp builds an inspector over source.
func NewApp(source Source, opts ...AppOption) *App {
	a := &App{
		source: source,
		title:  "modload",
		artifacts: newTable([]table.Column{
			{Title: "Artifact", Width: 40},
			{Title: "Kind", Width: 6},
			{Title: "State", Width: 8},
			{Title: "Took", Width: 10},
			{Title: "Required from", Width: 30},
		}, true),
		resolutions: newTable([]table.Column{
			{Title: "Directory", Width: 30},
			{Title: "Specifier", Width: 20},
			{Title: "Target", Width: 40},
			{Title: "Package", Width: 16},
		}, false),
		statusMsg: "tab: switch pane · r: refresh · q: quit",
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func newTable(columns []table.Column, focused bool) table.Model {
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(focused),
		table.WithHeight(10),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(lipgloss.Color("#5B8DEF"))
	t.SetStyles(styles)
	return t
}

// Run starts the inspector on the alternate screen and blocks until quit.
func Run(source Source, opts ...AppOption) error {
	_, err := tea.NewProgram(NewApp(source, opts...), tea.WithAltScreen()).Run()
	return err
}

// Init loads the first snapshot.
func (a *App) Init() tea.Cmd {
	return a.fetchSnapshot()
}

func (a *App) fetchSnapshot() tea.Cmd {
	source, logPath := a.source, a.logPath
	return func() tea.Msg {
		return snapshotMsg{
			artifacts:   source.Artifacts(),
			resolutions: source.Resolutions(),
			logLines:    logging.Tail(logPath, logTailLines),
			at:          time.Now(),
		}
	}
}

func (a *App) scheduleRefresh() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		h := max(3, msg.Height-8)
		a.artifacts.SetHeight(h)
		a.resolutions.SetHeight(h)
		return a, nil

	case snapshotMsg:
		a.artifacts.SetRows(artifactRows(msg.artifacts))
		a.resolutions.SetRows(resolutionRows(msg.resolutions))
		a.logLines = msg.logLines
		a.refreshedAt = msg.at
		return a, a.scheduleRefresh()

	case tickMsg:
		return a, a.fetchSnapshot()

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return a, tea.Quit
		case "tab":
			a.toggle()
			return a, nil
		case "r":
			a.statusMsg = "Refreshing..."
			return a, a.fetchSnapshot()
		}
	}

	var cmd tea.Cmd
	if a.active == paneArtifacts {
		a.artifacts, cmd = a.artifacts.Update(msg)
	} else {
		a.resolutions, cmd = a.resolutions.Update(msg)
	}
	return a, cmd
}

func (a *App) toggle() {
	if a.active == paneArtifacts {
		a.active = paneResolutions
		a.artifacts.Blur()
		a.resolutions.Focus()
		return
	}
	a.active = paneArtifacts
	a.resolutions.Blur()
	a.artifacts.Focus()
}

func artifactRows(infos []packagemanager.ArtifactInfo) []table.Row {
	rows := make([]table.Row, 0, len(infos))
	for _, info := range infos {
		state, took := "loading", ""
		if !info.Loading {
			state = "loaded"
			took = info.Duration.Round(time.Microsecond).String()
		}
		rows = append(rows, table.Row{
			info.Path,
			strings.TrimPrefix(info.Extension, "."),
			state,
			took,
			info.From,
		})
	}
	return rows
}

func resolutionRows(infos []packagemanager.ResolutionInfo) []table.Row {
	rows := make([]table.Row, 0, len(infos))
	for _, info := range infos {
		target := info.Path
		if info.Builtin {
			target = "builtin:" + info.Path
		}
		rows = append(rows, table.Row{info.BaseDir, info.Specifier, target, info.Package})
	}
	return rows
}

// View renders the active pane.
func (a *App) View() string {
	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FF6B6B")).
		MarginBottom(1).
		Render("⬡ " + filepath.Base(a.title))

	tabs := []string{
		a.renderTab(fmt.Sprintf("Artifacts (%d)", len(a.artifacts.Rows())), a.active == paneArtifacts),
		a.renderTab(fmt.Sprintf("Resolutions (%d)", len(a.resolutions.Rows())), a.active == paneResolutions),
	}
	body := a.artifacts.View()
	if a.active == paneResolutions {
		body = a.resolutions.View()
	}
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Render(body)

	status := a.statusMsg
	if !a.refreshedAt.IsZero() {
		status = fmt.Sprintf("%s · updated %s", a.statusMsg, a.refreshedAt.Format("15:04:05"))
	}
	footer := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#888888")).
		MarginTop(1).
		Render(status)
	sections := []string{header, lipgloss.JoinHorizontal(lipgloss.Top, tabs...), box}
	if panel := a.renderLogPanel(); panel != "" {
		sections = append(sections, panel)
	}
	sections = append(sections, footer)
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (a *App) renderLogPanel() string {
	if len(a.logLines) == 0 {
		return ""
	}
	head := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		Render(fmt.Sprintf("LOG · %s", filepath.Base(a.logPath)))
	body := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#AAAAAA")).
		Render(strings.Join(a.logLines, "\n"))
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Render(fmt.Sprintf("%s\n%s", head, body))
}

func (a *App) renderTab(label string, active bool) string {
	style := lipgloss.NewStyle().Padding(0, 2)
	if active {
		return style.Bold(true).Foreground(lipgloss.Color("#5B8DEF")).Render(label)
	}
	return style.Foreground(lipgloss.Color("#888888")).Render(label)
}
