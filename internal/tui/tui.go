// Package tui is a live dashboard for a running daemon.
package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/shazow/wipi/internal/control"
)

const (
	statusTimeout  = 5 * time.Second
	commandTimeout = 2 * time.Minute
)

// Source reports the daemon status and applies operator commands.
// *control.Client implements it.
type Source interface {
	Status(ctx context.Context) (control.Report, error)
	ForceAP(ctx context.Context) (control.Report, error)
	ForceClient(ctx context.Context) (control.Report, error)
	Reload(ctx context.Context) (control.Report, error)
}

// Bubbletea messages are used to communicate between the main loop and commands
type (
	reportMsg struct {
		report control.Report
		action string
	}
	errorMsg struct {
		err    error
		action string
	}
)

type keyMap struct {
	ForceAP     key.Binding
	ForceClient key.Binding
	Reload      key.Binding
	Pause       key.Binding
	Quit        key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.ForceAP, k.ForceClient, k.Reload, k.Pause, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

var defaultKeys = keyMap{
	ForceAP:     key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "force AP")),
	ForceClient: key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "force client")),
	Reload:      key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reload config")),
	Pause:       key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "pause")),
	Quit:        key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

// Model is the dashboard state.
type Model struct {
	source   Source
	schedule *RefreshSchedule
	spinner  spinner.Model
	help     help.Model
	keys     keyMap

	report        control.Report
	loaded        bool
	busy          bool
	statusMessage string
	err           error
	width, height int
}

// NewModel creates a dashboard that polls source.
func NewModel(source Source) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(CurrentTheme.Primary)

	m := &Model{
		source:        source,
		spinner:       s,
		help:          help.New(),
		keys:          defaultKeys,
		statusMessage: "Connecting to daemon...",
	}
	m.schedule = NewRefreshSchedule(m.fetchStatus)
	return m
}

func (m *Model) fetchStatus() tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	defer cancel()
	r, err := m.source.Status(ctx)
	if err != nil {
		return errorMsg{err: err}
	}
	return reportMsg{report: r}
}

func (m *Model) command(action string, fn func(context.Context) (control.Report, error)) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		r, err := fn(ctx)
		if err != nil {
			return errorMsg{err: err, action: action}
		}
		return reportMsg{report: r, action: action}
	}
}

// Init is the first command that is run when the program starts
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.schedule.SetSchedule(RefreshFast))
}

// Update handles all incoming messages and updates the model accordingly
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	case reportMsg:
		m.report = msg.report
		m.loaded = true
		m.err = nil
		if msg.action != "" {
			m.busy = false
			m.statusMessage = msg.action + " applied"
		} else if !m.busy {
			m.statusMessage = ""
		}
		return m, nil
	case errorMsg:
		m.err = msg.err
		if msg.action != "" {
			m.busy = false
			m.statusMessage = msg.action + " failed"
		}
		return m, nil
	case tickMsg:
		return m, m.schedule.Update(msg)
	}

	var cmd tea.Cmd
	m.spinner, cmd = m.spinner.Update(msg)
	return m, cmd
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Pause):
		enabled, cmd := m.schedule.Toggle()
		if enabled {
			m.keys.Pause.SetHelp("p", "pause")
		} else {
			m.keys.Pause.SetHelp("p", "resume")
		}
		return m, cmd
	}

	if m.busy {
		return m, nil
	}
	switch {
	case key.Matches(msg, m.keys.ForceAP):
		return m.start("force AP", "Switching to access point...", m.source.ForceAP)
	case key.Matches(msg, m.keys.ForceClient):
		return m.start("force client", "Looking for known networks...", m.source.ForceClient)
	case key.Matches(msg, m.keys.Reload):
		return m.start("reload", "Reloading configuration...", m.source.Reload)
	}
	return m, nil
}

func (m *Model) start(action, message string, fn func(context.Context) (control.Report, error)) (tea.Model, tea.Cmd) {
	m.busy = true
	m.statusMessage = message
	return m, m.command(action, fn)
}
