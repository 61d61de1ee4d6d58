package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

const (
	RefreshOff  = 0
	RefreshFast = 2 * time.Second
)

// RefreshSchedule triggers a callback at a regular interval.
type RefreshSchedule struct {
	callback func() tea.Msg
	interval time.Duration
}

// NewRefreshSchedule creates a stopped RefreshSchedule.
func NewRefreshSchedule(callback func() tea.Msg) *RefreshSchedule {
	return &RefreshSchedule{
		callback: callback,
	}
}

// Enabled reports whether the schedule is running.
func (s *RefreshSchedule) Enabled() bool {
	return s.interval != RefreshOff
}

// Toggle enables or disables the schedule.
func (s *RefreshSchedule) Toggle() (bool, tea.Cmd) {
	if s.interval == RefreshOff {
		return true, s.SetSchedule(RefreshFast)
	}
	return false, s.SetSchedule(RefreshOff)
}

// SetSchedule sets the refresh interval.
func (s *RefreshSchedule) SetSchedule(interval time.Duration) tea.Cmd {
	isStarting := s.interval == RefreshOff && interval != RefreshOff
	s.interval = interval

	if isStarting {
		// We were off, now we are on. Start the loop.
		return tea.Batch(s.callback, s.tick())
	}
	return nil
}

// Update handles messages for the RefreshSchedule.
func (s *RefreshSchedule) Update(msg tea.Msg) tea.Cmd {
	if s.interval == RefreshOff {
		return nil
	}

	switch msg.(type) {
	case tickMsg:
		return tea.Batch(s.callback, s.tick())
	}
	return nil
}

// internal message to trigger a tick
type tickMsg struct{}

func (s *RefreshSchedule) tick() tea.Cmd {
	if s.interval == RefreshOff {
		return nil
	}
	return tea.Tick(s.interval, func(t time.Time) tea.Msg {
		return tickMsg{}
	})
}
