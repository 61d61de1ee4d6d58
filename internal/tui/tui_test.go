package tui

import (
	"context"
	"fmt"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shazow/wipi/internal/control"
	"github.com/shazow/wipi/internal/controller"
	"github.com/shazow/wipi/wifi"
)

type fakeSource struct {
	mu     sync.Mutex
	report control.Report
	err    error
	calls  []string
}

func (f *fakeSource) do(call string, state controller.State) (control.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	if f.err != nil {
		return control.Report{}, f.err
	}
	if state != "" {
		f.report.State = state
	}
	return f.report, nil
}

func (f *fakeSource) Status(ctx context.Context) (control.Report, error) {
	return f.do("status", "")
}

func (f *fakeSource) ForceAP(ctx context.Context) (control.Report, error) {
	return f.do("force-ap", controller.StateAccessPoint)
}

func (f *fakeSource) ForceClient(ctx context.Context) (control.Report, error) {
	return f.do("force-client", controller.StateClientSearching)
}

func (f *fakeSource) Reload(ctx context.Context) (control.Report, error) {
	return f.do("reload", "")
}

func newSource() *fakeSource {
	return &fakeSource{report: control.Report{
		Status: controller.Status{
			State:        controller.StateClientConnected,
			SSID:         "home",
			KnownNetwork: true,
			Signal:       72,
			APSSID:       "WiPi-AP",
			APAddress:    "192.168.4.1",
			Override:     controller.OverrideNone,
			InRange:      []wifi.Network{{SSID: "home", Strength: 72}, {SSID: "office", Strength: 31}},
		},
		Hostname: "raspberrypi",
		Recent:   []string{"12:00:00 INFO connected ssid=home"},
	}}
}

func keyPress(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, m *Model, msg tea.Msg) (*Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(*Model), cmd
}

func TestModel_StatusRendered(t *testing.T) {
	src := newSource()
	m := NewModel(src)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 40})

	assert.Contains(t, m.View(), "Connecting to daemon...")

	m, _ = update(t, m, m.fetchStatus())
	view := m.View()
	for _, want := range []string{"WiPi on raspberrypi", "client-connected", "home", "WiPi-AP at 192.168.4.1", "office", "connected ssid=home"} {
		assert.Contains(t, view, want)
	}
	assert.NotContains(t, view, "Connecting to daemon...")
	assert.Equal(t, []string{"status"}, src.calls)
}

func TestModel_ForceAPKey(t *testing.T) {
	src := newSource()
	m := NewModel(src)
	m, _ = update(t, m, m.fetchStatus())

	m, cmd := update(t, m, keyPress("a"))
	require.NotNil(t, cmd)
	assert.True(t, m.busy)
	assert.Contains(t, m.View(), "Switching to access point...")

	m, _ = update(t, m, cmd())
	assert.False(t, m.busy)
	assert.Equal(t, []string{"status", "force-ap"}, src.calls)
	view := m.View()
	assert.Contains(t, view, "access-point")
	assert.Contains(t, view, "force AP applied")
}

func TestModel_KeysIgnoredWhileBusy(t *testing.T) {
	m := NewModel(newSource())

	m, cmd := update(t, m, keyPress("c"))
	require.NotNil(t, cmd)

	_, cmd = update(t, m, keyPress("r"))
	assert.Nil(t, cmd)
}

func TestModel_CommandError(t *testing.T) {
	src := newSource()
	m := NewModel(src)

	src.err = &control.RequestError{Action: control.ActionForceClient, Message: controller.ErrPinned.Error()}
	m, cmd := update(t, m, keyPress("c"))
	m, _ = update(t, m, cmd())

	assert.False(t, m.busy)
	view := m.View()
	assert.Contains(t, view, "force client failed")
	assert.Contains(t, view, controller.ErrPinned.Error())
}

func TestModel_Unreachable(t *testing.T) {
	src := newSource()
	src.err = fmt.Errorf("%w: dial unix /run/wipi/wipi.sock", control.ErrUnreachable)
	m := NewModel(src)

	m, _ = update(t, m, m.fetchStatus())
	assert.Contains(t, m.View(), "Error: daemon is not reachable")
	assert.False(t, m.loaded)
}

func TestModel_Quit(t *testing.T) {
	m := NewModel(newSource())
	_, cmd := update(t, m, keyPress("q"))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestModel_PauseRefresh(t *testing.T) {
	m := NewModel(newSource())
	require.NotNil(t, m.Init())
	assert.True(t, m.schedule.Enabled())

	m, _ = update(t, m, keyPress("p"))
	assert.False(t, m.schedule.Enabled())
	_, cmd := update(t, m, tickMsg{})
	assert.Nil(t, cmd)

	m, cmd = update(t, m, keyPress("p"))
	assert.True(t, m.schedule.Enabled())
	assert.NotNil(t, cmd)
}
