package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/shazow/wipi/internal/controller"
	"github.com/shazow/wipi/wifi"
)

const maxRecentLines = 8

func (m *Model) modeStyle() lipgloss.Style {
	style := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	switch {
	case m.report.Degraded:
		return style.Foreground(CurrentTheme.Error)
	case m.report.State == controller.StateClientConnected:
		return style.Foreground(CurrentTheme.Success)
	case m.report.State == controller.StateAccessPoint:
		return style.Foreground(CurrentTheme.Primary)
	case m.report.State == controller.StateTransitioning:
		return style.Foreground(CurrentTheme.Warning)
	}
	return style.Foreground(CurrentTheme.Normal)
}

func signal(n wifi.Network) string {
	return lipgloss.NewStyle().Foreground(CurrentTheme.SignalColor(n.Strength)).Render(fmt.Sprintf("%3d%%", n.Strength))
}

func (m *Model) viewStatus() string {
	r := m.report
	label := lipgloss.NewStyle().Foreground(CurrentTheme.Subtle).Width(16)
	var b strings.Builder
	row := func(name, value string) {
		b.WriteString(label.Render(name) + value + "\n")
	}

	mode := string(r.State)
	if r.Degraded {
		mode += " (degraded)"
	}
	row("Mode", m.modeStyle().Render(mode))

	if r.SSID != "" {
		network := r.SSID
		if r.Signal > 0 {
			network += " " + signal(wifi.Network{SSID: r.SSID, Strength: r.Signal})
		}
		if !r.KnownNetwork {
			network += lipgloss.NewStyle().Foreground(CurrentTheme.Subtle).Render(" (unknown)")
		}
		row("Network", network)
	}

	ap := fmt.Sprintf("%s at %s", r.APSSID, r.APAddress)
	if r.State == controller.StateAccessPoint {
		ap += fmt.Sprintf(", %d clients", r.APClients)
	}
	row("Access point", ap)
	row("Failures", fmt.Sprintf("%d", r.FailureCount))

	override := string(r.Override)
	if r.ForceAPMode {
		override += " (force_ap_mode)"
	}
	row("Override", override)
	if !r.LastConnected.IsZero() {
		row("Last connected", time.Since(r.LastConnected).Round(time.Second).String()+" ago")
	}
	if r.Hostname != "" {
		row("Host", strings.Join(append([]string{r.Hostname}, r.Addresses...), " "))
	}
	if r.Error != "" {
		row("Error", lipgloss.NewStyle().Foreground(CurrentTheme.Error).Render(r.Error))
	}

	if len(r.InRange) > 0 {
		b.WriteString("\n" + lipgloss.NewStyle().Bold(true).Render("Known networks in range") + "\n")
		for _, n := range r.InRange {
			b.WriteString(fmt.Sprintf("  %s %s\n", signal(n), n.SSID))
		}
	}

	if recent := r.Recent; len(recent) > 0 {
		if len(recent) > maxRecentLines {
			recent = recent[len(recent)-maxRecentLines:]
		}
		faint := lipgloss.NewStyle().Foreground(CurrentTheme.Subtle)
		b.WriteString("\n" + lipgloss.NewStyle().Bold(true).Render("Recent log") + "\n")
		for _, l := range recent {
			b.WriteString(faint.Render("  "+l) + "\n")
		}
	}
	return b.String()
}

// View renders the UI based on the current model state
func (m *Model) View() string {
	var s strings.Builder

	title := "WiPi"
	if m.report.Hostname != "" {
		title += " on " + m.report.Hostname
	}
	s.WriteString(lipgloss.NewStyle().Bold(true).Foreground(CurrentTheme.Primary).Render(title) + "\n\n")

	if m.loaded {
		box := lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder(), true).
			BorderForeground(CurrentTheme.Border).
			Padding(0, 1)
		s.WriteString(box.Render(strings.TrimRight(m.viewStatus(), "\n")))
	}

	if m.err != nil {
		s.WriteString("\n" + lipgloss.NewStyle().Foreground(CurrentTheme.Error).Render(fmt.Sprintf("Error: %s", m.err)))
	}

	primary := lipgloss.NewStyle().Foreground(CurrentTheme.Primary)
	if m.busy || (!m.loaded && m.err == nil) {
		s.WriteString(fmt.Sprintf("\n\n%s %s", m.spinner.View(), primary.Render(m.statusMessage)))
	} else if m.statusMessage != "" {
		s.WriteString("\n\n" + primary.Render(m.statusMessage))
	}

	s.WriteString("\n\n" + m.help.View(m.keys))
	return s.String()
}
