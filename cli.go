package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/shazow/wipi/internal/config"
	"github.com/shazow/wipi/internal/control"
	"github.com/shazow/wipi/internal/controller"
	"github.com/shazow/wipi/internal/log"
	"github.com/shazow/wipi/internal/tui"
)

// Process exit codes.
const (
	exitOK          = 0
	exitUsage       = 1
	exitUnreachable = 2
	exitBackend     = 3
)

// ExitError carries the process exit code for err.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }

func (e *ExitError) Unwrap() error { return e.Err }

func usageError(format string, args ...any) error {
	return &ExitError{Code: exitUsage, Err: fmt.Errorf(format, args...)}
}

func exitCode(err error) int {
	var exitErr *ExitError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &exitErr):
		return exitErr.Code
	case errors.Is(err, control.ErrUnreachable):
		return exitUnreachable
	}
	return exitUsage
}

func run(ctx context.Context, opts *options, w io.Writer) error {
	if opts.Version {
		fmt.Fprintln(w, Version)
		return nil
	}
	if opts.ForceAP && opts.ForceClient {
		return usageError("--force-ap and --force-client are mutually exclusive")
	}
	if opts.Install && opts.Uninstall {
		return usageError("--install and --uninstall are mutually exclusive")
	}
	if opts.Daemon && (opts.ForceClient || opts.Reload || opts.Status || opts.Watch || opts.Install || opts.Uninstall) {
		return usageError("--daemon can only be combined with --force-ap")
	}

	switch opts.Backend {
	case "auto", "networkmanager", "iwd":
	default:
		return usageError("unknown backend %q", opts.Backend)
	}

	if !opts.Daemon {
		log.Init(os.Stderr, opts.Debug)
	}

	client := control.NewClient(opts.Socket)
	switch {
	case opts.Daemon:
		return runDaemon(ctx, opts)
	case opts.Install:
		return runInstall(w, opts, unitPath)
	case opts.Uninstall:
		return runUninstall(w, unitPath)
	case opts.Watch:
		return runWatch(client, opts.Theme)
	case opts.ForceAP:
		return runCommand(ctx, w, client, control.ActionForceAP, opts)
	case opts.ForceClient:
		return runCommand(ctx, w, client, control.ActionForceClient, opts)
	case opts.Reload:
		return runCommand(ctx, w, client, control.ActionReload, opts)
	}
	return runCommand(ctx, w, client, control.ActionStatus, opts)
}

func runCommand(ctx context.Context, w io.Writer, client *control.Client, action string, opts *options) error {
	report, err := client.Call(ctx, action)
	if err != nil {
		return err
	}
	if err := printReport(w, report, opts.JSON); err != nil {
		return err
	}
	if opts.QR {
		return printQRCode(w, opts.Config)
	}
	return nil
}

func runWatch(client *control.Client, themePath string) error {
	if err := tui.LoadThemeFile(themePath); err != nil {
		return usageError("error loading theme: %w", err)
	}
	p := tea.NewProgram(tui.NewModel(client), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running dashboard: %w", err)
	}
	return nil
}

func printQRCode(w io.Writer, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return &ExitError{Code: exitUsage, Err: err}
	}
	qr, err := GenerateWifiQRCode(cfg)
	if err != nil {
		return fmt.Errorf("failed to generate QR code: %w", err)
	}
	fmt.Fprintf(w, "\nScan to join %s:\n%s", cfg.APSSID, qr)
	return nil
}

func printReport(w io.Writer, r control.Report, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	_, err := io.WriteString(w, formatReport(r))
	return err
}

var (
	labelStyle = lipgloss.NewStyle().Bold(true).Width(16)
	goodStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#388E3C", Dark: "#81C784"})
	badStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#D32F2F", Dark: "#E57373"})
	faintStyle = lipgloss.NewStyle().Faint(true)
)

func formatMode(s controller.Status) string {
	mode := string(s.State)
	switch {
	case s.Degraded:
		return badStyle.Render(mode + " (degraded)")
	case s.State == controller.StateClientConnected || s.State == controller.StateAccessPoint:
		return goodStyle.Render(mode)
	}
	return mode
}

func formatNetwork(s controller.Status) string {
	if s.SSID == "" {
		return faintStyle.Render("not associated")
	}
	var parts []string
	if s.KnownNetwork {
		parts = append(parts, "known")
	} else {
		parts = append(parts, "unknown")
	}
	if s.Signal > 0 {
		parts = append(parts, fmt.Sprintf("%d%%", s.Signal))
	}
	return fmt.Sprintf("%s (%s)", s.SSID, strings.Join(parts, ", "))
}

// elapsed renders d at the coarsest whole unit, for "last connected" lines.
func elapsed(d time.Duration) string {
	plural := func(n int, unit string) string {
		if n == 1 {
			return fmt.Sprintf("1 %s ago", unit)
		}
		return fmt.Sprintf("%d %ss ago", n, unit)
	}
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return plural(int(d/time.Minute), "minute")
	case d < 24*time.Hour:
		return plural(int(d/time.Hour), "hour")
	}
	return plural(int(d/(24*time.Hour)), "day")
}

func formatReport(r control.Report) string {
	var b strings.Builder
	line := func(label, value string) {
		fmt.Fprintf(&b, "%s%s\n", labelStyle.Render(label), value)
	}

	line("Mode:", formatMode(r.Status))
	line("Network:", formatNetwork(r.Status))
	ap := fmt.Sprintf("%s at %s", r.APSSID, r.APAddress)
	if r.State == controller.StateAccessPoint {
		ap += fmt.Sprintf(", %d clients", r.APClients)
	}
	line("Access point:", ap)
	line("Failures:", fmt.Sprintf("%d", r.FailureCount))
	override := string(r.Override)
	if r.ForceAPMode {
		override += " (force_ap_mode)"
	}
	line("Override:", override)
	if !r.LastConnected.IsZero() {
		line("Last connected:", elapsed(time.Since(r.LastConnected)))
	}
	if r.Hostname != "" {
		line("Hostname:", r.Hostname)
	}
	if len(r.Addresses) > 0 {
		line("Addresses:", strings.Join(r.Addresses, ", "))
	}
	if len(r.InRange) > 0 {
		var names []string
		for _, n := range r.InRange {
			names = append(names, fmt.Sprintf("%s %d%%", n.SSID, n.Strength))
		}
		line("In range:", strings.Join(names, ", "))
	}
	if r.Error != "" {
		line("Error:", badStyle.Render(r.Error))
	}
	if len(r.Recent) > 0 {
		b.WriteString(labelStyle.Render("Recent:") + "\n")
		for _, l := range r.Recent {
			b.WriteString("  " + faintStyle.Render(l) + "\n")
		}
	}
	return b.String()
}
