package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"text/template"
)

const unitPath = "/etc/systemd/system/wipi.service"

var unitTemplate = template.Must(template.New("wipi.service").Parse(`[Unit]
Description=WiPi WiFi access point fallback
After=network.target NetworkManager.service
Wants=NetworkManager.service

[Service]
Type=simple
ExecStart={{.Exec}} --daemon --config {{.Config}} --socket {{.Socket}} --interface {{.Interface}} --backend {{.Backend}}{{if .ForceAP}} --force-ap{{end}}
Restart=always
RestartSec=5
StandardOutput=journal
StandardError=journal

[Install]
WantedBy=multi-user.target
`))

type unit struct {
	Exec      string
	Config    string
	Socket    string
	Interface string
	Backend   string
	ForceAP   bool
}

func renderUnit(u unit) ([]byte, error) {
	var buf bytes.Buffer
	if err := unitTemplate.Execute(&buf, u); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// runInstall writes a systemd unit that starts the daemon with the current flags.
func runInstall(w io.Writer, opts *options, path string) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate executable: %w", err)
	}
	data, err := renderUnit(unit{
		Exec:      exe,
		Config:    opts.Config,
		Socket:    opts.Socket,
		Interface: opts.Interface,
		Backend:   opts.Backend,
		ForceAP:   opts.ForceAP,
	})
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to install service: %w", err)
	}
	fmt.Fprintf(w, "Installed %s\n", path)
	fmt.Fprintln(w, "To start the service, run: sudo systemctl daemon-reload && sudo systemctl enable --now wipi.service")
	return nil
}

// runUninstall removes the unit written by runInstall. The service must be
// stopped separately.
func runUninstall(w io.Writer, path string) error {
	err := os.Remove(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		fmt.Fprintf(w, "%s is not installed\n", path)
		return nil
	case err != nil:
		return fmt.Errorf("failed to uninstall service: %w", err)
	}
	fmt.Fprintf(w, "Removed %s\n", path)
	fmt.Fprintln(w, "To stop the service, run: sudo systemctl disable --now wipi.service && sudo systemctl daemon-reload")
	return nil
}
