//go:build linux && !mock

package main

import (
	"fmt"
	"log/slog"

	"github.com/shazow/wipi/wifi"
	"github.com/shazow/wipi/wifi/iwd"
	"github.com/shazow/wipi/wifi/networkmanager"
)

func newBackend(name, iface, leasesFile string, logger *slog.Logger) (wifi.Backend, error) {
	switch name {
	case "networkmanager":
		b, err := networkmanager.New(iface, leasesFile)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "iwd":
		b, err := iwd.New(iface)
		if err != nil {
			return nil, err
		}
		return b, nil
	}

	b, err := networkmanager.New(iface, leasesFile)
	if err == nil {
		logger.Debug("using networkmanager backend")
		return b, nil
	}
	logger.Warn("failed to initialize networkmanager backend, falling back to iwd", "error", err)
	// If networkmanager dbus backend failed to initialize, try the iwd backend
	ib, ierr := iwd.New(iface)
	if ierr != nil {
		return nil, fmt.Errorf("networkmanager: %w; iwd: %w", err, ierr)
	}
	return ib, nil
}
