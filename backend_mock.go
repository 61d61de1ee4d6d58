//go:build mock

package main

import (
	"log/slog"

	"github.com/shazow/wipi/wifi"
	"github.com/shazow/wipi/wifi/mock"
)

func newBackend(name, iface, leasesFile string, logger *slog.Logger) (wifi.Backend, error) {
	logger.Warn("using the in-memory demo backend", "requested", name)
	return mock.NewDemo(), nil
}
