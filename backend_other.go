//go:build !linux && !mock

package main

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/shazow/wipi/wifi"
)

func newBackend(name, iface, leasesFile string, logger *slog.Logger) (wifi.Backend, error) {
	return nil, fmt.Errorf("%w: no wifi backend for %s", wifi.ErrDriverUnavailable, runtime.GOOS)
}
