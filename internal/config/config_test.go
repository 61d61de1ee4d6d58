package config

import (
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shazow/wipi/wifi"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, Validate(cfg))
	assert.Equal(t, "WiPi-AP", cfg.APSSID)
	assert.Equal(t, "raspberry", cfg.APPassword)
	assert.Equal(t, "192.168.4.1", cfg.APIPAddress)
	assert.Equal(t, 120, cfg.CheckInterval)
	assert.False(t, cfg.ForceAPMode)
	assert.False(t, cfg.DebugMode)
}

func TestParseJSONWithComments(t *testing.T) {
	cfg, err := Parse([]byte(`{
		// home first
		"preferred_networks": ["home", "office"],
		"check_interval": 30,
		"reconnect_attempts": 0,
		"unknown_field": true,
	}`), FormatJSON)
	require.NoError(t, err)

	assert.Equal(t, []string{"home", "office"}, cfg.PreferredNetworks)
	assert.Equal(t, 30, cfg.CheckInterval)
	assert.Equal(t, 0, cfg.ReconnectAttempts)
	assert.Equal(t, 1, cfg.RetryLimit())
	// Missing fields keep their defaults.
	assert.Equal(t, "WiPi-AP", cfg.APSSID)
	assert.True(t, cfg.PrioritizeClients)
}

func TestParseOtherFormats(t *testing.T) {
	cfg, err := Parse([]byte("ap_ssid = \"garage\"\nap_band = \"5GHz\"\n"), FormatTOML)
	require.NoError(t, err)
	assert.Equal(t, "garage", cfg.APSSID)
	assert.Equal(t, wifi.Band5GHz, cfg.APBand)
	assert.Equal(t, 0, cfg.AccessPoint().Channel, "5GHz leaves channel selection to the driver")

	cfg, err = Parse([]byte("ap_open: true\ncheck_interval: 15\n"), FormatYAML)
	require.NoError(t, err)
	assert.True(t, cfg.Open())
	assert.Equal(t, "", cfg.AccessPoint().Password)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"zero interval", `{"check_interval": 0}`},
		{"short password", `{"ap_password": "short"}`},
		{"long ssid", `{"ap_ssid": "abcdefghijklmnopqrstuvwxyz0123456"}`},
		{"empty ssid", `{"ap_ssid": ""}`},
		{"bad ip", `{"ap_ip_address": "192.168.4"}`},
		{"bad channel", `{"ap_channel": 15}`},
		{"bad band", `{"ap_band": "6GHz"}`},
		{"negative attempts", `{"reconnect_attempts": -1}`},
		{"negative delay", `{"reconnect_delay": -5}`},
		{"huge interval", `{"check_interval": 10000000000}`},
		{"huge delay", `{"reconnect_delay": 10000000000}`},
		{"interval over a day", `{"check_interval": 86401}`},
		{"empty preferred", `{"preferred_networks": [""]}`},
		{"wrong type", `{"check_interval": "often"}`},
		{"malformed", `{"check_interval": `},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.body), FormatJSON)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestIntervalUpperBound(t *testing.T) {
	cfg, err := Parse([]byte(`{"check_interval": 86400, "reconnect_delay": 86400}`), FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, cfg.Interval())
}

func TestOpenNetworkSkipsPasswordRules(t *testing.T) {
	cfg, err := Parse([]byte(`{"ap_password": ""}`), FormatJSON)
	require.NoError(t, err)
	assert.True(t, cfg.Open())

	cfg, err = Parse([]byte(`{"ap_password": "x", "ap_open": true}`), FormatJSON)
	require.NoError(t, err)
	assert.True(t, cfg.Open())
}

func TestOpenWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wipi", "config.json")

	store, err := Open(path, discard)
	require.NoError(t, err)
	assert.Equal(t, Default(), store.Current())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), loaded)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0o600), info.Mode().Perm())
}

func TestOpenRejectsInvalidFile(t *testing.T) {
	path := writeFile(t, "config.json", `{"check_interval": 0}`)

	_, err := Open(path, discard)
	require.Error(t, err)

	var cfgErr *Error
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, path, cfgErr.Path)
}

func TestReloadKeepsPreviousOnError(t *testing.T) {
	path := writeFile(t, "config.json", `{"check_interval": 60}`)
	store, err := Open(path, discard)
	require.NoError(t, err)
	before := store.Current()

	require.NoError(t, os.WriteFile(path, []byte(`{"check_interval": 0}`), 0o600))
	_, err = store.Reload()
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Same(t, before, store.Current())

	require.NoError(t, os.WriteFile(path, []byte(`{"check_interval": 45, "force_ap_mode": true}`), 0o600))
	next, err := store.Reload()
	require.NoError(t, err)
	assert.Same(t, next, store.Current())
	assert.Equal(t, 45, store.Current().CheckInterval)
	assert.True(t, store.Current().ForceAPMode)
	assert.Equal(t, 60, before.CheckInterval, "previous value must not be mutated")
}

func TestEncodeRoundTripsThroughFile(t *testing.T) {
	for _, name := range []string{"config.json", "config.toml", "config.yaml"} {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			cfg.PreferredNetworks = []string{"home"}
			cfg.APHidden = true
			path := filepath.Join(t.TempDir(), name)

			require.NoError(t, Write(path, cfg))
			loaded, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, cfg, loaded)
		})
	}
}
