// Package config loads and validates the daemon's configuration file.
package config

import (
	"time"

	"github.com/shazow/wipi/wifi"
)

// DefaultPath is where the daemon looks for its configuration.
const DefaultPath = "/etc/wipi/config.json"

// Config is the persisted configuration. A loaded Config is never mutated;
// reloading produces a new value.
type Config struct {
	APSSID            string    `json:"ap_ssid" toml:"ap_ssid" yaml:"ap_ssid" validate:"required"`
	APPassword        string    `json:"ap_password" toml:"ap_password" yaml:"ap_password"`
	APIPAddress       string    `json:"ap_ip_address" toml:"ap_ip_address" yaml:"ap_ip_address" validate:"required,ipv4"`
	CheckInterval     int       `json:"check_interval" toml:"check_interval" yaml:"check_interval" validate:"min=1,max=86400"`
	ForceAPMode       bool      `json:"force_ap_mode" toml:"force_ap_mode" yaml:"force_ap_mode"`
	DebugMode         bool      `json:"debug_mode" toml:"debug_mode" yaml:"debug_mode"`
	APChannel         int       `json:"ap_channel" toml:"ap_channel" yaml:"ap_channel" validate:"min=1,max=14"`
	APBand            wifi.Band `json:"ap_band" toml:"ap_band" yaml:"ap_band" validate:"oneof=2.4GHz 5GHz"`
	APHidden          bool      `json:"ap_hidden" toml:"ap_hidden" yaml:"ap_hidden"`
	ReconnectAttempts int       `json:"reconnect_attempts" toml:"reconnect_attempts" yaml:"reconnect_attempts" validate:"min=0"`
	ReconnectDelay    int       `json:"reconnect_delay" toml:"reconnect_delay" yaml:"reconnect_delay" validate:"min=0,max=86400"`
	PreferredNetworks []string  `json:"preferred_networks" toml:"preferred_networks" yaml:"preferred_networks" validate:"dive,required"`
	PrioritizeClients bool      `json:"prioritize_clients" toml:"prioritize_clients" yaml:"prioritize_clients"`
	APOpen            bool      `json:"ap_open" toml:"ap_open" yaml:"ap_open"`
}

// Default returns the configuration used when a field is absent.
func Default() *Config {
	return &Config{
		APSSID:            "WiPi-AP",
		APPassword:        "raspberry",
		APIPAddress:       "192.168.4.1",
		CheckInterval:     120,
		APChannel:         6,
		APBand:            wifi.Band24GHz,
		ReconnectAttempts: 3,
		ReconnectDelay:    10,
		PreferredNetworks: []string{},
		PrioritizeClients: true,
	}
}

// Open reports whether the access point runs without a passphrase.
func (c *Config) Open() bool {
	return c.APOpen || c.APPassword == ""
}

// Interval is the time between connectivity checks.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.CheckInterval) * time.Second
}

// RetryDelay is the spacing between reconnect attempts.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.ReconnectDelay) * time.Second
}

// RetryLimit is the number of consecutive failures after which the
// controller falls back to the access point. Zero attempts still
// allows the first failure to be observed.
func (c *Config) RetryLimit() int {
	return max(c.ReconnectAttempts, 1)
}

// AccessPoint returns the access point settings.
func (c *Config) AccessPoint() wifi.APConfig {
	ap := wifi.APConfig{
		SSID:    c.APSSID,
		Address: c.APIPAddress,
		Channel: c.APChannel,
		Band:    c.APBand,
		Hidden:  c.APHidden,
	}
	if !c.Open() {
		ap.Password = c.APPassword
	}
	if ap.Band == wifi.Band5GHz {
		ap.Channel = 0
	}
	return ap
}

// StaleProfilePatterns names the access point profiles that are safe to
// delete before bringing up a fresh one.
func (c *Config) StaleProfilePatterns() []string {
	return []string{wifi.APProfileName + "*", "Hotspot*", c.APSSID}
}
