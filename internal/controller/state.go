package controller

import (
	"errors"
	"time"

	"github.com/shazow/wipi/wifi"
)

// State is the connectivity mode.
type State string

const (
	StateClientConnected State = "client-connected"
	StateClientSearching State = "client-searching"
	StateAccessPoint     State = "access-point"
	// StateTransitioning is held only while a backend call is running.
	StateTransitioning State = "transitioning"
)

// Stable reports whether s is a resting state.
func (s State) Stable() bool {
	return s != StateTransitioning
}

// Override is an operator request that takes precedence over policy.
type Override string

const (
	OverrideNone        Override = "none"
	OverrideForceAP     Override = "force-ap"
	OverrideForceClient Override = "force-client"
)

// Command is an operator action applied by the control loop.
type Command string

const (
	CommandForceAP     Command = "force-ap"
	CommandForceClient Command = "force-client"
	CommandReload      Command = "reload"
)

var (
	// ErrStopped is returned when submitting to a controller that is not running.
	ErrStopped = errors.New("controller stopped")
	// ErrPinned is returned for ForceClient while force_ap_mode is configured.
	ErrPinned = errors.New("force_ap_mode is set in the configuration")
	// ErrUnknownCommand is returned for commands the loop does not handle.
	ErrUnknownCommand = errors.New("unknown command")
)

// Status is a snapshot of the controller.
type Status struct {
	State          State          `json:"state" cbor:"state"`
	SSID           string         `json:"ssid,omitempty" cbor:"ssid,omitempty"`
	KnownNetwork   bool           `json:"known_network" cbor:"known_network"`
	Signal         uint8          `json:"signal" cbor:"signal"`
	InRange        []wifi.Network `json:"in_range,omitempty" cbor:"in_range,omitempty"`
	APSSID         string         `json:"ap_ssid" cbor:"ap_ssid"`
	APAddress      string         `json:"ap_ip_address" cbor:"ap_ip_address"`
	APClients      int            `json:"ap_clients" cbor:"ap_clients"`
	FailureCount   int            `json:"failure_count" cbor:"failure_count"`
	Override       Override       `json:"override" cbor:"override"`
	ForceAPMode    bool           `json:"force_ap_mode" cbor:"force_ap_mode"`
	Debug          bool           `json:"debug_mode" cbor:"debug_mode"`
	Degraded       bool           `json:"degraded" cbor:"degraded"`
	Error          string         `json:"error,omitempty" cbor:"error,omitempty"`
	LastTransition time.Time      `json:"last_transition" cbor:"last_transition"`
	LastConnected  time.Time      `json:"last_connected" cbor:"last_connected"`
	UpdatedAt      time.Time      `json:"updated_at" cbor:"updated_at"`
}
