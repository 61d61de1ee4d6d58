package wifi

import (
	"context"
	"time"
)

// Timeouts applied by backends to their blocking operations.
const (
	ScanTimeout      = 20 * time.Second
	AssociateTimeout = 30 * time.Second
)

// APProfileName is the name of the connection profile backends create for the access point.
const APProfileName = "wipi-ap"

// Band is the radio band used by the access point.
type Band string

const (
	Band24GHz Band = "2.4GHz"
	Band5GHz  Band = "5GHz"
)

// Network is a known network seen in the last scan.
type Network struct {
	SSID     string `json:"ssid" cbor:"ssid"`
	Strength uint8  `json:"strength" cbor:"strength"` // 0-100
}

// LinkObservation is a point-in-time view of the wireless interface.
type LinkObservation struct {
	InterfaceUp bool
	// SSID is the network the interface is associated with as a client, empty if none.
	SSID string
	// Known reports whether SSID has a stored profile.
	Known    bool
	Signal   uint8 // 0-100
	APActive bool
	// InRange holds the known networks that are currently visible.
	InRange []Network
}

// Associated returns true when the interface is a client of some network.
func (o LinkObservation) Associated() bool {
	return o.SSID != "" && !o.APActive
}

// APConfig describes the access point to bring up.
type APConfig struct {
	SSID     string
	Password string // empty means open
	Address  string // IPv4 address of the interface while serving
	Channel  int
	Band     Band
	Hidden   bool
}

// Open returns true if the access point has no passphrase.
func (c APConfig) Open() bool {
	return c.Password == ""
}

// Backend is the only boundary between the daemon and the OS network
// manager. Every operation blocks until it completes or its timeout elapses.
type Backend interface {
	// CurrentLink reports the interface state without triggering a scan.
	CurrentLink(ctx context.Context) (LinkObservation, error)
	// ScanKnown scans and returns the known networks in range.
	ScanKnown(ctx context.Context) ([]Network, error)
	// ActivateClient associates with a known network.
	ActivateClient(ctx context.Context, ssid string) error
	// ActivateAP brings up the access point.
	ActivateAP(ctx context.Context, cfg APConfig) error
	// DeactivateAP tears down the access point. It is a no-op if none is active.
	DeactivateAP(ctx context.Context) error
	IsAPActive(ctx context.Context) (bool, error)
	// ConnectedClientCount returns how many stations are using the access point.
	ConnectedClientCount(ctx context.Context) (int, error)
	// PurgeStaleProfiles deletes access point profiles whose name matches any
	// of the patterns (path.Match syntax) and returns how many were removed.
	PurgeStaleProfiles(ctx context.Context, patterns ...string) (int, error)
	Close() error
}
