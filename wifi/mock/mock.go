package mock

import (
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/shazow/wipi/wifi"
)

var DefaultActionSleep = 500 * time.Millisecond

// Operation names recorded by Backend.
const (
	OpCurrentLink    = "current-link"
	OpScanKnown      = "scan-known"
	OpActivateClient = "activate-client"
	OpActivateAP     = "activate-ap"
	OpDeactivateAP   = "deactivate-ap"
	OpIsAPActive     = "is-ap-active"
	OpClientCount    = "client-count"
	OpPurgeProfiles  = "purge-profiles"
)

// Call is one recorded backend invocation.
type Call struct {
	Op  string
	Arg string
}

// Backend is an in-memory wifi.Backend for tests and demos. Errors queued
// in the XxxErrors slices are returned one per call before falling back to
// the matching XxxError field.
type Backend struct {
	mu sync.Mutex

	// Known is the set of stored client profiles.
	Known []string
	// Visible is what a scan returns, known or not.
	Visible []wifi.Network

	Link        wifi.LinkObservation
	APProfiles  []string
	ClientCount int
	LastAP      wifi.APConfig

	CurrentLinkError     error
	ScanError            error
	ScanErrors           []error
	ActivateClientError  error
	ActivateClientErrors []error
	ActivateAPError      error
	ActivateAPErrors     []error
	DeactivateAPError    error
	ClientCountError     error
	PurgeError           error

	// ActionSleep is a delay before every action, to better emulate a real-world backend. Set to 0 during testing.
	ActionSleep time.Duration

	calls []Call
}

// New creates an idle backend with an interface that is up and no networks.
func New() *Backend {
	return &Backend{
		Link: wifi.LinkObservation{InterfaceUp: true},
	}
}

// NewDemo creates a backend with a few fun networks, associated with none of them.
func NewDemo() *Backend {
	b := New()
	b.ActionSleep = DefaultActionSleep
	b.Known = []string{"HideYoKidsHideYoWiFi", "Password is password", "TacoBoutAGoodSignal"}
	b.Visible = []wifi.Network{
		{SSID: "Password is password", Strength: 87},
		{SSID: "TacoBoutAGoodSignal", Strength: 99},
		{SSID: "Police Surveillance 2", Strength: 48},
		{SSID: "Dunder MiffLAN", Strength: 60},
	}
	b.APProfiles = []string{"Hotspot", "Hotspot-1"}
	return b
}

func (m *Backend) record(op, arg string) {
	m.calls = append(m.calls, Call{Op: op, Arg: arg})
}

func (m *Backend) sleep() {
	if m.ActionSleep > 0 {
		time.Sleep(m.ActionSleep)
	}
}

func pop(queue *[]error, fallback error) error {
	if len(*queue) == 0 {
		return fallback
	}
	err := (*queue)[0]
	*queue = (*queue)[1:]
	return err
}

func (m *Backend) isKnown(ssid string) bool {
	for _, k := range m.Known {
		if k == ssid {
			return true
		}
	}
	return false
}

func (m *Backend) knownInRange() []wifi.Network {
	var out []wifi.Network
	for _, n := range m.Visible {
		if m.isKnown(n.SSID) {
			out = append(out, n)
		}
	}
	return wifi.Dedupe(out)
}

func (m *Backend) CurrentLink(ctx context.Context) (wifi.LinkObservation, error) {
	m.sleep()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(OpCurrentLink, "")
	if m.CurrentLinkError != nil {
		return wifi.LinkObservation{}, m.CurrentLinkError
	}
	obs := m.Link
	obs.InRange = m.knownInRange()
	return obs, nil
}

func (m *Backend) ScanKnown(ctx context.Context) ([]wifi.Network, error) {
	m.sleep()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(OpScanKnown, "")
	if err := pop(&m.ScanErrors, m.ScanError); err != nil {
		return nil, err
	}
	return m.knownInRange(), nil
}

func (m *Backend) ActivateClient(ctx context.Context, ssid string) error {
	m.sleep()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(OpActivateClient, ssid)
	if err := pop(&m.ActivateClientErrors, m.ActivateClientError); err != nil {
		return err
	}
	if !m.isKnown(ssid) {
		return &wifi.BackendError{Op: OpActivateClient, SSID: ssid, Kind: wifi.ErrAssociationFailed, Err: wifi.ErrNotFound}
	}
	m.Link.SSID = ssid
	m.Link.Known = true
	m.Link.APActive = false
	m.Link.Signal = 0
	for _, n := range m.Visible {
		if n.SSID == ssid {
			m.Link.Signal = n.Strength
		}
	}
	return nil
}

func (m *Backend) ActivateAP(ctx context.Context, cfg wifi.APConfig) error {
	m.sleep()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(OpActivateAP, cfg.SSID)
	if err := pop(&m.ActivateAPErrors, m.ActivateAPError); err != nil {
		return err
	}
	m.LastAP = cfg
	m.APProfiles = append(m.APProfiles, wifi.APProfileName)
	m.Link.SSID = ""
	m.Link.Known = false
	m.Link.Signal = 0
	m.Link.APActive = true
	return nil
}

func (m *Backend) DeactivateAP(ctx context.Context) error {
	m.sleep()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(OpDeactivateAP, "")
	if m.DeactivateAPError != nil {
		return m.DeactivateAPError
	}
	m.Link.APActive = false
	m.ClientCount = 0
	return nil
}

func (m *Backend) IsAPActive(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(OpIsAPActive, "")
	return m.Link.APActive, nil
}

func (m *Backend) ConnectedClientCount(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(OpClientCount, "")
	if m.ClientCountError != nil {
		return 0, m.ClientCountError
	}
	if !m.Link.APActive {
		return 0, nil
	}
	return m.ClientCount, nil
}

func (m *Backend) PurgeStaleProfiles(ctx context.Context, patterns ...string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(OpPurgeProfiles, fmt.Sprint(patterns))
	if m.PurgeError != nil {
		return 0, m.PurgeError
	}
	var kept []string
	removed := 0
	for _, name := range m.APProfiles {
		if matchAny(patterns, name) {
			removed++
			continue
		}
		kept = append(kept, name)
	}
	m.APProfiles = kept
	return removed, nil
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, _ := path.Match(p, name); ok {
			return true
		}
	}
	return false
}

func (m *Backend) Close() error { return nil }

// Calls returns the recorded invocations, optionally filtered to ops.
func (m *Backend) Calls(ops ...string) []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Call
	for _, c := range m.calls {
		if len(ops) == 0 || contains(ops, c.Op) {
			out = append(out, c)
		}
	}
	return out
}

// CallCount returns how many times op was invoked.
func (m *Backend) CallCount(op string) int {
	return len(m.Calls(op))
}

// Update runs fn with the backend locked, for changing the simulated world mid-test.
func (m *Backend) Update(fn func(m *Backend)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
