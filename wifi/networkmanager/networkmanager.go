//go:build linux

// Package networkmanager drives the radio through NetworkManager over D-Bus.
package networkmanager

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	gonetworkmanager "github.com/Wifx/gonetworkmanager/v3"
	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"

	"github.com/shazow/wipi/wifi"
)

const (
	wirelessType = "802-11-wireless"
	modeAP       = "ap"
	scanPoll     = 500 * time.Millisecond
)

// Backend implements wifi.Backend on top of NetworkManager.
type Backend struct {
	NM       gonetworkmanager.NetworkManager
	Settings gonetworkmanager.Settings
	// Interface restricts the backend to one device. Empty picks the
	// first wireless device.
	Interface string
	// LeasesFile is the dnsmasq lease file of the shared connection.
	LeasesFile string
	Now        func() time.Time

	mu     sync.Mutex
	device gonetworkmanager.DeviceWireless
}

// New connects to NetworkManager on the system bus.
func New(iface, leasesFile string) (*Backend, error) {
	nm, err := gonetworkmanager.NewNetworkManager()
	if err != nil {
		return nil, &wifi.BackendError{Op: "connect", Kind: wifi.ErrDriverUnavailable, Err: err}
	}

	settings, err := gonetworkmanager.NewSettings()
	if err != nil {
		return nil, &wifi.BackendError{Op: "connect", Kind: wifi.ErrDriverUnavailable, Err: err}
	}

	return &Backend{
		NM:         nm,
		Settings:   settings,
		Interface:  iface,
		LeasesFile: leasesFile,
		Now:        time.Now,
	}, nil
}

// getWirelessDevice finds the wireless device once and caches it.
func (b *Backend) getWirelessDevice() (gonetworkmanager.DeviceWireless, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.device != nil {
		return b.device, nil
	}

	if b.Interface != "" {
		device, err := b.NM.GetDeviceByIpIface(b.Interface)
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", b.Interface, err)
		}
		dev, ok := device.(gonetworkmanager.DeviceWireless)
		if !ok {
			return nil, fmt.Errorf("device %s is not wireless: %w", b.Interface, wifi.ErrNotFound)
		}
		b.device = dev
		return dev, nil
	}

	devices, err := b.NM.GetDevices()
	if err != nil {
		return nil, err
	}
	for _, device := range devices {
		if dev, ok := device.(gonetworkmanager.DeviceWireless); ok {
			b.device = dev
			return dev, nil
		}
	}
	return nil, fmt.Errorf("no wireless device found: %w", wifi.ErrNotFound)
}

func (b *Backend) checkEnabled() error {
	enabled, err := b.NM.GetPropertyWirelessEnabled()
	if err != nil {
		return err
	}
	if !enabled {
		return wifi.ErrWirelessDisabled
	}
	return nil
}

// profile is the part of a connection profile the backend cares about.
type profile struct {
	ID   string
	Type string
	Mode string
	SSID string
}

func readProfile(s gonetworkmanager.ConnectionSettings) profile {
	var p profile
	if c, ok := s["connection"]; ok {
		p.ID, _ = c["id"].(string)
		p.Type, _ = c["type"].(string)
	}
	if w, ok := s[wirelessType]; ok {
		p.Mode, _ = w["mode"].(string)
		if ssid, ok := w["ssid"].([]byte); ok {
			p.SSID = string(ssid)
		}
	}
	return p
}

// knownProfiles maps SSIDs to stored client profiles.
func (b *Backend) knownProfiles() (map[string]gonetworkmanager.Connection, error) {
	conns, err := b.Settings.ListConnections()
	if err != nil {
		return nil, err
	}
	known := make(map[string]gonetworkmanager.Connection)
	for _, conn := range conns {
		s, err := conn.GetSettings()
		if err != nil {
			continue
		}
		p := readProfile(s)
		if p.Type != wirelessType || p.Mode == modeAP || p.SSID == "" {
			continue
		}
		known[p.SSID] = conn
	}
	return known, nil
}

func (b *Backend) CurrentLink(ctx context.Context) (wifi.LinkObservation, error) {
	var obs wifi.LinkObservation
	dev, err := b.getWirelessDevice()
	if err != nil {
		return obs, wrap("current-link", "", wifi.ErrDriverUnavailable, err)
	}

	state, err := dev.GetPropertyState()
	if err != nil {
		return obs, wrap("current-link", "", wifi.ErrDriverUnavailable, err)
	}
	obs.InterfaceUp = state > gonetworkmanager.NmDeviceStateUnavailable
	if state != gonetworkmanager.NmDeviceStateActivated {
		return obs, nil
	}

	active, err := dev.GetPropertyActiveConnection()
	if err != nil || active == nil {
		return obs, nil
	}
	conn, err := active.GetPropertyConnection()
	if err != nil || conn == nil {
		return obs, nil
	}
	s, err := conn.GetSettings()
	if err != nil {
		return obs, wrap("current-link", "", wifi.ErrDriverUnavailable, err)
	}

	p := readProfile(s)
	if p.Mode == modeAP {
		obs.APActive = true
		return obs, nil
	}
	obs.SSID = p.SSID
	obs.Known = true
	if ap, err := dev.GetPropertyActiveAccessPoint(); err == nil && ap != nil {
		obs.Signal, _ = ap.GetPropertyStrength()
	}
	return obs, nil
}

func (b *Backend) ScanKnown(ctx context.Context) ([]wifi.Network, error) {
	if err := b.checkEnabled(); err != nil {
		return nil, wrap("scan", "", wifi.ErrDriverUnavailable, err)
	}
	dev, err := b.getWirelessDevice()
	if err != nil {
		return nil, wrap("scan", "", wifi.ErrDriverUnavailable, err)
	}

	before, _ := dev.GetPropertyLastScan()
	if err := dev.RequestScan(); err != nil {
		if isPermissionError(err) {
			return nil, wrap("scan", "", wifi.ErrPermissionDenied, err)
		}
		// NetworkManager refuses while a scan is running or the device
		// is serving an access point; the cached results still apply.
	} else if err := waitForScan(ctx, dev, before); err != nil {
		return nil, err
	}

	aps, err := dev.GetAccessPoints()
	if err != nil {
		return nil, wrap("scan", "", wifi.ErrDriverUnavailable, err)
	}
	known, err := b.knownProfiles()
	if err != nil {
		return nil, wrap("scan", "", wifi.ErrDriverUnavailable, err)
	}

	var nets []wifi.Network
	for _, ap := range aps {
		ssid, err := ap.GetPropertySSID()
		if err != nil || ssid == "" {
			continue
		}
		if _, ok := known[ssid]; !ok {
			continue
		}
		strength, _ := ap.GetPropertyStrength()
		nets = append(nets, wifi.Network{SSID: ssid, Strength: strength})
	}
	return wifi.Dedupe(nets), nil
}

// waitForScan polls until the device reports a scan newer than before.
func waitForScan(ctx context.Context, dev gonetworkmanager.DeviceWireless, before int64) error {
	ctx, cancel := context.WithTimeout(ctx, wifi.ScanTimeout)
	defer cancel()
	ticker := time.NewTicker(scanPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return &wifi.BackendError{Op: "scan", Kind: wifi.ErrScanTimeout, Err: ctx.Err()}
		case <-ticker.C:
		}
		last, err := dev.GetPropertyLastScan()
		if err != nil {
			return wrap("scan", "", wifi.ErrDriverUnavailable, err)
		}
		if last > before {
			return nil
		}
	}
}

func (b *Backend) ActivateClient(ctx context.Context, ssid string) error {
	known, err := b.knownProfiles()
	if err != nil {
		return wrap("activate-client", ssid, wifi.ErrAssociationFailed, err)
	}
	conn, ok := known[ssid]
	if !ok {
		return &wifi.BackendError{Op: "activate-client", SSID: ssid, Kind: wifi.ErrAssociationFailed, Err: wifi.ErrNotFound}
	}

	dev, err := b.getWirelessDevice()
	if err != nil {
		return wrap("activate-client", ssid, wifi.ErrDriverUnavailable, err)
	}
	ap, err := strongestAccessPoint(dev, ssid)
	if err != nil {
		return wrap("activate-client", ssid, wifi.ErrAssociationFailed, err)
	}

	active, err := b.NM.ActivateWirelessConnection(conn, dev, ap)
	if err != nil {
		return wrap("activate-client", ssid, wifi.ErrAssociationFailed, err)
	}
	if err := waitActivated(ctx, active, wifi.AssociateTimeout); err != nil {
		return wrap("activate-client", ssid, wifi.ErrAssociationFailed, err)
	}
	return nil
}

func strongestAccessPoint(dev gonetworkmanager.DeviceWireless, ssid string) (gonetworkmanager.AccessPoint, error) {
	aps, err := dev.GetAccessPoints()
	if err != nil {
		return nil, err
	}
	var best gonetworkmanager.AccessPoint
	var bestStrength uint8
	for _, ap := range aps {
		s, err := ap.GetPropertySSID()
		if err != nil || s != ssid {
			continue
		}
		strength, _ := ap.GetPropertyStrength()
		if best == nil || strength > bestStrength {
			best, bestStrength = ap, strength
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%q is not in range: %w", ssid, wifi.ErrNotFound)
	}
	return best, nil
}

// waitActivated blocks until the connection is activated, fails, or timeout passes.
func waitActivated(ctx context.Context, active gonetworkmanager.ActiveConnection, timeout time.Duration) error {
	stateChanges := make(chan gonetworkmanager.StateChange, 1)
	done := make(chan struct{})
	defer close(done)
	if err := active.SubscribeState(stateChanges, done); err != nil {
		return err
	}

	initial, err := active.GetPropertyState()
	if err != nil {
		return err
	}
	if initial == gonetworkmanager.NmActiveConnectionStateActivated {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case change := <-stateChanges:
			switch change.State {
			case gonetworkmanager.NmActiveConnectionStateActivated:
				return nil
			case gonetworkmanager.NmActiveConnectionStateDeactivated:
				return fmt.Errorf("connection deactivated: %v", change.Reason)
			}
		case <-timer.C:
			return fmt.Errorf("not activated after %s", timeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// apSettings builds the shared-mode access point profile.
func apSettings(cfg wifi.APConfig, iface, id string) map[string]map[string]interface{} {
	wireless := map[string]interface{}{
		"mode":   modeAP,
		"ssid":   []byte(cfg.SSID),
		"hidden": cfg.Hidden,
	}
	switch cfg.Band {
	case wifi.Band5GHz:
		wireless["band"] = "a"
	default:
		wireless["band"] = "bg"
		if cfg.Channel > 0 {
			wireless["channel"] = uint32(cfg.Channel)
		}
	}

	settings := map[string]map[string]interface{}{
		"connection": {
			"id":          wifi.APProfileName,
			"uuid":        id,
			"type":        wirelessType,
			"autoconnect": false,
		},
		wirelessType: wireless,
		"ipv4": {
			"method": "shared",
			"address-data": []map[string]interface{}{
				{"address": cfg.Address, "prefix": uint32(24)},
			},
		},
		"ipv6": {"method": "ignore"},
	}
	if iface != "" {
		settings["connection"]["interface-name"] = iface
	}
	if !cfg.Open() {
		wireless["security"] = "802-11-wireless-security"
		settings["802-11-wireless-security"] = map[string]interface{}{
			"key-mgmt": "wpa-psk",
			"psk":      cfg.Password,
			"proto":    []string{"rsn"},
			"pairwise": []string{"ccmp"},
			"group":    []string{"ccmp"},
		}
	}
	return settings
}

func (b *Backend) ActivateAP(ctx context.Context, cfg wifi.APConfig) error {
	if err := b.checkEnabled(); err != nil {
		return wrap("activate-ap", cfg.SSID, wifi.ErrAPActivationFailed, err)
	}
	dev, err := b.getWirelessDevice()
	if err != nil {
		return wrap("activate-ap", cfg.SSID, wifi.ErrDriverUnavailable, err)
	}
	iface, _ := dev.GetPropertyInterface()

	ctx, cancel := context.WithTimeout(ctx, wifi.AssociateTimeout)
	defer cancel()

	var active gonetworkmanager.ActiveConnection
	err = bounded(ctx, func() (err error) {
		active, err = b.NM.AddAndActivateConnection(apSettings(cfg, iface, uuid.NewString()), dev)
		return err
	})
	if err != nil {
		return wrap("activate-ap", cfg.SSID, wifi.ErrAPActivationFailed, err)
	}
	if err := waitActivated(ctx, active, wifi.AssociateTimeout); err != nil {
		return wrap("activate-ap", cfg.SSID, wifi.ErrAPActivationFailed, err)
	}
	return nil
}

// activeAP returns the active access point connection, or nil.
func (b *Backend) activeAP() (gonetworkmanager.ActiveConnection, error) {
	actives, err := b.NM.GetPropertyActiveConnections()
	if err != nil {
		return nil, err
	}
	for _, active := range actives {
		typ, err := active.GetPropertyType()
		if err != nil || typ != wirelessType {
			continue
		}
		conn, err := active.GetPropertyConnection()
		if err != nil || conn == nil {
			continue
		}
		s, err := conn.GetSettings()
		if err != nil {
			continue
		}
		if readProfile(s).Mode == modeAP {
			return active, nil
		}
	}
	return nil, nil
}

func (b *Backend) DeactivateAP(ctx context.Context) error {
	active, err := b.activeAP()
	if err != nil {
		return wrap("deactivate-ap", "", wifi.ErrDriverUnavailable, err)
	}
	if active == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, wifi.AssociateTimeout)
	defer cancel()
	if err := bounded(ctx, func() error { return b.NM.DeactivateConnection(active) }); err != nil {
		return wrap("deactivate-ap", "", wifi.ErrDriverUnavailable, err)
	}
	return nil
}

// bounded runs a D-Bus call that takes no context and gives up when ctx
// is done. The call itself keeps running until the bus replies.
func bounded(ctx context.Context, call func() error) error {
	done := make(chan error, 1)
	go func() { done <- call() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Backend) IsAPActive(ctx context.Context) (bool, error) {
	active, err := b.activeAP()
	if err != nil {
		return false, wrap("is-ap-active", "", wifi.ErrDriverUnavailable, err)
	}
	if active == nil {
		return false, nil
	}
	state, err := active.GetPropertyState()
	if err != nil {
		return false, wrap("is-ap-active", "", wifi.ErrDriverUnavailable, err)
	}
	return state == gonetworkmanager.NmActiveConnectionStateActivated, nil
}

func (b *Backend) leasesPath() string {
	if b.LeasesFile != "" {
		return b.LeasesFile
	}
	iface := b.Interface
	if iface == "" {
		if dev, err := b.getWirelessDevice(); err == nil {
			iface, _ = dev.GetPropertyInterface()
		}
	}
	return fmt.Sprintf("/var/lib/NetworkManager/dnsmasq-%s.leases", iface)
}

func (b *Backend) ConnectedClientCount(ctx context.Context) (int, error) {
	active, err := b.IsAPActive(ctx)
	if err != nil || !active {
		return 0, err
	}
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	n, err := wifi.CountLeases(b.leasesPath(), now())
	if err != nil {
		return 0, wrap("client-count", "", wifi.ErrDriverUnavailable, err)
	}
	return n, nil
}

// matchProfile reports whether a profile id matches any of the glob patterns.
func matchProfile(patterns []string, id string) bool {
	for _, p := range patterns {
		if ok, _ := path.Match(p, id); ok {
			return true
		}
	}
	return false
}

// PurgeStaleProfiles deletes access point profiles whose id matches one of
// patterns. Client profiles are never touched.
func (b *Backend) PurgeStaleProfiles(ctx context.Context, patterns ...string) (int, error) {
	conns, err := b.Settings.ListConnections()
	if err != nil {
		return 0, wrap("purge-profiles", "", wifi.ErrDriverUnavailable, err)
	}
	removed := 0
	var errs []error
	for _, conn := range conns {
		s, err := conn.GetSettings()
		if err != nil {
			continue
		}
		p := readProfile(s)
		if p.Type != wirelessType || p.Mode != modeAP || !matchProfile(patterns, p.ID) {
			continue
		}
		if err := conn.Delete(); err != nil {
			errs = append(errs, fmt.Errorf("deleting %q: %w", p.ID, err))
			continue
		}
		removed++
	}
	if len(errs) > 0 {
		return removed, wrap("purge-profiles", "", wifi.ErrDriverUnavailable, errors.Join(errs...))
	}
	return removed, nil
}

func (b *Backend) Close() error {
	return nil
}

// wrap turns a D-Bus failure into a BackendError, keeping kind unless the
// bus refused the call for lack of privileges.
func wrap(op, ssid string, kind, err error) error {
	var be *wifi.BackendError
	if errors.As(err, &be) {
		return err
	}
	if errors.Is(err, wifi.ErrWirelessDisabled) {
		kind = wifi.ErrDriverUnavailable
	}
	if isPermissionError(err) {
		kind = wifi.ErrPermissionDenied
	}
	return &wifi.BackendError{Op: op, SSID: ssid, Kind: kind, Err: err}
}

func isPermissionError(err error) bool {
	var dbusErr dbus.Error
	if !errors.As(err, &dbusErr) {
		return false
	}
	for _, marker := range []string{"PermissionDenied", "AccessDenied", "NotAuthorized"} {
		if strings.Contains(dbusErr.Name, marker) {
			return true
		}
	}
	return false
}
