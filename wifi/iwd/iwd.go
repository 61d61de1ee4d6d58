//go:build linux

// Package iwd drives the radio through iwd over D-Bus.
//
// iwd cannot run an open or hidden access point, and it keeps no access
// point profiles besides the files in ProfileDir.
package iwd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/shazow/wipi/wifi"
)

const (
	iwdDest               = "net.connman.iwd"
	iwdPath               = "/"
	iwdDeviceIface        = "net.connman.iwd.Device"
	iwdStationIface       = "net.connman.iwd.Station"
	iwdNetworkIface       = "net.connman.iwd.Network"
	iwdKnownNetworkIface  = "net.connman.iwd.KnownNetwork"
	iwdAccessPointIface   = "net.connman.iwd.AccessPoint"
	iwdAPDiagnosticIface  = "net.connman.iwd.AccessPointDiagnostic"
	objectManagerIface    = "org.freedesktop.DBus.ObjectManager"
	propertiesIface       = "org.freedesktop.DBus.Properties"
	defaultProfileDir     = "/var/lib/iwd/ap"
	modeStation           = "station"
	modeAP                = "ap"
	stationStateConnected = "connected"
	scanPoll              = 500 * time.Millisecond
	propertyChangeTimeout = 5 * time.Second
)

// Backend implements wifi.Backend on top of iwd.
type Backend struct {
	// Interface selects the device by name. Empty picks the first device.
	Interface string
	// ProfileDir is where access point profiles are written.
	ProfileDir string

	conn *dbus.Conn
}

// New connects to iwd on the system bus.
func New(iface string) (*Backend, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, &wifi.BackendError{Op: "connect", Kind: wifi.ErrDriverUnavailable, Err: err}
	}
	b := &Backend{Interface: iface, ProfileDir: defaultProfileDir, conn: conn}

	objs, err := b.managedObjects(context.Background())
	if err != nil {
		return nil, &wifi.BackendError{Op: "connect", Kind: wifi.ErrDriverUnavailable, Err: fmt.Errorf("iwd is not available: %w", err)}
	}
	if _, err := objs.device(iface); err != nil {
		return nil, &wifi.BackendError{Op: "connect", Kind: wifi.ErrDriverUnavailable, Err: err}
	}
	return b, nil
}

// objects is the result of GetManagedObjects.
type objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

func (b *Backend) managedObjects(ctx context.Context) (objects, error) {
	var objs objects
	err := b.conn.Object(iwdDest, iwdPath).CallWithContext(ctx, objectManagerIface+".GetManagedObjects", 0).Store(&objs)
	return objs, err
}

func (o objects) prop(p dbus.ObjectPath, iface, name string) (dbus.Variant, bool) {
	props, ok := o[p][iface]
	if !ok {
		return dbus.Variant{}, false
	}
	v, ok := props[name]
	return v, ok
}

func (o objects) stringProp(p dbus.ObjectPath, iface, name string) string {
	v, _ := o.prop(p, iface, name)
	s, _ := v.Value().(string)
	return s
}

func (o objects) boolProp(p dbus.ObjectPath, iface, name string) bool {
	v, _ := o.prop(p, iface, name)
	b, _ := v.Value().(bool)
	return b
}

func (o objects) pathProp(p dbus.ObjectPath, iface, name string) dbus.ObjectPath {
	v, _ := o.prop(p, iface, name)
	op, _ := v.Value().(dbus.ObjectPath)
	return op
}

// device finds the device called name, or the first device if name is empty.
func (o objects) device(name string) (dbus.ObjectPath, error) {
	var first dbus.ObjectPath
	for p, ifaces := range o {
		if _, ok := ifaces[iwdDeviceIface]; !ok {
			continue
		}
		if name == "" {
			if first == "" || p < first {
				first = p
			}
			continue
		}
		if o.stringProp(p, iwdDeviceIface, "Name") == name {
			return p, nil
		}
	}
	if first != "" {
		return first, nil
	}
	if name == "" {
		return "", fmt.Errorf("no wireless device found: %w", wifi.ErrNotFound)
	}
	return "", fmt.Errorf("device %s: %w", name, wifi.ErrNotFound)
}

// network finds the network object on dev called ssid.
func (o objects) network(dev dbus.ObjectPath, ssid string) (dbus.ObjectPath, bool) {
	for p, ifaces := range o {
		if _, ok := ifaces[iwdNetworkIface]; !ok {
			continue
		}
		if o.pathProp(p, iwdNetworkIface, "Device") == dev && o.stringProp(p, iwdNetworkIface, "Name") == ssid {
			return p, true
		}
	}
	return "", false
}

// known reports whether the network has a stored profile.
func (o objects) known(network dbus.ObjectPath) bool {
	_, ok := o.prop(network, iwdNetworkIface, "KnownNetwork")
	return ok
}

// signalToStrength converts iwd's signal, in 100 * dBm, to a 0-100 quality.
func signalToStrength(signal int16) uint8 {
	dbm := int(signal) / 100
	q := 2 * (dbm + 100)
	switch {
	case q < 0:
		return 0
	case q > 100:
		return 100
	}
	return uint8(q)
}

type orderedNetwork struct {
	Path   dbus.ObjectPath
	Signal int16
}

func (b *Backend) orderedNetworks(ctx context.Context, dev dbus.ObjectPath) ([]orderedNetwork, error) {
	var nets []orderedNetwork
	err := b.conn.Object(iwdDest, dev).CallWithContext(ctx, iwdStationIface+".GetOrderedNetworks", 0).Store(&nets)
	return nets, err
}

func (b *Backend) CurrentLink(ctx context.Context) (wifi.LinkObservation, error) {
	var obs wifi.LinkObservation
	objs, err := b.managedObjects(ctx)
	if err != nil {
		return obs, wrap("current-link", "", wifi.ErrDriverUnavailable, err)
	}
	dev, err := objs.device(b.Interface)
	if err != nil {
		return obs, wrap("current-link", "", wifi.ErrDriverUnavailable, err)
	}

	obs.InterfaceUp = objs.boolProp(dev, iwdDeviceIface, "Powered")
	if objs.stringProp(dev, iwdDeviceIface, "Mode") == modeAP {
		obs.APActive = objs.boolProp(dev, iwdAccessPointIface, "Started")
		return obs, nil
	}
	if objs.stringProp(dev, iwdStationIface, "State") != stationStateConnected {
		return obs, nil
	}

	network := objs.pathProp(dev, iwdStationIface, "ConnectedNetwork")
	obs.SSID = objs.stringProp(network, iwdNetworkIface, "Name")
	obs.Known = objs.known(network)
	if nets, err := b.orderedNetworks(ctx, dev); err == nil {
		for _, n := range nets {
			if n.Path == network {
				obs.Signal = signalToStrength(n.Signal)
			}
		}
	}
	return obs, nil
}

func (b *Backend) ScanKnown(ctx context.Context) ([]wifi.Network, error) {
	objs, err := b.managedObjects(ctx)
	if err != nil {
		return nil, wrap("scan", "", wifi.ErrDriverUnavailable, err)
	}
	dev, err := objs.device(b.Interface)
	if err != nil {
		return nil, wrap("scan", "", wifi.ErrDriverUnavailable, err)
	}
	if !objs.boolProp(dev, iwdDeviceIface, "Powered") {
		return nil, wrap("scan", "", wifi.ErrDriverUnavailable, wifi.ErrWirelessDisabled)
	}
	if objs.stringProp(dev, iwdDeviceIface, "Mode") == modeAP {
		return b.scanFromAP(ctx, dev, objs)
	}

	obj := b.conn.Object(iwdDest, dev)
	if err := obj.CallWithContext(ctx, iwdStationIface+".Scan", 0).Err; err != nil && !isBusy(err) {
		return nil, wrap("scan", "", wifi.ErrDriverUnavailable, err)
	}
	if err := b.waitForScan(ctx, obj); err != nil {
		return nil, err
	}

	ordered, err := b.orderedNetworks(ctx, dev)
	if err != nil {
		return nil, wrap("scan", "", wifi.ErrDriverUnavailable, err)
	}
	// Networks found by the scan are new objects.
	objs, err = b.managedObjects(ctx)
	if err != nil {
		return nil, wrap("scan", "", wifi.ErrDriverUnavailable, err)
	}

	var nets []wifi.Network
	for _, n := range ordered {
		if !objs.known(n.Path) {
			continue
		}
		nets = append(nets, wifi.Network{
			SSID:     objs.stringProp(n.Path, iwdNetworkIface, "Name"),
			Strength: signalToStrength(n.Signal),
		})
	}
	return wifi.Dedupe(nets), nil
}

// scanFromAP scans while serving the access point. The station interface
// is gone in this mode, so known networks are matched by name.
func (b *Backend) scanFromAP(ctx context.Context, dev dbus.ObjectPath, objs objects) ([]wifi.Network, error) {
	obj := b.conn.Object(iwdDest, dev)
	if err := obj.CallWithContext(ctx, iwdAccessPointIface+".Scan", 0).Err; err != nil && !isBusy(err) {
		return nil, wrap("scan", "", wifi.ErrDriverUnavailable, err)
	}
	var found []map[string]dbus.Variant
	if err := obj.CallWithContext(ctx, iwdAccessPointIface+".GetOrderedNetworks", 0).Store(&found); err != nil {
		return nil, wrap("scan", "", wifi.ErrDriverUnavailable, err)
	}

	known := make(map[string]bool)
	for _, ifaces := range objs {
		if props, ok := ifaces[iwdKnownNetworkIface]; ok {
			if name, ok := props["Name"].Value().(string); ok {
				known[name] = true
			}
		}
	}

	var nets []wifi.Network
	for _, n := range found {
		name, _ := n["Name"].Value().(string)
		if !known[name] {
			continue
		}
		signal, _ := n["SignalStrength"].Value().(int16)
		nets = append(nets, wifi.Network{SSID: name, Strength: signalToStrength(signal)})
	}
	return wifi.Dedupe(nets), nil
}

func (b *Backend) waitForScan(ctx context.Context, obj dbus.BusObject) error {
	ctx, cancel := context.WithTimeout(ctx, wifi.ScanTimeout)
	defer cancel()
	ticker := time.NewTicker(scanPoll)
	defer ticker.Stop()

	for {
		v, err := obj.GetProperty(iwdStationIface + ".Scanning")
		if err != nil {
			return wrap("scan", "", wifi.ErrDriverUnavailable, err)
		}
		if scanning, _ := v.Value().(bool); !scanning {
			return nil
		}
		select {
		case <-ctx.Done():
			return &wifi.BackendError{Op: "scan", Kind: wifi.ErrScanTimeout, Err: ctx.Err()}
		case <-ticker.C:
		}
	}
}

func (b *Backend) ActivateClient(ctx context.Context, ssid string) error {
	objs, err := b.managedObjects(ctx)
	if err != nil {
		return wrap("activate-client", ssid, wifi.ErrDriverUnavailable, err)
	}
	dev, err := objs.device(b.Interface)
	if err != nil {
		return wrap("activate-client", ssid, wifi.ErrDriverUnavailable, err)
	}
	if objs.stringProp(dev, iwdDeviceIface, "Mode") != modeStation {
		return &wifi.BackendError{Op: "activate-client", SSID: ssid, Kind: wifi.ErrAssociationFailed, Err: errors.New("device is not in station mode")}
	}

	network, ok := objs.network(dev, ssid)
	if !ok || !objs.known(network) {
		return &wifi.BackendError{Op: "activate-client", SSID: ssid, Kind: wifi.ErrAssociationFailed, Err: wifi.ErrNotFound}
	}

	ctx, cancel := context.WithTimeout(ctx, wifi.AssociateTimeout)
	defer cancel()
	if err := b.conn.Object(iwdDest, network).CallWithContext(ctx, iwdNetworkIface+".Connect", 0).Err; err != nil {
		return wrap("activate-client", ssid, wifi.ErrAssociationFailed, err)
	}
	return nil
}

// apProfile renders an iwd access point profile.
func apProfile(cfg wifi.APConfig) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[Security]\nPassphrase=%s\n", cfg.Password)
	if cfg.Channel > 0 {
		fmt.Fprintf(&sb, "\n[General]\nChannel=%d\n", cfg.Channel)
	}
	if cfg.Address != "" {
		fmt.Fprintf(&sb, "\n[IPv4]\nAddress=%s\nNetmask=255.255.255.0\n", cfg.Address)
	}
	return sb.String()
}

func (b *Backend) setMode(ctx context.Context, dev dbus.ObjectPath, mode string) error {
	obj := b.conn.Object(iwdDest, dev)
	if err := obj.CallWithContext(ctx, propertiesIface+".Set", 0, iwdDeviceIface, "Mode", dbus.MakeVariant(mode)).Err; err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, propertyChangeTimeout)
	defer cancel()
	ticker := time.NewTicker(scanPoll)
	defer ticker.Stop()
	for {
		objs, err := b.managedObjects(ctx)
		if err != nil {
			return err
		}
		if objs.stringProp(dev, iwdDeviceIface, "Mode") == mode {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out switching to %s mode", mode)
		case <-ticker.C:
		}
	}
}

func (b *Backend) ActivateAP(ctx context.Context, cfg wifi.APConfig) error {
	if cfg.Open() || cfg.Hidden {
		return &wifi.BackendError{Op: "activate-ap", SSID: cfg.SSID, Kind: wifi.ErrAPActivationFailed, Err: fmt.Errorf("open or hidden access point: %w", wifi.ErrNotSupported)}
	}
	ctx, cancel := context.WithTimeout(ctx, wifi.AssociateTimeout)
	defer cancel()

	objs, err := b.managedObjects(ctx)
	if err != nil {
		return wrap("activate-ap", cfg.SSID, wifi.ErrDriverUnavailable, err)
	}
	dev, err := objs.device(b.Interface)
	if err != nil {
		return wrap("activate-ap", cfg.SSID, wifi.ErrDriverUnavailable, err)
	}
	if objs.stringProp(dev, iwdDeviceIface, "Mode") != modeAP {
		if err := b.setMode(ctx, dev, modeAP); err != nil {
			return wrap("activate-ap", cfg.SSID, wifi.ErrAPActivationFailed, err)
		}
	}

	obj := b.conn.Object(iwdDest, dev)
	profile := filepath.Join(b.ProfileDir, cfg.SSID+".ap")
	if err := writeProfile(profile, apProfile(cfg)); err == nil {
		err = obj.CallWithContext(ctx, iwdAccessPointIface+".StartProfile", 0, cfg.SSID).Err
		if err != nil {
			return wrap("activate-ap", cfg.SSID, wifi.ErrAPActivationFailed, err)
		}
		return nil
	}
	// Without a profile iwd picks the address itself.
	if err := obj.CallWithContext(ctx, iwdAccessPointIface+".Start", 0, cfg.SSID, cfg.Password).Err; err != nil {
		return wrap("activate-ap", cfg.SSID, wifi.ErrAPActivationFailed, err)
	}
	return nil
}

func writeProfile(name, body string) error {
	if err := os.MkdirAll(filepath.Dir(name), 0o700); err != nil {
		return err
	}
	return os.WriteFile(name, []byte(body), 0o600)
}

func (b *Backend) DeactivateAP(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, wifi.AssociateTimeout)
	defer cancel()

	objs, err := b.managedObjects(ctx)
	if err != nil {
		return wrap("deactivate-ap", "", wifi.ErrDriverUnavailable, err)
	}
	dev, err := objs.device(b.Interface)
	if err != nil {
		return wrap("deactivate-ap", "", wifi.ErrDriverUnavailable, err)
	}
	if objs.stringProp(dev, iwdDeviceIface, "Mode") != modeAP {
		return nil
	}
	if objs.boolProp(dev, iwdAccessPointIface, "Started") {
		if err := b.conn.Object(iwdDest, dev).CallWithContext(ctx, iwdAccessPointIface+".Stop", 0).Err; err != nil {
			return wrap("deactivate-ap", "", wifi.ErrDriverUnavailable, err)
		}
	}
	if err := b.setMode(ctx, dev, modeStation); err != nil {
		return wrap("deactivate-ap", "", wifi.ErrDriverUnavailable, err)
	}
	return nil
}

func (b *Backend) IsAPActive(ctx context.Context) (bool, error) {
	objs, err := b.managedObjects(ctx)
	if err != nil {
		return false, wrap("is-ap-active", "", wifi.ErrDriverUnavailable, err)
	}
	dev, err := objs.device(b.Interface)
	if err != nil {
		return false, wrap("is-ap-active", "", wifi.ErrDriverUnavailable, err)
	}
	return objs.stringProp(dev, iwdDeviceIface, "Mode") == modeAP && objs.boolProp(dev, iwdAccessPointIface, "Started"), nil
}

func (b *Backend) ConnectedClientCount(ctx context.Context) (int, error) {
	objs, err := b.managedObjects(ctx)
	if err != nil {
		return 0, wrap("client-count", "", wifi.ErrDriverUnavailable, err)
	}
	dev, err := objs.device(b.Interface)
	if err != nil {
		return 0, wrap("client-count", "", wifi.ErrDriverUnavailable, err)
	}
	if !objs.boolProp(dev, iwdAccessPointIface, "Started") {
		return 0, nil
	}
	var stations []map[string]dbus.Variant
	if err := b.conn.Object(iwdDest, dev).CallWithContext(ctx, iwdAPDiagnosticIface+".GetDiagnostics", 0).Store(&stations); err != nil {
		return 0, wrap("client-count", "", wifi.ErrDriverUnavailable, err)
	}
	return len(stations), nil
}

// PurgeStaleProfiles removes access point profile files whose name matches
// one of patterns.
func (b *Backend) PurgeStaleProfiles(ctx context.Context, patterns ...string) (int, error) {
	entries, err := os.ReadDir(b.ProfileDir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, wrap("purge-profiles", "", wifi.ErrDriverUnavailable, err)
	}
	removed := 0
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".ap")
		if !ok || e.IsDir() {
			continue
		}
		for _, p := range patterns {
			if match, _ := path.Match(p, name); match {
				if err := os.Remove(filepath.Join(b.ProfileDir, e.Name())); err != nil {
					return removed, wrap("purge-profiles", "", wifi.ErrDriverUnavailable, err)
				}
				removed++
				break
			}
		}
	}
	return removed, nil
}

func (b *Backend) Close() error {
	return nil
}

func wrap(op, ssid string, kind, err error) error {
	var be *wifi.BackendError
	if errors.As(err, &be) {
		return err
	}
	var dbusErr dbus.Error
	if errors.As(err, &dbusErr) {
		switch {
		case strings.HasSuffix(dbusErr.Name, ".PermissionDenied"), strings.HasSuffix(dbusErr.Name, ".AccessDenied"), strings.HasSuffix(dbusErr.Name, ".NotAuthorized"):
			kind = wifi.ErrPermissionDenied
		case strings.HasSuffix(dbusErr.Name, ".NotSupported"):
			err = errors.Join(err, wifi.ErrNotSupported)
		}
	}
	return &wifi.BackendError{Op: op, SSID: ssid, Kind: kind, Err: err}
}

// isBusy reports whether iwd refused because a scan is already running.
func isBusy(err error) bool {
	var dbusErr dbus.Error
	if !errors.As(err, &dbusErr) {
		return false
	}
	return strings.HasSuffix(dbusErr.Name, ".InProgress") || strings.HasSuffix(dbusErr.Name, ".Busy")
}
