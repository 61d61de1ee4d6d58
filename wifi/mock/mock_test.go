package mock

import (
	"context"
	"errors"
	"testing"

	"github.com/shazow/wipi/wifi"
)

var _ wifi.Backend = (*Backend)(nil)

func TestScanKnownOnlyReturnsKnown(t *testing.T) {
	m := NewDemo()
	m.ActionSleep = 0

	nets, err := m.ScanKnown(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(nets) != 2 {
		t.Fatalf("expected 2 known networks in range, got %v", nets)
	}
	for _, n := range nets {
		if n.SSID == "Police Surveillance 2" {
			t.Errorf("unknown network returned: %v", n)
		}
	}
}

func TestActivateClient(t *testing.T) {
	ctx := context.Background()
	m := New()
	m.Known = []string{"home"}
	m.Visible = []wifi.Network{{SSID: "home", Strength: 70}}

	if err := m.ActivateClient(ctx, "home"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	link, _ := m.CurrentLink(ctx)
	if link.SSID != "home" || !link.Known || link.Signal != 70 {
		t.Errorf("unexpected link after activation: %+v", link)
	}

	err := m.ActivateClient(ctx, "stranger")
	if !errors.Is(err, wifi.ErrAssociationFailed) {
		t.Errorf("expected association failure for unknown network, got %v", err)
	}
}

func TestQueuedErrors(t *testing.T) {
	ctx := context.Background()
	m := New()
	m.Known = []string{"home"}
	boom := &wifi.BackendError{Op: OpActivateClient, Kind: wifi.ErrAssociationFailed}
	m.ActivateClientErrors = []error{boom, boom}

	for i := 0; i < 2; i++ {
		if err := m.ActivateClient(ctx, "home"); !errors.Is(err, boom) {
			t.Fatalf("call %d: expected queued error, got %v", i, err)
		}
	}
	if err := m.ActivateClient(ctx, "home"); err != nil {
		t.Fatalf("expected success once the queue drained, got %v", err)
	}
	if got := m.CallCount(OpActivateClient); got != 3 {
		t.Errorf("expected 3 recorded calls, got %d", got)
	}
}

func TestAccessPointLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewDemo()
	m.ActionSleep = 0

	n, err := m.PurgeStaleProfiles(ctx, "Hotspot*", "wipi-ap*")
	if err != nil || n != 2 {
		t.Fatalf("expected 2 purged profiles, got %d, %v", n, err)
	}

	if err := m.ActivateAP(ctx, wifi.APConfig{SSID: "WiPi-AP", Password: "raspberry"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if active, _ := m.IsAPActive(ctx); !active {
		t.Errorf("expected AP to be active")
	}
	m.Update(func(m *Backend) { m.ClientCount = 2 })
	if n, _ := m.ConnectedClientCount(ctx); n != 2 {
		t.Errorf("expected 2 clients, got %d", n)
	}

	if err := m.DeactivateAP(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n, _ := m.ConnectedClientCount(ctx); n != 0 {
		t.Errorf("expected no clients after teardown, got %d", n)
	}
}
