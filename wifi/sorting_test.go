package wifi

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
)

func TestSortNetworks(t *testing.T) {
	tests := []struct {
		name      string
		networks  []Network
		preferred []string
		expected  []Network
	}{
		{
			name: "Sort by strength",
			networks: []Network{
				{SSID: "Weak", Strength: 10},
				{SSID: "Strong", Strength: 90},
			},
			expected: []Network{
				{SSID: "Strong", Strength: 90},
				{SSID: "Weak", Strength: 10},
			},
		},
		{
			name: "Preferred beats strength",
			networks: []Network{
				{SSID: "Strong", Strength: 90},
				{SSID: "home", Strength: 20},
			},
			preferred: []string{"home"},
			expected: []Network{
				{SSID: "home", Strength: 20},
				{SSID: "Strong", Strength: 90},
			},
		},
		{
			name: "Preferred keeps list order",
			networks: []Network{
				{SSID: "office", Strength: 80},
				{SSID: "phone", Strength: 30},
				{SSID: "home", Strength: 50},
			},
			preferred: []string{"home", "phone", "office"},
			expected: []Network{
				{SSID: "home", Strength: 50},
				{SSID: "phone", Strength: 30},
				{SSID: "office", Strength: 80},
			},
		},
		{
			name: "Fallback to SSID",
			networks: []Network{
				{SSID: "B", Strength: 50},
				{SSID: "A", Strength: 50},
			},
			expected: []Network{
				{SSID: "A", Strength: 50},
				{SSID: "B", Strength: 50},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SortNetworks(tt.networks, tt.preferred)
			if !reflect.DeepEqual(tt.networks, tt.expected) {
				t.Errorf("SortNetworks() = %v, want %v", tt.networks, tt.expected)
			}
		})
	}
}

func TestDedupe(t *testing.T) {
	got := Dedupe([]Network{
		{SSID: "home", Strength: 20},
		{SSID: ""},
		{SSID: "home", Strength: 70},
		{SSID: "cafe", Strength: 40},
	})
	want := []Network{{SSID: "home", Strength: 70}, {SSID: "cafe", Strength: 40}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Dedupe() = %v, want %v", got, want)
	}
}

func TestBackendError(t *testing.T) {
	cause := errors.New("secrets were required")
	err := fmt.Errorf("reconnecting: %w", &BackendError{Op: "activate-client", SSID: "home", Kind: ErrAssociationFailed, Err: cause})

	if !errors.Is(err, ErrAssociationFailed) {
		t.Errorf("expected errors.Is to match ErrAssociationFailed: %v", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("expected errors.Is to match the cause: %v", err)
	}
	if got := KindOf(err); got != "association_failed" {
		t.Errorf("KindOf() = %q, want association_failed", got)
	}
	var be *BackendError
	if !errors.As(err, &be) || be.SSID != "home" {
		t.Errorf("expected errors.As to find a BackendError for home, got %v", be)
	}
	want := `reconnecting: activate-client "home": association failed: secrets were required`
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestKindOf(t *testing.T) {
	tests := map[string]error{
		"none":              nil,
		"scan_timeout":      Errorf("scan", ErrScanTimeout, "no results after %s", ScanTimeout),
		"permission_denied": &BackendError{Op: "activate-ap", Kind: ErrPermissionDenied},
		"other":             errors.New("boom"),
	}
	for want, err := range tests {
		if got := KindOf(err); got != want {
			t.Errorf("KindOf(%v) = %q, want %q", err, got, want)
		}
	}
}
