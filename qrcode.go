package main

import (
	"strings"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/shazow/wipi/internal/config"
)

// EscapeWifiString handles the special character escaping for SSID and Password.
func EscapeWifiString(s string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		`;`, `\;`,
		`,`, `\,`,
		`:`, `\:`,
		`"`, `\"`,
	)
	return r.Replace(s)
}

// wifiString is the payload phones understand for joining the access point.
func wifiString(cfg *config.Config) string {
	var b strings.Builder

	b.WriteString("WIFI:S:")
	b.WriteString(EscapeWifiString(cfg.APSSID))
	b.WriteString(";")

	if cfg.Open() {
		b.WriteString("T:nopass;")
	} else {
		b.WriteString("T:WPA;P:")
		b.WriteString(EscapeWifiString(cfg.APPassword))
		b.WriteString(";")
	}

	if cfg.APHidden {
		b.WriteString("H:true;")
	}

	b.WriteString(";")
	return b.String()
}

// GenerateWifiQRCode returns a terminal rendering of the QR code for joining the access point.
func GenerateWifiQRCode(cfg *config.Config) (string, error) {
	q, err := qrcode.New(wifiString(cfg), qrcode.Medium)
	if err != nil {
		return "", err
	}
	return q.ToSmallString(false), nil
}
