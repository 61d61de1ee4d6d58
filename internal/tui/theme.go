package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/lucasb-eyer/go-colorful"
)

// Color is a terminal color that can be read from a theme file as either a
// single hex string or a [light, dark] pair.
type Color struct {
	lipgloss.TerminalColor
}

// UnmarshalTOML implements toml.Unmarshaler.
func (c *Color) UnmarshalTOML(v any) error {
	switch v := v.(type) {
	case string:
		c.TerminalColor = lipgloss.Color(v)
	case []any:
		if len(v) != 2 {
			return fmt.Errorf("color pair must have 2 entries, got %d", len(v))
		}
		light, ok1 := v[0].(string)
		dark, ok2 := v[1].(string)
		if !ok1 || !ok2 {
			return fmt.Errorf("color pair must be strings")
		}
		c.TerminalColor = lipgloss.AdaptiveColor{Light: light, Dark: dark}
	default:
		return fmt.Errorf("unsupported color value %v", v)
	}
	return nil
}

// hex resolves c against the terminal background.
func (c Color) hex() string {
	switch tc := c.TerminalColor.(type) {
	case lipgloss.Color:
		return string(tc)
	case lipgloss.AdaptiveColor:
		if lipgloss.HasDarkBackground() {
			return tc.Dark
		}
		return tc.Light
	}
	return ""
}

// Theme contains the colors for the application.
type Theme struct {
	Primary  Color
	Subtle   Color
	Success  Color
	Warning  Color
	Error    Color
	Normal   Color
	Disabled Color
	Border   Color

	SignalHigh Color
	SignalLow  Color
}

// CurrentTheme is the active theme for the application.
var CurrentTheme = NewDefaultTheme()

func adaptive(light, dark string) Color {
	return Color{lipgloss.AdaptiveColor{Light: light, Dark: dark}}
}

// NewDefaultTheme creates a new default theme.
func NewDefaultTheme() Theme {
	return Theme{
		Primary:  adaptive("#5A56E0", "#D359E3"), // Purple/Pink
		Subtle:   adaptive("#BDBDBD", "#616161"), // Gray
		Success:  adaptive("#388E3C", "#81C784"), // Green
		Warning:  adaptive("#F57C00", "#FFB74D"), // Orange
		Error:    adaptive("#D32F2F", "#E57373"), // Red
		Normal:   adaptive("#212121", "#FFFFFF"), // Black/White
		Disabled: adaptive("#E0E0E0", "#424242"), // Lighter/Darker Gray
		Border:   adaptive("#BDBDBD", "#616161"), // Gray

		SignalHigh: adaptive("#00B300", "#00FF00"),
		SignalLow:  adaptive("#D05F00", "#BC3C00"),
	}
}

// SignalColor blends between SignalLow and SignalHigh by strength (0-100).
func (t Theme) SignalColor(strength uint8) lipgloss.TerminalColor {
	start, err := colorful.Hex(t.SignalLow.hex())
	if err != nil {
		return t.Normal
	}
	end, err := colorful.Hex(t.SignalHigh.hex())
	if err != nil {
		return t.Normal
	}
	p := float64(min(strength, 100)) / 100.0
	return lipgloss.Color(start.BlendRgb(end, p).Hex())
}
