package tui

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadTheme(t *testing.T) {
	tomlData := `
		Primary = "#FF0000"
		Subtle = ["#00FF00", "#00EE00"]
		Warning = "#FFA000"
		SignalHigh = "#008000"
		SignalLow = "#FFA500"
	`

	loadedTheme, err := LoadTheme(strings.NewReader(tomlData))
	require.NoError(t, err)

	assert.Equal(t, Color{lipgloss.Color("#FF0000")}, loadedTheme.Primary)
	assert.Equal(t, Color{lipgloss.AdaptiveColor{Light: "#00FF00", Dark: "#00EE00"}}, loadedTheme.Subtle)
	assert.Equal(t, Color{lipgloss.Color("#FFA000")}, loadedTheme.Warning)

	// Colors missing from the file keep their defaults.
	assert.Equal(t, NewDefaultTheme().Error, loadedTheme.Error)
}

func TestLoadTheme_NilReader(t *testing.T) {
	_, err := LoadTheme(nil)
	assert.Error(t, err)
}

func TestLoadTheme_InvalidToml(t *testing.T) {
	_, err := LoadTheme(strings.NewReader(`Primary = `))
	assert.Error(t, err)

	_, err = LoadTheme(strings.NewReader(`Primary = ["#000000"]`))
	assert.Error(t, err)
}

func TestLoadThemeFile(t *testing.T) {
	original := CurrentTheme
	t.Cleanup(func() { CurrentTheme = original })

	require.NoError(t, LoadThemeFile(""))
	assert.Equal(t, original, CurrentTheme)

	path := filepath.Join(t.TempDir(), "theme.toml")
	require.NoError(t, os.WriteFile(path, []byte(`Primary = "#123456"`), 0o600))
	require.NoError(t, LoadThemeFile(path))
	assert.Equal(t, Color{lipgloss.Color("#123456")}, CurrentTheme.Primary)

	assert.Error(t, LoadThemeFile(filepath.Join(t.TempDir(), "missing.toml")))
}

func TestSignalColor(t *testing.T) {
	theme := NewDefaultTheme()
	theme.SignalLow = Color{lipgloss.Color("#000000")}
	theme.SignalHigh = Color{lipgloss.Color("#ffffff")}

	assert.Equal(t, lipgloss.Color("#000000"), theme.SignalColor(0))
	assert.Equal(t, lipgloss.Color("#ffffff"), theme.SignalColor(100))
	assert.Equal(t, lipgloss.Color("#ffffff"), theme.SignalColor(250))

	theme.SignalLow = Color{lipgloss.Color("not-a-color")}
	assert.Equal(t, theme.Normal, theme.SignalColor(50))
}
