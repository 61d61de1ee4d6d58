package tui

import (
	"errors"
	"io"
	"os"

	"github.com/BurntSushi/toml"
)

// themeFile represents the structure of the theme TOML file.
// Pointers distinguish a missing value from an empty one, so a file can
// override only the colors it names.
type themeFile struct {
	Primary    *Color `toml:"Primary,omitempty"`
	Subtle     *Color `toml:"Subtle,omitempty"`
	Success    *Color `toml:"Success,omitempty"`
	Warning    *Color `toml:"Warning,omitempty"`
	Error      *Color `toml:"Error,omitempty"`
	Normal     *Color `toml:"Normal,omitempty"`
	Disabled   *Color `toml:"Disabled,omitempty"`
	Border     *Color `toml:"Border,omitempty"`
	SignalHigh *Color `toml:"SignalHigh,omitempty"`
	SignalLow  *Color `toml:"SignalLow,omitempty"`
}

// LoadTheme reads a theme from r on top of the default theme.
func LoadTheme(r io.Reader) (Theme, error) {
	if r == nil {
		return Theme{}, errors.New("no theme reader")
	}

	var tf themeFile
	if _, err := toml.NewDecoder(r).Decode(&tf); err != nil {
		return Theme{}, err
	}

	theme := NewDefaultTheme()
	for _, o := range []struct {
		src *Color
		dst *Color
	}{
		{tf.Primary, &theme.Primary},
		{tf.Subtle, &theme.Subtle},
		{tf.Success, &theme.Success},
		{tf.Warning, &theme.Warning},
		{tf.Error, &theme.Error},
		{tf.Normal, &theme.Normal},
		{tf.Disabled, &theme.Disabled},
		{tf.Border, &theme.Border},
		{tf.SignalHigh, &theme.SignalHigh},
		{tf.SignalLow, &theme.SignalLow},
	} {
		if o.src != nil {
			*o.dst = *o.src
		}
	}
	return theme, nil
}

// LoadThemeFile replaces CurrentTheme with the theme at path. An empty path
// keeps the default.
func LoadThemeFile(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	theme, err := LoadTheme(f)
	if err != nil {
		return err
	}
	CurrentTheme = theme
	return nil
}
