package danmaku

import (
	"context"
	"errors"
	"fmt"
)

// ErrInvalidSettings is returned when a settings value is out of range.
var ErrInvalidSettings = errors.New("invalid settings")

// StackingMethod decides how new elements pick a lane.
type StackingMethod string

const (
	// NonOverlapping only spawns into lanes whose previous element has
	// cleared the spawn point.
	NonOverlapping StackingMethod = "non-overlapping"
	// Random picks any lane in the margin band and allows overlap.
	Random StackingMethod = "random"
)

// BaseFontPx is the font size for a FontSizeUnit of 1.
const BaseFontPx = 24.0

// Settings is the full playback settings blob. It is a value: the settings
// surface owns it and hands copies to the player through ApplySettings.
type Settings struct {
	Speed           float64        `json:"speed"`
	Opacity         int            `json:"opacity"`
	FontSizeUnit    float64        `json:"fontSizeUnit"`
	FontFamily      string         `json:"fontFamily"`
	Density         int            `json:"density"`
	TopMarginPct    float64        `json:"topMarginPct"`
	BottomMarginPct float64        `json:"bottomMarginPct"`
	StackingMethod  StackingMethod `json:"stackingMethod"`
	Enabled         bool           `json:"enabled"`
	Volume          int            `json:"volume"`
	Muted           bool           `json:"muted"`
	PlaybackRate    float64        `json:"playbackRate"`
}

// DefaultSettings returns the settings used when a viewer has none stored.
func DefaultSettings() Settings {
	return Settings{
		Speed:           160,
		Opacity:         100,
		FontSizeUnit:    1,
		FontFamily:      "sans-serif",
		Density:         100,
		TopMarginPct:    0,
		BottomMarginPct: 20,
		StackingMethod:  NonOverlapping,
		Enabled:         true,
		Volume:          100,
		PlaybackRate:    1,
	}
}

// FontPx returns the rendered font size in px.
func (s Settings) FontPx() float64 {
	return BaseFontPx * s.FontSizeUnit
}

// Validate checks every field range.
func (s Settings) Validate() error {
	switch {
	case s.Speed <= 0 || s.Speed > 2000:
		return fmt.Errorf("%w: speed must be in (0, 2000] px/s", ErrInvalidSettings)
	case s.Opacity < 0 || s.Opacity > 100:
		return fmt.Errorf("%w: opacity must be in [0, 100]", ErrInvalidSettings)
	case s.FontSizeUnit <= 0 || s.FontSizeUnit > 10:
		return fmt.Errorf("%w: font size unit must be in (0, 10]", ErrInvalidSettings)
	case len(s.FontFamily) > 100:
		return fmt.Errorf("%w: font family is too long", ErrInvalidSettings)
	case s.Density < 0 || s.Density > 100:
		return fmt.Errorf("%w: density must be in [0, 100]", ErrInvalidSettings)
	case s.TopMarginPct < 0 || s.BottomMarginPct < 0 || s.TopMarginPct+s.BottomMarginPct >= 100:
		return fmt.Errorf("%w: margins must be non-negative and leave room for lanes", ErrInvalidSettings)
	case s.StackingMethod != NonOverlapping && s.StackingMethod != Random:
		return fmt.Errorf("%w: unknown stacking method %q", ErrInvalidSettings, s.StackingMethod)
	case s.Volume < 0 || s.Volume > 100:
		return fmt.Errorf("%w: volume must be in [0, 100]", ErrInvalidSettings)
	case s.PlaybackRate < 0.25 || s.PlaybackRate > 4:
		return fmt.Errorf("%w: playback rate must be in [0.25, 4]", ErrInvalidSettings)
	}
	return nil
}

// SettingsPersister stores the settings blob.
type SettingsPersister interface {
	SaveSettings(ctx context.Context, s Settings) error
}
