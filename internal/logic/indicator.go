package logic

import (
	"fmt"

	"github.com/sweeney/debounced-pin/internal/debounce"
)

// IndicatorMode selects how the indicator output reacts to the button.
type IndicatorMode string

const (
	// IndicatorFollow mirrors the debounced state: on while active.
	IndicatorFollow IndicatorMode = "follow"
	// IndicatorToggle flips the output once per press.
	IndicatorToggle IndicatorMode = "toggle"
	// IndicatorOff never drives the output.
	IndicatorOff IndicatorMode = "off"
)

// ParseIndicatorMode validates an indicator mode name.
func ParseIndicatorMode(s string) (IndicatorMode, error) {
	switch m := IndicatorMode(s); m {
	case IndicatorFollow, IndicatorToggle, IndicatorOff:
		return m, nil
	default:
		return "", fmt.Errorf("unknown led mode %q", s)
	}
}

// Indicator computes the desired output level from debounce states.
type Indicator struct {
	mode      IndicatorMode
	level     bool
	wasActive bool
	driven    bool
}

// NewIndicator creates an indicator, initially off.
func NewIndicator(mode IndicatorMode) *Indicator {
	return &Indicator{mode: mode}
}

// Next returns the output level for state and whether it differs from the
// level last returned. The first call in follow or toggle mode always reports
// a change so the output is driven to a known level.
func (i *Indicator) Next(state debounce.State) (level bool, changed bool) {
	active := state == debounce.StateActive
	rising := active && !i.wasActive
	i.wasActive = active

	prev := i.level
	switch i.mode {
	case IndicatorFollow:
		i.level = active
	case IndicatorToggle:
		if rising {
			i.level = !i.level
		}
	default:
		return i.level, false
	}

	changed = !i.driven || i.level != prev
	i.driven = true
	return i.level, changed
}

// Level returns the level last returned by Next.
func (i *Indicator) Level() bool {
	return i.level
}

// Mode returns the indicator mode.
func (i *Indicator) Mode() IndicatorMode {
	return i.mode
}
