// Package debounce filters a noisy binary input into a stable debounced state.
//
// The filter is a counter (integrator) debouncer: the input must read asserted
// for Threshold consecutive calls to Update before it is reported active, and a
// single non-asserted sample drops it out again. Update is expected to be called
// at a roughly constant cadence, nominally every millisecond; the threshold is
// counted in calls, not wall-clock time.
//
// This package has NO external dependencies and never sleeps. Timing is owned
// by the caller.
package debounce

import "fmt"

// Threshold is the number of consecutive asserted samples required before the
// input is reported active.
const Threshold = 10

// InputPin is a raw boolean input source.
type InputPin interface {
	// IsHigh reports whether the signal is currently physically high.
	IsHigh() (bool, error)

	// IsLow reports whether the signal is currently physically low.
	IsLow() (bool, error)
}

// Debouncer is the capability exposed to consumers of a debounced input.
type Debouncer interface {
	InputPin

	// Update samples the raw input once and advances the state machine.
	Update() (State, error)

	// IsActive reports whether the debounced state is StateActive.
	IsActive() bool
}

// State represents the debounce state of an input.
type State string

const (
	// StateNotActive means the input reads as not asserted.
	StateNotActive State = "NOT_ACTIVE"
	// StateDebouncing means the input is asserted but not yet for Threshold samples.
	StateDebouncing State = "DEBOUNCING"
	// StateActive means the input has been asserted for at least Threshold samples.
	StateActive State = "ACTIVE"
	// StateReset is emitted once when the input drops out of StateActive.
	StateReset State = "RESET"
)

// Polarity selects which physical level counts as asserted.
type Polarity uint8

const (
	// ActiveHigh inputs are asserted when physically high.
	ActiveHigh Polarity = iota
	// ActiveLow inputs are asserted when physically low.
	ActiveLow
)

// String returns "high" or "low".
func (p Polarity) String() string {
	switch p {
	case ActiveHigh:
		return "high"
	case ActiveLow:
		return "low"
	default:
		return fmt.Sprintf("Polarity(%d)", uint8(p))
	}
}

// ParsePolarity parses "high"/"active-high" or "low"/"active-low".
func ParsePolarity(s string) (Polarity, error) {
	switch s {
	case "high", "active-high":
		return ActiveHigh, nil
	case "low", "active-low":
		return ActiveLow, nil
	default:
		return 0, fmt.Errorf("unknown polarity %q", s)
	}
}

// asserted reads the pin and reports whether it is at the asserted level.
func (p Polarity) asserted(pin InputPin) (bool, error) {
	if p == ActiveLow {
		return pin.IsLow()
	}
	return pin.IsHigh()
}
