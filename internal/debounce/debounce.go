package debounce

// DebouncedInputPin wraps a raw InputPin and reports only its debounced state.
//
// The filter must be the only reader of the wrapped pin, and Update must not be
// called concurrently. IsHigh, IsLow and IsActive answer from cached state and
// never touch the pin.
type DebouncedInputPin struct {
	pin      InputPin
	polarity Polarity
	counter  int8
	state    State
}

var _ Debouncer = (*DebouncedInputPin)(nil)

// New creates a debounced input around pin. It performs no I/O.
func New(pin InputPin, polarity Polarity) *DebouncedInputPin {
	return &DebouncedInputPin{
		pin:      pin,
		polarity: polarity,
		state:    StateNotActive,
	}
}

// Update samples the raw pin once and returns the new debounce state.
//
// A read error is returned as-is with an empty State and leaves the filter
// untouched, so the next call continues the same sequence.
func (d *DebouncedInputPin) Update() (State, error) {
	asserted, err := d.polarity.asserted(d.pin)
	if err != nil {
		return "", err
	}

	if !asserted {
		d.counter = 0
		if d.state == StateActive {
			d.state = StateReset
		} else {
			d.state = StateNotActive
		}
		return d.state, nil
	}

	if d.counter < Threshold {
		d.counter++
	}
	if d.counter >= Threshold {
		d.state = StateActive
	} else {
		d.state = StateDebouncing
	}
	return d.state, nil
}

// IsActive reports whether the debounced state is StateActive.
func (d *DebouncedInputPin) IsActive() bool {
	return d.state == StateActive
}

// IsHigh reports the debounced level. For ActiveHigh it is true only while
// active; for ActiveLow it is true whenever not active. The error is always nil.
func (d *DebouncedInputPin) IsHigh() (bool, error) {
	if d.polarity == ActiveLow {
		return !d.IsActive(), nil
	}
	return d.IsActive(), nil
}

// IsLow is the complement of IsHigh. The error is always nil.
func (d *DebouncedInputPin) IsLow() (bool, error) {
	high, _ := d.IsHigh()
	return !high, nil
}

// State returns the state produced by the most recent Update.
func (d *DebouncedInputPin) State() State {
	return d.state
}

// Polarity returns the polarity fixed at construction.
func (d *DebouncedInputPin) Polarity() Polarity {
	return d.polarity
}
