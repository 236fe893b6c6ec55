package gpio

import "errors"

// FakePin is a test double that returns scripted pin levels.
type FakePin struct {
	// Levels contains scripted physical levels (true = high).
	// Each read consumes the next level.
	Levels []bool

	// index tracks current position in Levels
	index int

	// Reads counts calls to IsHigh and IsLow.
	Reads int

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by IsHigh and IsLow.
	ReadError error
}

// NewFakePin creates a FakePin with the given levels.
func NewFakePin(levels []bool) *FakePin {
	return &FakePin{Levels: levels}
}

// next returns the next scripted level.
// If levels are exhausted, returns the last level repeatedly.
func (f *FakePin) next() (bool, error) {
	f.Reads++
	if f.ReadError != nil {
		return false, f.ReadError
	}

	if len(f.Levels) == 0 {
		return false, errors.New("no levels configured")
	}

	level := f.Levels[f.index]
	if f.index < len(f.Levels)-1 {
		f.index++
	}
	return level, nil
}

// IsHigh consumes the next level and reports whether it is high.
func (f *FakePin) IsHigh() (bool, error) {
	return f.next()
}

// IsLow consumes the next level and reports whether it is low.
func (f *FakePin) IsLow() (bool, error) {
	high, err := f.next()
	if err != nil {
		return false, err
	}
	return !high, nil
}

// Close marks the pin as closed.
func (f *FakePin) Close() error {
	f.Closed = true
	return nil
}

// Reset rewinds the pin to the beginning of its levels.
func (f *FakePin) Reset() {
	f.index = 0
	f.Reads = 0
	f.Closed = false
}

// FakeOutput records levels written to an output pin.
type FakeOutput struct {
	// Levels contains every level passed to Set, in order.
	Levels []bool

	// SetError, if set, will be returned by Set.
	SetError error

	// Closed tracks if Close was called
	Closed bool
}

// NewFakeOutput creates a FakeOutput.
func NewFakeOutput() *FakeOutput {
	return &FakeOutput{}
}

// Set records the level.
func (f *FakeOutput) Set(high bool) error {
	if f.SetError != nil {
		return f.SetError
	}
	f.Levels = append(f.Levels, high)
	return nil
}

// Level returns the last level set, or false if none.
func (f *FakeOutput) Level() bool {
	if len(f.Levels) == 0 {
		return false
	}
	return f.Levels[len(f.Levels)-1]
}

// Close marks the output as closed.
func (f *FakeOutput) Close() error {
	f.Closed = true
	return nil
}
