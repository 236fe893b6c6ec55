//go:build !linux

package gpio

import "errors"

var errUnsupported = errors.New("gpio: gpiocdev not supported on this platform (requires Linux)")

// RealPin is not available on non-Linux platforms.
type RealPin struct{}

// NewRealPin returns an error on non-Linux platforms.
func NewRealPin(pin int, bias Bias) (*RealPin, error) {
	return nil, errUnsupported
}

// IsHigh is not implemented on non-Linux platforms.
func (p *RealPin) IsHigh() (bool, error) { return false, errUnsupported }

// IsLow is not implemented on non-Linux platforms.
func (p *RealPin) IsLow() (bool, error) { return false, errUnsupported }

// Close is not implemented on non-Linux platforms.
func (p *RealPin) Close() error { return nil }

// RealOutput is not available on non-Linux platforms.
type RealOutput struct{}

// NewRealOutput returns an error on non-Linux platforms.
func NewRealOutput(pin int) (*RealOutput, error) {
	return nil, errUnsupported
}

// Set is not implemented on non-Linux platforms.
func (o *RealOutput) Set(high bool) error { return errUnsupported }

// Close is not implemented on non-Linux platforms.
func (o *RealOutput) Close() error { return nil }
