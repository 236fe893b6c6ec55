// Package gpio provides raw GPIO pins with hardware abstraction.
// Real implementations use the Linux GPIO character device (gpiocdev) or periph.io.
// The fake implementations allow testing without hardware.
package gpio

import (
	"errors"
	"fmt"

	"github.com/sweeney/debounced-pin/internal/debounce"
)

// Input is a raw input pin. Values are physical levels, not debounced.
type Input interface {
	debounce.InputPin

	// Close releases GPIO resources.
	Close() error
}

// Output drives a single output pin, e.g. an indicator LED.
type Output interface {
	// Set drives the pin high (true) or low (false).
	Set(high bool) error

	// Close releases GPIO resources.
	Close() error
}

// Default pin definitions (BCM numbering)
const (
	DefaultPinButton = 17
	DefaultPinLED    = 27
)

// Bias selects the internal pull resistor of an input line.
type Bias string

const (
	BiasPullUp   Bias = "pull-up"
	BiasPullDown Bias = "pull-down"
	BiasNone     Bias = "none"
)

// ParseBias validates a bias name.
func ParseBias(s string) (Bias, error) {
	switch b := Bias(s); b {
	case BiasPullUp, BiasPullDown, BiasNone:
		return b, nil
	default:
		return "", fmt.Errorf("unknown bias %q", s)
	}
}

// Backend selects the GPIO driver library.
type Backend string

const (
	BackendGPIOCDev Backend = "gpiocdev"
	BackendPeriph   Backend = "periph"
)

// ParseBackend validates a backend name.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(s); b {
	case BackendGPIOCDev, BackendPeriph:
		return b, nil
	default:
		return "", fmt.Errorf("unknown gpio backend %q", s)
	}
}

// OpenInput opens an input pin using the given backend.
func OpenInput(backend Backend, pin int, bias Bias) (Input, error) {
	switch backend {
	case BackendPeriph:
		p, err := NewPeriphPin(pin, bias)
		if err != nil {
			return nil, err
		}
		return p, nil
	case BackendGPIOCDev:
		p, err := NewRealPin(pin, bias)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown gpio backend %q", backend)
	}
}

// OpenOutput opens an output pin using the given backend, initially low.
func OpenOutput(backend Backend, pin int) (Output, error) {
	switch backend {
	case BackendPeriph:
		o, err := NewPeriphOutput(pin)
		if err != nil {
			return nil, err
		}
		return o, nil
	case BackendGPIOCDev:
		o, err := NewRealOutput(pin)
		if err != nil {
			return nil, err
		}
		return o, nil
	default:
		return nil, fmt.Errorf("unknown gpio backend %q", backend)
	}
}

// closeError combines the failures of a multi-step close. Each one stays
// reachable through errors.Is and errors.As.
func closeError(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("close: %w", errors.Join(errs...))
}
