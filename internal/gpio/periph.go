package gpio

import (
	"fmt"
	"sync"

	pgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

var (
	hostOnce sync.Once
	hostErr  error
)

// initHost loads the periph.io host drivers once per process.
func initHost() error {
	hostOnce.Do(func() {
		if _, err := host.Init(); err != nil {
			hostErr = fmt.Errorf("periph host init: %w", err)
		}
	})
	return hostErr
}

// lookupPin resolves a BCM pin number to a periph.io pin.
func lookupPin(pin int) (pgpio.PinIO, error) {
	if err := initHost(); err != nil {
		return nil, err
	}
	name := fmt.Sprintf("GPIO%d", pin)
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("pin %d (%s) not found in hardware", pin, name)
	}
	return p, nil
}

func periphPull(bias Bias) pgpio.Pull {
	switch bias {
	case BiasPullUp:
		return pgpio.PullUp
	case BiasNone:
		return pgpio.Float
	default:
		return pgpio.PullDown
	}
}

// PeriphPin reads an input through periph.io.
type PeriphPin struct {
	pin pgpio.PinIO
}

// NewPeriphPin configures pin as an input with the given bias.
func NewPeriphPin(pin int, bias Bias) (*PeriphPin, error) {
	p, err := lookupPin(pin)
	if err != nil {
		return nil, err
	}
	if err := p.In(periphPull(bias), pgpio.NoEdge); err != nil {
		return nil, fmt.Errorf("set pin %d to input: %w", pin, err)
	}
	return &PeriphPin{pin: p}, nil
}

// IsHigh reports whether the pin is physically high.
// periph.io reads cannot fail once the pin is configured.
func (p *PeriphPin) IsHigh() (bool, error) {
	return p.pin.Read() == pgpio.High, nil
}

// IsLow reports whether the pin is physically low.
func (p *PeriphPin) IsLow() (bool, error) {
	return p.pin.Read() == pgpio.Low, nil
}

// Close halts any pending operation on the pin.
func (p *PeriphPin) Close() error {
	if err := p.pin.Halt(); err != nil {
		return fmt.Errorf("halt pin: %w", err)
	}
	return nil
}

// PeriphOutput drives an output through periph.io.
type PeriphOutput struct {
	pin pgpio.PinIO
}

// NewPeriphOutput configures pin as an output, initially low.
func NewPeriphOutput(pin int) (*PeriphOutput, error) {
	p, err := lookupPin(pin)
	if err != nil {
		return nil, err
	}
	if err := p.Out(pgpio.Low); err != nil {
		return nil, fmt.Errorf("set pin %d to output: %w", pin, err)
	}
	return &PeriphOutput{pin: p}, nil
}

// Set drives the pin high or low.
func (o *PeriphOutput) Set(high bool) error {
	level := pgpio.Low
	if high {
		level = pgpio.High
	}
	if err := o.pin.Out(level); err != nil {
		return fmt.Errorf("set pin: %w", err)
	}
	return nil
}

// Close drives the pin low and returns it to an input with pull-down.
func (o *PeriphOutput) Close() error {
	var errs []error
	if err := o.pin.Out(pgpio.Low); err != nil {
		errs = append(errs, fmt.Errorf("drive pin low: %w", err))
	}
	if err := o.pin.In(pgpio.PullDown, pgpio.NoEdge); err != nil {
		errs = append(errs, fmt.Errorf("reconfigure pin: %w", err))
	}
	return closeError(errs)
}
