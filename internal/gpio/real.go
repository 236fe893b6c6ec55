//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

const chipName = "gpiochip0"

// RealPin reads an input from actual hardware using the Linux GPIO character device.
type RealPin struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

// NewRealPin requests pin as an input with the given bias.
func NewRealPin(pin int, bias Bias) (*RealPin, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	line, err := chip.RequestLine(pin, gpiocdev.AsInput, biasOption(bias))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request input pin %d: %w", pin, err)
	}

	return &RealPin{chip: chip, line: line}, nil
}

func biasOption(bias Bias) gpiocdev.LineReqOption {
	switch bias {
	case BiasPullUp:
		return gpiocdev.WithPullUp
	case BiasNone:
		return gpiocdev.WithBiasDisabled
	default:
		return gpiocdev.WithPullDown
	}
}

// IsHigh reports whether the line is physically high.
func (p *RealPin) IsHigh() (bool, error) {
	v, err := p.line.Value()
	if err != nil {
		return false, fmt.Errorf("read pin: %w", err)
	}
	return v == 1, nil
}

// IsLow reports whether the line is physically low.
func (p *RealPin) IsLow() (bool, error) {
	high, err := p.IsHigh()
	if err != nil {
		return false, err
	}
	return !high, nil
}

// Close releases GPIO resources.
// Reconfigures the line to input with pull-down (matching Pi boot defaults)
// before closing.
func (p *RealPin) Close() error {
	return closeLine(p.chip, p.line)
}

// RealOutput drives an output line using the Linux GPIO character device.
type RealOutput struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

// NewRealOutput requests pin as an output, initially low.
func NewRealOutput(pin int) (*RealOutput, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	line, err := chip.RequestLine(pin, gpiocdev.AsOutput(0))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request output pin %d: %w", pin, err)
	}

	return &RealOutput{chip: chip, line: line}, nil
}

// Set drives the line high or low.
func (o *RealOutput) Set(high bool) error {
	v := 0
	if high {
		v = 1
	}
	if err := o.line.SetValue(v); err != nil {
		return fmt.Errorf("set pin: %w", err)
	}
	return nil
}

// Close releases GPIO resources, leaving the line as an input with pull-down.
func (o *RealOutput) Close() error {
	return closeLine(o.chip, o.line)
}

func closeLine(chip *gpiocdev.Chip, line *gpiocdev.Line) error {
	var errs []error

	// Reconfigure to match Raspberry Pi boot defaults (input with pull-down).
	// External hardware can otherwise hold the pin in an unexpected state
	// during early boot.
	if line != nil {
		if err := line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure pin: %w", err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin: %w", err))
		}
	}
	if chip != nil {
		if err := chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	return closeError(errs)
}
