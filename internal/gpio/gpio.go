// Package gpio provides the button edge sources and LED output lines.
// The gpiocdev implementation uses the Linux GPIO character device, the
// periph implementation uses periph.io drivers, and the fake implementation
// allows testing without hardware.
package gpio

import (
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/cadence-dimmer/internal/logic"
)

// EdgeHandler is called for every rising edge on a button line. It runs on
// the backend's event goroutine and must return quickly.
type EdgeHandler func(in logic.Input)

// Inputs are the two button lines.
type Inputs interface {
	// Read returns the current raw levels of button A and button B.
	Read() (bool, bool, error)

	// Close stops edge delivery and releases the lines.
	Close() error
}

// Outputs are the three LED lines.
type Outputs interface {
	// Set drives every LED to the given level (true = active).
	Set(levels logic.Levels) error

	// Close drives every LED inactive and releases the lines.
	Close() error
}

// Pin definitions (BCM numbering)
const (
	PinLED1    = 17
	PinLED2    = 27
	PinLED3    = 22
	PinButtonA = 23
	PinButtonB = 24
)

// Backend names.
const (
	BackendGPIOCDev = "gpiocdev"
	BackendPeriph   = "periph"
	BackendFake     = "fake"
)

// DefaultChip is the GPIO character device used by the gpiocdev backend.
const DefaultChip = "gpiochip0"

// Consumer is the label shown for our lines in gpioinfo.
const Consumer = "cadence-dimmer"

// Pins holds the line offsets of the LEDs and buttons.
type Pins struct {
	LEDs    [logic.Channels]int
	Buttons [2]int
}

// DefaultPins returns the standard wiring.
func DefaultPins() Pins {
	return Pins{
		LEDs:    [logic.Channels]int{PinLED1, PinLED2, PinLED3},
		Buttons: [2]int{PinButtonA, PinButtonB},
	}
}

// Validate rejects duplicated or negative offsets.
func (p Pins) Validate() error {
	seen := make(map[int]string)
	check := func(name string, pin int) error {
		if pin < 0 {
			return fmt.Errorf("%s: invalid pin %d", name, pin)
		}
		if other, ok := seen[pin]; ok {
			return fmt.Errorf("%s: pin %d already used by %s", name, pin, other)
		}
		seen[pin] = name
		return nil
	}
	for i, pin := range p.LEDs {
		if err := check(fmt.Sprintf("led%d", i+1), pin); err != nil {
			return err
		}
	}
	for i, pin := range p.Buttons {
		if err := check(fmt.Sprintf("button%d", i+1), pin); err != nil {
			return err
		}
	}
	return nil
}

// Config selects and configures a backend.
type Config struct {
	Backend  string
	Chip     string
	Pins     Pins
	Debounce time.Duration
}

// Hardware groups the acquired inputs and outputs.
type Hardware struct {
	Inputs  Inputs
	Outputs Outputs
}

// Close releases inputs before outputs, the reverse of acquisition order.
func (h *Hardware) Close() error {
	var errs []error
	if h.Inputs != nil {
		if err := h.Inputs.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close inputs: %w", err))
		}
	}
	if h.Outputs != nil {
		if err := h.Outputs.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close outputs: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Open acquires the outputs, then the inputs with onEdge attached. If any
// step fails, everything already acquired is released in reverse order and a
// single error is returned.
func Open(cfg Config, onEdge EdgeHandler) (*Hardware, error) {
	if err := cfg.Pins.Validate(); err != nil {
		return nil, fmt.Errorf("pins: %w", err)
	}
	chip := cfg.Chip
	if chip == "" {
		chip = DefaultChip
	}

	switch cfg.Backend {
	case BackendGPIOCDev, "":
		return acquire(
			func() (Outputs, error) { return NewRealOutputs(chip, cfg.Pins.LEDs) },
			func() (Inputs, error) { return NewRealInputs(chip, cfg.Pins.Buttons, cfg.Debounce, onEdge) },
		)
	case BackendPeriph:
		return acquire(
			func() (Outputs, error) { return NewPeriphOutputs(cfg.Pins.LEDs) },
			func() (Inputs, error) { return NewPeriphInputs(cfg.Pins.Buttons, onEdge) },
		)
	case BackendFake:
		return acquire(
			func() (Outputs, error) { return NewFakeOutputs(), nil },
			func() (Inputs, error) { return NewFakeInputs(onEdge), nil },
		)
	default:
		return nil, fmt.Errorf("unknown gpio backend %q", cfg.Backend)
	}
}

// acquire opens outputs then inputs. When the inputs fail the outputs are
// closed again and any close error is joined onto the open error.
func acquire(openOut func() (Outputs, error), openIn func() (Inputs, error)) (*Hardware, error) {
	out, err := openOut()
	if err != nil {
		return nil, err
	}
	in, err := openIn()
	if err != nil {
		if cerr := out.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("release outputs: %w", cerr))
		}
		return nil, err
	}
	return &Hardware{Inputs: in, Outputs: out}, nil
}
