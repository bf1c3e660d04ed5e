//go:build linux

package gpio

import (
	"errors"
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"

	"github.com/sweeney/cadence-dimmer/internal/logic"
)

// RealOutputs drives the LED lines through the Linux GPIO character device.
type RealOutputs struct {
	chip    *gpiocdev.Chip
	lines   [logic.Channels]*gpiocdev.Line
	current logic.Levels
}

// NewRealOutputs requests each LED line as an output driven inactive.
// Lines already requested are released in reverse order if a later one fails.
func NewRealOutputs(chipName string, pins [logic.Channels]int) (*RealOutputs, error) {
	chip, err := gpiocdev.NewChip(chipName, gpiocdev.WithConsumer(Consumer))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", chipName, err)
	}

	o := &RealOutputs{chip: chip}
	for i, pin := range pins {
		line, err := chip.RequestLine(pin, gpiocdev.AsOutput(0))
		if err != nil {
			o.release(i)
			return nil, fmt.Errorf("request led%d pin %d: %w", i+1, pin, err)
		}
		o.lines[i] = line
	}
	return o, nil
}

// Set writes only the lines whose level changed since the last call.
func (o *RealOutputs) Set(levels logic.Levels) error {
	for i, line := range o.lines {
		if levels[i] == o.current[i] {
			continue
		}
		v := 0
		if levels[i] {
			v = 1
		}
		if err := line.SetValue(v); err != nil {
			return fmt.Errorf("set led%d: %w", i+1, err)
		}
		o.current[i] = levels[i]
	}
	return nil
}

// Close drives the LEDs inactive, returns the lines to inputs with pull-down
// (matching Pi boot defaults) and releases them.
func (o *RealOutputs) Close() error {
	var errs []error
	for i := len(o.lines) - 1; i >= 0; i-- {
		line := o.lines[i]
		if line == nil {
			continue
		}
		if err := line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("clear led%d: %w", i+1, err))
		}
		if err := line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure led%d: %w", i+1, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close led%d: %w", i+1, err))
		}
		o.lines[i] = nil
	}
	if o.chip != nil {
		if err := o.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		o.chip = nil
	}
	return errors.Join(errs...)
}

// release closes the first n lines in reverse order, then the chip.
func (o *RealOutputs) release(n int) {
	for i := n - 1; i >= 0; i-- {
		o.lines[i].Close()
		o.lines[i] = nil
	}
	o.chip.Close()
	o.chip = nil
}

// RealInputs delivers rising edges from the button lines.
type RealInputs struct {
	chip  *gpiocdev.Chip
	lines [2]*gpiocdev.Line
}

// NewRealInputs requests both button lines as pulled-down inputs with
// rising-edge detection. gpiocdev runs each line's handler on its own
// goroutine, so the two buttons may be handled in parallel.
func NewRealInputs(chipName string, pins [2]int, debounce time.Duration, onEdge EdgeHandler) (*RealInputs, error) {
	chip, err := gpiocdev.NewChip(chipName, gpiocdev.WithConsumer(Consumer))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", chipName, err)
	}

	r := &RealInputs{chip: chip}
	ids := [2]logic.Input{logic.InputA, logic.InputB}
	for i, pin := range pins {
		id := ids[i]
		opts := []gpiocdev.LineReqOption{
			gpiocdev.AsInput,
			gpiocdev.WithPullDown,
			gpiocdev.WithRisingEdge,
			gpiocdev.WithEventHandler(func(gpiocdev.LineEvent) {
				onEdge(id)
			}),
		}
		if debounce > 0 {
			opts = append(opts, gpiocdev.WithDebounce(debounce))
		}
		line, err := chip.RequestLine(pin, opts...)
		if err != nil {
			for j := i - 1; j >= 0; j-- {
				r.lines[j].Close()
			}
			chip.Close()
			return nil, fmt.Errorf("request button%d pin %d: %w", i+1, pin, err)
		}
		r.lines[i] = line
	}
	return r, nil
}

// Read returns the raw levels of both buttons.
func (r *RealInputs) Read() (bool, bool, error) {
	a, err := r.lines[0].Value()
	if err != nil {
		return false, false, fmt.Errorf("read button1: %w", err)
	}
	b, err := r.lines[1].Value()
	if err != nil {
		return false, false, fmt.Errorf("read button2: %w", err)
	}
	return a == 1, b == 1, nil
}

// Close stops edge detection and releases the lines.
func (r *RealInputs) Close() error {
	var errs []error
	for i := len(r.lines) - 1; i >= 0; i-- {
		if r.lines[i] == nil {
			continue
		}
		if err := r.lines[i].Close(); err != nil {
			errs = append(errs, fmt.Errorf("close button%d: %w", i+1, err))
		}
		r.lines[i] = nil
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		r.chip = nil
	}
	return errors.Join(errs...)
}
