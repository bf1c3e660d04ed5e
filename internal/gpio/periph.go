//go:build linux

package gpio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/sweeney/cadence-dimmer/internal/logic"
)

// edgePoll bounds how long an edge watcher blocks before checking for Close.
const edgePoll = 100 * time.Millisecond

// periphPin looks up a BCM pin after making sure the host drivers are loaded.
// host.Init can safely be called multiple times.
func periphPin(n int) (gpio.PinIO, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	p := gpioreg.ByName(fmt.Sprintf("GPIO%d", n))
	if p == nil {
		return nil, fmt.Errorf("no such pin GPIO%d", n)
	}
	return p, nil
}

// PeriphOutputs drives the LED lines through periph.io.
type PeriphOutputs struct {
	pins [logic.Channels]gpio.PinIO
}

// NewPeriphOutputs sets each LED pin as an output driven low.
func NewPeriphOutputs(pins [logic.Channels]int) (*PeriphOutputs, error) {
	o := &PeriphOutputs{}
	for i, n := range pins {
		p, err := periphPin(n)
		if err == nil {
			err = p.Out(gpio.Low)
		}
		if err != nil {
			for j := i - 1; j >= 0; j-- {
				o.pins[j].Halt()
			}
			return nil, fmt.Errorf("request led%d pin %d: %w", i+1, n, err)
		}
		o.pins[i] = p
	}
	return o, nil
}

// Set drives every LED to its level.
func (o *PeriphOutputs) Set(levels logic.Levels) error {
	for i, p := range o.pins {
		if err := p.Out(gpio.Level(levels[i])); err != nil {
			return fmt.Errorf("set led%d: %w", i+1, err)
		}
	}
	return nil
}

// Close drives the LEDs low and halts the pins.
func (o *PeriphOutputs) Close() error {
	var errs []error
	for i := len(o.pins) - 1; i >= 0; i-- {
		p := o.pins[i]
		if p == nil {
			continue
		}
		if err := p.Out(gpio.Low); err != nil {
			errs = append(errs, fmt.Errorf("clear led%d: %w", i+1, err))
		}
		if err := p.Halt(); err != nil {
			errs = append(errs, fmt.Errorf("halt led%d: %w", i+1, err))
		}
		o.pins[i] = nil
	}
	return errors.Join(errs...)
}

// PeriphInputs watches the button pins for rising edges, one goroutine per pin.
type PeriphInputs struct {
	pins [2]gpio.PinIO
	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewPeriphInputs configures both buttons as pulled-down inputs with
// rising-edge detection and starts watching them.
func NewPeriphInputs(pins [2]int, onEdge EdgeHandler) (*PeriphInputs, error) {
	r := &PeriphInputs{done: make(chan struct{})}
	for i, n := range pins {
		p, err := periphPin(n)
		if err == nil {
			err = p.In(gpio.PullDown, gpio.RisingEdge)
		}
		if err != nil {
			for j := i - 1; j >= 0; j-- {
				r.pins[j].Halt()
			}
			return nil, fmt.Errorf("request button%d pin %d: %w", i+1, n, err)
		}
		r.pins[i] = p
	}

	ids := [2]logic.Input{logic.InputA, logic.InputB}
	for i, p := range r.pins {
		r.wg.Add(1)
		go r.watch(p, ids[i], onEdge)
	}
	return r, nil
}

func (r *PeriphInputs) watch(p gpio.PinIO, id logic.Input, onEdge EdgeHandler) {
	defer r.wg.Done()
	for {
		select {
		case <-r.done:
			return
		default:
		}
		if p.WaitForEdge(edgePoll) {
			onEdge(id)
		}
	}
}

// Read returns the current levels of both buttons.
func (r *PeriphInputs) Read() (bool, bool, error) {
	return r.pins[0].Read() == gpio.High, r.pins[1].Read() == gpio.High, nil
}

// Close stops the watchers and halts the pins. It is safe to call twice.
func (r *PeriphInputs) Close() error {
	var errs []error
	r.once.Do(func() {
		close(r.done)
		r.wg.Wait()
		for i := len(r.pins) - 1; i >= 0; i-- {
			if err := r.pins[i].Halt(); err != nil {
				errs = append(errs, fmt.Errorf("halt button%d: %w", i+1, err))
			}
		}
	})
	return errors.Join(errs...)
}
