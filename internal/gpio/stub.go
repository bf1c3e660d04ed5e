//go:build !linux

package gpio

import (
	"errors"
	"time"

	"github.com/sweeney/cadence-dimmer/internal/logic"
)

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// RealOutputs is not available on non-Linux platforms.
type RealOutputs struct{}

// NewRealOutputs returns an error on non-Linux platforms.
func NewRealOutputs(string, [logic.Channels]int) (*RealOutputs, error) {
	return nil, errUnsupported
}

// Set is not implemented on non-Linux platforms.
func (o *RealOutputs) Set(logic.Levels) error { return errUnsupported }

// Close is not implemented on non-Linux platforms.
func (o *RealOutputs) Close() error { return nil }

// RealInputs is not available on non-Linux platforms.
type RealInputs struct{}

// NewRealInputs returns an error on non-Linux platforms.
func NewRealInputs(string, [2]int, time.Duration, EdgeHandler) (*RealInputs, error) {
	return nil, errUnsupported
}

// Read is not implemented on non-Linux platforms.
func (r *RealInputs) Read() (bool, bool, error) { return false, false, errUnsupported }

// Close is not implemented on non-Linux platforms.
func (r *RealInputs) Close() error { return nil }

// PeriphOutputs is not available on non-Linux platforms.
type PeriphOutputs struct{}

// NewPeriphOutputs returns an error on non-Linux platforms.
func NewPeriphOutputs([logic.Channels]int) (*PeriphOutputs, error) {
	return nil, errUnsupported
}

// Set is not implemented on non-Linux platforms.
func (o *PeriphOutputs) Set(logic.Levels) error { return errUnsupported }

// Close is not implemented on non-Linux platforms.
func (o *PeriphOutputs) Close() error { return nil }

// PeriphInputs is not available on non-Linux platforms.
type PeriphInputs struct{}

// NewPeriphInputs returns an error on non-Linux platforms.
func NewPeriphInputs([2]int, EdgeHandler) (*PeriphInputs, error) {
	return nil, errUnsupported
}

// Read is not implemented on non-Linux platforms.
func (r *PeriphInputs) Read() (bool, bool, error) { return false, false, errUnsupported }

// Close is not implemented on non-Linux platforms.
func (r *PeriphInputs) Close() error { return nil }
