// Package logic contains the pure timing and duty-cycle algorithms of the dimmer.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Duration parameters read from a monotonic clock.
package logic

import "time"

// Input identifies which of the two buttons produced an edge.
type Input uint8

const (
	InputNone Input = iota
	InputA
	InputB
)

func (i Input) String() string {
	switch i {
	case InputA:
		return "A"
	case InputB:
		return "B"
	default:
		return "none"
	}
}

// Other returns the opposite button. InputNone has no opposite.
func (i Input) Other() Input {
	switch i {
	case InputA:
		return InputB
	case InputB:
		return InputA
	default:
		return InputNone
	}
}

// Phase is the current half of the shared software PWM signal.
type Phase uint8

const (
	PhaseHigh Phase = iota
	PhaseLow
)

func (p Phase) String() string {
	if p == PhaseHigh {
		return "HIGH"
	}
	return "LOW"
}

// Flip returns the opposite phase.
func (p Phase) Flip() Phase {
	if p == PhaseHigh {
		return PhaseLow
	}
	return PhaseHigh
}

// Channels is the number of dimmable outputs.
const Channels = 3

// Duty cycle bounds, inclusive.
const (
	MinDuty = 0
	MaxDuty = 100
)

// DefaultPeriod is the length of one HIGH+LOW cycle.
const DefaultPeriod = 10 * time.Millisecond

// HighFloor is the HIGH duration used when every channel is at 0%, so the
// scheduler always has a positive interval to rearm with.
const HighFloor = time.Nanosecond

// Averaging window limits.
const (
	SampleCeiling    = 100
	CompressedWindow = 20
)

// Duties holds one percentage per output channel.
type Duties [Channels]int

// Max returns the largest duty cycle.
func (d Duties) Max() int {
	m := d[0]
	for _, v := range d[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

// Levels holds the driven level (true = active) of each output channel.
type Levels [Channels]bool

// Phases are the compiled HIGH and LOW durations of one period.
type Phases struct {
	High time.Duration
	Low  time.Duration
}

// Duration returns the length of the given phase.
func (p Phases) Duration(ph Phase) time.Duration {
	if ph == PhaseHigh {
		return p.High
	}
	return p.Low
}

// Period returns High+Low.
func (p Phases) Period() time.Duration {
	return p.High + p.Low
}
