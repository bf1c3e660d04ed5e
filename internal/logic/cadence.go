package logic

import "time"

// nsPerSecond converts an average interval in nanoseconds to presses per second.
const nsPerSecond = uint64(time.Second)

// Cadence tracks button alternation and the smoothed interval between
// alternating presses. It is not safe for concurrent use; callers
// serialize access (see internal/state).
type Cadence struct {
	lastInput    Input
	lastEvent    time.Duration
	currentEvent time.Duration

	samples     uint64
	accumulated uint64
	average     uint64

	total uint64
}

// CadenceSnapshot is a value copy of the cadence counters.
type CadenceSnapshot struct {
	LastInput   Input
	LastEvent   time.Duration
	Samples     uint64
	Accumulated uint64
	Average     uint64
	Total       uint64
}

// Press records an edge from input at the monotonic time now.
// It returns true when the edge alternated with the previous one and
// contributed an interval sample. Press does not allocate.
func (c *Cadence) Press(in Input, now time.Duration) bool {
	c.currentEvent = now
	sampled := false
	if c.lastInput != InputNone && c.lastInput == in.Other() {
		interval := c.currentEvent - c.lastEvent
		if interval < 0 {
			interval = 0
		}
		c.AddSample(uint64(interval))
		sampled = true
	}
	c.lastInput = in
	c.lastEvent = c.currentEvent
	c.total++
	return sampled
}

// AddSample folds one interval (in nanoseconds) into the running average.
// The accumulator is renormalized to average*samples after every sample and
// the window is compressed to CompressedWindow once it passes SampleCeiling.
func (c *Cadence) AddSample(s uint64) {
	c.accumulated += s
	c.samples++
	if c.samples > 0 {
		c.average = c.accumulated / c.samples
		c.accumulated = c.average * c.samples
	}
	if c.samples > SampleCeiling {
		c.accumulated = c.average * CompressedWindow
		c.samples = CompressedWindow
	}
}

// Average returns the smoothed interval in nanoseconds, 0 before any sample.
func (c *Cadence) Average() uint64 {
	return c.average
}

// Rate returns presses per second, 0 before any sample.
func (c *Cadence) Rate() uint64 {
	return RateFromInterval(c.average)
}

// Snapshot returns a copy of the counters.
func (c *Cadence) Snapshot() CadenceSnapshot {
	return CadenceSnapshot{
		LastInput:   c.lastInput,
		LastEvent:   c.lastEvent,
		Samples:     c.samples,
		Accumulated: c.accumulated,
		Average:     c.average,
		Total:       c.total,
	}
}

// Reset returns the cadence to its zero state.
func (c *Cadence) Reset() {
	*c = Cadence{}
}

// RateFromInterval converts a nanosecond interval to presses per second.
func RateFromInterval(avg uint64) uint64 {
	if avg == 0 {
		return 0
	}
	return nsPerSecond / avg
}

// Rate returns presses per second for the snapshot.
func (s CadenceSnapshot) Rate() uint64 {
	return RateFromInterval(s.Average)
}
