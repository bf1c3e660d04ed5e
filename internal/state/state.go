// Package state holds the dimmer's shared mutable state: button cadence,
// per-channel duty cycles, the compiled phase durations and the current
// phase of the software PWM signal. It is shared by reference between the
// edge callbacks, the PWM scheduler and the read/write surfaces.
package state

import (
	"fmt"
	"sync"
	"time"

	"github.com/sweeney/cadence-dimmer/internal/events"
	"github.com/sweeney/cadence-dimmer/internal/logic"
)

// Clock returns a monotonic timestamp.
type Clock func() time.Duration

// MonotonicClock returns a Clock measuring from the moment it was created.
// time.Since uses the runtime's monotonic reading, so wall clock steps do not
// produce negative intervals.
func MonotonicClock() Clock {
	epoch := time.Now()
	return func() time.Duration {
		return time.Since(epoch)
	}
}

// Step is the outcome of one scheduler firing.
type Step struct {
	Phase  logic.Phase
	Levels logic.Levels
	// Next is how long the new phase lasts before the following firing.
	Next time.Duration
	// Elided is true when a zero-length phase was skipped.
	Elided bool
}

// Signal is a consistent snapshot of the PWM side of the state.
type Signal struct {
	Duties logic.Duties
	Phases logic.Phases
	Phase  logic.Phase
	Levels logic.Levels
}

// Shared is the process-wide dimmer state. timingMu guards the cadence;
// dutyMu guards duties, phases, phase and levels, so a duty write and its
// phase recompile are observed together.
type Shared struct {
	period time.Duration
	clock  Clock
	now    func() time.Time
	bus    events.Publisher

	timingMu sync.Mutex
	cadence  logic.Cadence

	dutyMu sync.RWMutex
	duties logic.Duties
	phases logic.Phases
	phase  logic.Phase
	levels logic.Levels
}

// Option configures a Shared.
type Option func(*Shared)

// WithClock sets the monotonic clock read by the edge callbacks.
func WithClock(c Clock) Option {
	return func(s *Shared) { s.clock = c }
}

// WithPeriod sets the PWM period. Non-positive values are ignored.
func WithPeriod(p time.Duration) Option {
	return func(s *Shared) {
		if p > 0 {
			s.period = p
		}
	}
}

// WithPublisher sets where duty change events are published.
func WithPublisher(p events.Publisher) Option {
	return func(s *Shared) { s.bus = p }
}

// WithWallClock sets the clock used for event timestamps.
func WithWallClock(now func() time.Time) Option {
	return func(s *Shared) { s.now = now }
}

// New creates the shared state with every channel at 0%.
func New(opts ...Option) *Shared {
	s := &Shared{
		period: logic.DefaultPeriod,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.clock == nil {
		s.clock = MonotonicClock()
	}
	s.phases = logic.CompilePhases(s.duties, s.period)
	return s
}

// Period returns the PWM period.
func (s *Shared) Period() time.Duration {
	return s.period
}

// Press is the edge callback for input. The clock is read under timingMu,
// so concurrent edges are folded in timestamp order. It neither blocks on
// I/O nor allocates.
func (s *Shared) Press(in logic.Input) {
	s.timingMu.Lock()
	s.cadence.Press(in, s.clock())
	s.timingMu.Unlock()
}

// PressAt records an edge with an explicit timestamp. Returns true when the
// edge produced an interval sample.
func (s *Shared) PressAt(in logic.Input, now time.Duration) bool {
	s.timingMu.Lock()
	sampled := s.cadence.Press(in, now)
	s.timingMu.Unlock()
	return sampled
}

// Cadence returns a snapshot of the alternation and averaging counters.
func (s *Shared) Cadence() logic.CadenceSnapshot {
	s.timingMu.Lock()
	defer s.timingMu.Unlock()
	return s.cadence.Snapshot()
}

// Speed returns presses per second derived from the average interval.
func (s *Shared) Speed() uint64 {
	s.timingMu.Lock()
	defer s.timingMu.Unlock()
	return s.cadence.Rate()
}

// Duties returns the current duty cycles.
func (s *Shared) Duties() logic.Duties {
	s.dutyMu.RLock()
	defer s.dutyMu.RUnlock()
	return s.duties
}

// Phases returns the compiled phase durations.
func (s *Shared) Phases() logic.Phases {
	s.dutyMu.RLock()
	defer s.dutyMu.RUnlock()
	return s.phases
}

// Signal returns duties, phases, phase and levels from a single critical section.
func (s *Shared) Signal() Signal {
	s.dutyMu.RLock()
	defer s.dutyMu.RUnlock()
	return Signal{
		Duties: s.duties,
		Phases: s.phases,
		Phase:  s.phase,
		Levels: s.levels,
	}
}

// SetDuties validates and applies all three duty cycles and recompiles the
// phase durations atomically. On error nothing changes.
func (s *Shared) SetDuties(d logic.Duties, source string) error {
	if err := d.Validate(); err != nil {
		return err
	}

	s.dutyMu.Lock()
	s.duties = d
	s.phases = logic.CompilePhases(d, s.period)
	phases := s.phases
	s.dutyMu.Unlock()

	s.publish(d, phases, source)
	return nil
}

// SetDuty validates and applies one channel's duty cycle (channel is 0-based).
func (s *Shared) SetDuty(channel, duty int, source string) error {
	if channel < 0 || channel >= logic.Channels {
		return fmt.Errorf("no channel %d", channel+1)
	}
	if err := logic.ValidateDuty(duty); err != nil {
		return fmt.Errorf("led%d: %w", channel+1, err)
	}

	s.dutyMu.Lock()
	s.duties[channel] = duty
	s.phases = logic.CompilePhases(s.duties, s.period)
	d, phases := s.duties, s.phases
	s.dutyMu.Unlock()

	s.publish(d, phases, source)
	return nil
}

// WriteDuties parses "d1 d2 d3" and applies it via SetDuties.
func (s *Shared) WriteDuties(input, source string) error {
	d, err := logic.ParseDuties(input)
	if err != nil {
		return err
	}
	return s.SetDuties(d, source)
}

// Begin puts the signal into the HIGH phase and applies its levels. The
// scheduler calls it once when it starts.
func (s *Shared) Begin() Step {
	s.dutyMu.Lock()
	defer s.dutyMu.Unlock()
	s.phase = logic.PhaseHigh
	s.levels = logic.NextLevels(s.phase, s.duties, s.levels)
	return Step{Phase: s.phase, Levels: s.levels, Next: s.phases.High}
}

// Advance flips the phase, applies the output rule for the new phase and
// returns how long it lasts. A phase of zero length is skipped without
// applying its levels, so at 100% the LOW phase never turns anything off.
func (s *Shared) Advance() Step {
	s.dutyMu.Lock()
	defer s.dutyMu.Unlock()

	next := s.phase.Flip()
	elided := false
	if s.phases.Duration(next) == 0 {
		next = next.Flip()
		elided = true
	}
	s.phase = next
	s.levels = logic.NextLevels(next, s.duties, s.levels)
	return Step{
		Phase:  next,
		Levels: s.levels,
		Next:   s.phases.Duration(next),
		Elided: elided,
	}
}

// Reset returns every value to zero, as at process start.
func (s *Shared) Reset() {
	s.timingMu.Lock()
	s.cadence.Reset()
	s.timingMu.Unlock()

	s.dutyMu.Lock()
	s.duties = logic.Duties{}
	s.phases = logic.CompilePhases(s.duties, s.period)
	s.phase = logic.PhaseHigh
	s.levels = logic.Levels{}
	s.dutyMu.Unlock()
}

func (s *Shared) publish(d logic.Duties, p logic.Phases, source string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.DutyChangedEvent{
		Duties:    d,
		Phases:    p,
		Source:    source,
		Timestamp: s.now(),
	})
}
