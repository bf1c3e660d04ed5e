// Package pwm generates the shared software PWM signal that dims the LEDs.
//
// The scheduler is a self-rearming timer with two phases, HIGH and LOW. Each
// firing flips the phase in the shared state, writes the resulting levels to
// the outputs and rearms for the new phase's duration measured from the
// intended firing time, not the observed one, so jitter does not accumulate.
package pwm

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sweeney/cadence-dimmer/internal/events"
	"github.com/sweeney/cadence-dimmer/internal/gpio"
	"github.com/sweeney/cadence-dimmer/internal/logic"
	"github.com/sweeney/cadence-dimmer/internal/state"
)

// ErrRunning is returned by Start when the scheduler is already running.
var ErrRunning = errors.New("pwm: scheduler already running")

// Stepper is the part of the shared state the scheduler drives.
type Stepper interface {
	Begin() state.Step
	Advance() state.Step
}

// Stats are the scheduler's diagnostic counters.
type Stats struct {
	Ticks    uint64
	// Overruns counts firings that ran at least one interval late.
	Overruns uint64
	Retries  uint64
	Degraded bool
	Running  bool
}

// Scheduler drives Outputs from a Stepper.
type Scheduler struct {
	stepper Stepper
	out     gpio.Outputs
	logger  *slog.Logger
	bus     events.Publisher
	now     func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	ticks    atomic.Uint64
	overruns atomic.Uint64
	retries  atomic.Uint64
	degraded atomic.Bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithPublisher sets where degradation events are published.
func WithPublisher(p events.Publisher) Option {
	return func(s *Scheduler) { s.bus = p }
}

// WithClock sets the wall clock used for deadlines.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a stopped scheduler.
func New(stepper Stepper, out gpio.Outputs, opts ...Option) *Scheduler {
	s := &Scheduler{
		stepper: stepper,
		out:     out,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start applies the HIGH phase and begins rearming. A failure to drive the
// outputs at start is returned to the caller.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrRunning
	}

	first := s.stepper.Begin()
	if err := s.apply(first.Levels); err != nil {
		return err
	}
	s.degraded.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	deadline := s.now().Add(first.Next)
	go s.run(ctx, deadline, done)

	s.logger.Info("pwm started", "phase", first.Phase, "next", first.Next)
	return nil
}

// Stop halts the scheduler and waits for the timer goroutine to exit. It is
// safe to call when never started and safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
	s.logger.Info("pwm stopped", "ticks", s.ticks.Load())
}

// Stats returns the diagnostic counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	running := s.done != nil
	if running {
		select {
		case <-s.done:
			running = false
		default:
		}
	}
	s.mu.Unlock()
	return Stats{
		Ticks:    s.ticks.Load(),
		Overruns: s.overruns.Load(),
		Retries:  s.retries.Load(),
		Degraded: s.degraded.Load(),
		Running:  running,
	}
}

func (s *Scheduler) run(ctx context.Context, deadline time.Time, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(deadline.Sub(s.now()))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		next, ok := s.fire(deadline)
		if !ok {
			return
		}
		deadline = next
		timer.Reset(deadline.Sub(s.now()))
	}
}

// fire performs one firing scheduled for deadline and returns the deadline
// of the next one. It returns false once the scheduler has degraded.
func (s *Scheduler) fire(deadline time.Time) (time.Time, bool) {
	now := s.now()
	step := s.stepper.Advance()
	if err := s.apply(step.Levels); err != nil {
		s.degrade(err)
		return time.Time{}, false
	}
	s.ticks.Add(1)

	// A late firing counts as one overrun however many intervals it skipped.
	// At the 1ns HIGH floor any latency skips millions of them.
	next, missed := Forward(deadline, now, step.Next)
	if missed > 0 {
		if s.overruns.Add(1) == 1 {
			s.logger.Warn("pwm timer overrun", "missed", missed, "phase", step.Phase)
		}
	}
	return next, true
}

// apply writes levels, retrying once on failure.
func (s *Scheduler) apply(levels logic.Levels) error {
	err := s.out.Set(levels)
	if err == nil {
		return nil
	}
	s.retries.Add(1)
	s.logger.Warn("pwm output write failed, retrying", "error", err)
	return s.out.Set(levels)
}

func (s *Scheduler) degrade(err error) {
	s.degraded.Store(true)
	s.logger.Error("pwm halted, signal generation degraded", "error", err)
	if s.bus != nil {
		s.bus.Publish(events.SchedulerDegradedEvent{
			Reason:    err.Error(),
			Timestamp: s.now(),
		})
	}
}

// Forward returns the firing time after deadline for a phase of length
// interval. If that time is not after now the timer fell behind; it is moved
// forward by whole intervals until it is, and the number skipped is returned.
func Forward(deadline, now time.Time, interval time.Duration) (time.Time, int64) {
	next := deadline.Add(interval)
	if next.After(now) || interval <= 0 {
		return next, 0
	}
	missed := int64(now.Sub(next)/interval) + 1
	return next.Add(time.Duration(missed) * interval), missed
}
