package pwm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/cadence-dimmer/internal/events"
	"github.com/sweeney/cadence-dimmer/internal/gpio"
	"github.com/sweeney/cadence-dimmer/internal/logic"
	"github.com/sweeney/cadence-dimmer/internal/state"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingPublisher) Publish(ev events.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recordingPublisher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func newTestScheduler(t *testing.T, duties string) (*Scheduler, *state.Shared, *gpio.FakeOutputs) {
	t.Helper()
	st := state.New()
	if err := st.WriteDuties(duties, "test"); err != nil {
		t.Fatalf("WriteDuties(%q): %v", duties, err)
	}
	out := gpio.NewFakeOutputs()
	return New(st, out), st, out
}

func TestForward(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name       string
		deadline   time.Time
		now        time.Time
		interval   time.Duration
		wantNext   time.Time
		wantMissed int64
	}{
		{"on time", base, base.Add(time.Microsecond), 4 * time.Millisecond, base.Add(4 * time.Millisecond), 0},
		{"late but not missed", base, base.Add(3 * time.Millisecond), 4 * time.Millisecond, base.Add(4 * time.Millisecond), 0},
		{"exactly one interval late", base, base.Add(4 * time.Millisecond), 4 * time.Millisecond, base.Add(8 * time.Millisecond), 1},
		{"several intervals late", base, base.Add(13 * time.Millisecond), 4 * time.Millisecond, base.Add(16 * time.Millisecond), 3},
		{"relative to deadline not now", base, base.Add(time.Millisecond), 2 * time.Millisecond, base.Add(2 * time.Millisecond), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, missed := Forward(tt.deadline, tt.now, tt.interval)
			if !next.Equal(tt.wantNext) {
				t.Errorf("next: got %v, want %v", next.Sub(base), tt.wantNext.Sub(base))
			}
			if missed != tt.wantMissed {
				t.Errorf("missed: got %d, want %d", missed, tt.wantMissed)
			}
			if !next.After(tt.now) {
				t.Errorf("next %v not after now %v", next, tt.now)
			}
		})
	}
}

func TestFireAlternatesLevels(t *testing.T) {
	s, st, out := newTestScheduler(t, "30 60 0")
	st.Begin()

	deadline := time.Now()
	var ok bool
	deadline, ok = s.fire(deadline)
	if !ok {
		t.Fatal("fire reported degraded")
	}
	if out.Last() != (logic.Levels{}) {
		t.Errorf("after LOW: got %v, want all inactive", out.Last())
	}

	if _, ok = s.fire(deadline); !ok {
		t.Fatal("fire reported degraded")
	}
	if out.Last() != (logic.Levels{true, true, false}) {
		t.Errorf("after HIGH: got %v", out.Last())
	}
	if s.Stats().Ticks != 2 {
		t.Errorf("Ticks: got %d, want 2", s.Stats().Ticks)
	}
}

func TestFireRearmsFromIntendedTime(t *testing.T) {
	s, st, _ := newTestScheduler(t, "30 0 0")
	st.Begin()

	now := time.Now()
	s.now = func() time.Time { return now.Add(500 * time.Microsecond) }

	next, ok := s.fire(now)
	if !ok {
		t.Fatal("fire reported degraded")
	}
	// LOW lasts 7ms from the intended firing time, not from the observed one.
	if want := now.Add(7 * time.Millisecond); !next.Equal(want) {
		t.Errorf("next: got %v, want %v", next.Sub(now), want.Sub(now))
	}
}

func TestFireLateCountsOneOverrun(t *testing.T) {
	s, st, _ := newTestScheduler(t, "0 0 0")
	st.Begin()

	// Every firing observes the clock 2ms after its deadline.
	deadline := time.Now()
	s.now = func() time.Time { return deadline.Add(2 * time.Millisecond) }

	// Entering LOW (~10ms) is late but skips nothing.
	next, ok := s.fire(deadline)
	if !ok {
		t.Fatal("fire reported degraded")
	}
	if got := s.Stats().Overruns; got != 0 {
		t.Fatalf("Overruns after LOW: got %d, want 0", got)
	}

	// Entering HIGH at the 1ns floor skips millions of intervals: one overrun.
	deadline = next
	next, ok = s.fire(deadline)
	if !ok {
		t.Fatal("fire reported degraded")
	}
	if got := s.Stats().Overruns; got != 1 {
		t.Errorf("Overruns after HIGH: got %d, want 1", got)
	}
	if !next.After(deadline.Add(2 * time.Millisecond)) {
		t.Errorf("next firing %v not moved past now", next.Sub(deadline))
	}
}

func TestOverrunsBoundedByTicksAllOff(t *testing.T) {
	s, _, _ := newTestScheduler(t, "0 0 0")
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	s.Stop()

	stats := s.Stats()
	if stats.Ticks == 0 {
		t.Fatal("expected scheduler to have fired")
	}
	if stats.Overruns > stats.Ticks {
		t.Errorf("overruns %d exceed ticks %d", stats.Overruns, stats.Ticks)
	}
}

func TestAllOffNeverActive(t *testing.T) {
	s, st, out := newTestScheduler(t, "0 0 0")
	first := st.Begin()
	if err := s.apply(first.Levels); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now()
	for i := 0; i < 20; i++ {
		var ok bool
		deadline, ok = s.fire(deadline)
		if !ok {
			t.Fatal("fire reported degraded")
		}
	}
	for i, l := range out.Writes() {
		if l != (logic.Levels{}) {
			t.Fatalf("write %d: got %v, want all inactive", i, l)
		}
	}
}

func TestFullDutyBoundary(t *testing.T) {
	s, st, out := newTestScheduler(t, "100 50 0")
	first := st.Begin()
	if err := s.apply(first.Levels); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now()
	for i := 0; i < 20; i++ {
		var ok bool
		deadline, ok = s.fire(deadline)
		if !ok {
			t.Fatal("fire reported degraded")
		}
	}
	want := logic.Levels{true, true, false}
	for i, l := range out.Writes() {
		if l != want {
			t.Fatalf("write %d: got %v, want %v", i, l, want)
		}
	}
}

func TestApplyRetriesOnce(t *testing.T) {
	s, _, out := newTestScheduler(t, "50 0 0")
	out.FailWith(errors.New("simulated error"), 1)

	if err := s.apply(logic.Levels{true}); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if s.Stats().Retries != 1 {
		t.Errorf("Retries: got %d, want 1", s.Stats().Retries)
	}
}

func TestFireDegradesAfterFailedRetry(t *testing.T) {
	pub := &recordingPublisher{}
	s, st, out := newTestScheduler(t, "50 0 0")
	s.bus = pub
	st.Begin()
	out.FailWith(errors.New("simulated error"), 0)

	if _, ok := s.fire(time.Now()); ok {
		t.Fatal("expected fire to report degraded")
	}
	if !s.Stats().Degraded {
		t.Error("expected Degraded=true")
	}
	if pub.count() != 1 {
		t.Errorf("expected 1 degraded event, got %d", pub.count())
	}
}

func TestStartFailsWhenOutputsFail(t *testing.T) {
	s, _, out := newTestScheduler(t, "50 0 0")
	out.FailWith(errors.New("simulated error"), 0)

	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected Start to fail")
	}
	if s.Stats().Running {
		t.Error("scheduler should not be running")
	}
	s.Stop()
}

func TestStartStop(t *testing.T) {
	s, _, out := newTestScheduler(t, "50 50 50")

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrRunning) {
		t.Errorf("second Start: got %v, want ErrRunning", err)
	}

	time.Sleep(50 * time.Millisecond)
	s.Stop()

	stats := s.Stats()
	if stats.Ticks == 0 {
		t.Error("expected scheduler to have fired")
	}
	if stats.Running {
		t.Error("expected Running=false after Stop")
	}

	written := len(out.Writes())
	time.Sleep(30 * time.Millisecond)
	if len(out.Writes()) != written {
		t.Error("outputs written after Stop returned")
	}

	// Idempotent
	s.Stop()
}

func TestStopNeverStarted(t *testing.T) {
	s, _, _ := newTestScheduler(t, "0 0 0")
	s.Stop()
	s.Stop()
}

func TestDegradedStopsRunning(t *testing.T) {
	s, _, out := newTestScheduler(t, "50 0 0")
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	out.FailWith(errors.New("simulated error"), 0)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if st := s.Stats(); st.Degraded && !st.Running {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	st := s.Stats()
	if !st.Degraded || st.Running {
		t.Errorf("expected degraded and halted, got %+v", st)
	}
	s.Stop()
}
