// Package status provides a thread-safe status view of the dimmer daemon.
// It combines live readings from the shared state and the PWM scheduler with
// daemon bookkeeping (start time, config, MQTT link) for the web page, the
// JSON endpoint and MQTT status events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/cadence-dimmer/internal/logic"
	"github.com/sweeney/cadence-dimmer/internal/pwm"
	"github.com/sweeney/cadence-dimmer/internal/state"
)

// StateSource is the read side of the shared state.
type StateSource interface {
	Cadence() logic.CadenceSnapshot
	Signal() state.Signal
}

// StatsSource reports scheduler counters.
type StatsSource interface {
	Stats() pwm.Stats
}

// Config contains daemon configuration for display.
type Config struct {
	Backend      string
	PeriodNs     int64
	DebounceMs   int64
	HeartbeatMs  int64
	Broker       string
	HTTPAddr     string
	DeviceSocket string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type and may be used after the lock is released.
type Snapshot struct {
	Cadence       logic.CadenceSnapshot
	Signal        state.Signal
	Scheduler     pwm.Stats
	Follow        bool
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Speed returns presses per second.
func (s Snapshot) Speed() uint64 {
	return s.Cadence.Rate()
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex and reads the
// dimmer state on every Snapshot.
type Tracker struct {
	src   StateSource
	sched StatsSource
	now   func() time.Time

	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker. sched may be nil until the scheduler exists.
func NewTracker(startTime time.Time, cfg Config, src StateSource, sched StatsSource) *Tracker {
	return &Tracker{
		src:   src,
		sched: sched,
		now:   time.Now,
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetFollow records whether speed follow mode is active.
func (t *Tracker) SetFollow(enabled bool) {
	t.mu.Lock()
	t.snap.Follow = enabled
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()

	if t.src != nil {
		s.Cadence = t.src.Cadence()
		s.Signal = t.src.Signal()
	}
	if t.sched != nil {
		s.Scheduler = t.sched.Stats()
	}
	s.Now = t.now()
	return s
}
