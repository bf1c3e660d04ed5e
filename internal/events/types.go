package events

import (
	"time"

	"github.com/sweeney/cadence-dimmer/internal/logic"
)

// Event type constants for kelindar/event.
const (
	TypeDutyChanged uint32 = iota + 1
	TypeSchedulerDegraded
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// DutyChangedEvent is published after a validated duty write has been applied
// together with its recompiled phases.
type DutyChangedEvent struct {
	Duties    logic.Duties
	Phases    logic.Phases
	Source    string // "http", "api", "device", "mqtt", "follow"
	Timestamp time.Time
}

// Type returns the event type identifier for DutyChangedEvent.
func (e DutyChangedEvent) Type() uint32 { return TypeDutyChanged }

// SchedulerDegradedEvent is published when the PWM scheduler halts signal
// generation after repeated output failures.
type SchedulerDegradedEvent struct {
	Reason    string
	Timestamp time.Time
}

// Type returns the event type identifier for SchedulerDegradedEvent.
func (e SchedulerDegradedEvent) Type() uint32 { return TypeSchedulerDegraded }
