package mqtt

import (
	"log/slog"

	"github.com/sweeney/cadence-dimmer/internal/events"
)

// Subscriber is the subscribing half of the event bus.
type Subscriber interface {
	OnDutyChanged(handler func(events.DutyChangedEvent)) func()
	OnSchedulerDegraded(handler func(events.SchedulerDegradedEvent)) func()
}

// Bridge forwards bus events to pub until the returned function is called.
// Duty changes go to the duty topic and scheduler degradation is announced
// as a DEGRADED system event.
func Bridge(bus Subscriber, pub Publisher, logger *slog.Logger) func() {
	offDuty := bus.OnDutyChanged(func(ev events.DutyChangedEvent) {
		if err := pub.PublishDuty(ev); err != nil {
			logger.Warn("publish duty change", "error", err)
		}
	})
	offDegraded := bus.OnSchedulerDegraded(func(ev events.SchedulerDegradedEvent) {
		err := pub.PublishSystem(SystemEvent{
			Timestamp: ev.Timestamp,
			Event:     EventDegraded,
			Reason:    ev.Reason,
			Retained:  true,
		})
		if err != nil {
			logger.Warn("publish degraded event", "error", err)
		}
	})
	return func() {
		offDuty()
		offDegraded()
	}
}
