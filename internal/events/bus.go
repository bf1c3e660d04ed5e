// Package events provides an in-process event bus for dimmer state changes.
package events

import (
	"github.com/kelindar/event"
)

// Publisher is the publishing half of the bus.
type Publisher interface {
	Publish(ev Event)
}

// Bus wraps kelindar/event dispatcher for event broadcasting
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers
func (b *Bus) Publish(ev Event) {
	switch e := ev.(type) {
	case DutyChangedEvent:
		event.Publish(b.dispatcher, e)
	case SchedulerDegradedEvent:
		event.Publish(b.dispatcher, e)
	}
}

// OnDutyChanged subscribes to duty changes. Returns an unsubscribe function.
func (b *Bus) OnDutyChanged(handler func(DutyChangedEvent)) func() {
	return event.Subscribe(b.dispatcher, handler)
}

// OnSchedulerDegraded subscribes to scheduler degradation. Returns an unsubscribe function.
func (b *Bus) OnSchedulerDegraded(handler func(SchedulerDegradedEvent)) func() {
	return event.Subscribe(b.dispatcher, handler)
}
