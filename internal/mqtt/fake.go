package mqtt

import (
	"sync"

	"github.com/sweeney/cadence-dimmer/internal/events"
)

// FakePublisher records published events for test assertions. Bus handlers
// call it from their own goroutines, so tests racing with them should read
// through DutySnapshot and SystemSnapshot.
type FakePublisher struct {
	mu sync.Mutex

	// DutyEvents contains all duty changes that were published.
	DutyEvents []events.DutyChangedEvent

	// Payloads contains the JSON payloads of published duty changes.
	Payloads [][]byte

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// PublishError, if set, will be returned by PublishDuty.
	PublishError error

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// OnCommand receives payloads passed to Deliver.
	OnCommand CommandHandler

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// PublishDuty records the duty change.
func (f *FakePublisher) PublishDuty(event events.DutyChangedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}

	payload, err := FormatDutyPayload(event)
	if err != nil {
		return err
	}
	f.DutyEvents = append(f.DutyEvents, event)
	f.Payloads = append(f.Payloads, payload)
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemEvents = append(f.SystemEvents, event)
	f.SystemPayloads = append(f.SystemPayloads, payload)
	return nil
}

// Deliver simulates a message arriving on the command topic.
func (f *FakePublisher) Deliver(payload string) error {
	f.mu.Lock()
	h := f.OnCommand
	f.mu.Unlock()
	if h == nil {
		return nil
	}
	return h(payload)
}

// DutySnapshot returns a copy of the recorded duty changes.
func (f *FakePublisher) DutySnapshot() []events.DutyChangedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]events.DutyChangedEvent(nil), f.DutyEvents...)
}

// SystemSnapshot returns a copy of the recorded system events.
func (f *FakePublisher) SystemSnapshot() []SystemEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SystemEvent(nil), f.SystemEvents...)
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// Reset clears recorded events.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DutyEvents = nil
	f.Payloads = nil
	f.SystemEvents = nil
	f.SystemPayloads = nil
	f.Closed = false
	f.PublishError = nil
	f.PublishSystemError = nil
	f.Connected = false
}
