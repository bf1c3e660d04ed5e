package gpio

import (
	"sync"

	"github.com/sweeney/cadence-dimmer/internal/logic"
)

// FakeOutputs is a test double that records every level written.
type FakeOutputs struct {
	mu sync.Mutex

	// History contains every Levels value passed to Set, in order.
	History []logic.Levels

	// SetError, if set, is returned by Set. FailCount limits how many
	// consecutive calls fail before Set succeeds again; 0 means always.
	SetError  error
	FailCount int
	failures  int

	// Closed tracks if Close was called
	Closed bool

	// CloseErr, if set, is returned by Close after the lines are released.
	CloseErr error
}

// NewFakeOutputs creates an empty FakeOutputs.
func NewFakeOutputs() *FakeOutputs {
	return &FakeOutputs{}
}

// Set records levels, or returns the scripted error.
func (f *FakeOutputs) Set(levels logic.Levels) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetError != nil && (f.FailCount == 0 || f.failures < f.FailCount) {
		f.failures++
		return f.SetError
	}
	f.History = append(f.History, levels)
	return nil
}

// FailWith makes the next count calls to Set return err (0 = every call).
func (f *FakeOutputs) FailWith(err error, count int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SetError = err
	f.FailCount = count
	f.failures = 0
}

// Last returns the most recent levels, all inactive if none were written.
func (f *FakeOutputs) Last() logic.Levels {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.History) == 0 {
		return logic.Levels{}
	}
	return f.History[len(f.History)-1]
}

// Writes returns a copy of the recorded history.
func (f *FakeOutputs) Writes() []logic.Levels {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]logic.Levels(nil), f.History...)
}

// IsClosed reports whether Close was called.
func (f *FakeOutputs) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Closed
}

// Close drives everything inactive and marks the outputs closed.
func (f *FakeOutputs) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.History = append(f.History, logic.Levels{})
	f.Closed = true
	return f.CloseErr
}

// FakeInputs is a test double whose edges are triggered by the test.
type FakeInputs struct {
	mu      sync.Mutex
	onEdge  EdgeHandler
	a, b    bool
	closed  bool
	ReadErr error
}

// NewFakeInputs creates FakeInputs delivering edges to onEdge.
func NewFakeInputs(onEdge EdgeHandler) *FakeInputs {
	return &FakeInputs{onEdge: onEdge}
}

// Trigger delivers a rising edge from in, unless the inputs are closed.
func (f *FakeInputs) Trigger(in logic.Input) {
	f.mu.Lock()
	closed, h := f.closed, f.onEdge
	f.mu.Unlock()
	if closed || h == nil {
		return
	}
	h(in)
}

// SetLevels sets the values returned by Read.
func (f *FakeInputs) SetLevels(a, b bool) {
	f.mu.Lock()
	f.a, f.b = a, b
	f.mu.Unlock()
}

// Read returns the scripted levels.
func (f *FakeInputs) Read() (bool, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReadErr != nil {
		return false, false, f.ReadErr
	}
	return f.a, f.b, nil
}

// IsClosed reports whether Close was called.
func (f *FakeInputs) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Close stops edge delivery.
func (f *FakeInputs) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}
