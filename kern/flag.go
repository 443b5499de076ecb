package kern

import "sync/atomic"

// A Flag is a wait-free boolean signal.
//
// It models the "set a flag in the interrupt, poll it in the loop" split:
// an ISR-like producer sets the flag without ever blocking, and a task polls
// or test-and-clears it. A Flag has a single conceptual writer; readers may
// be many.
type Flag struct {
	set atomic.Bool
}

// Set raises the flag. Wait-free.
func (f *Flag) Set() {
	f.set.Store(true)
}

// Clear lowers the flag. Wait-free.
func (f *Flag) Clear() {
	f.set.Store(false)
}

// IsSet reports whether the flag is raised. Wait-free.
func (f *Flag) IsSet() bool {
	return f.set.Load()
}

// TestAndClear lowers the flag and reports whether it was raised. Wait-free;
// exactly one caller observes a raised flag.
func (f *Flag) TestAndClear() bool {
	return f.set.Swap(false)
}

// A Mailbox is a wait-free single-slot signal carrying a small payload. A
// later Post overwrites an unconsumed value; a Mailbox never rejects a
// producer.
type Mailbox[T any] struct {
	slot atomic.Pointer[T]
}

// Post places a value in the mailbox, replacing any unconsumed one.
// Wait-free.
func (m *Mailbox[T]) Post(v T) {
	m.slot.Store(&v)
}

// Take removes and returns the posted value. The second result is false if
// the mailbox was empty.
func (m *Mailbox[T]) Take() (T, bool) {
	p := m.slot.Swap(nil)
	if p == nil {
		var zero T
		return zero, false
	}

	return *p, true
}

// Peek returns the posted value without consuming it.
func (m *Mailbox[T]) Peek() (T, bool) {
	p := m.slot.Load()
	if p == nil {
		var zero T
		return zero, false
	}

	return *p, true
}
