package kern

import (
	"fmt"
	"log"
)

// A Mutex guards a resource shared by multiple tasks.
//
// At most one task owns the mutex at a time, and only the owner may release
// it. Waiters are unblocked in priority order. The mutex does not implement
// priority inheritance; a high-priority waiter does not boost the holder.
type Mutex struct {
	s    *Scheduler
	name string

	owner   *task
	waiters waitList
}

// NewMutex creates a Mutex.
func NewMutex(s *Scheduler, name string) *Mutex {
	return &Mutex{s: s, name: name}
}

// Name returns the name of the mutex.
func (m *Mutex) Name() string {
	return m.name
}

// Acquire locks the mutex for the calling task and returns a Guard. A zero
// timeout fails immediately if the mutex is held; an expired wait fails with
// ErrLockTimeout. The returned Guard must be released; releasing it on every
// exit path is typically done with defer.
func (m *Mutex) Acquire(ctx *Context, timeout DurationMs) (*Guard, error) {
	t := ctx.t

	m.s.mu.Lock()

	if m.owner == t {
		m.s.mu.Unlock()
		log.Panicf("task %s acquiring mutex %s it already holds",
			t.name, m.name)
	}

	if m.owner == nil {
		g := m.grantLocked(t)
		m.s.maybePreempt(t)
		m.s.mu.Unlock()
		return g, nil
	}

	if timeout == 0 {
		m.s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrLockTimeout, m.name)
	}

	deadline, hasDeadline := m.s.absDeadline(timeout)

	reason := m.s.blockOn(t, &m.waiters, deadline, hasDeadline)
	if reason == wakeTimeout {
		m.s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrLockTimeout, m.name)
	}

	// Ownership and the guard were granted to this task before it was
	// woken, so a kill between the release and this dispatch still finds
	// the guard and frees the mutex.
	g := t.guardFor(m)
	m.s.mu.Unlock()

	if g == nil {
		log.Panicf("woken waiter of mutex %s holds no guard", m.name)
	}

	return g, nil
}

// grantLocked makes t the owner and returns its guard. The caller must hold
// s.mu.
func (m *Mutex) grantLocked(t *task) *Guard {
	m.owner = t
	g := &Guard{m: m, t: t}
	t.heldGuards = append(t.heldGuards, g)

	return g
}

// A Guard is the scoped handle to a held Mutex. Release is idempotent, so a
// deferred Release and an explicit early Release can coexist. A guard still
// held when its task terminates is released by the kernel.
type Guard struct {
	m        *Mutex
	t        *task
	released bool
}

// Release unlocks the mutex and hands ownership to the highest-priority
// waiter, if any. Only the owning task's guard can release the mutex.
func (g *Guard) Release() {
	g.m.s.mu.Lock()

	if g.released {
		g.m.s.mu.Unlock()
		return
	}

	if g.m.owner != g.t {
		g.m.s.mu.Unlock()
		log.Panicf("mutex %s released by non-owner", g.m.name)
	}

	g.releaseLocked()
	g.m.s.mu.Unlock()
}

// releaseLocked performs the release. The caller must hold s.mu.
func (g *Guard) releaseLocked() {
	g.released = true
	g.t.dropGuard(g)
	g.m.owner = nil

	if w := g.m.waiters.popBest(); w != nil {
		// Transfer ownership directly so no third task can steal the mutex
		// between the release and the waiter's dispatch.
		g.m.grantLocked(w)
		g.m.s.wake(w, wakeSignal)
	}
}

func (t *task) guardFor(m *Mutex) *Guard {
	for i := len(t.heldGuards) - 1; i >= 0; i-- {
		if t.heldGuards[i].m == m {
			return t.heldGuards[i]
		}
	}

	return nil
}

func (t *task) dropGuard(g *Guard) {
	for i, held := range t.heldGuards {
		if held == g {
			t.heldGuards = append(t.heldGuards[:i], t.heldGuards[i+1:]...)
			return
		}
	}
}
