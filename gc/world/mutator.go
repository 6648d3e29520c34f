package world

import (
	"sync"
	"sync/atomic"
)

// NumRegisters is the size of a mutator's register file.
const NumRegisters = 16

// Mutator is one thread of managed execution. Its register file and shadow
// stack are written only by the goroutine using it, inside Do, and read only
// by the collector while the mutator is suspended.
type Mutator struct {
	id    uint64
	world *World

	run      sync.Mutex
	running  bool
	parked   bool
	detached atomic.Bool

	// regs is a ring of the most recent addresses handed to this mutator, so a
	// fresh value stays reachable until the caller roots it.
	regs    [NumRegisters]uintptr
	regNext int

	// stack grows downward; stack[sp:] is live.
	stack []uintptr
	sp    int
}

// ID returns the mutator's unique id.
func (m *Mutator) ID() uint64 { return m.id }

// Running reports whether the mutator is inside Do and not parked.
func (m *Mutator) Running() bool { return m.running && !m.parked }

// Detached reports whether the mutator was removed from its world.
func (m *Mutator) Detached() bool { return m.detached.Load() }

// Do runs fn as a managed section. The collector cannot stop the world while
// fn runs, so fn should not block for long without calling Park.
func (m *Mutator) Do(fn func() error) error {
	if m.detached.Load() {
		return ErrDetached
	}
	m.run.Lock()
	m.running = true
	defer func() {
		m.running = false
		if m.parked {
			m.parked = false
			return
		}
		m.run.Unlock()
	}()
	return fn()
}

// Park lets the collector stop the world while the mutator waits. It must be
// paired with Unpark and may only be called inside Do.
func (m *Mutator) Park() {
	if !m.running || m.parked {
		return
	}
	m.parked = true
	m.run.Unlock()
}

// Unpark resumes managed execution after Park, waiting for any cycle in progress.
func (m *Mutator) Unpark() {
	if !m.parked {
		return
	}
	m.run.Lock()
	m.parked = false
}

// Blocking runs fn with the mutator parked when it is running, and directly otherwise.
func (m *Mutator) Blocking(fn func() error) error {
	if !m.Running() {
		return fn()
	}
	m.Park()
	defer m.Unpark()
	return fn()
}

// Record stores addr in the register file, evicting the oldest entry.
func (m *Mutator) Record(addr uintptr) {
	m.regs[m.regNext] = addr
	m.regNext = (m.regNext + 1) % NumRegisters
}

// ClearRegisters zeroes the register file.
func (m *Mutator) ClearRegisters() {
	clear(m.regs[:])
	m.regNext = 0
}

// Registers returns a copy of the register file.
func (m *Mutator) Registers() [NumRegisters]uintptr { return m.regs }
