// Package world models the parts of the process the collector has to inspect:
// the mutators, their registers and stacks, the writable globals, and native
// (non-managed) memory that may hold managed addresses.
//
// Goroutines cannot be interrupted or have their stacks read, so suspension is
// cooperative. A Mutator is running while it executes inside Do and holds its
// run lock for that time. Stopping the world acquires every mutator's run
// lock, which waits for each running mutator to reach the end of Do or a
// blocking wait that parks it. Roots that live on the Go stack are invisible;
// code keeps them in shadow stack frames, global segments or native blocks.
package world

import (
	"cmp"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/joshuapare/gckit/internal/logger"
)

// DefaultStackWords is the default shadow stack capacity of a mutator.
const DefaultStackWords = 4096

// World tracks the attached mutators and owns the global and native root sources.
type World struct {
	// mu guards mutators. The collector holds it for a whole cycle so the set
	// cannot change while the world is stopped.
	mu       sync.Mutex
	mutators map[uint64]*Mutator
	stopped  []*Mutator

	nextID  atomic.Uint64
	flushes atomic.Uint64

	globals *Globals
	native  *NativeHeap
}

// New returns an empty world.
func New() *World {
	return &World{
		mutators: make(map[uint64]*Mutator),
		globals:  &Globals{},
		native:   NewNativeHeap(),
	}
}

// Globals returns the world's global segments.
func (w *World) Globals() *Globals { return w.globals }

// Native returns the world's native heap.
func (w *World) Native() *NativeHeap { return w.native }

// Attach registers a new mutator. stackWords <= 0 selects DefaultStackWords.
// Attach and Detach must not be called from inside Do: a concurrent stop holds
// the membership lock while it waits for the caller to leave Do.
func (w *World) Attach(stackWords int) *Mutator {
	if stackWords <= 0 {
		stackWords = DefaultStackWords
	}
	m := &Mutator{
		id:    w.nextID.Add(1),
		world: w,
		stack: make([]uintptr, stackWords),
		sp:    stackWords,
	}

	w.mu.Lock()
	w.mutators[m.id] = m
	w.mu.Unlock()

	logger.Debug("mutator attached", "id", m.id, "stack_words", stackWords)
	return m
}

// Detach removes m from the world. It fails while m is inside Do.
func (w *World) Detach(m *Mutator) error {
	if m.running {
		return ErrRunning
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.mutators[m.id]; !ok {
		return ErrDetached
	}
	delete(w.mutators, m.id)
	m.detached.Store(true)
	logger.Debug("mutator detached", "id", m.id)
	return nil
}

// Len returns the number of attached mutators.
func (w *World) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.mutators)
}

// StopTheWorld freezes the mutator set and suspends every mutator, in id order.
// It returns once every mutator is outside Do or parked.
func (w *World) StopTheWorld() {
	w.mu.Lock()
	w.stopped = w.stopped[:0]
	for _, m := range w.mutators {
		w.stopped = append(w.stopped, m)
	}
	slices.SortFunc(w.stopped, func(a, b *Mutator) int { return cmp.Compare(a.id, b.id) })
	for _, m := range w.stopped {
		m.run.Lock()
	}
}

// StartTheWorld resumes every suspended mutator and unfreezes the set.
func (w *World) StartTheWorld() {
	for i := len(w.stopped) - 1; i >= 0; i-- {
		w.stopped[i].run.Unlock()
	}
	w.stopped = w.stopped[:0]
	w.mu.Unlock()
}

// FlushWrites publishes every mutator write to the collector. Acquiring the run
// locks already orders those writes before the scan; the counter makes the
// fence observable.
func (w *World) FlushWrites() {
	w.flushes.Add(1)
}

// Flushes returns how many times FlushWrites was called.
func (w *World) Flushes() uint64 { return w.flushes.Load() }

// ScanThreads calls fn with each suspended mutator's register snapshot and the
// live part of its shadow stack. Only valid between StopTheWorld and StartTheWorld.
func (w *World) ScanThreads(fn func(id uint64, registers, stack []uintptr)) {
	for _, m := range w.stopped {
		fn(m.id, m.regs[:], m.stack[m.sp:])
	}
}

// ScanSegments calls fn for every global segment.
func (w *World) ScanSegments(fn func(name string, words []uintptr)) {
	w.globals.scan(fn)
}
