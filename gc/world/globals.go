package world

import (
	"slices"
	"sync"
	"sync/atomic"
)

// Globals is the set of writable global segments.
type Globals struct {
	mu   sync.RWMutex
	segs []*Segment
}

// Segment is a named array of word slots that outlives any mutator. Slots may
// be written from any goroutine.
type Segment struct {
	name  string
	slots []atomic.Uintptr
}

// NewSegment registers a segment with n slots.
func (g *Globals) NewSegment(name string, n int) *Segment {
	s := &Segment{name: name, slots: make([]atomic.Uintptr, n)}
	g.mu.Lock()
	g.segs = append(g.segs, s)
	g.mu.Unlock()
	return s
}

// Remove unregisters s. Its slots are no longer roots.
func (g *Globals) Remove(s *Segment) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.segs = slices.DeleteFunc(g.segs, func(x *Segment) bool { return x == s })
}

// Len returns the number of registered segments.
func (g *Globals) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.segs)
}

func (g *Globals) scan(fn func(name string, words []uintptr)) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var words []uintptr
	for _, s := range g.segs {
		words = words[:0]
		for i := range s.slots {
			words = append(words, s.slots[i].Load())
		}
		fn(s.name, words)
	}
}

// Name returns the segment name.
func (s *Segment) Name() string { return s.name }

// Len returns the number of slots.
func (s *Segment) Len() int { return len(s.slots) }

// Set stores addr in slot i.
func (s *Segment) Set(i int, addr uintptr) { s.slots[i].Store(addr) }

// Get returns the address in slot i.
func (s *Segment) Get(i int) uintptr { return s.slots[i].Load() }
