package alloc

import (
	"sync"

	"github.com/joshuapare/gckit/gc/region"
	"github.com/joshuapare/gckit/internal/logger"
)

// Registry maps mutator ids to their allocators.
//
// Mutators hold the shared side of the registry lock for the duration of an
// allocation; the collector holds the exclusive side for a whole cycle. An
// allocator whose mutator detached is parked and handed to the next mutator
// that needs one, so its free blocks are not stranded.
type Registry struct {
	mu         sync.RWMutex
	region     *region.Region
	opts       Options
	allocators sync.Map // uint64 -> *Allocator

	idleMu sync.Mutex
	idle   []*Allocator
}

// NewRegistry returns an empty registry over r.
func NewRegistry(r *region.Region, opts Options) *Registry {
	return &Registry{region: r, opts: opts}
}

// RLock takes the shared side of the registry lock.
func (r *Registry) RLock() { r.mu.RLock() }

// RUnlock releases the shared side of the registry lock.
func (r *Registry) RUnlock() { r.mu.RUnlock() }

// Lock takes the exclusive side of the registry lock.
func (r *Registry) Lock() { r.mu.Lock() }

// Unlock releases the exclusive side of the registry lock.
func (r *Registry) Unlock() { r.mu.Unlock() }

// Get returns the allocator for the mutator id, creating it on first use.
// The caller holds the shared lock, and only the mutator itself asks for its id.
func (r *Registry) Get(id uint64) (*Allocator, error) {
	if a, ok := r.allocators.Load(id); ok {
		return a.(*Allocator), nil
	}

	if a := r.adopt(); a != nil {
		r.allocators.Store(id, a)
		logger.Debug("allocator adopted", "mutator", id, "free", a.FreeBytes())
		return a, nil
	}

	a, err := TryNew(r.region, r.opts)
	if err != nil {
		return nil, err
	}
	r.allocators.Store(id, a)
	logger.Debug("allocator created", "mutator", id, "free", a.FreeBytes())
	return a, nil
}

// Lookup returns the allocator for id without creating one.
func (r *Registry) Lookup(id uint64) (*Allocator, bool) {
	a, ok := r.allocators.Load(id)
	if !ok {
		return nil, false
	}
	return a.(*Allocator), true
}

// Release parks the allocator of a detaching mutator.
func (r *Registry) Release(id uint64) {
	a, ok := r.allocators.LoadAndDelete(id)
	if !ok {
		return
	}
	r.idleMu.Lock()
	r.idle = append(r.idle, a.(*Allocator))
	r.idleMu.Unlock()
}

func (r *Registry) adopt() *Allocator {
	r.idleMu.Lock()
	defer r.idleMu.Unlock()
	n := len(r.idle)
	if n == 0 {
		return nil
	}
	a := r.idle[n-1]
	r.idle = r.idle[:n-1]
	return a
}

// All returns every allocator, attached or parked, in no particular order.
// The caller holds the exclusive lock.
func (r *Registry) All() []*Allocator {
	var out []*Allocator
	r.allocators.Range(func(_, v any) bool {
		out = append(out, v.(*Allocator))
		return true
	})
	r.idleMu.Lock()
	out = append(out, r.idle...)
	r.idleMu.Unlock()
	return out
}

// ForEach calls fn for every attached allocator until fn returns false.
// The caller holds the exclusive lock.
func (r *Registry) ForEach(fn func(id uint64, a *Allocator) bool) {
	r.allocators.Range(func(k, v any) bool {
		return fn(k.(uint64), v.(*Allocator))
	})
}

// Len returns the number of allocators, attached or parked.
func (r *Registry) Len() int {
	n := 0
	r.allocators.Range(func(_, _ any) bool {
		n++
		return true
	})
	r.idleMu.Lock()
	n += len(r.idle)
	r.idleMu.Unlock()
	return n
}

// Heads returns the free list heads of every allocator. The caller holds the
// exclusive lock.
func (r *Registry) Heads() []int {
	all := r.All()
	heads := make([]int, 0, len(all))
	for _, a := range all {
		heads = append(heads, a.Head())
	}
	return heads
}

// Stats sums the counters of every allocator. The caller holds the exclusive lock.
func (r *Registry) Stats() (Stats, int) {
	var total Stats
	free := 0
	for _, a := range r.All() {
		s := a.Stats()
		total.AllocCalls += s.AllocCalls
		total.AllocFastPath += s.AllocFastPath
		total.AllocSlowPath += s.AllocSlowPath
		total.AllocFailed += s.AllocFailed
		total.GrowCalls += s.GrowCalls
		total.GrowBytes += s.GrowBytes
		total.SplitCount += s.SplitCount
		total.BytesAllocated += s.BytesAllocated
		total.ReclaimCalls += s.ReclaimCalls
		total.BytesReclaimed += s.BytesReclaimed
		free += a.FreeBytes()
	}
	return total, free
}
