package world

import (
	"sync"
	"sync/atomic"
)

// NativeHeap holds word blocks allocated outside the managed heap that may
// store managed addresses, the way a C heap would. The collector walks it
// under its lock; its own root buffer lives here too.
type NativeHeap struct {
	mu     sync.Mutex
	blocks map[uint64]*NativeBlock
	nextID atomic.Uint64
}

// NativeBlock is one native allocation. Words may be written by mutators
// inside Do or from any goroutine through Store.
type NativeBlock struct {
	id    uint64
	words []atomic.Uintptr
}

// NewNativeHeap returns an empty native heap.
func NewNativeHeap() *NativeHeap {
	return &NativeHeap{blocks: make(map[uint64]*NativeBlock)}
}

// Alloc returns a zeroed block of n words.
func (h *NativeHeap) Alloc(n int) *NativeBlock {
	b := &NativeBlock{id: h.nextID.Add(1), words: make([]atomic.Uintptr, n)}
	h.mu.Lock()
	h.blocks[b.id] = b
	h.mu.Unlock()
	return b
}

// Free removes b from the heap.
func (h *NativeHeap) Free(b *NativeBlock) {
	if b == nil {
		return
	}
	h.mu.Lock()
	delete(h.blocks, b.id)
	h.mu.Unlock()
}

// Lock takes the native heap lock. Nothing can be allocated or freed until
// Unlock.
func (h *NativeHeap) Lock() {
	h.mu.Lock()
}

// Unlock releases the native heap lock.
func (h *NativeHeap) Unlock() {
	h.mu.Unlock()
}

// WalkLocked calls fn for every block until fn returns false. The caller
// holds the lock.
func (h *NativeHeap) WalkLocked(fn func(id uint64, words []uintptr) bool) {
	var words []uintptr
	for id, b := range h.blocks {
		words = words[:0]
		for i := range b.words {
			words = append(words, b.words[i].Load())
		}
		if !fn(id, words) {
			return
		}
	}
}

// Len returns the number of live blocks.
func (h *NativeHeap) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.blocks)
}

// ID returns the block id.
func (b *NativeBlock) ID() uint64 { return b.id }

// Len returns the number of words.
func (b *NativeBlock) Len() int { return len(b.words) }

// Store writes v to word i.
func (b *NativeBlock) Store(i int, v uintptr) { b.words[i].Store(v) }

// Load reads word i.
func (b *NativeBlock) Load(i int) uintptr { return b.words[i].Load() }
