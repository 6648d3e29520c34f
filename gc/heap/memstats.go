package heap

import (
	"time"

	"github.com/joshuapare/gckit/gc/block"
	"github.com/joshuapare/gckit/internal/logger"
)

// MemStats is a snapshot of heap usage, shaped after runtime.MemStats.
type MemStats struct {
	Sys        uint64 // bytes of address space reserved
	HeapSys    uint64 // bytes committed and usable
	HeapInUse  uint64 // bytes of the chain in use, headers included
	HeapAlloc  uint64 // data bytes in allocated blocks
	HeapIdle   uint64 // data bytes in free blocks
	TotalAlloc uint64 // cumulative bytes requested
	Mallocs    uint64 // cumulative allocations
	Frees      uint64 // cumulative explicit deallocations
	Objects    uint64 // allocated blocks
	FreeBlocks uint64 // free blocks

	NumGC      uint32
	PauseTotal time.Duration
	LastPause  time.Duration
	Mutators   int

	// The following fields are not part of runtime.MemStats.

	Swept              uint64 // blocks reclaimed by sweeping
	Released           uint64 // blocks reclaimed from explicit deallocation
	DanglingRoots      uint64 // roots found pointing into free blocks
	DestructorFailures uint64 // destructors that panicked
	Corruptions        uint64 // heap consistency violations
}

// ReadMemStats populates ms. It walks the block chain with allocation
// paused, so it waits for any cycle in progress.
func (h *Heap) ReadMemStats(ms *MemStats) {
	h.registry.Lock()
	sum, err := block.Verify(h.region.Bytes(), h.registry.Heads()...)
	h.registry.Unlock()
	if err != nil {
		logger.Error("heap inconsistent while reading stats", "error", err)
	}

	totals := h.collector.Totals()
	last := h.collector.LastCycle()

	ms.Sys = uint64(h.region.Reserved())
	ms.HeapSys = uint64(h.region.Committed())
	ms.HeapInUse = uint64(h.region.Len())
	ms.HeapAlloc = uint64(sum.AllocBytes)
	ms.HeapIdle = uint64(sum.FreeBytes)
	ms.TotalAlloc = h.total.Load()
	ms.Mallocs = h.mallocs.Load()
	ms.Frees = h.frees.Load()
	ms.Objects = uint64(sum.Allocated)
	ms.FreeBlocks = uint64(sum.Free)

	ms.NumGC = uint32(totals.Cycles)
	ms.PauseTotal = totals.TotalPause
	ms.LastPause = last.Pause
	ms.Mutators = h.world.Len()

	ms.Swept = uint64(totals.Swept)
	ms.Released = uint64(totals.Queued)
	ms.DanglingRoots = uint64(totals.DanglingRoots)
	ms.DestructorFailures = uint64(totals.DestructorFailures)
	ms.Corruptions = uint64(totals.Corruptions)
}
