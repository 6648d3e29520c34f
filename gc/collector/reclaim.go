package collector

import (
	"container/heap"

	"github.com/joshuapare/gckit/gc/alloc"
	"github.com/joshuapare/gckit/internal/logger"
)

// byFreeBytes is a min-heap of allocators keyed on FreeBytes, so reclaimed
// blocks go to whoever has the least free memory.
type byFreeBytes []*alloc.Allocator

func (h byFreeBytes) Len() int           { return len(h) }
func (h byFreeBytes) Less(i, j int) bool { return h[i].FreeBytes() < h[j].FreeBytes() }
func (h byFreeBytes) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *byFreeBytes) Push(x any) {
	*h = append(*h, x.(*alloc.Allocator))
}

func (h *byFreeBytes) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

// distribute hands every block to the allocator with the fewest free bytes.
// It returns the number of blocks that could not be reclaimed.
func distribute(allocators []*alloc.Allocator, offs []int) int {
	if len(offs) == 0 {
		return 0
	}
	if len(allocators) == 0 {
		logger.Error("no allocator to reclaim into", "blocks", len(offs))
		return len(offs)
	}

	pq := byFreeBytes(allocators)
	heap.Init(&pq)

	failed := 0
	for _, off := range offs {
		if err := pq[0].ReclaimBlock(off); err != nil {
			failed++
			continue
		}
		heap.Fix(&pq, 0)
	}
	return failed
}
