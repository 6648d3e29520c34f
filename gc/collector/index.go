package collector

import (
	"github.com/joshuapare/gckit/gc/block"
	"github.com/joshuapare/gckit/internal/format"
)

// blockEntry is one block of the per-cycle index.
type blockEntry struct {
	off       int // header offset
	end       int // offset one past the data area
	allocated bool
	marked    bool
	queued    bool
	swept     bool
}

func (e *blockEntry) dataOff() int { return e.off + format.HeaderSize }

// blockIndex lists every block in address order. It is rebuilt each cycle
// while the world is stopped, so it never goes stale.
type blockIndex []blockEntry

// buildIndex walks the chain. On corruption it returns the blocks walked so
// far together with the error.
func buildIndex(buf []byte, hint int) (blockIndex, error) {
	idx := make(blockIndex, 0, hint)
	err := block.Walk(buf, func(h block.Header) error {
		idx = append(idx, blockEntry{off: h.Off, end: h.Next(), allocated: h.IsAllocated()})
		return nil
	})
	return idx, err
}

// find returns the index of the block whose header or data contains off.
// O(log B) via binary search.
func (idx blockIndex) find(off int) (int, bool) {
	lo, hi := 0, len(idx)-1
	for lo <= hi {
		mid := (lo + hi) >> 1
		b := &idx[mid]
		if off < b.off {
			hi = mid - 1
		} else if off >= b.end {
			lo = mid + 1
		} else {
			return mid, true
		}
	}
	return 0, false
}
