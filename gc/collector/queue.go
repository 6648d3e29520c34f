package collector

import "sync/atomic"

// freed is one explicitly released block awaiting reclamation.
type freed struct {
	off    int // header offset
	length int // bytes the releasing handle claimed
	next   *freed
}

// deallocQueue is a lock-free multi-producer stack drained by the collector.
type deallocQueue struct {
	head atomic.Pointer[freed]
	n    atomic.Int64
}

func (q *deallocQueue) push(off, length int) {
	node := &freed{off: off, length: length}
	for {
		old := q.head.Load()
		node.next = old
		if q.head.CompareAndSwap(old, node) {
			q.n.Add(1)
			return
		}
	}
}

// drain takes every queued entry, oldest first.
func (q *deallocQueue) drain() []freed {
	node := q.head.Swap(nil)
	var out []freed
	for ; node != nil; node = node.next {
		out = append(out, freed{off: node.off, length: node.length})
	}
	q.n.Add(-int64(len(out)))
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func (q *deallocQueue) len() int { return int(q.n.Load()) }
