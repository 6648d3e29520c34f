package collector

import "time"

// CycleStats describes one collection cycle.
type CycleStats struct {
	Cycle    uint64        // 1-based cycle number
	Start    time.Time     // when the world was stopped
	Pause    time.Duration // how long the world stayed stopped
	Mutators int           // mutators suspended

	Candidates    int // distinct in-region words found in roots
	HeaderRoots   int // candidates pointing exactly at a header
	DanglingRoots int // candidates pointing into free blocks
	RootBlocks    int // blocks marked directly from roots
	MarkedBlocks  int // blocks marked in total
	Blocks        int // blocks in the chain

	Queued        int   // released blocks reclaimed
	QueuedBytes   int64 // data bytes of released blocks
	Swept         int   // unreachable blocks reclaimed
	SweptBytes    int64 // data bytes of unreachable blocks
	SweptReleases int   // releases dropped because the block was swept in the same cycle

	Destructors        int // destructors run
	DestructorFailures int // destructors that panicked

	RootBufferGrowths int // native root buffer regrowths
	ReclaimFailures   int // blocks an allocator refused
	Corruptions       int // heap consistency violations observed
}

// Totals accumulates statistics over every cycle.
type Totals struct {
	Cycles             uint64
	TotalPause         time.Duration
	MaxPause           time.Duration
	Queued             int64
	QueuedBytes        int64
	Swept              int64
	SweptBytes         int64
	DanglingRoots      int64
	Destructors        int64
	DestructorFailures int64
	Corruptions        int64
}

func (t *Totals) add(st CycleStats) {
	t.Cycles++
	t.TotalPause += st.Pause
	t.MaxPause = max(t.MaxPause, st.Pause)
	t.Queued += int64(st.Queued)
	t.QueuedBytes += st.QueuedBytes
	t.Swept += int64(st.Swept)
	t.SweptBytes += st.SweptBytes
	t.DanglingRoots += int64(st.DanglingRoots)
	t.Destructors += int64(st.Destructors)
	t.DestructorFailures += int64(st.DestructorFailures)
	t.Corruptions += int64(st.Corruptions)
}
