package collector

import (
	"fmt"
	"slices"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/joshuapare/gckit/gc/block"
	"github.com/joshuapare/gckit/internal/format"
	"github.com/joshuapare/gckit/internal/logger"
)

// cycle runs one collection with the world stopped for its whole duration.
func (c *Collector) cycle() CycleStats {
	st := CycleStats{Cycle: c.cycles.Load() + 1}
	logger.Info("gc cycle starting", "cycle", st.Cycle)

	c.world.StopTheWorld()
	c.registry.Lock()
	st.Start = time.Now()
	c.world.FlushWrites()

	buf := c.region.Bytes()
	c.roots = c.roots[:0]
	c.gatherRoots(&st)

	idx, err := buildIndex(buf, c.last.Blocks)
	if err != nil {
		st.Corruptions++
		logger.Error("heap corruption detected", "cycle", st.Cycle, "blocks", len(idx), "error", err)
	}
	st.Blocks = len(idx)

	c.markRoots(idx, &st)
	c.trace(buf, idx, &st)

	queued := c.takeQueued(buf, idx, &st)
	swept := c.sweep(buf, idx, &st)
	// Destructors may have released blocks of their own.
	queued = append(queued, c.takeQueued(buf, idx, &st)...)

	allocators := c.registry.All()
	st.ReclaimFailures += distribute(allocators, queued)
	st.ReclaimFailures += distribute(allocators, swept)
	if st.ReclaimFailures > 0 {
		st.Corruptions += st.ReclaimFailures
		logger.Error("blocks could not be reclaimed", "cycle", st.Cycle, "count", st.ReclaimFailures)
	}

	if c.opts.VerifyHeap {
		if _, err := block.Verify(c.region.Bytes(), c.registry.Heads()...); err != nil {
			st.Corruptions++
			logger.Error("heap verification failed", "cycle", st.Cycle, "error", err)
		}
	}

	st.Pause = time.Since(st.Start)
	c.registry.Unlock()
	c.world.StartTheWorld()
	c.cycles.Add(1)

	logger.Info("gc cycle finished",
		"cycle", st.Cycle,
		"pause", st.Pause,
		"mutators", st.Mutators,
		"marked", st.MarkedBlocks,
		"swept", st.Swept,
		"queued", st.Queued,
		"dangling", st.DanglingRoots,
	)
	return st
}

// gatherRoots collects in-region words from native memory, globals, and every
// suspended mutator's registers and stack, then sorts and deduplicates them as
// region offsets into c.roots.
func (c *Collector) gatherRoots(st *CycleStats) {
	c.scanNative(st)

	c.world.ScanSegments(func(name string, words []uintptr) {
		n := c.addRoots(words)
		logger.Debug("scanned segment", "name", name, "words", len(words), "roots", n)
	})

	c.world.ScanThreads(func(id uint64, registers, stack []uintptr) {
		st.Mutators++
		nr := c.addRoots(registers)
		ns := c.addRoots(stack)
		logger.Debug("scanned mutator", "id", id, "register_roots", nr, "stack_words", len(stack), "stack_roots", ns)
	})

	slices.Sort(c.roots)
	c.roots = slices.Compact(c.roots)
	st.Candidates = len(c.roots)
}

func (c *Collector) addRoots(words []uintptr) int {
	n := 0
	for _, w := range words {
		if off, ok := c.region.Offset(w); ok {
			c.roots = append(c.roots, off)
			n++
		}
	}
	return n
}

// scanNative walks the native heap into the root buffer, skipping the buffer's
// own block. When the buffer fills up it is regrown with the native heap
// unlocked and the pass restarts.
func (c *Collector) scanNative(st *CycleStats) {
	if c.rootBuf == nil {
		c.rootBuf = c.native.Alloc(c.opts.RootBufferWords)
	}

	for {
		n, full := 0, false
		self := c.rootBuf.ID()
		capacity := c.rootBuf.Len()

		c.native.Lock()
		c.native.WalkLocked(func(id uint64, words []uintptr) bool {
			if id == self {
				return true
			}
			for _, w := range words {
				if !c.region.Contains(w) {
					continue
				}
				if n == capacity {
					full = true
					return false
				}
				c.rootBuf.Store(n, w)
				n++
			}
			return true
		})
		c.native.Unlock()

		if !full {
			for i := range n {
				off, _ := c.region.Offset(c.rootBuf.Load(i))
				c.roots = append(c.roots, off)
			}
			return
		}

		old := c.rootBuf
		c.rootBuf = c.native.Alloc(2 * capacity)
		c.native.Free(old)
		st.RootBufferGrowths++
		logger.Debug("root buffer grown", "words", c.rootBuf.Len())
	}
}

// markRoots resolves the sorted candidates against the block index in one
// merge pass.
func (c *Collector) markRoots(idx blockIndex, st *CycleStats) {
	c.work = c.work[:0]
	j := 0
	for _, off := range c.roots {
		for j < len(idx) && off >= idx[j].end {
			j++
		}
		if j == len(idx) {
			break
		}
		b := &idx[j]
		switch {
		case off == b.off:
			// A word equal to a header address is internal bookkeeping, not a
			// reference to the value.
			st.HeaderRoots++
		case !b.allocated:
			st.DanglingRoots++
			logger.Warn("dangling pointer detected", "offset", off, "block", b.off, "size", b.end-b.dataOff())
		case !b.marked:
			b.marked = true
			st.RootBlocks++
			st.MarkedBlocks++
			c.work = append(c.work, j)
		}
	}
}

// trace marks everything reachable from the work list.
func (c *Collector) trace(buf []byte, idx blockIndex, st *CycleStats) {
	for len(c.work) > 0 {
		j := c.work[len(c.work)-1]
		c.work = c.work[:len(c.work)-1]

		data := buf[idx[j].dataOff():idx[j].end]
		for i := 0; i+format.WordSize <= len(data); i += format.WordSize {
			off, ok := c.region.Offset(format.ReadWord(data, i))
			if !ok {
				continue
			}
			k, ok := idx.find(off)
			if !ok {
				continue
			}
			b := &idx[k]
			if off == b.off || !b.allocated || b.marked {
				continue
			}
			b.marked = true
			st.MarkedBlocks++
			c.work = append(c.work, k)
		}
	}
}

// takeQueued drains the deallocation queue. Released blocks are returned first
// and excluded from the sweep, whether or not something still refers to them.
// Entries for blocks this cycle already swept are dropped.
func (c *Collector) takeQueued(buf []byte, idx blockIndex, st *CycleStats) []int {
	entries := c.queue.drain()
	offs := make([]int, 0, len(entries))
	for _, e := range entries {
		k, ok := idx.find(e.off)
		if !ok || idx[k].off != e.off {
			st.Corruptions++
			logger.Error("released address is not a block", "offset", e.off)
			continue
		}
		b := &idx[k]
		if b.swept {
			// Released by a destructor after the sweep already took it.
			st.SweptReleases++
			logger.Debug("released block already swept", "block", b.off)
			continue
		}
		if !b.allocated || b.queued {
			st.Corruptions++
			logger.Error("block released twice", "block", b.off)
			continue
		}
		h, err := block.At(buf, b.off)
		if err != nil {
			st.Corruptions++
			logger.Error("released block unreadable", "block", b.off, "error", err)
			continue
		}
		if e.length > h.Size() {
			st.Corruptions++
			logger.Error("invalid free", "block", b.off, "length", e.length, "size", h.Size(),
				"error", fmt.Errorf("%w: %d > %d", ErrBadFree, e.length, h.Size()))
			continue
		}
		if b.marked {
			logger.Debug("released block still referenced", "block", b.off)
		}
		h.SetDestructor(format.NoDestructor)
		b.queued = true
		st.Queued++
		st.QueuedBytes += int64(h.Size())
		offs = append(offs, b.off)
	}
	return offs
}

// sweep runs the destructor of every allocated, unmarked, unreleased block and
// returns their offsets.
func (c *Collector) sweep(buf []byte, idx blockIndex, st *CycleStats) []int {
	var offs []int
	for k := range idx {
		b := &idx[k]
		if !b.allocated || b.marked || b.queued {
			continue
		}
		h, err := block.At(buf, b.off)
		if err != nil {
			st.Corruptions++
			logger.Error("swept block unreadable", "block", b.off, "error", err)
			continue
		}
		b.swept = true
		if id := h.Destructor(); id != format.NoDestructor {
			h.SetDestructor(format.NoDestructor)
			st.Destructors++
			if err := c.runDestructor(id, b.dataOff()); err != nil {
				st.DestructorFailures++
				logger.Error("destructor failed", "block", b.off, "error", err)
				logger.Debug("destructor failure detail", "block", b.off, "detail", fmt.Sprintf("%+v", err))
			}
		}
		st.Swept++
		st.SweptBytes += int64(h.Size())
		offs = append(offs, b.off)
	}
	return offs
}

// runDestructor invokes destructor id on the value at dataOff, converting a
// panic into an error marked ErrDestructorFailed.
func (c *Collector) runDestructor(id uint64, dataOff int) (err error) {
	e, ok := c.thunks.Lookup(id)
	if !ok {
		return errors.Mark(errors.Newf("unknown destructor id %d", id), ErrDestructorFailed)
	}

	c.inDestructor.Store(true)
	defer func() {
		c.inDestructor.Store(false)
		if r := recover(); r != nil {
			err = errors.Mark(
				errors.WithStack(errors.Newf("destructor for %s panicked: %v", e.TypeName, r)),
				ErrDestructorFailed,
			)
		}
	}()

	e.Fn(c.region.Pointer(dataOff))
	return nil
}
