package collector

import "github.com/cockroachdb/errors"

var (
	// ErrDestructorFailed marks a destructor that panicked during a sweep.
	// The block is reclaimed regardless.
	ErrDestructorFailed = errors.New("collector: destructor failed")

	// ErrNotInHeap indicates a deallocation of an address outside the region.
	ErrNotInHeap = errors.New("collector: address not in managed heap")

	// ErrBadFree indicates a deallocation whose length exceeds the block.
	ErrBadFree = errors.New("collector: freed length exceeds block size")
)
