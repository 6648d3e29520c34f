package alloc

import (
	"errors"

	"github.com/joshuapare/gckit/gc/region"
)

var (
	// ErrZeroSized indicates a request for zero bytes.
	ErrZeroSized = errors.New("alloc: zero-sized allocation")

	// ErrBadAlignment indicates an alignment that is not a power of two or is
	// larger than the page size.
	ErrBadAlignment = errors.New("alloc: unsupported alignment")

	// ErrOutOfMemory indicates the region reservation is exhausted.
	ErrOutOfMemory = region.ErrOutOfMemory

	// ErrGrowFail indicates a freshly grown block could not hold the request.
	ErrGrowFail = errors.New("alloc: grow failed")

	// ErrNotFree indicates a free list entry that is marked allocated.
	ErrNotFree = errors.New("alloc: expected free block")
)
