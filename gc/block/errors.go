package block

import "errors"

var (
	// ErrHeapCorrupted indicates a header failed validation or the block chain
	// does not end exactly at the end of the region.
	ErrHeapCorrupted = errors.New("block: heap corrupted")

	// ErrAlreadyAllocated indicates an attempt to allocate a block that is in use.
	ErrAlreadyAllocated = errors.New("block: already allocated")

	// ErrAlreadyFree indicates an attempt to free a block that is already free.
	ErrAlreadyFree = errors.New("block: already free")

	// ErrTooSmall indicates the block cannot hold the padded request.
	ErrTooSmall = errors.New("block: too small")

	// ErrCannotFitNextHeader indicates the leftover space is larger than zero
	// but too small to hold another header and a minimum data area.
	ErrCannotFitNextHeader = errors.New("block: cannot fit next header")

	// ErrAlignmentUnreachable indicates no suitably aligned position inside the
	// block leaves room for the request.
	ErrAlignmentUnreachable = errors.New("block: alignment unreachable")
)

// IsFitFailure reports whether err only means "try the next free block".
func IsFitFailure(err error) bool {
	return errors.Is(err, ErrTooSmall) ||
		errors.Is(err, ErrCannotFitNextHeader) ||
		errors.Is(err, ErrAlignmentUnreachable)
}
