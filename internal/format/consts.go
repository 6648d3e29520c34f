// Package format defines the on-heap layout shared by the block, allocator and
// collector packages: header field offsets, alignment rules and the word codec
// used to read and write header records inside the managed region. Nothing in
// here touches the region itself; callers pass byte slices and offsets.
package format

import "unsafe"

const (
	// HeaderSize is the size of a block header record in bytes.
	// Layout (native-endian):
	//   0x00  nextFree   u64  region offset of the next free block, NoLink at the end
	//   0x08  size       u64  usable data bytes that follow the header
	//   0x10  flags      u64  magic in the upper half, allocated bit in bit 0
	//   0x18  destructor u64  destructor table id, 0 when none
	HeaderSize = 0x20

	// MinAlign is the alignment of every header and of every block's data.
	MinAlign = 16

	// MinBlockSize is the smallest data area a split is allowed to leave behind.
	MinBlockSize = MinAlign

	// MinSplitSize is the smallest remainder that can become its own block.
	MinSplitSize = HeaderSize + MinBlockSize

	// PageSize is the unit the region grows by.
	PageSize = 0x1000

	// MaxAlign is the largest alignment a request may ask for. The region base is
	// page aligned, so offsets and addresses agree modulo MaxAlign.
	MaxAlign = PageSize

	// WordSize is the stride used by the conservative scanner.
	WordSize = int(unsafe.Sizeof(uintptr(0)))
)

// Header field offsets relative to the start of a header.
const (
	HeaderNextFreeOffset   = 0x00
	HeaderSizeOffset       = 0x08
	HeaderFlagsOffset      = 0x10
	HeaderDestructorOffset = 0x18
)

const (
	// HeaderMagic tags the upper half of the flags word so stray offsets are
	// caught before they are interpreted as headers.
	HeaderMagic uint64 = 0x67636b62 // "gckb"

	// FlagAllocated marks a block as handed out to a mutator.
	FlagAllocated uint64 = 1 << 0

	// NoLink terminates the free list.
	NoLink uint64 = ^uint64(0)

	// NoDestructor is the destructor id of blocks without cleanup.
	NoDestructor uint64 = 0
)

const (
	// Align16Mask is used for 16-byte alignment.
	Align16Mask = MinAlign - 1

	// PageAlignmentMask is used for page alignment.
	PageAlignmentMask = PageSize - 1
)
