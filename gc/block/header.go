// Package block implements the header records that partition the managed
// region into a contiguous chain of blocks.
//
// Every block is a 32-byte header immediately followed by its data area:
//
//	u64  nextFree    offset of the next free block (only meaningful while free)
//	u64  size        data bytes following the header, a multiple of 16
//	u64  flags       magic tag in the upper half, allocated bit in bit 0
//	u64  destructor  destructor table id, 0 when none
//	...  data
//
// Headers live at 16-byte aligned offsets. Walking the chain from offset 0 by
// repeatedly stepping to Next() must land exactly on the end of the region.
// Blocks are addressed by region offset rather than by pointer so traversal
// stays within bounds-checked slices.
package block

import (
	"fmt"

	"github.com/joshuapare/gckit/internal/format"
)

// Nil is the offset used for "no block" in free list links.
const Nil = -1

// Header is a zero-cost view over a single block header inside the region.
type Header struct {
	// Buf is the usable region prefix backing this header.
	Buf []byte
	// Off is the offset into Buf where THIS header starts.
	Off int
}

// Init writes a fresh free header at off with the given data size and free
// list successor. It does not validate neighbours.
func Init(buf []byte, off, size, next int) (Header, error) {
	if off < 0 || off%format.MinAlign != 0 || size < 0 || size%format.MinAlign != 0 ||
		off+format.HeaderSize+size > len(buf) {
		return Header{}, fmt.Errorf("%w: init header at %d size %d (len=%d)", ErrHeapCorrupted, off, size, len(buf))
	}
	h := Header{Buf: buf, Off: off}
	h.setSize(size)
	h.SetNextFree(next)
	format.PutU64(buf, off+format.HeaderFlagsOffset, format.HeaderMagic<<32)
	format.PutU64(buf, off+format.HeaderDestructorOffset, format.NoDestructor)
	return h, nil
}

// At returns the header at off after checking bounds and the magic tag.
func At(buf []byte, off int) (Header, error) {
	if off < 0 || off%format.MinAlign != 0 || off+format.HeaderSize > len(buf) {
		return Header{}, fmt.Errorf("%w: header at %d truncated (len=%d)", ErrHeapCorrupted, off, len(buf))
	}
	h := Header{Buf: buf, Off: off}
	if h.flags()>>32 != format.HeaderMagic {
		return Header{}, fmt.Errorf("%w: header at %d: %w", ErrHeapCorrupted, off, format.ErrBadMagic)
	}
	if size := h.Size(); size < 0 || size%format.MinAlign != 0 || h.Next() > len(buf) {
		return Header{}, fmt.Errorf("%w: header at %d has size %d past end %d", ErrHeapCorrupted, off, size, len(buf))
	}
	return h, nil
}

// Size returns the number of data bytes that follow the header.
func (h Header) Size() int {
	return int(format.ReadU64(h.Buf, h.Off+format.HeaderSizeOffset))
}

func (h Header) setSize(size int) {
	format.PutU64(h.Buf, h.Off+format.HeaderSizeOffset, uint64(size))
}

func (h Header) flags() uint64 {
	return format.ReadU64(h.Buf, h.Off+format.HeaderFlagsOffset)
}

func (h Header) setFlags(v uint64) {
	format.PutU64(h.Buf, h.Off+format.HeaderFlagsOffset, v)
}

// DataOffset returns the region offset of the first data byte.
func (h Header) DataOffset() int { return h.Off + format.HeaderSize }

// Next returns the offset of the header that physically follows this block.
func (h Header) Next() int { return h.DataOffset() + h.Size() }

// Data returns the block's data area.
func (h Header) Data() []byte {
	start := h.DataOffset()
	end := start + h.Size()
	return h.Buf[start:end:end]
}

// Contains reports whether the region offset off falls inside the data area.
func (h Header) Contains(off int) bool {
	return off >= h.DataOffset() && off < h.Next()
}

// IsAllocated reports whether the block is handed out.
func (h Header) IsAllocated() bool {
	return h.flags()&format.FlagAllocated != 0
}

// MarkAllocated flips the block to allocated. Allocating an allocated block
// means the free list and the chain disagree.
func (h Header) MarkAllocated() error {
	f := h.flags()
	if f&format.FlagAllocated != 0 {
		return fmt.Errorf("%w: block at %d", ErrAlreadyAllocated, h.Off)
	}
	h.setFlags(f | format.FlagAllocated)
	format.PutU64(h.Buf, h.Off+format.HeaderNextFreeOffset, format.NoLink)
	return nil
}

// MarkFree flips the block to free and links it in front of next.
func (h Header) MarkFree(next int) error {
	f := h.flags()
	if f&format.FlagAllocated == 0 {
		return fmt.Errorf("%w: block at %d", ErrAlreadyFree, h.Off)
	}
	h.setFlags(f &^ format.FlagAllocated)
	h.SetNextFree(next)
	return nil
}

// NextFree returns the free list successor, or Nil.
func (h Header) NextFree() int {
	v := format.ReadU64(h.Buf, h.Off+format.HeaderNextFreeOffset)
	if v == format.NoLink {
		return Nil
	}
	return int(v)
}

// SetNextFree links the block in front of next. Pass Nil to end the list.
func (h Header) SetNextFree(next int) {
	v := format.NoLink
	if next != Nil {
		v = uint64(next)
	}
	format.PutU64(h.Buf, h.Off+format.HeaderNextFreeOffset, v)
}

// Destructor returns the destructor table id stored in the header.
func (h Header) Destructor() uint64 {
	return format.ReadU64(h.Buf, h.Off+format.HeaderDestructorOffset)
}

// SetDestructor stores a destructor table id. Pass format.NoDestructor to clear it.
func (h Header) SetDestructor(id uint64) {
	format.PutU64(h.Buf, h.Off+format.HeaderDestructorOffset, id)
}

func (h Header) String() string {
	state := "free"
	if h.IsAllocated() {
		state = "alloc"
	}
	return fmt.Sprintf("block{off=%d size=%d %s}", h.Off, h.Size(), state)
}
