package block

import (
	"fmt"
	"io"

	"github.com/joshuapare/gckit/internal/format"
)

// Iterator walks the block chain in address order.
type Iterator struct {
	buf  []byte
	next int
	done bool
}

// NewIterator returns an iterator positioned at the first block.
func NewIterator(buf []byte) Iterator {
	return Iterator{buf: buf}
}

// Next returns the next block or io.EOF once the chain ends exactly at the
// end of the buffer. A chain that overruns the buffer reports ErrHeapCorrupted.
func (it *Iterator) Next() (Header, error) {
	if it.done {
		return Header{}, io.EOF
	}
	if it.next == len(it.buf) {
		it.done = true
		return Header{}, io.EOF
	}
	h, err := At(it.buf, it.next)
	if err != nil {
		it.done = true
		return Header{}, err
	}
	it.next = h.Next()
	return h, nil
}

// Walk calls fn for every block in address order. Iteration stops at the first
// error returned by fn.
func Walk(buf []byte, fn func(Header) error) error {
	it := NewIterator(buf)
	for {
		h, err := it.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(h); err != nil {
			return err
		}
	}
}

// Summary describes the state of the chain and the free lists.
type Summary struct {
	Blocks      int // total blocks in the chain
	Allocated   int // blocks handed out
	Free        int // blocks not handed out
	AllocBytes  int // data bytes in allocated blocks
	FreeBytes   int // data bytes in free blocks
	HeaderBytes int // bytes spent on headers
}

// Verify walks the whole chain and checks that every free block is reachable
// from exactly one of the given free list heads. Heads may be Nil.
func Verify(buf []byte, heads ...int) (Summary, error) {
	var s Summary
	free := make(map[int]bool)
	err := Walk(buf, func(h Header) error {
		s.Blocks++
		s.HeaderBytes += format.HeaderSize
		if h.IsAllocated() {
			s.Allocated++
			s.AllocBytes += h.Size()
			return nil
		}
		s.Free++
		s.FreeBytes += h.Size()
		free[h.Off] = false
		return nil
	})
	if err != nil {
		return s, err
	}

	for _, head := range heads {
		for off := head; off != Nil; {
			seen, ok := free[off]
			if !ok {
				return s, fmt.Errorf("%w: free list reaches %d, not a free block", ErrHeapCorrupted, off)
			}
			if seen {
				return s, fmt.Errorf("%w: free block %d linked twice", ErrHeapCorrupted, off)
			}
			free[off] = true
			h, err := At(buf, off)
			if err != nil {
				return s, err
			}
			off = h.NextFree()
		}
	}
	if len(heads) > 0 {
		for off, seen := range free {
			if !seen {
				return s, fmt.Errorf("%w: free block %d not on any free list", ErrHeapCorrupted, off)
			}
		}
	}
	return s, nil
}
