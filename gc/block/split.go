package block

import (
	"errors"
	"fmt"

	"github.com/joshuapare/gckit/internal/format"
)

// ShrinkToFit carves a block satisfying l out of the free block h.
//
// On success it returns the block to hand out and the number of bytes that
// went into new headers. The free chain is rewritten so that the returned
// block's NextFree is exactly what should replace it in the list:
//
//   - data already aligned: h itself is returned; a trailing remainder large
//     enough for a header and a minimum data area is split off and linked
//     after h.
//   - data unaligned: a new header is placed at the lowest aligned position
//     that leaves h a minimum data area in front of it. h stays free, shrinks
//     to the leading slack and links to the new block, which is returned. Its
//     own trailing remainder is split off the same way.
//
// Free space accounting: the caller's free byte count drops by consumed plus
// the returned block's Size().
func (h Header) ShrinkToFit(l format.Layout) (Header, int, error) {
	align := l.EffectiveAlign()
	padded := l.Padded()
	size := h.Size()

	if size < padded {
		return Header{}, 0, fmt.Errorf("%w: have %d, need %d", ErrTooSmall, size, padded)
	}

	dataOff := h.DataOffset()
	if dataOff%align == 0 {
		consumed, err := h.splitTail(padded)
		if err != nil {
			return Header{}, 0, err
		}
		return h, consumed, nil
	}

	end := h.Next()
	d := format.AlignUp(dataOff+format.MinSplitSize, align)
	if d+padded > end {
		return Header{}, 0, fmt.Errorf("%w: align %d, need %d at %d, block ends at %d",
			ErrAlignmentUnreachable, align, padded, d, end)
	}

	carved, err := Init(h.Buf, d-format.HeaderSize, end-d, h.NextFree())
	if err != nil {
		return Header{}, 0, err
	}
	h.setSize(carved.Off - dataOff)
	h.SetNextFree(carved.Off)

	consumed, err := carved.splitTail(padded)
	switch {
	case errors.Is(err, ErrCannotFitNextHeader):
		// Less than a header of slack behind the carved block; hand it out whole.
		consumed = 0
	case err != nil:
		return Header{}, 0, err
	}
	return carved, format.HeaderSize + consumed, nil
}

// splitTail trims h to padded bytes, turning the remainder into a new free
// block linked directly after h. It fails with ErrCannotFitNextHeader when the
// remainder is non-zero but cannot hold a header and a minimum data area.
func (h Header) splitTail(padded int) (int, error) {
	size := h.Size()
	if size == padded {
		return 0, nil
	}
	rest := size - padded
	if rest < format.MinSplitSize {
		return 0, fmt.Errorf("%w: %d bytes left after %d", ErrCannotFitNextHeader, rest, padded)
	}

	tail, err := Init(h.Buf, h.DataOffset()+padded, rest-format.HeaderSize, h.NextFree())
	if err != nil {
		return 0, err
	}
	h.setSize(padded)
	h.SetNextFree(tail.Off)
	return format.HeaderSize, nil
}
