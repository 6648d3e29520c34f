package format

import "errors"

var (
	// ErrTruncated indicates the buffer lacked the bytes required for a header.
	ErrTruncated = errors.New("format: truncated buffer")
	// ErrBadMagic indicates a header word did not carry the expected tag.
	ErrBadMagic = errors.New("format: header magic mismatch")
	// ErrBadLayout indicates a size or alignment the heap cannot represent.
	ErrBadLayout = errors.New("format: invalid layout")
)
