//go:build !unix

package vmem

import (
	"fmt"
	"unsafe"
)

const fallbackPage = 0x1000

// PageSize returns the page size assumed when mmap is not available.
func PageSize() int {
	return fallbackPage
}

// Reserve allocates the whole span from the Go heap when mmap is not available.
// The slice is over-allocated so the returned base is page aligned.
func Reserve(size int) (*Mapping, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: size %d", ErrReserve, size)
	}
	raw := make([]byte, size+fallbackPage)
	base := uintptr(unsafe.Pointer(unsafe.SliceData(raw)))
	skip := int((fallbackPage - base%fallbackPage) % fallbackPage)
	m := &Mapping{data: raw[skip : skip+size : skip+size]}
	m.release = func() error {
		raw = nil
		return nil
	}
	return m, nil
}

func commit([]byte) error { return nil }
