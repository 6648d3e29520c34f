// Package vmem provides platform-specific helpers for reserving a large span of
// address space up front and committing it to usable memory piece by piece.
package vmem

import (
	"errors"
	"fmt"
)

var (
	// ErrReserve indicates the address space reservation failed.
	ErrReserve = errors.New("vmem: reserve failed")
	// ErrCommit indicates pages could not be made readable and writable.
	ErrCommit = errors.New("vmem: commit failed")
	// ErrRange indicates an offset or length outside the reservation.
	ErrRange = errors.New("vmem: range outside reservation")
)

// Mapping is a reserved span of address space. Only committed ranges may be touched.
// The base address never changes for the lifetime of the mapping.
type Mapping struct {
	data    []byte
	release func() error
}

// Bytes returns the whole reservation, committed or not.
func (m *Mapping) Bytes() []byte { return m.data }

// Len returns the reserved size in bytes.
func (m *Mapping) Len() int { return len(m.data) }

// Commit makes [off, off+n) readable and writable.
func (m *Mapping) Commit(off, n int) error {
	if off < 0 || n < 0 || off+n > len(m.data) {
		return fmt.Errorf("%w: commit [%d, %d) of %d", ErrRange, off, off+n, len(m.data))
	}
	if n == 0 {
		return nil
	}
	if err := commit(m.data[off : off+n]); err != nil {
		return fmt.Errorf("%w: [%d, %d): %w", ErrCommit, off, off+n, err)
	}
	return nil
}

// Release returns the reservation to the operating system. The mapping must not
// be used afterwards. Releasing twice is a no-op.
func (m *Mapping) Release() error {
	if m.release == nil {
		return nil
	}
	err := m.release()
	m.release = nil
	m.data = nil
	return err
}
