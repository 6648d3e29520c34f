package format

import "encoding/binary"

// Word encoding for header records and scanned data.
//
// Managed values share the address space with the collector, so every word is
// stored in the host byte order. encoding/binary.NativeEndian compiles down to
// plain loads and stores.

// PutU64 writes a uint64 value to the buffer at the specified offset.
func PutU64(b []byte, off int, v uint64) {
	binary.NativeEndian.PutUint64(b[off:off+8], v)
}

// ReadU64 reads a uint64 value from the buffer at the specified offset.
func ReadU64(b []byte, off int) uint64 {
	return binary.NativeEndian.Uint64(b[off : off+8])
}

// ReadWord reads a pointer-sized word at the specified offset.
func ReadWord(b []byte, off int) uintptr {
	if WordSize == 8 {
		return uintptr(binary.NativeEndian.Uint64(b[off : off+8]))
	}
	return uintptr(binary.NativeEndian.Uint32(b[off : off+4]))
}

// PutWord writes a pointer-sized word at the specified offset.
func PutWord(b []byte, off int, v uintptr) {
	if WordSize == 8 {
		binary.NativeEndian.PutUint64(b[off:off+8], uint64(v))
		return
	}
	binary.NativeEndian.PutUint32(b[off:off+4], uint32(v))
}
