package format

// Alignment utilities for the managed heap.
// Headers and data areas are 16-byte aligned, the region grows in whole pages.

// Align16 returns n aligned up to the next 16-byte boundary.
//
// Example:
//
//	Align16(1)  = 16
//	Align16(16) = 16
//	Align16(17) = 32
func Align16(n int) int {
	return (n + Align16Mask) & ^Align16Mask
}

// AlignPage returns n aligned up to the next page boundary.
//
// Example:
//
//	AlignPage(1)    = 4096
//	AlignPage(4096) = 4096
//	AlignPage(4097) = 8192
func AlignPage(n int) int {
	return (n + PageAlignmentMask) & ^PageAlignmentMask
}

// AlignUp returns n aligned up to a multiple of align, which must be a power of two.
func AlignUp(n, align int) int {
	mask := align - 1
	return (n + mask) & ^mask
}

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// PagesFor returns the number of pages needed to hold n bytes.
func PagesFor(n int) int {
	return AlignPage(n) / PageSize
}
