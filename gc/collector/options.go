package collector

import "time"

const (
	// DefaultInterval is the time between timer-triggered cycles.
	DefaultInterval = 2 * time.Second

	// DefaultRootBufferWords is the initial capacity of the native root buffer.
	DefaultRootBufferWords = 256
)

// Options configures a Collector.
type Options struct {
	// Interval is the time between timer-triggered cycles.
	// Zero selects DefaultInterval; a negative value disables the timer so
	// only explicit triggers start a cycle.
	Interval time.Duration

	// RootBufferWords is the initial capacity of the buffer that collects
	// candidates found in native memory. It doubles whenever a pass overflows.
	// Default: 256.
	RootBufferWords int

	// VerifyHeap re-walks the block chain and every free list at the end of
	// each cycle and counts any inconsistency as a corruption.
	// Default: false.
	VerifyHeap bool
}

// DefaultOptions returns the default collector configuration.
func DefaultOptions() Options {
	return Options{
		Interval:        DefaultInterval,
		RootBufferWords: DefaultRootBufferWords,
	}
}
