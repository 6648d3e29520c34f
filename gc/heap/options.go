package heap

import (
	"github.com/joshuapare/gckit/gc/alloc"
	"github.com/joshuapare/gckit/gc/collector"
	"github.com/joshuapare/gckit/gc/region"
	"github.com/joshuapare/gckit/gc/world"
)

// Options configures a Heap.
type Options struct {
	// Region sizes the reservation backing the heap.
	Region region.Options

	// Alloc configures every per-mutator allocator.
	Alloc alloc.Options

	// Collector configures the cycle loop.
	Collector collector.Options

	// StackWords is the shadow stack size of each attached mutator.
	// Default: world.DefaultStackWords.
	StackWords int
}

// DefaultOptions returns the default heap configuration.
func DefaultOptions() Options {
	return Options{
		Region:     region.DefaultOptions(),
		Alloc:      alloc.DefaultOptions(),
		Collector:  collector.DefaultOptions(),
		StackWords: world.DefaultStackWords,
	}
}
