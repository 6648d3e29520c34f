/*
Package gc provides typed handles to values stored in a garbage collected heap.

Values live outside the Go heap, in a region owned by a conservative
mark-sweep collector. A value is kept alive while some root holds its
address: a slot in a mutator's shadow stack frame, a global segment, native
memory registered with the heap, or another live managed value.

# Quick Start

Attach a mutator, allocate inside its Do section and root what you keep:

	m, err := gc.Attach()
	if err != nil {
	    log.Fatal(err)
	}
	defer m.Detach()

	frame, _ := m.PushFrame(1)
	defer frame.Pop()

	err = m.Do(func() error {
	    p, err := gc.New(m, Point{X: 1, Y: 2})
	    if err != nil {
	        return err
	    }
	    frame.Set(0, p.Addr())
	    return nil
	})

# Handles

  - Gc[T]: shared, immutable handle. Copy freely.
  - GcMut[T]: unique, mutable handle. Release frees the value immediately.
  - GcSlice[T] / GcMutSlice[T]: the same for contiguous runs of T.

Handles are plain addresses, so they may be stored inside other managed
values. T itself must not contain Go pointers, strings, slices, maps,
channels, functions or interfaces; the Go collector cannot see into the
managed heap.

# Destructors

A T whose pointer implements Destructor has Destroy called once, either when
the collector finds the value unreachable or when a GcMut is released.
Destroy runs with every mutator suspended and must not allocate.

# Default Heap

The package-level functions use a process-wide heap created on first use.
Call Configure before that to change its options.
*/
package gc
