package world

import "errors"

var (
	// ErrStackOverflow indicates a frame does not fit in the mutator's shadow stack.
	ErrStackOverflow = errors.New("world: shadow stack overflow")

	// ErrFrameOrder indicates a frame was popped while a newer one was live.
	ErrFrameOrder = errors.New("world: frame popped out of order")

	// ErrDetached indicates use of a mutator after Detach.
	ErrDetached = errors.New("world: mutator detached")

	// ErrRunning indicates Detach was called from inside Do.
	ErrRunning = errors.New("world: mutator is running")
)
