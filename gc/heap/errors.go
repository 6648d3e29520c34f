package heap

import "errors"

var (
	// ErrNotRunning indicates an allocation from a mutator outside Do.
	ErrNotRunning = errors.New("heap: mutator is not running")

	// ErrAllocInDestructor indicates an allocation attempted by a destructor.
	// Destructors run with the world stopped and cannot allocate.
	ErrAllocInDestructor = errors.New("heap: allocation inside destructor")

	// ErrNotBlock indicates a release of an address that is not the start of
	// an allocated block.
	ErrNotBlock = errors.New("heap: address is not an allocated block")

	// ErrClosed indicates use of a heap after Close.
	ErrClosed = errors.New("heap: closed")
)
