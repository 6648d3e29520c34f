package gc

import "errors"

var (
	// ErrPointerType indicates a type containing Go pointers.
	ErrPointerType = errors.New("gc: type contains Go pointers")

	// ErrConfigured indicates Configure was called after the default heap was created.
	ErrConfigured = errors.New("gc: default heap already created")

	// ErrNotManaged indicates an address that belongs to no open heap.
	ErrNotManaged = errors.New("gc: address not in a managed heap")
)
