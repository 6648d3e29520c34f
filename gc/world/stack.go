package world

import "fmt"

// Frame is a group of root slots on a mutator's shadow stack. Frames are
// pushed and popped in LIFO order; the collector scans every live slot as a
// potential managed address.
type Frame struct {
	m   *Mutator
	lo  int
	len int
}

// PushFrame reserves n zeroed slots on top of the shadow stack.
func (m *Mutator) PushFrame(n int) (*Frame, error) {
	if n < 0 || n > m.sp {
		return nil, fmt.Errorf("%w: need %d slots, %d free", ErrStackOverflow, n, m.sp)
	}
	m.sp -= n
	clear(m.stack[m.sp : m.sp+n])
	return &Frame{m: m, lo: m.sp, len: n}, nil
}

// StackPointer returns the index of the lowest live slot.
func (m *Mutator) StackPointer() int { return m.sp }

// StackDepth returns the number of live slots.
func (m *Mutator) StackDepth() int { return len(m.stack) - m.sp }

// Len returns the number of slots in the frame.
func (f *Frame) Len() int { return f.len }

// Set stores addr in slot i.
func (f *Frame) Set(i int, addr uintptr) {
	f.m.stack[f.slot(i)] = addr
}

// Get returns the address in slot i.
func (f *Frame) Get(i int) uintptr {
	return f.m.stack[f.slot(i)]
}

// Clear zeroes slot i.
func (f *Frame) Clear(i int) {
	f.m.stack[f.slot(i)] = 0
}

func (f *Frame) slot(i int) int {
	if i < 0 || i >= f.len {
		panic(fmt.Sprintf("world: frame slot %d out of range [0, %d)", i, f.len))
	}
	return f.lo + i
}

// Pop releases the frame. Only the most recently pushed frame may be popped.
func (f *Frame) Pop() error {
	if f.m == nil {
		return nil
	}
	if f.m.sp != f.lo {
		return fmt.Errorf("%w: frame at %d, stack pointer at %d", ErrFrameOrder, f.lo, f.m.sp)
	}
	clear(f.m.stack[f.lo : f.lo+f.len])
	f.m.sp += f.len
	f.m = nil
	return nil
}
