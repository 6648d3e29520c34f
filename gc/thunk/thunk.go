// Package thunk keeps the table of type-erased destructors referenced from
// block headers. A header stores a small integer id; the id resolves to a
// function that runs cleanup for the value at a given address.
package thunk

import (
	"fmt"
	"reflect"
	"sync"
	"unsafe"
)

// Func runs cleanup for the value stored at p.
type Func func(p unsafe.Pointer)

// Entry is one registered destructor.
type Entry struct {
	ID       uint64
	TypeName string
	Fn       Func
}

// Table maps destructor ids to functions. Id 0 is reserved for "no destructor".
// Registration is rare and lookups happen during sweeps, so reads take the
// shared lock.
type Table struct {
	mu      sync.RWMutex
	entries []Entry
	byType  map[reflect.Type]uint64
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{
		entries: []Entry{{}},
		byType:  make(map[reflect.Type]uint64),
	}
}

// Register adds fn as the destructor for typ and returns its id. Registering the
// same type twice returns the first id and ignores fn.
func (t *Table) Register(typ reflect.Type, fn Func) (uint64, error) {
	if fn == nil {
		return 0, fmt.Errorf("thunk: nil destructor for %v", typ)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if typ != nil {
		if id, ok := t.byType[typ]; ok {
			return id, nil
		}
	}

	id := uint64(len(t.entries))
	name := "<anonymous>"
	if typ != nil {
		name = typ.String()
		t.byType[typ] = id
	}
	t.entries = append(t.entries, Entry{ID: id, TypeName: name, Fn: fn})
	return id, nil
}

// Lookup returns the entry for id.
func (t *Table) Lookup(id uint64) (Entry, bool) {
	if id == 0 {
		return Entry{}, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if id >= uint64(len(t.entries)) {
		return Entry{}, false
	}
	return t.entries[id], true
}

// IDFor returns the id registered for typ.
func (t *Table) IDFor(typ reflect.Type) (uint64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.byType[typ]
	return id, ok
}

// Len returns the number of registered destructors.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries) - 1
}
