package keelc

import (
	"strings"

	"github.com/pkg/errors"
)

// RuntimeSymbolTable is a fixed-capacity registry of runtime support
// function names the linker resolves external calls against (spec.md §4.J
// "runtime symbols"), grounded in original_source's RuntimeSymbols.cpp.
// Names are upper-cased at registration so lookups are case-insensitive
// the way the original's symbol table was. spec.md §4.I requires
// registration to reject duplicates after upper-casing the name.
type RuntimeSymbolTable struct {
	slots    []string
	offsets  map[string]int
	nextSlot int
}

// NewRuntimeSymbolTable builds a table with the given slot capacity
// (spec.md default: 65536, see config.go's RuntimeTableSlots).
func NewRuntimeSymbolTable(capacity int) *RuntimeSymbolTable {
	if capacity <= 0 {
		capacity = 1
	}
	return &RuntimeSymbolTable{
		slots:   make([]string, capacity),
		offsets: make(map[string]int),
	}
}

// Register assigns name (case-folded) the next free slot and returns it,
// rejecting a name already registered under its upper-cased form.
func (t *RuntimeSymbolTable) Register(name string) (int, error) {
	key := strings.ToUpper(name)
	if off, ok := t.offsets[key]; ok {
		return off, errors.Errorf("runtime symbol %q already registered", key)
	}
	slot := t.nextSlot
	t.nextSlot++
	if slot < len(t.slots) {
		t.slots[slot] = key
	}
	t.offsets[key] = slot
	return slot, nil
}

// GetOffset returns the slot index for name, and whether it was found.
func (t *RuntimeSymbolTable) GetOffset(name string) (int, bool) {
	off, ok := t.offsets[strings.ToUpper(name)]
	return off, ok
}

// IsRegistered reports whether name has been registered.
func (t *RuntimeSymbolTable) IsRegistered(name string) bool {
	_, ok := t.offsets[strings.ToUpper(name)]
	return ok
}

// Len reports how many distinct symbols have been registered.
func (t *RuntimeSymbolTable) Len() int { return t.nextSlot }
