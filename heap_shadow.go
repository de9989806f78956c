package keelc

import "sync/atomic"

// shadowEntry is one slot of the signal-safe shadow table.
type shadowEntry struct {
	Base    uintptr
	Payload uintptr
	Kind    BlockKind
	Size    int
}

// HeapShadow is a small fixed-size, lock-free table mirroring a sample of
// the tracked heap's live blocks, so a signal handler can inspect heap
// state without acquiring Heap.mu or allocating (spec.md §9 Open Question
// iii). It is deliberately NOT exhaustive: entries are slotted by
// hash(base) % len(slots) and a collision silently evicts whatever was
// there, so the signal handler's heap-shadow dump is a sampling device for post-mortem
// debugging, not a source of truth — Heap.blocks under Heap.mu is that.
// Grounded in original_source/HeapManager/Heap_dumpHeapSignalSafe.cpp's use
// of a bounded plain-array shadow structure instead of the real map.
type HeapShadow struct {
	slots []atomic.Pointer[shadowEntry]
}

// NewHeapShadow builds a shadow table with the given slot count.
func NewHeapShadow(size int) *HeapShadow {
	if size <= 0 {
		size = 1
	}
	return &HeapShadow{slots: make([]atomic.Pointer[shadowEntry], size)}
}

func (s *HeapShadow) index(base uintptr) int {
	h := uint64(base)
	h ^= h >> 33
	h *= 0xFF51AFD7ED558CCD
	h ^= h >> 33
	return int(h % uint64(len(s.slots)))
}

func (s *HeapShadow) record(b *HeapBlock) {
	s.slots[s.index(b.Base)].Store(&shadowEntry{
		Base:    b.Base,
		Payload: b.Payload,
		Kind:    b.Kind,
		Size:    b.Size,
	})
}

func (s *HeapShadow) remove(base uintptr) {
	slot := &s.slots[s.index(base)]
	if e := slot.Load(); e != nil && e.Base == base {
		slot.CompareAndSwap(e, nil)
	}
}

// Snapshot is a signal-safe read of every occupied slot. It performs only
// atomic loads, no locking and no allocation beyond the returned slice,
// which callers outside a signal handler should use; sighandler.go's
// signal-safe dump path iterates s.slots directly instead of calling this,
// to avoid the slice allocation here.
func (s *HeapShadow) Snapshot() []shadowEntry {
	out := make([]shadowEntry, 0, len(s.slots))
	for i := range s.slots {
		if e := s.slots[i].Load(); e != nil {
			out = append(out, *e)
		}
	}
	return out
}
