package keelc

import (
	"encoding/binary"
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

// BlockKind classifies a tracked-heap allocation for Heap.Free's dispatch
// (spec.md §4.D). It mirrors the original's ALLOC_VEC/ALLOC_STRING/
// ALLOC_OBJECT/ALLOC_LIST tags.
type BlockKind int

const (
	BlockVec BlockKind = iota
	BlockString
	BlockObject
	BlockList
)

func (k BlockKind) String() string {
	switch k {
	case BlockVec:
		return "VEC"
	case BlockString:
		return "STRING"
	case BlockObject:
		return "OBJECT"
	case BlockList:
		return "LIST"
	default:
		return "UNKNOWN"
	}
}

// HeapBlock is the tracked-heap's registry entry for one live allocation
// (spec.md §3 "heap block"). keepAlive holds the real Go-level reference
// (a []byte, a *ListHeader, ...) that backs payload/base; payload and base
// are only integer views of that same memory for the pointer arithmetic
// callers expect, and carry no rooting power of their own — keepAlive is
// what stops the GC from collecting the allocation out from under them.
type HeapBlock struct {
	Kind      BlockKind
	Base      uintptr
	Payload   uintptr
	Size      int
	keepAlive any
}

// Heap is the tracked heap (spec.md §4.D): the registry of live allocations,
// guarded by the Bloom filter for double-free detection, with an optional
// signal-safe shadow table for post-mortem inspection.
//
// Heap.AllocString allocates its backing bytes directly (the same way
// AllocVec and AllocObject do) rather than delegating to StringPool.
// AllocChars. This is grounded in original_source/HeapManager/
// Heap_allocString.cpp and Heap_free.cpp: the original HeapManager calls
// posix_memalign directly for a standalone string object and frees it with
// plain free(), with no string-pool involvement either way. The string
// pool (stringpool.go) is a separate fast path that runtime list/string
// operations call directly when they mint new STRING atom payloads; those
// allocations never pass through Heap at all, and are reclaimed via
// StringPool.FreeChars, tracked under SAMM's string-pool origin set
// instead of the heap's block registry.
type Heap struct {
	mu     sync.Mutex
	blocks map[uintptr]*HeapBlock

	bloom    *BloomFilter
	shadow   *HeapShadow
	freelist *Freelist

	doubleFrees     uint64
	bloomFalsePos   uint64
	totalAllocated  uint64
	totalFreed      uint64
	currentLiveSize uint64

	// freedBySAMM holds payloads SAMM's worker has already reclaimed
	// (see samm.go's reclaimAll/FreeFromSAMM). Free consults it before the
	// Bloom filter so a redundant free arriving through the other of
	// SAMM/explicit-user-free is silently suppressed instead of reported
	// as a double free (spec.md §4.D step 1, §4.E cleanup_pointers).
	freedBySAMM map[uintptr]struct{}
}

// NewHeap wires a Heap to the given bloom filter, shadow table, and
// freelist (for ALLOC_LIST reclamation).
func NewHeap(bloom *BloomFilter, shadow *HeapShadow, freelist *Freelist) *Heap {
	return &Heap{
		blocks:      make(map[uintptr]*HeapBlock),
		bloom:       bloom,
		shadow:      shadow,
		freelist:    freelist,
		freedBySAMM: make(map[uintptr]struct{}),
	}
}

func payloadPtr(base []byte, headerLen int) uintptr {
	return uintptr(unsafe.Pointer(&base[headerLen]))
}

// AllocVec allocates a vector of n uint64 slots behind an 8-byte length
// prefix and registers the block. Returns the payload pointer (past the
// header) as both a uintptr and a typed slice view for callers that want
// one.
func (h *Heap) AllocVec(n int) (uintptr, []uint64) {
	buf := make([]byte, 8+n*8)
	binary.LittleEndian.PutUint64(buf[:8], uint64(n))
	payload := payloadPtr(buf, 8)
	vec := unsafe.Slice((*uint64)(unsafe.Pointer(payload)), n)

	h.register(&HeapBlock{
		Kind:      BlockVec,
		Base:      uintptr(unsafe.Pointer(&buf[0])),
		Payload:   payload,
		Size:      len(buf),
		keepAlive: buf,
	})
	return payload, vec
}

// AllocString allocates a UTF-32 string object of numChars runes behind an
// 8-byte length prefix, plus a trailing NUL terminator rune, directly via
// Go's allocator (see the Heap doc comment for why this does not go
// through StringPool).
func (h *Heap) AllocString(numChars int) (uintptr, *StringValue) {
	total := 8 + (numChars+1)*4
	buf := make([]byte, total)
	binary.LittleEndian.PutUint64(buf[:8], uint64(numChars))
	payload := payloadPtr(buf, 8)
	chars := unsafe.Slice((*rune)(unsafe.Pointer(payload)), numChars+1)
	sv := &StringValue{Length: numChars, Chars: chars[:numChars], class: -1}

	h.register(&HeapBlock{
		Kind:      BlockString,
		Base:      uintptr(unsafe.Pointer(&buf[0])),
		Payload:   payload,
		Size:      total,
		keepAlive: buf,
	})
	return payload, sv
}

// AllocObject allocates a zero-filled object of size bytes. Base and
// payload coincide for objects (spec.md §3): there is no length-prefix
// header, the object layout is entirely owned by the (out-of-scope)
// class-table analysis collaborator.
func (h *Heap) AllocObject(size int) uintptr {
	buf := make([]byte, size)
	payload := uintptr(unsafe.Pointer(&buf[0]))

	h.register(&HeapBlock{
		Kind:      BlockObject,
		Base:      payload,
		Payload:   payload,
		Size:      size,
		keepAlive: buf,
	})
	return payload
}

// AllocList draws a header from the freelist and registers it with the
// tracked heap. Base and payload coincide, as for objects.
func (h *Heap) AllocList() (uintptr, *ListHeader) {
	hdr := h.freelist.Headers.Get()
	payload := uintptr(unsafe.Pointer(hdr))

	h.register(&HeapBlock{
		Kind:      BlockList,
		Base:      payload,
		Payload:   payload,
		Size:      int(unsafe.Sizeof(*hdr)),
		keepAlive: hdr,
	})
	return payload, hdr
}

func (h *Heap) register(b *HeapBlock) {
	h.mu.Lock()
	h.blocks[b.Base] = b
	h.totalAllocated += uint64(b.Size)
	h.currentLiveSize += uint64(b.Size)
	h.mu.Unlock()

	if h.shadow != nil {
		h.shadow.record(b)
	}
}

// baseForPayload returns the base address a payload maps to for the given kind
// assumption: payload-8 for VEC/STRING (length-prefixed), payload itself
// for OBJECT/LIST.
func baseForPayload(payload uintptr, prefixed bool) uintptr {
	if prefixed {
		return payload - 8
	}
	return payload
}

// Free reproduces the tracked heap's free dispatch order exactly as
// original_source/HeapManager/Heap_free.cpp implements it: a Bloom check
// against both the payload and the VEC/STRING base address first (to catch
// a double free before doing any real work), then a block lookup by
// payload, falling back to a lookup by the VEC/STRING base address, then
// dispatch by kind (ALLOC_LIST returns its header to the freelist,
// everything else is released to the Go allocator by dropping keepAlive),
// then a Bloom insert and shadow-table update.
func (h *Heap) Free(payload uintptr) error {
	h.mu.Lock()
	if _, ok := h.freedBySAMM[payload]; ok {
		delete(h.freedBySAMM, payload)
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()

	vecStringBase := baseForPayload(payload, true)

	if h.bloom.Check(unsafe.Pointer(payload)) == PossiblyPresent && h.bloom.CheckExact(unsafe.Pointer(payload)) {
		h.mu.Lock()
		h.doubleFrees++
		h.mu.Unlock()
		return errors.Errorf("double free detected at payload %#x", payload)
	}
	if h.bloom.Check(unsafe.Pointer(vecStringBase)) == PossiblyPresent && h.bloom.CheckExact(unsafe.Pointer(vecStringBase)) {
		h.mu.Lock()
		h.doubleFrees++
		h.mu.Unlock()
		return errors.Errorf("double free detected at base %#x (payload %#x)", vecStringBase, payload)
	}

	h.mu.Lock()
	block, ok := h.blocks[payload]
	if !ok {
		block, ok = h.blocks[vecStringBase]
	}
	if !ok {
		h.mu.Unlock()
		return errors.Errorf("free of unknown pointer %#x", payload)
	}
	delete(h.blocks, block.Base)
	h.totalFreed += uint64(block.Size)
	h.currentLiveSize -= uint64(block.Size)
	h.mu.Unlock()

	switch block.Kind {
	case BlockList:
		if hdr, ok := block.keepAlive.(*ListHeader); ok {
			h.freelist.Headers.Return(hdr)
		}
	default:
		// VEC, STRING, OBJECT: drop the keepAlive reference and let the Go
		// allocator reclaim it, matching the original's plain free(base).
	}

	h.bloom.Add(unsafe.Pointer(block.Base))
	if block.Payload != block.Base {
		h.bloom.Add(unsafe.Pointer(block.Payload))
	}
	if h.shadow != nil {
		h.shadow.remove(block.Base)
	}
	return nil
}

// FreeFromSAMM is the entry point SAMM's reclaim worker uses instead of
// Free directly (samm.go's reclaimAll, OriginHeap case). It performs the
// same free, then marks payload as SAMM-reclaimed so a later redundant
// explicit Free of the same payload returns nil instead of a double-free
// error (spec.md §4.E cleanup_pointers "inserts the pointer into the SAMM
// freed-pointer set").
func (h *Heap) FreeFromSAMM(payload uintptr) error {
	err := h.Free(payload)
	h.mu.Lock()
	h.freedBySAMM[payload] = struct{}{}
	h.mu.Unlock()
	return err
}

// ResizeVec grows or shrinks a VEC allocation (spec.md §4.D resize_vec): a
// fresh buffer of newN slots is allocated, the overlapping prefix of the
// old contents copied over, and the old block retired without a Bloom
// insert — a resize is not a free, so the old payload must not be flagged
// as double-freed if a stray reference to it is freed later; it simply
// stops being a known pointer.
func (h *Heap) ResizeVec(payload uintptr, newN int) (uintptr, []uint64, error) {
	oldVec, err := h.retireVec(payload)
	if err != nil {
		return 0, nil, err
	}
	newPayload, newVec := h.AllocVec(newN)
	n := len(oldVec)
	if n > newN {
		n = newN
	}
	copy(newVec[:n], oldVec[:n])
	return newPayload, newVec, nil
}

func (h *Heap) retireVec(payload uintptr) ([]uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	block, ok := h.blocks[payload]
	if !ok {
		block, ok = h.blocks[baseForPayload(payload, true)]
	}
	if !ok || block.Kind != BlockVec {
		return nil, errors.Errorf("resize_vec of unknown vec pointer %#x", payload)
	}
	buf, _ := block.keepAlive.([]byte)
	oldLen := (len(buf) - 8) / 8
	oldVec := unsafe.Slice((*uint64)(unsafe.Pointer(payloadPtr(buf, 8))), oldLen)

	delete(h.blocks, block.Base)
	h.totalFreed += uint64(block.Size)
	h.currentLiveSize -= uint64(block.Size)
	return oldVec, nil
}

// ResizeString grows or shrinks a STRING allocation (spec.md §4.D
// resize_string) the same way ResizeVec does: fresh backing storage, the
// overlapping rune prefix copied over, old block retired without a Bloom
// insert.
func (h *Heap) ResizeString(payload uintptr, newNumChars int) (uintptr, *StringValue, error) {
	oldChars, err := h.retireString(payload)
	if err != nil {
		return 0, nil, err
	}
	newPayload, newSV := h.AllocString(newNumChars)
	n := len(oldChars)
	if n > newNumChars {
		n = newNumChars
	}
	copy(newSV.Chars[:n], oldChars[:n])
	newSV.Length = n
	return newPayload, newSV, nil
}

func (h *Heap) retireString(payload uintptr) ([]rune, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	block, ok := h.blocks[payload]
	if !ok {
		block, ok = h.blocks[baseForPayload(payload, true)]
	}
	if !ok || block.Kind != BlockString {
		return nil, errors.Errorf("resize_string of unknown string pointer %#x", payload)
	}
	buf, _ := block.keepAlive.([]byte)
	total := (len(buf) - 8) / 4
	chars := unsafe.Slice((*rune)(unsafe.Pointer(payloadPtr(buf, 8))), total)

	delete(h.blocks, block.Base)
	h.totalFreed += uint64(block.Size)
	h.currentLiveSize -= uint64(block.Size)
	return chars, nil
}

// HeapMetrics mirrors original_source's Heap_printMetrics.cpp counters.
type HeapMetrics struct {
	LiveBlocks      int
	TotalAllocated  uint64
	TotalFreed      uint64
	CurrentLiveSize uint64
	DoubleFrees     uint64
	BloomFalsePos   uint64
}

func (h *Heap) Metrics() HeapMetrics {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, fp := h.bloom.Stats()
	return HeapMetrics{
		LiveBlocks:      len(h.blocks),
		TotalAllocated:  h.totalAllocated,
		TotalFreed:      h.totalFreed,
		CurrentLiveSize: h.currentLiveSize,
		DoubleFrees:     h.doubleFrees,
		BloomFalsePos:   fp,
	}
}

// DumpHeap lists every live block, sorted by base address, for debugging.
// Grounded in original_source/HeapManager/Heap_dumpHeap.cpp; unlike the
// signal-safe variant (heap_shadow.go), this one may allocate and lock
// freely because it is never called from a signal handler. Sorting makes
// repeated dumps diff-able despite the backing map's unordered iteration.
func (h *Heap) DumpHeap() []HeapBlock {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]HeapBlock, 0, len(h.blocks))
	for _, b := range h.blocks {
		out = append(out, *b)
	}
	slices.SortFunc(out, func(a, b HeapBlock) int {
		switch {
		case a.Base < b.Base:
			return -1
		case a.Base > b.Base:
			return 1
		default:
			return 0
		}
	})
	return out
}
