package keelc

import (
	"sync"
	"unsafe"
)

// StringValue is a UTF-32 string payload: a length and a fixed-capacity rune
// buffer (spec.md §3 "String value"). Chars is always len == capacity for
// the owning size class; Length is the in-use prefix. Runtime ops that grow
// a string beyond its current capacity allocate a fresh StringValue from
// the next size class and copy, rather than reallocating in place.
type StringValue struct {
	Length int
	Chars  []rune

	class    int // index into StringPool.classes, or -1 if oversized (bypassed the pools)
	poolNext *StringValue
}

// Runes returns the in-use prefix of Chars.
func (s *StringValue) Runes() []rune { return s.Chars[:s.Length] }

// sizeClassPool is one size-classed slab of same-capacity StringValue
// records (spec.md §4.C). Like the freelist pools, char buffers are carved
// from a slab allocator rather than allocated one rune-slice at a time, the
// same adaptation arena.go's bump allocator gets in slab.go.
type sizeClassPool struct {
	mu sync.Mutex

	charCap int
	slab    *slabAllocator // records are charCap runes (charCap*4 bytes)

	free             *StringValue
	currentChunkSize int

	totalAllocated uint64
	totalReused    uint64
}

func newSizeClassPool(charCap, initialChunk int) *sizeClassPool {
	return &sizeClassPool{
		charCap:          charCap,
		slab:             newSlabAllocator(charCap * 4),
		currentChunkSize: initialChunk,
	}
}

func (p *sizeClassPool) get(classIdx int) *StringValue {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.free == nil {
		p.replenishLocked(classIdx)
	}
	s := p.free
	p.free = s.poolNext
	s.poolNext = nil
	s.Length = 0
	p.totalReused++
	return s
}

func (p *sizeClassPool) put(s *StringValue) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range s.Chars {
		s.Chars[i] = 0
	}
	s.Length = 0
	s.poolNext = p.free
	p.free = s
}

// replenishLocked carves a new slab and links one StringValue header per
// record, each pointing at its own charCap-rune slice within the slab.
func (p *sizeClassPool) replenishLocked(classIdx int) {
	raw := p.slab.grow(p.currentChunkSize)
	headers := make([]StringValue, p.currentChunkSize)
	for i := range headers {
		start := i * p.charCap * 4
		end := start + p.charCap*4
		rec := raw[start:end]
		headers[i].class = classIdx
		headers[i].Chars = unsafe.Slice((*rune)(unsafe.Pointer(&rec[0])), p.charCap)
		headers[i].poolNext = p.free
		p.free = &headers[i]
	}
	p.totalAllocated += uint64(p.currentChunkSize)
}

// StringPool is the fast allocation path for string payloads produced by
// runtime list/string operations (split, join, map, deep-copy), distinct
// from the tracked heap's own AllocString used for standalone string
// objects (see heap.go doc comment — this split is grounded in
// original_source's Heap_allocString.cpp, which allocates strings via the
// system allocator directly and never touches a pool). spec.md §4.C.
type StringPool struct {
	classes   []int
	pools     []*sizeClassPool
	initChunk int
	growth    int
}

// NewStringPool builds one sizeClassPool per configured size class.
func NewStringPool(cfg Config) *StringPool {
	sp := &StringPool{
		classes:   append([]int(nil), cfg.StringPoolSizeClasses...),
		initChunk: cfg.StringPoolInitialChunk,
		growth:    cfg.StringPoolGrowthFactor,
	}
	sp.pools = make([]*sizeClassPool, len(sp.classes))
	for i, cap := range sp.classes {
		sp.pools[i] = newSizeClassPool(cap, sp.initChunk)
	}
	return sp
}

// classFor returns the index of the smallest size class that fits n chars,
// or -1 if n exceeds every class (the oversized bypass).
func (sp *StringPool) classFor(n int) int {
	for i, cap := range sp.classes {
		if n <= cap {
			return i
		}
	}
	return -1
}

// AllocChars returns a StringValue with capacity for at least n runes,
// uninitialized beyond Length=0. Requests larger than the biggest size
// class bypass the pools entirely and allocate directly.
func (sp *StringPool) AllocChars(n int) *StringValue {
	idx := sp.classFor(n)
	if idx < 0 {
		return &StringValue{Chars: make([]rune, n), class: -1}
	}
	return sp.pools[idx].get(idx)
}

// FreeChars returns s to its owning size class, or drops it for the GC to
// collect if it was an oversized bypass allocation.
func (sp *StringPool) FreeChars(s *StringValue) {
	if s == nil || s.class < 0 {
		return
	}
	sp.pools[s.class].put(s)
}

// WidenASCII copies an ASCII byte string into a freshly allocated
// StringValue, widening each byte to a full UTF-32 code point. The widening
// copy, widenInto, is chosen at build time: the 8-way unrolled loop in
// stringpool_simd_arm64.go on arm64, the scalar loop in stringpool_simd.go
// elsewhere.
func (sp *StringPool) WidenASCII(b []byte) *StringValue {
	s := sp.AllocChars(len(b))
	widenInto(s.Chars[:len(b)], b)
	s.Length = len(b)
	return s
}

// StringPoolStats reports per-class occupancy for diagnostics.
type StringPoolStats struct {
	CharCap        int
	TotalAllocated uint64
	TotalReused    uint64
}

func (sp *StringPool) Stats() []StringPoolStats {
	out := make([]StringPoolStats, len(sp.pools))
	for i, p := range sp.pools {
		p.mu.Lock()
		out[i] = StringPoolStats{CharCap: p.charCap, TotalAllocated: p.totalAllocated, TotalReused: p.totalReused}
		p.mu.Unlock()
	}
	return out
}
