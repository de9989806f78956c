package keelc

import (
	"sync"
	"time"
)

// FreelistStats mirrors the metadata spec.md §3 "Freelist state" calls for:
// totals, current chunk size, last replenish time, and a scaling event
// counter, duplicated per pool (atoms, headers).
type FreelistStats struct {
	TotalAllocated   uint64
	TotalReused      uint64
	CurrentChunkSize int
	LastReplenishAt  time.Time
	ScalingEvents    uint64
}

// atomFreelistPool is the freelist allocator's atom pool (spec.md §4.B). It
// is a leaf mutex per spec.md §5: never acquire any other lock while
// holding mu.
type atomFreelistPool struct {
	mu sync.Mutex

	free *ListAtom

	currentChunkSize int
	maxChunkSize     int
	growthFactor     int
	growthWindow     time.Duration
	lastReplenish    time.Time

	stats FreelistStats
}

func newAtomFreelistPool(cfg Config) *atomFreelistPool {
	return &atomFreelistPool{
		currentChunkSize: cfg.FreelistInitialChunk,
		maxChunkSize:     cfg.FreelistMaxChunk,
		growthFactor:     cfg.FreelistGrowthFactor,
		growthWindow:     time.Duration(cfg.FreelistGrowthWindow),
	}
}

// Get returns one atom record, replenishing from the system if the pool is
// empty. O(1) amortized.
func (p *atomFreelistPool) Get() *ListAtom {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.free == nil {
		p.replenishLocked()
	}
	a := p.free
	p.free = a.Next
	a.Next = nil
	p.stats.TotalReused++
	return a
}

// Return prepends a to the free chain. The caller must not touch a again.
func (p *atomFreelistPool) Return(a *ListAtom) {
	if a == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	*a = ListAtom{} // drop any payload/pointer so a freed atom can't leak a stale reference
	a.Next = p.free
	p.free = a
}

// replenishLocked allocates a fresh chunk of atoms and links them into the
// free chain, growing the chunk size by growthFactor (capped at
// maxChunkSize) if two replenishments happen within growthWindow.
func (p *atomFreelistPool) replenishLocked() {
	now := time.Now()
	if !p.lastReplenish.IsZero() && now.Sub(p.lastReplenish) < p.growthWindow {
		if next := p.currentChunkSize * p.growthFactor; next <= p.maxChunkSize {
			p.currentChunkSize = next
			p.stats.ScalingEvents++
		} else if p.currentChunkSize != p.maxChunkSize {
			p.currentChunkSize = p.maxChunkSize
			p.stats.ScalingEvents++
		}
	}
	p.lastReplenish = now

	chunk := make([]ListAtom, p.currentChunkSize)
	for i := range chunk {
		chunk[i].Next = p.free
		p.free = &chunk[i]
	}
	p.stats.TotalAllocated += uint64(p.currentChunkSize)
	p.stats.CurrentChunkSize = p.currentChunkSize
	p.stats.LastReplenishAt = now
}

// Stats returns a snapshot of the pool's bookkeeping.
func (p *atomFreelistPool) Stats() FreelistStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// headerFreelistPool is the freelist allocator's list-header pool.
type headerFreelistPool struct {
	mu sync.Mutex

	free *ListHeader

	currentChunkSize int
	maxChunkSize     int
	growthFactor     int
	growthWindow     time.Duration
	lastReplenish    time.Time

	stats FreelistStats
}

func newHeaderFreelistPool(cfg Config) *headerFreelistPool {
	return &headerFreelistPool{
		currentChunkSize: cfg.FreelistInitialChunk,
		maxChunkSize:     cfg.FreelistMaxChunk,
		growthFactor:     cfg.FreelistGrowthFactor,
		growthWindow:     time.Duration(cfg.FreelistGrowthWindow),
	}
}

func (p *headerFreelistPool) Get() *ListHeader {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.free == nil {
		p.replenishLocked()
	}
	h := p.free
	p.free = h.freeNext
	h.freeNext = nil
	p.stats.TotalReused++
	return h
}

func (p *headerFreelistPool) Return(h *ListHeader) {
	if h == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	*h = ListHeader{}
	h.freeNext = p.free
	p.free = h
}

func (p *headerFreelistPool) replenishLocked() {
	now := time.Now()
	if !p.lastReplenish.IsZero() && now.Sub(p.lastReplenish) < p.growthWindow {
		if next := p.currentChunkSize * p.growthFactor; next <= p.maxChunkSize {
			p.currentChunkSize = next
			p.stats.ScalingEvents++
		} else if p.currentChunkSize != p.maxChunkSize {
			p.currentChunkSize = p.maxChunkSize
			p.stats.ScalingEvents++
		}
	}
	p.lastReplenish = now

	chunk := make([]ListHeader, p.currentChunkSize)
	for i := range chunk {
		chunk[i].freeNext = p.free
		p.free = &chunk[i]
	}
	p.stats.TotalAllocated += uint64(p.currentChunkSize)
	p.stats.CurrentChunkSize = p.currentChunkSize
	p.stats.LastReplenishAt = now
}

func (p *headerFreelistPool) Stats() FreelistStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Freelist bundles the atom and header pools, matching spec.md §3 "two
// intrusive singly-linked freelists (atoms, headers)".
type Freelist struct {
	Atoms   *atomFreelistPool
	Headers *headerFreelistPool
}

// NewFreelist constructs both pools from cfg.
func NewFreelist(cfg Config) *Freelist {
	return &Freelist{
		Atoms:   newAtomFreelistPool(cfg),
		Headers: newHeaderFreelistPool(cfg),
	}
}

// Cleanup drops every slab reference in both pools, the Go analog of the
// original's cleanup_freelists() releasing system memory at shutdown.
func (f *Freelist) Cleanup() {
	f.Atoms.mu.Lock()
	f.Atoms.free = nil
	f.Atoms.mu.Unlock()

	f.Headers.mu.Lock()
	f.Headers.free = nil
	f.Headers.mu.Unlock()
}
