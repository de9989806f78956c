package keelc

import (
	"math"
	"sync"
	"unsafe"

	"github.com/bits-and-blooms/bitset"
)

// BloomFilter is a probabilistic membership set over recently-freed payload
// and base addresses (spec.md §3, §4.A). It is advisory: check() may report
// "possibly present" for an address that was never added (a false
// positive), and callers must treat it that way (tracked heap's free()
// consults the secondary exact cache below before trusting a hit).
//
// Sizing and the adaptive reset threshold are explicit constructor
// parameters (spec.md §9 Open Question ii) rather than compile-time
// constants.
type BloomFilter struct {
	mu sync.Mutex

	bits       *bitset.BitSet
	k          int
	nbits      uint
	inserted   uint64
	resetAfter uint64

	falsePositives uint64
	trueHits       uint64

	// exactCache is the secondary small exact-set cache spec.md §9's design
	// note calls for: it lets free() distinguish a true double-free from a
	// Bloom false positive instead of blindly trusting every hit.
	exactCache    []uintptr
	exactCacheCap int
	exactCacheAt  int
}

// bloomBitsFor computes a bit-array size for n expected items at the given
// false-positive rate, using the standard m = -n*ln(p)/(ln2)^2 formula.
func bloomBitsFor(n uint64, p float64) uint {
	ln2 := math.Ln2
	m := -float64(n) * math.Log(p) / (ln2 * ln2)
	return uint(math.Ceil(m))
}

// NewBloomFilter constructs a filter with an explicit bit-array size, hash
// count, and adaptive-reset high-water mark.
func NewBloomFilter(nbits uint, k int, resetAfter uint64, exactCacheSize int) *BloomFilter {
	if nbits == 0 {
		nbits = 1
	}
	if k <= 0 {
		k = 1
	}
	if exactCacheSize <= 0 {
		exactCacheSize = 1
	}
	return &BloomFilter{
		bits:          bitset.New(nbits),
		k:             k,
		nbits:         nbits,
		resetAfter:    resetAfter,
		exactCache:    make([]uintptr, exactCacheSize),
		exactCacheCap: exactCacheSize,
	}
}

// NewBloomFilterFromConfig builds a filter sized per cfg.
func NewBloomFilterFromConfig(cfg Config) *BloomFilter {
	return NewBloomFilter(cfg.BloomBits, cfg.BloomHashes, cfg.BloomResetAfter, cfg.ExactCacheSize)
}

// positions derives k bit positions from a pointer's bits via multiplicative
// hashing with k distinct odd multipliers (spec.md §4.A).
var bloomMultipliers = []uint64{
	0x9E3779B97F4A7C15, 0xC2B2AE3D27D4EB4F, 0x165667B19E3779F9,
	0xD6E8FEB86659FD93, 0xA24BAED4963EE407, 0x9FB21C651E98DF25,
	0xFF51AFD7ED558CCD, 0xC4CEB9FE1A85EC53,
}

func (b *BloomFilter) positions(ptr unsafe.Pointer) []uint {
	x := uint64(uintptr(ptr))
	out := make([]uint, b.k)
	for i := 0; i < b.k; i++ {
		mult := bloomMultipliers[i%len(bloomMultipliers)]
		h := x * mult
		h ^= h >> 33
		out[i] = uint(h % uint64(b.nbits))
	}
	return out
}

// Add inserts ptr into the filter, resetting it first if the insertion
// count has crossed the configured high-water mark.
func (b *BloomFilter) Add(ptr unsafe.Pointer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.resetAfter > 0 && b.inserted >= b.resetAfter {
		b.resetLocked()
	}
	for _, pos := range b.positions(ptr) {
		b.bits.Set(pos)
	}
	b.inserted++

	b.exactCache[b.exactCacheAt] = uintptr(ptr)
	b.exactCacheAt = (b.exactCacheAt + 1) % b.exactCacheCap
}

// CheckResult is the advisory outcome of Check.
type CheckResult int

const (
	DefinitelyAbsent CheckResult = iota
	PossiblyPresent
)

// Check reports whether ptr is possibly present or definitely absent.
func (b *BloomFilter) Check(ptr unsafe.Pointer) CheckResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, pos := range b.positions(ptr) {
		if !b.bits.Test(pos) {
			return DefinitelyAbsent
		}
	}
	return PossiblyPresent
}

// CheckExact resolves a Bloom hit against the exact cache, classifying it as
// a true hit (ptr really was freed recently) or a false positive, and
// updates the corresponding counter. Call this only after Check has
// returned PossiblyPresent.
func (b *BloomFilter) CheckExact(ptr unsafe.Pointer) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	target := uintptr(ptr)
	for _, p := range b.exactCache {
		if p == target {
			b.trueHits++
			return true
		}
	}
	b.falsePositives++
	return false
}

// Clear empties the filter, its insertion count and the exact cache. The
// true-hit and false-positive counters reported by Stats are kept.
func (b *BloomFilter) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetLocked()
}

func (b *BloomFilter) resetLocked() {
	b.bits = bitset.New(b.nbits)
	b.inserted = 0
	b.exactCache = make([]uintptr, b.exactCacheCap)
	b.exactCacheAt = 0
}

// EstimatedFalsePositiveRate estimates the current false-positive rate for
// n inserted items using the standard (1 - e^(-kn/m))^k approximation.
func (b *BloomFilter) EstimatedFalsePositiveRate(n uint64) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.nbits == 0 {
		return 1
	}
	exp := -float64(b.k) * float64(n) / float64(b.nbits)
	return math.Pow(1-math.Exp(exp), float64(b.k))
}

// MemoryUsage returns the approximate number of bytes the bit array
// occupies.
func (b *BloomFilter) MemoryUsage() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return uint64(b.nbits+7) / 8
}

// Stats returns true/false-positive hit counters for diagnostics.
func (b *BloomFilter) Stats() (trueHits, falsePositives uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.trueHits, b.falsePositives
}
