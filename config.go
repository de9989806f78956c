package keelc

// Config collects every tunable that spec.md §9's Open Questions say should
// be an explicit construction parameter rather than a compile-time constant,
// plus the handful of other sizing knobs the rewrite calls out. A zero Config
// is invalid; use DefaultConfig() and override selectively.
type Config struct {
	// Bloom filter (spec.md §9 Open Question ii).
	BloomBits        uint   // size of the bit array
	BloomHashes      int    // k, number of hash positions per insert
	BloomResetAfter  uint64 // insertion count that triggers an adaptive reset
	ExactCacheSize   int    // size of the secondary exact-set cache consulted on Bloom hits

	// Freelist allocator (spec.md §4.B).
	FreelistInitialChunk int
	FreelistMaxChunk     int
	FreelistGrowthFactor int
	FreelistGrowthWindow int64 // nanoseconds; two replenishments within this window triggers growth

	// String pool (spec.md §4.C).
	StringPoolSizeClasses  []int
	StringPoolInitialChunk int
	StringPoolGrowthFactor int

	// Tracked heap (spec.md §4.D).
	HeapShadowTableSize int // spec.md §9 Open Question iii: documented sampling device, not an audit log

	// SAMM (spec.md §4.E).
	SAMMCleanupQueueDepth int
	SAMMEnabled           bool // set_enabled's initial value; NewSAMM starts enabled by default

	// JIT executor (spec.md §4.J).
	JITStackSize  int
	JITGuardPages int

	// Runtime symbol registry (spec.md §4.I).
	RuntimeTableSlots int
}

// DefaultConfig returns the parameter set implied by spec.md's prose where
// it does name a concrete number, and reasonable values elsewhere.
func DefaultConfig() Config {
	return Config{
		BloomBits:       bloomBitsFor(10_000_000, 0.01),
		BloomHashes:     7,
		BloomResetAfter: 5_000_000,
		ExactCacheSize:  256,

		FreelistInitialChunk: 256,
		FreelistMaxChunk:     65536,
		FreelistGrowthFactor: 4,
		FreelistGrowthWindow: int64(2e9), // 2 seconds

		StringPoolSizeClasses:  []int{8, 16, 32, 64, 128, 256, 512, 1024},
		StringPoolInitialChunk: 64,
		StringPoolGrowthFactor: 4,

		HeapShadowTableSize: 128,

		SAMMCleanupQueueDepth: 1024,
		SAMMEnabled:           true,

		JITStackSize:  8 * 1024 * 1024,
		JITGuardPages: 1,

		RuntimeTableSlots: 65536,
	}
}
