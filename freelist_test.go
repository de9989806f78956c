package keelc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFreelistReusesReturnedAtoms(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FreelistInitialChunk = 4
	fl := NewFreelist(cfg)

	a := fl.Atoms.Get()
	a.SetIntVal(42)
	fl.Atoms.Return(a)

	b := fl.Atoms.Get()
	require.Equal(t, int64(0), b.IntVal(), "a returned atom must be zeroed before reuse")
	require.Equal(t, fl.Atoms.Stats().TotalReused, uint64(2))
}

func TestFreelistChunkGrowsMonotonically(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FreelistInitialChunk = 2
	cfg.FreelistMaxChunk = 32
	cfg.FreelistGrowthFactor = 4
	cfg.FreelistGrowthWindow = int64(time.Hour)
	fl := NewFreelist(cfg)

	sizes := []int{}
	// Each round takes as many atoms as the chunk size read at its start.
	// That empties the free chain often enough that Get() keeps replenishing
	// inside the growth window, so the chunk size grows: 2, 2, 8, 32.
	for round := 0; round < 4; round++ {
		fl.Atoms.mu.Lock()
		size := fl.Atoms.currentChunkSize
		fl.Atoms.mu.Unlock()
		sizes = append(sizes, size)

		for i := 0; i < size; i++ {
			fl.Atoms.Get()
		}
	}

	for i := 1; i < len(sizes); i++ {
		require.GreaterOrEqual(t, sizes[i], sizes[i-1], "chunk size must never shrink")
	}
	require.Greater(t, sizes[len(sizes)-1], sizes[0], "chunk size must grow under sustained pressure within the growth window")
	require.LessOrEqual(t, sizes[len(sizes)-1], cfg.FreelistMaxChunk)
}

func TestFreelistHeaderPoolRoundTrip(t *testing.T) {
	fl := NewFreelist(DefaultConfig())
	h := fl.Headers.Get()
	h.Length = 3
	fl.Headers.Return(h)

	h2 := fl.Headers.Get()
	require.Equal(t, 0, h2.Length)
}
