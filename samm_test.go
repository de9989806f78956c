package keelc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestSAMM(t *testing.T) (*SAMM, *Heap, *Freelist, *StringPool) {
	cfg := DefaultConfig()
	cfg.SAMMCleanupQueueDepth = 16
	bloom := NewBloomFilterFromConfig(cfg)
	shadow := NewHeapShadow(cfg.HeapShadowTableSize)
	freelist := NewFreelist(cfg)
	heap := NewHeap(bloom, shadow, freelist)
	sp := NewStringPool(cfg)
	samm := NewSAMM(cfg, heap, freelist, sp)
	t.Cleanup(samm.Shutdown)
	return samm, heap, freelist, sp
}

func TestSAMMExitScopeReclaimsHeapAllocations(t *testing.T) {
	samm, heap, _, _ := newTestSAMM(t)

	samm.EnterScope()
	payload, _ := heap.AllocVec(4)
	samm.Track(payload)

	require.Equal(t, 1, heap.Metrics().LiveBlocks)

	samm.ExitScope()
	samm.WaitForDrain()

	require.Equal(t, 0, heap.Metrics().LiveBlocks, "exiting the scope must reclaim everything tracked within it")
}

func TestSAMMRetainMovesAllocationToParentScope(t *testing.T) {
	samm, heap, _, _ := newTestSAMM(t)

	samm.EnterScope() // parent
	samm.EnterScope() // child
	payload, _ := heap.AllocVec(4)
	samm.Track(payload)

	ok := samm.Retain(func(a trackedAlloc) bool { return a.Origin == OriginHeap && a.Payload == payload }, 1)
	require.True(t, ok)

	samm.ExitScope() // child exits; retained allocation must have moved to parent
	samm.WaitForDrain()
	require.Equal(t, 1, heap.Metrics().LiveBlocks, "a retained allocation must survive its original scope's exit")

	samm.ExitScope() // parent exits; now it should be reclaimed
	samm.WaitForDrain()
	require.Equal(t, 0, heap.Metrics().LiveBlocks)
}

func TestSAMMRetainTwoLevelsUpSurvivesTwoScopeExits(t *testing.T) {
	samm, heap, _, _ := newTestSAMM(t)

	samm.EnterScope() // grandparent
	samm.EnterScope() // parent
	samm.EnterScope() // child
	payload, _ := heap.AllocVec(4)
	samm.Track(payload)

	ok := samm.Retain(func(a trackedAlloc) bool { return a.Origin == OriginHeap && a.Payload == payload }, 2)
	require.True(t, ok)

	samm.ExitScope() // child exits
	samm.WaitForDrain()
	require.Equal(t, 1, heap.Metrics().LiveBlocks, "retain(levelsUp=2) must survive the immediate scope's exit")

	samm.ExitScope() // parent exits
	samm.WaitForDrain()
	require.Equal(t, 1, heap.Metrics().LiveBlocks, "retain(levelsUp=2) must also survive the parent's exit")

	samm.ExitScope() // grandparent exits
	samm.WaitForDrain()
	require.Equal(t, 0, heap.Metrics().LiveBlocks, "the allocation must finally be reclaimed once its target scope exits")
}

func TestSAMMSetEnabledFalseMakesExitScopeSynchronous(t *testing.T) {
	samm, heap, _, _ := newTestSAMM(t)
	samm.SetEnabled(false)

	samm.EnterScope()
	payload, _ := heap.AllocVec(4)
	samm.Track(payload)

	samm.ExitScope()
	require.Equal(t, 0, heap.Metrics().LiveBlocks, "with SAMM disabled, ExitScope must reclaim synchronously with no queueing")
}

func TestSAMMHandleMemoryPressureDrainsQueueOnCallerGoroutine(t *testing.T) {
	samm, heap, _, _ := newTestSAMM(t)

	samm.EnterScope()
	payload, _ := heap.AllocVec(4)
	samm.Track(payload)
	samm.ExitScope()

	samm.HandleMemoryPressure()
	require.Equal(t, 0, heap.Metrics().LiveBlocks, "HandleMemoryPressure must drain the queued job immediately")
}

func TestHeapFreeAfterSAMMReclaimIsSuppressedNotReportedAsDoubleFree(t *testing.T) {
	samm, heap, _, _ := newTestSAMM(t)

	samm.EnterScope()
	payload, _ := heap.AllocVec(4)
	samm.Track(payload)
	samm.ExitScope()
	samm.WaitForDrain()

	err := heap.Free(payload)
	require.NoError(t, err, "a redundant explicit free of a SAMM-reclaimed pointer must be suppressed, not errored")
}

func TestSAMMTrackFreelistAndStringPoolOrigins(t *testing.T) {
	samm, _, freelist, sp := newTestSAMM(t)

	samm.EnterScope()
	atom := freelist.Atoms.Get()
	samm.TrackFreelistAtom(atom)

	str := sp.AllocChars(8)
	samm.TrackStringPool(str)

	samm.ExitScope()
	samm.WaitForDrain()

	reused := freelist.Atoms.Get()
	require.Same(t, atom, reused, "the reclaimed atom must have gone back onto the free chain and be reusable")
}
