package keelc

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
)

func newTestHeap() *Heap {
	cfg := DefaultConfig()
	bloom := NewBloomFilterFromConfig(cfg)
	shadow := NewHeapShadow(cfg.HeapShadowTableSize)
	freelist := NewFreelist(cfg)
	return NewHeap(bloom, shadow, freelist)
}

func TestHeapAllocVecRoundTrip(t *testing.T) {
	h := newTestHeap()
	payload, vec := h.AllocVec(4)
	require.Len(t, vec, 4)
	vec[0] = 99
	require.NoError(t, h.Free(payload))
}

func TestHeapDoubleFreeIsDetectedExactlyOnce(t *testing.T) {
	h := newTestHeap()
	payload, _ := h.AllocVec(2)

	require.NoError(t, h.Free(payload))

	err := h.Free(payload)
	require.Error(t, err, "freeing an already-freed payload must be rejected")
	require.Equal(t, uint64(1), h.doubleFrees)

	// A third free attempt against the same stale payload must also be
	// caught — the bloom-add in the first Free makes it sticky, not a
	// one-shot guard.
	err = h.Free(payload)
	require.Error(t, err)
	require.Equal(t, uint64(2), h.doubleFrees)
}

func TestHeapFreeOfUnknownPointerIsAnError(t *testing.T) {
	h := newTestHeap()
	require.Error(t, h.Free(0xdeadbeef))
}

func TestHeapListFreeReturnsHeaderToFreelist(t *testing.T) {
	h := newTestHeap()
	payload, hdr := h.AllocList()
	require.NotNil(t, hdr)
	require.NoError(t, h.Free(payload))

	h2, hdr2 := h.AllocList()
	require.Equal(t, payload, h2, "the freelist should hand back the exact header it just received")
	require.Equal(t, 0, hdr2.Length)
}

func TestDumpHeapOrdersByBaseAddressRegardlessOfAllocationOrder(t *testing.T) {
	h := newTestHeap()
	_, _ = h.AllocVec(1)
	_, _ = h.AllocVec(1)
	_, _ = h.AllocVec(1)

	first := h.DumpHeap()
	second := h.DumpHeap()

	// keepAlive holds the live []byte backing buffer for vec blocks, which
	// go-cmp can't compare by value without exporting internals it doesn't
	// need to see here; only the addressing/classification fields matter.
	opt := cmpopts.IgnoreFields(HeapBlock{}, "keepAlive")
	if diff := cmp.Diff(first, second, opt); diff != "" {
		t.Fatalf("DumpHeap order changed between calls with no intervening mutation:\n%s", diff)
	}
	for i := 1; i < len(first); i++ {
		require.Less(t, first[i-1].Base, first[i].Base)
	}
}

func TestHeapMetricsTrackLiveBlocks(t *testing.T) {
	h := newTestHeap()
	p1, _ := h.AllocVec(1)
	_, _ = h.AllocVec(1)
	require.Equal(t, 2, h.Metrics().LiveBlocks)

	require.NoError(t, h.Free(p1))
	require.Equal(t, 1, h.Metrics().LiveBlocks)
}
