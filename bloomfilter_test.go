package keelc

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestBloomFilterCatchesKnownMember(t *testing.T) {
	bf := NewBloomFilter(bloomBitsFor(1000, 0.01), 5, 10_000, 64)
	var x int
	ptr := unsafe.Pointer(&x)

	require.Equal(t, DefinitelyAbsent, bf.Check(ptr))
	bf.Add(ptr)
	require.Equal(t, PossiblyPresent, bf.Check(ptr))
}

func TestBloomFilterExactCacheDistinguishesTrueHitFromFalsePositive(t *testing.T) {
	bf := NewBloomFilter(bloomBitsFor(1000, 0.01), 5, 10_000, 4)
	var a, b int
	ptrA := unsafe.Pointer(&a)
	ptrB := unsafe.Pointer(&b)

	bf.Add(ptrA)
	require.Equal(t, PossiblyPresent, bf.Check(ptrA))
	require.True(t, bf.CheckExact(ptrA))

	// ptrB was never added; even if it happens to collide in the bit array
	// (forcing PossiblyPresent), the exact cache must say it is not a real
	// hit.
	if bf.Check(ptrB) == PossiblyPresent {
		require.False(t, bf.CheckExact(ptrB))
	}
}

func TestBloomFilterResetsAfterHighWaterMark(t *testing.T) {
	bf := NewBloomFilter(bloomBitsFor(100, 0.01), 3, 4, 8)
	ptrs := make([]unsafe.Pointer, 8)
	for i := range ptrs {
		v := new(int)
		ptrs[i] = unsafe.Pointer(v)
		bf.Add(ptrs[i])
	}
	require.LessOrEqual(t, bf.inserted, uint64(4))
}
