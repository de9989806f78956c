package keelc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestRuntime() *Runtime {
	cfg := DefaultConfig()
	bloom := NewBloomFilterFromConfig(cfg)
	shadow := NewHeapShadow(cfg.HeapShadowTableSize)
	freelist := NewFreelist(cfg)
	heap := NewHeap(bloom, shadow, freelist)
	sp := NewStringPool(cfg)
	samm := NewSAMM(cfg, heap, freelist, sp)
	return NewRuntime(freelist, sp, heap, samm)
}

func TestSplitJoinRoundTrip(t *testing.T) {
	rt := newTestRuntime()
	sv := rt.StringPool.WidenASCII([]byte("one,two,three"))

	parts := rt.Split(sv, ",")
	require.Equal(t, 3, parts.Length)

	joined := rt.Join(parts, ",")
	require.Equal(t, "one,two,three", string(joined.Runes()))
}

func TestSplitOnEmptySeparatorSplitsPerRune(t *testing.T) {
	rt := newTestRuntime()
	sv := rt.StringPool.WidenASCII([]byte("abc"))

	parts := rt.Split(sv, "")
	require.Equal(t, 3, parts.Length)
}

func TestDeepCopyDoesNotAliasSourceStrings(t *testing.T) {
	rt := newTestRuntime()
	list := rt.NewList()
	rt.AppendString(list, "hello")

	clone := rt.DeepCopy(list)

	origStr := list.Head.StringVal()
	cloneStr := clone.Head.StringVal()
	require.NotSame(t, origStr, cloneStr, "deep copy must allocate its own StringValue")

	cloneStr.Chars[0] = 'X'
	require.NotEqual(t, string(origStr.Runes()), string(cloneStr.Runes()), "mutating the clone must not affect the original")
}

func TestDeepCopyRecursesIntoNestedLists(t *testing.T) {
	rt := newTestRuntime()
	inner := rt.NewList()
	rt.AppendInt(inner, 7)

	outer := rt.NewList()
	a := rt.newAtom()
	a.SetListVal(inner)
	rt.Append(outer, a)

	clone := rt.DeepCopy(outer)
	cloneInner := clone.Head.ListVal()
	require.NotSame(t, inner, cloneInner)
	require.Equal(t, int64(7), cloneInner.Head.IntVal())
}

func TestConcatSplicesBOntoADestructively(t *testing.T) {
	rt := newTestRuntime()
	a := rt.NewList()
	rt.AppendInt(a, 1)
	b := rt.NewList()
	rt.AppendInt(b, 2)

	got := rt.Concat(a, b)
	require.Same(t, a, got, "Concat returns its first argument, mutated in place")
	require.Equal(t, 2, a.Length, "a must absorb b's atoms")
	require.Equal(t, 0, b.Length, "b must be left an empty shell, not cloned from")
	require.Nil(t, b.Head)

	got2 := []int64{}
	for cur := a.Head; cur != nil; cur = cur.Next {
		got2 = append(got2, cur.IntVal())
	}
	require.Equal(t, []int64{1, 2}, got2)
}

func TestConcatOfEmptyBReturnsAUnchanged(t *testing.T) {
	rt := newTestRuntime()
	a := rt.NewList()
	rt.AppendInt(a, 1)
	b := rt.NewList()

	rt.Concat(a, b)
	require.Equal(t, 1, a.Length)
}

func TestConcatOntoEmptyAAdoptsBsChain(t *testing.T) {
	rt := newTestRuntime()
	a := rt.NewList()
	b := rt.NewList()
	rt.AppendInt(b, 9)

	rt.Concat(a, b)
	require.Equal(t, 1, a.Length)
	require.Equal(t, int64(9), a.Head.IntVal())
	require.Equal(t, 0, b.Length)
}

func TestReverse(t *testing.T) {
	rt := newTestRuntime()
	list := rt.NewList()
	rt.AppendInt(list, 1)
	rt.AppendInt(list, 2)
	rt.AppendInt(list, 3)

	rev := rt.Reverse(list)
	got := []int64{}
	for cur := rev.Head; cur != nil; cur = cur.Next {
		got = append(got, cur.IntVal())
	}
	require.Equal(t, []int64{3, 2, 1}, got)
}

func TestClassifyListLiteral(t *testing.T) {
	rt := newTestRuntime()
	lits := rt.NewList()
	rt.AppendInt(lits, 1)
	rt.AppendString(lits, "x")
	require.True(t, ClassifyListLiteral(lits))

	mixed := rt.NewList()
	a := rt.newAtom()
	a.SetObjectVal(0x1000)
	rt.Append(mixed, a)
	require.False(t, ClassifyListLiteral(mixed))
}

func TestFreeListReturnsAtomsAndStringsToPools(t *testing.T) {
	rt := newTestRuntime()
	list := rt.NewList()
	rt.AppendString(list, "abc")
	rt.AppendInt(list, 5)

	lastReturned := list.Tail
	rt.FreeList(list)
	reused := rt.Freelist.Atoms.Get()

	require.Same(t, lastReturned, reused, "the freed atoms must be back on the free chain, the last one returned at its head")
}
