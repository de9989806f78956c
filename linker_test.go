package keelc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLinkerResolvesLabelToAbsoluteAddress(t *testing.T) {
	labels := NewLabelManager()
	symbols := NewRuntimeSymbolTable(64)
	l := NewLinker(labels, symbols)

	seg := NewSegment("text")
	require.NoError(t, seg.DefineLabel("entry"))
	seg.EmitWord(0xD65F03C0) // RET, just filler
	require.NoError(t, l.AddSegment(seg))

	require.NoError(t, l.Link(0x1000))

	addr, err := labels.Lookup("entry")
	require.NoError(t, err)
	require.Equal(t, uint64(0x1000), addr)
}

func TestLinkerPatchesInRangeUnconditionalBranch(t *testing.T) {
	labels := NewLabelManager()
	symbols := NewRuntimeSymbolTable(64)
	l := NewLinker(labels, symbols)

	seg := NewSegment("text")
	seg.AddRelocation(PCRelative26BitOffset, "callee")
	seg.EmitWord(0x94000000) // BL placeholder
	require.NoError(t, seg.DefineLabel("callee"))
	for i := 0; i < 4; i++ {
		seg.EmitWord(0xD65F03C0)
	}
	require.NoError(t, l.AddSegment(seg))

	require.NoError(t, l.Link(0x2000))

	word := seg.wordAt(0)
	imm26 := int32(word&0x3FFFFFF) << 6 >> 6 // sign-extend 26-bit field
	require.Equal(t, int32(1), imm26, "callee is 4 bytes (1 instruction) after the branch")
}

func TestLinkerInsertsVeneerForOutOfRangeBranch(t *testing.T) {
	labels := NewLabelManager()
	symbols := NewRuntimeSymbolTable(64)
	l := NewLinker(labels, symbols)

	near := NewSegment("near")
	near.AddRelocation(PCRelative26BitOffset, "far")
	near.EmitWord(0x94000000)
	require.NoError(t, l.AddSegment(near))

	far := NewSegment("far")
	far.Code = make([]byte, 1<<28) // padding to force the branch out of the +/-128MB range
	require.NoError(t, far.DefineLabel("far"))
	far.EmitWord(0xD65F03C0)
	require.NoError(t, l.AddSegment(far))

	require.NoError(t, l.Link(0))

	// A veneer segment labelled __veneer_far must have been appended.
	found := false
	for _, seg := range l.segments {
		if seg.Name == veneerSegmentName("far") {
			found = true
			require.Len(t, seg.Code, veneerSize)
			require.True(t, labels.IsDefined(veneerLabel("far")))
		}
	}
	require.True(t, found, "an out-of-range branch must get a synthesized veneer")
}

func TestSegmentDefineLabelRejectsDuplicate(t *testing.T) {
	seg := NewSegment("text")
	require.NoError(t, seg.DefineLabel("loop"))
	seg.EmitWord(0xD65F03C0)
	err := seg.DefineLabel("loop")
	require.Error(t, err, "a label must not be defined twice within the same segment")
}

func TestLabelManagerDefineRejectsDuplicateAcrossSegments(t *testing.T) {
	labels := NewLabelManager()
	symbols := NewRuntimeSymbolTable(64)
	l := NewLinker(labels, symbols)

	a := NewSegment("a")
	require.NoError(t, a.DefineLabel("shared"))
	require.NoError(t, l.AddSegment(a))

	b := NewSegment("b")
	require.NoError(t, b.DefineLabel("shared"))
	err := l.AddSegment(b)
	require.Error(t, err, "two segments defining the same label must be a fatal link error")
}

func TestVeneerTableDedupsPerTarget(t *testing.T) {
	vt := NewVeneerTable()
	a1, isNew1 := vt.Resolve("far", 0xDEAD0000, 0x9000)
	require.True(t, isNew1)
	a2, isNew2 := vt.Resolve("far", 0xDEAD0000, 0x9500)
	require.False(t, isNew2, "a second relocation against the same target must reuse the existing veneer")
	require.Equal(t, a1, a2)
}

func TestRuntimeSymbolTableLookupIsCaseInsensitive(t *testing.T) {
	tbl := NewRuntimeSymbolTable(256)
	a, err := tbl.Register("RTS_ALLOC_VEC")
	require.NoError(t, err)

	off, ok := tbl.GetOffset("rts_alloc_vec")
	require.True(t, ok)
	require.Equal(t, a, off)
	require.Equal(t, 1, tbl.Len())
}

func TestRuntimeSymbolTableRegisterRejectsDuplicateAfterUpperCasing(t *testing.T) {
	tbl := NewRuntimeSymbolTable(256)
	_, err := tbl.Register("RTS_ALLOC_VEC")
	require.NoError(t, err)

	_, err = tbl.Register("rts_alloc_vec")
	require.Error(t, err, "registering the same name under a different case must still be a duplicate")
	require.Equal(t, 1, tbl.Len())
}
