package keelc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStringPoolAllocCharsPicksSmallestFittingClass(t *testing.T) {
	sp := NewStringPool(DefaultConfig())
	s := sp.AllocChars(10)
	require.Equal(t, 16, len(s.Chars), "10 chars should round up to the 16-char size class")
}

func TestStringPoolOversizedBypassesPools(t *testing.T) {
	sp := NewStringPool(DefaultConfig())
	s := sp.AllocChars(5000)
	require.Equal(t, -1, s.class)
	require.Equal(t, 5000, len(s.Chars))
	sp.FreeChars(s) // must not panic; oversized strings are just dropped
}

func TestStringPoolFreeCharsReusesBuffer(t *testing.T) {
	sp := NewStringPool(DefaultConfig())
	s := sp.AllocChars(4)
	copy(s.Chars, []rune("abcd"))
	s.Length = 4
	sp.FreeChars(s)

	s2 := sp.AllocChars(4)
	require.Equal(t, 0, s2.Length, "a freed StringValue must come back zeroed")
}

func TestWidenASCIIProducesCorrectRunes(t *testing.T) {
	sp := NewStringPool(DefaultConfig())
	s := sp.WidenASCII([]byte("hi"))
	require.Equal(t, []rune("hi"), s.Runes())
}
