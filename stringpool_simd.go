//go:build !arm64

package keelc

// widenInto is the portable scalar byte-to-rune widening copy used on
// architectures without a vectorized variant.
func widenInto(dst []rune, src []byte) {
	for i, c := range src {
		dst[i] = rune(c)
	}
}
