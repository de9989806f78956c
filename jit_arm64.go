//go:build arm64

package keelc

// jitcall is implemented in jit_arm64.s.
func jitcall(initialSP, fn uintptr) (result int64, finalSP uintptr)

func runOnJITStack(initialSP uintptr, fn JITFunc) (int64, uintptr, error) {
	result, finalSP := jitcall(initialSP, uintptr(fn))
	return result, finalSP, nil
}
