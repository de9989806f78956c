//go:build !arm64

package keelc

import "github.com/pkg/errors"

// ErrUnsupportedArch is returned by Executor.Execute on any architecture
// other than arm64, since jitcall's stack-switch trampoline (jit_arm64.s)
// has no counterpart elsewhere — this module's JIT scope is AArch64 only
// (spec.md §1).
var ErrUnsupportedArch = errors.New("keelc: JIT execution is only supported on arm64")

func runOnJITStack(initialSP uintptr, fn JITFunc) (int64, uintptr, error) {
	return 0, 0, ErrUnsupportedArch
}
