package keelc

import (
	"runtime"
	"sync/atomic"
	"unsafe"

	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// JITFunc is the entry point of emitted machine code: takes no arguments,
// returns an int64 result word (spec.md §4.K). Arguments are passed via
// whatever registers the emitted code itself was compiled to expect,
// outside this module's scope.
type JITFunc uintptr

// Executor runs emitted AArch64 code on its own private stack, switching
// the live host stack pointer out and back in around the call (spec.md
// §4.K), grounded in original_source/JITExecutor.cpp's execute(). jitcall
// (jit_arm64.s) is the Go-asm realization of that inline-asm block.
type Executor struct {
	mapping    mmap.MMap
	guardBytes int
	stackBase  uintptr
	stackSize  int
	debugMode  bool
	errorRing  *ErrorRing

	// lastEntrySP records the stack pointer Execute handed to jitcall for
	// its most recent call, the closest approximation of "the fault sp"
	// available to the signal handler (sighandler.go): os/signal's channel
	// delivery carries no ucontext, so the handler cannot read the actual
	// faulting sp directly.
	lastEntrySP atomic.Uintptr
}

const jitPageSize = 4096

// NewExecutor allocates a private JIT stack of the configured size via an
// anonymous mmap, with cfg.JITGuardPages unmapped (PROT_NONE) pages appended
// below the stack: since the stack grows down, a guard there turns a stack
// overflow into a SIGSEGV at the first word past the bottom instead of
// silent corruption of whatever mapping happened to sit below it. Grounded
// in JITExecutor's constructor.
func NewExecutor(cfg Config, errorRing *ErrorRing) (*Executor, error) {
	size := cfg.JITStackSize
	guardBytes := cfg.JITGuardPages * jitPageSize

	m, err := mmap.MapRegion(nil, guardBytes+size, mmap.RDWR, mmap.ANON, 0)
	if err != nil {
		return nil, errors.Wrap(err, "allocating JIT stack")
	}
	if guardBytes > 0 {
		if err := unix.Mprotect(m[:guardBytes], unix.PROT_NONE); err != nil {
			_ = m.Unmap()
			return nil, errors.Wrap(err, "protecting JIT stack guard page")
		}
	}
	return &Executor{
		mapping:    m,
		guardBytes: guardBytes,
		stackBase:  uintptr(unsafe.Pointer(&m[guardBytes])),
		stackSize:  size,
		errorRing:  errorRing,
	}, nil
}

// SetDebugMode toggles post-execution stack dumping.
func (e *Executor) SetDebugMode(v bool) { e.debugMode = v }

// Close releases the private JIT stack's backing mapping, guard page
// included.
func (e *Executor) Close() error {
	return e.mapping.Unmap()
}

// Execute calls into emitted code on the private JIT stack and returns its
// int64 result. The calling goroutine is locked to its OS thread for the
// duration: switching sp out from under a goroutine that the Go scheduler
// might reschedule onto a different thread would corrupt the host stack
// pointer jitcall saves in x19.
func (e *Executor) Execute(fn JITFunc) (int64, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	initialSP := (e.stackBase + uintptr(e.stackSize)) &^ 0xF
	e.lastEntrySP.Store(initialSP)
	result, finalSP, err := runOnJITStack(initialSP, fn)
	if err != nil {
		return 0, err
	}

	if e.debugMode {
		e.dumpStack(finalSP)
	}
	return result, nil
}

// LastEntrySP returns the sp Execute most recently handed to jitcall, the
// approximation of "the fault sp" sighandler.go's dump_stack_from_signal
// reads (see lastEntrySP's doc comment).
func (e *Executor) LastEntrySP() uintptr { return e.lastEntrySP.Load() }

// StackRange returns the JIT stack's [base, top) bounds.
func (e *Executor) StackRange() (base, top uintptr) {
	return e.stackBase, e.stackBase + uintptr(e.stackSize)
}

// dumpStack prints the JIT stack's contents from finalSP upward, the
// non-signal-safe debug path (spec.md §4.K), grounded in
// JITExecutor::dump_jit_stack.
func (e *Executor) dumpStack(finalSP uintptr) {
	top := e.stackBase + uintptr(e.stackSize)
	Log.Debugf("jit: final sp=%#x base=%#x top=%#x", finalSP, e.stackBase, top)
	if finalSP < e.stackBase || finalSP >= top {
		Log.Warnf("jit: final sp %#x outside stack range [%#x, %#x)", finalSP, e.stackBase, top)
		return
	}
	const wordsToDump = 64
	p := finalSP
	for i := 0; i < wordsToDump && p < top; i++ {
		word := *(*uint64)(unsafe.Pointer(p))
		Log.Debugf("  %#016x: %#016x", p, word)
		p += 8
	}
}
