// Package main builds libkeelheap, a C-archive exposing the tracked
// heap, SAMM, and JIT executor to emitted AArch64 code through a flat
// extern-C surface (spec.md §4.N). This is the HeapManager C shim
// collaborator; it is not a CLI (argument handling is explicitly out of
// scope per spec.md §1) — there is no main() logic beyond satisfying
// "package main" cgo's c-archive build mode requires.
package main

import "C"

import (
	"sync/atomic"

	"github.com/keel-lang/keelc"
)

// runtimePtr is the single process-wide runtime instance every exported
// function dispatches through. An atomic.Pointer replaces the original's
// Runtime singleton (spec.md §9 Design Notes): initialization is
// explicit via keel_runtime_init rather than implicit first-use, and
// every access is a lock-free load.
var runtimePtr atomic.Pointer[runtimeBundle]

type runtimeBundle struct {
	rt       *keelc.Runtime
	heap     *keelc.Heap
	samm     *keelc.SAMM
	errRing  *keelc.ErrorRing
	executor *keelc.Executor
	sigh     *keelc.SignalHandler
}

//export keel_runtime_init
func keel_runtime_init() C.int {
	cfg := keelc.DefaultConfig()
	bloom := keelc.NewBloomFilterFromConfig(cfg)
	shadow := keelc.NewHeapShadow(cfg.HeapShadowTableSize)
	freelist := keelc.NewFreelist(cfg)
	heap := keelc.NewHeap(bloom, shadow, freelist)
	stringPool := keelc.NewStringPool(cfg)
	samm := keelc.NewSAMM(cfg, heap, freelist, stringPool)
	rt := keelc.NewRuntime(freelist, stringPool, heap, samm)
	errRing := keelc.NewErrorRing()

	executor, err := keelc.NewExecutor(cfg, errRing)
	if err != nil {
		errRing.SetError(keelc.ErrorOutOfMemory, "keel_runtime_init", err.Error())
		return -1
	}

	sigh := keelc.NewSignalHandler(errRing, shadow, executor)
	sigh.Install()

	runtimePtr.Store(&runtimeBundle{rt: rt, heap: heap, samm: samm, errRing: errRing, executor: executor, sigh: sigh})
	return 0
}

//export keel_runtime_shutdown
func keel_runtime_shutdown() {
	b := runtimePtr.Load()
	if b == nil {
		return
	}
	b.samm.Shutdown()
	b.sigh.Uninstall()
	_ = b.executor.Close()
	runtimePtr.Store(nil)
}

func current() *runtimeBundle {
	return runtimePtr.Load()
}

//export keel_heap_alloc_vec
func keel_heap_alloc_vec(n C.longlong) C.uintptr_t {
	b := current()
	if b == nil {
		return 0
	}
	payload, _ := b.heap.AllocVec(int(n))
	return C.uintptr_t(payload)
}

//export keel_heap_alloc_string
func keel_heap_alloc_string(numChars C.longlong) C.uintptr_t {
	b := current()
	if b == nil {
		return 0
	}
	payload, _ := b.heap.AllocString(int(numChars))
	return C.uintptr_t(payload)
}

//export keel_heap_alloc_object
func keel_heap_alloc_object(size C.longlong) C.uintptr_t {
	b := current()
	if b == nil {
		return 0
	}
	return C.uintptr_t(b.heap.AllocObject(int(size)))
}

//export keel_heap_alloc_list
func keel_heap_alloc_list() C.uintptr_t {
	b := current()
	if b == nil {
		return 0
	}
	payload, _ := b.heap.AllocList()
	return C.uintptr_t(payload)
}

//export keel_heap_free
func keel_heap_free(payload C.uintptr_t) C.int {
	b := current()
	if b == nil {
		return -1
	}
	if err := b.heap.Free(uintptr(payload)); err != nil {
		b.errRing.SetError(keelc.ErrorDoubleFree, "keel_heap_free", err.Error())
		return -1
	}
	return 0
}

//export keel_heap_resize_vec
func keel_heap_resize_vec(payload C.uintptr_t, newN C.longlong) C.uintptr_t {
	b := current()
	if b == nil {
		return 0
	}
	newPayload, _, err := b.heap.ResizeVec(uintptr(payload), int(newN))
	if err != nil {
		b.errRing.SetError(keelc.ErrorInvalidArgument, "keel_heap_resize_vec", err.Error())
		return 0
	}
	return C.uintptr_t(newPayload)
}

//export keel_heap_resize_string
func keel_heap_resize_string(payload C.uintptr_t, newNumChars C.longlong) C.uintptr_t {
	b := current()
	if b == nil {
		return 0
	}
	newPayload, _, err := b.heap.ResizeString(uintptr(payload), int(newNumChars))
	if err != nil {
		b.errRing.SetError(keelc.ErrorInvalidArgument, "keel_heap_resize_string", err.Error())
		return 0
	}
	return C.uintptr_t(newPayload)
}

//export keel_retain_pointer
func keel_retain_pointer(payload C.uintptr_t, levelsUp C.int) C.int {
	b := current()
	if b == nil {
		return -1
	}
	if !b.samm.RetainHeapPayload(uintptr(payload), int(levelsUp)) {
		return -1
	}
	return 0
}

//export keel_heap_alloc_vec_retained
func keel_heap_alloc_vec_retained(n C.longlong, levelsUp C.int) C.uintptr_t {
	b := current()
	if b == nil {
		return 0
	}
	payload, _ := b.heap.AllocVec(int(n))
	b.samm.Track(payload)
	b.samm.RetainHeapPayload(payload, int(levelsUp))
	return C.uintptr_t(payload)
}

//export keel_heap_alloc_string_retained
func keel_heap_alloc_string_retained(numChars C.longlong, levelsUp C.int) C.uintptr_t {
	b := current()
	if b == nil {
		return 0
	}
	payload, _ := b.heap.AllocString(int(numChars))
	b.samm.Track(payload)
	b.samm.RetainHeapPayload(payload, int(levelsUp))
	return C.uintptr_t(payload)
}

//export keel_heap_alloc_object_retained
func keel_heap_alloc_object_retained(size C.longlong, levelsUp C.int) C.uintptr_t {
	b := current()
	if b == nil {
		return 0
	}
	payload := b.heap.AllocObject(int(size))
	b.samm.Track(payload)
	b.samm.RetainHeapPayload(payload, int(levelsUp))
	return C.uintptr_t(payload)
}

//export keel_heap_alloc_list_retained
func keel_heap_alloc_list_retained(levelsUp C.int) C.uintptr_t {
	b := current()
	if b == nil {
		return 0
	}
	payload, _ := b.heap.AllocList()
	b.samm.Track(payload)
	b.samm.RetainHeapPayload(payload, int(levelsUp))
	return C.uintptr_t(payload)
}

//export keel_heap_metrics_live_blocks
func keel_heap_metrics_live_blocks() C.longlong {
	b := current()
	if b == nil {
		return 0
	}
	return C.longlong(b.heap.Metrics().LiveBlocks)
}

//export keel_samm_enter_scope
func keel_samm_enter_scope() {
	if b := current(); b != nil {
		b.samm.EnterScope()
	}
}

//export keel_samm_exit_scope
func keel_samm_exit_scope() {
	if b := current(); b != nil {
		b.samm.ExitScope()
	}
}

//export keel_samm_wait_for_drain
func keel_samm_wait_for_drain() {
	if b := current(); b != nil {
		b.samm.WaitForDrain()
	}
}

//export keel_samm_set_enabled
func keel_samm_set_enabled(flag C.int) {
	if b := current(); b != nil {
		b.samm.SetEnabled(flag != 0)
	}
}

//export keel_samm_is_enabled
func keel_samm_is_enabled() C.int {
	b := current()
	if b == nil {
		return 0
	}
	if b.samm.IsEnabled() {
		return 1
	}
	return 0
}

//export keel_samm_handle_memory_pressure
func keel_samm_handle_memory_pressure() {
	if b := current(); b != nil {
		b.samm.HandleMemoryPressure()
	}
}

//export keel_jit_execute
func keel_jit_execute(fn C.uintptr_t) C.longlong {
	b := current()
	if b == nil {
		return 0
	}
	result, err := b.executor.Execute(keelc.JITFunc(uintptr(fn)))
	if err != nil {
		b.errRing.SetError(keelc.ErrorInvalidArgument, "keel_jit_execute", err.Error())
		return 0
	}
	return C.longlong(result)
}

//export keel_last_error_code
func keel_last_error_code() C.int {
	b := current()
	if b == nil {
		return C.int(keelc.RuntimeOK)
	}
	return C.int(b.errRing.GetLastError().Code)
}

//export keel_clear_errors
func keel_clear_errors() {
	if b := current(); b != nil {
		b.errRing.ClearErrors()
	}
}

func main() {} // required by cgo's c-archive build mode, never actually invoked
