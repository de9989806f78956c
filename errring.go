package keelc

import (
	"sync"

	"golang.org/x/sys/unix"
)

// ErrorRecord is the POD error shape shared by the thread-local last-error
// slot and the process-wide ring (spec.md §3 "Error record"). It carries no
// pointers into Go-managed memory so the signal handler can read a copy of
// it without holding any lock (see sighandler.go).
type ErrorRecord struct {
	Code     ErrorCode
	Function [64]byte
	Message  [192]byte
}

func newErrorRecord(code ErrorCode, function, message string) ErrorRecord {
	var r ErrorRecord
	r.Code = code
	copy(r.Function[:], function)
	copy(r.Message[:], message)
	return r
}

// FunctionName returns the function name as a Go string, trimmed at the
// first NUL.
func (r ErrorRecord) FunctionName() string { return cString(r.Function[:]) }

// MessageText returns the message as a Go string, trimmed at the first NUL.
func (r ErrorRecord) MessageText() string { return cString(r.Message[:]) }

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

const errorRingSize = 16

// ErrorRing holds the thread-local last-error slot (keyed by OS thread id,
// the closest Go analog to C's thread_local for code that pins itself with
// runtime.LockOSThread — see the JIT executor, which does exactly that) plus
// a process-wide circular buffer of the most recent errors (spec.md §3, §4.L).
type ErrorRing struct {
	lastByThread sync.Map // int32(tid) -> *ErrorRecord

	mu    sync.Mutex
	ring  [errorRingSize]ErrorRecord
	index uint64
}

// NewErrorRing constructs an empty error ring.
func NewErrorRing() *ErrorRing {
	return &ErrorRing{}
}

func gettid() int32 {
	return int32(unix.Gettid())
}

// SetError records function/message under the calling thread's last-error
// slot and appends a copy to the process-wide ring (spec.md §4.L).
func (e *ErrorRing) SetError(code ErrorCode, function, message string) {
	rec := newErrorRecord(code, function, message)
	e.lastByThread.Store(gettid(), &rec)

	e.mu.Lock()
	idx := e.index % errorRingSize
	e.ring[idx] = rec
	e.index++
	e.mu.Unlock()
}

// GetLastError returns the calling thread's last-error record. If the
// thread has never called SetError, it returns a RUNTIME_OK record.
func (e *ErrorRing) GetLastError() ErrorRecord {
	if v, ok := e.lastByThread.Load(gettid()); ok {
		return *(v.(*ErrorRecord))
	}
	return ErrorRecord{Code: RuntimeOK}
}

// ClearErrors resets both the calling thread's last-error slot and the
// process-wide ring.
func (e *ErrorRing) ClearErrors() {
	e.lastByThread.Delete(gettid())
	e.mu.Lock()
	e.ring = [errorRingSize]ErrorRecord{}
	e.index = 0
	e.mu.Unlock()
}

// RecentErrors returns a snapshot of the ring's non-OK entries, oldest
// first. It takes the ring mutex briefly, which sighandler.go's
// handleFault relies on being safe: it runs on an ordinary goroutine via
// os/signal's channel delivery, not inside a true interrupted signal frame,
// so there is no risk of deadlocking against a lock the faulting
// instruction itself held.
func (e *ErrorRing) RecentErrors() []ErrorRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ErrorRecord, 0, errorRingSize)
	n := e.index
	if n > errorRingSize {
		n = errorRingSize
	}
	for i := uint64(0); i < n; i++ {
		idx := (e.index - n + i) % errorRingSize
		if e.ring[idx].Code != RuntimeOK {
			out = append(out, e.ring[idx])
		}
	}
	return out
}
