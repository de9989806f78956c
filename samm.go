package keelc

import (
	"sync"
	"sync/atomic"
)

// OriginTag records which reclamation path a tracked allocation belongs
// to, so SAMM's cleanup worker can dispatch correctly without having to
// inspect the pointer itself (spec.md §4.E).
type OriginTag int

const (
	OriginHeap OriginTag = iota
	OriginFreelistAtom
	OriginFreelistHeader
	OriginStringPool
)

// trackedAlloc is one entry on a scope's allocation list.
type trackedAlloc struct {
	Origin  OriginTag
	Payload uintptr      // valid for OriginHeap
	Atom    *ListAtom    // valid for OriginFreelistAtom
	Header  *ListHeader  // valid for OriginFreelistHeader
	Str     *StringValue // valid for OriginStringPool
}

// Scope is one entry in a thread's scope stack (spec.md §3 "scope"). Exiting
// it reclaims every allocation still on its list; Retain moves a single
// allocation up to an enclosing scope so it survives the exit.
type Scope struct {
	parent *Scope
	mu     sync.Mutex
	allocs []trackedAlloc
}

func newScope(parent *Scope) *Scope {
	return &Scope{parent: parent}
}

func (s *Scope) push(a trackedAlloc) {
	s.mu.Lock()
	s.allocs = append(s.allocs, a)
	s.mu.Unlock()
}

// retain removes the most recently tracked allocation matching pred from s
// and returns it. Used by Retain, which pushes it onto the destination scope,
// to implement "return a value out of a block".
func (s *Scope) retain(pred func(trackedAlloc) bool) (trackedAlloc, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.allocs) - 1; i >= 0; i-- {
		if pred(s.allocs[i]) {
			a := s.allocs[i]
			s.allocs = append(s.allocs[:i], s.allocs[i+1:]...)
			return a, true
		}
	}
	return trackedAlloc{}, false
}

func (s *Scope) drain() []trackedAlloc {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.allocs
	s.allocs = nil
	return out
}

// reclaimJob is one unit of work handed to SAMM's background worker: the
// full allocation list of one exited scope.
type reclaimJob struct {
	allocs []trackedAlloc
}

// SAMM is the Scope-Aware Memory Manager (spec.md §4.E): a per-thread scope
// stack plus a background worker that reclaims exited scopes' allocations
// asynchronously, routing each by its OriginTag to the tracked heap, the
// freelist, or the string pool. The worker channel is a bounded Go channel
// rather than a condition-variable queue (spec.md §9 Design Notes): it is
// the idiomatic Go analog and backpressures naturally once full, which
// ExitScope treats as a signal to reclaim synchronously rather than an
// error.
type SAMM struct {
	mu           sync.Mutex
	scopesByGoid map[int32]*Scope

	heap       *Heap
	freelist   *Freelist
	stringPool *StringPool

	enabled    atomic.Bool
	workerOnce sync.Once

	reclaimCh chan reclaimJob
	wg        sync.WaitGroup
	closeOnce sync.Once
	done      chan struct{}
}

// NewSAMM wires a SAMM instance to its collaborators and applies
// cfg.SAMMEnabled; enabling starts the background reclamation worker.
func NewSAMM(cfg Config, heap *Heap, freelist *Freelist, stringPool *StringPool) *SAMM {
	m := &SAMM{
		scopesByGoid: make(map[int32]*Scope),
		heap:         heap,
		freelist:     freelist,
		stringPool:   stringPool,
		reclaimCh:    make(chan reclaimJob, cfg.SAMMCleanupQueueDepth),
		done:         make(chan struct{}),
	}
	m.SetEnabled(cfg.SAMMEnabled)
	return m
}

// SetEnabled toggles whether ExitScope may queue reclamation onto the
// background worker (spec.md §4.E set_enabled). Enabling starts the worker
// the first time it's ever requested; disabling stops new scope queueing —
// ExitScope falls back to reclaiming synchronously on the caller's
// goroutine — without tearing down a worker that may still be safely
// draining jobs queued before the toggle.
func (m *SAMM) SetEnabled(flag bool) {
	m.enabled.Store(flag)
	if flag {
		m.workerOnce.Do(func() { go m.worker() })
	}
}

// IsEnabled reports whether ExitScope currently queues onto the background
// worker rather than reclaiming synchronously.
func (m *SAMM) IsEnabled() bool {
	return m.enabled.Load()
}

func (m *SAMM) currentScope() *Scope {
	tid := gettid()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scopesByGoid[tid]
}

// EnterScope pushes a new scope onto the calling thread's scope stack and
// returns it.
func (m *SAMM) EnterScope() *Scope {
	tid := gettid()
	m.mu.Lock()
	defer m.mu.Unlock()
	s := newScope(m.scopesByGoid[tid])
	m.scopesByGoid[tid] = s
	return s
}

// ExitScope pops the calling thread's current scope and reclaims its
// allocations. Under memory pressure (the reclaim queue is full) it
// reclaims synchronously instead of blocking the caller indefinitely on a
// channel send.
func (m *SAMM) ExitScope() {
	tid := gettid()
	m.mu.Lock()
	s := m.scopesByGoid[tid]
	if s == nil {
		m.mu.Unlock()
		return
	}
	m.scopesByGoid[tid] = s.parent
	m.mu.Unlock()

	allocs := s.drain()
	if len(allocs) == 0 {
		return
	}

	if !m.IsEnabled() {
		m.reclaimAll(allocs)
		return
	}

	m.wg.Add(1)
	select {
	case m.reclaimCh <- reclaimJob{allocs: allocs}:
	default:
		m.wg.Done()
		m.reclaimAll(allocs)
	}
}

// Retain moves the allocation matching pred up levelsUp scopes from the
// calling thread's current scope (spec.md §4.E "retain(ptr, levels_up)"),
// so it survives that many of its enclosing scopes' exits. levelsUp must
// be at least 1; if the scope stack is shallower than levelsUp, the
// allocation lands in the outermost scope reachable instead of failing. If
// the current scope has no parent at all, Retain returns false and the
// allocation stays where it is.
func (m *SAMM) Retain(pred func(trackedAlloc) bool, levelsUp int) bool {
	if levelsUp < 1 {
		return false
	}
	s := m.currentScope()
	if s == nil || s.parent == nil {
		return false
	}
	a, ok := s.retain(pred)
	if !ok {
		return false
	}
	dest := s
	for i := 0; i < levelsUp && dest.parent != nil; i++ {
		dest = dest.parent
	}
	dest.push(a)
	return true
}

// RetainHeapPayload moves the tracked-heap allocation at payload up
// levelsUp scopes (spec.md §4.E retain(ptr, levels_up)). It is the
// exported convenience most callers outside this package reach for — e.g.
// the cgo shim, which has no access to the unexported trackedAlloc
// predicate Retain itself takes.
func (m *SAMM) RetainHeapPayload(payload uintptr, levelsUp int) bool {
	return m.Retain(func(a trackedAlloc) bool {
		return a.Origin == OriginHeap && a.Payload == payload
	}, levelsUp)
}

// Track records a tracked-heap-origin payload on the calling thread's
// current scope.
func (m *SAMM) Track(payload uintptr) {
	if s := m.currentScope(); s != nil {
		s.push(trackedAlloc{Origin: OriginHeap, Payload: payload})
	}
}

// TrackFreelistAtom records a freelist-origin atom.
func (m *SAMM) TrackFreelistAtom(a *ListAtom) {
	if s := m.currentScope(); s != nil {
		s.push(trackedAlloc{Origin: OriginFreelistAtom, Atom: a})
	}
}

// TrackFreelistHeader records a freelist-origin list header.
func (m *SAMM) TrackFreelistHeader(h *ListHeader) {
	if s := m.currentScope(); s != nil {
		s.push(trackedAlloc{Origin: OriginFreelistHeader, Header: h})
	}
}

// TrackStringPool records a string-pool-origin payload.
func (m *SAMM) TrackStringPool(s *StringValue) {
	if sc := m.currentScope(); sc != nil {
		sc.push(trackedAlloc{Origin: OriginStringPool, Str: s})
	}
}

func (m *SAMM) worker() {
	for {
		select {
		case job := <-m.reclaimCh:
			m.reclaimAll(job.allocs)
			m.wg.Done()
		case <-m.done:
			return
		}
	}
}

func (m *SAMM) reclaimAll(allocs []trackedAlloc) {
	for _, a := range allocs {
		switch a.Origin {
		case OriginHeap:
			_ = m.heap.FreeFromSAMM(a.Payload)
		case OriginFreelistAtom:
			m.freelist.Atoms.Return(a.Atom)
		case OriginFreelistHeader:
			m.freelist.Headers.Return(a.Header)
		case OriginStringPool:
			m.stringPool.FreeChars(a.Str)
		}
	}
}

// WaitForDrain blocks until every reclaim job queued so far has been
// processed by the background worker. Intended for tests and graceful
// shutdown, not the hot path.
func (m *SAMM) WaitForDrain() {
	m.wg.Wait()
}

// HandleMemoryPressure drains every cleanup job currently sitting in the
// queue synchronously, on the caller's own goroutine (spec.md §4.E
// handle_memory_pressure), instead of waiting for the background worker to
// get to them on its own schedule. It returns once the queue is empty;
// jobs queued by a concurrent ExitScope after it returns are not its
// concern.
func (m *SAMM) HandleMemoryPressure() {
	for {
		select {
		case job := <-m.reclaimCh:
			m.reclaimAll(job.allocs)
			m.wg.Done()
		default:
			return
		}
	}
}

// Shutdown stops the background worker after draining whatever is already
// queued.
func (m *SAMM) Shutdown() {
	m.WaitForDrain()
	m.closeOnce.Do(func() { close(m.done) })
}
