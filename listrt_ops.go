package keelc

// listrt_ops.go implements the list/string runtime operations layer
// (spec.md §4.F): append, concat, split, join, map/filter, copy, reverse,
// and literal materialization. Every STRING atom minted here comes from
// the string pool's fast path (stringpool.go), never from Heap.AllocString
// — see heap.go's doc comment for why those two paths are kept separate.

// Runtime bundles the collaborators list/string operations need: the
// freelist (atoms and headers), the string pool, and SAMM for scope
// tracking of freshly minted allocations.
type Runtime struct {
	Freelist   *Freelist
	StringPool *StringPool
	Heap       *Heap
	SAMM       *SAMM
}

// NewRuntime wires a Runtime from already-constructed collaborators.
func NewRuntime(freelist *Freelist, stringPool *StringPool, heap *Heap, samm *SAMM) *Runtime {
	return &Runtime{Freelist: freelist, StringPool: stringPool, Heap: heap, SAMM: samm}
}

// NewList allocates an empty list header, tracking it with SAMM under the
// freelist-header origin.
func (rt *Runtime) NewList() *ListHeader {
	h := rt.Freelist.Headers.Get()
	rt.SAMM.TrackFreelistHeader(h)
	return h
}

func (rt *Runtime) newAtom() *ListAtom {
	a := rt.Freelist.Atoms.Get()
	rt.SAMM.TrackFreelistAtom(a)
	return a
}

// Append adds v to the tail of h, mutating h in place.
func (rt *Runtime) Append(h *ListHeader, v *ListAtom) {
	if h.Head == nil {
		h.Head = v
		h.Tail = v
	} else {
		h.Tail.Next = v
		h.Tail = v
	}
	h.Length++
}

// AppendInt appends an AtomInt atom carrying v.
func (rt *Runtime) AppendInt(h *ListHeader, v int64) {
	a := rt.newAtom()
	a.SetIntVal(v)
	rt.Append(h, a)
}

// AppendString allocates a string from the pool, copies s into it, wraps it
// in a fresh AtomString atom, and appends it to h.
func (rt *Runtime) AppendString(h *ListHeader, s string) {
	sv := rt.StringPool.WidenASCII([]byte(s))
	rt.SAMM.TrackStringPool(sv)
	a := rt.newAtom()
	a.SetStringVal(sv)
	rt.Append(h, a)
}

// Concat splices b's atom chain onto a's tail in place, in O(1), and leaves
// b an empty shell. Neither chain is walked or cloned: a keeps its own
// atoms, and simply takes ownership of b's.
func (rt *Runtime) Concat(a, b *ListHeader) *ListHeader {
	if b.Head == nil {
		return a
	}
	if a.Head == nil {
		a.Head = b.Head
	} else {
		a.Tail.Next = b.Head
	}
	a.Tail = b.Tail
	a.Length += b.Length

	b.Head, b.Tail, b.Length = nil, nil, 0
	return a
}

// cloneAtom returns a freshly allocated atom carrying the same value as
// src. STRING payloads get their own string-pool allocation and copied
// characters rather than aliasing src's buffer, matching the "deep-copy
// non-aliasing" property list/string operations must hold.
func (rt *Runtime) cloneAtom(src *ListAtom) *ListAtom {
	dst := rt.newAtom()
	switch src.Tag {
	case AtomString:
		orig := src.StringVal()
		sv := rt.StringPool.AllocChars(orig.Length)
		copy(sv.Chars[:orig.Length], orig.Runes())
		sv.Length = orig.Length
		rt.SAMM.TrackStringPool(sv)
		dst.SetStringVal(sv)
	case AtomList:
		dst.SetListVal(rt.DeepCopy(src.ListVal()))
	default:
		dst.Tag = src.Tag
		dst.Payload = src.Payload
	}
	return dst
}

// DeepCopy returns a new list header with every atom (and nested list, and
// string payload) freshly allocated, sharing nothing with src.
func (rt *Runtime) DeepCopy(src *ListHeader) *ListHeader {
	dst := rt.NewList()
	dst.ContainsLiterals = src.ContainsLiterals
	for cur := src.Head; cur != nil; cur = cur.Next {
		rt.Append(dst, rt.cloneAtom(cur))
	}
	return dst
}

// Reverse returns a new list with src's atoms in reverse order. Atoms are
// cloned, not aliased, for the same non-aliasing reason as DeepCopy.
func (rt *Runtime) Reverse(src *ListHeader) *ListHeader {
	dst := rt.NewList()
	dst.ContainsLiterals = src.ContainsLiterals
	var chain []*ListAtom
	for cur := src.Head; cur != nil; cur = cur.Next {
		chain = append(chain, cur)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		rt.Append(dst, rt.cloneAtom(chain[i]))
	}
	return dst
}

// Join concatenates every STRING atom in h with sep between them into one
// new string-pool-backed StringValue. Non-string atoms are skipped.
func (rt *Runtime) Join(h *ListHeader, sep string) *StringValue {
	var runes []rune
	first := true
	sepRunes := []rune(sep)
	for cur := h.Head; cur != nil; cur = cur.Next {
		if cur.Tag != AtomString {
			continue
		}
		if !first {
			runes = append(runes, sepRunes...)
		}
		first = false
		runes = append(runes, cur.StringVal().Runes()...)
	}
	sv := rt.StringPool.AllocChars(len(runes))
	copy(sv.Chars, runes)
	sv.Length = len(runes)
	rt.SAMM.TrackStringPool(sv)
	return sv
}

// Split breaks s on every occurrence of sep into a new list of STRING
// atoms. An empty sep splits into one atom per rune.
func (rt *Runtime) Split(s *StringValue, sep string) *ListHeader {
	out := rt.NewList()
	sepRunes := []rune(sep)
	runes := s.Runes()

	if len(sepRunes) == 0 {
		for _, r := range runes {
			rt.appendRunes(out, []rune{r})
		}
		return out
	}

	start := 0
	for i := 0; i+len(sepRunes) <= len(runes); i++ {
		if runesEqual(runes[i:i+len(sepRunes)], sepRunes) {
			rt.appendRunes(out, runes[start:i])
			i += len(sepRunes) - 1
			start = i + 1
		}
	}
	rt.appendRunes(out, runes[start:])
	return out
}

func runesEqual(a, b []rune) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (rt *Runtime) appendRunes(h *ListHeader, runes []rune) {
	sv := rt.StringPool.AllocChars(len(runes))
	copy(sv.Chars, runes)
	sv.Length = len(runes)
	rt.SAMM.TrackStringPool(sv)
	a := rt.newAtom()
	a.SetStringVal(sv)
	rt.Append(h, a)
}

// Map applies f to every atom in src and collects the results into a new
// list.
func (rt *Runtime) Map(src *ListHeader, f func(*ListAtom) *ListAtom) *ListHeader {
	dst := rt.NewList()
	for cur := src.Head; cur != nil; cur = cur.Next {
		rt.Append(dst, f(cur))
	}
	return dst
}

// Filter collects atoms from src for which pred returns true into a new
// list. Kept atoms are cloned, not aliased.
func (rt *Runtime) Filter(src *ListHeader, pred func(*ListAtom) bool) *ListHeader {
	dst := rt.NewList()
	for cur := src.Head; cur != nil; cur = cur.Next {
		if pred(cur) {
			rt.Append(dst, rt.cloneAtom(cur))
		}
	}
	return dst
}

// FreeList releases every atom reachable from h's head chain back to the
// freelist, recursing into nested lists and returning string payloads to
// the string pool, then returns h itself to the header freelist. Use this
// for an explicit, synchronous free; SAMM-tracked allocations are instead
// reclaimed by the background worker when their owning scope exits.
func (rt *Runtime) FreeList(h *ListHeader) {
	for cur := h.Head; cur != nil; {
		next := cur.Next
		switch cur.Tag {
		case AtomString:
			rt.StringPool.FreeChars(cur.StringVal())
		case AtomList:
			rt.FreeList(cur.ListVal())
		}
		rt.Freelist.Atoms.Return(cur)
		cur = next
	}
	h.Head, h.Tail, h.Length = nil, nil, 0
	rt.Freelist.Headers.Return(h)
}

// ClassifyListLiteral reports whether every atom of h is a compile-time
// literal value (INT, FLOAT, or STRING). It inspects the atoms only; it
// neither reads nor sets h.ContainsLiterals.
func ClassifyListLiteral(h *ListHeader) bool {
	for cur := h.Head; cur != nil; cur = cur.Next {
		switch cur.Tag {
		case AtomInt, AtomFloat, AtomString:
			continue
		default:
			return false
		}
	}
	return true
}
